/*
enrollment.go - Enrollment charges

PURPOSE:
  Enroll creates an enrollment and its single enrollment charge, priced from
  configuration, and optionally applies an initial payment to that charge.

INVARIANT:
  At most one active (non-cancelled, non-deleted) enrollment per
  (student, workshop, cohort). Checked before insert and backed by a
  partial unique index.

CANCELLATION:
  Cancel marks the enrollment cancelled and keeps its charge and
  allocations untouched. Money already applied stays applied.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-ledger/billing"
)

// EnrollRequest describes one inscription.
type EnrollRequest struct {
	StudentID      billing.StudentID
	WorkshopID     billing.WorkshopID
	CohortID       billing.CohortID
	InitialPayment decimal.Decimal
	Method         billing.PaymentMethod
	Date           time.Time // zero means now
}

// EnrollmentService creates and cancels enrollments.
type EnrollmentService struct {
	Store    billing.TxStore
	Pricing  Pricing
	Payments *PaymentEngine
	Now      Clock
}

// Enroll persists an enrollment, its charge, and the optional initial payment
// in one transaction.
func (s *EnrollmentService) Enroll(ctx context.Context, req EnrollRequest) (*billing.Enrollment, error) {
	initial := billing.Money(req.InitialPayment)
	if initial.IsNegative() {
		return nil, billing.InvalidAmount("initial_payment", initial, "must not be negative")
	}

	price, err := s.Pricing.Price(ctx, PriceEnrollment)
	if err != nil {
		return nil, err
	}
	if initial.GreaterThan(price) {
		return nil, billing.InvalidAmount("initial_payment", initial, "exceeds enrollment price "+price.String())
	}

	at := now(s.Now)
	enrolledAt := req.Date
	if enrolledAt.IsZero() {
		enrolledAt = at
	}

	var enrollment *billing.Enrollment
	err = s.Store.WithTx(ctx, func(st billing.Store) error {
		if err := requireStudent(ctx, st, req.StudentID); err != nil {
			return err
		}
		if err := requireWorkshop(ctx, st, req.WorkshopID); err != nil {
			return err
		}
		ok, err := st.CohortExists(ctx, req.CohortID)
		if err != nil {
			return err
		}
		if !ok {
			return billing.NotFound("cohort", int64(req.CohortID))
		}

		existing, err := st.FindActiveEnrollment(ctx, req.StudentID, req.WorkshopID, req.CohortID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &billing.DuplicateEnrollmentError{
				StudentID:  req.StudentID,
				WorkshopID: req.WorkshopID,
				CohortID:   req.CohortID,
				ExistingID: existing.ID,
			}
		}

		e := &billing.Enrollment{
			StudentID:  req.StudentID,
			WorkshopID: req.WorkshopID,
			CohortID:   req.CohortID,
			Amount:     price,
			Remaining:  price,
			Status:     billing.EnrollmentPending,
			EnrolledAt: enrolledAt,
			CreatedAt:  at,
		}
		if err := st.InsertEnrollment(ctx, e); err != nil {
			if errors.Is(err, billing.ErrDuplicateActiveEnrollment) {
				return &billing.DuplicateEnrollmentError{
					StudentID:  req.StudentID,
					WorkshopID: req.WorkshopID,
					CohortID:   req.CohortID,
				}
			}
			return err
		}

		enrollmentID := e.ID
		charge := &billing.Charge{
			StudentID:    req.StudentID,
			Kind:         billing.ChargeEnrollment,
			Amount:       price,
			Remaining:    price,
			Status:       billing.ChargePending,
			EnrollmentID: &enrollmentID,
			OccurredAt:   enrolledAt,
			CreatedAt:    at,
		}
		if err := st.InsertCharge(ctx, charge); err != nil {
			return err
		}

		if initial.IsPositive() {
			payment, err := normalizePaymentRequest(PaymentRequest{
				StudentID:   req.StudentID,
				Total:       initial,
				Method:      req.Method,
				Notes:       "initial enrollment payment",
				Allocations: []AllocationRequest{{ChargeID: charge.ID, Amount: initial}},
			})
			if err != nil {
				return err
			}
			if _, err := s.Payments.capture(ctx, st, payment); err != nil {
				return err
			}
		}

		enrollment, err = st.GetEnrollment(ctx, e.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return enrollment, nil
}

// Cancel marks an enrollment cancelled. Applied payments are kept.
// Cancelling an already-cancelled enrollment is a no-op.
func (s *EnrollmentService) Cancel(ctx context.Context, id billing.EnrollmentID, reason string) error {
	e, err := s.Store.GetEnrollment(ctx, id)
	if err != nil {
		return err
	}
	if e == nil || e.Deleted {
		return billing.NotFound("enrollment", int64(id))
	}
	if !e.Active() {
		return nil
	}

	at := now(s.Now)
	e.Status = billing.NextEnrollmentStatus(e.Status, e.Amount, e.Remaining, true)
	e.CancelReason = reason
	e.CancelledAt = &at
	return s.Store.UpdateEnrollment(ctx, *e)
}

func requireStudent(ctx context.Context, d billing.Directory, id billing.StudentID) error {
	ok, err := d.StudentExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return billing.NotFound("student", int64(id))
	}
	return nil
}

func requireWorkshop(ctx context.Context, d billing.Directory, id billing.WorkshopID) error {
	ok, err := d.WorkshopExists(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return billing.NotFound("workshop", int64(id))
	}
	return nil
}
