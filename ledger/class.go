/*
class.go - Per-class attendance charges

PURPOSE:
  RegisterClass records that a student attended a workshop on a given day.
  The day's class session is found or created, a class charge is created at
  the configured class price, and an optional initial payment is applied.

INVARIANTS:
  - One live session per (workshop, day)
  - One non-deleted class charge per (student, session)

CANCELLATION:
  Cancelling a session soft-deletes it. Charges already issued for it are
  left collectible; ChargeService.Void is the explicit way to drop them.
*/
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-ledger/billing"
)

// ClassRequest describes one attendance.
type ClassRequest struct {
	StudentID      billing.StudentID
	WorkshopID     billing.WorkshopID
	Date           time.Time // zero means today
	InitialPayment decimal.Decimal
	Method         billing.PaymentMethod
}

// ClassRegistration is the result of RegisterClass.
type ClassRegistration struct {
	Session   billing.ClassSession
	Charge    billing.Charge
	PaymentID *billing.PaymentID
}

// ClassService registers attendance and cancels sessions.
type ClassService struct {
	Store    billing.TxStore
	Pricing  Pricing
	Payments *PaymentEngine
	Now      Clock
}

// RegisterClass charges a student for one class session. An initial payment
// larger than the class price is capped at the price.
func (s *ClassService) RegisterClass(ctx context.Context, req ClassRequest) (*ClassRegistration, error) {
	initial := billing.Money(req.InitialPayment)
	if initial.IsNegative() {
		return nil, billing.InvalidAmount("initial_payment", initial, "must not be negative")
	}

	price, err := s.Pricing.Price(ctx, PriceClass)
	if err != nil {
		return nil, err
	}

	at := now(s.Now)
	date := req.Date
	if date.IsZero() {
		date = at
	}
	day := billing.Day(date)

	var reg ClassRegistration
	err = s.Store.WithTx(ctx, func(st billing.Store) error {
		if err := requireStudent(ctx, st, req.StudentID); err != nil {
			return err
		}
		if err := requireWorkshop(ctx, st, req.WorkshopID); err != nil {
			return err
		}

		session, err := s.findOrCreateSession(ctx, st, req.WorkshopID, day, at)
		if err != nil {
			return err
		}

		existing, err := st.FindClassCharge(ctx, req.StudentID, session.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return &billing.DuplicateChargeError{
				StudentID:      req.StudentID,
				ClassSessionID: session.ID,
				ExistingID:     existing.ID,
			}
		}

		sessionID := session.ID
		charge := &billing.Charge{
			StudentID:      req.StudentID,
			Kind:           billing.ChargeClass,
			Amount:         price,
			Remaining:      price,
			Status:         billing.ChargePending,
			ClassSessionID: &sessionID,
			OccurredAt:     day,
			CreatedAt:      at,
		}
		if err := st.InsertCharge(ctx, charge); err != nil {
			if errors.Is(err, billing.ErrDuplicateActiveCharge) {
				return &billing.DuplicateChargeError{StudentID: req.StudentID, ClassSessionID: session.ID}
			}
			return err
		}

		if initial.IsPositive() {
			amount := billing.MinMoney(initial, price)
			payment, err := normalizePaymentRequest(PaymentRequest{
				StudentID:   req.StudentID,
				Total:       amount,
				Method:      req.Method,
				Notes:       "initial class payment",
				Allocations: []AllocationRequest{{ChargeID: charge.ID, Amount: amount}},
			})
			if err != nil {
				return err
			}
			p, err := s.Payments.capture(ctx, st, payment)
			if err != nil {
				return err
			}
			reg.PaymentID = &p.ID
		}

		stored, err := st.GetCharge(ctx, charge.ID)
		if err != nil {
			return err
		}
		reg.Session = *session
		reg.Charge = *stored
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func (s *ClassService) findOrCreateSession(ctx context.Context, st billing.Store, workshop billing.WorkshopID, day, at time.Time) (*billing.ClassSession, error) {
	session, err := st.FindClassSession(ctx, workshop, day)
	if err != nil {
		return nil, err
	}
	if session != nil {
		return session, nil
	}

	session = &billing.ClassSession{
		WorkshopID: workshop,
		Date:       day,
		Status:     billing.SessionScheduled,
		CreatedAt:  at,
	}
	if err := st.InsertClassSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Cancel cancels and soft-deletes a class session. Cancelling an
// already-cancelled session is a no-op.
func (s *ClassService) Cancel(ctx context.Context, id billing.ClassSessionID, reason string) error {
	session, err := s.Store.GetClassSession(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return billing.NotFound("class session", int64(id))
	}
	if session.Status == billing.SessionCancelled || session.Deleted {
		return nil
	}

	at := now(s.Now)
	session.Status = billing.SessionCancelled
	session.CancelReason = reason
	session.CancelledAt = &at
	session.Deleted = true
	session.DeletedAt = &at
	return s.Store.UpdateClassSession(ctx, *session)
}
