/*
payment.go - Payment capture and reversal

PURPOSE:
  CapturePayment records money received from a student and splits it across
  one or more of that student's charges. The payment, its allocations, and
  every affected balance are written in one transaction.

VALIDATION (per allocation, in input order):
  1. Charge exists and is not soft-deleted        -> ErrNotFound
  2. Charge is not voided                         -> ErrChargeVoided
  3. Charge belongs to the paying student         -> ErrOwnershipMismatch
  4. Amount <= remaining balance (Epsilon slack)  -> ErrExceedsBalance
  5. Running sum <= payment total                 -> ErrExceedsPaymentTotal
  After the loop the sum must equal the total exactly, otherwise
  ErrExceedsPaymentTotal.

SINGLE PASS:
  Balances are decremented in memory as each allocation passes, so two
  allocations against the same charge are checked against what the first
  one left. Nothing is written until every allocation has passed.

SEE ALSO:
  - balance.go: In-memory balance sheet
  - enrollment.go, class.go: Reuse capture for initial payments
*/
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/workshop-ledger/billing"
)

// AllocationRequest is one (charge, amount) pair of a capture.
type AllocationRequest struct {
	ChargeID billing.ChargeID
	Amount   decimal.Decimal
}

// PaymentRequest describes money received in one capture.
type PaymentRequest struct {
	StudentID   billing.StudentID
	Total       decimal.Decimal
	Method      billing.PaymentMethod
	Reference   string
	Notes       string
	GroupID     string // generated when empty
	Allocations []AllocationRequest
}

// PaymentEngine captures and voids payments.
type PaymentEngine struct {
	Store billing.TxStore
	Now   Clock
}

// CapturePayment validates and persists a payment with its allocations.
// Returns the new payment ID. An allocation targeting a voided charge fails
// with ErrChargeVoided rather than ErrNotFound.
func (e *PaymentEngine) CapturePayment(ctx context.Context, req PaymentRequest) (billing.PaymentID, error) {
	req, err := normalizePaymentRequest(req)
	if err != nil {
		return 0, err
	}

	var id billing.PaymentID
	err = e.Store.WithTx(ctx, func(st billing.Store) error {
		p, err := e.capture(ctx, st, req)
		if err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

func normalizePaymentRequest(req PaymentRequest) (PaymentRequest, error) {
	if req.StudentID <= 0 {
		return req, billing.InvalidAmount("student_id", req.StudentID, "must be positive")
	}
	req.Total = billing.Money(req.Total)
	if !req.Total.IsPositive() {
		return req, billing.InvalidAmount("total", req.Total, "must be positive")
	}
	if len(req.Allocations) == 0 {
		return req, billing.InvalidAmount("allocations", 0, "at least one allocation is required")
	}

	allocations := make([]AllocationRequest, len(req.Allocations))
	for i, a := range req.Allocations {
		a.Amount = billing.Money(a.Amount)
		if !a.Amount.IsPositive() {
			return req, &billing.AllocationError{Index: i, Err: billing.InvalidAmount("amount", a.Amount, "must be positive")}
		}
		allocations[i] = a
	}
	req.Allocations = allocations

	if req.Method == "" {
		req.Method = billing.MethodCash
	}
	if req.GroupID == "" {
		req.GroupID = uuid.NewString()
	}
	return req, nil
}

// capture runs inside an open transaction. req must be normalized.
func (e *PaymentEngine) capture(ctx context.Context, st billing.Store, req PaymentRequest) (*billing.Payment, error) {
	sheet := newBalanceSheet(st)
	allocated := decimal.Zero

	for i, a := range req.Allocations {
		c, err := sheet.charge(ctx, a.ChargeID)
		if err != nil {
			return nil, err
		}
		if c == nil || c.Deleted {
			return nil, &billing.AllocationError{Index: i, Err: billing.NotFound("charge", int64(a.ChargeID))}
		}
		if !c.Collectible() {
			return nil, &billing.AllocationError{Index: i, Err: &billing.ChargeVoidedError{ChargeID: c.ID}}
		}
		if c.StudentID != req.StudentID {
			return nil, &billing.AllocationError{Index: i, Err: &billing.OwnershipMismatchError{
				ChargeID:         c.ID,
				ChargeStudentID:  c.StudentID,
				PaymentStudentID: req.StudentID,
			}}
		}
		if billing.ExceedsWithTolerance(a.Amount, c.Remaining) {
			return nil, &billing.AllocationError{Index: i, Err: &billing.ExceedsBalanceError{
				ChargeID:  c.ID,
				Available: c.Remaining,
				Requested: a.Amount,
			}}
		}

		allocated = allocated.Add(a.Amount)
		if billing.ExceedsWithTolerance(allocated, req.Total) {
			return nil, &billing.AllocationError{Index: i, Err: &billing.PaymentTotalError{
				Total:     req.Total,
				Allocated: allocated,
			}}
		}

		if err := sheet.apply(ctx, c, a.Amount.Neg()); err != nil {
			return nil, &billing.AllocationError{Index: i, Err: err}
		}
	}

	if !allocated.Equal(req.Total) {
		return nil, &billing.PaymentTotalError{Total: req.Total, Allocated: allocated}
	}

	at := now(e.Now)
	p := &billing.Payment{
		StudentID:  req.StudentID,
		Total:      req.Total,
		Method:     req.Method,
		Reference:  req.Reference,
		Notes:      req.Notes,
		GroupID:    req.GroupID,
		OccurredAt: at,
		CreatedAt:  at,
	}
	if err := st.InsertPayment(ctx, p); err != nil {
		return nil, err
	}

	for _, a := range req.Allocations {
		if err := st.InsertAllocation(ctx, &billing.Allocation{
			PaymentID: p.ID,
			ChargeID:  a.ChargeID,
			Amount:    a.Amount,
			Status:    billing.AllocationEffective,
			CreatedAt: at,
		}); err != nil {
			return nil, err
		}
	}

	if err := sheet.flush(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

// VoidPayment reverses a captured payment: the payment is soft-deleted, its
// allocations are voided, and every charge and enrollment balance is
// restored. Voiding an already-voided payment is a no-op.
func (e *PaymentEngine) VoidPayment(ctx context.Context, id billing.PaymentID, reason string) error {
	return e.Store.WithTx(ctx, func(st billing.Store) error {
		p, err := st.GetPayment(ctx, id)
		if err != nil {
			return err
		}
		if p == nil {
			return billing.NotFound("payment", int64(id))
		}
		if p.Deleted {
			return nil
		}

		allocations, err := st.ListAllocationsByPayment(ctx, id)
		if err != nil {
			return err
		}

		sheet := newBalanceSheet(st)
		for _, a := range allocations {
			if a.Status != billing.AllocationEffective {
				continue
			}
			c, err := sheet.charge(ctx, a.ChargeID)
			if err != nil {
				return err
			}
			if c == nil {
				return billing.NotFound("charge", int64(a.ChargeID))
			}
			if c.Status == billing.ChargeVoided {
				return &billing.ChargeVoidedError{ChargeID: c.ID}
			}
			if err := sheet.apply(ctx, c, a.Amount); err != nil {
				return err
			}
			a.Status = billing.AllocationVoided
			if err := st.UpdateAllocation(ctx, a); err != nil {
				return err
			}
		}

		at := now(e.Now)
		p.Deleted = true
		p.DeletedAt = &at
		p.VoidReason = reason
		if err := st.UpdatePayment(ctx, *p); err != nil {
			return err
		}
		return sheet.flush(ctx)
	})
}
