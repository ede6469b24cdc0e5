/*
balance.go - The single writer of charge and enrollment balances

PURPOSE:
  A balanceSheet loads each charge (and its owning enrollment) once per
  transaction, applies deltas in memory, and writes every touched row once
  at the end. Later allocations in the same payment see the balance left by
  earlier ones, and several allocations against one enrollment collapse
  into a single enrollment update.

INVARIANTS:
  - 0 <= charge.Remaining <= charge.Amount after every apply
  - enrollment.Remaining moves by exactly the same delta as its charge
  - status is recomputed through billing.Next*Status on every apply
*/
package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-ledger/billing"
)

type balanceSheet struct {
	st billing.Store

	charges     map[billing.ChargeID]*billing.Charge
	enrollments map[billing.EnrollmentID]*billing.Enrollment

	dirtyCharges     []billing.ChargeID
	dirtyEnrollments []billing.EnrollmentID
}

func newBalanceSheet(st billing.Store) *balanceSheet {
	return &balanceSheet{
		st:          st,
		charges:     make(map[billing.ChargeID]*billing.Charge),
		enrollments: make(map[billing.EnrollmentID]*billing.Enrollment),
	}
}

// charge returns the in-memory copy of a charge, or nil if it does not exist.
func (b *balanceSheet) charge(ctx context.Context, id billing.ChargeID) (*billing.Charge, error) {
	if c, ok := b.charges[id]; ok {
		return c, nil
	}
	c, err := b.st.GetCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c != nil {
		b.charges[id] = c
	}
	return c, nil
}

func (b *balanceSheet) enrollment(ctx context.Context, id billing.EnrollmentID) (*billing.Enrollment, error) {
	if e, ok := b.enrollments[id]; ok {
		return e, nil
	}
	e, err := b.st.GetEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, billing.NotFound("enrollment", int64(id))
	}
	b.enrollments[id] = e
	return e, nil
}

// apply moves the remaining balance of c by delta: negative for a payment,
// positive for a reversal.
func (b *balanceSheet) apply(ctx context.Context, c *billing.Charge, delta decimal.Decimal) error {
	remaining := c.Remaining.Add(delta)
	if remaining.IsNegative() {
		return &billing.ExceedsBalanceError{ChargeID: c.ID, Available: c.Remaining, Requested: delta.Neg()}
	}
	if remaining.GreaterThan(c.Amount) {
		return fmt.Errorf("charge %d: balance %v would exceed amount %v", c.ID, remaining, c.Amount)
	}

	if c.EnrollmentID != nil {
		e, err := b.enrollment(ctx, *c.EnrollmentID)
		if err != nil {
			return err
		}
		eRemaining := e.Remaining.Add(delta)
		if eRemaining.IsNegative() || eRemaining.GreaterThan(e.Amount) {
			return fmt.Errorf("enrollment %d: balance %v out of range [0, %v]", e.ID, eRemaining, e.Amount)
		}
		e.Remaining = eRemaining
		e.Status = billing.NextEnrollmentStatus(e.Status, e.Amount, e.Remaining, false)
		b.markEnrollment(e.ID)
	}

	c.Remaining = remaining
	c.Status = billing.NextChargeStatus(c.Status, c.Remaining, false)
	b.markCharge(c.ID)
	return nil
}

func (b *balanceSheet) markCharge(id billing.ChargeID) {
	for _, d := range b.dirtyCharges {
		if d == id {
			return
		}
	}
	b.dirtyCharges = append(b.dirtyCharges, id)
}

func (b *balanceSheet) markEnrollment(id billing.EnrollmentID) {
	for _, d := range b.dirtyEnrollments {
		if d == id {
			return
		}
	}
	b.dirtyEnrollments = append(b.dirtyEnrollments, id)
}

// flush writes every touched charge and enrollment once.
func (b *balanceSheet) flush(ctx context.Context) error {
	for _, id := range b.dirtyCharges {
		if err := b.st.UpdateCharge(ctx, *b.charges[id]); err != nil {
			return err
		}
	}
	for _, id := range b.dirtyEnrollments {
		if err := b.st.UpdateEnrollment(ctx, *b.enrollments[id]); err != nil {
			return err
		}
	}
	b.dirtyCharges = nil
	b.dirtyEnrollments = nil
	return nil
}
