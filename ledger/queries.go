/*
queries.go - Read-only projections over the ledger

PURPOSE:
  Everything the cashier screen and the reports read: pending charges,
  per-student balance, enrollment and payment lookups, and an invariant
  check that re-derives every stored balance from allocations.

PENDING ORDER:
  Class charges before enrollment charges, then by remaining balance
  descending, then by charge ID for a stable result.

VERIFY:
  For each charge:      remaining + sum(effective allocations) == amount
                        0 <= remaining <= amount
                        status == NextChargeStatus(status, remaining)
  For each payment:     live    -> sum(effective allocations) == total
                        voided  -> no effective allocations
  For each enrollment:  remaining == remaining of its enrollment charge
                        status    == NextEnrollmentStatus(...)
*/
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-ledger/billing"
)

// Queries answers read-only questions about the ledger.
type Queries struct {
	Store billing.TxStore
}

// ListPendingCharges returns the student's collectible charges with a
// positive balance. An unknown student yields an empty list.
func (q *Queries) ListPendingCharges(ctx context.Context, student billing.StudentID) ([]billing.PendingCharge, error) {
	if student <= 0 {
		return []billing.PendingCharge{}, nil
	}
	pending, err := q.Store.ListPendingCharges(ctx, student)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		pending = []billing.PendingCharge{}
	}
	sortPending(pending)
	return pending, nil
}

func sortPending(pending []billing.PendingCharge) {
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i], pending[j]
		if a.Kind != b.Kind {
			return a.Kind == billing.ChargeClass
		}
		if !a.Remaining.Equal(b.Remaining) {
			return a.Remaining.GreaterThan(b.Remaining)
		}
		return a.ChargeID < b.ChargeID
	})
}

// StudentBalance is the outstanding total of a student, split by charge kind.
type StudentBalance struct {
	StudentID      billing.StudentID
	Outstanding    decimal.Decimal
	Enrollment     decimal.Decimal
	Class          decimal.Decimal
	PendingCharges int
}

// Balance sums the remaining balance over the student's pending charges.
func (q *Queries) Balance(ctx context.Context, student billing.StudentID) (StudentBalance, error) {
	balance := StudentBalance{
		StudentID:   student,
		Outstanding: decimal.Zero,
		Enrollment:  decimal.Zero,
		Class:       decimal.Zero,
	}
	pending, err := q.ListPendingCharges(ctx, student)
	if err != nil {
		return balance, err
	}
	for _, p := range pending {
		balance.Outstanding = balance.Outstanding.Add(p.Remaining)
		switch p.Kind {
		case billing.ChargeEnrollment:
			balance.Enrollment = balance.Enrollment.Add(p.Remaining)
		case billing.ChargeClass:
			balance.Class = balance.Class.Add(p.Remaining)
		}
	}
	balance.PendingCharges = len(pending)
	return balance, nil
}

// GetEnrollment returns a non-deleted enrollment.
func (q *Queries) GetEnrollment(ctx context.Context, id billing.EnrollmentID) (*billing.Enrollment, error) {
	e, err := q.Store.GetEnrollment(ctx, id)
	if err != nil {
		return nil, err
	}
	if e == nil || e.Deleted {
		return nil, billing.NotFound("enrollment", int64(id))
	}
	return e, nil
}

// ListEnrollments returns the student's non-deleted enrollments, cancelled
// ones included.
func (q *Queries) ListEnrollments(ctx context.Context, student billing.StudentID) ([]billing.Enrollment, error) {
	all, err := q.Store.ListEnrollmentsByStudent(ctx, student)
	if err != nil {
		return nil, err
	}
	enrollments := make([]billing.Enrollment, 0, len(all))
	for _, e := range all {
		if !e.Deleted {
			enrollments = append(enrollments, e)
		}
	}
	return enrollments, nil
}

// GetCharge returns a charge, voided or not.
func (q *Queries) GetCharge(ctx context.Context, id billing.ChargeID) (*billing.Charge, error) {
	c, err := q.Store.GetCharge(ctx, id)
	if err != nil {
		return nil, err
	}
	if c == nil || c.Deleted {
		return nil, billing.NotFound("charge", int64(id))
	}
	return c, nil
}

// PaymentDetail is a payment with its allocations.
type PaymentDetail struct {
	Payment     billing.Payment
	Allocations []billing.Allocation
}

// GetPayment returns a payment and its allocations. Voided payments are
// returned with Deleted set so the audit trail stays visible.
func (q *Queries) GetPayment(ctx context.Context, id billing.PaymentID) (*PaymentDetail, error) {
	p, err := q.Store.GetPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, billing.NotFound("payment", int64(id))
	}
	allocations, err := q.Store.ListAllocationsByPayment(ctx, id)
	if err != nil {
		return nil, err
	}
	if allocations == nil {
		allocations = []billing.Allocation{}
	}
	return &PaymentDetail{Payment: *p, Allocations: allocations}, nil
}

// ListPayments returns every payment of a student, voided ones included.
func (q *Queries) ListPayments(ctx context.Context, student billing.StudentID) ([]billing.Payment, error) {
	payments, err := q.Store.ListPaymentsByStudent(ctx, student)
	if err != nil {
		return nil, err
	}
	if payments == nil {
		payments = []billing.Payment{}
	}
	return payments, nil
}

// =============================================================================
// VERIFY
// =============================================================================

// Violation describes one broken ledger invariant.
type Violation struct {
	Entity  string
	ID      int64
	Message string
}

func (v Violation) String() string {
	return fmt.Sprintf("%s %d: %s", v.Entity, v.ID, v.Message)
}

// Verify re-derives every stored balance and status of a student from its
// allocations. An empty result means the student's ledger is consistent.
func (q *Queries) Verify(ctx context.Context, student billing.StudentID) ([]Violation, error) {
	violations := []Violation{}

	err := q.Store.WithTx(ctx, func(st billing.Store) error {
		charges, err := st.ListChargesByStudent(ctx, student)
		if err != nil {
			return err
		}
		enrollmentCharge := make(map[billing.EnrollmentID]billing.Charge)

		for _, c := range charges {
			allocations, err := st.ListAllocationsByCharge(ctx, c.ID)
			if err != nil {
				return err
			}
			applied := sumEffective(allocations)
			if !c.Applied().Equal(applied) {
				violations = append(violations, Violation{"charge", int64(c.ID),
					fmt.Sprintf("remaining %v + applied %v != amount %v", c.Remaining, applied, c.Amount)})
			}
			if c.Remaining.IsNegative() || c.Remaining.GreaterThan(c.Amount) {
				violations = append(violations, Violation{"charge", int64(c.ID),
					fmt.Sprintf("remaining %v outside [0, %v]", c.Remaining, c.Amount)})
			}
			if want := billing.NextChargeStatus(c.Status, c.Remaining, false); want != c.Status {
				violations = append(violations, Violation{"charge", int64(c.ID),
					fmt.Sprintf("status %s, balance implies %s", c.Status, want)})
			}
			if c.EnrollmentID != nil && !c.Deleted {
				enrollmentCharge[*c.EnrollmentID] = c
			}
		}

		payments, err := st.ListPaymentsByStudent(ctx, student)
		if err != nil {
			return err
		}
		for _, p := range payments {
			allocations, err := st.ListAllocationsByPayment(ctx, p.ID)
			if err != nil {
				return err
			}
			applied := sumEffective(allocations)
			switch {
			case p.Deleted && !applied.IsZero():
				violations = append(violations, Violation{"payment", int64(p.ID),
					fmt.Sprintf("voided payment still applies %v", applied)})
			case !p.Deleted && !applied.Equal(p.Total):
				violations = append(violations, Violation{"payment", int64(p.ID),
					fmt.Sprintf("allocations %v != total %v", applied, p.Total)})
			}
		}

		enrollments, err := st.ListEnrollmentsByStudent(ctx, student)
		if err != nil {
			return err
		}
		for _, e := range enrollments {
			if e.Deleted {
				continue
			}
			c, ok := enrollmentCharge[e.ID]
			if !ok {
				violations = append(violations, Violation{"enrollment", int64(e.ID), "has no enrollment charge"})
				continue
			}
			if !e.Remaining.Equal(c.Remaining) {
				violations = append(violations, Violation{"enrollment", int64(e.ID),
					fmt.Sprintf("remaining %v != charge %d remaining %v", e.Remaining, c.ID, c.Remaining)})
			}
			if want := billing.NextEnrollmentStatus(e.Status, e.Amount, e.Remaining, false); want != e.Status {
				violations = append(violations, Violation{"enrollment", int64(e.ID),
					fmt.Sprintf("status %s, balance implies %s", e.Status, want)})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return violations, nil
}

func sumEffective(allocations []billing.Allocation) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range allocations {
		if a.Status == billing.AllocationEffective {
			sum = sum.Add(a.Amount)
		}
	}
	return sum
}
