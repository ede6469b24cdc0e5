/*
Package ledger implements the financial operations of the workshop network.

PURPOSE:
  Charges are created by enrollments and class attendance, payments are
  captured and split across charges, and every balance and status moves in
  lockstep inside one database transaction.

COMPONENTS:
  EnrollmentService: Enroll, Cancel
  ClassService:      RegisterClass, Cancel
  PaymentEngine:     CapturePayment, VoidPayment
  ChargeService:     Void
  Queries:           ListPendingCharges, Balance, Verify and lookups
  SettingsPricing:   Prices by key, default persisted on first read

DATA FLOW:
  Enroll / RegisterClass -> charge rows
  ListPendingCharges     -> what the cashier sees
  CapturePayment         -> payment + allocations + charge and enrollment
                            balances, all or nothing

ATOMICITY:
  Every multi-row write runs inside billing.TxStore.WithTx. Enroll and
  RegisterClass reuse the capture path for their initial payment within
  their own transaction, so an enrollment never exists without the payment
  the caller asked for and vice versa.

CONCURRENCY:
  Single user, single process. There is no version column: two captures
  racing on the same charge from different goroutines are serialized by
  the store's one connection, but each reads the balance it sees at the
  start of its own transaction.

SEE ALSO:
  - billing/: Records, status transitions, errors, store interfaces
  - balance.go: The only code that writes balances
*/
package ledger

import (
	"time"

	"github.com/warp/workshop-ledger/billing"
)

// Clock returns the current time. Tests replace it.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// Ledger bundles every service over one store.
type Ledger struct {
	Enrollments *EnrollmentService
	Classes     *ClassService
	Payments    *PaymentEngine
	Charges     *ChargeService
	Queries     *Queries
}

// Option configures a Ledger.
type Option func(*options)

type options struct {
	clock Clock
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// New wires every service to store and pricing.
func New(store billing.TxStore, pricing Pricing, opts ...Option) *Ledger {
	o := options{clock: systemClock}
	for _, opt := range opts {
		opt(&o)
	}

	payments := &PaymentEngine{Store: store, Now: o.clock}
	return &Ledger{
		Enrollments: &EnrollmentService{Store: store, Pricing: pricing, Payments: payments, Now: o.clock},
		Classes:     &ClassService{Store: store, Pricing: pricing, Payments: payments, Now: o.clock},
		Payments:    payments,
		Charges:     &ChargeService{Store: store, Now: o.clock},
		Queries:     &Queries{Store: store},
	}
}

func now(c Clock) time.Time {
	if c == nil {
		return systemClock()
	}
	return c()
}
