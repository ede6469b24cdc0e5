/*
store.go - Persistence interfaces for the ledger

PURPOSE:
  Defines the boundary between ledger logic and the database. The ledger
  services depend only on these interfaces; store/sqlite is the production
  implementation.

KEY INTERFACES:
  Directory:     Existence checks for students, workshops, cohorts
  SettingsStore: Key-value configuration (prices)
  Store:         Charges, payments, allocations, enrollments, sessions
  TxStore:       Store plus WithTx for atomic multi-row writes

LOOKUP CONVENTION:
  Get* and Find* return (nil, nil) when the row does not exist. Soft-deleted
  rows are returned with Deleted set; callers decide what that means.

ATOMICITY:
  Every ledger operation that writes more than one row runs inside WithTx.
  The Store handed to fn shares the transaction; returning an error from fn
  rolls every write back.

SEE ALSO:
  - store/sqlite/sqlite.go: Concrete implementation
  - ledger/: Services built on these interfaces
*/
package billing

import (
	"context"
	"time"
)

// Directory answers whether reference entities exist and are not deleted.
type Directory interface {
	StudentExists(ctx context.Context, id StudentID) (bool, error)
	WorkshopExists(ctx context.Context, id WorkshopID) (bool, error)
	CohortExists(ctx context.Context, id CohortID) (bool, error)
}

// SettingsStore is the key-value configuration table.
type SettingsStore interface {
	// GetSetting returns the value and whether the key exists.
	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error
}

// Store handles persistence of ledger records.
type Store interface {
	Directory

	// Enrollments
	InsertEnrollment(ctx context.Context, e *Enrollment) error
	UpdateEnrollment(ctx context.Context, e Enrollment) error
	GetEnrollment(ctx context.Context, id EnrollmentID) (*Enrollment, error)
	FindActiveEnrollment(ctx context.Context, student StudentID, workshop WorkshopID, cohort CohortID) (*Enrollment, error)
	ListEnrollmentsByStudent(ctx context.Context, student StudentID) ([]Enrollment, error)

	// Class sessions
	InsertClassSession(ctx context.Context, s *ClassSession) error
	UpdateClassSession(ctx context.Context, s ClassSession) error
	GetClassSession(ctx context.Context, id ClassSessionID) (*ClassSession, error)
	// FindClassSession returns the live (non-deleted) session for the day.
	FindClassSession(ctx context.Context, workshop WorkshopID, day time.Time) (*ClassSession, error)

	// Charges
	InsertCharge(ctx context.Context, c *Charge) error
	UpdateCharge(ctx context.Context, c Charge) error
	GetCharge(ctx context.Context, id ChargeID) (*Charge, error)
	// FindClassCharge returns the non-deleted charge linking student and session.
	FindClassCharge(ctx context.Context, student StudentID, session ClassSessionID) (*Charge, error)
	ListChargesByStudent(ctx context.Context, student StudentID) ([]Charge, error)
	ListChargesByEnrollment(ctx context.Context, enrollment EnrollmentID) ([]Charge, error)
	// ListPendingCharges returns collectible charges with a positive balance,
	// described for display. Order is unspecified.
	ListPendingCharges(ctx context.Context, student StudentID) ([]PendingCharge, error)

	// Payments and allocations
	InsertPayment(ctx context.Context, p *Payment) error
	UpdatePayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	ListPaymentsByStudent(ctx context.Context, student StudentID) ([]Payment, error)
	InsertAllocation(ctx context.Context, a *Allocation) error
	UpdateAllocation(ctx context.Context, a Allocation) error
	ListAllocationsByPayment(ctx context.Context, payment PaymentID) ([]Allocation, error)
	ListAllocationsByCharge(ctx context.Context, charge ChargeID) ([]Allocation, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
