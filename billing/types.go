/*
Package billing provides the core vocabulary of the workshop ledger.

PURPOSE:
  This package contains the records and rules shared by every ledger
  operation: what a charge is, what a payment is, how a payment is split
  across charges, and how balances drive status. It knows nothing about
  SQL, HTTP, or pricing configuration.

KEY CONCEPTS IN THIS FILE (types.go):
  - Typed identifiers: StudentID, ChargeID, PaymentID, ...
  - Money helpers: decimal.Decimal rounded to cents
  - Charge: an amount owed, with its own remaining balance
  - Payment: money received in one capture
  - Allocation: the part of a payment applied to one charge
  - Enrollment / ClassSession: the two sources of charges

CRITICAL INVARIANTS:
  1. charge.Remaining == charge.Amount - sum(effective allocations)
  2. 0 <= charge.Remaining <= charge.Amount
  3. payment.Total == sum(effective allocations of the payment)
  4. Voided charges are frozen: no allocation may target them

PRECISION:
  All money is decimal.Decimal rounded half-away-from-zero to cents. Float
  money never enters the ledger.

SEE ALSO:
  - status.go: Status transition functions
  - errors.go: Failure taxonomy
  - store.go: Persistence interfaces
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type StudentID int64
type WorkshopID int64
type CohortID int64
type EnrollmentID int64
type ClassSessionID int64
type ChargeID int64
type PaymentID int64
type AllocationID int64

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places money is kept at.
const MoneyPlaces = 2

// Epsilon absorbs rounding noise when comparing an allocation with a balance.
var Epsilon = decimal.New(1, -3)

// Money rounds d to cents.
func Money(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// ExceedsWithTolerance reports whether a is larger than b by more than Epsilon.
func ExceedsWithTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).GreaterThan(Epsilon)
}

// MinMoney returns the smaller of a and b.
func MinMoney(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// =============================================================================
// DIRECTORY RECORDS - Reference entities the ledger only checks for existence
// =============================================================================

type Student struct {
	ID        StudentID
	Name      string
	Deleted   bool
	CreatedAt time.Time
}

type Workshop struct {
	ID        WorkshopID
	Name      string
	Deleted   bool
	CreatedAt time.Time
}

type Cohort struct {
	ID        CohortID
	Name      string
	StartsOn  time.Time
	EndsOn    time.Time
	Deleted   bool
	CreatedAt time.Time
}

// =============================================================================
// CHARGE - Amount owed by a student
// =============================================================================

type ChargeKind string

const (
	ChargeEnrollment ChargeKind = "enrollment"
	ChargeClass      ChargeKind = "class"
)

type ChargeStatus string

const (
	ChargePending ChargeStatus = "pending"
	ChargePaid    ChargeStatus = "paid"
	ChargeVoided  ChargeStatus = "voided"
)

type Charge struct {
	ID             ChargeID
	StudentID      StudentID
	Kind           ChargeKind
	Amount         decimal.Decimal
	Remaining      decimal.Decimal
	Status         ChargeStatus
	EnrollmentID   *EnrollmentID
	ClassSessionID *ClassSessionID
	OccurredAt     time.Time

	VoidReason string
	VoidedAt   *time.Time

	Deleted   bool
	DeletedAt *time.Time
	CreatedAt time.Time
}

// Collectible reports whether new allocations may target the charge.
func (c Charge) Collectible() bool {
	return !c.Deleted && c.Status != ChargeVoided
}

// Applied is the amount already covered by effective allocations.
func (c Charge) Applied() decimal.Decimal {
	return c.Amount.Sub(c.Remaining)
}

// =============================================================================
// PAYMENT - Money received in one capture
// =============================================================================

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
)

type Payment struct {
	ID         PaymentID
	StudentID  StudentID
	Total      decimal.Decimal
	Method     PaymentMethod
	Reference  string
	Notes      string
	GroupID    string // correlates payments captured together
	OccurredAt time.Time

	VoidReason string
	Deleted    bool
	DeletedAt  *time.Time
	CreatedAt  time.Time
}

// =============================================================================
// ALLOCATION - Part of a payment applied to one charge
// =============================================================================

type AllocationStatus string

const (
	AllocationEffective AllocationStatus = "effective"
	AllocationVoided    AllocationStatus = "voided"
)

type Allocation struct {
	ID        AllocationID
	PaymentID PaymentID
	ChargeID  ChargeID
	Amount    decimal.Decimal
	Status    AllocationStatus
	CreatedAt time.Time
}

// =============================================================================
// ENROLLMENT - A student's registration in a workshop for a cohort
// =============================================================================

type EnrollmentStatus string

const (
	EnrollmentPending   EnrollmentStatus = "pending"
	EnrollmentPartial   EnrollmentStatus = "partial"
	EnrollmentPaid      EnrollmentStatus = "paid"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

type Enrollment struct {
	ID         EnrollmentID
	StudentID  StudentID
	WorkshopID WorkshopID
	CohortID   CohortID
	Amount     decimal.Decimal
	Remaining  decimal.Decimal
	Status     EnrollmentStatus
	EnrolledAt time.Time

	CancelReason string
	CancelledAt  *time.Time

	Deleted   bool
	DeletedAt *time.Time
	CreatedAt time.Time
}

// Active reports whether the enrollment counts toward the one-per-triple rule.
func (e Enrollment) Active() bool {
	return !e.Deleted && e.Status != EnrollmentCancelled
}

// =============================================================================
// CLASS SESSION - One dated occurrence of a workshop
// =============================================================================

type ClassSessionStatus string

const (
	SessionScheduled ClassSessionStatus = "scheduled"
	SessionCancelled ClassSessionStatus = "cancelled"
)

type ClassSession struct {
	ID         ClassSessionID
	WorkshopID WorkshopID
	Date       time.Time // day granularity, UTC
	Status     ClassSessionStatus

	CancelReason string
	CancelledAt  *time.Time

	Deleted   bool
	DeletedAt *time.Time
	CreatedAt time.Time
}

// Day truncates t to a UTC calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// =============================================================================
// PENDING CHARGE - Read projection for the allocation screen
// =============================================================================

type PendingCharge struct {
	ChargeID       ChargeID
	Kind           ChargeKind
	Description    string
	Amount         decimal.Decimal
	Remaining      decimal.Decimal
	EnrollmentID   *EnrollmentID
	ClassSessionID *ClassSessionID
	OccurredAt     time.Time
}
