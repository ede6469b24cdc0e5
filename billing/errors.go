/*
errors.go - Centralized error types for the ledger

PURPOSE:
  All failure kinds in one place. Every structured error unwraps to one
  sentinel, so callers decide with errors.Is and dig for context with
  errors.As.

ERROR CATEGORIES:
  1. Lookup errors     - ErrNotFound
  2. Input errors      - ErrInvalidAmount
  3. Uniqueness errors - ErrDuplicateActiveEnrollment, ErrDuplicateActiveCharge
  4. Allocation errors - ErrOwnershipMismatch, ErrExceedsBalance,
                         ErrExceedsPaymentTotal, ErrChargeVoided

USAGE:
  if errors.Is(err, billing.ErrExceedsBalance) {
      var e *billing.ExceedsBalanceError
      errors.As(err, &e)
      fmt.Println(e.Available)
  }

SEE ALSO:
  - store/sqlite/sqlite.go: Maps unique-index violations onto these sentinels
  - api/handlers.go: Maps sentinels onto HTTP status codes
*/
package billing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record is missing or soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned for non-positive or out-of-range money and ids.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDuplicateActiveEnrollment is returned when the student already has an
	// active enrollment for the same workshop and cohort.
	ErrDuplicateActiveEnrollment = errors.New("duplicate active enrollment")

	// ErrDuplicateActiveCharge is returned when the student already has a
	// charge for the same class session.
	ErrDuplicateActiveCharge = errors.New("duplicate active charge")

	// ErrDuplicateClassSession is returned by stores when a live session
	// already exists for the workshop and date.
	ErrDuplicateClassSession = errors.New("duplicate class session")

	// ErrOwnershipMismatch is returned when a payment targets another student's charge.
	ErrOwnershipMismatch = errors.New("charge belongs to another student")

	// ErrExceedsBalance is returned when an allocation is larger than the
	// charge's remaining balance.
	ErrExceedsBalance = errors.New("allocation exceeds charge balance")

	// ErrExceedsPaymentTotal is returned when allocations do not add up to
	// exactly the payment total.
	ErrExceedsPaymentTotal = errors.New("allocations do not match payment total")

	// ErrChargeVoided is returned when an operation needs a live balance on a
	// voided charge.
	ErrChargeVoided = errors.New("charge is voided")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing record.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(entity string, id int64) error {
	return &NotFoundError{Entity: entity, ID: id}
}

// InvalidAmountError names the offending field.
type InvalidAmountError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// InvalidAmount builds an InvalidAmountError.
func InvalidAmount(field string, value any, reason string) error {
	return &InvalidAmountError{Field: field, Value: fmt.Sprint(value), Reason: reason}
}

// DuplicateEnrollmentError points at the enrollment already holding the triple.
type DuplicateEnrollmentError struct {
	StudentID  StudentID
	WorkshopID WorkshopID
	CohortID   CohortID
	ExistingID EnrollmentID
}

func (e *DuplicateEnrollmentError) Error() string {
	return fmt.Sprintf("student %d already enrolled in workshop %d cohort %d (enrollment %d)",
		e.StudentID, e.WorkshopID, e.CohortID, e.ExistingID)
}

func (e *DuplicateEnrollmentError) Unwrap() error { return ErrDuplicateActiveEnrollment }

// DuplicateChargeError points at the charge already linking student and session.
type DuplicateChargeError struct {
	StudentID      StudentID
	ClassSessionID ClassSessionID
	ExistingID     ChargeID
}

func (e *DuplicateChargeError) Error() string {
	return fmt.Sprintf("student %d already charged for class session %d (charge %d)",
		e.StudentID, e.ClassSessionID, e.ExistingID)
}

func (e *DuplicateChargeError) Unwrap() error { return ErrDuplicateActiveCharge }

// OwnershipMismatchError provides both student ids.
type OwnershipMismatchError struct {
	ChargeID         ChargeID
	ChargeStudentID  StudentID
	PaymentStudentID StudentID
}

func (e *OwnershipMismatchError) Error() string {
	return fmt.Sprintf("charge %d belongs to student %d, payment is for student %d",
		e.ChargeID, e.ChargeStudentID, e.PaymentStudentID)
}

func (e *OwnershipMismatchError) Unwrap() error { return ErrOwnershipMismatch }

// ExceedsBalanceError provides details about an over-allocation.
//
// Available already reflects earlier allocations in the same payment that
// target the same charge.
type ExceedsBalanceError struct {
	ChargeID  ChargeID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *ExceedsBalanceError) Error() string {
	return fmt.Sprintf("allocation %v exceeds remaining balance %v of charge %d",
		e.Requested, e.Available, e.ChargeID)
}

func (e *ExceedsBalanceError) Unwrap() error { return ErrExceedsBalance }

// PaymentTotalError reports allocations that overshoot or fall short of the total.
type PaymentTotalError struct {
	Total     decimal.Decimal
	Allocated decimal.Decimal
}

func (e *PaymentTotalError) Error() string {
	if e.Allocated.GreaterThan(e.Total) {
		return fmt.Sprintf("allocations %v exceed payment total %v", e.Allocated, e.Total)
	}
	return fmt.Sprintf("allocations %v leave payment total %v partially unallocated", e.Allocated, e.Total)
}

func (e *PaymentTotalError) Unwrap() error { return ErrExceedsPaymentTotal }

// ChargeVoidedError names the frozen charge.
type ChargeVoidedError struct {
	ChargeID ChargeID
}

func (e *ChargeVoidedError) Error() string {
	return fmt.Sprintf("charge %d is voided", e.ChargeID)
}

func (e *ChargeVoidedError) Unwrap() error { return ErrChargeVoided }

// AllocationError ties a failure to its position in the capture request.
type AllocationError struct {
	Index int
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocation #%d: %v", e.Index+1, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true if the error is a uniqueness violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateActiveEnrollment) ||
		errors.Is(err, ErrDuplicateActiveCharge) ||
		errors.Is(err, ErrDuplicateClassSession)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOwnershipMismatch) ||
		errors.Is(err, ErrExceedsBalance) ||
		errors.Is(err, ErrExceedsPaymentTotal) ||
		errors.Is(err, ErrChargeVoided)
}
