/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger records from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are shopspring decimals. They are written as JSON strings
  ("400.5") and accepted as either strings or numbers.

VALIDATION:
  Shape checks (required fields, enums, date formats) live in the
  `validate` struct tags and run in decode(). Money rules (positive, within
  balance, exact total) belong to the ledger and come back as typed errors.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/workshop-ledger/billing"
	"github.com/warp/workshop-ledger/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// REQUEST TYPES
// =============================================================================

// CreateNamedRequest creates a student or a workshop.
type CreateNamedRequest struct {
	Name string `json:"name" validate:"required,max=200"`
}

// CreateCohortRequest creates a cohort.
type CreateCohortRequest struct {
	Name     string `json:"name" validate:"required,max=200"`
	StartsOn string `json:"starts_on" validate:"omitempty,datetime=2006-01-02"`
	EndsOn   string `json:"ends_on" validate:"omitempty,datetime=2006-01-02"`
}

// EnrollRequest registers a student in a workshop for a cohort.
type EnrollRequest struct {
	StudentID      int64           `json:"student_id" validate:"required,gt=0"`
	WorkshopID     int64           `json:"workshop_id" validate:"required,gt=0"`
	CohortID       int64           `json:"cohort_id" validate:"required,gt=0"`
	InitialPayment decimal.Decimal `json:"initial_payment"`
	Method         string          `json:"method" validate:"omitempty,oneof=cash card transfer"`
	Date           string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// RegisterClassRequest charges a student for one class day.
type RegisterClassRequest struct {
	StudentID      int64           `json:"student_id" validate:"required,gt=0"`
	WorkshopID     int64           `json:"workshop_id" validate:"required,gt=0"`
	Date           string          `json:"date" validate:"omitempty,datetime=2006-01-02"`
	InitialPayment decimal.Decimal `json:"initial_payment"`
	Method         string          `json:"method" validate:"omitempty,oneof=cash card transfer"`
}

// AllocationRequest is one (charge, amount) pair of a payment.
type AllocationRequest struct {
	ChargeID int64           `json:"charge_id" validate:"required,gt=0"`
	Amount   decimal.Decimal `json:"amount"`
}

// CapturePaymentRequest records money received and how it is split.
type CapturePaymentRequest struct {
	StudentID   int64               `json:"student_id"`
	Total       decimal.Decimal     `json:"total"`
	Method      string              `json:"method" validate:"omitempty,oneof=cash card transfer"`
	Reference   string              `json:"reference" validate:"max=100"`
	Notes       string              `json:"notes" validate:"max=500"`
	GroupID     string              `json:"group_id" validate:"max=64"`
	Allocations []AllocationRequest `json:"allocations" validate:"dive"`
}

// ReasonRequest carries the optional reason of a cancel or void.
type ReasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

// UpdatePricesRequest sets one or both prices.
type UpdatePricesRequest struct {
	Enrollment *decimal.Decimal `json:"enrollment"`
	Class      *decimal.Decimal `json:"class"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// NamedDTO is a created student, workshop or cohort.
type NamedDTO struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ChargeDTO represents a charge in API responses.
type ChargeDTO struct {
	ID             int64           `json:"id"`
	StudentID      int64           `json:"student_id"`
	Kind           string          `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Remaining      decimal.Decimal `json:"remaining"`
	Status         string          `json:"status"`
	EnrollmentID   *int64          `json:"enrollment_id,omitempty"`
	ClassSessionID *int64          `json:"class_session_id,omitempty"`
	OccurredAt     string          `json:"occurred_at"`
	VoidReason     string          `json:"void_reason,omitempty"`
}

// PendingChargeDTO is one row of the allocation screen.
type PendingChargeDTO struct {
	ChargeID       int64           `json:"charge_id"`
	Kind           string          `json:"kind"`
	Description    string          `json:"description"`
	Amount         decimal.Decimal `json:"amount"`
	Remaining      decimal.Decimal `json:"remaining"`
	EnrollmentID   *int64          `json:"enrollment_id,omitempty"`
	ClassSessionID *int64          `json:"class_session_id,omitempty"`
	OccurredAt     string          `json:"occurred_at"`
}

// EnrollmentDTO represents an enrollment in API responses.
type EnrollmentDTO struct {
	ID           int64           `json:"id"`
	StudentID    int64           `json:"student_id"`
	WorkshopID   int64           `json:"workshop_id"`
	CohortID     int64           `json:"cohort_id"`
	Amount       decimal.Decimal `json:"amount"`
	Remaining    decimal.Decimal `json:"remaining"`
	Status       string          `json:"status"`
	EnrolledAt   string          `json:"enrolled_at"`
	CancelReason string          `json:"cancel_reason,omitempty"`
	CancelledAt  *string         `json:"cancelled_at,omitempty"`
}

// ClassSessionDTO represents a class session in API responses.
type ClassSessionDTO struct {
	ID         int64  `json:"id"`
	WorkshopID int64  `json:"workshop_id"`
	Date       string `json:"date"`
	Status     string `json:"status"`
}

// ClassRegistrationDTO is the result of registering attendance.
type ClassRegistrationDTO struct {
	Session   ClassSessionDTO `json:"session"`
	Charge    ChargeDTO       `json:"charge"`
	PaymentID *int64          `json:"payment_id,omitempty"`
}

// AllocationDTO represents an allocation in API responses.
type AllocationDTO struct {
	ID       int64           `json:"id"`
	ChargeID int64           `json:"charge_id"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
}

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID          int64           `json:"id"`
	StudentID   int64           `json:"student_id"`
	Total       decimal.Decimal `json:"total"`
	Method      string          `json:"method"`
	Reference   string          `json:"reference,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	GroupID     string          `json:"group_id"`
	OccurredAt  string          `json:"occurred_at"`
	Voided      bool            `json:"voided"`
	VoidReason  string          `json:"void_reason,omitempty"`
	Allocations []AllocationDTO `json:"allocations,omitempty"`
}

// BalanceDTO is the outstanding total of a student.
type BalanceDTO struct {
	StudentID      int64           `json:"student_id"`
	Outstanding    decimal.Decimal `json:"outstanding"`
	Enrollment     decimal.Decimal `json:"enrollment"`
	Class          decimal.Decimal `json:"class"`
	PendingCharges int             `json:"pending_charges"`
}

// VerifyDTO reports the ledger consistency of a student.
type VerifyDTO struct {
	StudentID  int64    `json:"student_id"`
	Consistent bool     `json:"consistent"`
	Violations []string `json:"violations"`
}

// PricesDTO holds the configured prices.
type PricesDTO struct {
	Enrollment decimal.Decimal `json:"enrollment"`
	Class      decimal.Decimal `json:"class"`
}

// IDResponse carries the identifier of a created record.
type IDResponse struct {
	ID int64 `json:"id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func toChargeDTO(c billing.Charge) ChargeDTO {
	dto := ChargeDTO{
		ID:         int64(c.ID),
		StudentID:  int64(c.StudentID),
		Kind:       string(c.Kind),
		Amount:     c.Amount,
		Remaining:  c.Remaining,
		Status:     string(c.Status),
		OccurredAt: c.OccurredAt.Format(time.RFC3339),
		VoidReason: c.VoidReason,
	}
	dto.EnrollmentID, dto.ClassSessionID = refPtrs(c.EnrollmentID, c.ClassSessionID)
	return dto
}

func toPendingChargeDTO(p billing.PendingCharge) PendingChargeDTO {
	dto := PendingChargeDTO{
		ChargeID:    int64(p.ChargeID),
		Kind:        string(p.Kind),
		Description: p.Description,
		Amount:      p.Amount,
		Remaining:   p.Remaining,
		OccurredAt:  p.OccurredAt.Format(time.RFC3339),
	}
	dto.EnrollmentID, dto.ClassSessionID = refPtrs(p.EnrollmentID, p.ClassSessionID)
	return dto
}

func toEnrollmentDTO(e billing.Enrollment) EnrollmentDTO {
	dto := EnrollmentDTO{
		ID:           int64(e.ID),
		StudentID:    int64(e.StudentID),
		WorkshopID:   int64(e.WorkshopID),
		CohortID:     int64(e.CohortID),
		Amount:       e.Amount,
		Remaining:    e.Remaining,
		Status:       string(e.Status),
		EnrolledAt:   e.EnrolledAt.Format(time.RFC3339),
		CancelReason: e.CancelReason,
	}
	if e.CancelledAt != nil {
		s := e.CancelledAt.Format(time.RFC3339)
		dto.CancelledAt = &s
	}
	return dto
}

func toClassRegistrationDTO(reg ledger.ClassRegistration) ClassRegistrationDTO {
	dto := ClassRegistrationDTO{
		Session: ClassSessionDTO{
			ID:         int64(reg.Session.ID),
			WorkshopID: int64(reg.Session.WorkshopID),
			Date:       reg.Session.Date.Format(dateLayout),
			Status:     string(reg.Session.Status),
		},
		Charge: toChargeDTO(reg.Charge),
	}
	if reg.PaymentID != nil {
		id := int64(*reg.PaymentID)
		dto.PaymentID = &id
	}
	return dto
}

func toPaymentDTO(p billing.Payment, allocations []billing.Allocation) PaymentDTO {
	dto := PaymentDTO{
		ID:         int64(p.ID),
		StudentID:  int64(p.StudentID),
		Total:      p.Total,
		Method:     string(p.Method),
		Reference:  p.Reference,
		Notes:      p.Notes,
		GroupID:    p.GroupID,
		OccurredAt: p.OccurredAt.Format(time.RFC3339),
		Voided:     p.Deleted,
		VoidReason: p.VoidReason,
	}
	for _, a := range allocations {
		dto.Allocations = append(dto.Allocations, AllocationDTO{
			ID:       int64(a.ID),
			ChargeID: int64(a.ChargeID),
			Amount:   a.Amount,
			Status:   string(a.Status),
		})
	}
	return dto
}

func refPtrs(e *billing.EnrollmentID, s *billing.ClassSessionID) (*int64, *int64) {
	var ep, sp *int64
	if e != nil {
		v := int64(*e)
		ep = &v
	}
	if s != nil {
		v := int64(*s)
		sp = &v
	}
	return ep, sp
}

// parseDate parses an optional YYYY-MM-DD date. Empty yields the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(dateLayout, s)
}
