/*
handlers.go - HTTP API handlers for the workshop ledger

PURPOSE:
  Exposes the ledger over a local REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the ledger services.

ENDPOINTS:
  Directory:
    POST   /api/students                        Create student
    POST   /api/workshops                       Create workshop
    POST   /api/cohorts                         Create cohort

  Student views:
    GET    /api/students/{id}/pending-charges   Charges open for allocation
    GET    /api/students/{id}/balance           Outstanding total
    GET    /api/students/{id}/payments          Payment history
    GET    /api/students/{id}/enrollments       Enrollments
    GET    /api/students/{id}/verify            Ledger consistency check

  Charges:
    POST   /api/enrollments                     Enroll (optional initial payment)
    GET    /api/enrollments/{id}                Enrollment details
    POST   /api/enrollments/{id}/cancel         Cancel enrollment
    POST   /api/classes                         Register class attendance
    POST   /api/classes/{id}/cancel             Cancel class session
    POST   /api/charges/{id}/void               Void a charge

  Payments:
    POST   /api/payments                        Capture payment with allocations
    GET    /api/payments/{id}                   Payment with allocations
    POST   /api/payments/{id}/void              Reverse a payment

  Settings:
    GET    /api/settings/prices                 Current prices
    PUT    /api/settings/prices                 Update prices

REQUEST FLOW:
  1. Decode JSON body and run struct validation
  2. Call the ledger
  3. Serialize response
  4. Map typed ledger errors to HTTP status

ERROR HANDLING:
  - 400: Validation errors, InvalidAmount, ExceedsBalance,
         ExceedsPaymentTotal, OwnershipMismatch, ChargeVoided
  - 404: NotFound
  - 409: Duplicate enrollment, charge or session
  - 500: Everything else, logged with the request ID

SECURITY NOTE:
  No authentication. The server is meant to listen on localhost for a
  single desk.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/warp/workshop-ledger/billing"
	"github.com/warp/workshop-ledger/ledger"
	"github.com/warp/workshop-ledger/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store   *sqlite.Store
	Ledger  *ledger.Ledger
	Pricing *ledger.SettingsPricing

	validate *validator.Validate
}

// NewHandler creates a new handler over the given store, ledger and prices.
func NewHandler(store *sqlite.Store, l *ledger.Ledger, pricing *ledger.SettingsPricing) *Handler {
	return &Handler{
		Store:    store,
		Ledger:   l,
		Pricing:  pricing,
		validate: validator.New(),
	}
}

// =============================================================================
// DIRECTORY HANDLERS
// =============================================================================

// CreateStudent creates a new student.
func (h *Handler) CreateStudent(w http.ResponseWriter, r *http.Request) {
	var req CreateNamedRequest
	if !h.decode(w, r, &req) {
		return
	}
	s := &billing.Student{Name: req.Name}
	if err := h.Store.CreateStudent(r.Context(), s); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, NamedDTO{ID: int64(s.ID), Name: s.Name})
}

// CreateWorkshop creates a new workshop.
func (h *Handler) CreateWorkshop(w http.ResponseWriter, r *http.Request) {
	var req CreateNamedRequest
	if !h.decode(w, r, &req) {
		return
	}
	ws := &billing.Workshop{Name: req.Name}
	if err := h.Store.CreateWorkshop(r.Context(), ws); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, NamedDTO{ID: int64(ws.ID), Name: ws.Name})
}

// CreateCohort creates a new cohort.
func (h *Handler) CreateCohort(w http.ResponseWriter, r *http.Request) {
	var req CreateCohortRequest
	if !h.decode(w, r, &req) {
		return
	}
	// Formats were checked by the validator.
	startsOn, _ := parseDate(req.StartsOn)
	endsOn, _ := parseDate(req.EndsOn)
	if !startsOn.IsZero() && !endsOn.IsZero() && endsOn.Before(startsOn) {
		writeError(w, http.StatusBadRequest, "ends_on is before starts_on", nil)
		return
	}

	c := &billing.Cohort{Name: req.Name, StartsOn: startsOn, EndsOn: endsOn}
	if err := h.Store.CreateCohort(r.Context(), c); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, NamedDTO{ID: int64(c.ID), Name: c.Name})
}

// =============================================================================
// STUDENT VIEWS
// =============================================================================

// ListPendingCharges returns the charges open for allocation.
func (h *Handler) ListPendingCharges(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	pending, err := h.Ledger.Queries.ListPendingCharges(r.Context(), billing.StudentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]PendingChargeDTO, len(pending))
	for i, p := range pending {
		dtos[i] = toPendingChargeDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetBalance returns the outstanding total of a student.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	b, err := h.Ledger.Queries.Balance(r.Context(), billing.StudentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		StudentID:      int64(b.StudentID),
		Outstanding:    b.Outstanding,
		Enrollment:     b.Enrollment,
		Class:          b.Class,
		PendingCharges: b.PendingCharges,
	})
}

// ListPayments returns the payment history of a student.
func (h *Handler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	payments, err := h.Ledger.Queries.ListPayments(r.Context(), billing.StudentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]PaymentDTO, len(payments))
	for i, p := range payments {
		dtos[i] = toPaymentDTO(p, nil)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ListEnrollments returns the enrollments of a student.
func (h *Handler) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	enrollments, err := h.Ledger.Queries.ListEnrollments(r.Context(), billing.StudentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dtos := make([]EnrollmentDTO, len(enrollments))
	for i, e := range enrollments {
		dtos[i] = toEnrollmentDTO(e)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// VerifyStudent re-derives the student's balances from allocations.
func (h *Handler) VerifyStudent(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	violations, err := h.Ledger.Queries.Verify(r.Context(), billing.StudentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	dto := VerifyDTO{StudentID: id, Consistent: len(violations) == 0, Violations: []string{}}
	for _, v := range violations {
		dto.Violations = append(dto.Violations, v.String())
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// ENROLLMENT HANDLERS
// =============================================================================

// Enroll registers a student in a workshop cohort.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := parseDate(req.Date)

	e, err := h.Ledger.Enrollments.Enroll(r.Context(), ledger.EnrollRequest{
		StudentID:      billing.StudentID(req.StudentID),
		WorkshopID:     billing.WorkshopID(req.WorkshopID),
		CohortID:       billing.CohortID(req.CohortID),
		InitialPayment: req.InitialPayment,
		Method:         billing.PaymentMethod(req.Method),
		Date:           date,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toEnrollmentDTO(*e))
}

// GetEnrollment returns a single enrollment.
func (h *Handler) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	e, err := h.Ledger.Queries.GetEnrollment(r.Context(), billing.EnrollmentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEnrollmentDTO(*e))
}

// CancelEnrollment cancels an enrollment. Applied payments are kept.
func (h *Handler) CancelEnrollment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.Ledger.Enrollments.Cancel(r.Context(), billing.EnrollmentID(id), req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// CLASS HANDLERS
// =============================================================================

// RegisterClass charges a student for one class day.
func (h *Handler) RegisterClass(w http.ResponseWriter, r *http.Request) {
	var req RegisterClassRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := parseDate(req.Date)

	reg, err := h.Ledger.Classes.RegisterClass(r.Context(), ledger.ClassRequest{
		StudentID:      billing.StudentID(req.StudentID),
		WorkshopID:     billing.WorkshopID(req.WorkshopID),
		Date:           date,
		InitialPayment: req.InitialPayment,
		Method:         billing.PaymentMethod(req.Method),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toClassRegistrationDTO(*reg))
}

// CancelClass cancels a class session.
func (h *Handler) CancelClass(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.Ledger.Classes.Cancel(r.Context(), billing.ClassSessionID(id), req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// VoidCharge freezes a charge.
func (h *Handler) VoidCharge(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.Ledger.Charges.Void(r.Context(), billing.ChargeID(id), req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	c, err := h.Ledger.Queries.GetCharge(r.Context(), billing.ChargeID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toChargeDTO(*c))
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// CapturePayment records a payment and its allocations.
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	var req CapturePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	allocations := make([]ledger.AllocationRequest, len(req.Allocations))
	for i, a := range req.Allocations {
		allocations[i] = ledger.AllocationRequest{ChargeID: billing.ChargeID(a.ChargeID), Amount: a.Amount}
	}

	id, err := h.Ledger.Payments.CapturePayment(r.Context(), ledger.PaymentRequest{
		StudentID:   billing.StudentID(req.StudentID),
		Total:       req.Total,
		Method:      billing.PaymentMethod(req.Method),
		Reference:   req.Reference,
		Notes:       req.Notes,
		GroupID:     req.GroupID,
		Allocations: allocations,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, IDResponse{ID: int64(id)})
}

// GetPayment returns a payment with its allocations.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	detail, err := h.Ledger.Queries.GetPayment(r.Context(), billing.PaymentID(id))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(detail.Payment, detail.Allocations))
}

// VoidPayment reverses a payment and restores every balance it touched.
func (h *Handler) VoidPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req ReasonRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	if err := h.Ledger.Payments.VoidPayment(r.Context(), billing.PaymentID(id), req.Reason); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// SETTINGS HANDLERS
// =============================================================================

// GetPrices returns the configured prices.
func (h *Handler) GetPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.prices(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// UpdatePrices sets one or both prices.
func (h *Handler) UpdatePrices(w http.ResponseWriter, r *http.Request) {
	var req UpdatePricesRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Enrollment == nil && req.Class == nil {
		writeError(w, http.StatusBadRequest, "Nothing to update", nil)
		return
	}
	if req.Enrollment != nil {
		if err := h.Pricing.SetPrice(r.Context(), ledger.PriceEnrollment, *req.Enrollment); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.Class != nil {
		if err := h.Pricing.SetPrice(r.Context(), ledger.PriceClass, *req.Class); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	h.GetPrices(w, r)
}

func (h *Handler) prices(r *http.Request) (PricesDTO, error) {
	enrollment, err := h.Pricing.Price(r.Context(), ledger.PriceEnrollment)
	if err != nil {
		return PricesDTO{}, err
	}
	class, err := h.Pricing.Price(r.Context(), ledger.PriceClass)
	if err != nil {
		return PricesDTO{}, err
	}
	return PricesDTO{Enrollment: enrollment, Class: class}, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, details any) {
	resp := ErrorResponse{Error: message}
	if err, ok := details.(error); ok {
		resp.Details = err.Error()
	} else if details != nil {
		resp.Details = details
	}
	writeJSON(w, status, resp)
}

// statusFor maps a ledger error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case billing.IsNotFound(err):
		return http.StatusNotFound
	case billing.IsConflict(err):
		return http.StatusConflict
	case billing.IsClientError(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err with its mapped status. Server errors are logged.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Printf("[%s] %s %s: %v", middleware.GetReqID(r.Context()), r.Method, r.URL.Path, err)
		writeError(w, status, "Internal error", err)
		return
	}
	writeError(w, status, http.StatusText(status), err)
}

// decode reads a JSON body into dst and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

// decodeOptional is decode for endpoints whose body may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return h.check(w, dst)
}

func (h *Handler) check(w http.ResponseWriter, dst any) bool {
	err := h.validate.Struct(dst)
	if err == nil {
		return true
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		writeError(w, http.StatusBadRequest, "Invalid input", err)
		return false
	}
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Namespace()] = fe.Tag()
	}
	writeError(w, http.StatusBadRequest, "Validation failed", fields)
	return false
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid id %q", raw), nil)
		return 0, false
	}
	return id, true
}
