/*
handlers_test.go - HTTP tests for API handlers

Tests for:
- Full desk flow: create directory rows, enroll, capture, list
- Error mapping (400 / 404 / 409)
- Validation of request bodies
- Payment reversal and price settings
*/
package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-ledger/api"
	"github.com/warp/workshop-ledger/ledger"
	"github.com/warp/workshop-ledger/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	router http.Handler
}

func newTestServer(t *testing.T) *testServer {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	pricing := ledger.NewSettingsPricing(store, decimal.NewFromInt(600), decimal.NewFromInt(150))
	h := api.NewHandler(store, ledger.New(store, pricing), pricing)
	return &testServer{t: t, router: api.NewRouter(h, []string{"http://localhost:5173"})}
}

func (s *testServer) do(method, path string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func path(format string, id int64) string {
	return fmt.Sprintf(format, id)
}

func (s *testServer) decode(rec *httptest.ResponseRecorder, dst any) {
	s.t.Helper()
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), dst), rec.Body.String())
}

func (s *testServer) create(path, name string) int64 {
	s.t.Helper()
	rec := s.do(http.MethodPost, path, map[string]string{"name": name})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto api.NamedDTO
	s.decode(rec, &dto)
	return dto.ID
}

type directory struct {
	student, other, workshop, cohort int64
}

func (s *testServer) seed() directory {
	return directory{
		student:  s.create("/api/students", "Ana"),
		other:    s.create("/api/students", "Beto"),
		workshop: s.create("/api/workshops", "Ceramics"),
		cohort:   s.create("/api/cohorts", "Spring 2025"),
	}
}

func (s *testServer) enroll(d directory, initial string) api.EnrollmentDTO {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/enrollments", map[string]any{
		"student_id":      d.student,
		"workshop_id":     d.workshop,
		"cohort_id":       d.cohort,
		"initial_payment": initial,
		"date":            "2025-03-10",
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var dto api.EnrollmentDTO
	s.decode(rec, &dto)
	return dto
}

func (s *testServer) pending(student int64) []api.PendingChargeDTO {
	s.t.Helper()
	rec := s.do(http.MethodGet, path("/api/students/%d/pending-charges", student), nil)
	require.Equal(s.t, http.StatusOK, rec.Code)
	var dtos []api.PendingChargeDTO
	s.decode(rec, &dtos)
	return dtos
}

func (s *testServer) errorBody(rec *httptest.ResponseRecorder) api.ErrorResponse {
	s.t.Helper()
	var resp api.ErrorResponse
	s.decode(rec, &resp)
	return resp
}

// =============================================================================
// FLOW
// =============================================================================

func TestAPI_EnrollCaptureAndVerify(t *testing.T) {
	// GIVEN: A student enrolled with 200 paid of 600
	// WHEN: The desk captures the remaining 400 against the pending charge
	// THEN: Nothing is pending, balance is zero, verify reports consistent

	s := newTestServer(t)
	d := s.seed()

	e := s.enroll(d, "200")
	assert.Equal(t, "partial", e.Status)
	assert.True(t, e.Remaining.Equal(decimal.NewFromInt(400)))

	pending := s.pending(d.student)
	require.Len(t, pending, 1)
	assert.Equal(t, "Enrollment: Ceramics (Spring 2025)", pending[0].Description)

	rec := s.do(http.MethodPost, "/api/payments", map[string]any{
		"student_id": d.student,
		"total":      400,
		"method":     "card",
		"allocations": []map[string]any{
			{"charge_id": pending[0].ChargeID, "amount": "400"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created api.IDResponse
	s.decode(rec, &created)

	rec = s.do(http.MethodGet, path("/api/payments/%d", created.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payment api.PaymentDTO
	s.decode(rec, &payment)
	assert.Equal(t, "card", payment.Method)
	require.Len(t, payment.Allocations, 1)

	rec = s.do(http.MethodGet, path("/api/enrollments/%d", e.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	s.decode(rec, &e)
	assert.Equal(t, "paid", e.Status)

	assert.Empty(t, s.pending(d.student))

	rec = s.do(http.MethodGet, path("/api/students/%d/balance", d.student), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var balance api.BalanceDTO
	s.decode(rec, &balance)
	assert.True(t, balance.Outstanding.IsZero())

	rec = s.do(http.MethodGet, path("/api/students/%d/verify", d.student), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verify api.VerifyDTO
	s.decode(rec, &verify)
	assert.True(t, verify.Consistent, verify.Violations)

	rec = s.do(http.MethodGet, path("/api/students/%d/payments", d.student), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var payments []api.PaymentDTO
	s.decode(rec, &payments)
	assert.Len(t, payments, 2)
}

func TestAPI_ClassRegistration(t *testing.T) {
	s := newTestServer(t)
	d := s.seed()

	body := map[string]any{"student_id": d.student, "workshop_id": d.workshop, "date": "2025-03-10", "initial_payment": 200}
	rec := s.do(http.MethodPost, "/api/classes", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var reg api.ClassRegistrationDTO
	s.decode(rec, &reg)
	assert.Equal(t, "2025-03-10", reg.Session.Date)
	assert.Equal(t, "paid", reg.Charge.Status)
	require.NotNil(t, reg.PaymentID)

	rec = s.do(http.MethodPost, "/api/classes", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(http.MethodPost, path("/api/classes/%d/cancel", reg.Session.ID), map[string]string{"reason": "holiday"})
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorMapping(t *testing.T) {
	s := newTestServer(t)
	d := s.seed()
	e := s.enroll(d, "0")
	charge := s.pending(d.student)[0].ChargeID

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"duplicate enrollment", http.MethodPost, "/api/enrollments",
			map[string]any{"student_id": d.student, "workshop_id": d.workshop, "cohort_id": d.cohort}, http.StatusConflict},
		{"unknown cohort", http.MethodPost, "/api/enrollments",
			map[string]any{"student_id": d.student, "workshop_id": d.workshop, "cohort_id": 999}, http.StatusNotFound},
		{"initial above price", http.MethodPost, "/api/enrollments",
			map[string]any{"student_id": d.other, "workshop_id": d.workshop, "cohort_id": d.cohort, "initial_payment": 601}, http.StatusBadRequest},
		{"exceeds balance", http.MethodPost, "/api/payments",
			map[string]any{"student_id": d.student, "total": 700, "allocations": []map[string]any{{"charge_id": charge, "amount": 700}}}, http.StatusBadRequest},
		{"short of total", http.MethodPost, "/api/payments",
			map[string]any{"student_id": d.student, "total": 400, "allocations": []map[string]any{{"charge_id": charge, "amount": 350}}}, http.StatusBadRequest},
		{"ownership mismatch", http.MethodPost, "/api/payments",
			map[string]any{"student_id": d.other, "total": 100, "allocations": []map[string]any{{"charge_id": charge, "amount": 100}}}, http.StatusBadRequest},
		{"no allocations", http.MethodPost, "/api/payments",
			map[string]any{"student_id": d.student, "total": 100}, http.StatusBadRequest},
		{"unknown payment", http.MethodGet, "/api/payments/999", nil, http.StatusNotFound},
		{"unknown enrollment cancel", http.MethodPost, "/api/enrollments/999/cancel", nil, http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/enrollments/abc", nil, http.StatusBadRequest},
		{"bad method", http.MethodPost, "/api/enrollments",
			map[string]any{"student_id": d.other, "workshop_id": d.workshop, "cohort_id": d.cohort, "method": "barter"}, http.StatusBadRequest},
		{"bad date", http.MethodPost, "/api/classes",
			map[string]any{"student_id": d.student, "workshop_id": d.workshop, "date": "10/03/2025"}, http.StatusBadRequest},
		{"missing name", http.MethodPost, "/api/students", map[string]any{}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			assert.NotEmpty(t, s.errorBody(rec).Error)
		})
	}

	// Nothing above touched the enrollment
	rec := s.do(http.MethodGet, path("/api/enrollments/%d", e.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got api.EnrollmentDTO
	s.decode(rec, &got)
	assert.True(t, got.Remaining.Equal(decimal.NewFromInt(600)))
}

func TestAPI_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/payments", bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// VOIDS AND SETTINGS
// =============================================================================

func TestAPI_VoidPaymentAndCharge(t *testing.T) {
	s := newTestServer(t)
	d := s.seed()
	e := s.enroll(d, "600")
	assert.Equal(t, "paid", e.Status)

	rec := s.do(http.MethodGet, path("/api/students/%d/payments", d.student), nil)
	var payments []api.PaymentDTO
	s.decode(rec, &payments)
	require.Len(t, payments, 1)

	rec = s.do(http.MethodPost, path("/api/payments/%d/void", payments[0].ID), map[string]string{"reason": "wrong student"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	pending := s.pending(d.student)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Remaining.Equal(decimal.NewFromInt(600)))

	rec = s.do(http.MethodPost, path("/api/charges/%d/void", pending[0].ChargeID), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var charge api.ChargeDTO
	s.decode(rec, &charge)
	assert.Equal(t, "voided", charge.Status)
	assert.Empty(t, s.pending(d.student))
}

func TestAPI_Prices(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/settings/prices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prices api.PricesDTO
	s.decode(rec, &prices)
	assert.True(t, prices.Enrollment.Equal(decimal.NewFromInt(600)))
	assert.True(t, prices.Class.Equal(decimal.NewFromInt(150)))

	rec = s.do(http.MethodPut, "/api/settings/prices", map[string]any{"class": "180.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	s.decode(rec, &prices)
	assert.True(t, prices.Class.Equal(decimal.RequireFromString("180.5")))
	assert.True(t, prices.Enrollment.Equal(decimal.NewFromInt(600)))

	rec = s.do(http.MethodPut, "/api/settings/prices", map[string]any{"enrollment": 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPut, "/api/settings/prices", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
