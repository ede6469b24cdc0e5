package billing_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/warp/workshop-ledger/billing"
)

func TestNextChargeStatus(t *testing.T) {
	tests := []struct {
		name      string
		current   billing.ChargeStatus
		remaining int64
		voided    bool
		want      billing.ChargeStatus
	}{
		{"balance left", billing.ChargePending, 100, false, billing.ChargePending},
		{"settled", billing.ChargePending, 0, false, billing.ChargePaid},
		{"reopened by reversal", billing.ChargePaid, 50, false, billing.ChargePending},
		{"void", billing.ChargePending, 100, true, billing.ChargeVoided},
		{"voided is terminal", billing.ChargeVoided, 0, false, billing.ChargeVoided},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.NextChargeStatus(tt.current, decimal.NewFromInt(tt.remaining), tt.voided)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNextEnrollmentStatus(t *testing.T) {
	amount := decimal.NewFromInt(600)
	tests := []struct {
		name      string
		current   billing.EnrollmentStatus
		remaining int64
		cancelled bool
		want      billing.EnrollmentStatus
	}{
		{"untouched", billing.EnrollmentPending, 600, false, billing.EnrollmentPending},
		{"partly paid", billing.EnrollmentPending, 400, false, billing.EnrollmentPartial},
		{"paid", billing.EnrollmentPartial, 0, false, billing.EnrollmentPaid},
		{"reversed to untouched", billing.EnrollmentPaid, 600, false, billing.EnrollmentPending},
		{"cancel", billing.EnrollmentPartial, 400, true, billing.EnrollmentCancelled},
		{"cancelled is terminal", billing.EnrollmentCancelled, 0, false, billing.EnrollmentCancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := billing.NextEnrollmentStatus(tt.current, amount, decimal.NewFromInt(tt.remaining), tt.cancelled)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney(t *testing.T) {
	assert.Equal(t, "10.13", billing.Money(decimal.RequireFromString("10.125")).String())

	assert.False(t, billing.ExceedsWithTolerance(decimal.RequireFromString("100.0005"), decimal.NewFromInt(100)))
	assert.True(t, billing.ExceedsWithTolerance(decimal.RequireFromString("100.01"), decimal.NewFromInt(100)))
	assert.True(t, billing.MinMoney(decimal.NewFromInt(3), decimal.NewFromInt(5)).Equal(decimal.NewFromInt(3)))
}

func TestRecordPredicates(t *testing.T) {
	c := billing.Charge{Amount: decimal.NewFromInt(150), Remaining: decimal.NewFromInt(40), Status: billing.ChargePending}
	assert.True(t, c.Collectible())
	assert.True(t, c.Applied().Equal(decimal.NewFromInt(110)))

	c.Status = billing.ChargeVoided
	assert.False(t, c.Collectible(), "voided charges take no allocations")
	c.Status, c.Deleted = billing.ChargePending, true
	assert.False(t, c.Collectible())

	e := billing.Enrollment{Status: billing.EnrollmentPartial}
	assert.True(t, e.Active())
	e.Status = billing.EnrollmentCancelled
	assert.False(t, e.Active())
	e.Status, e.Deleted = billing.EnrollmentPaid, true
	assert.False(t, e.Active())
}
