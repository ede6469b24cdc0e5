package billing_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-ledger/billing"
)

func TestStructuredErrors_UnwrapToSentinel(t *testing.T) {
	tests := []struct {
		err  error
		want error
	}{
		{billing.NotFound("charge", 1), billing.ErrNotFound},
		{billing.InvalidAmount("total", "-1", "must be positive"), billing.ErrInvalidAmount},
		{&billing.DuplicateEnrollmentError{StudentID: 1}, billing.ErrDuplicateActiveEnrollment},
		{&billing.DuplicateChargeError{StudentID: 1}, billing.ErrDuplicateActiveCharge},
		{&billing.OwnershipMismatchError{ChargeID: 1}, billing.ErrOwnershipMismatch},
		{&billing.ExceedsBalanceError{ChargeID: 1}, billing.ErrExceedsBalance},
		{&billing.PaymentTotalError{Total: decimal.NewFromInt(1)}, billing.ErrExceedsPaymentTotal},
		{&billing.ChargeVoidedError{ChargeID: 1}, billing.ErrChargeVoided},
	}
	for _, tt := range tests {
		t.Run(tt.want.Error(), func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.want)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestAllocationError_KeepsCause(t *testing.T) {
	cause := &billing.ExceedsBalanceError{ChargeID: 9, Available: decimal.NewFromInt(50), Requested: decimal.NewFromInt(100)}
	err := fmt.Errorf("capture: %w", &billing.AllocationError{Index: 1, Err: cause})

	assert.ErrorIs(t, err, billing.ErrExceedsBalance)
	var balErr *billing.ExceedsBalanceError
	require.True(t, errors.As(err, &balErr))
	assert.Equal(t, billing.ChargeID(9), balErr.ChargeID)
	assert.Contains(t, err.Error(), "allocation #2")
}

func TestPaymentTotalError_Message(t *testing.T) {
	over := &billing.PaymentTotalError{Total: decimal.NewFromInt(100), Allocated: decimal.NewFromInt(150)}
	short := &billing.PaymentTotalError{Total: decimal.NewFromInt(100), Allocated: decimal.NewFromInt(50)}
	assert.Contains(t, over.Error(), "exceed")
	assert.Contains(t, short.Error(), "unallocated")
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, billing.IsNotFound(billing.NotFound("payment", 3)))
	assert.True(t, billing.IsConflict(&billing.DuplicateChargeError{}))
	assert.True(t, billing.IsConflict(billing.ErrDuplicateClassSession))
	assert.False(t, billing.IsConflict(billing.ErrInvalidAmount))
	assert.True(t, billing.IsClientError(&billing.AllocationError{Err: billing.ErrOwnershipMismatch}))
	assert.False(t, billing.IsClientError(errors.New("disk full")))
}
