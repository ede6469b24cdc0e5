package ledger_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-ledger/billing"
	"github.com/warp/workshop-ledger/ledger"
)

func TestListPendingCharges_Order(t *testing.T) {
	// GIVEN: Enrollment (600 owed), a class with 150 owed, a class with 100 owed
	// WHEN: Listing pending charges
	// THEN: Classes first by balance descending, then the enrollment

	f := newFixture(t)
	ctx := context.Background()

	e := f.enroll(t, 0)
	partly := f.registerClass(t, f.student, march10, 50)
	unpaid := f.registerClass(t, f.student, march10.AddDate(0, 0, 7), 0)
	paid := f.registerClass(t, f.student, march10.AddDate(0, 0, 14), 150)

	pending, err := f.ledger.Queries.ListPendingCharges(ctx, f.student)
	require.NoError(t, err)
	require.Len(t, pending, 3)

	assert.Equal(t, unpaid.Charge.ID, pending[0].ChargeID)
	assert.Equal(t, partly.Charge.ID, pending[1].ChargeID)
	assertMoney(t, 100, pending[1].Remaining)
	assert.Equal(t, billing.ChargeEnrollment, pending[2].Kind)
	require.NotNil(t, pending[2].EnrollmentID)
	assert.Equal(t, e.ID, *pending[2].EnrollmentID)

	assert.Equal(t, "Enrollment: Ceramics (Spring 2025)", pending[2].Description)
	assert.Equal(t, "Class: Ceramics 2025-03-17", pending[0].Description)

	for _, p := range pending {
		assert.NotEqual(t, paid.Charge.ID, p.ChargeID, "paid charges are not pending")
	}
}

func TestListPendingCharges_OtherStudentsAreHidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.registerClass(t, f.other, march10, 0)

	pending, err := f.ledger.Queries.ListPendingCharges(ctx, f.student)
	require.NoError(t, err)
	assert.NotNil(t, pending)
	assert.Empty(t, pending)

	pending, err = f.ledger.Queries.ListPendingCharges(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.enroll(t, 200)
	f.registerClass(t, f.student, march10, 0)
	voided := f.registerClass(t, f.student, march10.AddDate(0, 0, 1), 0)
	require.NoError(t, f.ledger.Charges.Void(ctx, voided.Charge.ID, ""))

	b, err := f.ledger.Queries.Balance(ctx, f.student)
	require.NoError(t, err)
	assertMoney(t, 550, b.Outstanding)
	assertMoney(t, 400, b.Enrollment)
	assertMoney(t, 150, b.Class)
	assert.Equal(t, 2, b.PendingCharges)
}

func TestVerify_DetectsDrift(t *testing.T) {
	// GIVEN: A consistent ledger
	// WHEN: A charge balance is edited behind the ledger's back
	// THEN: Verify reports the charge and the enrollment out of sync

	f := newFixture(t)
	ctx := context.Background()
	e := f.enroll(t, 200)
	f.assertConsistent(t, f.student)

	c := f.enrollmentCharge(t, e.ID)
	c.Remaining = decimal.NewFromInt(100)
	require.NoError(t, f.store.UpdateCharge(ctx, c))

	violations, err := f.ledger.Queries.Verify(ctx, f.student)
	require.NoError(t, err)
	require.NotEmpty(t, violations)

	entities := map[string]bool{}
	for _, v := range violations {
		entities[v.Entity] = true
		assert.NotEmpty(t, v.String())
	}
	assert.True(t, entities["charge"])
	assert.True(t, entities["enrollment"])
}

func TestGetPayment_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Queries.GetPayment(context.Background(), 1)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = f.ledger.Queries.GetEnrollment(context.Background(), 1)
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = f.ledger.Queries.GetCharge(context.Background(), 1)
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

// =============================================================================
// PRICING
// =============================================================================

func TestSettingsPricing_PersistsDefaultOnFirstRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, ok, err := f.store.GetSetting(ctx, string(ledger.PriceClass))
	require.NoError(t, err)
	assert.False(t, ok)

	price, err := f.pricing.Price(ctx, ledger.PriceClass)
	require.NoError(t, err)
	assertMoney(t, 150, price)

	raw, ok, err := f.store.GetSetting(ctx, string(ledger.PriceClass))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "150", raw)

	// A persisted value wins over a changed default
	f.pricing.Defaults[ledger.PriceClass] = decimal.NewFromInt(999)
	price, err = f.pricing.Price(ctx, ledger.PriceClass)
	require.NoError(t, err)
	assertMoney(t, 150, price)
}

func TestSettingsPricing_RejectsBadValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.pricing.SetPrice(ctx, ledger.PriceEnrollment, decimal.Zero), billing.ErrInvalidAmount)

	require.NoError(t, f.store.PutSetting(ctx, string(ledger.PriceEnrollment), "abc"))
	_, err := f.pricing.Price(ctx, ledger.PriceEnrollment)
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)

	_, err = f.pricing.Price(ctx, ledger.PriceKey("price.unknown"))
	assert.Error(t, err)
}
