package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/workshop-ledger/billing"
	"github.com/warp/workshop-ledger/ledger"
)

func (f *fixture) registerClass(t *testing.T, student billing.StudentID, date time.Time, initial int64) *ledger.ClassRegistration {
	t.Helper()
	reg, err := f.ledger.Classes.RegisterClass(context.Background(), ledger.ClassRequest{
		StudentID:      student,
		WorkshopID:     f.workshop,
		Date:           date,
		InitialPayment: money(initial),
	})
	require.NoError(t, err)
	return reg
}

func TestRegisterClass_CreatesSessionAndCharge(t *testing.T) {
	f := newFixture(t)

	reg := f.registerClass(t, f.student, march10, 0)

	assert.Equal(t, f.workshop, reg.Session.WorkshopID)
	assert.Equal(t, billing.SessionScheduled, reg.Session.Status)
	assert.True(t, billing.Day(march10).Equal(reg.Session.Date))

	assert.Equal(t, billing.ChargeClass, reg.Charge.Kind)
	assertMoney(t, 150, reg.Charge.Amount)
	assertMoney(t, 150, reg.Charge.Remaining)
	require.NotNil(t, reg.Charge.ClassSessionID)
	assert.Equal(t, reg.Session.ID, *reg.Charge.ClassSessionID)
	assert.Nil(t, reg.Charge.EnrollmentID)
	assert.Nil(t, reg.PaymentID)
}

func TestRegisterClass_DuplicateActiveCharge(t *testing.T) {
	// GIVEN: Student attended the Ceramics class on March 10
	// WHEN: Registering the same student for the same day again
	// THEN: DuplicateActiveCharge, no second charge

	f := newFixture(t)
	ctx := context.Background()
	first := f.registerClass(t, f.student, march10, 0)

	_, err := f.ledger.Classes.RegisterClass(ctx, ledger.ClassRequest{
		StudentID:      f.student,
		WorkshopID:     f.workshop,
		Date:           march10.Add(2 * time.Hour),
		InitialPayment: money(50),
	})
	require.ErrorIs(t, err, billing.ErrDuplicateActiveCharge)
	var dup *billing.DuplicateChargeError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, first.Charge.ID, dup.ExistingID)

	charges, err := f.store.ListChargesByStudent(ctx, f.student)
	require.NoError(t, err)
	assert.Len(t, charges, 1)

	payments, err := f.ledger.Queries.ListPayments(ctx, f.student)
	require.NoError(t, err)
	assert.Empty(t, payments)
}

func TestRegisterClass_AfterVoidedCharge(t *testing.T) {
	// GIVEN: A class charge on March 10 that was voided
	// WHEN: The student is registered for the same day again
	// THEN: A new charge is issued on the same session

	f := newFixture(t)
	ctx := context.Background()
	first := f.registerClass(t, f.student, march10, 0)
	require.NoError(t, f.ledger.Charges.Void(ctx, first.Charge.ID, "billed by mistake"))

	again := f.registerClass(t, f.student, march10, 0)
	assert.Equal(t, first.Session.ID, again.Session.ID)
	assert.NotEqual(t, first.Charge.ID, again.Charge.ID)

	pending, err := f.ledger.Queries.ListPendingCharges(ctx, f.student)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, again.Charge.ID, pending[0].ChargeID)
	f.assertConsistent(t, f.student)
}

func TestRegisterClass_ReusesSessionForSameDay(t *testing.T) {
	// GIVEN: Ana attended on March 10
	// WHEN: Beto attends the same workshop the same day
	// THEN: Both charges point at one session

	f := newFixture(t)

	ana := f.registerClass(t, f.student, march10, 0)
	beto := f.registerClass(t, f.other, march10.Add(3*time.Hour), 0)

	assert.Equal(t, ana.Session.ID, beto.Session.ID)
	assert.NotEqual(t, ana.Charge.ID, beto.Charge.ID)

	march11 := f.registerClass(t, f.student, march10.AddDate(0, 0, 1), 0)
	assert.NotEqual(t, ana.Session.ID, march11.Session.ID)
}

func TestRegisterClass_InitialPayment(t *testing.T) {
	tests := []struct {
		name       string
		initial    int64
		wantPaid   int64
		wantStatus billing.ChargeStatus
	}{
		{"partial", 100, 100, billing.ChargePending},
		{"exact", 150, 150, billing.ChargePaid},
		{"capped at price", 200, 150, billing.ChargePaid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			reg := f.registerClass(t, f.student, march10, tt.initial)
			require.NotNil(t, reg.PaymentID)
			assert.Equal(t, tt.wantStatus, reg.Charge.Status)
			assertMoney(t, 150-tt.wantPaid, reg.Charge.Remaining)

			detail, err := f.ledger.Queries.GetPayment(ctx, *reg.PaymentID)
			require.NoError(t, err)
			assertMoney(t, tt.wantPaid, detail.Payment.Total)
			require.Len(t, detail.Allocations, 1)
			assertMoney(t, tt.wantPaid, detail.Allocations[0].Amount)

			f.assertConsistent(t, f.student)
		})
	}
}

func TestRegisterClass_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.ledger.Classes.RegisterClass(ctx, ledger.ClassRequest{
		StudentID: f.student, WorkshopID: f.workshop, Date: march10, InitialPayment: money(-5),
	})
	assert.ErrorIs(t, err, billing.ErrInvalidAmount)

	_, err = f.ledger.Classes.RegisterClass(ctx, ledger.ClassRequest{
		StudentID: 999, WorkshopID: f.workshop, Date: march10,
	})
	assert.ErrorIs(t, err, billing.ErrNotFound)

	_, err = f.ledger.Classes.RegisterClass(ctx, ledger.ClassRequest{
		StudentID: f.student, WorkshopID: 999, Date: march10,
	})
	assert.ErrorIs(t, err, billing.ErrNotFound)
}

func TestCancelClass_ChargeStaysCollectible(t *testing.T) {
	// GIVEN: A class charge on March 10
	// WHEN: The session is cancelled
	// THEN: The session is soft-deleted, the charge is still pending, and a
	//       new registration on that day opens a fresh session

	f := newFixture(t)
	ctx := context.Background()
	reg := f.registerClass(t, f.student, march10, 0)

	require.NoError(t, f.ledger.Classes.Cancel(ctx, reg.Session.ID, "instructor sick"))

	session, err := f.store.GetClassSession(ctx, reg.Session.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.SessionCancelled, session.Status)
	assert.True(t, session.Deleted)
	assert.Equal(t, "instructor sick", session.CancelReason)

	pending, err := f.ledger.Queries.ListPendingCharges(ctx, f.student)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, reg.Charge.ID, pending[0].ChargeID)

	require.NoError(t, f.ledger.Classes.Cancel(ctx, reg.Session.ID, "again"), "second cancel is a no-op")

	again := f.registerClass(t, f.student, march10, 0)
	assert.NotEqual(t, reg.Session.ID, again.Session.ID)
}

func TestCancelClass_NotFound(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ledger.Classes.Cancel(context.Background(), 7, ""), billing.ErrNotFound)
}
