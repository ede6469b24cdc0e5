/*
status.go - Status transitions for charges and enrollments

PURPOSE:
  Status is a pure function of balance and lifecycle flags. Every mutator
  (capture, void, cancel) calls these functions instead of branching on
  its own, so a charge or enrollment can never drift into a status its
  balance does not justify.

CHARGE:
  pending --(remaining == 0)--> paid
  paid    --(payment voided)--> pending
  any     --(void)------------> voided   (terminal)

ENROLLMENT:
  pending --(0 < remaining < amount)--> partial
  partial --(remaining == 0)----------> paid
  any     --(cancel)------------------> cancelled   (terminal)

SEE ALSO:
  - ledger/balance.go: balanceSheet, the only writer of balances
*/
package billing

import "github.com/shopspring/decimal"

// NextChargeStatus returns the status a charge must have after its balance
// becomes remaining.
func NextChargeStatus(current ChargeStatus, remaining decimal.Decimal, voided bool) ChargeStatus {
	if current == ChargeVoided || voided {
		return ChargeVoided
	}
	if !remaining.IsPositive() {
		return ChargePaid
	}
	return ChargePending
}

// NextEnrollmentStatus returns the status an enrollment must have after its
// balance becomes remaining.
func NextEnrollmentStatus(current EnrollmentStatus, amount, remaining decimal.Decimal, cancelled bool) EnrollmentStatus {
	if current == EnrollmentCancelled || cancelled {
		return EnrollmentCancelled
	}
	switch {
	case !remaining.IsPositive():
		return EnrollmentPaid
	case remaining.LessThan(amount):
		return EnrollmentPartial
	default:
		return EnrollmentPending
	}
}
