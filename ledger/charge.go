package ledger

import (
	"context"

	"github.com/warp/workshop-ledger/billing"
)

// ChargeService handles administrative changes to charges.
type ChargeService struct {
	Store billing.TxStore
	Now   Clock
}

// Void freezes a charge. Its remaining balance and existing allocations are
// kept as recorded; the charge no longer appears as pending and rejects new
// allocations. Voiding an already-voided charge is a no-op.
func (s *ChargeService) Void(ctx context.Context, id billing.ChargeID, reason string) error {
	return s.Store.WithTx(ctx, func(st billing.Store) error {
		c, err := st.GetCharge(ctx, id)
		if err != nil {
			return err
		}
		if c == nil || c.Deleted {
			return billing.NotFound("charge", int64(id))
		}
		if c.Status == billing.ChargeVoided {
			return nil
		}

		at := now(s.Now)
		c.Status = billing.NextChargeStatus(c.Status, c.Remaining, true)
		c.VoidReason = reason
		c.VoidedAt = &at
		return st.UpdateCharge(ctx, *c)
	})
}
