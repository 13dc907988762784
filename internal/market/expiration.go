package market

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

// ExpireLimitOrders cancels every resting limit order whose Expiration has
// passed as of now, refunding the unsold remainder (plus any deferred fee
// balance) to the seller. Invoked from the block pipeline at block tail
// alongside the feed and force-settlement sweeps (spec.md §2 control flow:
// "C7 order expirations").
func (e *Engine) ExpireLimitOrders(now int64) error {
	for _, o := range objectdb.All[protocol.LimitOrder](e.store, protocol.SpaceProtocol, protocol.TypeLimitOrder) {
		if o.Expiration > now {
			continue
		}
		if err := e.creditBalance(o.Seller, o.ForSale.AssetID, o.ForSale.Amount); err != nil {
			return err
		}
		if o.DeferredFee.Amount > 0 {
			if err := e.creditBalance(o.Seller, o.DeferredFee.AssetID, o.DeferredFee.Amount); err != nil {
				return err
			}
		}
		if err := objectdb.Remove[protocol.LimitOrder](e.store, o.ID); err != nil {
			return err
		}
	}
	return nil
}
