package market

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// MatchLimitOrder repeatedly crosses order against the best opposing limit
// order until no more crosses are possible, order is fully consumed, or (for
// fill_or_kill orders) it must be rolled back (spec.md §4.3.2). It returns
// the virtual fill_order operations emitted and whether order still has a
// remainder to insert into the book.
func (e *Engine) MatchLimitOrder(coord protocol.VirtualOpCoordinate, order *protocol.LimitOrder) (protocol.VirtualOps, bool, error) {
	var vops protocol.VirtualOps
	sellAsset := order.SellPrice.Quote.AssetID
	buyAsset := order.SellPrice.Base.AssetID

	for order.ForSale.Amount > 0 {
		opposing := e.sellingOrders(buyAsset, sellAsset)
		if len(opposing) == 0 {
			break
		}
		best := opposing[0]
		if !crosses(order, best) {
			break
		}

		// The resting order is always the older one (order is matched before
		// it is inserted into the book), so the fill uses best's price,
		// expressed as buyAsset received per sellAsset paid.
		makerPrice := best.SellPrice.Invert()

		takerReceiveCap := makerPrice.Mul(order.ForSale.Amount)
		fill := protocol.MinAmount(takerReceiveCap, best.ForSale.Amount)
		takerPays := makerPrice.Invert().Mul(fill)
		if takerPays > order.ForSale.Amount {
			takerPays = order.ForSale.Amount
		}

		fv, err := e.settleFill(coord, order, best, takerPays, fill, true)
		if err != nil {
			return nil, false, err
		}
		vops = append(vops, fv...)

		order.ForSale.Amount -= takerPays
		if best.ForSale.Amount <= fill {
			if err := objectdb.Remove[protocol.LimitOrder](e.store, best.ID); err != nil {
				return nil, false, err
			}
		} else {
			if err := objectdb.Modify(e.store, best.ID, func(o *protocol.LimitOrder) {
				o.ForSale.Amount -= fill
			}); err != nil {
				return nil, false, err
			}
		}

		logging.Component("market").WithFields(map[string]any{
			"taker_order": order.ID.String(),
			"maker_order": best.ID.String(),
			"fill":        uint64(fill),
		}).Info("matched limit order")
	}

	if order.ForSale.Amount > 0 && order.FillOrKill {
		return nil, false, errs.New(errs.KindBusinessRule, "fill_or_kill order could not be fully filled")
	}
	return vops, order.ForSale.Amount > 0, nil
}

// crosses reports whether taker (selling Quote for Base) and maker (the
// best opposing order, selling taker's wanted asset back) can trade at all:
// taker's worst acceptable rate must be met by maker's offered rate.
func crosses(taker, maker *protocol.LimitOrder) bool {
	return maker.SellPrice.Invert().GreaterOrEqual(taker.SellPrice)
}

// settleFill moves balances for one match: the taker receives `receives` of
// buyAsset and pays `pays` of sellAsset; the maker receives the mirror
// amounts. Market fees are charged against the *received* asset on both
// sides. makerIsOlder picks which side is the "maker" for fee accounting
// labels only — both sides already trade at the maker's price by
// construction.
func (e *Engine) settleFill(coord protocol.VirtualOpCoordinate, taker, maker *protocol.LimitOrder, pays, receives protocol.Amount, makerIsOlder bool) (protocol.VirtualOps, error) {
	buyAsset := taker.SellPrice.Base.AssetID
	sellAsset := taker.SellPrice.Quote.AssetID

	buyAssetObj, err := e.asset(buyAsset)
	if err != nil {
		return nil, err
	}
	sellAssetObj, err := e.asset(sellAsset)
	if err != nil {
		return nil, err
	}

	takerFee := e.chargeMarketFee(buyAssetObj, protocol.AssetAmount{AssetID: buyAsset, Amount: receives})
	makerFee := e.chargeMarketFee(sellAssetObj, protocol.AssetAmount{AssetID: sellAsset, Amount: pays})

	if err := e.creditBalance(taker.Seller, buyAsset, receives-takerFee); err != nil {
		return nil, err
	}
	if err := e.creditBalance(maker.Seller, sellAsset, pays-makerFee); err != nil {
		return nil, err
	}

	return protocol.VirtualOps{
		protocol.FillOrderVOp{
			Coordinate: coord, Order: taker.ID, Account: taker.Seller,
			Pays:     protocol.AssetAmount{AssetID: sellAsset, Amount: pays},
			Receives: protocol.AssetAmount{AssetID: buyAsset, Amount: receives},
			FeeCharged: protocol.AssetAmount{AssetID: buyAsset, Amount: takerFee},
			IsMaker:  !makerIsOlder,
		},
		protocol.FillOrderVOp{
			Coordinate: coord, Order: maker.ID, Account: maker.Seller,
			Pays:     protocol.AssetAmount{AssetID: buyAsset, Amount: receives},
			Receives: protocol.AssetAmount{AssetID: sellAsset, Amount: pays},
			FeeCharged: protocol.AssetAmount{AssetID: sellAsset, Amount: makerFee},
			IsMaker:  makerIsOlder,
		},
	}, nil
}
