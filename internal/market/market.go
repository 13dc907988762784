// Package market implements C7 of SPEC_FULL.md: limit/call order matching,
// margin calls, global settlement ("black swan"), forced settlement, and
// collateral bids. It generalizes the teacher's constant-product router in
// core/amm.go — graph of pools, path pricing, SwapExactIn/Quote — into a
// price-time-priority order book per trading pair, since a Graphene market
// has no pooled liquidity, only resting orders.
//
// Responsibilities
// ----------------
//   • Order book queries ordered per spec.md §4.3.1.
//   • Limit-order matching with maker-price fills (§4.3.2).
//   • Call-order margin-call loop (§4.3.4).
//   • Global settlement and forced settlement (§4.3.5, §4.3.6).
//   • Collateral bid acceptance at maintenance (§4.3.7).
//
// Only depends on internal/objectdb and internal/protocol.
package market

import (
	"sort"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

// Engine runs order matching against a single object store.
type Engine struct {
	store *objectdb.Store
}

// NewEngine returns a market engine bound to store.
func NewEngine(store *objectdb.Store) *Engine {
	return &Engine{store: store}
}

//---------------------------------------------------------------------
// Order book queries (spec.md §4.3.1)
//---------------------------------------------------------------------

// canonicalMarket returns (min, max) so a trading pair is always addressed
// the same way regardless of argument order.
func canonicalMarket(a, b protocol.ObjectID) (protocol.ObjectID, protocol.ObjectID) {
	if less(a, b) {
		return a, b
	}
	return b, a
}

func less(a, b protocol.ObjectID) bool {
	if a.Space != b.Space {
		return a.Space < b.Space
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.Instance < b.Instance
}

// sellingOrders returns every resting limit order that sells sellAsset,
// ordered (sell_price ASC, id ASC) restricted to the pair (sellAsset,
// buyAsset) — the order book a taker order selling buyAsset would walk.
// SellPrice is buyAsset asked per sellAsset offered, so the lowest price
// is the cheapest ask and comes first.
func (e *Engine) sellingOrders(sellAsset, buyAsset protocol.ObjectID) []*protocol.LimitOrder {
	all := objectdb.All[protocol.LimitOrder](e.store, protocol.SpaceProtocol, protocol.TypeLimitOrder)
	var out []*protocol.LimitOrder
	for _, o := range all {
		if o.SellPrice.Quote.AssetID == sellAsset && o.SellPrice.Base.AssetID == buyAsset {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if priceEqual(out[i].SellPrice, out[j].SellPrice) {
			return idLess(out[i].ID, out[j].ID)
		}
		return out[i].SellPrice.LessThan(out[j].SellPrice)
	})
	return out
}

func idLess(a, b protocol.ObjectID) bool { return less(a, b) }

// priceEqual reports whether p1 and p2 express the same exchange rate.
func priceEqual(p1, p2 protocol.Price) bool {
	return p1.GreaterOrEqual(p2) && p2.GreaterOrEqual(p1)
}

// callOrdersFor returns every call order whose debt is debtAsset, ordered
// (call_price ASC, id ASC).
func (e *Engine) callOrdersFor(debtAsset protocol.ObjectID) []*protocol.CallOrder {
	all := objectdb.All[protocol.CallOrder](e.store, protocol.SpaceProtocol, protocol.TypeCallOrder)
	var out []*protocol.CallOrder
	for _, c := range all {
		if c.Debt.AssetID == debtAsset {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if priceEqual(out[i].CallPrice, out[j].CallPrice) {
			return idLess(out[i].ID, out[j].ID)
		}
		return out[j].CallPrice.GreaterOrEqual(out[i].CallPrice)
	})
	return out
}

// forceSettlementsFor returns every pending settlement against balanceAsset,
// ordered (scheduled_time ASC, id ASC).
func (e *Engine) forceSettlementsFor(balanceAsset protocol.ObjectID) []*protocol.ForceSettlement {
	all := objectdb.All[protocol.ForceSettlement](e.store, protocol.SpaceProtocol, protocol.TypeForceSettlement)
	var out []*protocol.ForceSettlement
	for _, fs := range all {
		if fs.Balance.AssetID == balanceAsset {
			out = append(out, fs)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SettlementAt != out[j].SettlementAt {
			return out[i].SettlementAt < out[j].SettlementAt
		}
		return idLess(out[i].ID, out[j].ID)
	})
	return out
}

func (e *Engine) asset(id protocol.ObjectID) (*protocol.Asset, error) {
	return objectdb.Get[protocol.Asset](e.store, id)
}

func (e *Engine) bitAssetData(a *protocol.Asset) (*protocol.AssetBitAssetData, error) {
	if a.BitAssetID.IsNull() {
		return nil, errs.New(errs.KindBusinessRule, "asset is not a bitasset")
	}
	return objectdb.Get[protocol.AssetBitAssetData](e.store, a.BitAssetID)
}

func (e *Engine) dynamicData(a *protocol.Asset) (*protocol.AssetDynamicData, error) {
	return objectdb.Get[protocol.AssetDynamicData](e.store, a.DynamicDataID)
}

func (e *Engine) creditBalance(owner, assetID protocol.ObjectID, amt protocol.Amount) error {
	bal := e.findOrCreateBalance(owner, assetID)
	return objectdb.Modify(e.store, bal.ID, func(b *protocol.AccountBalance) { b.Amount += amt })
}

func (e *Engine) debitBalance(owner, assetID protocol.ObjectID, amt protocol.Amount) error {
	bal := e.findOrCreateBalance(owner, assetID)
	if bal.Amount < amt {
		return errs.New(errs.KindBusinessRule, "insufficient balance")
	}
	return objectdb.Modify(e.store, bal.ID, func(b *protocol.AccountBalance) { b.Amount -= amt })
}

func (e *Engine) findOrCreateBalance(owner, assetID protocol.ObjectID) *protocol.AccountBalance {
	all := objectdb.All[protocol.AccountBalance](e.store, protocol.SpaceImplementation, protocol.TypeAccountBalance)
	for _, b := range all {
		if b.Owner == owner && b.AssetID == assetID {
			return b
		}
	}
	_, b := objectdb.Create(e.store, protocol.SpaceImplementation, protocol.TypeAccountBalance, func(b *protocol.AccountBalance) {
		b.Owner, b.AssetID = owner, assetID
	})
	return b
}

func (e *Engine) chargeMarketFee(asset *protocol.Asset, received protocol.AssetAmount) protocol.Amount {
	fee := protocol.MulRatio(received.Amount, uint32(asset.Options.MarketFeePercent), 10000)
	if fee > asset.Options.MaxMarketFee {
		fee = asset.Options.MaxMarketFee
	}
	if fee == 0 {
		return 0
	}
	_ = objectdb.Modify(e.store, asset.DynamicDataID, func(d *protocol.AssetDynamicData) {
		d.AccumulatedFees += fee
	})
	return fee
}

