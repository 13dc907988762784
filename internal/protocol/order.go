package protocol

// LimitOrder is a protocol-space resting offer to sell ForSale of one asset
// at SellPrice (spec.md §3.2). Ordered within a market by (SellPrice ASC,
// ID ASC).
type LimitOrder struct {
	ID           ObjectID
	Seller       ObjectID
	ForSale      AssetAmount
	SellPrice    Price
	Expiration   int64
	DeferredFee  AssetAmount // optional fee balance deducted incrementally on partial fills
	FillOrKill   bool
}

// AmountToReceive computes how much of SellPrice.Base the order would
// receive if fully filled at SellPrice.
func (o LimitOrder) AmountToReceive() AssetAmount {
	return AssetAmount{AssetID: o.SellPrice.Base.AssetID, Amount: o.SellPrice.Mul(o.ForSale.Amount)}
}

// CallOrder is a collateralized debt position (spec.md §3.2). Ordered
// within a debt asset's book by (CallPrice ASC, ID ASC).
type CallOrder struct {
	ID                  ObjectID
	Borrower            ObjectID
	Debt                AssetAmount // bitasset owed
	Collateral          AssetAmount // backing asset posted
	CallPrice           Price       // (collateral / debt) * (1 / MCR)
	TargetCollatRatioBp uint32      // 0 = unset; else caps per-match margin call (hardfork CR-834)
}

// CollateralRatio returns collateral/debt scaled by 1000 (matching
// Graphene's "percent" CR convention, e.g. 1750 = 175.0%).
func (c CallOrder) CollateralRatio() uint32 {
	if c.Debt.Amount == 0 {
		return ^uint32(0)
	}
	ratio := MulRatio(c.Collateral.Amount, 1000, 1)
	return uint32(ratio / c.Debt.Amount)
}

// ForceSettlement is a pending redemption of bitasset units against
// collateral, scheduled to execute at a future time (spec.md §3.2).
type ForceSettlement struct {
	ID            ObjectID
	Owner         ObjectID
	Balance       AssetAmount
	SettlementAt  int64
}

// CollateralBid is a holder's offer to recollateralize a globally settled
// bitasset (spec.md §4.3.7).
type CollateralBid struct {
	ID                ObjectID
	Bidder            ObjectID
	CollateralOffered AssetAmount
	DebtCovered       AssetAmount
}
