package market

import (
	"sort"

	"github.com/holiman/uint256"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// RunMarginCallLoop implements spec.md §4.3.4: while a call order on
// bitasset is undercollateralized relative to the feed's maintenance
// trigger, fill it against the best limit order willing to sell the debt
// asset at or below the maximum short-squeeze price. Returns every fill
// emitted, and whether the loop instead triggered global settlement.
func (e *Engine) RunMarginCallLoop(coord protocol.VirtualOpCoordinate, bitassetAssetID protocol.ObjectID) (protocol.VirtualOps, bool, error) {
	asset, err := e.asset(bitassetAssetID)
	if err != nil {
		return nil, false, err
	}
	bad, err := e.bitAssetData(asset)
	if err != nil {
		return nil, false, err
	}
	if bad.HasSettlement() {
		return nil, false, nil
	}

	msp := bad.CurrentFeed.SettlementPrice
	mssr := bad.CurrentFeed.MaximumShortSqueezeRat
	if mssr == 0 {
		return nil, false, nil
	}
	// mssp is msp scaled up by mssr/1000 (MSSR=1100 lets the call accept a
	// price up to 10% worse than feed): scale Base (collateral), since msp
	// and mssp share Base/Quote orientation (collateral per debt unit).
	mssp := protocol.Price{
		Base:  protocol.AssetAmount{AssetID: msp.Base.AssetID, Amount: protocol.MulRatio(msp.Base.Amount, uint32(mssr), 1000)},
		Quote: msp.Quote,
	}

	var vops protocol.VirtualOps
	for {
		calls := e.callOrdersFor(bitassetAssetID)
		var candidate *protocol.CallOrder
		for _, c := range calls {
			if c.CallPrice.LessThan(msp) {
				candidate = c
				break
			}
		}
		if candidate == nil {
			return vops, false, nil
		}

		backing := bad.BackingAssetID
		opposing := e.sellingOrders(bitassetAssetID, backing)
		var counter *protocol.LimitOrder
		for _, o := range opposing {
			// o.SellPrice and mssp are both Base=collateral, Quote=debt: the
			// call can close against o only if o does not ask more collateral
			// per debt unit than the call's maximum squeeze price allows.
			if mssp.GreaterOrEqual(o.SellPrice) {
				counter = o
				break
			}
		}
		if counter == nil {
			return e.globalSettle(coord, asset, bad, candidate, vops)
		}

		maxCover := candidate.Debt.Amount
		if candidate.TargetCollatRatioBp > 0 {
			maxCover = maxDebtToCoverFor(candidate, msp, mssp, bad.CurrentFeed.MaintenanceCollatRatio)
		}
		fillDebt := protocol.MinAmount(maxCover, counter.ForSale.Amount)
		fillCollateral := mssp.Mul(fillDebt)
		if fillCollateral > candidate.Collateral.Amount {
			fillCollateral = candidate.Collateral.Amount
		}

		if err := e.creditBalance(counter.Seller, backing, fillCollateral); err != nil {
			return nil, false, err
		}

		remaining := counter.ForSale.Amount - fillDebt
		if remaining == 0 {
			if err := objectdb.Remove[protocol.LimitOrder](e.store, counter.ID); err != nil {
				return nil, false, err
			}
		} else if err := objectdb.Modify(e.store, counter.ID, func(o *protocol.LimitOrder) {
			o.ForSale.Amount = remaining
		}); err != nil {
			return nil, false, err
		}

		newDebt := candidate.Debt.Amount - fillDebt
		newCollateral := candidate.Collateral.Amount - fillCollateral
		if newDebt == 0 {
			if err := objectdb.Remove[protocol.CallOrder](e.store, candidate.ID); err != nil {
				return nil, false, err
			}
		} else if err := objectdb.Modify(e.store, candidate.ID, func(c *protocol.CallOrder) {
			c.Debt.Amount = newDebt
			c.Collateral.Amount = newCollateral
			c.CallPrice = recomputeCallPrice(c.Collateral, c.Debt, bad.CurrentFeed.MaintenanceCollatRatio)
		}); err != nil {
			return nil, false, err
		}

		// The bitasset units the seller surrendered retire the call's debt
		// and leave circulation.
		if err := e.retireSupply(asset, fillDebt); err != nil {
			return nil, false, err
		}

		vops = append(vops, protocol.FillOrderVOp{
			Coordinate: coord, Order: candidate.ID, Account: candidate.Borrower,
			Pays:     protocol.AssetAmount{AssetID: bitassetAssetID, Amount: fillDebt},
			Receives: protocol.AssetAmount{AssetID: backing, Amount: fillCollateral},
			IsMaker:  false,
		}, protocol.FillOrderVOp{
			Coordinate: coord, Order: counter.ID, Account: counter.Seller,
			Pays:     protocol.AssetAmount{AssetID: backing, Amount: fillCollateral},
			Receives: protocol.AssetAmount{AssetID: bitassetAssetID, Amount: fillDebt},
			IsMaker:  true,
		})

		logging.Component("market").WithField("bitasset", bitassetAssetID.String()).Info("margin call filled")
	}
}

// ForceGlobalSettle implements spec.md §4.3.5's issuer-triggered path: unlike
// RunMarginCallLoop, which only settles as a side effect of an unfillable
// margin call, this settles bitassetAssetID immediately against its least
// collateralized open call order, regardless of whether any counterparty
// exists.
func (e *Engine) ForceGlobalSettle(coord protocol.VirtualOpCoordinate, bitassetAssetID protocol.ObjectID) (protocol.VirtualOps, error) {
	asset, err := e.asset(bitassetAssetID)
	if err != nil {
		return nil, err
	}
	bad, err := e.bitAssetData(asset)
	if err != nil {
		return nil, err
	}
	if bad.HasSettlement() {
		return nil, errs.New(errs.KindBusinessRule, "asset is already globally settled")
	}

	calls := e.callOrdersFor(bitassetAssetID)
	if len(calls) == 0 {
		return nil, errs.New(errs.KindBusinessRule, "no open call orders to settle against")
	}
	least := calls[0]

	vops, _, err := e.globalSettle(coord, asset, bad, least, nil)
	return vops, err
}

// maxDebtToCoverFor implements the target-collateral-ratio extension
// (spec.md §4.3.3 step 1, hardfork CR-834): instead of liquidating the
// whole position, cap the per-match cover at the smallest x such that
// selling x debt's worth of collateral at the squeeze price leaves the
// position at the target ratio against the feed:
//
//	(C - x*mssp) / (D - x) >= (tcr/1000) * feed
//
// solved for x with uint256 cross-products. The target is clamped up to
// MCR so an undercollateralized candidate always needs x >= 1, and a
// squeeze price too poor to ever restore the ratio falls back to covering
// the full debt.
func maxDebtToCoverFor(c *protocol.CallOrder, feed, mssp protocol.Price, mcrBp uint16) protocol.Amount {
	tcr := uint64(c.TargetCollatRatioBp)
	if tcr < uint64(mcrBp) {
		tcr = uint64(mcrBp)
	}

	mul3 := func(u, v, w uint64) *uint256.Int {
		out := new(uint256.Int).Mul(uint256.NewInt(u), uint256.NewInt(v))
		return out.Mul(out, uint256.NewInt(w))
	}

	// den = tcr*feedBase*msspQuote - 1000*feedQuote*msspBase; non-positive
	// means every unit sold at mssp worsens the ratio relative to target.
	t1 := mul3(tcr, uint64(feed.Base.Amount), uint64(mssp.Quote.Amount))
	t2 := mul3(1000, uint64(feed.Quote.Amount), uint64(mssp.Base.Amount))
	if t1.Cmp(t2) <= 0 {
		return c.Debt.Amount
	}
	den := new(uint256.Int).Sub(t1, t2)

	// num = msspQuote * (tcr*feedBase*D - 1000*feedQuote*C)
	n1 := mul3(tcr, uint64(feed.Base.Amount), uint64(c.Debt.Amount))
	n2 := mul3(1000, uint64(feed.Quote.Amount), uint64(c.Collateral.Amount))
	if n1.Cmp(n2) <= 0 {
		// Already at or above target; nothing needs covering, but the
		// caller only reaches here for a margin-call candidate, so fall
		// back to the full debt rather than stalling the loop.
		return c.Debt.Amount
	}
	num := new(uint256.Int).Sub(n1, n2)
	num.Mul(num, uint256.NewInt(uint64(mssp.Quote.Amount)))

	// ceil(num/den), capped at the position's debt.
	x := new(uint256.Int).Add(num, new(uint256.Int).Sub(den, uint256.NewInt(1)))
	x.Div(x, den)
	if !x.IsUint64() || protocol.Amount(x.Uint64()) > c.Debt.Amount {
		return c.Debt.Amount
	}
	return protocol.Amount(x.Uint64())
}

// recomputeCallPrice derives call_price = (collateral/debt) / MCR, matching
// spec.md §3.2's definition.
func recomputeCallPrice(collateral, debt protocol.AssetAmount, mcrBp uint16) protocol.Price {
	if debt.Amount == 0 || mcrBp == 0 {
		return protocol.Price{Base: collateral, Quote: debt}
	}
	scaledCollateral := protocol.MulRatio(collateral.Amount, 1000, uint32(mcrBp))
	return protocol.Price{
		Base:  protocol.AssetAmount{AssetID: collateral.AssetID, Amount: scaledCollateral},
		Quote: debt,
	}
}

// globalSettle implements spec.md §4.3.5: triggered when the least
// collateralized call cannot be closed by any counterparty even at the
// maximum squeeze price. Every outstanding call on the asset is liquidated
// at a uniform settlement price.
func (e *Engine) globalSettle(coord protocol.VirtualOpCoordinate, asset *protocol.Asset, bad *protocol.AssetBitAssetData, leastCollateralized *protocol.CallOrder, prior protocol.VirtualOps) (protocol.VirtualOps, bool, error) {
	if leastCollateralized.Debt.Amount == 0 {
		return prior, false, errs.New(errs.KindInternal, "global settlement requires a debt-bearing call")
	}
	settlementPrice := protocol.Price{Base: leastCollateralized.Collateral, Quote: leastCollateralized.Debt}

	var settlementFund protocol.Amount
	calls := e.callOrdersFor(asset.ID)
	for _, c := range calls {
		owed := settlementPrice.Mul(c.Debt.Amount)
		if owed > c.Collateral.Amount {
			owed = c.Collateral.Amount
		}
		residual := c.Collateral.Amount - owed
		settlementFund += owed
		if residual > 0 {
			if err := e.creditBalance(c.Borrower, c.Collateral.AssetID, residual); err != nil {
				return nil, false, err
			}
		}
		if err := objectdb.Remove[protocol.CallOrder](e.store, c.ID); err != nil {
			return nil, false, err
		}
	}

	if err := objectdb.Modify(e.store, bad.ID, func(d *protocol.AssetBitAssetData) {
		d.SettlementPrice = settlementPrice
		d.SettlementFund = settlementFund
	}); err != nil {
		return nil, false, err
	}

	logging.Component("market").WithField("asset", asset.ID.String()).Warn("global settlement triggered")
	return prior, true, nil
}

// retireSupply shrinks asset's circulating supply by amount, saturating at
// zero so ledger fixtures that never minted through the supply counter
// cannot underflow it.
func (e *Engine) retireSupply(asset *protocol.Asset, amount protocol.Amount) error {
	dyn, err := e.dynamicData(asset)
	if err != nil {
		return err
	}
	return objectdb.Modify(e.store, dyn.ID, func(d *protocol.AssetDynamicData) {
		d.CurrentSupply -= protocol.MinAmount(d.CurrentSupply, amount)
	})
}

// AssetSettle implements forced settlement (spec.md §4.3.6): burns amount of
// a non-settled bitasset from owner and schedules a ForceSettlement at
// now + force_settlement_delay_sec. On a globally settled asset it instead
// redeems immediately from the settlement fund at the recorded settlement
// price (spec.md §4.3.5 step 3).
func (e *Engine) AssetSettle(owner, assetID protocol.ObjectID, amount protocol.Amount, now int64) (protocol.ObjectID, error) {
	asset, err := e.asset(assetID)
	if err != nil {
		return protocol.ObjectID{}, err
	}
	bad, err := e.bitAssetData(asset)
	if err != nil {
		return protocol.ObjectID{}, err
	}
	if bad.HasSettlement() {
		return protocol.ObjectID{}, e.redeemFromSettlementFund(owner, asset, bad, amount)
	}
	if asset.Options.Flags&protocol.PermDisableForceSettle != 0 {
		return protocol.ObjectID{}, errs.New(errs.KindAuthorization, "force settlement disabled for this asset")
	}
	if err := e.debitBalance(owner, assetID, amount); err != nil {
		return protocol.ObjectID{}, err
	}
	id, _ := objectdb.Create(e.store, protocol.SpaceProtocol, protocol.TypeForceSettlement, func(fs *protocol.ForceSettlement) {
		fs.Owner = owner
		fs.Balance = protocol.AssetAmount{AssetID: assetID, Amount: amount}
		fs.SettlementAt = now + int64(bad.ForceSettlementDelaySec)
	})
	return id, nil
}

// redeemFromSettlementFund burns amount of a globally settled bitasset and
// pays out the fund's collateral at the recorded settlement price.
func (e *Engine) redeemFromSettlementFund(owner protocol.ObjectID, asset *protocol.Asset, bad *protocol.AssetBitAssetData, amount protocol.Amount) error {
	if err := e.debitBalance(owner, asset.ID, amount); err != nil {
		return err
	}
	payout := protocol.MinAmount(bad.SettlementPrice.Mul(amount), bad.SettlementFund)
	if err := e.creditBalance(owner, bad.BackingAssetID, payout); err != nil {
		return err
	}
	if err := objectdb.Modify(e.store, bad.ID, func(d *protocol.AssetBitAssetData) {
		d.SettlementFund -= payout
	}); err != nil {
		return err
	}
	return e.retireSupply(asset, amount)
}

// ProcessDueForceSettlements executes every settlement for asset due at or
// before now, capped at maximumForceSettlementVolume/10000 of current
// supply per maintenance interval; settlements beyond the cap are left
// queued for the next interval (spec.md §4.3.6).
func (e *Engine) ProcessDueForceSettlements(coord protocol.VirtualOpCoordinate, assetID protocol.ObjectID, now int64) (protocol.VirtualOps, error) {
	asset, err := e.asset(assetID)
	if err != nil {
		return nil, err
	}
	bad, err := e.bitAssetData(asset)
	if err != nil {
		return nil, err
	}
	dyn, err := e.dynamicData(asset)
	if err != nil {
		return nil, err
	}

	capVol := protocol.MulRatio(dyn.CurrentSupply, uint32(bad.MaxForceSettlementVolBp), 10000)
	settled := bad.ForceSettledVolThisRound

	// Settle at the feed price worsened by the offset (a settled asset's
	// queued settlements use the recorded settlement price instead). The
	// offset scales Quote (debt) up, so the settler receives less
	// collateral per unit settled.
	ref := bad.SettlementPrice
	if !bad.HasSettlement() {
		ref = bad.CurrentFeed.SettlementPrice
	}
	offsetPrice := protocol.Price{
		Base:  ref.Base,
		Quote: protocol.AssetAmount{AssetID: ref.Quote.AssetID, Amount: protocol.MulRatio(ref.Quote.Amount, 10000+uint32(bad.ForceSettlementOffsetBp), 10000)},
	}

	var vops protocol.VirtualOps
	pending := e.forceSettlementsFor(assetID)
	calls := e.callOrdersFor(assetID)
	callIdx := 0

	for _, fs := range pending {
		if fs.SettlementAt > now {
			continue
		}
		if settled+fs.Balance.Amount > capVol {
			continue // left queued, spec.md §4.3.6
		}
		if callIdx >= len(calls) {
			break
		}
		candidate := calls[callIdx]
		collateralOwed := offsetPrice.Mul(fs.Balance.Amount)
		if collateralOwed > candidate.Collateral.Amount {
			collateralOwed = candidate.Collateral.Amount
		}

		if err := e.creditBalance(fs.Owner, candidate.Collateral.AssetID, collateralOwed); err != nil {
			return nil, err
		}
		if err := objectdb.Modify(e.store, candidate.ID, func(c *protocol.CallOrder) {
			c.Debt.Amount -= protocol.MinAmount(c.Debt.Amount, fs.Balance.Amount)
			c.Collateral.Amount -= collateralOwed
		}); err != nil {
			return nil, err
		}
		if err := objectdb.Remove[protocol.ForceSettlement](e.store, fs.ID); err != nil {
			return nil, err
		}

		if err := e.retireSupply(asset, fs.Balance.Amount); err != nil {
			return nil, err
		}

		settled += fs.Balance.Amount
		vops = append(vops, protocol.AssetSettleCancelVOp{
			Coordinate: coord, Settlement: fs.ID, Account: fs.Owner, Amount: fs.Balance,
		})
	}

	if err := objectdb.Modify(e.store, bad.ID, func(d *protocol.AssetBitAssetData) {
		d.ForceSettledVolThisRound = settled
	}); err != nil {
		return nil, err
	}
	return vops, nil
}

// AcceptCollateralBids implements spec.md §4.3.7: at maintenance, if the
// bids against a globally-settled asset recollateralize it at MCR, accept
// them highest-ratio-first and lift the settlement.
func (e *Engine) AcceptCollateralBids(coord protocol.VirtualOpCoordinate, assetID protocol.ObjectID) (protocol.VirtualOps, error) {
	asset, err := e.asset(assetID)
	if err != nil {
		return nil, err
	}
	bad, err := e.bitAssetData(asset)
	if err != nil {
		return nil, err
	}
	if !bad.HasSettlement() {
		return nil, nil
	}

	bids := objectdb.All[protocol.CollateralBid](e.store, protocol.SpaceProtocol, protocol.TypeCollateralBid)
	var ours []*protocol.CollateralBid
	var totalCollateral, totalDebt protocol.Amount
	for _, b := range bids {
		if b.DebtCovered.AssetID != assetID {
			continue
		}
		ours = append(ours, b)
		totalCollateral += b.CollateralOffered.Amount
		totalDebt += b.DebtCovered.Amount
	}
	if totalDebt == 0 {
		return nil, nil
	}

	dyn, err := e.dynamicData(asset)
	if err != nil {
		return nil, err
	}
	outstanding := dyn.CurrentSupply
	if totalDebt < outstanding {
		return nil, nil // bids do not yet cover the outstanding supply
	}

	// The settlement fund's collateral counts toward the bidders' backing:
	// each accepted bid reopens with its own collateral plus a pro-rata
	// share of the fund.
	mcr := bad.CurrentFeed.MaintenanceCollatRatio
	requiredCollateral := protocol.MulRatio(totalDebt, uint32(mcr), 1000)
	if totalCollateral+bad.SettlementFund < requiredCollateral {
		return nil, nil // not enough to recollateralize yet
	}

	// Highest collateral-per-debt ratio first (spec.md §4.3.7).
	sort.SliceStable(ours, func(i, j int) bool {
		ri := protocol.Price{Base: ours[i].CollateralOffered, Quote: ours[i].DebtCovered}
		rj := protocol.Price{Base: ours[j].CollateralOffered, Quote: ours[j].DebtCovered}
		return rj.LessThan(ri)
	})

	var vops protocol.VirtualOps
	fund := bad.SettlementFund
	distributed := protocol.Amount(0)
	var coveredDebt protocol.Amount
	for i, b := range ours {
		if err := objectdb.Remove[protocol.CollateralBid](e.store, b.ID); err != nil {
			return nil, err
		}
		if coveredDebt >= outstanding && outstanding > 0 {
			// Outstanding debt is fully re-bid; later (lower-ratio) bids
			// are cancelled and their collateral returned.
			if err := e.creditBalance(b.Bidder, b.CollateralOffered.AssetID, b.CollateralOffered.Amount); err != nil {
				return nil, err
			}
			continue
		}
		fundShare := protocol.Price{
			Base:  protocol.AssetAmount{Amount: fund},
			Quote: protocol.AssetAmount{Amount: totalDebt},
		}.Mul(b.DebtCovered.Amount)
		if i == len(ours)-1 {
			fundShare = fund - distributed
		}
		distributed += fundShare
		collateral := protocol.AssetAmount{AssetID: b.CollateralOffered.AssetID, Amount: b.CollateralOffered.Amount + fundShare}
		objectdb.Create(e.store, protocol.SpaceProtocol, protocol.TypeCallOrder, func(c *protocol.CallOrder) {
			c.Borrower = b.Bidder
			c.Debt = b.DebtCovered
			c.Collateral = collateral
			c.CallPrice = recomputeCallPrice(c.Collateral, c.Debt, mcr)
		})
		coveredDebt += b.DebtCovered.Amount
		vops = append(vops, protocol.ExecuteBidVOp{Coordinate: coord, Bidder: b.Bidder, Collateral: collateral, Debt: b.DebtCovered})
	}

	if err := objectdb.Modify(e.store, bad.ID, func(d *protocol.AssetBitAssetData) {
		d.SettlementPrice = protocol.Price{}
		d.SettlementFund = fund - distributed
	}); err != nil {
		return nil, err
	}
	logging.Component("market").WithField("asset", assetID.String()).Info("collateral bids accepted, settlement lifted")
	return vops, nil
}
