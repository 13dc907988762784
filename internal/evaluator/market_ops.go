package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

type limitOrderCreateEvaluator struct{}

func (limitOrderCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	o := op.(protocol.LimitOrderCreateOp)
	if o.ForSale.Amount == 0 {
		return errs.New(errs.KindStructural, "for_sale amount must be nonzero")
	}
	if o.ForSale.AssetID == o.MinReceive.AssetID {
		return errs.New(errs.KindStructural, "cannot trade an asset for itself")
	}
	return nil
}

func (limitOrderCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	o := op.(protocol.LimitOrderCreateOp)
	bal, ok := findBalance(ctx.Store, o.Seller, o.ForSale.AssetID)
	if !ok || bal.Amount < o.ForSale.Amount {
		return errs.New(errs.KindBusinessRule, "insufficient balance to sell")
	}
	return nil
}

func (limitOrderCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	o := op.(protocol.LimitOrderCreateOp)
	if err := debitBalance(ctx.Store, o.Seller, o.ForSale.AssetID, o.ForSale.Amount); err != nil {
		return nil, err
	}

	order := &protocol.LimitOrder{
		Seller:  o.Seller,
		ForSale: o.ForSale,
		SellPrice: protocol.Price{
			Base:  o.MinReceive,
			Quote: o.ForSale,
		},
		Expiration: o.Expiration,
		FillOrKill: o.FillOrKill,
	}

	vops, remainder, err := ctx.Market.MatchLimitOrder(ctx.NextCoordinate(), order)
	if err != nil {
		return nil, err
	}
	if remainder {
		objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeLimitOrder, func(l *protocol.LimitOrder) {
			*l = *order
		})
	}

	// If either side of the market is a bitasset, the freshly inserted
	// order may be the counterparty an undercollateralized call has been
	// waiting for: run the margin-call loop now, in the same operation,
	// rather than letting the order sit until block tail (spec.md §4.3.2
	// step 5 and the §4.3.4 item 4 fairness rule — an order priced below
	// MSSP but at or above the maintenance trigger fills the call instead
	// of resting).
	for _, assetID := range []protocol.ObjectID{o.ForSale.AssetID, o.MinReceive.AssetID} {
		a, err := objectdb.Get[protocol.Asset](ctx.Store, assetID)
		if err != nil {
			return nil, err
		}
		if !a.IsBitAsset() {
			continue
		}
		mvops, _, err := ctx.Market.RunMarginCallLoop(ctx.NextCoordinate(), assetID)
		if err != nil {
			return nil, err
		}
		vops = append(vops, mvops...)
	}
	return vops, nil
}

type limitOrderCancelEvaluator struct{}

func (limitOrderCancelEvaluator) Validate(_ *EvalContext, _ protocol.Operation) error { return nil }

func (limitOrderCancelEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	c := op.(protocol.LimitOrderCancelOp)
	order, err := objectdb.Get[protocol.LimitOrder](ctx.Store, c.Order)
	if err != nil {
		return err
	}
	if order.Seller != c.Owner {
		return errs.New(errs.KindAuthorization, "only the seller may cancel their order")
	}
	return nil
}

func (limitOrderCancelEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	c := op.(protocol.LimitOrderCancelOp)
	order, err := objectdb.Get[protocol.LimitOrder](ctx.Store, c.Order)
	if err != nil {
		return nil, err
	}
	refundAsset := order.SellPrice.Quote.AssetID
	refundAmount := order.ForSale.Amount
	if err := creditBalance(ctx.Store, order.Seller, refundAsset, refundAmount); err != nil {
		return nil, err
	}
	return nil, objectdb.Remove[protocol.LimitOrder](ctx.Store, c.Order)
}

type callOrderUpdateEvaluator struct{}

func (callOrderUpdateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	u := op.(protocol.CallOrderUpdateOp)
	if u.DeltaDebt.Amount == 0 && u.DebtToCover.Amount == 0 &&
		u.DeltaCollateral.Amount == 0 && u.CollateralToWithdraw.Amount == 0 {
		return errs.New(errs.KindStructural, "call order update must change debt or collateral")
	}
	return nil
}

func (callOrderUpdateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	u := op.(protocol.CallOrderUpdateOp)
	debtAssetID := u.DeltaDebt.AssetID
	if debtAssetID.IsNull() {
		debtAssetID = u.DebtToCover.AssetID
	}
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, debtAssetID)
	if err != nil {
		return err
	}
	if !asset.IsBitAsset() {
		return errs.New(errs.KindBusinessRule, "debt asset must be a bitasset")
	}
	bad, err := objectdb.Get[protocol.AssetBitAssetData](ctx.Store, asset.BitAssetID)
	if err != nil {
		return err
	}
	if bad.HasSettlement() {
		return errs.New(errs.KindBusinessRule, "asset is globally settled")
	}
	return nil
}

func (callOrderUpdateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	u := op.(protocol.CallOrderUpdateOp)

	debtAssetID := u.DeltaDebt.AssetID
	if debtAssetID.IsNull() {
		debtAssetID = u.DebtToCover.AssetID
	}
	existing := findCallOrder(ctx.Store, u.Borrower, debtAssetID)
	var priorCollateral, priorDebt protocol.Amount
	var collateralAssetID protocol.ObjectID
	var callID protocol.ObjectID
	if existing != nil {
		priorCollateral = existing.Collateral.Amount
		priorDebt = existing.Debt.Amount
		collateralAssetID = existing.Collateral.AssetID
		callID = existing.ID
	} else {
		collateralAssetID = u.DeltaCollateral.AssetID
	}

	if u.DebtToCover.Amount > priorDebt+u.DeltaDebt.Amount {
		return nil, errs.New(errs.KindBusinessRule, "cannot cover more debt than the position owes")
	}
	if u.CollateralToWithdraw.Amount > priorCollateral+u.DeltaCollateral.Amount {
		return nil, errs.New(errs.KindBusinessRule, "cannot withdraw more collateral than the position holds")
	}
	newCollateral := priorCollateral + u.DeltaCollateral.Amount - u.CollateralToWithdraw.Amount
	newDebt := priorDebt + u.DeltaDebt.Amount - u.DebtToCover.Amount

	asset, err := objectdb.Get[protocol.Asset](ctx.Store, debtAssetID)
	if err != nil {
		return nil, err
	}
	bad, err := objectdb.Get[protocol.AssetBitAssetData](ctx.Store, asset.BitAssetID)
	if err != nil {
		return nil, err
	}

	if err := debitBalance(ctx.Store, u.Borrower, collateralAssetID, u.DeltaCollateral.Amount); err != nil {
		return nil, err
	}
	if err := debitBalance(ctx.Store, u.Borrower, debtAssetID, u.DebtToCover.Amount); err != nil {
		return nil, err
	}

	if newDebt == 0 {
		// Position fully covered: return every remaining unit of
		// collateral and close the call.
		if err := creditBalance(ctx.Store, u.Borrower, collateralAssetID, newCollateral); err != nil {
			return nil, err
		}
		if !callID.IsNull() {
			if err := objectdb.Remove[protocol.CallOrder](ctx.Store, callID); err != nil {
				return nil, err
			}
		}
		if err := objectdb.Modify(ctx.Store, asset.DynamicDataID, func(d *protocol.AssetDynamicData) {
			d.CurrentSupply -= protocol.MinAmount(d.CurrentSupply, u.DebtToCover.Amount)
		}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	callPrice := recomputeCallPriceForEval(newCollateral, collateralAssetID, newDebt, debtAssetID, bad.CurrentFeed.MaintenanceCollatRatio)

	if u.TargetCollatRatioBp == 0 && bad.CurrentFeed.MaintenanceCollatRatio > 0 {
		if callPrice.LessThan(bad.CurrentFeed.SettlementPrice) {
			return nil, errs.New(errs.KindBusinessRule, "resulting position would be below maintenance collateral ratio")
		}
	}

	if callID.IsNull() {
		callID, _ = objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeCallOrder, func(c *protocol.CallOrder) {
			c.Borrower = u.Borrower
			c.Debt = protocol.AssetAmount{AssetID: debtAssetID, Amount: newDebt}
			c.Collateral = protocol.AssetAmount{AssetID: collateralAssetID, Amount: newCollateral}
			c.CallPrice = callPrice
			c.TargetCollatRatioBp = u.TargetCollatRatioBp
		})
	} else if err := objectdb.Modify(ctx.Store, callID, func(c *protocol.CallOrder) {
		c.Debt.Amount = newDebt
		c.Collateral.Amount = newCollateral
		c.CallPrice = callPrice
		c.TargetCollatRatioBp = u.TargetCollatRatioBp
	}); err != nil {
		return nil, err
	}

	if err := creditBalance(ctx.Store, u.Borrower, debtAssetID, u.DeltaDebt.Amount); err != nil {
		return nil, err
	}
	if err := creditBalance(ctx.Store, u.Borrower, collateralAssetID, u.CollateralToWithdraw.Amount); err != nil {
		return nil, err
	}
	// Freshly borrowed units enter circulation; covered units leave it.
	if err := objectdb.Modify(ctx.Store, asset.DynamicDataID, func(d *protocol.AssetDynamicData) {
		d.CurrentSupply += u.DeltaDebt.Amount
		d.CurrentSupply -= protocol.MinAmount(d.CurrentSupply, u.DebtToCover.Amount)
	}); err != nil {
		return nil, err
	}

	vops, _, err := ctx.Market.RunMarginCallLoop(ctx.NextCoordinate(), debtAssetID)
	return vops, err
}

func recomputeCallPriceForEval(collateral protocol.Amount, collateralAsset protocol.ObjectID, debt protocol.Amount, debtAsset protocol.ObjectID, mcrBp uint16) protocol.Price {
	if debt == 0 || mcrBp == 0 {
		return protocol.Price{
			Base:  protocol.AssetAmount{AssetID: collateralAsset, Amount: collateral},
			Quote: protocol.AssetAmount{AssetID: debtAsset, Amount: debt},
		}
	}
	scaled := protocol.MulRatio(collateral, 1000, uint32(mcrBp))
	return protocol.Price{
		Base:  protocol.AssetAmount{AssetID: collateralAsset, Amount: scaled},
		Quote: protocol.AssetAmount{AssetID: debtAsset, Amount: debt},
	}
}

func findCallOrder(store *objectdb.Store, borrower, debtAsset protocol.ObjectID) *protocol.CallOrder {
	all := objectdb.All[protocol.CallOrder](store, protocol.SpaceProtocol, protocol.TypeCallOrder)
	for _, c := range all {
		if c.Borrower == borrower && c.Debt.AssetID == debtAsset {
			return c
		}
	}
	return nil
}

type bidCollateralEvaluator struct{}

func (bidCollateralEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	b := op.(protocol.BidCollateralOp)
	if b.DebtCovered.Amount == 0 {
		return errs.New(errs.KindStructural, "debt_covered must be nonzero")
	}
	return nil
}

func (bidCollateralEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	b := op.(protocol.BidCollateralOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, b.DebtCovered.AssetID)
	if err != nil {
		return err
	}
	if !asset.IsBitAsset() {
		return errs.New(errs.KindBusinessRule, "debt asset must be a bitasset")
	}
	bad, err := objectdb.Get[protocol.AssetBitAssetData](ctx.Store, asset.BitAssetID)
	if err != nil {
		return err
	}
	if !bad.HasSettlement() {
		return errs.New(errs.KindBusinessRule, "asset is not globally settled")
	}
	bal, ok := findBalance(ctx.Store, b.Bidder, b.CollateralOffered.AssetID)
	if !ok || bal.Amount < b.CollateralOffered.Amount {
		return errs.New(errs.KindBusinessRule, "insufficient balance to bid collateral")
	}
	return nil
}

func (bidCollateralEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	b := op.(protocol.BidCollateralOp)
	if err := debitBalance(ctx.Store, b.Bidder, b.CollateralOffered.AssetID, b.CollateralOffered.Amount); err != nil {
		return nil, err
	}
	objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeCollateralBid, func(cb *protocol.CollateralBid) {
		cb.Bidder = b.Bidder
		cb.CollateralOffered = b.CollateralOffered
		cb.DebtCovered = b.DebtCovered
	})
	return nil, nil
}
