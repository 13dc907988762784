package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

type assetCreateEvaluator struct{}

func (assetCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	a := op.(protocol.AssetCreateOp)
	if !protocol.IsValidSymbol(a.Symbol) {
		return errs.New(errs.KindStructural, "invalid asset symbol")
	}
	if a.Precision > 12 {
		return errs.New(errs.KindStructural, "precision exceeds 12")
	}
	if a.Options.Flags&^a.Options.IssuerPermissions != 0 {
		return errs.New(errs.KindStructural, "flags must be a subset of issuer_permissions")
	}
	if !a.IsBitAsset && a.Options.Flags&(protocol.PermDisableForceSettle|protocol.PermGlobalSettle) != 0 {
		return errs.New(errs.KindStructural, "non-bitasset cannot set force-settle or global-settle flags")
	}
	return nil
}

func (assetCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	a := op.(protocol.AssetCreateOp)
	for _, existing := range objectdb.All[protocol.Asset](ctx.Store, protocol.SpaceProtocol, protocol.TypeAsset) {
		if existing.Symbol == a.Symbol {
			return errs.New(errs.KindBusinessRule, "asset symbol already in use")
		}
	}
	return nil
}

func (assetCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	a := op.(protocol.AssetCreateOp)
	dynID, _ := objectdb.Create(ctx.Store, protocol.SpaceImplementation, protocol.TypeAssetDynamicData, func(d *protocol.AssetDynamicData) {})

	var bitAssetID protocol.ObjectID
	if a.IsBitAsset {
		bitAssetID, _ = objectdb.Create(ctx.Store, protocol.SpaceImplementation, protocol.TypeAssetBitAssetData, func(d *protocol.AssetBitAssetData) {
			*d = a.BitAsset
			d.Feeds = map[protocol.ObjectID]protocol.FeedEntry{}
		})
	}

	assetID, _ := objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeAsset, func(as *protocol.Asset) {
		as.Symbol = a.Symbol
		as.Precision = a.Precision
		as.Issuer = a.Issuer
		as.Options = a.Options
		as.DynamicDataID = dynID
		as.BitAssetID = bitAssetID
	})
	if a.IsBitAsset {
		if err := objectdb.Modify(ctx.Store, bitAssetID, func(d *protocol.AssetBitAssetData) {
			d.AssetID = assetID
		}); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type assetUpdateEvaluator struct{}

func (assetUpdateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	u := op.(protocol.AssetUpdateOp)
	if u.NewOptions.Flags&^u.NewOptions.IssuerPermissions != 0 {
		return errs.New(errs.KindStructural, "flags must be a subset of issuer_permissions")
	}
	return nil
}

func (assetUpdateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	u := op.(protocol.AssetUpdateOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, u.AssetToUpdate)
	if err != nil {
		return err
	}
	if asset.Issuer != u.Issuer {
		return errs.New(errs.KindAuthorization, "only the issuer may update an asset")
	}
	if !asset.IsBitAsset() && u.NewOptions.Flags&(protocol.PermDisableForceSettle|protocol.PermGlobalSettle) != 0 {
		return errs.New(errs.KindStructural, "non-bitasset cannot set force-settle or global-settle flags")
	}
	return nil
}

func (assetUpdateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	u := op.(protocol.AssetUpdateOp)
	err := objectdb.Modify(ctx.Store, u.AssetToUpdate, func(a *protocol.Asset) {
		a.Options = u.NewOptions
	})
	return nil, err
}

type assetIssueEvaluator struct{}

func (assetIssueEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	i := op.(protocol.AssetIssueOp)
	if i.AssetToIssue.Amount == 0 {
		return errs.New(errs.KindStructural, "issue amount must be nonzero")
	}
	return nil
}

func (assetIssueEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	i := op.(protocol.AssetIssueOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, i.AssetToIssue.AssetID)
	if err != nil {
		return err
	}
	if asset.Issuer != i.Issuer {
		return errs.New(errs.KindAuthorization, "only the issuer may issue new units")
	}
	dyn, err := objectdb.Get[protocol.AssetDynamicData](ctx.Store, asset.DynamicDataID)
	if err != nil {
		return err
	}
	if dyn.CurrentSupply+i.AssetToIssue.Amount > asset.Options.MaxSupply {
		return errs.New(errs.KindBusinessRule, "issue would exceed max supply")
	}
	return isAuthorizedForAsset(ctx.Store, asset, i.IssueTo)
}

func (assetIssueEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	i := op.(protocol.AssetIssueOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, i.AssetToIssue.AssetID)
	if err != nil {
		return nil, err
	}
	if err := objectdb.Modify(ctx.Store, asset.DynamicDataID, func(d *protocol.AssetDynamicData) {
		d.CurrentSupply += i.AssetToIssue.Amount
	}); err != nil {
		return nil, err
	}
	return nil, creditBalance(ctx.Store, i.IssueTo, i.AssetToIssue.AssetID, i.AssetToIssue.Amount)
}

type assetReserveEvaluator struct{}

func (assetReserveEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	r := op.(protocol.AssetReserveOp)
	if r.AmountToReserve.Amount == 0 {
		return errs.New(errs.KindStructural, "reserve amount must be nonzero")
	}
	return nil
}

func (assetReserveEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	r := op.(protocol.AssetReserveOp)
	bal, ok := findBalance(ctx.Store, r.Payer, r.AmountToReserve.AssetID)
	if !ok || bal.Amount < r.AmountToReserve.Amount {
		return errs.New(errs.KindBusinessRule, "insufficient balance to reserve")
	}
	return nil
}

// Apply burns the reserved amount even when the payer's own standing
// would otherwise fail a whitelist check (spec.md S5: "a prior holder
// may still reserve (burn) their own balance").
func (assetReserveEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	r := op.(protocol.AssetReserveOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, r.AmountToReserve.AssetID)
	if err != nil {
		return nil, err
	}
	if err := debitBalance(ctx.Store, r.Payer, r.AmountToReserve.AssetID, r.AmountToReserve.Amount); err != nil {
		return nil, err
	}
	err = objectdb.Modify(ctx.Store, asset.DynamicDataID, func(d *protocol.AssetDynamicData) {
		d.CurrentSupply -= r.AmountToReserve.Amount
	})
	return nil, err
}

type assetPublishFeedEvaluator struct{}

func (assetPublishFeedEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	f := op.(protocol.AssetPublishFeedOp)
	if f.Feed.MaintenanceCollatRatio < 1001 {
		return errs.New(errs.KindStructural, "MCR must be >= 1001")
	}
	if f.Feed.MaximumShortSqueezeRat < 1000 {
		return errs.New(errs.KindStructural, "MSSR must be >= 1000")
	}
	return nil
}

func (assetPublishFeedEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	f := op.(protocol.AssetPublishFeedOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, f.AssetID)
	if err != nil {
		return err
	}
	if !asset.IsBitAsset() {
		return errs.New(errs.KindBusinessRule, "asset is not a bitasset")
	}
	return nil
}

func (assetPublishFeedEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	f := op.(protocol.AssetPublishFeedOp)
	if err := ctx.Feeds.Publish(f.AssetID, f.Publisher, f.Feed, ctx.ChainTime); err != nil {
		return nil, err
	}
	vops, _, err := ctx.Market.RunMarginCallLoop(ctx.NextCoordinate(), f.AssetID)
	return vops, err
}

type assetSettleEvaluator struct{}

func (assetSettleEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	s := op.(protocol.AssetSettleOp)
	if s.Amount.Amount == 0 {
		return errs.New(errs.KindStructural, "settle amount must be nonzero")
	}
	return nil
}

func (assetSettleEvaluator) Evaluate(_ *EvalContext, _ protocol.Operation) error { return nil }

func (assetSettleEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	s := op.(protocol.AssetSettleOp)
	_, err := ctx.Market.AssetSettle(s.Account, s.Amount.AssetID, s.Amount.Amount, ctx.ChainTime)
	return nil, err
}

type assetGlobalSettleEvaluator struct{}

func (assetGlobalSettleEvaluator) Validate(_ *EvalContext, _ protocol.Operation) error { return nil }

func (assetGlobalSettleEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	g := op.(protocol.AssetGlobalSettleOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, g.AssetID)
	if err != nil {
		return err
	}
	if asset.Issuer != g.Issuer {
		return errs.New(errs.KindAuthorization, "only the issuer may force global settlement")
	}
	if !asset.IsBitAsset() {
		return errs.New(errs.KindBusinessRule, "asset is not a bitasset")
	}
	return nil
}

func (assetGlobalSettleEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	g := op.(protocol.AssetGlobalSettleOp)
	return ctx.Market.ForceGlobalSettle(ctx.NextCoordinate(), g.AssetID)
}
