package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

type transferEvaluator struct{}

func (transferEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	t := op.(protocol.TransferOp)
	if t.Amount.Amount == 0 {
		return errs.New(errs.KindStructural, "transfer amount must be nonzero")
	}
	if t.From == t.To {
		return errs.New(errs.KindStructural, "cannot transfer to self")
	}
	return nil
}

func (transferEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	t := op.(protocol.TransferOp)
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, t.Amount.AssetID)
	if err != nil {
		return err
	}
	if asset.Options.Flags&protocol.PermTransferRestricted != 0 && t.From != asset.Issuer && t.To != asset.Issuer {
		return errs.New(errs.KindAuthorization, "asset transfers are restricted to the issuer")
	}
	if err := isAuthorizedForAsset(ctx.Store, asset, t.From); err != nil {
		return err
	}
	if err := isAuthorizedForAsset(ctx.Store, asset, t.To); err != nil {
		return err
	}
	bal, ok := findBalance(ctx.Store, t.From, t.Amount.AssetID)
	if !ok || bal.Amount < t.Amount.Amount {
		return errs.New(errs.KindBusinessRule, "insufficient balance")
	}
	return nil
}

func (transferEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	t := op.(protocol.TransferOp)
	if err := debitBalance(ctx.Store, t.From, t.Amount.AssetID, t.Amount.Amount); err != nil {
		return nil, err
	}
	if err := creditBalance(ctx.Store, t.To, t.Amount.AssetID, t.Amount.Amount); err != nil {
		return nil, err
	}
	return nil, nil
}

type accountWhitelistEvaluator struct{}

func (accountWhitelistEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	w := op.(protocol.AccountWhitelistOp)
	if w.Authorizer == w.AccountToList {
		return errs.New(errs.KindStructural, "cannot whitelist self")
	}
	return nil
}

func (accountWhitelistEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	w := op.(protocol.AccountWhitelistOp)
	if _, err := objectdb.Get[protocol.Account](ctx.Store, w.AccountToList); err != nil {
		return err
	}
	return nil
}

func (accountWhitelistEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	w := op.(protocol.AccountWhitelistOp)
	err := objectdb.Modify(ctx.Store, w.AccountToList, func(a *protocol.Account) {
		if a.Whitelisters == nil {
			a.Whitelisters = map[protocol.ObjectID]struct{}{}
		}
		if a.Blacklisters == nil {
			a.Blacklisters = map[protocol.ObjectID]struct{}{}
		}
		switch w.NewListing {
		case protocol.WhitelistAdd:
			a.Whitelisters[w.Authorizer] = struct{}{}
		case protocol.WhitelistRemove:
			delete(a.Whitelisters, w.Authorizer)
		case protocol.BlacklistAdd:
			a.Blacklisters[w.Authorizer] = struct{}{}
		case protocol.BlacklistRemove:
			delete(a.Blacklisters, w.Authorizer)
		}
	})
	return nil, err
}
