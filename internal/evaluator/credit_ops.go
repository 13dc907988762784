package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

const maxCreditOfferDurationSeconds = 90 * 24 * 3600

type creditOfferCreateEvaluator struct{}

func (creditOfferCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	c := op.(protocol.CreditOfferCreateOp)
	if c.Balance == 0 {
		return errs.New(errs.KindStructural, "credit offer balance must be positive")
	}
	if c.Enabled && c.MaxDurationSeconds == 0 {
		return errs.New(errs.KindStructural, "an enabled credit offer needs a nonzero max_duration_seconds")
	}
	return nil
}

func (creditOfferCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	c := op.(protocol.CreditOfferCreateOp)
	if c.Enabled {
		if c.AutoDisableTime <= ctx.ChainTime {
			return errs.New(errs.KindBusinessRule, "auto_disable_time should be in the future")
		}
		if c.AutoDisableTime-ctx.ChainTime > maxCreditOfferDurationSeconds {
			return errs.New(errs.KindBusinessRule, "auto_disable_time too far in the future")
		}
	}
	for assetID := range c.AcceptableCollateral {
		if _, err := objectdb.Get[protocol.Asset](ctx.Store, assetID); err != nil {
			return errs.Wrap(errs.KindBusinessRule, err, "unknown acceptable collateral asset")
		}
	}
	for acctID := range c.AcceptableBorrowers {
		if _, err := objectdb.Get[protocol.Account](ctx.Store, acctID); err != nil {
			return errs.Wrap(errs.KindBusinessRule, err, "unknown acceptable borrower account")
		}
	}
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, c.AssetType)
	if err != nil {
		return err
	}
	return isAuthorizedForAsset(ctx.Store, asset, c.OwnerAccount)
}

func (creditOfferCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	c := op.(protocol.CreditOfferCreateOp)
	if err := debitBalance(ctx.Store, c.OwnerAccount, c.AssetType, c.Balance); err != nil {
		return nil, err
	}
	objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeCreditOffer, func(o *protocol.CreditOffer) {
		o.OwnerAccount = c.OwnerAccount
		o.AssetType = c.AssetType
		o.TotalBalance = c.Balance
		o.CurrentBalance = c.Balance
		o.FeeRateBp = c.FeeRateBp
		o.MaxDurationSeconds = c.MaxDurationSeconds
		o.MinDealAmount = c.MinDealAmount
		o.Enabled = c.Enabled
		o.AutoDisableTime = c.AutoDisableTime
		o.AcceptableCollateral = copyPriceMap(c.AcceptableCollateral)
		o.AcceptableBorrowers = copyAmountMap(c.AcceptableBorrowers)
	})
	return nil, nil
}

func copyPriceMap(m map[protocol.ObjectID]protocol.Price) map[protocol.ObjectID]protocol.Price {
	out := make(map[protocol.ObjectID]protocol.Price, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func copyAmountMap(m map[protocol.ObjectID]protocol.Amount) map[protocol.ObjectID]protocol.Amount {
	out := make(map[protocol.ObjectID]protocol.Amount, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

type creditOfferDeleteEvaluator struct{}

func (creditOfferDeleteEvaluator) Validate(_ *EvalContext, _ protocol.Operation) error { return nil }

func (creditOfferDeleteEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	d := op.(protocol.CreditOfferDeleteOp)
	offer, err := objectdb.Get[protocol.CreditOffer](ctx.Store, d.OfferID)
	if err != nil {
		return err
	}
	if offer.OwnerAccount != d.OwnerAccount {
		return errs.New(errs.KindAuthorization, "only the owner may delete a credit offer")
	}
	if offer.TotalBalance != offer.CurrentBalance {
		return errs.New(errs.KindBusinessRule, "cannot delete a credit offer with outstanding loans")
	}
	return nil
}

func (creditOfferDeleteEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	d := op.(protocol.CreditOfferDeleteOp)
	offer, err := objectdb.Get[protocol.CreditOffer](ctx.Store, d.OfferID)
	if err != nil {
		return nil, err
	}
	if offer.CurrentBalance > 0 {
		if err := creditBalance(ctx.Store, offer.OwnerAccount, offer.AssetType, offer.CurrentBalance); err != nil {
			return nil, err
		}
	}
	return nil, objectdb.Remove[protocol.CreditOffer](ctx.Store, d.OfferID)
}

type creditOfferAcceptEvaluator struct{}

func (creditOfferAcceptEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	a := op.(protocol.CreditOfferAcceptOp)
	if a.BorrowAmount.Amount == 0 {
		return errs.New(errs.KindStructural, "borrow_amount must be positive")
	}
	return nil
}

func (creditOfferAcceptEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	a := op.(protocol.CreditOfferAcceptOp)
	offer, err := objectdb.Get[protocol.CreditOffer](ctx.Store, a.OfferID)
	if err != nil {
		return err
	}
	if !offer.Enabled {
		return errs.New(errs.KindBusinessRule, "credit offer is not enabled")
	}
	if offer.AssetType != a.BorrowAmount.AssetID {
		return errs.New(errs.KindStructural, "asset type mismatch")
	}
	if offer.CurrentBalance < a.BorrowAmount.Amount {
		return errs.New(errs.KindBusinessRule, "insufficient balance in the credit offer")
	}
	if offer.MinDealAmount > a.BorrowAmount.Amount {
		return errs.New(errs.KindBusinessRule, "borrow amount below the offer's minimum deal amount")
	}
	required, ok := offer.RequiredCollateral(a.Collateral.AssetID, a.BorrowAmount.Amount)
	if !ok {
		return errs.New(errs.KindBusinessRule, "collateral asset is not acceptable by this credit offer")
	}
	if a.Collateral.Amount < required {
		return errs.New(errs.KindBusinessRule, "insufficient collateral offered")
	}
	if len(offer.AcceptableBorrowers) > 0 {
		cap, ok := offer.AcceptableBorrowers[a.Borrower]
		if !ok {
			return errs.New(errs.KindAuthorization, "account is not an acceptable borrower for this credit offer")
		}
		if alreadyBorrowed(ctx.Store, a.OfferID, a.Borrower)+a.BorrowAmount.Amount > cap {
			return errs.New(errs.KindBusinessRule, "borrow amount exceeds the per-borrower cap")
		}
	}
	debtAsset, err := objectdb.Get[protocol.Asset](ctx.Store, offer.AssetType)
	if err != nil {
		return err
	}
	if err := isAuthorizedForAsset(ctx.Store, debtAsset, a.Borrower); err != nil {
		return err
	}
	return isAuthorizedForAsset(ctx.Store, debtAsset, offer.OwnerAccount)
}

// alreadyBorrowed sums every open deal the borrower has drawn against
// offerID, standing in for the original's separate credit_deal_summary
// running total: dexchaind keeps no denormalized summary object, scanning
// CreditDeal directly instead since the object count per (offer, borrower)
// pair is small.
func alreadyBorrowed(store *objectdb.Store, offerID, borrower protocol.ObjectID) protocol.Amount {
	var total protocol.Amount
	for _, d := range objectdb.All[protocol.CreditDeal](store, protocol.SpaceProtocol, protocol.TypeCreditDeal) {
		if d.OfferID == offerID && d.Borrower == borrower {
			total += d.DebtAmount
		}
	}
	return total
}

func (creditOfferAcceptEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	a := op.(protocol.CreditOfferAcceptOp)
	offer, err := objectdb.Get[protocol.CreditOffer](ctx.Store, a.OfferID)
	if err != nil {
		return nil, err
	}

	if err := debitBalance(ctx.Store, a.Borrower, a.Collateral.AssetID, a.Collateral.Amount); err != nil {
		return nil, err
	}
	if err := creditBalance(ctx.Store, a.Borrower, a.BorrowAmount.AssetID, a.BorrowAmount.Amount); err != nil {
		return nil, err
	}
	if err := objectdb.Modify(ctx.Store, a.OfferID, func(o *protocol.CreditOffer) {
		o.CurrentBalance -= a.BorrowAmount.Amount
	}); err != nil {
		return nil, err
	}

	repayBy := ctx.ChainTime + int64(offer.MaxDurationSeconds)
	objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeCreditDeal, func(d *protocol.CreditDeal) {
		d.Borrower = a.Borrower
		d.OfferID = a.OfferID
		d.OfferOwner = offer.OwnerAccount
		d.DebtAsset = offer.AssetType
		d.DebtAmount = a.BorrowAmount.Amount
		d.CollateralAsset = a.Collateral.AssetID
		d.CollateralAmount = a.Collateral.Amount
		d.FeeRateBp = offer.FeeRateBp
		d.LatestRepayTime = repayBy
	})
	return nil, nil
}

type creditDealRepayEvaluator struct{}

func (creditDealRepayEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	r := op.(protocol.CreditDealRepayOp)
	if r.RepayAmount.Amount == 0 {
		return errs.New(errs.KindStructural, "repay_amount must be positive")
	}
	return nil
}

func (creditDealRepayEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	r := op.(protocol.CreditDealRepayOp)
	deal, err := objectdb.Get[protocol.CreditDeal](ctx.Store, r.DealID)
	if err != nil {
		return err
	}
	if deal.Borrower != r.Account {
		return errs.New(errs.KindAuthorization, "a credit deal can only be repaid by its borrower")
	}
	if deal.DebtAsset != r.RepayAmount.AssetID {
		return errs.New(errs.KindStructural, "asset type mismatch")
	}
	if deal.DebtAmount < r.RepayAmount.Amount {
		return errs.New(errs.KindBusinessRule, "repay amount should not exceed the unpaid amount")
	}
	if r.CreditFee.Amount < deal.CreditFeeOwed(r.RepayAmount.Amount) {
		return errs.New(errs.KindBusinessRule, "insufficient credit fee offered")
	}
	debtAsset, err := objectdb.Get[protocol.Asset](ctx.Store, deal.DebtAsset)
	if err != nil {
		return err
	}
	if err := isAuthorizedForAsset(ctx.Store, debtAsset, r.Account); err != nil {
		return err
	}
	return isAuthorizedForAsset(ctx.Store, debtAsset, deal.OfferOwner)
}

func (creditDealRepayEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	r := op.(protocol.CreditDealRepayOp)
	deal, err := objectdb.Get[protocol.CreditDeal](ctx.Store, r.DealID)
	if err != nil {
		return nil, err
	}

	total := r.RepayAmount.Amount + r.CreditFee.Amount
	if err := debitBalance(ctx.Store, r.Account, r.RepayAmount.AssetID, total); err != nil {
		return nil, err
	}
	if err := objectdb.Modify(ctx.Store, deal.OfferID, func(o *protocol.CreditOffer) {
		o.TotalBalance += r.CreditFee.Amount
		o.CurrentBalance += total
	}); err != nil {
		return nil, err
	}

	var released protocol.AssetAmount
	if deal.DebtAmount == r.RepayAmount.Amount {
		released = protocol.AssetAmount{AssetID: deal.CollateralAsset, Amount: deal.CollateralAmount}
		if err := objectdb.Remove[protocol.CreditDeal](ctx.Store, r.DealID); err != nil {
			return nil, err
		}
	} else {
		ratio := protocol.Price{
			Base:  protocol.AssetAmount{AssetID: deal.CollateralAsset, Amount: deal.CollateralAmount},
			Quote: protocol.AssetAmount{AssetID: deal.DebtAsset, Amount: deal.DebtAmount},
		}
		releasedAmount := ratio.Mul(r.RepayAmount.Amount)
		released = protocol.AssetAmount{AssetID: deal.CollateralAsset, Amount: releasedAmount}
		if err := objectdb.Modify(ctx.Store, r.DealID, func(d *protocol.CreditDeal) {
			d.DebtAmount -= r.RepayAmount.Amount
			d.CollateralAmount -= releasedAmount
		}); err != nil {
			return nil, err
		}
	}
	if released.Amount > 0 {
		if err := creditBalance(ctx.Store, r.Account, released.AssetID, released.Amount); err != nil {
			return nil, err
		}
	}
	return nil, nil
}
