package protocol

// CreditOffer is a standing pool of one asset an account offers to lend
// against acceptable collateral types, modeled on Graphene's BSIP74
// credit_offer_object. Unlike a margin call, a credit deal carries no
// price feed or margin-call loop of its own — it is closed only by the
// borrower repaying or (never, in this build) by the lender force-closing.
type CreditOffer struct {
	ID                   ObjectID
	OwnerAccount         ObjectID
	AssetType            ObjectID
	TotalBalance         Amount
	CurrentBalance       Amount
	FeeRateBp            uint32 // basis points of principal charged as credit fee on repay
	MaxDurationSeconds   uint32
	MinDealAmount        Amount
	Enabled              bool
	AutoDisableTime      int64
	AcceptableCollateral map[ObjectID]Price // collateral asset -> required collateral-per-debt-unit price
	AcceptableBorrowers  map[ObjectID]Amount // empty: anyone may borrow; else per-borrower cumulative cap
}

// RequiredCollateral returns the smallest collateral amount that satisfies
// this offer's price for borrowAmount of its asset type, rounding up
// (spec-adjacent: multiply_and_round_up in the original BSIP74 evaluator).
func (o CreditOffer) RequiredCollateral(collateralAssetID ObjectID, borrowAmount Amount) (Amount, bool) {
	price, ok := o.AcceptableCollateral[collateralAssetID]
	if !ok {
		return 0, false
	}
	exact := price.Mul(borrowAmount)
	// price.Mul rounds down; detect a remainder and round up by one unit,
	// mirroring the original's "multiply_and_round_up".
	if price.Quote.Amount != 0 {
		back := Price{Base: price.Quote, Quote: price.Base}.Mul(exact)
		if back < borrowAmount {
			exact++
		}
	}
	return exact, true
}

// CreditDeal is one borrower's outstanding draw against a CreditOffer.
type CreditDeal struct {
	ID               ObjectID
	Borrower         ObjectID
	OfferID          ObjectID
	OfferOwner       ObjectID
	DebtAsset        ObjectID
	DebtAmount       Amount
	CollateralAsset  ObjectID
	CollateralAmount Amount
	FeeRateBp        uint32
	LatestRepayTime  int64
}

// CreditFeeOwed returns the credit fee owed on repaying repayAmount of
// principal: FeeRateBp/10000 of repayAmount, rounded up (the original
// BSIP74 evaluator rounds the fee up so the lender is never shorted a
// fractional unit).
func (d CreditDeal) CreditFeeOwed(repayAmount Amount) Amount {
	exact := uint64(repayAmount) * uint64(d.FeeRateBp)
	fee := exact / 10000
	if exact%10000 != 0 {
		fee++
	}
	return Amount(fee)
}
