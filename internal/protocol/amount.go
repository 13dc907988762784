package protocol

import "github.com/holiman/uint256"

// Amount is a signed-safe token quantity. Balances and supplies fit in
// uint64 per spec.md §3.2 (max supply ≤ 2^63-1); ratio and cross-product
// comparisons that could otherwise overflow 64 bits use uint256.Int
// (holiman/uint256, already an indirect dependency of the teacher's
// go-ethereum stack) rather than float64.
type Amount uint64

// AssetAmount pairs a quantity with the asset it denominates, Graphene's
// `asset` type.
type AssetAmount struct {
	AssetID ObjectID
	Amount  Amount
}

// Price expresses an exchange rate as Base per Quote: Base.AssetID is what
// you receive, Quote.AssetID is what you give, for Quote.Amount units of
// quote. This mirrors Graphene's price{base, quote} convention used
// throughout spec.md §3.2/§4.3.
type Price struct {
	Base  AssetAmount
	Quote AssetAmount
}

// Invert swaps base and quote, turning a "sell A for B" price into its
// "sell B for A" equivalent.
func (p Price) Invert() Price {
	return Price{Base: p.Quote, Quote: p.Base}
}

// u256 lifts an Amount into a uint256.Int for overflow-safe arithmetic.
func u256(a Amount) *uint256.Int {
	return uint256.NewInt(uint64(a))
}

// crossProduct returns a.Base*a.Quote' vs the other side's cross term as
// two uint256 values, the standard trick for comparing two fractions
// without floating point: p1 ≥ p2  <=>  p1.Base*p2.Quote ≥ p2.Base*p1.Quote
// (valid only when both prices share the same base/quote asset pair).
func crossProduct(p1, p2 Price) (lhs, rhs *uint256.Int) {
	lhs = new(uint256.Int).Mul(u256(p1.Base.Amount), u256(p2.Quote.Amount))
	rhs = new(uint256.Int).Mul(u256(p2.Base.Amount), u256(p1.Quote.Amount))
	return lhs, rhs
}

// GreaterOrEqual reports whether p1 ≥ p2 as exchange rates (both must be
// over the same asset pair, in the same base/quote orientation).
func (p1 Price) GreaterOrEqual(p2 Price) bool {
	lhs, rhs := crossProduct(p1, p2)
	return lhs.Cmp(rhs) >= 0
}

// LessThan reports whether p1 < p2.
func (p1 Price) LessThan(p2 Price) bool {
	lhs, rhs := crossProduct(p1, p2)
	return lhs.Cmp(rhs) < 0
}

// Mul scales amt (denominated in p.Quote.AssetID) by price p, returning an
// amount denominated in p.Base.AssetID: result = amt * p.Base / p.Quote.
func (p Price) Mul(amt Amount) Amount {
	if p.Quote.Amount == 0 {
		return 0
	}
	num := new(uint256.Int).Mul(u256(amt), u256(p.Base.Amount))
	res := new(uint256.Int).Div(num, u256(p.Quote.Amount))
	return Amount(res.Uint64())
}

// MulRatio multiplies amt by the rational numBp/denBp (basis-point style
// ratios used for MCR/MSSR/market-fee computations), rounding down.
func MulRatio(amt Amount, numBp, denBp uint32) Amount {
	if denBp == 0 {
		return 0
	}
	num := new(uint256.Int).Mul(u256(amt), uint256.NewInt(uint64(numBp)))
	res := new(uint256.Int).Div(num, uint256.NewInt(uint64(denBp)))
	return Amount(res.Uint64())
}

// Min/Max helpers over Amount, used throughout fee and budget computations.
func MinAmount(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

func MaxAmount(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}
