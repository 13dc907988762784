package protocol

import "testing"

func mkAsset(instance uint64, amt Amount) AssetAmount {
	return AssetAmount{AssetID: NewObjectID(SpaceProtocol, TypeAsset, instance), Amount: amt}
}

func TestPriceInvert(t *testing.T) {
	p := Price{Base: mkAsset(0, 10), Quote: mkAsset(1, 1)}
	inv := p.Invert()
	if inv.Base != p.Quote || inv.Quote != p.Base {
		t.Fatalf("Invert() = %+v, want Base/Quote swapped from %+v", inv, p)
	}
	if back := inv.Invert(); back != p {
		t.Errorf("double Invert() = %+v, want original %+v", back, p)
	}
}

func TestPriceGreaterOrEqualAndLessThan(t *testing.T) {
	// 10 CORE per 1 USD
	p1 := Price{Base: mkAsset(0, 10), Quote: mkAsset(1, 1)}
	// 20 CORE per 2 USD == same rate as p1
	p2 := Price{Base: mkAsset(0, 20), Quote: mkAsset(1, 2)}
	// 11 CORE per 1 USD, a better rate than p1
	p3 := Price{Base: mkAsset(0, 11), Quote: mkAsset(1, 1)}

	if !p1.GreaterOrEqual(p2) || !p2.GreaterOrEqual(p1) {
		t.Error("equal rates expressed with different denominators must compare GreaterOrEqual both ways")
	}
	if p1.LessThan(p2) {
		t.Error("equal rates must not compare LessThan")
	}
	if !p3.GreaterOrEqual(p1) {
		t.Error("11/1 should be >= 10/1")
	}
	if !p1.LessThan(p3) {
		t.Error("10/1 should be < 11/1")
	}
	if p3.LessThan(p1) {
		t.Error("11/1 should not be < 10/1")
	}
}

func TestPriceMul(t *testing.T) {
	// 10 CORE per 1 USD: 5 USD -> 50 CORE.
	p := Price{Base: mkAsset(0, 10), Quote: mkAsset(1, 1)}
	if got := p.Mul(5); got != 50 {
		t.Errorf("Mul(5) = %d, want 50", got)
	}

	// Rounds down on an inexact division: 7 * 10 / 3 = 23.33 -> 23.
	p2 := Price{Base: mkAsset(0, 10), Quote: mkAsset(1, 3)}
	if got := p2.Mul(7); got != 23 {
		t.Errorf("Mul(7) with inexact division = %d, want 23 (round down)", got)
	}

	// Zero quote amount is defined as zero rather than dividing by zero.
	zero := Price{Base: mkAsset(0, 10), Quote: mkAsset(1, 0)}
	if got := zero.Mul(100); got != 0 {
		t.Errorf("Mul with zero-quote price = %d, want 0", got)
	}
}

func TestMulRatio(t *testing.T) {
	if got := MulRatio(1000, 1750, 1000); got != 1750 {
		t.Errorf("MulRatio(1000, 1750, 1000) = %d, want 1750", got)
	}
	if got := MulRatio(2000000, 1000, 1750); got != 1142857 {
		t.Errorf("MulRatio(2000000, 1000, 1750) = %d, want 1142857 (round down)", got)
	}
	if got := MulRatio(100, 50, 0); got != 0 {
		t.Errorf("MulRatio with zero denominator = %d, want 0", got)
	}
}

func TestMinMaxAmount(t *testing.T) {
	if got := MinAmount(3, 7); got != 3 {
		t.Errorf("MinAmount(3,7) = %d, want 3", got)
	}
	if got := MinAmount(7, 3); got != 3 {
		t.Errorf("MinAmount(7,3) = %d, want 3", got)
	}
	if got := MaxAmount(3, 7); got != 7 {
		t.Errorf("MaxAmount(3,7) = %d, want 7", got)
	}
	if got := MaxAmount(7, 3); got != 7 {
		t.Errorf("MaxAmount(7,3) = %d, want 7", got)
	}
}
