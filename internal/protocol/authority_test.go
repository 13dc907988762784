package protocol

import "testing"

func TestAuthorityTotalWeightAndSatisfiable(t *testing.T) {
	a := NewAuthority(3)
	a.KeyAuths[PublicKey{1}] = 2
	a.AddressAuths[Address{2}] = 1
	a.AccountAuths[NewObjectID(SpaceProtocol, TypeAccount, 5)] = 1

	if got := a.TotalWeight(); got != 4 {
		t.Fatalf("TotalWeight() = %d, want 4", got)
	}
	if !a.IsSatisfiable() {
		t.Error("threshold 3 over total weight 4 should be satisfiable")
	}

	tooHigh := NewAuthority(100)
	tooHigh.KeyAuths[PublicKey{1}] = 2
	if tooHigh.IsSatisfiable() {
		t.Error("threshold 100 over total weight 2 should not be satisfiable")
	}

	empty := NewAuthority(0)
	if !empty.IsSatisfiable() {
		t.Error("threshold 0 over no authorizers should be satisfiable (TEMP account sentinel)")
	}
}

func TestAuthorityDirectWeightAndSatisfied(t *testing.T) {
	key1, key2 := PublicKey{1}, PublicKey{2}
	addr1 := Address{1}
	acct1 := NewObjectID(SpaceProtocol, TypeAccount, 7)

	a := NewAuthority(5)
	a.KeyAuths[key1] = 2
	a.KeyAuths[key2] = 3
	a.AddressAuths[addr1] = 4
	a.AccountAuths[acct1] = 1

	none := NewAvailableSigners()
	if a.Satisfied(none) {
		t.Error("no available signers should not satisfy a non-zero threshold")
	}

	partial := NewAvailableSigners()
	partial.Keys[key1] = struct{}{}
	if got := a.DirectWeight(partial); got != 2 {
		t.Errorf("DirectWeight with only key1 = %d, want 2", got)
	}
	if a.Satisfied(partial) {
		t.Error("weight 2 should not satisfy threshold 5")
	}

	full := NewAvailableSigners()
	full.Keys[key1] = struct{}{}
	full.Addresses[addr1] = struct{}{}
	if got := a.DirectWeight(full); got != 6 {
		t.Errorf("DirectWeight with key1+addr1 = %d, want 6", got)
	}
	if !a.Satisfied(full) {
		t.Error("weight 6 should satisfy threshold 5")
	}

	// Weight from a signer not present in this authority's auth maps at all
	// contributes nothing.
	unrelated := NewAvailableSigners()
	unrelated.Keys[PublicKey{99}] = struct{}{}
	if got := a.DirectWeight(unrelated); got != 0 {
		t.Errorf("DirectWeight with an unrelated key = %d, want 0", got)
	}
}
