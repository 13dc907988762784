package protocol

// Authority is a weighted multisig requirement: a threshold plus weighted
// account, key, and address authorizers, any combination of which may sum
// to satisfy it (spec.md §3.2).
type Authority struct {
	Threshold    uint32
	AccountAuths map[ObjectID]uint16
	KeyAuths     map[PublicKey]uint16
	AddressAuths map[Address]uint16
}

// NewAuthority returns an authority with the given threshold and no
// authorizers yet, ready to have entries added.
func NewAuthority(threshold uint32) Authority {
	return Authority{
		Threshold:    threshold,
		AccountAuths: map[ObjectID]uint16{},
		KeyAuths:     map[PublicKey]uint16{},
		AddressAuths: map[Address]uint16{},
	}
}

// TotalWeight sums every authorizer's weight, used to validate that an
// authority is satisfiable at all (threshold ≤ sum-of-weights).
func (a Authority) TotalWeight() uint64 {
	var total uint64
	for _, w := range a.AccountAuths {
		total += uint64(w)
	}
	for _, w := range a.KeyAuths {
		total += uint64(w)
	}
	for _, w := range a.AddressAuths {
		total += uint64(w)
	}
	return total
}

// IsSatisfiable reports whether the threshold can ever be met, i.e. whether
// the account invariant of spec.md §3.2 holds. The TEMP account sentinel is
// exempt (threshold 0 is always satisfiable).
func (a Authority) IsSatisfiable() bool {
	return uint64(a.Threshold) <= a.TotalWeight()
}

// SignerRef is one recovered signature's key/address pair, kept so
// consumption can be checked per signature rather than per set entry.
type SignerRef struct {
	Key     PublicKey
	Address Address
}

// AvailableKeys/AvailableAddresses are the sets gathered from recovered
// transaction signatures (spec.md §4.2 step 5) before authority expansion.
// UsedKeys/UsedAddresses record which of them contributed to a satisfied
// authority: after evaluation every signature must have been consumed
// (spec.md §4.2 step 5), which AllConsumed checks against Signers.
type AvailableSigners struct {
	Keys      map[PublicKey]struct{}
	Addresses map[Address]struct{}
	Accounts  map[ObjectID]struct{} // satisfied via nested account authority
	Signers   []SignerRef

	UsedKeys      map[PublicKey]struct{}
	UsedAddresses map[Address]struct{}
}

// NewAvailableSigners returns an empty signer set.
func NewAvailableSigners() *AvailableSigners {
	return &AvailableSigners{
		Keys:          map[PublicKey]struct{}{},
		Addresses:     map[Address]struct{}{},
		Accounts:      map[ObjectID]struct{}{},
		UsedKeys:      map[PublicKey]struct{}{},
		UsedAddresses: map[Address]struct{}{},
	}
}

// ConsumeDirect marks every key/address authorizer of a that is present in
// the available set as having contributed to a satisfied authority. Nested
// account authorizers are consumed by the caller (txprocessor), which is
// the only layer that can resolve an account id to its own authorities.
func (s *AvailableSigners) ConsumeDirect(a Authority) {
	for k := range a.KeyAuths {
		if _, ok := s.Keys[k]; ok {
			s.UsedKeys[k] = struct{}{}
		}
	}
	for addr := range a.AddressAuths {
		if _, ok := s.Addresses[addr]; ok {
			s.UsedAddresses[addr] = struct{}{}
		}
	}
}

// AllConsumed reports whether every recovered signature was consumed by
// some required authority, by key or by derived address.
func (s *AvailableSigners) AllConsumed() bool {
	for _, ref := range s.Signers {
		if _, ok := s.UsedKeys[ref.Key]; ok {
			continue
		}
		if _, ok := s.UsedAddresses[ref.Address]; ok {
			continue
		}
		return false
	}
	return true
}

// DirectWeight returns the weight this authority grants purely from keys and
// addresses present in avail — no account-authority recursion.
func (a Authority) DirectWeight(avail *AvailableSigners) uint64 {
	var total uint64
	for k, w := range a.KeyAuths {
		if _, ok := avail.Keys[k]; ok {
			total += uint64(w)
		}
	}
	for addr, w := range a.AddressAuths {
		if _, ok := avail.Addresses[addr]; ok {
			total += uint64(w)
		}
	}
	for acct, w := range a.AccountAuths {
		if _, ok := avail.Accounts[acct]; ok {
			total += uint64(w)
		}
	}
	return total
}

// Satisfied reports whether the direct weight already meets threshold,
// without considering nested account authorities. Full (depth-capped)
// expansion lives in txprocessor, which is the only caller that has access
// to the account index needed to resolve AccountAuths recursively.
func (a Authority) Satisfied(avail *AvailableSigners) bool {
	return a.DirectWeight(avail) >= uint64(a.Threshold)
}
