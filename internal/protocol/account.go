package protocol

// Account is a protocol-space object: a named actor with owner/active
// authorities and voting options (spec.md §3.2).
type Account struct {
	ID             ObjectID
	Name           string
	Owner          Authority
	Active         Authority
	Options        AccountOptions
	Registrar      ObjectID
	Referrer       ObjectID
	LifetimeRefID  ObjectID
	ReferrerRebate uint16 // percent, 1/100 %
	MembershipEnds int64  // unix seconds, 0 = lifetime/none
	StatisticsID   ObjectID
	CashbackVBID   ObjectID // null until the account's first fee-share credit creates one

	// Whitelisters/Blacklisters are the sets of whitelist-authority
	// accounts that have placed this account on their whitelist/blacklist
	// (spec.md §3.2 "whitelist/blacklist authority sets", S5). An asset
	// flagged white_list only permits this account to receive/send if it
	// is whitelisted by every authority named in a non-empty
	// asset.Options.WhitelistAuth, and blacklisted by none named in
	// asset.Options.BlacklistAuth: adding a whitelist authority that has
	// not (yet) whitelisted the account revokes standing even if another
	// authority already whitelisted it, matching S5's narrative.
	Whitelisters map[ObjectID]struct{}
	Blacklisters map[ObjectID]struct{}
}

// AccountOptions holds the voting-relevant and memo-relevant preferences of
// an account.
type AccountOptions struct {
	MemoKey         PublicKey
	VotingAccount   ObjectID // proxy; NullAccountID means "vote directly"
	NumWitness      uint16   // preferred size of active witness set
	NumCommittee    uint16   // preferred size of active committee set
	Votes           map[VoteID]struct{}
}

// AccountStatistics is an implementation object tracking per-account totals
// (spec.md §3.3), reconstructible from replay.
type AccountStatistics struct {
	ID                 ObjectID
	Owner              ObjectID
	TotalCoreInOrders  Amount
	LifetimeFeesPaid   Amount
	PendingFees        Amount // awaiting vesting-cashback credit at maintenance
	MostRecentOpID     ObjectID
}

// AccountBalance is an implementation object: the (account, asset) -> amount
// mapping (spec.md §3.3).
type AccountBalance struct {
	ID      ObjectID
	Owner   ObjectID
	AssetID ObjectID
	Amount  Amount
}

// IsValidAccountName checks the 2-63 char, lowercase alnum/./-, letter-initial
// rule from spec.md §3.2.
func IsValidAccountName(name string) bool {
	if len(name) < 2 || len(name) > 63 {
		return false
	}
	if !isLowerLetter(name[0]) {
		return false
	}
	prevDotOrDash := false
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case isLowerLetter(c) || isDigit(c):
			prevDotOrDash = false
		case c == '.' || c == '-':
			if prevDotOrDash {
				return false
			}
			prevDotOrDash = true
		default:
			return false
		}
	}
	return !prevDotOrDash
}

func isLowerLetter(c byte) bool { return c >= 'a' && c <= 'z' }
func isDigit(c byte) bool       { return c >= '0' && c <= '9' }
