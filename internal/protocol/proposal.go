package protocol

// Proposal is a deferred multi-operation transaction awaiting approvals
// (spec.md §3.2, §4.7).
type Proposal struct {
	ID                ObjectID
	Proposer          ObjectID
	Operations        OperationList
	Expiration        int64
	ReviewPeriodEnds  int64 // 0 = no review period requested

	RequiredOwner  map[ObjectID]struct{}
	RequiredActive map[ObjectID]struct{}

	AvailableOwner  map[ObjectID]struct{}
	AvailableActive map[ObjectID]struct{}
	AvailableKeys   map[PublicKey]struct{}

	FailReason string // set when push_proposal's inner transaction failed
}

// IsAuthorized reports whether every required owner and active signer is
// present in the available sets, and no review period remains (spec.md
// §4.7).
func (p Proposal) IsAuthorized(now int64) bool {
	if p.ReviewPeriodEnds != 0 && now < p.ReviewPeriodEnds {
		return false
	}
	for id := range p.RequiredOwner {
		if _, ok := p.AvailableOwner[id]; !ok {
			return false
		}
	}
	for id := range p.RequiredActive {
		if _, ok := p.AvailableActive[id]; !ok {
			return false
		}
	}
	return true
}
