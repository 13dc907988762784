package protocol

import "sort"

// HardforkGuard ties an operation (or operation feature) to the chain time
// at which it becomes valid (spec.md §4.2 "Hardfork gating").
type HardforkGuard struct {
	Name      string
	ActivatesAt int64 // unix seconds
}

// Well-known guards named directly in spec.md so callers can reference them
// without string literals scattered through evaluators.
const (
	HardforkFeedExpiry615 = "feed-expiration-615" // spec.md §9: market_tests.cpp HARDFORK_615_TIME
	HardforkTargetCR834   = "target-collateral-ratio-834"
	HardforkProposal1479  = "proposal-update-reject-future-id-1479"
)

// HardforkSchedule is a sorted table of activation guards consulted from
// do_evaluate. Once a guard's time passes it never re-locks (spec.md §4.2:
// "These guards never change once passed").
type HardforkSchedule struct {
	guards []HardforkGuard
}

// NewHardforkSchedule builds a schedule from an unordered guard list.
func NewHardforkSchedule(guards []HardforkGuard) *HardforkSchedule {
	cp := append([]HardforkGuard(nil), guards...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].ActivatesAt < cp[j].ActivatesAt })
	return &HardforkSchedule{guards: cp}
}

// IsActive reports whether the named guard has activated by chainTime.
func (s *HardforkSchedule) IsActive(name string, chainTime int64) bool {
	for _, g := range s.guards {
		if g.Name == name {
			return chainTime >= g.ActivatesAt
		}
	}
	return false
}
