// Package witness implements C9 of SPEC_FULL.md: block-producer slot
// scheduling and the per-maintenance-interval vote tally, active-set
// selection, authority reweighting, budget, and worker payroll algorithm
// of spec.md §4.5.
package witness

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"

	"dexchaind/internal/protocol"
)

// SlotAtTime returns the slot number for t relative to headTime, 0 if t is
// at or before headTime (spec.md §4.5.1).
func SlotAtTime(headTime int64, blockIntervalSec uint32, t int64) uint64 {
	if t <= headTime {
		return 0
	}
	interval := int64(blockIntervalSec)
	return uint64((t-headTime-1)/interval) + 1
}

// SlotTime returns the wall-clock time of slot n relative to headTime,
// aligned to block_interval boundaries (spec.md §4.5.1). Slot 0 is
// undefined and returns headTime unchanged.
func SlotTime(headTime int64, blockIntervalSec uint32, n uint64) int64 {
	if n == 0 {
		return headTime
	}
	interval := int64(blockIntervalSec)
	firstSlot := headTime + interval - (headTime % interval)
	return firstSlot + int64(n-1)*interval
}

// ScheduledWitness returns the witness scheduled for slot n, reading
// position ((headSlot + n - 1) mod len) of the current shuffled order
// (spec.md §4.5.1).
func ScheduledWitness(order []protocol.ObjectID, headSlot, n uint64) (protocol.ObjectID, bool) {
	if len(order) == 0 {
		return protocol.ObjectID{}, false
	}
	pos := (headSlot + n - 1) % uint64(len(order))
	return order[pos], true
}

// ShuffleOrder returns a deterministic Fisher-Yates shuffle of active,
// seeded by hashing the most recent block ids with blake2b (spec.md §4.5.1:
// "a witness-schedule RNG seeded by recent block hashes"). active is not
// mutated.
func ShuffleOrder(active []protocol.ObjectID, recentBlockIDs []protocol.Hash) []protocol.ObjectID {
	out := append([]protocol.ObjectID(nil), active...)
	if len(out) <= 1 {
		return out
	}

	h, _ := blake2b.New256(nil)
	for _, id := range recentBlockIDs {
		h.Write(id[:])
	}
	seed := h.Sum(nil)

	rng := newSplitMix64(binary.BigEndian.Uint64(seed[:8]))
	for i := len(out) - 1; i > 0; i-- {
		j := rng.next() % uint64(i+1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// splitMix64 is a small deterministic PRNG used only to turn a blake2b seed
// into a sequence of shuffle indices; it carries no cryptographic weight of
// its own, the unpredictability comes entirely from the block-hash seed.
type splitMix64 struct{ state uint64 }

func newSplitMix64(seed uint64) *splitMix64 { return &splitMix64{state: seed} }

func (s *splitMix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
