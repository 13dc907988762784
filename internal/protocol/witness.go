package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// VoteID tags a votable object: an 8-bit type tag and a 24-bit instance
// (spec.md §3.2).
type VoteID struct {
	Type     uint8
	Instance uint32 // low 24 bits significant
}

func (id VoteID) String() string {
	return fmt.Sprintf("%d:%d", id.Type, id.Instance)
}

// MarshalText renders id as its "type:instance" string form, so that VoteID
// can key a JSON map (encoding/json requires map keys to either be strings
// or implement encoding.TextMarshaler).
func (id VoteID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the "type:instance" form MarshalText produces.
func (id *VoteID) UnmarshalText(b []byte) error {
	parts := strings.Split(string(b), ":")
	if len(parts) != 2 {
		return fmt.Errorf("protocol: malformed VoteID %q", b)
	}
	typ, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil {
		return fmt.Errorf("protocol: malformed VoteID type in %q: %w", b, err)
	}
	instance, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return fmt.Errorf("protocol: malformed VoteID instance in %q: %w", b, err)
	}
	id.Type = uint8(typ)
	id.Instance = uint32(instance)
	return nil
}

const (
	VoteTypeCommittee uint8 = iota
	VoteTypeWitness
	VoteTypeWorker
)

// Witness is a protocol-space block producer (spec.md §3.2).
type Witness struct {
	ID           ObjectID
	WitnessAcct  ObjectID
	VoteID       VoteID
	SigningKey   PublicKey
	LastSecret   [32]byte
	TotalVotes   uint64
	LastBlockNum uint64
}

// CommitteeMember is a protocol-space governance member (spec.md §3.2).
type CommitteeMember struct {
	ID          ObjectID
	MemberAcct  ObjectID
	VoteID      VoteID
	TotalVotes  uint64
}

// WorkerPayoutKind selects how a worker's disbursed budget is delivered
// (spec.md §4.5.3 step 6).
type WorkerPayoutKind uint8

const (
	WorkerPayoutBurn WorkerPayoutKind = iota
	WorkerPayoutRefundToReserve
	WorkerPayoutVesting
)

// Worker is a protocol-space funded proposal for ongoing network spend
// (spec.md §3.2).
type Worker struct {
	ID           ObjectID
	WorkerAcct   ObjectID
	VoteID       VoteID
	DailyPay     Amount
	BeginDate    int64
	EndDate      int64
	PayoutKind   WorkerPayoutKind
	VestingID    ObjectID // used only when PayoutKind == WorkerPayoutVesting
	TotalVotes   uint64
}

// IsActive reports whether the worker is within its funding window
// (spec.md §4.5.3 step 6: begin_date ≤ now < end_date).
func (w Worker) IsActive(now int64) bool {
	return w.BeginDate <= now && now < w.EndDate
}

// VestingBalance is a protocol-space time-locked fund, used as the
// cashback destination for an account's fee share (spec.md §4.5.3 step 2)
// and as the disbursement target for a worker whose PayoutKind is
// WorkerPayoutVesting (spec.md §4.5.3 step 6).
type VestingBalance struct {
	ID        ObjectID
	Owner     ObjectID
	AssetID   ObjectID
	Balance   Amount
	StartedAt int64
	VestingSec uint32 // linear vesting period; balance added before now-VestingSec is withdrawable
}

// Withdrawable returns the portion of Balance that has vested by now,
// under a linear vesting schedule from StartedAt over VestingSec.
func (v VestingBalance) Withdrawable(now int64) Amount {
	if v.VestingSec == 0 || now >= v.StartedAt+int64(v.VestingSec) {
		return v.Balance
	}
	if now <= v.StartedAt {
		return 0
	}
	elapsed := now - v.StartedAt
	return Amount(uint64(v.Balance) * uint64(elapsed) / uint64(v.VestingSec))
}
