package protocol

// Hash is a 32-byte block/transaction digest.
type Hash [32]byte

// Transaction is a signed batch of operations (spec.md §4.2).
type Transaction struct {
	RefBlockNum    uint16
	RefBlockPrefix uint32
	// RelativeExpiration counts block_interval units past the referenced
	// block summary's timestamp (spec.md §4.2 step 2). The legacy quirk
	// documented in DESIGN.md Open Question 2 applies when this is 0.
	RelativeExpiration uint32
	Operations         OperationList
	Signatures         []Signature
}

// ID returns the transaction's digest, computed over the canonical
// encoding of its fields (implemented in internal/txprocessor, which owns
// canonical encoding since it also needs it for TaPoS digests).
type TrxID = Hash

// BlockHeader is the signed portion of a block (spec.md §4.5.2). The
// PreviousSecret/NextSecretHash pair is the witness's VRF-like reveal
// chain: PreviousSecret must hash-commit to the NextSecretHash the same
// witness published in its prior block.
type BlockHeader struct {
	Previous        Hash
	Timestamp       int64
	Witness         ObjectID
	TransactionRoot Hash
	PreviousSecret  [32]byte
	NextSecretHash  [32]byte
	Extensions      []byte
}

// Block is a full block: header plus body plus the witness signature.
type Block struct {
	Header       BlockHeader
	Transactions []Transaction
	WitnessSig   Signature
}

// ID returns the block's digest (implemented in internal/chain, which owns
// canonical block encoding).
type BlockID = Hash

// BlockSummary is a ring-buffered recent-block-id record used for TaPoS
// (spec.md §3.3): stored at instance = block_num & 0xFFFF.
type BlockSummary struct {
	ID        ObjectID
	BlockID   Hash
	Timestamp int64
}

// TransactionHistoryEntry tracks a processed transaction until its
// expiration, to reject duplicates (spec.md §3.3/§4.2 step 4).
type TransactionHistoryEntry struct {
	ID         ObjectID
	TrxID      Hash
	Expiration int64
}

// GlobalProperties holds chain parameters plus the currently active
// witness/committee sets (spec.md §3.3).
type GlobalProperties struct {
	ID                     ObjectID
	BlockIntervalSec       uint32
	MaintenanceIntervalSec uint32
	MaxBlockSize           uint32
	MaxTimeUntilExpirationSec uint32
	MaxTransactionSize     uint32
	MinWitnessCount        uint16
	MinCommitteeCount      uint16
	ActiveWitnesses        []ObjectID
	ActiveCommittee        []ObjectID
	CurrentFees            *FeeSchedule
	WitnessPayPerBlock     Amount
	WorkerBudgetPerDay     Amount
	NetworkSharePercent    uint16 // 1/100 %, cut taken before registrar/referrer split
}

// DynamicGlobalProperties holds mutable chain-head state (spec.md §3.3).
type DynamicGlobalProperties struct {
	ID                          ObjectID
	HeadBlockNumber             uint64
	HeadBlockID                 Hash
	HeadBlockTime               int64
	CurrentWitness              ObjectID
	NextMaintenanceTime         int64
	LastBudgetTime              int64
	WitnessBudget               Amount
	AccountsRegisteredThisInterval uint32
	RecentSlotsFilled           uint64 // bitmask, most recent slot in low bit
	CurrentAslot                uint64
	WitnessScheduleOrder        []ObjectID // shuffled active-witness order, re-seeded at maintenance
}
