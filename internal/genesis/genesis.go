// Package genesis builds the minimal singleton objects a fresh chain needs
// before internal/chain.Pipeline can push its first block: the core asset,
// the three sentinel accounts the witness maintenance pass rewrites
// (spec.md §4.5.3 step 4) or treats as always-satisfiable (the TEMP
// account, spec.md §3.2), GlobalProperties/DynamicGlobalProperties, and the
// full 0..0xFFFF BlockSummary ring TaPoS verification indexes into
// (spec.md §3.3, §4.2 step 2).
//
// Grounded on internal/chain/pipeline_test.go's setupGenesis helper, widened
// from a test fixture (which only pre-creates as many BlockSummary slots as
// the test reaches) into the full ring a real node needs from block 1.
package genesis

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

// Params configures the singleton objects genesis creates. Zero values are
// replaced with sane chain defaults by Bootstrap.
type Params struct {
	ChainID                string
	CoreAssetSymbol        string
	BlockIntervalSec       uint32
	MaintenanceIntervalSec uint32
	MaxBlockSize           uint32
	MaxTimeUntilExpirationSec uint32
	MinWitnessCount        uint16
	MinCommitteeCount      uint16
	WitnessPayPerBlock     protocol.Amount
	WorkerBudgetPerDay     protocol.Amount
	NetworkSharePercent    uint16
	HeadBlockTime          int64
	Fees                   *protocol.FeeSchedule
}

// withDefaults fills unset fields with the values config/default.yaml ships.
func (p Params) withDefaults() Params {
	if p.CoreAssetSymbol == "" {
		p.CoreAssetSymbol = "CORE"
	}
	if p.BlockIntervalSec == 0 {
		p.BlockIntervalSec = 3
	}
	if p.MaintenanceIntervalSec == 0 {
		p.MaintenanceIntervalSec = 86400
	}
	if p.MaxBlockSize == 0 {
		p.MaxBlockSize = 2 << 20
	}
	if p.MaxTimeUntilExpirationSec == 0 {
		p.MaxTimeUntilExpirationSec = 86400
	}
	if p.MinWitnessCount == 0 {
		p.MinWitnessCount = 11
	}
	if p.MinCommitteeCount == 0 {
		p.MinCommitteeCount = 11
	}
	if p.Fees == nil {
		p.Fees = defaultFeeSchedule()
	}
	return p
}

// defaultFeeSchedule gives every operation a small basic fee plus a per-KB
// data fee, and the account_create name-length surcharge table, per
// spec.md §6.4. These are illustrative deployment parameters, not values
// spec.md or original_source fix as protocol constants.
func defaultFeeSchedule() *protocol.FeeSchedule {
	fs := protocol.NewFeeSchedule()
	basic := protocol.Amount(100)
	perKB := protocol.Amount(10)
	for _, op := range []protocol.OpType{
		protocol.OpTransfer, protocol.OpAccountCreate, protocol.OpAccountUpdate,
		protocol.OpAssetCreate, protocol.OpAssetUpdate, protocol.OpAssetPublishFeed,
		protocol.OpAssetIssue, protocol.OpAssetReserve, protocol.OpAssetSettle,
		protocol.OpAssetGlobalSettle, protocol.OpLimitOrderCreate, protocol.OpLimitOrderCancel,
		protocol.OpCallOrderUpdate, protocol.OpBidCollateral, protocol.OpProposalCreate,
		protocol.OpProposalUpdate, protocol.OpProposalDelete, protocol.OpWitnessCreate,
		protocol.OpWitnessUpdate, protocol.OpCommitteeMemberCreate, protocol.OpWorkerCreate,
		protocol.OpAccountWhitelist, protocol.OpCreditOfferCreate, protocol.OpCreditOfferDelete,
		protocol.OpCreditOfferAccept, protocol.OpCreditDealRepay,
	} {
		params := fs.Params[op]
		params.BasicFee = basic
		params.PricePerKB = perKB
		fs.Params[op] = params
	}
	accountCreate := fs.Params[protocol.OpAccountCreate]
	for length := 1; length < len(accountCreate.NameSurchargeByLength); length++ {
		if length <= 8 {
			accountCreate.NameSurchargeByLength[length] = protocol.Amount(8-length) * 2000
		}
	}
	fs.Params[protocol.OpAccountCreate] = accountCreate
	return fs
}

// Bootstrap creates a brand-new in-memory object store populated with
// genesis state and returns it ready for internal/chain.New. Callers that
// are instead restarting against an existing archive should still call
// Bootstrap (genesis state is never persisted on its own — see
// internal/chain.Pipeline.Replay's doc comment) and then Replay the
// archive on top of it.
func Bootstrap(p Params) *objectdb.Store {
	p = p.withDefaults()
	store := objectdb.New()

	// Core asset must land at instance 0 (protocol.CoreAssetID) since it is
	// the very first object created in a fresh store.
	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAsset, func(a *protocol.Asset) {
		a.Symbol = p.CoreAssetSymbol
		a.Precision = 5
		a.Issuer = protocol.NullAccountID
		a.Options.MaxSupply = 1<<63 - 1
		a.Options.CoreExchangeRate = protocol.Price{Base: protocol.AssetAmount{AssetID: protocol.CoreAssetID, Amount: 1}, Quote: protocol.AssetAmount{AssetID: protocol.CoreAssetID, Amount: 1}}
	})

	createSentinel(store, protocol.NullAccountID, "null-account")
	createSentinel(store, protocol.WitnessAccountID, "witness-account")
	createSentinel(store, protocol.CommitteeAccountID, "committee-account")
	createSentinel(store, protocol.TempAccountID, "temp-account")

	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeGlobalProperties, func(g *protocol.GlobalProperties) {
		g.BlockIntervalSec = p.BlockIntervalSec
		g.MaintenanceIntervalSec = p.MaintenanceIntervalSec
		g.MaxBlockSize = p.MaxBlockSize
		g.MaxTimeUntilExpirationSec = p.MaxTimeUntilExpirationSec
		g.MaxTransactionSize = p.MaxBlockSize
		g.MinWitnessCount = p.MinWitnessCount
		g.MinCommitteeCount = p.MinCommitteeCount
		g.CurrentFees = p.Fees
		g.WitnessPayPerBlock = p.WitnessPayPerBlock
		g.WorkerBudgetPerDay = p.WorkerBudgetPerDay
		g.NetworkSharePercent = p.NetworkSharePercent
	})

	headTime := p.HeadBlockTime
	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeDynamicGlobalProperties, func(d *protocol.DynamicGlobalProperties) {
		d.HeadBlockNumber = 0
		d.HeadBlockTime = headTime
		d.NextMaintenanceTime = headTime + int64(p.MaintenanceIntervalSec)
		d.LastBudgetTime = headTime
	})

	// BlockSummary instances are addressed by block_num & 0xFFFF (spec.md
	// §3.3); pre-creating the full ring means TaPoS lookups never hit a
	// missing instance regardless of how long the chain has run.
	for i := 0; i < 0x10000; i++ {
		objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeBlockSummary, func(*protocol.BlockSummary) {})
	}

	return store
}

// createSentinel places a reserved account at its fixed protocol id
// (WitnessAccountID and friends live at instances far past anything the
// ordinary per-account counter will ever reach) rather than letting it fall
// out of the auto-incrementing sequence, since other components address
// these accounts by that fixed id directly (internal/witness/maintenance.go).
func createSentinel(store *objectdb.Store, id protocol.ObjectID, name string) {
	objectdb.CreateAt(store, id, func(a *protocol.Account) {
		a.Name = name
		if id == protocol.TempAccountID {
			a.Owner = protocol.NewAuthority(0)
			a.Active = protocol.NewAuthority(0)
		} else {
			a.Owner = protocol.NewAuthority(1)
			a.Active = protocol.NewAuthority(1)
		}
		a.Whitelisters = map[protocol.ObjectID]struct{}{}
		a.Blacklisters = map[protocol.ObjectID]struct{}{}
	})
}
