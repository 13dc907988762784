// Package chain implements C11 of SPEC_FULL.md: the block pipeline that
// orchestrates push/pop/replay against internal/forkdb and
// internal/objectdb, runs the once-per-block-tail maintenance sweeps
// (feed expiration, market order expiration, force settlement, proposal
// push/expiry, and the periodic witness maintenance pass), and dispatches
// applied_block/changed_objects signals to subscribers after the write
// section releases (spec.md §4.6, §5).
//
// Grounded on the teacher's core/chain_fork_manager.go (fork tracking) and
// core/ledger.go's applyBlock/WAL-replay sequencing, generalized into the
// full pop-to-LCA/replay-forward algorithm and widened with the
// maintenance-loop hooks the teacher's single-block apply never needed.
package chain

import (
	"sync"

	"golang.org/x/sync/errgroup"

	"dexchaind/internal/blockstore"
	"dexchaind/internal/evaluator"
	"dexchaind/internal/feed"
	"dexchaind/internal/forkdb"
	"dexchaind/internal/market"
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/internal/proposal"
	"dexchaind/internal/txprocessor"
	"dexchaind/internal/witness"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// AppliedBlockEvent is delivered to subscribers once a block has committed
// (spec.md §5: "during a block application the applied_block signal fires
// with the full block").
type AppliedBlockEvent struct {
	Block        protocol.Block
	BlockID      protocol.Hash
	BlockNum     uint64
	ChangedIDs   []protocol.ObjectID
	SwitchedFork bool
}

// Subscriber receives pipeline events. Per spec.md §5, callbacks must not
// mutate chain state and must not call back into the pipeline synchronously
// — Pipeline always invokes them from a detached goroutine after the write
// section has released.
type Subscriber func(AppliedBlockEvent)

// Pipeline wires the object store, fork DB, block archive, transaction
// processor, market/feed/proposal/witness engines into the single
// deterministic writer of spec.md §5.
type Pipeline struct {
	Store      *objectdb.Store
	ForkDB     *forkdb.ForkDB
	Archive    *blockstore.Store
	Processor  *txprocessor.Processor
	Evaluators *evaluator.Registry
	Market     *market.Engine
	Feeds      *feed.Aggregator
	Proposals  *proposal.Engine
	Maint      *witness.Maintenance
	Hardforks  *protocol.HardforkSchedule
	Fees       *protocol.FeeSchedule

	mu          sync.Mutex
	subscribers []Subscriber

	// blockSessions holds one *objectdb.Session per applied block, oldest
	// first, kept OPEN (never committed) so pop_block can later Discard
	// exactly that block's deltas. Session.Commit merges a session's log
	// into its parent and closes it, which would make it undiscardable —
	// so unlike the per-transaction sessions nested inside each of these
	// (which do commit, up into their enclosing block session), the block
	// session itself stays on the store's session stack until popped.
	blockSessions []*objectdb.Session
}

// New wires a pipeline from its collaborators. Callers are expected to have
// already created the singleton GlobalProperties/DynamicGlobalProperties
// objects (genesis) or replayed the archive (see Replay). blockIntervalSec
// and maxExpirationSec are the genesis GlobalProperties values the
// transaction processor needs for TaPoS/expiration checks (spec.md §4.2).
func New(store *objectdb.Store, fdb *forkdb.ForkDB, archive *blockstore.Store, fees *protocol.FeeSchedule, hf *protocol.HardforkSchedule, replayMode bool, blockIntervalSec, maxExpirationSec uint32) *Pipeline {
	mkt := market.NewEngine(store)
	feeds := feed.NewAggregator(store)
	evs := evaluator.NewRegistry()
	return &Pipeline{
		Store:      store,
		ForkDB:     fdb,
		Archive:    archive,
		Processor:  txprocessor.New(store, evs, fees, hf, blockIntervalSec, maxExpirationSec),
		Evaluators: evs,
		Market:     mkt,
		Feeds:      feeds,
		Proposals:  proposal.New(store, evs, hf, replayMode),
		Maint:      witness.NewMaintenance(store),
		Hardforks:  hf,
		Fees:       fees,
	}
}

// Subscribe registers a callback for every future applied_block/
// changed_objects dispatch.
func (p *Pipeline) Subscribe(sub Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, sub)
}

// dispatch fans the event out to every subscriber concurrently via
// errgroup, detached from the caller so a slow or panicking subscriber
// cannot stall block application (spec.md §5's asynchronous delivery
// requirement). Subscriber panics are not recovered deliberately: a
// misbehaving subscriber should fail loudly rather than silently drop
// events.
func (p *Pipeline) dispatch(ev AppliedBlockEvent) {
	p.mu.Lock()
	subs := append([]Subscriber(nil), p.subscribers...)
	p.mu.Unlock()
	if len(subs) == 0 {
		return
	}
	go func() {
		var eg errgroup.Group
		for _, sub := range subs {
			sub := sub
			eg.Go(func() error {
				sub(ev)
				return nil
			})
		}
		_ = eg.Wait()
	}()
}

// newEvalContext builds the per-block evaluation context bound to this
// pipeline's collaborators.
func (p *Pipeline) newEvalContext(blockNum uint64, chainTime int64, replay bool) *evaluator.EvalContext {
	ctx := evaluator.NewEvalContext(p.Store, p.Market, p.Feeds, p.Fees, p.Hardforks)
	ctx.BlockNum = blockNum
	ctx.ChainTime = chainTime
	ctx.ReplayMode = replay
	return ctx
}

// PushBlock implements spec.md §4.6's chain push logic: insert into the
// fork DB; if the result extends the current head directly, apply it in a
// single session; otherwise compute the branch from the LCA, pop back to
// it, and replay the new branch forward. Returns whether applying this
// block switched the preferred fork away from the prior head (spec.md §6.1:
// "handle_block(msg, sync_mode) -> switched_forks").
func (p *Pipeline) PushBlock(blockID protocol.Hash, b protocol.Block) (switchedForks bool, err error) {
	priorHead, hadHead := p.ForkDB.Head()
	blockNum := uint64(1)
	if parent, ok := p.ForkDB.Get(b.Header.Previous); ok {
		blockNum = parent.Num + 1
	} else if hadHead {
		return false, errs.New(errs.KindStructural, "block's previous is not a known fork DB node")
	}

	p.ForkDB.Insert(blockID, blockNum, b.Header.Previous, b)

	newHead, ok := p.ForkDB.Head()
	if !ok || newHead != blockID {
		// Not the preferred tip (spec.md §4.6 step 3: "if new_head.num <=
		// head.num, do nothing").
		return false, nil
	}

	if !hadHead || b.Header.Previous == priorHead {
		changed, applyErr := p.applyOneBlock(blockID, b)
		if applyErr != nil {
			p.ForkDB.Remove(blockID)
			return false, applyErr
		}
		p.afterBlockCommit(blockID, b, blockNum, changed, false)
		return false, nil
	}

	return p.switchFork(priorHead, blockID)
}

// switchFork implements spec.md §4.6 step 4: pop blocks through undo back
// to the LCA, then replay the new branch forward. On any apply failure, the
// bad branch is evicted from the fork DB and the original branch is
// re-applied so the store ends up exactly where it started.
func (p *Pipeline) switchFork(oldHead, newHead protocol.Hash) (bool, error) {
	newBranch, oldBranch, err := p.ForkDB.FetchBranchFrom(newHead, oldHead)
	if err != nil {
		return false, err
	}

	for range oldBranch {
		if err := p.popOne(); err != nil {
			return false, errs.Wrap(errs.KindInternal, err, "pop to LCA during fork switch")
		}
	}

	var allChanged []protocol.ObjectID
	for i, n := range newBranch {
		changed, applyErr := p.applyOneBlock(n.ID, n.Block)
		if applyErr != nil {
			logging.Component("chain").WithField("block_id", n.ID).Warn("fork switch branch failed, reverting")
			p.ForkDB.Remove(n.ID)
			// Unwind everything this switch already applied, then
			// re-apply the original branch so the store matches its
			// pre-switch state (spec.md §4.6 step 4: "re-apply the
			// original branch and throw").
			for j := 0; j < i; j++ {
				_ = p.popOne()
			}
			for _, old := range oldBranch {
				if _, reErr := p.applyOneBlock(old.ID, old.Block); reErr != nil {
					return false, errs.Wrap(errs.KindInternal, reErr, "failed to restore original branch after failed fork switch")
				}
			}
			return false, applyErr
		}
		allChanged = append(allChanged, changed...)
	}

	if len(newBranch) > 0 {
		last := newBranch[len(newBranch)-1]
		p.afterBlockCommit(last.ID, last.Block, last.Num, allChanged, true)
	}
	return true, nil
}

// applyOneBlock applies a freshly received block and appends it to the
// archive. Returns the session's changed ids.
func (p *Pipeline) applyOneBlock(blockID protocol.Hash, b protocol.Block) ([]protocol.ObjectID, error) {
	dyn, err := txprocessor.CurrentDynamicProperties(p.Store)
	if err != nil {
		return nil, err
	}
	newNum := dyn.HeadBlockNumber + 1

	changed, err := p.applyBlockCore(blockID, b, newNum)
	if err != nil {
		return nil, err
	}
	if err := p.Archive.Append(newNum, blockID, b); err != nil {
		p.blockSessions[len(p.blockSessions)-1].Discard()
		p.blockSessions = p.blockSessions[:len(p.blockSessions)-1]
		return nil, errs.Wrap(errs.KindInternal, err, "archiving block")
	}
	return changed, nil
}

// applyArchivedBlock applies a block that is already durably archived
// (used by Replay), skipping the redundant archive write.
func (p *Pipeline) applyArchivedBlock(blockID protocol.Hash, b protocol.Block) ([]protocol.ObjectID, error) {
	dyn, err := txprocessor.CurrentDynamicProperties(p.Store)
	if err != nil {
		return nil, err
	}
	return p.applyBlockCore(blockID, b, dyn.HeadBlockNumber+1)
}

// applyBlockCore opens a pending-block session, pushes every transaction
// through the processor (each under its own nested session per spec.md
// §4.2's push_transaction), and runs block-tail maintenance. The session
// is kept open on the block-session stack rather than committed, so a
// later pop_block can discard exactly this block's deltas.
func (p *Pipeline) applyBlockCore(blockID protocol.Hash, b protocol.Block, newNum uint64) ([]protocol.ObjectID, error) {
	ctx := p.newEvalContext(newNum, b.Header.Timestamp, false)
	pending := p.Store.StartUndoSession()

	for i, trx := range b.Transactions {
		ctx.TrxInBlock = uint32(i)
		if _, err := p.Processor.PushTransaction(pending, ctx, trx); err != nil {
			pending.Discard()
			return nil, errs.Wrap(errs.KindOf(err), err, "applying transaction in block")
		}
	}

	if err := p.advanceHeadAndMaintain(ctx, blockID, b, newNum); err != nil {
		pending.Discard()
		return nil, err
	}

	changed := pending.ChangedIDs()
	p.blockSessions = append(p.blockSessions, pending)
	return changed, nil
}

// advanceHeadAndMaintain implements the tail half of spec.md §2's control
// flow: update DynamicGlobalProperties to the new head, run the recurring
// expiration sweeps (TransactionHistory, market orders, bitasset feeds,
// force settlements, proposals), and — if the maintenance interval has
// elapsed — run the witness/committee maintenance pass (spec.md §4.5.3).
func (p *Pipeline) advanceHeadAndMaintain(ctx *evaluator.EvalContext, blockID protocol.Hash, b protocol.Block, newNum uint64) error {
	global, err := txprocessor.CurrentGlobalProperties(p.Store)
	if err != nil {
		return err
	}
	dyn, err := txprocessor.CurrentDynamicProperties(p.Store)
	if err != nil {
		return err
	}

	slots := witness.SlotAtTime(dyn.HeadBlockTime, global.BlockIntervalSec, b.Header.Timestamp)
	if err := objectdb.Modify(p.Store, dyn.ID, func(d *protocol.DynamicGlobalProperties) {
		d.HeadBlockNumber = newNum
		d.HeadBlockID = blockID
		d.HeadBlockTime = b.Header.Timestamp
		d.CurrentWitness = b.Header.Witness
		d.CurrentAslot += slots
		if slots > 0 && slots < 64 {
			// Missed slots leave zero bits behind the new head's one.
			d.RecentSlotsFilled = (d.RecentSlotsFilled << slots) | 1
		}
	}); err != nil {
		return err
	}

	// Advance the producing witness's reveal chain (spec.md §4.5.2 step 3):
	// the secret this block revealed becomes the witness's last secret.
	// Blocks carrying a null witness id (tests, pre-witness bootstrap
	// chains) have no witness object to advance.
	if w, ok := objectdb.Find[protocol.Witness](p.Store, b.Header.Witness); ok && w != nil {
		if err := objectdb.Modify(p.Store, b.Header.Witness, func(w *protocol.Witness) {
			w.LastSecret = b.Header.PreviousSecret
			w.LastBlockNum = newNum
		}); err != nil {
			return err
		}
	}

	if err := objectdb.Modify(p.Store, protocol.NewObjectID(protocol.SpaceImplementation, protocol.TypeBlockSummary, newNum&0xFFFF), func(s *protocol.BlockSummary) {
		s.BlockID = blockID
		s.Timestamp = b.Header.Timestamp
	}); err != nil {
		// BlockSummary ring slots are pre-created at genesis for every
		// instance 0..0xFFFF; Modify failing here means genesis never ran.
		return errs.Wrap(errs.KindInternal, err, "block summary ring not initialized")
	}

	now := b.Header.Timestamp
	if err := txprocessor.PruneExpiredHistory(p.Store, now); err != nil {
		return err
	}
	if err := p.Market.ExpireLimitOrders(now); err != nil {
		return err
	}
	if err := p.Feeds.SweepExpirations(now); err != nil {
		return err
	}
	for _, a := range objectdb.All[protocol.Asset](p.Store, protocol.SpaceProtocol, protocol.TypeAsset) {
		if !a.IsBitAsset() {
			continue
		}
		if _, _, err := p.Market.RunMarginCallLoop(ctx.NextCoordinate(), a.ID); err != nil {
			return err
		}
		if _, err := p.Market.ProcessDueForceSettlements(ctx.NextCoordinate(), a.ID, now); err != nil {
			return err
		}
	}
	if err := p.sweepProposals(ctx, now); err != nil {
		return err
	}

	if now >= dyn.NextMaintenanceTime {
		if err := p.runMaintenance(global, dyn, now); err != nil {
			return err
		}
		for _, a := range objectdb.All[protocol.Asset](p.Store, protocol.SpaceProtocol, protocol.TypeAsset) {
			if !a.IsBitAsset() {
				continue
			}
			// The force-settlement volume cap is per maintenance interval
			// (spec.md §4.3.6): start the new interval's counter at zero.
			if err := objectdb.Modify(p.Store, a.BitAssetID, func(d *protocol.AssetBitAssetData) {
				d.ForceSettledVolThisRound = 0
			}); err != nil {
				return err
			}
			if _, err := p.Market.AcceptCollateralBids(ctx.NextCoordinate(), a.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

// sweepProposals implements spec.md §4.7's block-tail half of push_proposal:
// every currently-authorized proposal outside its review period is pushed;
// every proposal whose expiration has passed unauthorized is removed.
func (p *Pipeline) sweepProposals(ctx *evaluator.EvalContext, now int64) error {
	for _, pr := range objectdb.All[protocol.Proposal](p.Store, protocol.SpaceProtocol, protocol.TypeProposal) {
		if pr.IsAuthorized(now) {
			if _, err := p.Proposals.Push(ctx, pr.ID); err != nil {
				return err
			}
		}
	}
	return p.Proposals.SweepExpired(now)
}

// runMaintenance runs the once-per-interval pass (spec.md §4.5.3), which
// mutates its global/dyn arguments in place — including the schedule
// reshuffle and the rolled-forward next_maintenance_time — then persists
// both singletons.
func (p *Pipeline) runMaintenance(global *protocol.GlobalProperties, dyn *protocol.DynamicGlobalProperties, now int64) error {
	g := *global
	d := *dyn
	if err := p.Maint.Run(&g, &d, now); err != nil {
		return err
	}
	if err := objectdb.Modify(p.Store, global.ID, func(gp *protocol.GlobalProperties) { *gp = g }); err != nil {
		return err
	}
	return objectdb.Modify(p.Store, dyn.ID, func(dp *protocol.DynamicGlobalProperties) { *dp = d })
}

// afterBlockCommit fires the applied_block/changed_objects signals once the
// write section has fully released (spec.md §5: dispatched asynchronously
// after the write-holding section releases).
func (p *Pipeline) afterBlockCommit(blockID protocol.Hash, b protocol.Block, num uint64, changed []protocol.ObjectID, switched bool) {
	logging.Block("chain", num).WithField("block_id", blockID).Info("applied block")
	p.dispatch(AppliedBlockEvent{Block: b, BlockID: blockID, BlockNum: num, ChangedIDs: changed, SwitchedFork: switched})
}

// popOne discards the topmost block session, rolling the store back to the
// prior head, and removes the popped block number from the archive index.
// The fork DB is not touched: its nodes and head stay as they were.
func (p *Pipeline) popOne() error {
	if len(p.blockSessions) == 0 {
		return errs.New(errs.KindInternal, "pop_block called with no applied blocks to pop")
	}
	dyn, err := txprocessor.CurrentDynamicProperties(p.Store)
	if err != nil {
		return err
	}
	last := p.blockSessions[len(p.blockSessions)-1]
	p.blockSessions = p.blockSessions[:len(p.blockSessions)-1]
	last.Discard()
	p.Archive.Unindex(dyn.HeadBlockNumber)
	return nil
}

// PopBlock reverts the current head by one block, for external callers
// (e.g. an RPC admin surface) that need to roll back without a competing
// fork to switch to.
func (p *Pipeline) PopBlock() error {
	return p.popOne()
}

// Replay re-applies every block already in the archive from genesis, in
// number order, rebuilding both the object store's state and the fork DB's
// linear history without re-writing the archive itself (spec.md §8,
// testable property 8: "Replaying the block archive from genesis produces
// the same head_block_id as the live chain").
func (p *Pipeline) Replay() error {
	head, ok := p.Archive.Head()
	if !ok {
		return nil
	}
	for n := uint64(1); n <= head; n++ {
		id, ok := p.Archive.IDForNumber(n)
		if !ok {
			return errs.New(errs.KindInternal, "replay: archive missing id index for a numbered block")
		}
		b, err := p.Archive.GetByNumber(n)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "replay: reading archived block")
		}
		p.ForkDB.Insert(id, n, b.Header.Previous, b)
		if _, err := p.applyArchivedBlock(id, b); err != nil {
			return errs.Wrap(errs.KindInternal, err, "replay: applying archived block")
		}
	}
	return nil
}
