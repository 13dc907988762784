// Package p2p implements the wire-protocol collaborator boundary of
// SPEC_FULL.md §6.1: a ChainAdapter interface exposing exactly the methods
// spec.md §6.1 names, plus a real libp2p gossip transport exercising it.
// Grounded on the teacher's core/network.go Node (libp2p host + gossipsub
// topics, mDNS peer discovery, bootstrap dialing), generalized from its
// single orphan-block topic to the block_message/trx_message envelopes this
// node needs and wired to internal/chain instead of a bare replication log.
package p2p

import (
	"sync"

	"dexchaind/internal/chain"
	"dexchaind/internal/protocol"
	"dexchaind/internal/txprocessor"
	"dexchaind/pkg/errs"
)

// ItemType distinguishes the two gossip item kinds spec.md §6.1's
// has_item/get_item calls operate on.
type ItemType uint8

const (
	BlockItem ItemType = iota
	TransactionItem
)

// ItemID names one gossip item the way Graphene's net plugin does: a type
// tag plus the item's own digest, so has_item/get_item never need a second
// parameter to disambiguate a block id from a transaction id that happen to
// collide.
type ItemID struct {
	Type ItemType
	ID   protocol.Hash
}

// ChainAdapter is the collaborator boundary spec.md §6.1 names: everything
// the gossip layer needs from the chain, and nothing it could use to bypass
// internal/chain.Pipeline's single-writer invariant.
type ChainAdapter interface {
	HasItem(item ItemID) bool
	GetItem(item ItemID) (any, error)
	HandleBlock(b protocol.Block, syncMode bool) (switchedForks bool, err error)
	HandleTransaction(trx protocol.Transaction) error
	GetItemIDs(typ ItemType, knownSynopsis []protocol.Hash, limit int) (ids []protocol.Hash, remaining int)
	GetBlockchainSynopsis(referencePoint protocol.Hash, count int) []protocol.Hash
	GetBlockNumber(id protocol.Hash) (uint64, bool)
	GetBlockTime(id protocol.Hash) (int64, bool)
	GetHeadBlockID() protocol.Hash
	GetChainID() protocol.Hash
}

// TransactionSource is the block producer's view of the pending pool:
// everything gossip has relayed that hasn't reached a block yet.
// NewChainAdapter's concrete adapter implements it alongside ChainAdapter.
type TransactionSource interface {
	PendingTransactions() []protocol.Transaction
}

// pipelineAdapter is the concrete ChainAdapter backing a running node. It
// holds its own pending-transaction pool (spec.md's Non-goals exclude a
// specific mempool eviction/fee-priority policy, not a pool outright — the
// gossip layer needs somewhere to answer has_item/get_item for transactions
// that haven't reached a block yet) since internal/txprocessor is a pure
// apply-now pipeline with no queuing concept of its own.
type pipelineAdapter struct {
	pipeline *chain.Pipeline
	chainID  protocol.Hash

	mu      sync.Mutex
	pending map[protocol.Hash]protocol.Transaction
	order   []protocol.Hash // insertion order, for GetItemIDs paging
}

// NewChainAdapter wraps p as a ChainAdapter. chainID is a caller-supplied
// digest identifying the genesis/fork parameters this node runs (spec.md
// §6.1's get_chain_id) — computed once at genesis and passed through
// unchanged thereafter.
func NewChainAdapter(p *chain.Pipeline, chainID protocol.Hash) ChainAdapter {
	a := &pipelineAdapter{
		pipeline: p,
		chainID:  chainID,
		pending:  map[protocol.Hash]protocol.Transaction{},
	}
	// Blocks applied outside HandleBlock (the local block producer pushes
	// straight through the pipeline) must still prune the pool, so evict
	// on every applied-block event as well as on the HandleBlock fast path.
	p.Subscribe(func(ev chain.AppliedBlockEvent) { a.dropIncluded(ev.Block) })
	return a
}

func (a *pipelineAdapter) HasItem(item ItemID) bool {
	switch item.Type {
	case TransactionItem:
		a.mu.Lock()
		_, ok := a.pending[item.ID]
		a.mu.Unlock()
		return ok
	default:
		if _, ok := a.pipeline.ForkDB.Get(item.ID); ok {
			return true
		}
		_, _, err := a.pipeline.Archive.GetByID(item.ID)
		return err == nil
	}
}

func (a *pipelineAdapter) GetItem(item ItemID) (any, error) {
	switch item.Type {
	case TransactionItem:
		a.mu.Lock()
		trx, ok := a.pending[item.ID]
		a.mu.Unlock()
		if !ok {
			return nil, errs.New(errs.KindStructural, "unknown transaction item")
		}
		return trx, nil
	default:
		if n, ok := a.pipeline.ForkDB.Get(item.ID); ok {
			return n.Block, nil
		}
		b, _, err := a.pipeline.Archive.GetByID(item.ID)
		if err != nil {
			return nil, errs.Wrap(errs.KindStructural, err, "unknown block item")
		}
		return b, nil
	}
}

// HandleBlock computes the block's id and pushes it, matching spec.md
// §6.1's handle_block(msg, sync_mode) -> switched_forks. syncMode is
// accepted for interface fidelity with Graphene's net plugin (it suppresses
// certain p2p-only side effects during initial sync there); this adapter
// has none to suppress since internal/chain.Pipeline.PushBlock already
// behaves identically whether driven by sync or live gossip.
func (a *pipelineAdapter) HandleBlock(b protocol.Block, _ bool) (bool, error) {
	id, err := chain.ComputeBlockID(b)
	if err != nil {
		return false, err
	}
	switched, err := a.pipeline.PushBlock(id, b)
	if err != nil {
		return false, err
	}
	a.dropIncluded(b)
	return switched, nil
}

// HandleTransaction admits trx to the pending pool for later block
// inclusion/relay. internal/txprocessor only validates a transaction in the
// context of an open block session, so full structural/signature
// validation happens at block-apply time; this pool is a relay cache, not
// a second validation point.
func (a *pipelineAdapter) HandleTransaction(trx protocol.Transaction) error {
	id, err := computeTrxID(trx)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pending[id]; ok {
		return nil
	}
	a.pending[id] = trx
	a.order = append(a.order, id)
	return nil
}

// PendingTransactions returns the pool's current contents in arrival
// order, for the block producer to draw candidate transactions from.
func (a *pipelineAdapter) PendingTransactions() []protocol.Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]protocol.Transaction, 0, len(a.pending))
	for _, id := range a.order {
		if trx, ok := a.pending[id]; ok {
			out = append(out, trx)
		}
	}
	return out
}

// dropIncluded evicts every pending transaction a just-applied block
// included, so the pool does not grow unboundedly once its contents reach
// a block by any path (gossip relay or direct submission).
func (a *pipelineAdapter) dropIncluded(b protocol.Block) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, trx := range b.Transactions {
		id, err := computeTrxID(trx)
		if err != nil {
			continue
		}
		delete(a.pending, id)
	}
}

// GetItemIDs implements spec.md §6.1's get_item_ids(type, synopsis, limit):
// for transactions it lists pending pool ids beyond the caller's synopsis;
// for blocks it walks the fork DB head to a known ancestor the way
// GetBlockchainSynopsis does, so a peer can ask "what do you have past
// this point" for either item kind with the same shape.
func (a *pipelineAdapter) GetItemIDs(typ ItemType, knownSynopsis []protocol.Hash, limit int) ([]protocol.Hash, int) {
	if typ == TransactionItem {
		known := map[protocol.Hash]struct{}{}
		for _, h := range knownSynopsis {
			known[h] = struct{}{}
		}
		a.mu.Lock()
		defer a.mu.Unlock()
		var out []protocol.Hash
		for _, id := range a.order {
			if _, ok := known[id]; ok {
				continue
			}
			if _, ok := a.pending[id]; !ok {
				continue
			}
			if len(out) >= limit {
				return out, len(a.order) - len(out)
			}
			out = append(out, id)
		}
		return out, 0
	}

	known := map[protocol.Hash]struct{}{}
	for _, h := range knownSynopsis {
		known[h] = struct{}{}
	}
	head, ok := a.pipeline.ForkDB.Head()
	if !ok {
		return nil, 0
	}
	var out []protocol.Hash
	cur := head
	for {
		if _, seen := known[cur]; seen {
			break
		}
		out = append(out, cur)
		if len(out) >= limit {
			n, _ := a.pipeline.ForkDB.Get(cur)
			remaining := 0
			if n != nil {
				remaining = int(n.Num) - 1
			}
			return reverseHashes(out), remaining
		}
		node, ok := a.pipeline.ForkDB.Get(cur)
		if !ok || node.Previous == (protocol.Hash{}) {
			break
		}
		cur = node.Previous
	}
	return reverseHashes(out), 0
}

func reverseHashes(in []protocol.Hash) []protocol.Hash {
	for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
		in[i], in[j] = in[j], in[i]
	}
	return in
}

// GetBlockchainSynopsis returns an exponentially-spaced set of ancestor
// block ids from the current head back toward referencePoint (the zero
// hash meaning "from genesis"), the classic Graphene synopsis algorithm
// peers exchange to find their common ancestor in O(log n) round trips
// rather than walking the whole chain.
func (a *pipelineAdapter) GetBlockchainSynopsis(referencePoint protocol.Hash, count int) []protocol.Hash {
	headNum, ok := a.pipeline.Archive.Head()
	if !ok {
		return nil
	}
	refNum := uint64(0)
	if referencePoint != (protocol.Hash{}) {
		if _, num, err := a.pipeline.Archive.GetByID(referencePoint); err == nil {
			refNum = num
		}
	}

	var out []protocol.Hash
	step := uint64(1)
	for n := headNum; n > refNum && len(out) < count; {
		id, ok := a.pipeline.Archive.IDForNumber(n)
		if ok {
			out = append(out, id)
		}
		if n <= step {
			break
		}
		n -= step
		step *= 2
	}
	if refNum > 0 {
		if id, ok := a.pipeline.Archive.IDForNumber(refNum); ok {
			out = append(out, id)
		}
	}
	return out
}

func (a *pipelineAdapter) GetBlockNumber(id protocol.Hash) (uint64, bool) {
	if n, ok := a.pipeline.ForkDB.Get(id); ok {
		return n.Num, true
	}
	_, num, err := a.pipeline.Archive.GetByID(id)
	return num, err == nil
}

func (a *pipelineAdapter) GetBlockTime(id protocol.Hash) (int64, bool) {
	if n, ok := a.pipeline.ForkDB.Get(id); ok {
		return n.Block.Header.Timestamp, true
	}
	b, _, err := a.pipeline.Archive.GetByID(id)
	if err != nil {
		return 0, false
	}
	return b.Header.Timestamp, true
}

func (a *pipelineAdapter) GetHeadBlockID() protocol.Hash {
	head, _ := a.pipeline.ForkDB.Head()
	return head
}

func (a *pipelineAdapter) GetChainID() protocol.Hash { return a.chainID }

// computeTrxID keeps the pending pool's notion of "transaction identity"
// exactly the one internal/chain already commits to for its history/TaPoS
// dedup path, rather than hashing transactions a second, different way.
func computeTrxID(trx protocol.Transaction) (protocol.Hash, error) {
	return txprocessor.ComputeTrxID(trx)
}
