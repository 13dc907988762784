// Package evaluator implements C5 of SPEC_FULL.md: a per-operation-tag
// dispatch table of (Validate, Evaluate, Apply) evaluators, generalized
// from the teacher's per-kind handler registries (core/Tokens/index.go,
// core/Nodes/index.go dispatch by a type key to a registered handler) into
// one evaluator per protocol.OpType, plus the fee-accounting and
// hardfork-gating steps common to every operation (spec.md §4.2).
package evaluator

import (
	"dexchaind/internal/feed"
	"dexchaind/internal/market"
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

// EvalContext is threaded through every Validate/Evaluate/Apply call: the
// object store plus the collaborators an evaluator may need (market
// engine for order operations, feed aggregator for publish_feed), the
// chain-time used for hardfork gating, and the virtual-operation
// coordinate counters (spec.md §5: "(block_num, trx_in_block, op_in_trx,
// virtual_op_seq) coordinate that uniquely orders it").
type EvalContext struct {
	Store      *objectdb.Store
	Market     *market.Engine
	Feeds      *feed.Aggregator
	Fees       *protocol.FeeSchedule
	Hardforks  *protocol.HardforkSchedule
	ChainTime  int64
	ReplayMode bool

	BlockNum   uint64
	TrxInBlock uint32

	opInTrx uint32
	vopSeq  uint32
}

// NewEvalContext returns a context bound to the given collaborators,
// ready for one block's worth of dispatch calls.
func NewEvalContext(store *objectdb.Store, mkt *market.Engine, feeds *feed.Aggregator, fees *protocol.FeeSchedule, hf *protocol.HardforkSchedule) *EvalContext {
	return &EvalContext{Store: store, Market: mkt, Feeds: feeds, Fees: fees, Hardforks: hf}
}

// BeginOperation advances the op-in-trx counter and resets the per-op
// virtual-seq counter, called by the transaction processor before each
// top-level operation it dispatches (spec.md §4.2 step 7).
func (c *EvalContext) BeginOperation() {
	c.opInTrx++
	c.vopSeq = 0
}

// NextCoordinate assigns and advances the virtual-op-id for the next
// emitted virtual operation.
func (c *EvalContext) NextCoordinate() protocol.VirtualOpCoordinate {
	coord := protocol.VirtualOpCoordinate{
		BlockNum:   c.BlockNum,
		TrxInBlock: c.TrxInBlock,
		OpInTrx:    c.opInTrx,
		VirtualSeq: c.vopSeq,
	}
	c.vopSeq++
	return coord
}
