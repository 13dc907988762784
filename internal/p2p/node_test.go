package p2p

import (
	"testing"

	"dexchaind/internal/protocol"
	"dexchaind/pkg/logging"
)

type fakeAdapter struct {
	blocks    []protocol.Block
	trxs      []protocol.Transaction
	failBlock bool
	failTrx   bool
}

func (f *fakeAdapter) HasItem(ItemID) bool             { return false }
func (f *fakeAdapter) GetItem(ItemID) (any, error)     { return nil, nil }
func (f *fakeAdapter) GetItemIDs(ItemType, []protocol.Hash, int) ([]protocol.Hash, int) { return nil, 0 }
func (f *fakeAdapter) GetBlockchainSynopsis(protocol.Hash, int) []protocol.Hash         { return nil }
func (f *fakeAdapter) GetBlockNumber(protocol.Hash) (uint64, bool)                      { return 0, false }
func (f *fakeAdapter) GetBlockTime(protocol.Hash) (int64, bool)                         { return 0, false }
func (f *fakeAdapter) GetHeadBlockID() protocol.Hash                                    { return protocol.Hash{} }
func (f *fakeAdapter) GetChainID() protocol.Hash                                        { return protocol.Hash{} }

func (f *fakeAdapter) HandleBlock(b protocol.Block, _ bool) (bool, error) {
	if f.failBlock {
		return false, errTest
	}
	f.blocks = append(f.blocks, b)
	return false, nil
}

func (f *fakeAdapter) HandleTransaction(trx protocol.Transaction) error {
	if f.failTrx {
		return errTest
	}
	f.trxs = append(f.trxs, trx)
	return nil
}

var errTest = testError("boom")

type testError string

func (e testError) Error() string { return string(e) }

func TestHandleEnvelopeDispatchesBlock(t *testing.T) {
	adapter := &fakeAdapter{}
	n := &Node{adapter: adapter}
	b := protocol.Block{Header: protocol.BlockHeader{Timestamp: 42}}

	n.handleEnvelope(logging.Component("test"), envelope{Kind: BlockItem, Block: &b})

	if len(adapter.blocks) != 1 || adapter.blocks[0].Header.Timestamp != 42 {
		t.Fatalf("expected block to reach adapter, got %+v", adapter.blocks)
	}
}

func TestHandleEnvelopeDispatchesTransaction(t *testing.T) {
	adapter := &fakeAdapter{}
	n := &Node{adapter: adapter}
	trx := protocol.Transaction{RefBlockNum: 7}

	n.handleEnvelope(logging.Component("test"), envelope{Kind: TransactionItem, Trx: &trx})

	if len(adapter.trxs) != 1 || adapter.trxs[0].RefBlockNum != 7 {
		t.Fatalf("expected transaction to reach adapter, got %+v", adapter.trxs)
	}
}

func TestHandleEnvelopeIgnoresNilPayload(t *testing.T) {
	adapter := &fakeAdapter{}
	n := &Node{adapter: adapter}

	n.handleEnvelope(logging.Component("test"), envelope{Kind: BlockItem})
	n.handleEnvelope(logging.Component("test"), envelope{Kind: TransactionItem})

	if len(adapter.blocks) != 0 || len(adapter.trxs) != 0 {
		t.Fatal("expected nil-payload envelopes to be dropped without calling the adapter")
	}
}

func TestHandleEnvelopeToleratesAdapterError(t *testing.T) {
	adapter := &fakeAdapter{failBlock: true, failTrx: true}
	n := &Node{adapter: adapter}
	b := protocol.Block{}
	trx := protocol.Transaction{}

	n.handleEnvelope(logging.Component("test"), envelope{Kind: BlockItem, Block: &b})
	n.handleEnvelope(logging.Component("test"), envelope{Kind: TransactionItem, Trx: &trx})
}
