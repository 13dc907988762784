package chain

import (
	"crypto/sha256"
	"encoding/json"

	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

// ComputeBlockID returns a block's digest over its canonical JSON-encoded
// header, mirroring internal/txprocessor's ComputeTrxID. The transaction
// list is committed separately via BlockHeader.TransactionRoot, so the id
// only needs to cover the header: callers that received a block over the
// wire (internal/p2p) or just produced one (witness block production) both
// compute this same id before calling PushBlock.
func ComputeBlockID(b protocol.Block) (protocol.Hash, error) {
	h, err := json.Marshal(b.Header)
	if err != nil {
		return protocol.Hash{}, errs.Wrap(errs.KindInternal, err, "marshal block header for id")
	}
	return sha256.Sum256(h), nil
}
