package chain

import (
	"crypto/sha256"
	"encoding/json"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/internal/txprocessor"
	"dexchaind/internal/witness"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// MerkleRoot computes the binary Merkle root of the given transaction ids
// (spec.md §4.5.2 step 4). An odd node at any level is carried up
// unchanged; an empty list yields the zero hash.
func MerkleRoot(ids []protocol.Hash) protocol.Hash {
	if len(ids) == 0 {
		return protocol.Hash{}
	}
	level := append([]protocol.Hash(nil), ids...)
	for len(level) > 1 {
		next := make([]protocol.Hash, 0, (len(level)+1)/2)
		for i := 0; i+1 < len(level); i += 2 {
			var buf [64]byte
			copy(buf[:32], level[i][:])
			copy(buf[32:], level[i+1][:])
			next = append(next, sha256.Sum256(buf[:]))
		}
		if len(level)%2 == 1 {
			next = append(next, level[len(level)-1])
		}
		level = next
	}
	return level[0]
}

// revealSecrets computes the witness reveal chain for a new block
// (spec.md §4.5.2 step 3): the revealed secret is bound to the signing key
// and the witness's last secret, and the next commitment is a double hash
// over the key and the fresh reveal.
func revealSecrets(signingKey protocol.PublicKey, lastSecret [32]byte) (previousSecret, nextSecretHash [32]byte) {
	previousSecret = sha256.Sum256(append(signingKey[:], lastSecret[:]...))
	inner := sha256.Sum256(append(signingKey[:], previousSecret[:]...))
	nextSecretHash = sha256.Sum256(inner[:])
	return previousSecret, nextSecretHash
}

// GenerateBlock implements spec.md §4.5.2: assert witnessID is the witness
// scheduled for the slot containing `when` and that signingPriv matches its
// registered signing key, select as many of the candidate transactions as
// apply cleanly and fit within max_block_size, compute the transaction
// Merkle root and secret reveal chain, sign the header, and push the block
// through the ordinary PushBlock path. Candidates that fail to apply or no
// longer fit are returned in `dropped` for the caller to re-queue.
func (p *Pipeline) GenerateBlock(when int64, witnessID protocol.ObjectID, signingPriv []byte, candidates []protocol.Transaction) (protocol.Hash, protocol.Block, []protocol.Transaction, error) {
	global, err := txprocessor.CurrentGlobalProperties(p.Store)
	if err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, err
	}
	dyn, err := txprocessor.CurrentDynamicProperties(p.Store)
	if err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, err
	}

	slot := witness.SlotAtTime(dyn.HeadBlockTime, global.BlockIntervalSec, when)
	if slot == 0 {
		return protocol.Hash{}, protocol.Block{}, nil, errs.New(errs.KindBusinessRule, "block timestamp is not after the current head")
	}
	order := dyn.WitnessScheduleOrder
	if len(order) == 0 {
		// Before the first maintenance pass shuffles a schedule, fall back
		// to the declared active set (a fresh chain's bootstrap witnesses).
		order = global.ActiveWitnesses
	}
	scheduled, ok := witness.ScheduledWitness(order, dyn.CurrentAslot, slot)
	if !ok {
		return protocol.Hash{}, protocol.Block{}, nil, errs.New(errs.KindBusinessRule, "no active witnesses are scheduled")
	}
	if scheduled != witnessID {
		return protocol.Hash{}, protocol.Block{}, nil, errs.New(errs.KindBusinessRule, "witness is not scheduled for this slot")
	}

	wit, err := objectdb.Get[protocol.Witness](p.Store, witnessID)
	if err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, err
	}
	pub, err := protocol.PublicKeyFromPrivate(signingPriv)
	if err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, errs.Wrap(errs.KindAuthorization, err, "invalid witness signing key")
	}
	if pub != wit.SigningKey {
		return protocol.Hash{}, protocol.Block{}, nil, errs.New(errs.KindAuthorization, "signing key does not match the witness's registered key")
	}

	included, dropped, err := p.selectTransactions(when, dyn.HeadBlockNumber+1, global.MaxBlockSize, candidates)
	if err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, err
	}

	ids := make([]protocol.Hash, 0, len(included))
	for _, trx := range included {
		id, err := txprocessor.ComputeTrxID(trx)
		if err != nil {
			return protocol.Hash{}, protocol.Block{}, nil, err
		}
		ids = append(ids, id)
	}

	previousSecret, nextSecretHash := revealSecrets(wit.SigningKey, wit.LastSecret)
	b := protocol.Block{
		Header: protocol.BlockHeader{
			Previous:        dyn.HeadBlockID,
			Timestamp:       when,
			Witness:         witnessID,
			TransactionRoot: MerkleRoot(ids),
			PreviousSecret:  previousSecret,
			NextSecretHash:  nextSecretHash,
		},
		Transactions: included,
	}

	blockID, err := ComputeBlockID(b)
	if err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, err
	}
	sig, err := protocol.Sign(blockID, signingPriv)
	if err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, errs.Wrap(errs.KindInternal, err, "signing produced block")
	}
	b.WitnessSig = sig

	if _, err := p.PushBlock(blockID, b); err != nil {
		return protocol.Hash{}, protocol.Block{}, nil, err
	}
	logging.Block("chain", dyn.HeadBlockNumber+1).
		WithField("witness", witnessID).
		WithField("transactions", len(included)).
		Info("produced block")
	return blockID, b, dropped, nil
}

// selectTransactions trial-applies each candidate inside one discarded undo
// session, keeping those that apply cleanly after their predecessors and
// whose packed size still fits the block (spec.md §4.5.2 step 5: dropped
// transactions go back to the pending queue). The trial session is always
// discarded — the survivors are re-applied for real by PushBlock.
func (p *Pipeline) selectTransactions(when int64, blockNum uint64, maxBlockSize uint32, candidates []protocol.Transaction) (included, dropped []protocol.Transaction, err error) {
	if len(candidates) == 0 {
		return nil, nil, nil
	}
	trial := p.Store.StartUndoSession()
	defer trial.Discard()

	ctx := p.newEvalContext(blockNum, when, false)
	packed := 0
	for i, trx := range candidates {
		enc, encErr := json.Marshal(trx)
		if encErr != nil {
			dropped = append(dropped, trx)
			continue
		}
		if packed+len(enc) > int(maxBlockSize) {
			dropped = append(dropped, candidates[i:]...)
			break
		}
		ctx.TrxInBlock = uint32(len(included))
		if _, applyErr := p.Processor.PushTransaction(trial, ctx, trx); applyErr != nil {
			logging.Component("chain").WithError(applyErr).Debug("excluding transaction from produced block")
			dropped = append(dropped, trx)
			continue
		}
		included = append(included, trx)
		packed += len(enc)
	}
	return included, dropped, nil
}
