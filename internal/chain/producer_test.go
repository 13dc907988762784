package chain

import (
	"crypto/sha256"
	"testing"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/internal/txprocessor"
)

// testSigningKey is a fixed valid secp256k1 scalar so the producer tests
// are fully deterministic.
func testSigningKey() []byte {
	priv := make([]byte, 32)
	priv[31] = 7
	return priv
}

func setupProducer(t *testing.T) (*objectdb.Store, *Pipeline, protocol.ObjectID, []byte) {
	t.Helper()
	store := setupGenesis(t, 2)
	p := newTestPipeline(t, store)

	priv := testSigningKey()
	pub, err := protocol.PublicKeyFromPrivate(priv)
	if err != nil {
		t.Fatal(err)
	}
	witnessID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeWitness, func(w *protocol.Witness) {
		w.SigningKey = pub
	})

	global, err := txprocessor.CurrentGlobalProperties(store)
	if err != nil {
		t.Fatal(err)
	}
	if err := objectdb.Modify(store, global.ID, func(g *protocol.GlobalProperties) {
		g.ActiveWitnesses = []protocol.ObjectID{witnessID}
		g.MaxBlockSize = 2 << 20
	}); err != nil {
		t.Fatal(err)
	}
	return store, p, witnessID, priv
}

func TestGenerateBlockAdvancesHeadAndRevealChain(t *testing.T) {
	store, p, witnessID, priv := setupProducer(t)

	when := int64(1_000_003)
	blockID, b, dropped, err := p.GenerateBlock(when, witnessID, priv, nil)
	if err != nil {
		t.Fatalf("generate block: %v", err)
	}
	if len(dropped) != 0 {
		t.Fatalf("expected no dropped transactions, got %d", len(dropped))
	}
	if b.Header.Witness != witnessID || b.Header.Timestamp != when {
		t.Fatalf("unexpected header: %+v", b.Header)
	}
	if b.Header.TransactionRoot != (protocol.Hash{}) {
		t.Fatal("empty block must carry the zero transaction root")
	}

	dyn, err := txprocessor.CurrentDynamicProperties(store)
	if err != nil {
		t.Fatal(err)
	}
	if dyn.HeadBlockNumber != 1 || dyn.HeadBlockID != blockID {
		t.Fatalf("expected head 1/%v, got %d/%v", blockID, dyn.HeadBlockNumber, dyn.HeadBlockID)
	}
	if dyn.CurrentAslot != 1 || dyn.RecentSlotsFilled != 1 {
		t.Fatalf("expected aslot 1 with low bit set, got %d/%b", dyn.CurrentAslot, dyn.RecentSlotsFilled)
	}

	// The revealed secret must now be the witness's last secret, and the
	// commitment chain must verify: H(H(key || revealed)) was published.
	wit, err := objectdb.Get[protocol.Witness](store, witnessID)
	if err != nil {
		t.Fatal(err)
	}
	if wit.LastSecret != b.Header.PreviousSecret {
		t.Fatal("witness's last secret was not advanced to the revealed secret")
	}
	if wit.LastBlockNum != 1 {
		t.Fatalf("expected witness last block 1, got %d", wit.LastBlockNum)
	}
	inner := sha256.Sum256(append(wit.SigningKey[:], b.Header.PreviousSecret[:]...))
	if sha256.Sum256(inner[:]) != b.Header.NextSecretHash {
		t.Fatal("published next-secret commitment does not hash-commit to the reveal")
	}

	// The witness signature must recover to the registered signing key.
	pub, _, err := protocol.RecoverSigner(blockID, b.WitnessSig)
	if err != nil {
		t.Fatalf("recover block signer: %v", err)
	}
	if pub != wit.SigningKey {
		t.Fatal("block signature does not recover the witness's signing key")
	}
}

func TestGenerateBlockRejectsWrongKeyAndUnscheduledWitness(t *testing.T) {
	store, p, witnessID, priv := setupProducer(t)

	wrong := make([]byte, 32)
	wrong[31] = 9
	if _, _, _, err := p.GenerateBlock(1_000_003, witnessID, wrong, nil); err == nil {
		t.Fatal("expected a mismatched signing key to be rejected")
	}

	otherID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeWitness, func(w *protocol.Witness) {})
	if _, _, _, err := p.GenerateBlock(1_000_003, otherID, priv, nil); err == nil {
		t.Fatal("expected an unscheduled witness to be rejected")
	}

	if _, _, _, err := p.GenerateBlock(1_000_000, witnessID, priv, nil); err == nil {
		t.Fatal("expected a timestamp at the head time to be rejected")
	}
}

func TestGenerateBlockDropsUnappliableTransactions(t *testing.T) {
	_, p, witnessID, priv := setupProducer(t)

	// A structurally empty transaction can never apply; the producer must
	// exclude it and still produce the block.
	junk := protocol.Transaction{}
	_, b, dropped, err := p.GenerateBlock(1_000_003, witnessID, priv, []protocol.Transaction{junk})
	if err != nil {
		t.Fatalf("generate block: %v", err)
	}
	if len(b.Transactions) != 0 {
		t.Fatalf("expected the junk transaction to be excluded, block has %d", len(b.Transactions))
	}
	if len(dropped) != 1 {
		t.Fatalf("expected 1 dropped transaction, got %d", len(dropped))
	}
}

func TestMerkleRoot(t *testing.T) {
	if MerkleRoot(nil) != (protocol.Hash{}) {
		t.Fatal("empty id list must yield the zero root")
	}

	a, b, c := hash(1), hash(2), hash(3)
	if MerkleRoot([]protocol.Hash{a}) != a {
		t.Fatal("single-leaf root must be the leaf itself")
	}

	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	ab := sha256.Sum256(buf[:])
	copy(buf[:32], ab[:])
	copy(buf[32:], c[:])
	want := protocol.Hash(sha256.Sum256(buf[:]))
	if got := MerkleRoot([]protocol.Hash{a, b, c}); got != want {
		t.Fatalf("three-leaf root mismatch: got %x want %x", got, want)
	}
}
