// Package txprocessor implements C6 of SPEC_FULL.md: the push_transaction /
// apply_transaction pipeline (TaPoS, expiration, duplicate rejection,
// signature/authority verification) and per-operation dispatch into
// internal/evaluator. It generalizes the teacher's core/ledger.go
// applyBlock/WAL-replay sequencing into the full TaPoS+signature algorithm
// of spec.md §4.2.
package txprocessor

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"dexchaind/internal/evaluator"
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// legacyAbsoluteExpirationMarker is trx.RelativeExpiration's sentinel value
// selecting the legacy wire-compatibility quirk (DESIGN.md Open Question 2):
// RefBlockPrefix is then an absolute Unix expiration timestamp rather than
// the TaPoS block-summary-id prefix.
const legacyAbsoluteExpirationMarker = 0

// authorityExpansionDepth caps recursive account-authority expansion
// (spec.md §4.2 step 6: "max depth 2").
const authorityExpansionDepth = 2

// Processor runs the transaction pipeline against one object store and its
// collaborating engines.
type Processor struct {
	Store      *objectdb.Store
	Evaluators *evaluator.Registry
	Fees       *protocol.FeeSchedule
	Hardforks  *protocol.HardforkSchedule

	BlockIntervalSec           uint32
	MaxTimeUntilExpirationSec  uint32
}

// New returns a processor bound to the given collaborators.
func New(store *objectdb.Store, ev *evaluator.Registry, fees *protocol.FeeSchedule, hf *protocol.HardforkSchedule, blockIntervalSec, maxExpirationSec uint32) *Processor {
	return &Processor{
		Store: store, Evaluators: ev, Fees: fees, Hardforks: hf,
		BlockIntervalSec: blockIntervalSec, MaxTimeUntilExpirationSec: maxExpirationSec,
	}
}

// ComputeTrxID returns the transaction's digest over its canonical JSON
// encoding; internal/txprocessor owns this since it is the only layer that
// needs it both for TaPoS and for TransactionHistory dedup.
func ComputeTrxID(trx protocol.Transaction) (protocol.Hash, error) {
	trx.Signatures = nil // the id does not cover signatures
	b, err := json.Marshal(trx)
	if err != nil {
		return protocol.Hash{}, errs.Wrap(errs.KindInternal, err, "marshal transaction for id")
	}
	return sha256.Sum256(b), nil
}

// validateStructure implements apply_transaction step 1 (spec.md §4.2):
// structural checks independent of chain state.
func validateStructure(trx protocol.Transaction) error {
	if len(trx.Operations) == 0 {
		return errs.New(errs.KindStructural, "transaction must contain at least one operation")
	}
	seen := map[protocol.Signature]struct{}{}
	for _, sig := range trx.Signatures {
		if _, dup := seen[sig]; dup {
			return errs.New(errs.KindStructural, "duplicate signature")
		}
		seen[sig] = struct{}{}
	}
	for _, op := range trx.Operations {
		if op.Fee().Amount > 0 && op.Fee().Amount > (1<<62) {
			return errs.New(errs.KindStructural, "implausible fee amount")
		}
	}
	return nil
}

// PushTransaction implements spec.md §4.2's push_transaction: runs
// apply_transaction inside its own undo session nested under the supplied
// pending-block session, and commits only on success.
func (p *Processor) PushTransaction(pendingSession *objectdb.Session, ctx *evaluator.EvalContext, trx protocol.Transaction) (protocol.VirtualOps, error) {
	_ = pendingSession // session nesting is managed by the caller opening/closing around this call
	trxSession := p.Store.StartUndoSession()
	vops, err := p.ApplyTransaction(ctx, trx)
	if err != nil {
		trxSession.Discard()
		return nil, err
	}
	trxSession.Commit()
	return vops, nil
}

// ApplyTransaction implements spec.md §4.2's apply_transaction steps 1-7.
func (p *Processor) ApplyTransaction(ctx *evaluator.EvalContext, trx protocol.Transaction) (protocol.VirtualOps, error) {
	if err := validateStructure(trx); err != nil {
		return nil, err
	}

	dyn, err := currentDynamicProperties(p.Store)
	if err != nil {
		return nil, err
	}

	expiration, err := p.checkTaPoS(dyn, trx)
	if err != nil {
		return nil, err
	}

	if dyn.HeadBlockTime > expiration || expiration > dyn.HeadBlockTime+int64(p.MaxTimeUntilExpirationSec) {
		return nil, errs.New(errs.KindBusinessRule, "transaction expiration out of the acceptable window")
	}

	trxID, err := ComputeTrxID(trx)
	if err != nil {
		return nil, err
	}
	if err := p.rejectDuplicate(trxID, expiration); err != nil {
		return nil, err
	}

	avail, err := p.recoverSigners(trx, trxID)
	if err != nil {
		return nil, err
	}

	for i, op := range trx.Operations {
		if auth, ok := op.(protocol.Authorizable); ok {
			if err := p.checkAuthority(auth.RequiredAuthorities(), avail); err != nil {
				return nil, errs.Wrap(errs.KindAuthorization, err, "operation "+itoa(i))
			}
		}
	}
	// Every signature must have been consumed by some required authority
	// (spec.md §4.2 step 5); an irrelevant extra signature is rejected.
	if !avail.AllConsumed() {
		return nil, errs.New(errs.KindAuthorization, "transaction carries a signature that satisfies no required authority")
	}

	var allVops protocol.VirtualOps
	for _, op := range trx.Operations {
		ctx.BeginOperation()
		vops, err := p.Evaluators.Dispatch(ctx, op)
		if err != nil {
			return nil, err
		}
		allVops = append(allVops, vops...)
	}

	logging.Component("txprocessor").WithField("trx_id", hex.EncodeToString(trxID[:])).Info("applied transaction")
	return allVops, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

func currentDynamicProperties(store *objectdb.Store) (*protocol.DynamicGlobalProperties, error) {
	return CurrentDynamicProperties(store)
}

// CurrentDynamicProperties fetches the chain's singleton dynamic-properties
// object, exported for internal/chain's block-tail bookkeeping.
func CurrentDynamicProperties(store *objectdb.Store) (*protocol.DynamicGlobalProperties, error) {
	all := objectdb.All[protocol.DynamicGlobalProperties](store, protocol.SpaceImplementation, protocol.TypeDynamicGlobalProperties)
	if len(all) == 0 {
		return nil, errs.New(errs.KindInternal, "dynamic global properties not initialized")
	}
	return all[0], nil
}

// CurrentGlobalProperties fetches the chain's singleton governance
// parameters object, exported for internal/chain's maintenance trigger.
func CurrentGlobalProperties(store *objectdb.Store) (*protocol.GlobalProperties, error) {
	all := objectdb.All[protocol.GlobalProperties](store, protocol.SpaceImplementation, protocol.TypeGlobalProperties)
	if len(all) == 0 {
		return nil, errs.New(errs.KindInternal, "global properties not initialized")
	}
	return all[0], nil
}

// checkTaPoS implements apply_transaction step 2 (spec.md §4.2): locate the
// BlockSummary the transaction references, confirm its id prefix matches,
// and compute the transaction's absolute expiration time. The legacy
// quirk of Open Question 2 applies when RelativeExpiration is the sentinel.
func (p *Processor) checkTaPoS(dyn *protocol.DynamicGlobalProperties, trx protocol.Transaction) (int64, error) {
	if trx.RelativeExpiration == legacyAbsoluteExpirationMarker {
		return int64(trx.RefBlockPrefix), nil
	}

	headNum := dyn.HeadBlockNumber
	a := uint32(headNum & 0xFFFF)
	r := uint32(trx.RefBlockNum)

	// Largest x <= headNum with x === r (mod 2^16).
	var x uint64
	if r <= a {
		x = headNum - uint64(a-r)
	} else {
		if headNum < uint64(0x10000-int(a-r)) {
			return 0, errs.New(errs.KindBusinessRule, "ref_block_num too far in the past")
		}
		x = headNum - uint64(0x10000-int(r-a))
	}

	summary, err := objectdb.Get[protocol.BlockSummary](p.Store, protocol.NewObjectID(protocol.SpaceImplementation, protocol.TypeBlockSummary, x&0xFFFF))
	if err != nil {
		return 0, errs.Wrap(errs.KindBusinessRule, err, "ref_block_num not found in block summary history")
	}

	prefix := binary.BigEndian.Uint32(summary.BlockID[4:8])
	if prefix != trx.RefBlockPrefix {
		return 0, errs.New(errs.KindBusinessRule, "ref_block_prefix mismatch (TaPoS failure)")
	}

	return summary.Timestamp + int64(p.BlockIntervalSec)*int64(trx.RelativeExpiration), nil
}

// rejectDuplicate implements apply_transaction step 4: reject a
// previously-seen transaction id, then record this one.
func (p *Processor) rejectDuplicate(trxID protocol.Hash, expiration int64) error {
	for _, h := range objectdb.All[protocol.TransactionHistoryEntry](p.Store, protocol.SpaceImplementation, protocol.TypeTransactionHistory) {
		if h.TrxID == trxID {
			return errs.New(errs.KindBusinessRule, "duplicate transaction")
		}
	}
	objectdb.Create(p.Store, protocol.SpaceImplementation, protocol.TypeTransactionHistory, func(h *protocol.TransactionHistoryEntry) {
		h.TrxID = trxID
		h.Expiration = expiration
	})
	return nil
}

// PruneExpiredHistory removes TransactionHistory entries whose expiration
// has passed (spec.md §3.3: "pruned past its expiration"), called from the
// block pipeline at block tail.
func PruneExpiredHistory(store *objectdb.Store, now int64) error {
	for _, h := range objectdb.All[protocol.TransactionHistoryEntry](store, protocol.SpaceImplementation, protocol.TypeTransactionHistory) {
		if h.Expiration <= now {
			if err := objectdb.Remove[protocol.TransactionHistoryEntry](store, h.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// recoverSigners implements apply_transaction step 5: recovers the signer
// key/address behind every signature over the transaction id (trxID, as
// computed by ComputeTrxID). Relative- and absolute-expiration transactions
// are recovered over the same digest; the referenced block summary's id is
// not mixed in.
func (p *Processor) recoverSigners(trx protocol.Transaction, trxID protocol.Hash) (*protocol.AvailableSigners, error) {
	avail := protocol.NewAvailableSigners()
	digest := trxID
	for _, sig := range trx.Signatures {
		pub, addr, err := protocol.RecoverSigner(digest, sig)
		if err != nil {
			return nil, errs.Wrap(errs.KindAuthorization, err, "signature recovery failed")
		}
		avail.Keys[pub] = struct{}{}
		avail.Addresses[addr] = struct{}{}
		avail.Signers = append(avail.Signers, protocol.SignerRef{Key: pub, Address: addr})
	}

	// Resolve every key/address to the account(s) that list it directly in
	// owner or active, seeding Accounts for depth-1 account-authority
	// expansion in checkAuthority.
	for _, acct := range objectdb.All[protocol.Account](p.Store, protocol.SpaceProtocol, protocol.TypeAccount) {
		if directlySigned(acct.Owner, avail) || directlySigned(acct.Active, avail) {
			avail.Accounts[acct.ID] = struct{}{}
		}
	}
	return avail, nil
}

func directlySigned(a protocol.Authority, avail *protocol.AvailableSigners) bool {
	return a.Satisfied(avail)
}

// checkAuthority verifies required is satisfied by avail, expanding nested
// account authorities up to authorityExpansionDepth levels (spec.md §4.2
// step 6): the expansion recurses into nested accounts, bounded by an
// explicit depth counter.
func (p *Processor) checkAuthority(required protocol.RequiredAuthorities, avail *protocol.AvailableSigners) error {
	for _, id := range required.Active {
		if err := p.satisfyAccount(id, avail, authorityExpansionDepth); err != nil {
			return err
		}
	}
	for _, id := range required.Owner {
		if err := p.satisfyAccountOwner(id, avail, authorityExpansionDepth); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) satisfyAccount(id protocol.ObjectID, avail *protocol.AvailableSigners, depth int) error {
	acct, err := objectdb.Get[protocol.Account](p.Store, id)
	if err != nil {
		return err
	}
	if acct.Active.Satisfied(avail) {
		p.consumeAuthority(acct.Active, avail, depth)
		return nil
	}
	if depth > 0 && expandNestedAccounts(acct.Active, avail, p.Store, depth) && acct.Active.Satisfied(avail) {
		p.consumeAuthority(acct.Active, avail, depth)
		return nil
	}
	return errs.New(errs.KindAuthorization, "active authority not satisfied for "+acct.Name)
}

func (p *Processor) satisfyAccountOwner(id protocol.ObjectID, avail *protocol.AvailableSigners, depth int) error {
	acct, err := objectdb.Get[protocol.Account](p.Store, id)
	if err != nil {
		return err
	}
	if acct.Owner.Satisfied(avail) {
		p.consumeAuthority(acct.Owner, avail, depth)
		return nil
	}
	if depth > 0 && expandNestedAccounts(acct.Owner, avail, p.Store, depth) && acct.Owner.Satisfied(avail) {
		p.consumeAuthority(acct.Owner, avail, depth)
		return nil
	}
	return errs.New(errs.KindAuthorization, "owner authority not satisfied for "+acct.Name)
}

// consumeAuthority marks the keys/addresses that let avail satisfy a as
// used (spec.md §4.2 step 5's consumption bookkeeping). An account
// authorizer that was available contributed through its own authorities,
// so its keys are consumed recursively to the same depth cap the
// satisfaction walk used.
func (p *Processor) consumeAuthority(a protocol.Authority, avail *protocol.AvailableSigners, depth int) {
	avail.ConsumeDirect(a)
	if depth <= 0 {
		return
	}
	for nestedID := range a.AccountAuths {
		if _, ok := avail.Accounts[nestedID]; !ok {
			continue
		}
		nested, err := objectdb.Get[protocol.Account](p.Store, nestedID)
		if err != nil {
			continue
		}
		p.consumeAuthority(nested.Active, avail, depth-1)
		p.consumeAuthority(nested.Owner, avail, depth-1)
	}
}

// expandNestedAccounts walks one level of a's AccountAuths, marking any
// nested account whose own active authority is satisfied (directly or,
// recursively, up to depth levels) as available. Returns true if it added
// at least one new available account, so the caller can re-check
// satisfaction after the expansion.
func expandNestedAccounts(a protocol.Authority, avail *protocol.AvailableSigners, store *objectdb.Store, depth int) bool {
	added := false
	for nestedID := range a.AccountAuths {
		if _, ok := avail.Accounts[nestedID]; ok {
			continue
		}
		nested, err := objectdb.Get[protocol.Account](store, nestedID)
		if err != nil {
			continue
		}
		satisfied := nested.Active.Satisfied(avail)
		if !satisfied && depth > 1 {
			satisfied = expandNestedAccounts(nested.Active, avail, store, depth-1) && nested.Active.Satisfied(avail)
		}
		if satisfied {
			avail.Accounts[nestedID] = struct{}{}
			added = true
		}
	}
	return added
}
