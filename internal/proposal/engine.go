// Package proposal implements C10 of SPEC_FULL.md: push_proposal
// orchestration on top of the evaluator-dispatched ProposalCreateOp and
// ProposalUpdateOp (spec.md §4.7).
package proposal

import (
	"dexchaind/internal/evaluator"
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
	"dexchaind/pkg/logging"
)

// defangedProposalID is the historical proposal object id hardfork-1479
// neuters: DESIGN.md's Open Question 3 decision restricts this to replay of
// the original chain's own history, never live consensus on a fresh chain.
var defangedProposalID = protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeProposal, 17503)

// Engine runs the push_proposal step: dispatching a fully-authorized
// proposal's wrapped operations, or leaving it in place with FailReason set
// if they don't all succeed.
type Engine struct {
	Store      *objectdb.Store
	Evaluators *evaluator.Registry
	Hardforks  *protocol.HardforkSchedule
	ReplayMode bool
}

// New returns a proposal engine bound to store/evaluators/hardforks.
// replayMode gates the hardfork-1479 defang path: it must only fire while
// replaying the original chain's own history, never during live consensus
// on a chain that never had that history (DESIGN.md Open Question 3).
func New(store *objectdb.Store, ev *evaluator.Registry, hf *protocol.HardforkSchedule, replayMode bool) *Engine {
	return &Engine{Store: store, Evaluators: ev, Hardforks: hf, ReplayMode: replayMode}
}

// Push implements spec.md §4.7 step 5. If hardfork-1479 is active and id is
// the defanged historical proposal, it is simply removed instead of pushed
// (a known-bad historical proposal id that must never execute again but
// must also not fail transaction processing when replayed). Otherwise, if
// the proposal is authorized and outside any review period, its wrapped
// operations run as a single nested undo session: success removes the
// proposal, failure discards the attempt and records FailReason on it
// without rejecting the outer transaction.
func (e *Engine) Push(ctx *evaluator.EvalContext, proposalID protocol.ObjectID) (protocol.VirtualOps, error) {
	if e.ReplayMode && proposalID == defangedProposalID && e.Hardforks.IsActive(protocol.HardforkProposal1479, ctx.ChainTime) {
		logging.Component("proposal").WithField("proposal_id", proposalID.String()).Info("defanging historical proposal per hardfork-1479")
		return nil, objectdb.Remove[protocol.Proposal](e.Store, proposalID)
	}

	pr, err := objectdb.Get[protocol.Proposal](e.Store, proposalID)
	if err != nil {
		return nil, err
	}
	if !pr.IsAuthorized(ctx.ChainTime) {
		return nil, errs.New(errs.KindBusinessRule, "proposal is not yet fully authorized")
	}

	sess := e.Store.StartUndoSession()
	var vops protocol.VirtualOps
	var applyErr error
	for _, op := range pr.Operations {
		ctx.BeginOperation()
		v, err := e.Evaluators.Dispatch(ctx, op)
		if err != nil {
			applyErr = err
			break
		}
		vops = append(vops, v...)
	}

	if applyErr != nil {
		sess.Discard()
		if err := objectdb.Modify(e.Store, proposalID, func(p *protocol.Proposal) {
			p.FailReason = applyErr.Error()
		}); err != nil {
			return nil, err
		}
		return nil, nil
	}

	sess.Commit()
	if err := objectdb.Remove[protocol.Proposal](e.Store, proposalID); err != nil {
		return nil, err
	}
	return vops, nil
}

// SweepExpired removes every proposal whose Expiration has passed without
// ever becoming authorized (spec.md §4.7 step 6).
func (e *Engine) SweepExpired(now int64) error {
	for _, pr := range objectdb.All[protocol.Proposal](e.Store, protocol.SpaceProtocol, protocol.TypeProposal) {
		if pr.Expiration <= now {
			if err := objectdb.Remove[protocol.Proposal](e.Store, pr.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
