package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

type proposalCreateEvaluator struct{}

func (proposalCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	p := op.(protocol.ProposalCreateOp)
	if len(p.Operations) == 0 {
		return errs.New(errs.KindStructural, "proposal must wrap at least one operation")
	}
	for _, inner := range p.Operations {
		if inner.Type() == protocol.OpProposalCreate {
			return errs.New(errs.KindStructural, "proposals may not nest proposal_create")
		}
	}
	return nil
}

func (proposalCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	p := op.(protocol.ProposalCreateOp)
	if p.ExpirationTime <= ctx.ChainTime {
		return errs.New(errs.KindBusinessRule, "expiration_time must be in the future")
	}
	return nil
}

// Apply collects the required owner/active signers of every wrapped
// operation into the proposal's required sets (spec.md §4.7 step 2), so
// proposal_update's approvals can be checked against them without
// re-walking Operations on every update.
func (proposalCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	p := op.(protocol.ProposalCreateOp)

	requiredOwner := map[protocol.ObjectID]struct{}{}
	requiredActive := map[protocol.ObjectID]struct{}{}
	for _, inner := range p.Operations {
		if auth, ok := inner.(protocol.Authorizable); ok {
			ra := auth.RequiredAuthorities()
			for _, id := range ra.Owner {
				requiredOwner[id] = struct{}{}
			}
			for _, id := range ra.Active {
				requiredActive[id] = struct{}{}
			}
		}
	}

	var reviewEnds int64
	if p.ReviewPeriodSeconds > 0 {
		reviewEnds = ctx.ChainTime + int64(p.ReviewPeriodSeconds)
	}

	objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeProposal, func(pr *protocol.Proposal) {
		pr.Proposer = p.Proposer
		pr.Operations = p.Operations
		pr.Expiration = p.ExpirationTime
		pr.ReviewPeriodEnds = reviewEnds
		pr.RequiredOwner = requiredOwner
		pr.RequiredActive = requiredActive
		pr.AvailableOwner = map[protocol.ObjectID]struct{}{}
		pr.AvailableActive = map[protocol.ObjectID]struct{}{}
		pr.AvailableKeys = map[protocol.PublicKey]struct{}{}
	})
	return nil, nil
}

type proposalUpdateEvaluator struct{}

func (proposalUpdateEvaluator) Validate(_ *EvalContext, _ protocol.Operation) error { return nil }

func (proposalUpdateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	u := op.(protocol.ProposalUpdateOp)
	pr, err := objectdb.Get[protocol.Proposal](ctx.Store, u.Proposal)
	if err != nil {
		return err
	}
	// Within an active review period only removals are accepted (spec.md
	// §4.7 step 4): the point of a review period is to let signers who
	// already approved retract, not to let new ones pile on unnoticed.
	if pr.ReviewPeriodEnds != 0 && ctx.ChainTime < pr.ReviewPeriodEnds {
		if len(u.ActiveApprovalsToAdd) > 0 || len(u.OwnerApprovalsToAdd) > 0 || len(u.KeyApprovalsToAdd) > 0 {
			return errs.New(errs.KindBusinessRule, "proposal is within its review period, only approval removals are accepted")
		}
	}
	return nil
}

func (proposalUpdateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	u := op.(protocol.ProposalUpdateOp)
	err := objectdb.Modify(ctx.Store, u.Proposal, func(pr *protocol.Proposal) {
		for _, id := range u.ActiveApprovalsToAdd {
			pr.AvailableActive[id] = struct{}{}
		}
		for _, id := range u.ActiveApprovalsToRemove {
			delete(pr.AvailableActive, id)
		}
		for _, id := range u.OwnerApprovalsToAdd {
			pr.AvailableOwner[id] = struct{}{}
		}
		for _, id := range u.OwnerApprovalsToRemove {
			delete(pr.AvailableOwner, id)
		}
		for _, k := range u.KeyApprovalsToAdd {
			pr.AvailableKeys[k] = struct{}{}
		}
		for _, k := range u.KeyApprovalsToRemove {
			delete(pr.AvailableKeys, k)
		}
	})
	return nil, err
}
