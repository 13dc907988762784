package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

// witnessCreateEvaluator registers an account as a block-producing witness
// candidate (spec.md §3.2). Its vote_id reuses the witness object's own
// instance as the low bits, same convention workerCreateEvaluator uses.
type witnessCreateEvaluator struct{}

func (witnessCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	w := op.(protocol.WitnessCreateOp)
	if w.WitnessAccount.IsNull() {
		return errs.New(errs.KindStructural, "witness_account must be set")
	}
	return nil
}

func (witnessCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	w := op.(protocol.WitnessCreateOp)
	if _, err := objectdb.Get[protocol.Account](ctx.Store, w.WitnessAccount); err != nil {
		return err
	}
	for _, existing := range objectdb.All[protocol.Witness](ctx.Store, protocol.SpaceProtocol, protocol.TypeWitness) {
		if existing.WitnessAcct == w.WitnessAccount {
			return errs.New(errs.KindBusinessRule, "account is already a witness")
		}
	}
	return nil
}

func (witnessCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	w := op.(protocol.WitnessCreateOp)
	id, _ := objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeWitness, func(wit *protocol.Witness) {
		wit.WitnessAcct = w.WitnessAccount
		wit.SigningKey = w.SigningKey
	})
	if err := objectdb.Modify(ctx.Store, id, func(wit *protocol.Witness) {
		wit.VoteID = protocol.VoteID{Type: protocol.VoteTypeWitness, Instance: uint32(id.Instance)}
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

// committeeMemberCreateEvaluator registers an account as a governance
// (committee) member candidate (spec.md §3.2).
type committeeMemberCreateEvaluator struct{}

func (committeeMemberCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	c := op.(protocol.CommitteeMemberCreateOp)
	if c.MemberAccount.IsNull() {
		return errs.New(errs.KindStructural, "member_account must be set")
	}
	return nil
}

func (committeeMemberCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	c := op.(protocol.CommitteeMemberCreateOp)
	if _, err := objectdb.Get[protocol.Account](ctx.Store, c.MemberAccount); err != nil {
		return err
	}
	for _, existing := range objectdb.All[protocol.CommitteeMember](ctx.Store, protocol.SpaceProtocol, protocol.TypeCommitteeMember) {
		if existing.MemberAcct == c.MemberAccount {
			return errs.New(errs.KindBusinessRule, "account is already a committee member")
		}
	}
	return nil
}

func (committeeMemberCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	c := op.(protocol.CommitteeMemberCreateOp)
	id, _ := objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeCommitteeMember, func(m *protocol.CommitteeMember) {
		m.MemberAcct = c.MemberAccount
	})
	if err := objectdb.Modify(ctx.Store, id, func(m *protocol.CommitteeMember) {
		m.VoteID = protocol.VoteID{Type: protocol.VoteTypeCommittee, Instance: uint32(id.Instance)}
	}); err != nil {
		return nil, err
	}
	return nil, nil
}
