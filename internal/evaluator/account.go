package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

type accountCreateEvaluator struct{}

func (accountCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	a := op.(protocol.AccountCreateOp)
	if !protocol.IsValidAccountName(a.Name) {
		return errs.New(errs.KindStructural, "invalid account name")
	}
	if !a.Owner.IsSatisfiable() {
		return errs.New(errs.KindStructural, "owner authority is unsatisfiable")
	}
	if !a.Active.IsSatisfiable() {
		return errs.New(errs.KindStructural, "active authority is unsatisfiable")
	}
	return nil
}

func (accountCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	a := op.(protocol.AccountCreateOp)
	for _, acct := range objectdb.All[protocol.Account](ctx.Store, protocol.SpaceProtocol, protocol.TypeAccount) {
		if acct.Name == a.Name {
			return errs.New(errs.KindBusinessRule, "account name already registered")
		}
	}
	return nil
}

func (accountCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	a := op.(protocol.AccountCreateOp)
	acctID, _ := objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeAccount, func(acc *protocol.Account) {
		acc.Name = a.Name
		acc.Owner = a.Owner
		acc.Active = a.Active
		acc.Options = a.Options
		acc.Registrar = a.Registrar
		acc.Referrer = a.Referrer
	})
	statsID, _ := objectdb.Create(ctx.Store, protocol.SpaceImplementation, protocol.TypeAccountStatistics, func(s *protocol.AccountStatistics) {
		s.Owner = acctID
	})
	if err := objectdb.Modify(ctx.Store, acctID, func(acc *protocol.Account) { acc.StatisticsID = statsID }); err != nil {
		return nil, err
	}
	return nil, nil
}
