package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

type workerCreateEvaluator struct{}

func (workerCreateEvaluator) Validate(_ *EvalContext, op protocol.Operation) error {
	w := op.(protocol.WorkerCreateOp)
	if w.EndDate <= w.BeginDate {
		return errs.New(errs.KindStructural, "end_date must be after begin_date")
	}
	if w.DailyPay == 0 {
		return errs.New(errs.KindStructural, "daily_pay must be nonzero")
	}
	return nil
}

func (workerCreateEvaluator) Evaluate(ctx *EvalContext, op protocol.Operation) error {
	w := op.(protocol.WorkerCreateOp)
	if _, err := objectdb.Get[protocol.Account](ctx.Store, w.Owner); err != nil {
		return err
	}
	return nil
}

// Apply funds a worker whose vote_id takes the worker's own object instance
// as its instance, so maintenance-time vote tallying (spec.md §4.5) can
// address it alongside witnesses and committee members; no separate vote-id
// counter is kept. Workers paid via
// WorkerPayoutVesting get their own (non-withdrawable until vested)
// vesting balance, distinct from any account's cashback balance.
func (workerCreateEvaluator) Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	w := op.(protocol.WorkerCreateOp)
	id, _ := objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeWorker, func(wk *protocol.Worker) {
		wk.WorkerAcct = w.Owner
		wk.DailyPay = w.DailyPay
		wk.BeginDate = w.BeginDate
		wk.EndDate = w.EndDate
		wk.PayoutKind = w.PayoutKind
	})

	var vestingID protocol.ObjectID
	if w.PayoutKind == protocol.WorkerPayoutVesting {
		vestingID, _ = objectdb.Create(ctx.Store, protocol.SpaceProtocol, protocol.TypeVestingBalance, func(v *protocol.VestingBalance) {
			v.Owner = w.Owner
			v.AssetID = protocol.CoreAssetID
			v.StartedAt = w.BeginDate
			v.VestingSec = workerVestingSec
		})
	}

	if err := objectdb.Modify(ctx.Store, id, func(wk *protocol.Worker) {
		wk.VoteID = protocol.VoteID{Type: protocol.VoteTypeWorker, Instance: uint32(id.Instance)}
		wk.VestingID = vestingID
	}); err != nil {
		return nil, err
	}
	return nil, nil
}

// workerVestingSec matches cashbackVestingSec's one-week linear schedule;
// spec.md names no specific duration for worker vesting payouts.
const workerVestingSec = 7 * 86400
