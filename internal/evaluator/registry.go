package evaluator

import (
	"fmt"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

// Evaluator is the per-operation-variant contract of spec.md §4.2:
// Validate performs permission/parameter/invariant checks without
// mutating state, Evaluate performs additional checks that need
// collaborator state (market, feeds), and Apply performs the mutation.
// Both Evaluate and Apply run inside the active transaction session, so
// either both succeed or neither does.
type Evaluator interface {
	Validate(ctx *EvalContext, op protocol.Operation) error
	Evaluate(ctx *EvalContext, op protocol.Operation) error
	Apply(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error)
}

// Registry dispatches operations to their registered evaluator by tag,
// handling the steps common to every operation: hardfork gating and fee
// accounting (spec.md §4.2).
type Registry struct {
	evaluators map[protocol.OpType]Evaluator
	guards     map[protocol.OpType]string
}

// NewRegistry returns a registry with every built-in evaluator registered.
func NewRegistry() *Registry {
	r := &Registry{
		evaluators: map[protocol.OpType]Evaluator{},
		guards:     map[protocol.OpType]string{},
	}
	r.registerBuiltins()
	return r
}

// Register attaches ev as the evaluator for opType, overwriting any prior
// registration.
func (r *Registry) Register(opType protocol.OpType, ev Evaluator) {
	r.evaluators[opType] = ev
}

// GateBy ties opType to a named hardfork guard; Dispatch refuses the
// operation with errs.KindHardforkGated until the guard activates
// (spec.md §4.2 "Hardfork gating").
func (r *Registry) GateBy(opType protocol.OpType, guardName string) {
	r.guards[opType] = guardName
}

// Dispatch runs the full per-operation pipeline: hardfork gate, Validate,
// Evaluate, fee accounting, Apply. Returns whatever virtual operations
// Apply emitted.
func (r *Registry) Dispatch(ctx *EvalContext, op protocol.Operation) (protocol.VirtualOps, error) {
	ev, ok := r.evaluators[op.Type()]
	if !ok {
		return nil, errs.New(errs.KindStructural, fmt.Sprintf("no evaluator registered for op type %d", op.Type()))
	}

	if guard, ok := r.guards[op.Type()]; ok && ctx.Hardforks != nil {
		if !ctx.Hardforks.IsActive(guard, ctx.ChainTime) {
			return nil, errs.New(errs.KindHardforkGated, fmt.Sprintf("operation not yet activated: %s", guard))
		}
	}

	if err := ev.Validate(ctx, op); err != nil {
		return nil, errs.Wrap(errs.KindOf(err), err, "validate")
	}
	if err := ev.Evaluate(ctx, op); err != nil {
		return nil, errs.Wrap(errs.KindOf(err), err, "evaluate")
	}
	if err := chargeFee(ctx, op); err != nil {
		return nil, err
	}
	vops, err := ev.Apply(ctx, op)
	if err != nil {
		return nil, errs.Wrap(errs.KindOf(err), err, "apply")
	}
	return vops, nil
}

// chargeFee implements spec.md §4.2's fee accounting: debit the declared
// fee from the fee payer in the declared asset; if that asset is not
// core, its fee pool absorbs the core-equivalent cost while the asset's
// own accumulated-fees balance grows by the paid amount.
func chargeFee(ctx *EvalContext, op protocol.Operation) error {
	fee := op.Fee()
	payer := op.FeePayer()
	if fee.Amount == 0 || payer.IsNull() {
		return nil
	}
	if err := debitBalance(ctx.Store, payer, fee.AssetID, fee.Amount); err != nil {
		return errs.Wrap(errs.KindBusinessRule, err, "insufficient balance for fee")
	}
	asset, err := objectdb.Get[protocol.Asset](ctx.Store, fee.AssetID)
	if err != nil {
		return err
	}

	var coreEquiv protocol.Amount
	if fee.AssetID == protocol.CoreAssetID {
		coreEquiv = fee.Amount
		if err := objectdb.Modify(ctx.Store, asset.DynamicDataID, func(d *protocol.AssetDynamicData) {
			d.AccumulatedFees += fee.Amount
		}); err != nil {
			return err
		}
	} else {
		coreEquiv = asset.Options.CoreExchangeRate.Mul(fee.Amount)
		if err := objectdb.Modify(ctx.Store, asset.DynamicDataID, func(d *protocol.AssetDynamicData) {
			d.AccumulatedFees += fee.Amount
			if d.FeePool >= coreEquiv {
				d.FeePool -= coreEquiv
			} else {
				d.FeePool = 0
			}
		}); err != nil {
			return err
		}
	}

	return creditPendingFees(ctx.Store, payer, coreEquiv)
}

// creditPendingFees adds the core-equivalent fee to the payer's statistics
// record, held there until the next maintenance interval's fee-processing
// step splits it into network/referrer/registrar shares (spec.md §4.5.3
// step 2).
func creditPendingFees(store *objectdb.Store, payer protocol.ObjectID, coreEquiv protocol.Amount) error {
	acct, err := objectdb.Get[protocol.Account](store, payer)
	if err != nil {
		return err
	}
	return objectdb.Modify(store, acct.StatisticsID, func(s *protocol.AccountStatistics) {
		s.PendingFees += coreEquiv
		s.LifetimeFeesPaid += coreEquiv
	})
}

func (r *Registry) registerBuiltins() {
	r.Register(protocol.OpTransfer, transferEvaluator{})
	r.Register(protocol.OpAccountCreate, accountCreateEvaluator{})
	r.Register(protocol.OpAccountWhitelist, accountWhitelistEvaluator{})
	r.Register(protocol.OpAssetCreate, assetCreateEvaluator{})
	r.Register(protocol.OpAssetUpdate, assetUpdateEvaluator{})
	r.Register(protocol.OpAssetIssue, assetIssueEvaluator{})
	r.Register(protocol.OpAssetReserve, assetReserveEvaluator{})
	r.Register(protocol.OpAssetPublishFeed, assetPublishFeedEvaluator{})
	r.Register(protocol.OpAssetSettle, assetSettleEvaluator{})
	r.Register(protocol.OpAssetGlobalSettle, assetGlobalSettleEvaluator{})
	r.Register(protocol.OpLimitOrderCreate, limitOrderCreateEvaluator{})
	r.Register(protocol.OpLimitOrderCancel, limitOrderCancelEvaluator{})
	r.Register(protocol.OpCallOrderUpdate, callOrderUpdateEvaluator{})
	r.Register(protocol.OpBidCollateral, bidCollateralEvaluator{})
	r.Register(protocol.OpWorkerCreate, workerCreateEvaluator{})
	r.Register(protocol.OpProposalCreate, proposalCreateEvaluator{})
	r.Register(protocol.OpProposalUpdate, proposalUpdateEvaluator{})
	r.Register(protocol.OpWitnessCreate, witnessCreateEvaluator{})
	r.Register(protocol.OpCommitteeMemberCreate, committeeMemberCreateEvaluator{})
	r.Register(protocol.OpCreditOfferCreate, creditOfferCreateEvaluator{})
	r.Register(protocol.OpCreditOfferDelete, creditOfferDeleteEvaluator{})
	r.Register(protocol.OpCreditOfferAccept, creditOfferAcceptEvaluator{})
	r.Register(protocol.OpCreditDealRepay, creditDealRepayEvaluator{})
}
