package protocol

// Authorizable is implemented by every non-virtual operation and exposes
// the owner/active account ids that must be satisfied for the operation to
// be valid (spec.md §4.2 step 6). Virtual operations (FillOrderVOp,
// ExecuteBidVOp, AssetSettleCancelVOp) intentionally do not implement this:
// they are evaluator-generated, never signed for directly.
type Authorizable interface {
	RequiredAuthorities() RequiredAuthorities
}
