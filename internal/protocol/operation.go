package protocol

import "encoding/json"

// OpType tags the operation variant, used to dispatch to the right
// evaluator (spec.md §4.2/§9: "tagged-union operation with per-variant
// evaluators").
type OpType uint16

const (
	OpTransfer OpType = iota
	OpAccountCreate
	OpAccountUpdate
	OpAssetCreate
	OpAssetUpdate
	OpAssetPublishFeed
	OpAssetIssue
	OpAssetReserve
	OpAssetSettle
	OpAssetSettleCancel // virtual only
	OpAssetGlobalSettle
	OpLimitOrderCreate
	OpLimitOrderCancel
	OpCallOrderUpdate
	OpFillOrder // virtual only
	OpBidCollateral
	OpExecuteBid // virtual only
	OpProposalCreate
	OpProposalUpdate
	OpProposalDelete
	OpWitnessCreate
	OpWitnessUpdate
	OpCommitteeMemberCreate
	OpWorkerCreate
	OpAccountWhitelist
	OpCreditOfferCreate
	OpCreditOfferDelete
	OpCreditOfferAccept
	OpCreditDealRepay
)

// Operation is the tagged-union member interface every concrete operation
// satisfies: enough to route fee accounting and required-authority
// discovery before the operation-specific evaluator runs.
type Operation interface {
	Type() OpType
	FeePayer() ObjectID
	Fee() AssetAmount
}

// RequiredAuthorities is what operation_get_required_authorities returns
// (spec.md §4.2 step 6): the owner- and active-level account ids that must
// sign (directly or via nested authority) for this operation to be valid.
type RequiredAuthorities struct {
	Owner  []ObjectID
	Active []ObjectID
}

type baseOp struct {
	FeePayerID ObjectID
	FeePaid    AssetAmount
}

func (b baseOp) FeePayer() ObjectID { return b.FeePayerID }
func (b baseOp) Fee() AssetAmount   { return b.FeePaid }

// TransferOp moves funds between two accounts.
type TransferOp struct {
	baseOp
	From   ObjectID
	To     ObjectID
	Amount AssetAmount
	Memo   []byte
}

func (TransferOp) Type() OpType { return OpTransfer }

// RequiredAuthorities for TransferOp: active authority of From.
func (t TransferOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{t.From}}
}

// AccountCreateOp registers a new account.
type AccountCreateOp struct {
	baseOp
	Name      string
	Owner     Authority
	Active    Authority
	Options   AccountOptions
	Registrar ObjectID
	Referrer  ObjectID
}

func (AccountCreateOp) Type() OpType { return OpAccountCreate }
func (a AccountCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Registrar}}
}

// AssetCreateOp issues a new asset.
type AssetCreateOp struct {
	baseOp
	Issuer     ObjectID
	Symbol     string
	Precision  uint8
	Options    AssetOptions
	IsBitAsset bool
	BitAsset   AssetBitAssetData
}

func (AssetCreateOp) Type() OpType { return OpAssetCreate }
func (a AssetCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Issuer}}
}

// AssetUpdateOp changes the mutable options of an existing asset (spec.md
// §3.2 AssetOptions).
type AssetUpdateOp struct {
	baseOp
	Issuer     ObjectID
	AssetToUpdate ObjectID
	NewOptions AssetOptions
}

func (AssetUpdateOp) Type() OpType { return OpAssetUpdate }
func (a AssetUpdateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Issuer}}
}

// AssetIssueOp mints new units of an asset to an account, increasing
// current supply (spec.md §3.3 AssetDynamicData.CurrentSupply).
type AssetIssueOp struct {
	baseOp
	Issuer      ObjectID
	AssetToIssue AssetAmount
	IssueTo     ObjectID
}

func (AssetIssueOp) Type() OpType { return OpAssetIssue }
func (a AssetIssueOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Issuer}}
}

// AssetReserveOp burns (reserves) units of an asset from the reserving
// account's own balance, decreasing current supply. A whitelisted-out
// holder may still reserve their own balance (spec.md S5).
type AssetReserveOp struct {
	baseOp
	Payer        ObjectID
	AmountToReserve AssetAmount
}

func (AssetReserveOp) Type() OpType { return OpAssetReserve }
func (a AssetReserveOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Payer}}
}

// AssetGlobalSettleOp lets an asset's issuer force global settlement
// directly (spec.md §4.3.5), independent of the margin-call loop trigger.
type AssetGlobalSettleOp struct {
	baseOp
	Issuer  ObjectID
	AssetID ObjectID
}

func (AssetGlobalSettleOp) Type() OpType { return OpAssetGlobalSettle }
func (a AssetGlobalSettleOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Issuer}}
}

// WitnessCreateOp registers a new block-producing witness (spec.md §3.2).
type WitnessCreateOp struct {
	baseOp
	WitnessAccount ObjectID
	SigningKey     PublicKey
}

func (WitnessCreateOp) Type() OpType { return OpWitnessCreate }
func (o WitnessCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.WitnessAccount}}
}

// CommitteeMemberCreateOp registers a new committee (governance) member
// candidate (spec.md §3.2).
type CommitteeMemberCreateOp struct {
	baseOp
	MemberAccount ObjectID
}

func (CommitteeMemberCreateOp) Type() OpType { return OpCommitteeMemberCreate }
func (o CommitteeMemberCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.MemberAccount}}
}

// AssetPublishFeedOp publishes one producer's price feed for a bitasset
// (spec.md §4.4).
type AssetPublishFeedOp struct {
	baseOp
	Publisher ObjectID
	AssetID   ObjectID
	Feed      PriceFeed
}

func (AssetPublishFeedOp) Type() OpType { return OpAssetPublishFeed }
func (a AssetPublishFeedOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Publisher}}
}

// AssetSettleOp requests forced settlement of a bitasset balance (spec.md
// §4.3.6).
type AssetSettleOp struct {
	baseOp
	Account ObjectID
	Amount  AssetAmount
}

func (AssetSettleOp) Type() OpType { return OpAssetSettle }
func (a AssetSettleOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{a.Account}}
}

// LimitOrderCreateOp posts a new resting order (spec.md §4.3.2).
type LimitOrderCreateOp struct {
	baseOp
	Seller     ObjectID
	ForSale    AssetAmount
	MinReceive AssetAmount
	Expiration int64
	FillOrKill bool
}

func (LimitOrderCreateOp) Type() OpType { return OpLimitOrderCreate }
func (o LimitOrderCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Seller}}
}

// LimitOrderCancelOp removes a resting order and refunds its remainder.
type LimitOrderCancelOp struct {
	baseOp
	Order ObjectID
	Owner ObjectID
}

func (LimitOrderCancelOp) Type() OpType { return OpLimitOrderCancel }
func (o LimitOrderCancelOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Owner}}
}

// CallOrderUpdateOp adjusts a collateralized debt position (spec.md
// §4.3.3). Amounts are unsigned, so the two directions are explicit:
// DeltaCollateral/DeltaDebt grow the position, CollateralToWithdraw/
// DebtToCover shrink it. A position whose debt reaches zero is closed and
// its remaining collateral returned.
type CallOrderUpdateOp struct {
	baseOp
	Borrower             ObjectID
	DeltaCollateral      AssetAmount
	DeltaDebt            AssetAmount
	CollateralToWithdraw AssetAmount
	DebtToCover          AssetAmount
	TargetCollatRatioBp  uint32 // hardfork CR-834 extension; 0 = unset
}

func (CallOrderUpdateOp) Type() OpType { return OpCallOrderUpdate }
func (o CallOrderUpdateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Borrower}}
}

// BidCollateralOp posts/replaces a collateral bid against a globally
// settled bitasset (spec.md §4.3.7).
type BidCollateralOp struct {
	baseOp
	Bidder            ObjectID
	CollateralOffered AssetAmount
	DebtCovered       AssetAmount
}

func (BidCollateralOp) Type() OpType { return OpBidCollateral }
func (o BidCollateralOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Bidder}}
}

// ProposalCreateOp wraps a batch of operations for deferred execution
// (spec.md §4.7).
type ProposalCreateOp struct {
	baseOp
	Proposer            ObjectID
	Operations          OperationList
	ExpirationTime      int64
	ReviewPeriodSeconds uint32
}

func (ProposalCreateOp) Type() OpType { return OpProposalCreate }
func (o ProposalCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Proposer}}
}

// ProposalUpdateOp adds/removes approvals on a pending proposal.
type ProposalUpdateOp struct {
	baseOp
	FeePayingAccount ObjectID
	Proposal         ObjectID
	ActiveApprovalsToAdd    []ObjectID
	ActiveApprovalsToRemove []ObjectID
	OwnerApprovalsToAdd     []ObjectID
	OwnerApprovalsToRemove  []ObjectID
	KeyApprovalsToAdd       []PublicKey
	KeyApprovalsToRemove    []PublicKey
}

func (ProposalUpdateOp) Type() OpType { return OpProposalUpdate }
func (o ProposalUpdateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.FeePayingAccount}}
}

// WorkerCreateOp funds a new budget-drawing worker (spec.md §4.5.3).
type WorkerCreateOp struct {
	baseOp
	Owner      ObjectID
	DailyPay   Amount
	BeginDate  int64
	EndDate    int64
	PayoutKind WorkerPayoutKind
}

func (WorkerCreateOp) Type() OpType { return OpWorkerCreate }
func (o WorkerCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Owner}}
}

// WhitelistStatus selects what AccountWhitelistOp does to Account's
// standing in the authorizing account's whitelist/blacklist (spec.md S5).
type WhitelistStatus uint8

const (
	WhitelistNoChange WhitelistStatus = iota
	WhitelistAdd
	WhitelistRemove
	BlacklistAdd
	BlacklistRemove
)

// AccountWhitelistOp lets a whitelist-authority account add or remove
// another account from its whitelist or blacklist (spec.md §3.2, S5).
type AccountWhitelistOp struct {
	baseOp
	Authorizer   ObjectID
	AccountToList ObjectID
	NewListing   WhitelistStatus
}

func (AccountWhitelistOp) Type() OpType { return OpAccountWhitelist }
func (o AccountWhitelistOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Authorizer}}
}

// CreditOfferCreateOp funds a new standing offer to lend AssetType against
// any of AcceptableCollateral's asset types, per BSIP74.
type CreditOfferCreateOp struct {
	baseOp
	OwnerAccount         ObjectID
	AssetType            ObjectID
	Balance              Amount
	FeeRateBp            uint32
	MaxDurationSeconds    uint32
	MinDealAmount        Amount
	Enabled              bool
	AutoDisableTime      int64
	AcceptableCollateral map[ObjectID]Price
	AcceptableBorrowers  map[ObjectID]Amount
}

func (CreditOfferCreateOp) Type() OpType { return OpCreditOfferCreate }
func (o CreditOfferCreateOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.OwnerAccount}}
}

// CreditOfferDeleteOp withdraws an offer's unborrowed balance and removes
// it, refusing while any balance remains out on loan.
type CreditOfferDeleteOp struct {
	baseOp
	OwnerAccount ObjectID
	OfferID      ObjectID
}

func (CreditOfferDeleteOp) Type() OpType { return OpCreditOfferDelete }
func (o CreditOfferDeleteOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.OwnerAccount}}
}

// CreditOfferAcceptOp draws BorrowAmount from OfferID against Collateral,
// opening a new CreditDeal (spec.md-adjacent BSIP74 behavior).
type CreditOfferAcceptOp struct {
	baseOp
	Borrower    ObjectID
	OfferID     ObjectID
	BorrowAmount AssetAmount
	Collateral  AssetAmount
}

func (CreditOfferAcceptOp) Type() OpType { return OpCreditOfferAccept }
func (o CreditOfferAcceptOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Borrower}}
}

// CreditDealRepayOp repays (fully or partially) an open CreditDeal,
// releasing a proportional share of its collateral and paying the offer
// owner a credit fee on top of principal.
type CreditDealRepayOp struct {
	baseOp
	Account     ObjectID
	DealID      ObjectID
	RepayAmount AssetAmount
	CreditFee   AssetAmount
}

func (CreditDealRepayOp) Type() OpType { return OpCreditDealRepay }
func (o CreditDealRepayOp) RequiredAuthorities() RequiredAuthorities {
	return RequiredAuthorities{Active: []ObjectID{o.Account}}
}

// VirtualOpCoordinate orders a virtual operation against all others
// deterministically (spec.md §5): (block_num, trx_in_block, op_in_trx,
// virtual_op_seq).
type VirtualOpCoordinate struct {
	BlockNum    uint64
	TrxInBlock  uint32
	OpInTrx     uint32
	VirtualSeq  uint32
}

// FillOrderVOp records one side of a match (spec.md §4.3).
type FillOrderVOp struct {
	Coordinate   VirtualOpCoordinate
	Order        ObjectID
	Account      ObjectID
	Pays         AssetAmount
	Receives     AssetAmount
	FeeCharged   AssetAmount
	IsMaker      bool
}

func (FillOrderVOp) Type() OpType          { return OpFillOrder }
func (FillOrderVOp) FeePayer() ObjectID    { return ObjectID{} }
func (FillOrderVOp) Fee() AssetAmount      { return AssetAmount{} }

// ExecuteBidVOp records a collateral bid accepted at maintenance (spec.md
// §4.3.7).
type ExecuteBidVOp struct {
	Coordinate VirtualOpCoordinate
	Bidder     ObjectID
	Collateral AssetAmount
	Debt       AssetAmount
}

func (ExecuteBidVOp) Type() OpType       { return OpExecuteBid }
func (ExecuteBidVOp) FeePayer() ObjectID { return ObjectID{} }
func (ExecuteBidVOp) Fee() AssetAmount   { return AssetAmount{} }

// AssetSettleCancelVOp records a force-settlement returned unexecuted past
// its cap for the interval (spec.md §4.3.6).
type AssetSettleCancelVOp struct {
	Coordinate VirtualOpCoordinate
	Settlement ObjectID
	Account    ObjectID
	Amount     AssetAmount
}

func (AssetSettleCancelVOp) Type() OpType       { return OpAssetSettleCancel }
func (AssetSettleCancelVOp) FeePayer() ObjectID { return ObjectID{} }
func (AssetSettleCancelVOp) Fee() AssetAmount   { return AssetAmount{} }

// VirtualOps is an ordered batch of virtual operations emitted by a single
// evaluator invocation.
type VirtualOps []Operation

// OperationList is []Operation with a (type, data) wire encoding, since
// Operation is a tagged union and encoding/json cannot recover a concrete
// type from a bare interface value on its own. Transaction.Operations and
// the proposal types use this instead of a raw []Operation so that
// archiving (internal/blockstore) and undo snapshotting (internal/objectdb)
// round-trip through JSON correctly.
type OperationList []Operation

type operationWireEntry struct {
	Type OpType          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (ops OperationList) MarshalJSON() ([]byte, error) {
	wire := make([]operationWireEntry, len(ops))
	for i, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			return nil, err
		}
		wire[i] = operationWireEntry{Type: op.Type(), Data: data}
	}
	return json.Marshal(wire)
}

func (ops *OperationList) UnmarshalJSON(b []byte) error {
	var wire []operationWireEntry
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	out := make(OperationList, len(wire))
	for i, w := range wire {
		op, err := decodeOperation(w.Type, w.Data)
		if err != nil {
			return err
		}
		out[i] = op
	}
	*ops = out
	return nil
}

// decodeOperation rebuilds the concrete operation behind an OpType tag.
// OpAccountUpdate, OpWitnessUpdate, and OpProposalDelete are reserved op
// types with no operation struct yet and are intentionally absent here.
func decodeOperation(t OpType, data []byte) (Operation, error) {
	switch t {
	case OpTransfer:
		var o TransferOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAccountCreate:
		var o AccountCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetCreate:
		var o AssetCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetUpdate:
		var o AssetUpdateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetPublishFeed:
		var o AssetPublishFeedOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetIssue:
		var o AssetIssueOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetReserve:
		var o AssetReserveOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetSettle:
		var o AssetSettleOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetSettleCancel:
		var o AssetSettleCancelVOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAssetGlobalSettle:
		var o AssetGlobalSettleOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpLimitOrderCreate:
		var o LimitOrderCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpLimitOrderCancel:
		var o LimitOrderCancelOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpCallOrderUpdate:
		var o CallOrderUpdateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpFillOrder:
		var o FillOrderVOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpBidCollateral:
		var o BidCollateralOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpExecuteBid:
		var o ExecuteBidVOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpProposalCreate:
		var o ProposalCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpProposalUpdate:
		var o ProposalUpdateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpWitnessCreate:
		var o WitnessCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpCommitteeMemberCreate:
		var o CommitteeMemberCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpWorkerCreate:
		var o WorkerCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpAccountWhitelist:
		var o AccountWhitelistOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpCreditOfferCreate:
		var o CreditOfferCreateOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpCreditOfferDelete:
		var o CreditOfferDeleteOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpCreditOfferAccept:
		var o CreditOfferAcceptOp
		err := json.Unmarshal(data, &o)
		return o, err
	case OpCreditDealRepay:
		var o CreditDealRepayOp
		err := json.Unmarshal(data, &o)
		return o, err
	default:
		return nil, &UnknownOpTypeError{Type: t}
	}
}

// UnknownOpTypeError is returned by OperationList decoding when an archived
// or undo-snapshotted operation carries an OpType this build does not know.
type UnknownOpTypeError struct {
	Type OpType
}

func (e *UnknownOpTypeError) Error() string {
	return "protocol: unknown operation type in wire data"
}
