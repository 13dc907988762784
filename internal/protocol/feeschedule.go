package protocol

// FeeParameters is the per-operation-type fee table entry: a basic fee plus
// a per-kilobyte data fee for variable-length fields (spec.md §4.2/§6.4).
type FeeParameters struct {
	BasicFee       Amount
	PricePerKB     Amount
	NameSurchargeByLength [64]Amount // account_create only; indexed by name length
}

// FeeSchedule computes the minimum acceptable fee for any operation.
type FeeSchedule struct {
	Params map[OpType]FeeParameters
}

// NewFeeSchedule returns a schedule with zero-valued entries for every known
// OpType, ready for callers to override specific entries.
func NewFeeSchedule() *FeeSchedule {
	return &FeeSchedule{Params: map[OpType]FeeParameters{}}
}

// ComputeFee returns the minimum fee (in core-asset-equivalent units) for an
// operation of the given type whose variable-length payload is dataLen
// bytes, per spec.md §4.2: "basic fee + a data-fee per kilobyte of
// variable-length fields".
func (s *FeeSchedule) ComputeFee(op OpType, dataLen int) Amount {
	p := s.Params[op]
	kb := Amount((dataLen + 1023) / 1024)
	fee := p.BasicFee + kb*p.PricePerKB
	if op == OpAccountCreate {
		// surcharge handled by caller via NameSurcharge, since it depends on
		// the account name length rather than payload size.
	}
	return fee
}

// NameSurcharge returns the account_create name-length surcharge for a name
// of nameLen characters (spec.md §6.4).
func (s *FeeSchedule) NameSurcharge(nameLen int) Amount {
	p := s.Params[OpAccountCreate]
	if nameLen < 0 {
		nameLen = 0
	}
	if nameLen >= len(p.NameSurchargeByLength) {
		nameLen = len(p.NameSurchargeByLength) - 1
	}
	return p.NameSurchargeByLength[nameLen]
}
