package witness

import (
	"math/bits"
	"sort"

	"github.com/holiman/uint256"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

// coreAssetCycleRate/coreAssetCycleRateBits size the fraction of the
// remaining reserve released per second of elapsed time in the budget
// calculation (spec.md §4.5.3 step 5): 17/2^17 of the reserve per second,
// so the cap reaches the whole reserve once the elapsed window is about
// 7,710 seconds (2^17/17).
const (
	coreAssetCycleRate     = 17
	coreAssetCycleRateBits = 17
)

// cashbackVestingSec is the linear-vesting period applied to newly created
// cashback balances (spec.md names no specific value; one week matches the
// order of magnitude of the fee-processing interval this schedules from).
const cashbackVestingSec = 7 * 86400

// Maintenance runs the once-per-interval vote tally, fee processing,
// active-set selection, authority reweight, budget, and worker payroll
// steps of spec.md §4.5.3 against store.
type Maintenance struct {
	Store *objectdb.Store
}

// NewMaintenance returns a maintenance runner bound to store.
func NewMaintenance(store *objectdb.Store) *Maintenance {
	return &Maintenance{Store: store}
}

// Run executes one maintenance pass at chain time now, mutating global and
// dyn in place (the caller persists them via objectdb.Modify, since the
// pointers here are freshly-read copies per objectdb.Get's contract).
func (m *Maintenance) Run(global *protocol.GlobalProperties, dyn *protocol.DynamicGlobalProperties, now int64) error {
	tally, totalStake, witnessHist, committeeHist := m.voteTally()

	if err := m.writeWitnessVotes(tally); err != nil {
		return err
	}
	if err := m.writeCommitteeVotes(tally); err != nil {
		return err
	}
	if err := m.writeWorkerVotes(tally); err != nil {
		return err
	}

	if err := m.processFees(global, now); err != nil {
		return err
	}

	activeWitnesses, err := m.selectActiveWitnesses(global.MinWitnessCount, witnessHist, totalStake)
	if err != nil {
		return err
	}
	activeCommittee, err := m.selectActiveCommittee(global.MinCommitteeCount, committeeHist, totalStake)
	if err != nil {
		return err
	}
	global.ActiveWitnesses = activeWitnesses
	global.ActiveCommittee = activeCommittee

	if err := m.reweightAuthorities(activeWitnesses, activeCommittee); err != nil {
		return err
	}

	dt := now - dyn.LastBudgetTime
	if dt < 0 {
		dt = 0
	}
	if err := m.runBudget(global, dyn, dt, now); err != nil {
		return err
	}

	order := ShuffleOrder(activeWitnesses, recentBlockIDs(dyn))
	dyn.WitnessScheduleOrder = order
	dyn.AccountsRegisteredThisInterval = 0
	dyn.LastBudgetTime = now
	dyn.NextMaintenanceTime = rollForward(dyn.NextMaintenanceTime, int64(global.MaintenanceIntervalSec), now)

	return nil
}

// recentBlockIDs seeds the schedule shuffle off the current head id; a
// fuller history would strengthen unpredictability but the head id alone
// already changes every block, which is enough to rotate the schedule each
// maintenance interval.
func recentBlockIDs(dyn *protocol.DynamicGlobalProperties) []protocol.Hash {
	return []protocol.Hash{dyn.HeadBlockID}
}

// rollForward advances next by interval steps until it exceeds now,
// covering the case where one or more maintenance intervals were missed
// (spec.md §4.5.3 step 7: "possibly multiple times if blocks were missed").
func rollForward(next, interval, now int64) int64 {
	if interval <= 0 {
		return now
	}
	for next <= now {
		next += interval
	}
	return next
}

// accountStake is the effective voting weight of one account, attributed to
// its opinion account (itself, or its voting proxy if set).
func accountStake(store *objectdb.Store, acct *protocol.Account) (protocol.ObjectID, uint64, error) {
	stats, err := objectdb.Get[protocol.AccountStatistics](store, acct.StatisticsID)
	if err != nil {
		return protocol.ObjectID{}, 0, err
	}
	var coreBalance uint64
	for _, b := range objectdb.All[protocol.AccountBalance](store, protocol.SpaceImplementation, protocol.TypeAccountBalance) {
		if b.Owner == acct.ID && b.AssetID == protocol.CoreAssetID {
			coreBalance = uint64(b.Amount)
			break
		}
	}
	var cashback uint64
	if !acct.CashbackVBID.IsNull() {
		if vb, err := objectdb.Get[protocol.VestingBalance](store, acct.CashbackVBID); err == nil {
			cashback = uint64(vb.Balance)
		}
	}
	stake := uint64(stats.TotalCoreInOrders) + coreBalance + cashback

	opinion := acct.ID
	if !acct.Options.VotingAccount.IsNull() {
		opinion = acct.Options.VotingAccount
	}
	return opinion, stake, nil
}

// voteTally implements spec.md §4.5.3 step 1: sums every account's
// effective stake into its opinion account's chosen vote ids, and into the
// witness/committee-count histograms bucketed by num_witness/2 and
// num_committee/2.
func (m *Maintenance) voteTally() (tally map[protocol.VoteID]uint64, totalStake uint64, witnessHist, committeeHist map[uint16]uint64) {
	tally = map[protocol.VoteID]uint64{}
	witnessHist = map[uint16]uint64{}
	committeeHist = map[uint16]uint64{}

	accounts := objectdb.All[protocol.Account](m.Store, protocol.SpaceProtocol, protocol.TypeAccount)
	byID := make(map[protocol.ObjectID]*protocol.Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}

	for _, a := range accounts {
		opinionID, stake, err := accountStake(m.Store, a)
		if err != nil || stake == 0 {
			continue
		}
		opinion, ok := byID[opinionID]
		if !ok {
			opinion = a
		}
		totalStake += stake
		for voteID := range opinion.Options.Votes {
			tally[voteID] += stake
		}
		witnessHist[opinion.Options.NumWitness/2] += stake
		committeeHist[opinion.Options.NumCommittee/2] += stake
	}
	return tally, totalStake, witnessHist, committeeHist
}

func (m *Maintenance) writeWitnessVotes(tally map[protocol.VoteID]uint64) error {
	for _, w := range objectdb.All[protocol.Witness](m.Store, protocol.SpaceProtocol, protocol.TypeWitness) {
		votes := tally[w.VoteID]
		if err := objectdb.Modify(m.Store, w.ID, func(w *protocol.Witness) { w.TotalVotes = votes }); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintenance) writeCommitteeVotes(tally map[protocol.VoteID]uint64) error {
	for _, c := range objectdb.All[protocol.CommitteeMember](m.Store, protocol.SpaceProtocol, protocol.TypeCommitteeMember) {
		votes := tally[c.VoteID]
		if err := objectdb.Modify(m.Store, c.ID, func(c *protocol.CommitteeMember) { c.TotalVotes = votes }); err != nil {
			return err
		}
	}
	return nil
}

func (m *Maintenance) writeWorkerVotes(tally map[protocol.VoteID]uint64) error {
	for _, w := range objectdb.All[protocol.Worker](m.Store, protocol.SpaceProtocol, protocol.TypeWorker) {
		votes := tally[w.VoteID]
		if err := objectdb.Modify(m.Store, w.ID, func(w *protocol.Worker) { w.TotalVotes = votes }); err != nil {
			return err
		}
	}
	return nil
}

// selectTargetCount implements the histogram scan of spec.md §4.5.3 step 3:
// the smallest k whose cumulative histogram through k exceeds half the
// total voting stake.
func selectTargetCount(hist map[uint16]uint64, totalStake uint64) uint16 {
	if totalStake == 0 || len(hist) == 0 {
		return 0
	}
	var maxBucket uint16
	for b := range hist {
		if b > maxBucket {
			maxBucket = b
		}
	}
	var cum uint64
	for k := uint16(0); k <= maxBucket; k++ {
		cum += hist[k]
		if cum*2 > totalStake {
			return k
		}
	}
	return maxBucket
}

func (m *Maintenance) selectActiveWitnesses(minCount uint16, hist map[uint16]uint64, totalStake uint64) ([]protocol.ObjectID, error) {
	k := selectTargetCount(hist, totalStake)
	want := 2*int(k) + 1
	if want < int(minCount) {
		want = int(minCount)
	}
	all := objectdb.All[protocol.Witness](m.Store, protocol.SpaceProtocol, protocol.TypeWitness)
	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalVotes != all[j].TotalVotes {
			return all[i].TotalVotes > all[j].TotalVotes
		}
		return idLess(all[i].ID, all[j].ID)
	})
	if want > len(all) {
		want = len(all)
	}
	out := make([]protocol.ObjectID, want)
	for i := 0; i < want; i++ {
		out[i] = all[i].ID
	}
	return out, nil
}

func (m *Maintenance) selectActiveCommittee(minCount uint16, hist map[uint16]uint64, totalStake uint64) ([]protocol.ObjectID, error) {
	k := selectTargetCount(hist, totalStake)
	want := 2*int(k) + 1
	if want < int(minCount) {
		want = int(minCount)
	}
	all := objectdb.All[protocol.CommitteeMember](m.Store, protocol.SpaceProtocol, protocol.TypeCommitteeMember)
	sort.Slice(all, func(i, j int) bool {
		if all[i].TotalVotes != all[j].TotalVotes {
			return all[i].TotalVotes > all[j].TotalVotes
		}
		return idLess(all[i].ID, all[j].ID)
	})
	if want > len(all) {
		want = len(all)
	}
	out := make([]protocol.ObjectID, want)
	for i := 0; i < want; i++ {
		out[i] = all[i].ID
	}
	return out, nil
}

func idLess(a, b protocol.ObjectID) bool {
	if a.Space != b.Space {
		return a.Space < b.Space
	}
	if a.Type != b.Type {
		return a.Type < b.Type
	}
	return a.Instance < b.Instance
}

// reweightAuthorities implements spec.md §4.5.3 step 4: rewrites the
// WITNESS and COMMITTEE sentinel accounts' active authorities so each
// selected member's owner account carries weight =
// votes >> max(0, msb(total)-15), clamped to at least 1, with threshold
// set to sum/2+1.
func (m *Maintenance) reweightAuthorities(witnessIDs, committeeIDs []protocol.ObjectID) error {
	if err := m.reweightOne(protocol.WitnessAccountID, witnessIDs, func(id protocol.ObjectID) (protocol.ObjectID, uint64, error) {
		w, err := objectdb.Get[protocol.Witness](m.Store, id)
		if err != nil {
			return protocol.ObjectID{}, 0, err
		}
		return w.WitnessAcct, w.TotalVotes, nil
	}); err != nil {
		return err
	}
	return m.reweightOne(protocol.CommitteeAccountID, committeeIDs, func(id protocol.ObjectID) (protocol.ObjectID, uint64, error) {
		c, err := objectdb.Get[protocol.CommitteeMember](m.Store, id)
		if err != nil {
			return protocol.ObjectID{}, 0, err
		}
		return c.MemberAcct, c.TotalVotes, nil
	})
}

func (m *Maintenance) reweightOne(sentinel protocol.ObjectID, memberIDs []protocol.ObjectID, resolve func(protocol.ObjectID) (protocol.ObjectID, uint64, error)) error {
	var total uint64
	weights := make(map[protocol.ObjectID]uint64, len(memberIDs))
	owners := make(map[protocol.ObjectID]protocol.ObjectID, len(memberIDs))
	for _, id := range memberIDs {
		owner, votes, err := resolve(id)
		if err != nil {
			return err
		}
		total += votes
		weights[id] = votes
		owners[id] = owner
	}

	shift := 0
	if msb := bits.Len64(total); msb > 16 {
		shift = msb - 16
	}

	accountAuths := make(map[protocol.ObjectID]uint16, len(memberIDs))
	var sum uint64
	for _, id := range memberIDs {
		w := weights[id] >> uint(shift)
		if w < 1 {
			w = 1
		}
		accountAuths[owners[id]] = uint16(w)
		sum += w
	}
	threshold := uint32(sum/2 + 1)

	// Only the active authority is rewritten here; the owner authority of
	// the WITNESS/COMMITTEE sentinel accounts is fixed at genesis and never
	// touched by maintenance, so no voted-in weight can ever seize it.
	return objectdb.Modify(m.Store, sentinel, func(a *protocol.Account) {
		a.Active = protocol.Authority{
			Threshold:    threshold,
			AccountAuths: accountAuths,
			KeyAuths:     map[protocol.PublicKey]uint16{},
			AddressAuths: map[protocol.Address]uint16{},
		}
	})
}

// runBudget implements spec.md §4.5.3 step 5 (reserve/budget split) and
// step 6 (worker payroll).
func (m *Maintenance) runBudget(global *protocol.GlobalProperties, dyn *protocol.DynamicGlobalProperties, dt int64, now int64) error {
	core, err := objectdb.Get[protocol.Asset](m.Store, protocol.CoreAssetID)
	if err != nil {
		return err
	}
	coreDyn, err := objectdb.Get[protocol.AssetDynamicData](m.Store, core.DynamicDataID)
	if err != nil {
		return err
	}

	reserve := uint64(core.Options.MaxSupply) - uint64(coreDyn.CurrentSupply) + uint64(coreDyn.AccumulatedFees) + uint64(dyn.WitnessBudget)

	budget := reserve
	if dt > 0 {
		rate := new(uint256.Int).SetUint64(reserve)
		rate.Mul(rate, new(uint256.Int).SetUint64(uint64(dt)))
		rate.Mul(rate, uint256.NewInt(coreAssetCycleRate))
		rate.Rsh(rate, coreAssetCycleRateBits)
		if rate.IsUint64() {
			if capped := rate.Uint64(); capped < budget {
				budget = capped
			}
		}
	}

	blocksUntilNextMaintenance := uint64(0)
	if global.BlockIntervalSec > 0 && global.MaintenanceIntervalSec > 0 {
		blocksUntilNextMaintenance = uint64(global.MaintenanceIntervalSec) / uint64(global.BlockIntervalSec)
	}
	witnessBudget := uint64(global.WitnessPayPerBlock) * blocksUntilNextMaintenance
	if witnessBudget > budget {
		witnessBudget = budget
	}
	remaining := budget - witnessBudget

	var workerBudget uint64
	if dt > 0 {
		workerBudget = uint64(global.WorkerBudgetPerDay) * uint64(dt) / 86400
	}
	if workerBudget > remaining {
		workerBudget = remaining
	}

	dyn.WitnessBudget = protocol.Amount(witnessBudget)

	return m.payWorkers(workerBudget, now, dt)
}

// payWorkers implements spec.md §4.5.3 step 6: active workers with
// positive approving stake, sorted by vote desc then id asc, each paid its
// requested daily pay prorated by dt and capped by the remaining budget.
func (m *Maintenance) payWorkers(budget uint64, now, dt int64) error {
	workers := objectdb.All[protocol.Worker](m.Store, protocol.SpaceProtocol, protocol.TypeWorker)
	active := make([]*protocol.Worker, 0, len(workers))
	for _, w := range workers {
		if w.IsActive(now) && w.TotalVotes > 0 {
			active = append(active, w)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].TotalVotes != active[j].TotalVotes {
			return active[i].TotalVotes > active[j].TotalVotes
		}
		return idLess(active[i].ID, active[j].ID)
	})

	core, err := objectdb.Get[protocol.Asset](m.Store, protocol.CoreAssetID)
	if err != nil {
		return err
	}

	for _, w := range active {
		if budget == 0 {
			break
		}
		requested := uint64(w.DailyPay)
		if dt > 0 {
			requested = requested * uint64(dt) / 86400
		}
		pay := requested
		if pay > budget {
			pay = budget
		}
		if pay == 0 {
			continue
		}
		budget -= pay

		switch w.PayoutKind {
		case protocol.WorkerPayoutBurn:
			// tokens are simply not minted; nothing to credit.
		case protocol.WorkerPayoutRefundToReserve:
			// paid amount returns to the unminted reserve; nothing to credit.
		case protocol.WorkerPayoutVesting:
			if err := m.creditVesting(w.VestingID, w.WorkerAcct, protocol.Amount(pay), now); err != nil {
				return err
			}
			if err := objectdb.Modify(m.Store, core.DynamicDataID, func(d *protocol.AssetDynamicData) {
				d.CurrentSupply += protocol.Amount(pay)
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// networkSharePercentFallback is used in place of
// GlobalProperties.NetworkSharePercent when that governable parameter is
// still at its zero value, i.e. before a chain's first governance vote sets
// it explicitly.
const networkSharePercentFallback = 2000

// processFees implements spec.md §4.5.3 step 2: splits each account's
// pending fees into network/referrer/registrar shares and credits
// registrar/referrer cashback vesting balances.
func (m *Maintenance) processFees(global *protocol.GlobalProperties, now int64) error {
	networkSharePercent := global.NetworkSharePercent
	if networkSharePercent == 0 {
		networkSharePercent = networkSharePercentFallback
	}

	for _, stats := range objectdb.All[protocol.AccountStatistics](m.Store, protocol.SpaceImplementation, protocol.TypeAccountStatistics) {
		if stats.PendingFees == 0 {
			continue
		}
		acct, err := objectdb.Get[protocol.Account](m.Store, stats.Owner)
		if err != nil {
			return err
		}

		networkShare := protocol.MulRatio(stats.PendingFees, uint32(networkSharePercent), 10000)
		remainder := stats.PendingFees - networkShare
		referrerShare := protocol.MulRatio(remainder, uint32(acct.ReferrerRebate), 10000)
		registrarShare := remainder - referrerShare

		if registrarShare > 0 {
			if err := m.creditVesting(protocol.ObjectID{}, acct.Registrar, registrarShare, now); err != nil {
				return err
			}
		}
		if referrerShare > 0 {
			if err := m.creditVesting(protocol.ObjectID{}, acct.Referrer, referrerShare, now); err != nil {
				return err
			}
		}

		core, err := objectdb.Get[protocol.Asset](m.Store, protocol.CoreAssetID)
		if err != nil {
			return err
		}
		spent := registrarShare + referrerShare
		if err := objectdb.Modify(m.Store, core.DynamicDataID, func(d *protocol.AssetDynamicData) {
			if d.AccumulatedFees >= spent {
				d.AccumulatedFees -= spent
			} else {
				d.AccumulatedFees = 0
			}
		}); err != nil {
			return err
		}
		if err := objectdb.Modify(m.Store, stats.ID, func(s *protocol.AccountStatistics) { s.PendingFees = 0 }); err != nil {
			return err
		}
	}
	return nil
}

// creditVesting adds amt to ownerID's cashback vesting balance, creating
// one (with cashbackVestingSec linear vesting from now) if this is the
// account's first credit. If explicitVB is non-null it is used directly
// instead of the account's own cashback balance, for worker vesting payouts
// that target a worker-specific vesting balance rather than an account's.
func (m *Maintenance) creditVesting(explicitVB, ownerID protocol.ObjectID, amt protocol.Amount, now int64) error {
	if amt == 0 || ownerID.IsNull() {
		return nil
	}
	if !explicitVB.IsNull() {
		return objectdb.Modify(m.Store, explicitVB, func(v *protocol.VestingBalance) { v.Balance += amt })
	}

	acct, err := objectdb.Get[protocol.Account](m.Store, ownerID)
	if err != nil {
		return err
	}
	if acct.CashbackVBID.IsNull() {
		vbID, _ := objectdb.Create(m.Store, protocol.SpaceProtocol, protocol.TypeVestingBalance, func(v *protocol.VestingBalance) {
			v.Owner = ownerID
			v.AssetID = protocol.CoreAssetID
			v.StartedAt = now
			v.VestingSec = cashbackVestingSec
			v.Balance = amt
		})
		return objectdb.Modify(m.Store, ownerID, func(a *protocol.Account) { a.CashbackVBID = vbID })
	}
	return objectdb.Modify(m.Store, acct.CashbackVBID, func(v *protocol.VestingBalance) { v.Balance += amt })
}
