package witness

import (
	"testing"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

// maintenanceFixture builds a minimal store with a core asset, two stake
// holders (one voting directly, one by proxy), one witness, one committee
// member, and the WITNESS/COMMITTEE sentinel accounts reweightAuthorities
// mutates. A throwaway filler account is created first so none of the
// fixture's real accounts land at instance 0, which would otherwise equal
// the zero-value ObjectID that ObjectID.IsNull treats as "unset".
type maintenanceFixture struct {
	store       *objectdb.Store
	coreDynID   protocol.ObjectID
	witnessID   protocol.ObjectID
	witnessAcct protocol.ObjectID
	committeeID protocol.ObjectID
	committee   protocol.ObjectID
	voterA      protocol.ObjectID // votes directly, 1000 stake
	voterB      protocol.ObjectID // proxies to voterA, 500 stake
	statsA      protocol.ObjectID
	statsB      protocol.ObjectID
}

func newMaintenanceFixture(t *testing.T) maintenanceFixture {
	t.Helper()
	store := objectdb.New()

	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {})

	coreDynID, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAssetDynamicData, func(d *protocol.AssetDynamicData) {
		d.CurrentSupply = 1_000_000
	})
	objectdb.CreateAt(store, protocol.CoreAssetID, func(a *protocol.Asset) {
		a.Symbol = "CORE"
		a.Precision = 5
		a.Options.MaxSupply = 100_000_000
		a.DynamicDataID = coreDynID
	})

	witnessAcct, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {})
	witnessID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeWitness, func(w *protocol.Witness) {
		w.WitnessAcct = witnessAcct
		w.VoteID = protocol.VoteID{Type: protocol.VoteTypeWitness, Instance: 0}
	})

	committee, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {})
	committeeID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeCommitteeMember, func(c *protocol.CommitteeMember) {
		c.MemberAcct = committee
		c.VoteID = protocol.VoteID{Type: protocol.VoteTypeCommittee, Instance: 0}
	})

	statsA, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAccountStatistics, func(s *protocol.AccountStatistics) {
		s.TotalCoreInOrders = 1000
	})
	voterA, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {
		a.StatisticsID = statsA
		a.Options.NumWitness = 1
		a.Options.NumCommittee = 1
		a.Options.Votes = map[protocol.VoteID]struct{}{
			{Type: protocol.VoteTypeWitness, Instance: 0}:   {},
			{Type: protocol.VoteTypeCommittee, Instance: 0}: {},
		}
	})
	if err := objectdb.Modify(store, statsA, func(s *protocol.AccountStatistics) { s.Owner = voterA }); err != nil {
		t.Fatalf("Modify statsA.Owner: %v", err)
	}

	statsB, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAccountStatistics, func(s *protocol.AccountStatistics) {
		s.TotalCoreInOrders = 500
	})
	voterB, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {
		a.StatisticsID = statsB
		a.Options.VotingAccount = voterA
	})
	if err := objectdb.Modify(store, statsB, func(s *protocol.AccountStatistics) { s.Owner = voterB }); err != nil {
		t.Fatalf("Modify statsB.Owner: %v", err)
	}

	objectdb.CreateAt(store, protocol.WitnessAccountID, func(a *protocol.Account) {
		a.Owner = protocol.NewAuthority(1)
	})
	objectdb.CreateAt(store, protocol.CommitteeAccountID, func(a *protocol.Account) {
		a.Owner = protocol.NewAuthority(1)
	})

	return maintenanceFixture{
		store:       store,
		coreDynID:   coreDynID,
		witnessID:   witnessID,
		witnessAcct: witnessAcct,
		committeeID: committeeID,
		committee:   committee,
		voterA:      voterA,
		voterB:      voterB,
		statsA:      statsA,
		statsB:      statsB,
	}
}

func TestSelectTargetCount(t *testing.T) {
	cases := []struct {
		name  string
		hist  map[uint16]uint64
		total uint64
		want  uint16
	}{
		{"empty histogram", map[uint16]uint64{}, 0, 0},
		{"single bucket holds it all", map[uint16]uint64{5: 100}, 100, 5},
		{
			name:  "cumulative crosses half at bucket 2",
			hist:  map[uint16]uint64{0: 10, 1: 20, 2: 21},
			total: 100, // cum: 10,30,51 -> 51*2=102>100 at k=2
			want:  2,
		},
		{
			name:  "never crosses half returns max bucket",
			hist:  map[uint16]uint64{0: 10, 3: 10},
			total: 100, // cum never exceeds 50
			want:  3,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := selectTargetCount(c.hist, c.total)
			if got != c.want {
				t.Errorf("selectTargetCount(%v, %d) = %d, want %d", c.hist, c.total, got, c.want)
			}
		})
	}
}

func TestRollForward(t *testing.T) {
	cases := []struct {
		name           string
		next, interval, now, want int64
	}{
		{"no interval missed, lands past now", 100, 50, 60, 150},
		{"exactly at now still rolls one more", 100, 50, 100, 150},
		{"multiple intervals missed", 100, 50, 275, 325},
		{"non-positive interval snaps to now", 100, 0, 500, 500},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := rollForward(c.next, c.interval, c.now)
			if got != c.want {
				t.Errorf("rollForward(%d,%d,%d) = %d, want %d", c.next, c.interval, c.now, got, c.want)
			}
		})
	}
}

func TestIdLess(t *testing.T) {
	a := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeWitness, 1)
	b := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeWitness, 2)
	c := protocol.NewObjectID(protocol.SpaceImplementation, protocol.TypeWitness, 0)
	if !idLess(a, b) {
		t.Error("expected lower instance to sort first within same (space,type)")
	}
	if idLess(b, a) {
		t.Error("idLess should not be symmetric for distinct ids")
	}
	if !idLess(a, c) {
		t.Error("expected SpaceProtocol to sort before SpaceImplementation")
	}
}

func TestAccountStakeDirectAndProxy(t *testing.T) {
	f := newMaintenanceFixture(t)

	acctA, err := objectdb.Get[protocol.Account](f.store, f.voterA)
	if err != nil {
		t.Fatalf("Get voterA: %v", err)
	}
	opinionA, stakeA, err := accountStake(f.store, acctA)
	if err != nil {
		t.Fatalf("accountStake(voterA): %v", err)
	}
	if opinionA != f.voterA {
		t.Errorf("voterA opinion = %v, want itself (%v)", opinionA, f.voterA)
	}
	if stakeA != 1000 {
		t.Errorf("voterA stake = %d, want 1000", stakeA)
	}

	acctB, err := objectdb.Get[protocol.Account](f.store, f.voterB)
	if err != nil {
		t.Fatalf("Get voterB: %v", err)
	}
	opinionB, stakeB, err := accountStake(f.store, acctB)
	if err != nil {
		t.Fatalf("accountStake(voterB): %v", err)
	}
	if opinionB != f.voterA {
		t.Errorf("voterB opinion = %v, want proxy voterA (%v)", opinionB, f.voterA)
	}
	if stakeB != 500 {
		t.Errorf("voterB stake = %d, want 500", stakeB)
	}
}

func TestVoteTallyAttributesProxyStakeToOpinionAccount(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	tally, totalStake, witnessHist, committeeHist := m.voteTally()

	if totalStake != 1500 {
		t.Fatalf("totalStake = %d, want 1500 (1000 direct + 500 proxied)", totalStake)
	}

	witnessVote := protocol.VoteID{Type: protocol.VoteTypeWitness, Instance: 0}
	committeeVote := protocol.VoteID{Type: protocol.VoteTypeCommittee, Instance: 0}
	if tally[witnessVote] != 1500 {
		t.Errorf("tally[witnessVote] = %d, want 1500 (voterB's stake counts toward voterA's ballot)", tally[witnessVote])
	}
	if tally[committeeVote] != 1500 {
		t.Errorf("tally[committeeVote] = %d, want 1500", tally[committeeVote])
	}

	// voterA set NumWitness=1/NumCommittee=1 (bucket = n/2 = 0); voterB
	// never set Options.NumWitness/NumCommittee so it falls in voterA's
	// opinion bucket too, since voterB's ballot is voterA's.
	if witnessHist[0] != 1500 {
		t.Errorf("witnessHist[0] = %d, want 1500", witnessHist[0])
	}
	if committeeHist[0] != 1500 {
		t.Errorf("committeeHist[0] = %d, want 1500", committeeHist[0])
	}

	if err := m.writeWitnessVotes(tally); err != nil {
		t.Fatalf("writeWitnessVotes: %v", err)
	}
	w, err := objectdb.Get[protocol.Witness](f.store, f.witnessID)
	if err != nil {
		t.Fatalf("Get witness: %v", err)
	}
	if w.TotalVotes != 1500 {
		t.Errorf("witness.TotalVotes = %d, want 1500", w.TotalVotes)
	}

	if err := m.writeCommitteeVotes(tally); err != nil {
		t.Fatalf("writeCommitteeVotes: %v", err)
	}
	cm, err := objectdb.Get[protocol.CommitteeMember](f.store, f.committeeID)
	if err != nil {
		t.Fatalf("Get committee member: %v", err)
	}
	if cm.TotalVotes != 1500 {
		t.Errorf("committee.TotalVotes = %d, want 1500", cm.TotalVotes)
	}
}

func TestReweightAuthoritiesWeightAndThreshold(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	// Give the witness 100 votes directly (bypassing voteTally) so the
	// weight math is exercised in isolation from tally attribution.
	if err := objectdb.Modify(f.store, f.witnessID, func(w *protocol.Witness) { w.TotalVotes = 100 }); err != nil {
		t.Fatalf("seed witness votes: %v", err)
	}
	if err := objectdb.Modify(f.store, f.committeeID, func(c *protocol.CommitteeMember) { c.TotalVotes = 50 }); err != nil {
		t.Fatalf("seed committee votes: %v", err)
	}

	if err := m.reweightAuthorities([]protocol.ObjectID{f.witnessID}, []protocol.ObjectID{f.committeeID}); err != nil {
		t.Fatalf("reweightAuthorities: %v", err)
	}

	// total=100, bits.Len64(100)=7 (64<=100<128), 7<=16 so shift=0.
	// weight = 100 >> 0 = 100, clamped floor of 1 doesn't apply. sum=100,
	// threshold = 100/2+1 = 51.
	witnessSentinel, err := objectdb.Get[protocol.Account](f.store, protocol.WitnessAccountID)
	if err != nil {
		t.Fatalf("Get witness sentinel: %v", err)
	}
	if witnessSentinel.Active.Threshold != 51 {
		t.Errorf("witness sentinel threshold = %d, want 51", witnessSentinel.Active.Threshold)
	}
	if got := witnessSentinel.Active.AccountAuths[f.witnessAcct]; got != 100 {
		t.Errorf("witness sentinel weight for %v = %d, want 100", f.witnessAcct, got)
	}

	// committee total=50, same shift=0, weight=50, threshold=50/2+1=26.
	committeeSentinel, err := objectdb.Get[protocol.Account](f.store, protocol.CommitteeAccountID)
	if err != nil {
		t.Fatalf("Get committee sentinel: %v", err)
	}
	if committeeSentinel.Active.Threshold != 26 {
		t.Errorf("committee sentinel threshold = %d, want 26", committeeSentinel.Active.Threshold)
	}
	if got := committeeSentinel.Active.AccountAuths[f.committee]; got != 50 {
		t.Errorf("committee sentinel weight for %v = %d, want 50", f.committee, got)
	}
}

func TestReweightAuthoritiesShiftsLargeVoteTotals(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	// total = 1<<20 (1,048,576); bits.Len64 = 21, shift = 21-16 = 5.
	// weight = (1<<20) >> 5 = 1<<15 = 32768. sum=32768,
	// threshold = 32768/2+1 = 16385.
	const votes = 1 << 20
	if err := objectdb.Modify(f.store, f.witnessID, func(w *protocol.Witness) { w.TotalVotes = votes }); err != nil {
		t.Fatalf("seed witness votes: %v", err)
	}

	if err := m.reweightAuthorities([]protocol.ObjectID{f.witnessID}, nil); err != nil {
		t.Fatalf("reweightAuthorities: %v", err)
	}

	witnessSentinel, err := objectdb.Get[protocol.Account](f.store, protocol.WitnessAccountID)
	if err != nil {
		t.Fatalf("Get witness sentinel: %v", err)
	}
	if got := witnessSentinel.Active.AccountAuths[f.witnessAcct]; got != 1<<15 {
		t.Errorf("weight = %d, want %d", got, 1<<15)
	}
	if witnessSentinel.Active.Threshold != 1<<15/2+1 {
		t.Errorf("threshold = %d, want %d", witnessSentinel.Active.Threshold, 1<<15/2+1)
	}
}

func TestRunBudgetCapsByCycleRateAndWitnessShare(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	global := &protocol.GlobalProperties{
		BlockIntervalSec:       3,
		MaintenanceIntervalSec: 86400,
		WitnessPayPerBlock:     10,
		WorkerBudgetPerDay:     0,
	}
	dyn := &protocol.DynamicGlobalProperties{}

	// reserve = MaxSupply(100,000,000) - CurrentSupply(1,000,000) + 0 + 0
	// = 99,000,000. dt=0 so the cycle-rate cap is skipped and budget=reserve.
	// blocksUntilNextMaintenance = 86400/3 = 28800.
	// witnessBudget = 10*28800 = 288000 (< budget, not capped).
	if err := m.runBudget(global, dyn, 0, 1_700_000_000); err != nil {
		t.Fatalf("runBudget: %v", err)
	}
	if dyn.WitnessBudget != 288_000 {
		t.Errorf("WitnessBudget = %d, want 288000", dyn.WitnessBudget)
	}
}

func TestRunBudgetCycleRateCapsShortElapsedWindow(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	global := &protocol.GlobalProperties{
		BlockIntervalSec:       3,
		MaintenanceIntervalSec: 86400,
		WitnessPayPerBlock:     10_000, // deliberately large so it would exceed the cap
		WorkerBudgetPerDay:     0,
	}
	dyn := &protocol.DynamicGlobalProperties{}

	// reserve = 100,000,000 - 1,000,000 = 99,000,000.
	// dt=3 (one block interval): cap = reserve*dt*17 >> 17
	// = 99,000,000*3*17 = 5,049,000,000 ; >>17 (131072) = 38,520 (floor).
	// blocksUntilNextMaintenance = 86400/3 = 28800; uncapped witness share
	// would be 10,000*28,800 = 288,000,000, far above the 38,520 cap, so
	// WitnessBudget must come out as exactly the capped value.
	if err := m.runBudget(global, dyn, 3, 1_700_000_003); err != nil {
		t.Fatalf("runBudget: %v", err)
	}
	if dyn.WitnessBudget != 38_520 {
		t.Errorf("WitnessBudget = %d, want 38520 (decay-rate cap on a 3s window)", dyn.WitnessBudget)
	}
}

func TestPayWorkersProratesByDtAndCreditsVesting(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	workerAcct, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {})
	vbID, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeVestingBalance, func(v *protocol.VestingBalance) {
		v.Owner = workerAcct
		v.AssetID = protocol.CoreAssetID
	})
	workerID, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeWorker, func(w *protocol.Worker) {
		w.WorkerAcct = workerAcct
		w.DailyPay = 1000
		w.BeginDate = 0
		w.EndDate = 2_000_000_000
		w.PayoutKind = protocol.WorkerPayoutVesting
		w.VestingID = vbID
		w.TotalVotes = 1
	})

	// dt = 43200 (half a day): requested = 1000*43200/86400 = 500.
	// budget (1000) exceeds requested, so the full 500 is paid.
	if err := m.payWorkers(1000, 1_700_000_000, 43200); err != nil {
		t.Fatalf("payWorkers: %v", err)
	}

	vb, err := objectdb.Get[protocol.VestingBalance](f.store, vbID)
	if err != nil {
		t.Fatalf("Get vesting balance: %v", err)
	}
	if vb.Balance != 500 {
		t.Errorf("worker vesting balance = %d, want 500", vb.Balance)
	}

	coreDyn, err := objectdb.Get[protocol.AssetDynamicData](f.store, f.coreDynID)
	if err != nil {
		t.Fatalf("Get core dynamic data: %v", err)
	}
	if coreDyn.CurrentSupply != 1_000_500 {
		t.Errorf("CurrentSupply = %d, want 1000500 (1,000,000 + 500 minted)", coreDyn.CurrentSupply)
	}

	w, err := objectdb.Get[protocol.Worker](f.store, workerID)
	if err != nil {
		t.Fatalf("Get worker: %v", err)
	}
	if w.TotalVotes != 1 {
		t.Fatalf("sanity: worker fixture unexpectedly mutated")
	}
}

func TestPayWorkersSkipsInactiveAndZeroVoteWorkers(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	workerAcct, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {})
	vbID, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeVestingBalance, func(v *protocol.VestingBalance) {
		v.Owner = workerAcct
		v.AssetID = protocol.CoreAssetID
	})
	// Outside its funding window.
	objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeWorker, func(w *protocol.Worker) {
		w.WorkerAcct = workerAcct
		w.DailyPay = 1000
		w.BeginDate = 2_000_000_000
		w.EndDate = 3_000_000_000
		w.PayoutKind = protocol.WorkerPayoutVesting
		w.VestingID = vbID
		w.TotalVotes = 1
	})
	// Within window but zero approving votes.
	objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeWorker, func(w *protocol.Worker) {
		w.WorkerAcct = workerAcct
		w.DailyPay = 1000
		w.BeginDate = 0
		w.EndDate = 2_000_000_000
		w.PayoutKind = protocol.WorkerPayoutVesting
		w.VestingID = vbID
		w.TotalVotes = 0
	})

	if err := m.payWorkers(1000, 1_700_000_000, 86400); err != nil {
		t.Fatalf("payWorkers: %v", err)
	}

	vb, err := objectdb.Get[protocol.VestingBalance](f.store, vbID)
	if err != nil {
		t.Fatalf("Get vesting balance: %v", err)
	}
	if vb.Balance != 0 {
		t.Errorf("vesting balance = %d, want 0 (neither worker qualifies)", vb.Balance)
	}
}

func TestProcessFeesSplitsNetworkReferrerRegistrarShares(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	registrar, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {})
	referrer, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {})
	payer, _ := objectdb.Create(f.store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {
		a.Registrar = registrar
		a.Referrer = referrer
		a.ReferrerRebate = 3000 // 30%
	})
	payerStats, _ := objectdb.Create(f.store, protocol.SpaceImplementation, protocol.TypeAccountStatistics, func(s *protocol.AccountStatistics) {
		s.PendingFees = 1000
	})
	if err := objectdb.Modify(f.store, payerStats, func(s *protocol.AccountStatistics) { s.Owner = payer }); err != nil {
		t.Fatalf("Modify payerStats.Owner: %v", err)
	}
	if err := objectdb.Modify(f.store, f.coreDynID, func(d *protocol.AssetDynamicData) { d.AccumulatedFees = 1000 }); err != nil {
		t.Fatalf("seed AccumulatedFees: %v", err)
	}

	global := &protocol.GlobalProperties{NetworkSharePercent: 2000} // 20%
	if err := m.processFees(global, 1_700_000_000); err != nil {
		t.Fatalf("processFees: %v", err)
	}

	// networkShare = 1000 * 20% = 200. remainder = 800.
	// referrerShare = 800 * 30% = 240. registrarShare = 800-240 = 560.
	registrarAcct, err := objectdb.Get[protocol.Account](f.store, registrar)
	if err != nil {
		t.Fatalf("Get registrar: %v", err)
	}
	registrarVB, err := objectdb.Get[protocol.VestingBalance](f.store, registrarAcct.CashbackVBID)
	if err != nil {
		t.Fatalf("Get registrar cashback vesting: %v", err)
	}
	if registrarVB.Balance != 560 {
		t.Errorf("registrar cashback = %d, want 560", registrarVB.Balance)
	}

	referrerAcct, err := objectdb.Get[protocol.Account](f.store, referrer)
	if err != nil {
		t.Fatalf("Get referrer: %v", err)
	}
	referrerVB, err := objectdb.Get[protocol.VestingBalance](f.store, referrerAcct.CashbackVBID)
	if err != nil {
		t.Fatalf("Get referrer cashback vesting: %v", err)
	}
	if referrerVB.Balance != 240 {
		t.Errorf("referrer cashback = %d, want 240", referrerVB.Balance)
	}

	coreDyn, err := objectdb.Get[protocol.AssetDynamicData](f.store, f.coreDynID)
	if err != nil {
		t.Fatalf("Get core dynamic data: %v", err)
	}
	// spent = registrarShare + referrerShare = 800; AccumulatedFees 1000-800=200.
	if coreDyn.AccumulatedFees != 200 {
		t.Errorf("AccumulatedFees = %d, want 200", coreDyn.AccumulatedFees)
	}

	stats, err := objectdb.Get[protocol.AccountStatistics](f.store, payerStats)
	if err != nil {
		t.Fatalf("Get payer stats: %v", err)
	}
	if stats.PendingFees != 0 {
		t.Errorf("PendingFees = %d, want 0 (cleared after processing)", stats.PendingFees)
	}
}

func TestMaintenanceRunEndToEnd(t *testing.T) {
	f := newMaintenanceFixture(t)
	m := NewMaintenance(f.store)

	global := &protocol.GlobalProperties{
		BlockIntervalSec:       3,
		MaintenanceIntervalSec: 86400,
		MinWitnessCount:        1,
		MinCommitteeCount:      1,
		WitnessPayPerBlock:     0,
		WorkerBudgetPerDay:     0,
	}
	dyn := &protocol.DynamicGlobalProperties{
		NextMaintenanceTime: 1_700_000_000,
	}

	const now = 1_700_000_000
	if err := m.Run(global, dyn, now); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(global.ActiveWitnesses) != 1 || global.ActiveWitnesses[0] != f.witnessID {
		t.Errorf("ActiveWitnesses = %v, want [%v]", global.ActiveWitnesses, f.witnessID)
	}
	if len(global.ActiveCommittee) != 1 || global.ActiveCommittee[0] != f.committeeID {
		t.Errorf("ActiveCommittee = %v, want [%v]", global.ActiveCommittee, f.committeeID)
	}

	witnessSentinel, err := objectdb.Get[protocol.Account](f.store, protocol.WitnessAccountID)
	if err != nil {
		t.Fatalf("Get witness sentinel: %v", err)
	}
	if witnessSentinel.Active.Threshold == 0 {
		t.Error("witness sentinel active authority was never rewritten")
	}
	if got := witnessSentinel.Active.AccountAuths[f.witnessAcct]; got == 0 {
		t.Error("witness sentinel carries no weight for the elected witness's account")
	}

	if len(dyn.WitnessScheduleOrder) != 1 || dyn.WitnessScheduleOrder[0] != f.witnessID {
		t.Errorf("WitnessScheduleOrder = %v, want [%v]", dyn.WitnessScheduleOrder, f.witnessID)
	}
	if dyn.AccountsRegisteredThisInterval != 0 {
		t.Errorf("AccountsRegisteredThisInterval = %d, want reset to 0", dyn.AccountsRegisteredThisInterval)
	}
	if dyn.LastBudgetTime != now {
		t.Errorf("LastBudgetTime = %d, want %d", dyn.LastBudgetTime, now)
	}
	if dyn.NextMaintenanceTime != now+86400 {
		t.Errorf("NextMaintenanceTime = %d, want %d", dyn.NextMaintenanceTime, now+86400)
	}

	w, err := objectdb.Get[protocol.Witness](f.store, f.witnessID)
	if err != nil {
		t.Fatalf("Get witness: %v", err)
	}
	if w.TotalVotes != 1500 {
		t.Errorf("witness.TotalVotes = %d, want 1500 after tally", w.TotalVotes)
	}
}
