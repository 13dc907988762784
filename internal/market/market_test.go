package market

import (
	"testing"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

// newBitAsset creates a CORE-backed bitasset whose feed settlement price is
// feedBase CORE per feedQuote bitasset units, and returns
// (coreID, bitassetID, bitAssetDataID).
func newBitAsset(t *testing.T, store *objectdb.Store, feedBase, feedQuote protocol.Amount, mcr, mssr uint16) (protocol.ObjectID, protocol.ObjectID, protocol.ObjectID) {
	t.Helper()

	coreID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAsset, func(a *protocol.Asset) {
		a.Symbol = "CORE"
	})
	coreDynID, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAssetDynamicData, func(*protocol.AssetDynamicData) {})
	if err := objectdb.Modify(store, coreID, func(a *protocol.Asset) { a.DynamicDataID = coreDynID }); err != nil {
		t.Fatal(err)
	}

	assetID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAsset, func(a *protocol.Asset) {
		a.Symbol = "USDBIT"
	})
	dynID, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAssetDynamicData, func(*protocol.AssetDynamicData) {})

	feed := protocol.Price{
		Base:  protocol.AssetAmount{AssetID: coreID, Amount: feedBase},
		Quote: protocol.AssetAmount{AssetID: assetID, Amount: feedQuote},
	}
	badID, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAssetBitAssetData, func(d *protocol.AssetBitAssetData) {
		d.AssetID = assetID
		d.BackingAssetID = coreID
		d.CurrentFeed = protocol.PriceFeed{
			SettlementPrice:        feed,
			MaintenanceCollatRatio: mcr,
			MaximumShortSqueezeRat: mssr,
		}
	})
	if err := objectdb.Modify(store, assetID, func(a *protocol.Asset) {
		a.DynamicDataID = dynID
		a.BitAssetID = badID
	}); err != nil {
		t.Fatal(err)
	}
	return coreID, assetID, badID
}

func newAccount(store *objectdb.Store, name string) protocol.ObjectID {
	id, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {
		a.Name = name
	})
	return id
}

func balanceOf(t *testing.T, store *objectdb.Store, owner, assetID protocol.ObjectID) protocol.Amount {
	t.Helper()
	for _, b := range objectdb.All[protocol.AccountBalance](store, protocol.SpaceImplementation, protocol.TypeAccountBalance) {
		if b.Owner == owner && b.AssetID == assetID {
			return b.Amount
		}
	}
	return 0
}

// TestRunMarginCallLoop_S1 models spec.md §8 S1: an undercollateralized call
// partially fills against a resting opposing limit order at the maximum
// short-squeeze price (MSSP), leaving a smaller, adequately collateralized
// residual position. Numbers are chosen for exact hand-traceable integer
// arithmetic rather than reproducing S1's literal figures, which assume a
// two-order sequential fill this test simplifies to one.
func TestRunMarginCallLoop_S1(t *testing.T) {
	store := objectdb.New()
	coreID, usdID, _ := newBitAsset(t, store, 10, 1, 1750, 1100)

	borrower := newAccount(store, "borrower")
	seller := newAccount(store, "seller")

	callID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeCallOrder, func(c *protocol.CallOrder) {
		c.Borrower = borrower
		c.Debt = protocol.AssetAmount{AssetID: usdID, Amount: 1000}
		c.Collateral = protocol.AssetAmount{AssetID: coreID, Amount: 15000}
		c.CallPrice = recomputeCallPrice(c.Collateral, c.Debt, 1750)
	})

	orderID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeLimitOrder, func(o *protocol.LimitOrder) {
		o.Seller = seller
		o.ForSale = protocol.AssetAmount{AssetID: usdID, Amount: 700}
		o.SellPrice = protocol.Price{
			Base:  protocol.AssetAmount{AssetID: coreID, Amount: 5900},
			Quote: protocol.AssetAmount{AssetID: usdID, Amount: 700},
		}
	})

	engine := NewEngine(store)
	vops, settled, err := engine.RunMarginCallLoop(protocol.VirtualOpCoordinate{}, usdID)
	if err != nil {
		t.Fatalf("RunMarginCallLoop: %v", err)
	}
	if settled {
		t.Fatal("expected no global settlement")
	}
	if len(vops) != 2 {
		t.Fatalf("expected 2 fill vops, got %d", len(vops))
	}

	call, err := objectdb.Get[protocol.CallOrder](store, callID)
	if err != nil {
		t.Fatal(err)
	}
	if call.Debt.Amount != 300 {
		t.Errorf("call.Debt.Amount = %d, want 300", call.Debt.Amount)
	}
	if call.Collateral.Amount != 7300 {
		t.Errorf("call.Collateral.Amount = %d, want 7300", call.Collateral.Amount)
	}

	if got := balanceOf(t, store, seller, coreID); got != 7700 {
		t.Errorf("seller CORE balance = %d, want 7700", got)
	}

	if _, err := objectdb.Get[protocol.LimitOrder](store, orderID); err == nil {
		t.Error("expected the fully-filled opposing limit order to be removed")
	}
}

// TestRunMarginCallLoop_GlobalSettle models spec.md §8 S3: the
// least-collateralized call cannot close against any resting order at MSSP,
// so every call on the asset is liquidated at a uniform settlement price
// and the bitasset is marked globally settled.
func TestRunMarginCallLoop_GlobalSettle(t *testing.T) {
	store := objectdb.New()
	coreID, assetID, badID := newBitAsset(t, store, 2, 1, 1750, 1100)

	borrowerA := newAccount(store, "borrower-a")
	borrowerB := newAccount(store, "borrower-b")

	// Least collateralized: ratio 2.0, matches the feed ratio exactly.
	callBID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeCallOrder, func(c *protocol.CallOrder) {
		c.Borrower = borrowerB
		c.Debt = protocol.AssetAmount{AssetID: assetID, Amount: 100}
		c.Collateral = protocol.AssetAmount{AssetID: coreID, Amount: 200}
		c.CallPrice = recomputeCallPrice(c.Collateral, c.Debt, 1750)
	})
	// Well collateralized: ratio 20.0, swept up anyway by the blanket
	// liquidation once the asset as a whole is globally settled.
	callAID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeCallOrder, func(c *protocol.CallOrder) {
		c.Borrower = borrowerA
		c.Debt = protocol.AssetAmount{AssetID: assetID, Amount: 100}
		c.Collateral = protocol.AssetAmount{AssetID: coreID, Amount: 2000}
		c.CallPrice = recomputeCallPrice(c.Collateral, c.Debt, 1750)
	})

	engine := NewEngine(store)
	_, settled, err := engine.RunMarginCallLoop(protocol.VirtualOpCoordinate{}, assetID)
	if err != nil {
		t.Fatalf("RunMarginCallLoop: %v", err)
	}
	if !settled {
		t.Fatal("expected global settlement to trigger")
	}

	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if !bad.HasSettlement() {
		t.Fatal("expected bitasset.has_settlement() == true")
	}
	if bad.SettlementFund != 400 {
		t.Errorf("SettlementFund = %d, want 400", bad.SettlementFund)
	}

	if _, err := objectdb.Get[protocol.CallOrder](store, callAID); err == nil {
		t.Error("expected call A to be removed")
	}
	if _, err := objectdb.Get[protocol.CallOrder](store, callBID); err == nil {
		t.Error("expected call B to be removed")
	}
	if got := balanceOf(t, store, borrowerA, coreID); got != 1800 {
		t.Errorf("borrower A residual CORE = %d, want 1800", got)
	}
	if got := balanceOf(t, store, borrowerB, coreID); got != 0 {
		t.Errorf("borrower B residual CORE = %d, want 0 (collateral exactly exhausted)", got)
	}
}

// TestForceSettlement_S2 models spec.md §8 S2: asset_settle immediately
// debits the owner's bitasset balance without crediting collateral, then
// the next due ProcessDueForceSettlements pass (standing in for "crossing a
// maintenance interval") executes the settlement against an open call at
// the feed price, crediting collateral only then.
func TestForceSettlement_S2(t *testing.T) {
	store := objectdb.New()
	coreID, usdID, badID := newBitAsset(t, store, 10, 1, 1750, 1100)
	if err := objectdb.Modify(store, badID, func(d *protocol.AssetBitAssetData) {
		d.ForceSettlementDelaySec = 3600
		d.MaxForceSettlementVolBp = 10000
	}); err != nil {
		t.Fatal(err)
	}
	usdAsset, err := objectdb.Get[protocol.Asset](store, usdID)
	if err != nil {
		t.Fatal(err)
	}
	if err := objectdb.Modify(store, usdAsset.DynamicDataID, func(d *protocol.AssetDynamicData) {
		d.CurrentSupply = 100000
	}); err != nil {
		t.Fatal(err)
	}

	owner := newAccount(store, "settler")
	borrower := newAccount(store, "borrower")
	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAccountBalance, func(b *protocol.AccountBalance) {
		b.Owner, b.AssetID, b.Amount = owner, usdID, 10
	})
	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeCallOrder, func(c *protocol.CallOrder) {
		c.Borrower = borrower
		c.Debt = protocol.AssetAmount{AssetID: usdID, Amount: 1000}
		c.Collateral = protocol.AssetAmount{AssetID: coreID, Amount: 15000}
		c.CallPrice = recomputeCallPrice(c.Collateral, c.Debt, 1750)
	})

	engine := NewEngine(store)
	const now = 1_000_000
	settlementID, err := engine.AssetSettle(owner, usdID, 10, now)
	if err != nil {
		t.Fatalf("AssetSettle: %v", err)
	}

	if got := balanceOf(t, store, owner, usdID); got != 0 {
		t.Errorf("USDBIT balance after asset_settle = %d, want 0", got)
	}
	if got := balanceOf(t, store, owner, coreID); got != 0 {
		t.Errorf("CORE balance immediately after asset_settle = %d, want 0 (unchanged)", got)
	}

	due := int64(now + 3600)
	vops, err := engine.ProcessDueForceSettlements(protocol.VirtualOpCoordinate{}, usdID, due)
	if err != nil {
		t.Fatalf("ProcessDueForceSettlements: %v", err)
	}
	if len(vops) != 1 {
		t.Fatalf("expected 1 settlement vop, got %d", len(vops))
	}

	if got := balanceOf(t, store, owner, coreID); got != 100 {
		t.Errorf("CORE balance after maintenance pass = %d, want 100", got)
	}
	if _, err := objectdb.Get[protocol.ForceSettlement](store, settlementID); err == nil {
		t.Error("expected the executed force settlement to be removed")
	}

	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if bad.ForceSettledVolThisRound != 10 {
		t.Errorf("ForceSettledVolThisRound = %d, want 10", bad.ForceSettledVolThisRound)
	}
}

// TestMarginCallRespectsTargetCollateralRatio covers the CR-834 extension
// (spec.md §4.3.3 step 1): a call carrying a target collateral ratio is
// only margin-called far enough to restore that ratio, not liquidated
// against the whole resting order.
func TestMarginCallRespectsTargetCollateralRatio(t *testing.T) {
	store := objectdb.New()
	coreID, usdID, _ := newBitAsset(t, store, 10, 1, 1750, 1100)

	borrower := newAccount(store, "borrower")
	seller := newAccount(store, "seller")

	callID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeCallOrder, func(c *protocol.CallOrder) {
		c.Borrower = borrower
		c.Debt = protocol.AssetAmount{AssetID: usdID, Amount: 1000}
		c.Collateral = protocol.AssetAmount{AssetID: coreID, Amount: 15000}
		c.CallPrice = recomputeCallPrice(c.Collateral, c.Debt, 1750)
		c.TargetCollatRatioBp = 2000
	})
	orderID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeLimitOrder, func(o *protocol.LimitOrder) {
		o.Seller = seller
		o.ForSale = protocol.AssetAmount{AssetID: usdID, Amount: 700}
		o.SellPrice = protocol.Price{
			Base:  protocol.AssetAmount{AssetID: coreID, Amount: 5900},
			Quote: protocol.AssetAmount{AssetID: usdID, Amount: 700},
		}
	})

	engine := NewEngine(store)
	vops, settled, err := engine.RunMarginCallLoop(protocol.VirtualOpCoordinate{}, usdID)
	if err != nil {
		t.Fatalf("RunMarginCallLoop: %v", err)
	}
	if settled {
		t.Fatal("expected no global settlement")
	}
	if len(vops) != 2 {
		t.Fatalf("expected 2 fill vops, got %d", len(vops))
	}

	// Smallest cover x with (15000 - 11x)/(1000 - x) >= 2.0 * 10 is
	// ceil(5,000,000/9,000) = 556, not the order's full 700.
	call, err := objectdb.Get[protocol.CallOrder](store, callID)
	if err != nil {
		t.Fatal(err)
	}
	if call.Debt.Amount != 444 || call.Collateral.Amount != 8884 {
		t.Fatalf("call after capped fill = debt %d / collateral %d, want 444/8884", call.Debt.Amount, call.Collateral.Amount)
	}
	order, err := objectdb.Get[protocol.LimitOrder](store, orderID)
	if err != nil {
		t.Fatal(err)
	}
	if order.ForSale.Amount != 144 {
		t.Errorf("order remainder = %d, want 144 (700 - 556)", order.ForSale.Amount)
	}
	if got := balanceOf(t, store, seller, coreID); got != 6116 {
		t.Errorf("seller CORE balance = %d, want 6116 (556 * 11)", got)
	}
}

// markSettled puts a bitasset into the globally-settled state directly:
// price is fundCollateral per outstanding units, with the fund and supply
// set to match.
func markSettled(t *testing.T, store *objectdb.Store, usdID, badID protocol.ObjectID, fund, outstanding protocol.Amount) {
	t.Helper()
	usdAsset, err := objectdb.Get[protocol.Asset](store, usdID)
	if err != nil {
		t.Fatal(err)
	}
	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if err := objectdb.Modify(store, badID, func(d *protocol.AssetBitAssetData) {
		d.SettlementPrice = protocol.Price{
			Base:  protocol.AssetAmount{AssetID: bad.BackingAssetID, Amount: fund},
			Quote: protocol.AssetAmount{AssetID: usdID, Amount: outstanding},
		}
		d.SettlementFund = fund
	}); err != nil {
		t.Fatal(err)
	}
	if err := objectdb.Modify(store, usdAsset.DynamicDataID, func(d *protocol.AssetDynamicData) {
		d.CurrentSupply = outstanding
	}); err != nil {
		t.Fatal(err)
	}
}

// TestAssetSettleRedeemsFromFundAfterSettlement covers spec.md §4.3.5 step
// 3: once an asset is globally settled, asset_settle pays out of the
// settlement fund immediately at the recorded settlement price.
func TestAssetSettleRedeemsFromFundAfterSettlement(t *testing.T) {
	store := objectdb.New()
	coreID, usdID, badID := newBitAsset(t, store, 2, 1, 1750, 1100)
	markSettled(t, store, usdID, badID, 400, 200)

	holder := newAccount(store, "holder")
	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAccountBalance, func(b *protocol.AccountBalance) {
		b.Owner, b.AssetID, b.Amount = holder, usdID, 50
	})

	engine := NewEngine(store)
	if _, err := engine.AssetSettle(holder, usdID, 50, 1_000_000); err != nil {
		t.Fatalf("AssetSettle on settled asset: %v", err)
	}

	if got := balanceOf(t, store, holder, usdID); got != 0 {
		t.Errorf("USDBIT balance after redemption = %d, want 0", got)
	}
	if got := balanceOf(t, store, holder, coreID); got != 100 {
		t.Errorf("CORE balance after redemption = %d, want 100 (50 * 2 CORE/unit)", got)
	}

	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if bad.SettlementFund != 300 {
		t.Errorf("SettlementFund = %d, want 300", bad.SettlementFund)
	}
	usdAsset, _ := objectdb.Get[protocol.Asset](store, usdID)
	dyn, err := objectdb.Get[protocol.AssetDynamicData](store, usdAsset.DynamicDataID)
	if err != nil {
		t.Fatal(err)
	}
	if dyn.CurrentSupply != 150 {
		t.Errorf("CurrentSupply = %d, want 150", dyn.CurrentSupply)
	}
}

// TestAcceptCollateralBidsRevivesSettledAsset covers spec.md §4.3.7: once
// bids cover the outstanding supply with enough collateral at MCR, they are
// accepted highest-ratio-first (later bids refunded), each reopened call
// absorbing a pro-rata share of the settlement fund, and the settlement is
// lifted.
func TestAcceptCollateralBidsRevivesSettledAsset(t *testing.T) {
	store := objectdb.New()
	coreID, usdID, badID := newBitAsset(t, store, 2, 1, 1750, 1100)
	markSettled(t, store, usdID, badID, 400, 200)

	bids := []struct {
		name       string
		collateral protocol.Amount
		debt       protocol.Amount
	}{
		{"bidder-high", 500, 150}, // ratio 3.33
		{"bidder-mid", 300, 100},  // ratio 3.0, covers outstanding with the first
		{"bidder-low", 100, 100},  // ratio 1.0, cancelled: outstanding already covered
	}
	bidders := make([]protocol.ObjectID, len(bids))
	for i, b := range bids {
		bidders[i] = newAccount(store, b.name)
		objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeCollateralBid, func(cb *protocol.CollateralBid) {
			cb.Bidder = bidders[i]
			cb.CollateralOffered = protocol.AssetAmount{AssetID: coreID, Amount: b.collateral}
			cb.DebtCovered = protocol.AssetAmount{AssetID: usdID, Amount: b.debt}
		})
	}

	engine := NewEngine(store)
	vops, err := engine.AcceptCollateralBids(protocol.VirtualOpCoordinate{}, usdID)
	if err != nil {
		t.Fatalf("AcceptCollateralBids: %v", err)
	}
	if len(vops) != 2 {
		t.Fatalf("expected 2 execute_bid vops, got %d", len(vops))
	}

	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if bad.HasSettlement() {
		t.Fatal("expected settlement to be lifted")
	}
	// Fund shares: 400*150/350 = 171 and 400*100/350 = 114; the cancelled
	// bid never draws its share, so 115 remains in the fund field.
	if bad.SettlementFund != 115 {
		t.Errorf("residual SettlementFund = %d, want 115", bad.SettlementFund)
	}

	calls := objectdb.All[protocol.CallOrder](store, protocol.SpaceProtocol, protocol.TypeCallOrder)
	if len(calls) != 2 {
		t.Fatalf("expected 2 reopened call orders, got %d", len(calls))
	}
	byBorrower := map[protocol.ObjectID]*protocol.CallOrder{}
	for _, c := range calls {
		byBorrower[c.Borrower] = c
	}
	if c := byBorrower[bidders[0]]; c == nil || c.Collateral.Amount != 671 || c.Debt.Amount != 150 {
		t.Errorf("bidder-high call = %+v, want collateral 671 (500+171), debt 150", c)
	}
	if c := byBorrower[bidders[1]]; c == nil || c.Collateral.Amount != 414 || c.Debt.Amount != 100 {
		t.Errorf("bidder-mid call = %+v, want collateral 414 (300+114), debt 100", c)
	}

	if got := balanceOf(t, store, bidders[2], coreID); got != 100 {
		t.Errorf("cancelled bidder refund = %d, want 100", got)
	}
	if left := objectdb.All[protocol.CollateralBid](store, protocol.SpaceProtocol, protocol.TypeCollateralBid); len(left) != 0 {
		t.Errorf("expected all bids consumed, %d remain", len(left))
	}
}
