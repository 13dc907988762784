package rpcapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"dexchaind/internal/blockstore"
	"dexchaind/internal/chain"
	"dexchaind/internal/forkdb"
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

func newTestServer(t *testing.T) (*Server, *objectdb.Store) {
	t.Helper()
	store := objectdb.New()

	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeGlobalProperties, func(g *protocol.GlobalProperties) {
		g.BlockIntervalSec = 3
		g.MaintenanceIntervalSec = 86400
	})
	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeDynamicGlobalProperties, func(d *protocol.DynamicGlobalProperties) {
		d.NextMaintenanceTime = 1 << 50
	})
	for n := 0; n < 4; n++ {
		objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeBlockSummary, func(s *protocol.BlockSummary) {})
	}

	archive, err := blockstore.Open(filepath.Join(t.TempDir(), "archive.dat"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { archive.Close() })

	p := chain.New(store, forkdb.New(), archive, &protocol.FeeSchedule{}, &protocol.HardforkSchedule{}, false, 3, 86400)

	return New(":0", p), store
}

func doGet(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func TestLookupAccountsFiltersByPrefix(t *testing.T) {
	s, store := newTestServer(t)
	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) { a.Name = "alice" })
	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) { a.Name = "bob" })
	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) { a.Name = "alicia" })

	rr := doGet(t, s, "/v1/accounts?prefix=ali")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(out), out)
	}
}

func TestGetAccountBalances(t *testing.T) {
	s, store := newTestServer(t)
	_, acct := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) { a.Name = "alice" })
	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAccountBalance, func(b *protocol.AccountBalance) {
		b.Owner = acct.ID
		b.AssetID = protocol.CoreAssetID
		b.Amount = 500
	})
	objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAccountBalance, func(b *protocol.AccountBalance) {
		b.Owner = protocol.NullAccountID
		b.AssetID = protocol.CoreAssetID
		b.Amount = 999
	})

	rr := doGet(t, s, "/v1/accounts/"+acct.ID.String()+"/balances")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out []protocol.AccountBalance
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Amount != 500 {
		t.Fatalf("expected exactly alice's 500-unit balance, got %+v", out)
	}
}

func TestGetFullAccountIncludesOwnedProposals(t *testing.T) {
	s, store := newTestServer(t)
	_, acct := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAccount, func(a *protocol.Account) {
		a.Name = "alice"
		a.StatisticsID = protocol.ObjectID{}
	})
	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeProposal, func(p *protocol.Proposal) {
		p.Proposer = acct.ID
		p.RequiredActive = map[protocol.ObjectID]struct{}{acct.ID: {}}
	})

	rr := doGet(t, s, "/v1/accounts/"+acct.ID.String()+"/full")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out fullAccount
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Proposals) != 1 {
		t.Fatalf("expected 1 proposal requiring alice's approval, got %d", len(out.Proposals))
	}
}

func TestGetFullAccountUnknownID(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doGet(t, s, "/v1/accounts/0.0.9999/full")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected object-not-found to map to 500, got %d", rr.Code)
	}
}

func TestGetObjectsReturnsNullForMissingID(t *testing.T) {
	s, store := newTestServer(t)
	_, asset := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAsset, func(a *protocol.Asset) { a.Symbol = "CORE" })

	rr := doGet(t, s, "/v1/objects?id="+asset.ID.String()+"&id=0.1.9999")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out []json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(out))
	}
	if string(out[1]) != "null" {
		t.Fatalf("expected second entry to be null, got %s", out[1])
	}
}

func TestGetOrderBookSplitsBidsAndAsks(t *testing.T) {
	s, store := newTestServer(t)
	base := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAsset, 1)
	quote := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAsset, 2)

	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeLimitOrder, func(o *protocol.LimitOrder) {
		o.ForSale = protocol.AssetAmount{AssetID: base, Amount: 100}
		o.SellPrice = protocol.Price{Base: protocol.AssetAmount{AssetID: quote, Amount: 200}, Quote: protocol.AssetAmount{AssetID: base, Amount: 100}}
	})
	objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeLimitOrder, func(o *protocol.LimitOrder) {
		o.ForSale = protocol.AssetAmount{AssetID: quote, Amount: 50}
		o.SellPrice = protocol.Price{Base: protocol.AssetAmount{AssetID: base, Amount: 25}, Quote: protocol.AssetAmount{AssetID: quote, Amount: 50}}
	})

	rr := doGet(t, s, "/v1/markets/"+base.String()+"/"+quote.String()+"/order_book")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var book orderBook
	if err := json.Unmarshal(rr.Body.Bytes(), &book); err != nil {
		t.Fatal(err)
	}
	if len(book.Asks) != 1 || len(book.Bids) != 1 {
		t.Fatalf("expected one ask and one bid, got asks=%d bids=%d", len(book.Asks), len(book.Bids))
	}
}

func TestGetBlockNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rr := doGet(t, s, "/v1/blocks/1")
	if rr.Code == http.StatusOK {
		t.Fatal("expected an error for an unarchived block")
	}
}

func TestGetBlockAfterPush(t *testing.T) {
	s, _ := newTestServer(t)
	var blockID protocol.Hash
	blockID[0] = 7
	if _, err := s.Pipeline.PushBlock(blockID, protocol.Block{Header: protocol.BlockHeader{Timestamp: 1000}}); err != nil {
		t.Fatalf("push block: %v", err)
	}

	rr := doGet(t, s, "/v1/blocks/1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doGet(t, s, "/v1/blocks/1/header")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 for header, got %d: %s", rr.Code, rr.Body.String())
	}
}
