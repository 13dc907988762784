package rpcapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

// handleLookupAccounts implements lookup_accounts(prefix, limit≤1000):
// returns (name, id) pairs sorted lexicographically, matching Graphene's
// index-prefix-scan semantics without requiring a dedicated name index
// (spec.md §6.3's cap keeps the linear scan here bounded in practice).
func (s *Server) handleLookupAccounts(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	limit := clampLimit(r, 100, 1000)

	accounts := objectdb.All[protocol.Account](s.Store, protocol.SpaceProtocol, protocol.TypeAccount)
	type pair struct {
		Name string         `json:"name"`
		ID   protocol.ObjectID `json:"id"`
	}
	out := make([]pair, 0, len(accounts))
	for _, a := range accounts {
		if strings.HasPrefix(a.Name, prefix) {
			out = append(out, pair{Name: a.Name, ID: a.ID})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	if len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, out)
}

// handleGetAccountBalances implements get_account_balances(account).
func (s *Server) handleGetAccountBalances(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse account id"))
		return
	}
	writeJSON(w, balancesOf(s.Store, id))
}

func balancesOf(store *objectdb.Store, owner protocol.ObjectID) []*protocol.AccountBalance {
	var out []*protocol.AccountBalance
	for _, b := range objectdb.All[protocol.AccountBalance](store, protocol.SpaceImplementation, protocol.TypeAccountBalance) {
		if b.Owner == owner {
			out = append(out, b)
		}
	}
	return out
}

// fullAccount is the aggregate response for get_full_accounts: the account
// object plus everything a client typically needs in one round trip
// (spec.md §6.3).
type fullAccount struct {
	Account    *protocol.Account           `json:"account"`
	Statistics *protocol.AccountStatistics `json:"statistics,omitempty"`
	Balances   []*protocol.AccountBalance  `json:"balances"`
	Proposals  []*protocol.Proposal        `json:"proposals"`
}

// maxProposalsPerAccount caps get_full_accounts' embedded proposal list per
// spec.md §6.3 ("≤500 proposals per account before paging").
const maxProposalsPerAccount = 500

// handleGetFullAccount implements one entry of get_full_accounts (the
// caller fans out over up to 50 ids per spec.md §6.3; this handler serves
// one id per call, which a thin client-side batcher can parallelize).
func (s *Server) handleGetFullAccount(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse account id"))
		return
	}
	acct, err := objectdb.Get[protocol.Account](s.Store, id)
	if err != nil {
		writeError(w, err)
		return
	}

	fa := fullAccount{Account: acct, Balances: balancesOf(s.Store, id)}
	if stats, ok := objectdb.Find[protocol.AccountStatistics](s.Store, acct.StatisticsID); ok {
		fa.Statistics = stats
	}
	for _, p := range objectdb.All[protocol.Proposal](s.Store, protocol.SpaceProtocol, protocol.TypeProposal) {
		if len(fa.Proposals) >= maxProposalsPerAccount {
			break
		}
		if _, required := p.RequiredOwner[id]; required {
			fa.Proposals = append(fa.Proposals, p)
			continue
		}
		if _, required := p.RequiredActive[id]; required {
			fa.Proposals = append(fa.Proposals, p)
		}
	}
	writeJSON(w, fa)
}

// handleGetAccountHistory implements get_account_history(account, stop,
// limit≤100, start): stop/start are TrxID strings bounding the returned
// window (empty = unbounded), newest-first, matching Graphene's paging
// convention over an append-only per-account operation log.
func (s *Server) handleGetAccountHistory(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse account id"))
		return
	}
	limit := clampLimit(r, 100, 100)
	start := r.URL.Query().Get("start")
	stop := r.URL.Query().Get("stop")
	writeJSON(w, s.history.window(id, start, stop, limit))
}
