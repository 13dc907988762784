// Package rpcapi wires the read-only RPC surface of spec.md §6.3: a
// github.com/go-chi/chi/v5 router serving the enumerated get_* calls as
// JSON, plus a gorilla/websocket subscription channel for
// changed_objects/market-fill notifications. Every handler reads committed
// state only through internal/objectdb, internal/chain, and internal/market
// — it never constructs a transaction or touches the writer path, matching
// the teacher's cmd/explorer split between the ledger writer and its small
// read-only HTTP server in cmd/explorer/server.go, generalized from gorilla/mux
// to chi and widened to the full read surface this node needs.
package rpcapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"dexchaind/internal/chain"
	"dexchaind/internal/feed"
	"dexchaind/internal/forkdb"
	"dexchaind/internal/market"
	"dexchaind/internal/objectdb"
	"dexchaind/internal/proposal"
	"dexchaind/pkg/logging"
)

// Server exposes committed chain state over HTTP/JSON and WebSocket. Its
// Market/Feeds/Proposals/ForkDB fields alias the pipeline's own instances
// rather than standing up duplicate engines over the same store.
type Server struct {
	Store     *objectdb.Store
	ForkDB    *forkdb.ForkDB
	Pipeline  *chain.Pipeline
	Market    *market.Engine
	Feeds     *feed.Aggregator
	Proposals *proposal.Engine

	router  chi.Router
	httpSrv *http.Server
	hub     *subscriptionHub
	history *historyRecorder
}

// New constructs the router, subscription hub, and account-history recorder,
// subscribing the latter two to p's applied_block dispatch.
func New(addr string, p *chain.Pipeline) *Server {
	s := &Server{
		Store:     p.Store,
		ForkDB:    p.ForkDB,
		Pipeline:  p,
		Market:    p.Market,
		Feeds:     p.Feeds,
		Proposals: p.Proposals,
		hub:       newSubscriptionHub(),
		history:   newHistoryRecorder(),
	}
	p.Subscribe(s.hub.onAppliedBlock)
	p.Subscribe(s.history.onAppliedBlock)

	s.router = chi.NewRouter()
	s.router.Use(middleware.RequestID)
	s.router.Use(loggingMiddleware)
	s.routes()
	s.httpSrv = &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logging.Component("rpcapi").WithField("path", r.URL.Path).Debug("handling request")
		next.ServeHTTP(w, r)
	})
}

// Start begins serving, blocking until the server stops or errors.
func (s *Server) Start() error { return s.httpSrv.ListenAndServe() }

// Shutdown gracefully stops the HTTP server and subscription hub.
func (s *Server) Shutdown() error {
	s.hub.closeAll()
	return s.httpSrv.Close()
}

func (s *Server) routes() {
	s.router.Get("/v1/objects", s.handleGetObjects)
	s.router.Get("/v1/blocks/{num}", s.handleGetBlock)
	s.router.Get("/v1/blocks/{num}/header", s.handleGetBlockHeader)
	s.router.Get("/v1/blocks/{num}/transactions/{idx}", s.handleGetTransaction)

	s.router.Get("/v1/accounts", s.handleLookupAccounts)
	s.router.Get("/v1/accounts/{id}/balances", s.handleGetAccountBalances)
	s.router.Get("/v1/accounts/{id}/full", s.handleGetFullAccount)
	s.router.Get("/v1/accounts/{id}/history", s.handleGetAccountHistory)

	s.router.Get("/v1/markets/{base}/{quote}/limit_orders", s.handleGetLimitOrders)
	s.router.Get("/v1/markets/{base}/{quote}/order_book", s.handleGetOrderBook)
	s.router.Get("/v1/assets/{asset}/call_orders", s.handleGetCallOrders)
	s.router.Get("/v1/assets/{asset}/settle_orders", s.handleGetSettleOrders)
	s.router.Get("/v1/assets/{asset}/collateral_bids", s.handleGetCollateralBids)
	s.router.Get("/v1/accounts/{id}/margin_positions", s.handleGetMarginPositions)

	s.router.Get("/v1/subscribe", s.handleSubscribe)
}
