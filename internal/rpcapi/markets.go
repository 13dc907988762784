package rpcapi

import (
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

func ordersInMarket(store *objectdb.Store, a, b protocol.ObjectID) []*protocol.LimitOrder {
	var out []*protocol.LimitOrder
	for _, o := range objectdb.All[protocol.LimitOrder](store, protocol.SpaceProtocol, protocol.TypeLimitOrder) {
		if (o.ForSale.AssetID == a && o.SellPrice.Quote.AssetID == b) ||
			(o.ForSale.AssetID == b && o.SellPrice.Quote.AssetID == a) {
			out = append(out, o)
		}
	}
	return out
}

// handleGetLimitOrders implements get_limit_orders(a,b,limit≤300): every
// resting order in the (a,b) market, best-priced first.
func (s *Server) handleGetLimitOrders(w http.ResponseWriter, r *http.Request) {
	a, err := parseObjectID(chi.URLParam(r, "base"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse base asset id"))
		return
	}
	b, err := parseObjectID(chi.URLParam(r, "quote"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse quote asset id"))
		return
	}
	limit := clampLimit(r, 100, 300)

	orders := ordersInMarket(s.Store, a, b)
	sort.Slice(orders, func(i, j int) bool { return orders[i].SellPrice.GreaterOrEqual(orders[j].SellPrice) })
	if len(orders) > limit {
		orders = orders[:limit]
	}
	writeJSON(w, orders)
}

// orderBook is get_order_book's response shape: two depth-capped sides of
// the (base, quote) market, each ordered best-price-first.
type orderBook struct {
	Asks []*protocol.LimitOrder `json:"asks"` // selling base for quote
	Bids []*protocol.LimitOrder `json:"bids"` // selling quote for base
}

// handleGetOrderBook implements get_order_book(base,quote,depth≤50).
func (s *Server) handleGetOrderBook(w http.ResponseWriter, r *http.Request) {
	base, err := parseObjectID(chi.URLParam(r, "base"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse base asset id"))
		return
	}
	quote, err := parseObjectID(chi.URLParam(r, "quote"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse quote asset id"))
		return
	}
	depth := clampLimit(r, 10, 50)

	var book orderBook
	for _, o := range ordersInMarket(s.Store, base, quote) {
		if o.ForSale.AssetID == base {
			book.Asks = append(book.Asks, o)
		} else {
			book.Bids = append(book.Bids, o)
		}
	}
	sort.Slice(book.Asks, func(i, j int) bool { return book.Asks[i].SellPrice.LessThan(book.Asks[j].SellPrice) })
	sort.Slice(book.Bids, func(i, j int) bool { return book.Bids[i].SellPrice.LessThan(book.Bids[j].SellPrice) })
	if len(book.Asks) > depth {
		book.Asks = book.Asks[:depth]
	}
	if len(book.Bids) > depth {
		book.Bids = book.Bids[:depth]
	}
	writeJSON(w, book)
}

// handleGetCallOrders implements get_call_orders(asset).
func (s *Server) handleGetCallOrders(w http.ResponseWriter, r *http.Request) {
	asset, err := parseObjectID(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse asset id"))
		return
	}
	var out []*protocol.CallOrder
	for _, c := range objectdb.All[protocol.CallOrder](s.Store, protocol.SpaceProtocol, protocol.TypeCallOrder) {
		if c.Debt.AssetID == asset {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CallPrice.LessThan(out[j].CallPrice) })
	writeJSON(w, out)
}

// handleGetSettleOrders implements get_settle_orders(asset).
func (s *Server) handleGetSettleOrders(w http.ResponseWriter, r *http.Request) {
	asset, err := parseObjectID(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse asset id"))
		return
	}
	var out []*protocol.ForceSettlement
	for _, fs := range objectdb.All[protocol.ForceSettlement](s.Store, protocol.SpaceProtocol, protocol.TypeForceSettlement) {
		if fs.Balance.AssetID == asset {
			out = append(out, fs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SettlementAt < out[j].SettlementAt })
	writeJSON(w, out)
}

// handleGetCollateralBids implements get_collateral_bids(asset,limit≤250,skip),
// ordered by collateralization ratio ascending (closest to covering first),
// matching Graphene's least-collateralized-first execution order (spec.md §4.3.7).
func (s *Server) handleGetCollateralBids(w http.ResponseWriter, r *http.Request) {
	asset, err := parseObjectID(chi.URLParam(r, "asset"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse asset id"))
		return
	}
	limit := clampLimit(r, 100, 250)
	skip := int(queryInt(r, "skip", 0))

	var out []*protocol.CollateralBid
	for _, cb := range objectdb.All[protocol.CollateralBid](s.Store, protocol.SpaceProtocol, protocol.TypeCollateralBid) {
		if cb.DebtCovered.AssetID == asset {
			out = append(out, cb)
		}
	}
	ratio := func(cb *protocol.CollateralBid) protocol.Price {
		return protocol.Price{Base: cb.CollateralOffered, Quote: cb.DebtCovered}
	}
	sort.Slice(out, func(i, j int) bool { return ratio(out[i]).LessThan(ratio(out[j])) })
	if skip < 0 {
		skip = 0
	}
	if skip >= len(out) {
		out = nil
	} else {
		out = out[skip:]
	}
	if len(out) > limit {
		out = out[:limit]
	}
	writeJSON(w, out)
}

// handleGetMarginPositions implements get_margin_positions(account): every
// call order owned by the account, across all debt assets.
func (s *Server) handleGetMarginPositions(w http.ResponseWriter, r *http.Request) {
	id, err := parseObjectID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, errs.Wrap(errs.KindStructural, err, "parse account id"))
		return
	}
	var out []*protocol.CallOrder
	for _, c := range objectdb.All[protocol.CallOrder](s.Store, protocol.SpaceProtocol, protocol.TypeCallOrder) {
		if c.Borrower == id {
			out = append(out, c)
		}
	}
	writeJSON(w, out)
}
