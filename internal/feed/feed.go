// Package feed implements C8 of SPEC_FULL.md: per-bitasset price feed
// aggregation. Each publish recomputes a field-wise median across
// non-expired feeds and freezes settlement when too few remain, per
// spec.md §4.4. Grounded on the teacher's "recompute derived state after
// every mutating op" convention (core/amm.go recomputes pool price after
// every Swap); the median arithmetic itself is new, since the teacher has
// no multi-producer feed concept.
package feed

import (
	"sort"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/logging"
)

// Aggregator recomputes median feeds against a single object store.
type Aggregator struct {
	store *objectdb.Store
}

// NewAggregator returns a feed aggregator bound to store.
func NewAggregator(store *objectdb.Store) *Aggregator {
	return &Aggregator{store: store}
}

// feedExpired reports whether a feed published at `at` is stale at `now`
// given `lifetime`. DESIGN.md Open Question 1: the source's
// `feed_is_expired` name suggests the opposite polarity of what it
// actually needs to mean here; this implementation uses the natural
// reading — a feed IS expired once its age reaches the lifetime.
func feedExpired(at, now int64, lifetimeSec uint32) bool {
	if lifetimeSec == 0 {
		return false
	}
	age := now - at
	return age >= int64(lifetimeSec)
}

// Publish records publisher's feed submission for assetID and immediately
// recomputes the median (spec.md §4.4).
func (a *Aggregator) Publish(assetID, publisher protocol.ObjectID, f protocol.PriceFeed, now int64) error {
	asset, err := objectdb.Get[protocol.Asset](a.store, assetID)
	if err != nil {
		return err
	}
	bad, err := objectdb.Get[protocol.AssetBitAssetData](a.store, asset.BitAssetID)
	if err != nil {
		return err
	}
	if err := objectdb.Modify(a.store, bad.ID, func(d *protocol.AssetBitAssetData) {
		if d.Feeds == nil {
			d.Feeds = map[protocol.ObjectID]protocol.FeedEntry{}
		}
		d.Feeds[publisher] = protocol.FeedEntry{At: now, Feed: f}
	}); err != nil {
		return err
	}
	return a.UpdateMedianFeeds(asset.BitAssetID, now)
}

// UpdateMedianFeeds discards expired entries, then either clears the
// current feed, which freezes settlement (fewer than MinimumFeeds remain),
// or recomputes the
// field-wise median with ties broken toward the lower publisher id
// (spec.md §4.4).
func (a *Aggregator) UpdateMedianFeeds(bitAssetDataID protocol.ObjectID, now int64) error {
	bad, err := objectdb.Get[protocol.AssetBitAssetData](a.store, bitAssetDataID)
	if err != nil {
		return err
	}

	type pub struct {
		id    protocol.ObjectID
		entry protocol.FeedEntry
	}
	var live []pub
	for id, e := range bad.Feeds {
		if feedExpired(e.At, now, bad.FeedLifetimeSec) {
			continue
		}
		live = append(live, pub{id, e})
	}

	if len(live) < int(bad.MinimumFeeds) {
		logging.Component("feed").WithField("asset", bad.AssetID.String()).
			Warn("too few live feeds, clearing current feed")
		return objectdb.Modify(a.store, bad.ID, func(d *protocol.AssetBitAssetData) {
			d.CurrentFeed = protocol.PriceFeed{}
			d.CurrentFeedPublicationAt = 0
		})
	}

	sort.Slice(live, func(i, j int) bool { return idLess(live[i].id, live[j].id) })

	settlementPrices := make([]protocol.Price, len(live))
	cers := make([]protocol.Price, len(live))
	mcrs := make([]uint16, len(live))
	mssrs := make([]uint16, len(live))
	times := make([]int64, len(live))
	for i, p := range live {
		settlementPrices[i] = p.entry.Feed.SettlementPrice
		cers[i] = p.entry.Feed.CoreExchangeRate
		mcrs[i] = p.entry.Feed.MaintenanceCollatRatio
		mssrs[i] = p.entry.Feed.MaximumShortSqueezeRat
		times[i] = p.entry.At
	}

	median := protocol.PriceFeed{
		SettlementPrice:        medianPrice(settlementPrices),
		CoreExchangeRate:       medianPrice(cers),
		MaintenanceCollatRatio: medianU16(mcrs),
		MaximumShortSqueezeRat: medianU16(mssrs),
	}
	medianTime := medianI64(times)

	return objectdb.Modify(a.store, bad.ID, func(d *protocol.AssetBitAssetData) {
		d.CurrentFeed = median
		d.CurrentFeedPublicationAt = medianTime
	})
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

// medianPrice picks the middle element of prices ranked by GreaterOrEqual,
// a stable sort so ties resolve toward whichever entry sorted first above
// (the lower publisher id, since callers pre-sort `live` that way).
func medianPrice(prices []protocol.Price) protocol.Price {
	if len(prices) == 0 {
		return protocol.Price{}
	}
	cp := append([]protocol.Price(nil), prices...)
	sort.SliceStable(cp, func(i, j int) bool { return !cp[i].GreaterOrEqual(cp[j]) })
	return cp[len(cp)/2]
}

func medianU16(vals []uint16) uint16 {
	if len(vals) == 0 {
		return 0
	}
	cp := append([]uint16(nil), vals...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return cp[len(cp)/2]
}

func medianI64(vals []int64) int64 {
	if len(vals) == 0 {
		return 0
	}
	cp := append([]int64(nil), vals...)
	sort.Slice(cp, func(i, j int) bool { return cp[i] < cp[j] })
	return cp[len(cp)/2]
}

// SweepExpirations is invoked once per block tail (spec.md §4.4): any
// bitasset whose oldest live feed has aged out re-runs UpdateMedianFeeds.
func (a *Aggregator) SweepExpirations(now int64) error {
	all := objectdb.All[protocol.AssetBitAssetData](a.store, protocol.SpaceImplementation, protocol.TypeAssetBitAssetData)
	for _, bad := range all {
		oldest := int64(1<<63 - 1)
		found := false
		for _, e := range bad.Feeds {
			if e.At < oldest {
				oldest = e.At
				found = true
			}
		}
		if !found {
			continue
		}
		if feedExpired(oldest, now, bad.FeedLifetimeSec) {
			if err := a.UpdateMedianFeeds(bad.ID, now); err != nil {
				return err
			}
		}
	}
	return nil
}
