package feed

import (
	"testing"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

func setupBitAsset(t *testing.T, store *objectdb.Store, minFeeds uint8, lifetime uint32) (protocol.ObjectID, protocol.ObjectID) {
	t.Helper()
	dynID, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAssetDynamicData, func(d *protocol.AssetDynamicData) {})
	badID, _ := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAssetBitAssetData, func(d *protocol.AssetBitAssetData) {
		d.MinimumFeeds = minFeeds
		d.FeedLifetimeSec = lifetime
		d.Feeds = map[protocol.ObjectID]protocol.FeedEntry{}
	})
	assetID, _ := objectdb.Create(store, protocol.SpaceProtocol, protocol.TypeAsset, func(a *protocol.Asset) {
		a.Symbol = "USDBIT"
		a.BitAssetID = badID
		a.DynamicDataID = dynID
	})
	return assetID, badID
}

func mkFeed(base, quote protocol.Amount) protocol.PriceFeed {
	return protocol.PriceFeed{
		SettlementPrice: protocol.Price{
			Base:  protocol.AssetAmount{AssetID: protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAsset, 1), Amount: base},
			Quote: protocol.AssetAmount{AssetID: protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAsset, 0), Amount: quote},
		},
		MaintenanceCollatRatio: 1750,
		MaximumShortSqueezeRat: 1100,
	}
}

func TestUpdateMedianFeedsPicksMiddleByValue(t *testing.T) {
	store := objectdb.New()
	assetID, badID := setupBitAsset(t, store, 1, 3600)
	agg := NewAggregator(store)

	pub1 := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAccount, 1)
	pub2 := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAccount, 2)
	pub3 := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAccount, 3)

	if err := agg.Publish(assetID, pub1, mkFeed(1, 8), 1000); err != nil {
		t.Fatal(err)
	}
	if err := agg.Publish(assetID, pub2, mkFeed(1, 10), 1000); err != nil {
		t.Fatal(err)
	}
	if err := agg.Publish(assetID, pub3, mkFeed(1, 12), 1000); err != nil {
		t.Fatal(err)
	}

	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if bad.CurrentFeed.SettlementPrice.Quote.Amount != 10 {
		t.Fatalf("expected median quote amount 10, got %d", bad.CurrentFeed.SettlementPrice.Quote.Amount)
	}
}

func TestUpdateMedianFeedsFreezesBelowMinimum(t *testing.T) {
	store := objectdb.New()
	assetID, badID := setupBitAsset(t, store, 3, 3600)
	agg := NewAggregator(store)

	pub1 := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAccount, 1)
	if err := agg.Publish(assetID, pub1, mkFeed(1, 10), 1000); err != nil {
		t.Fatal(err)
	}

	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if bad.CurrentFeed.SettlementPrice.Quote.Amount != 0 {
		t.Fatalf("expected frozen/cleared feed with only 1 of 3 publishers, got %+v", bad.CurrentFeed)
	}
}

func TestSweepExpirationsClearsStaleFeed(t *testing.T) {
	store := objectdb.New()
	assetID, badID := setupBitAsset(t, store, 1, 100)
	agg := NewAggregator(store)

	pub1 := protocol.NewObjectID(protocol.SpaceProtocol, protocol.TypeAccount, 1)
	if err := agg.Publish(assetID, pub1, mkFeed(1, 10), 1000); err != nil {
		t.Fatal(err)
	}

	if err := agg.SweepExpirations(1300); err != nil {
		t.Fatal(err)
	}

	bad, err := objectdb.Get[protocol.AssetBitAssetData](store, badID)
	if err != nil {
		t.Fatal(err)
	}
	if bad.CurrentFeed.SettlementPrice.Quote.Amount != 0 {
		t.Fatalf("expected feed cleared after expiration sweep, got %+v", bad.CurrentFeed)
	}
}
