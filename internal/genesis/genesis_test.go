package genesis

import (
	"testing"

	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
)

func TestBootstrapCoreAssetIsInstanceZero(t *testing.T) {
	store := Bootstrap(Params{})

	asset, err := objectdb.Get[protocol.Asset](store, protocol.CoreAssetID)
	if err != nil {
		t.Fatalf("expected core asset at instance 0: %v", err)
	}
	if asset.Symbol != "CORE" {
		t.Fatalf("expected symbol CORE, got %q", asset.Symbol)
	}
}

func TestBootstrapSentinelAccounts(t *testing.T) {
	store := Bootstrap(Params{})

	for _, id := range []protocol.ObjectID{
		protocol.NullAccountID,
		protocol.WitnessAccountID,
		protocol.CommitteeAccountID,
		protocol.TempAccountID,
	} {
		acct, err := objectdb.Get[protocol.Account](store, id)
		if err != nil {
			t.Fatalf("expected sentinel account %v: %v", id, err)
		}
		if id == protocol.TempAccountID && acct.Owner.Threshold != 0 {
			t.Fatalf("TEMP account must have threshold 0, got %d", acct.Owner.Threshold)
		}
	}
}

func TestBootstrapBlockSummaryRing(t *testing.T) {
	store := Bootstrap(Params{})

	for _, instance := range []uint64{0, 0xFFFF} {
		id := protocol.NewObjectID(protocol.SpaceImplementation, protocol.TypeBlockSummary, instance)
		if _, err := objectdb.Get[protocol.BlockSummary](store, id); err != nil {
			t.Fatalf("expected block summary ring slot %d: %v", instance, err)
		}
	}
}

func TestBootstrapGlobalPropertiesDefaults(t *testing.T) {
	store := Bootstrap(Params{})

	all := objectdb.All[protocol.GlobalProperties](store, protocol.SpaceImplementation, protocol.TypeGlobalProperties)
	if len(all) != 1 {
		t.Fatalf("expected exactly one GlobalProperties, got %d", len(all))
	}
	if all[0].MinWitnessCount != 11 {
		t.Fatalf("expected default MinWitnessCount 11, got %d", all[0].MinWitnessCount)
	}
}
