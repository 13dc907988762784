package protocol

// AssetPermission bits gate which AssetFlag values may ever be set on an
// asset (spec.md §3.2 invariant: flags ⊆ issuer_permissions).
type AssetPermission uint16

const (
	PermWhiteList AssetPermission = 1 << iota
	PermTransferRestricted
	PermDisableForceSettle
	PermGlobalSettle
	PermOverrideAuthority
	PermDisableConfidential
	PermWitnessFedAsset
	PermCommitteeFedAsset
)

// AssetFlag mirrors AssetPermission bit-for-bit but represents the
// currently-active subset.
type AssetFlag = AssetPermission

// AssetOptions holds the mutable/issuable parameters of an asset (spec.md
// §3.2).
type AssetOptions struct {
	MaxSupply          Amount // ≤ 2^63-1
	MarketFeePercent   uint16 // 1/100 %
	MaxMarketFee       Amount
	IssuerPermissions  AssetPermission
	Flags              AssetFlag
	CoreExchangeRate   Price
	WhitelistAuth      map[ObjectID]struct{}
	BlacklistAuth      map[ObjectID]struct{}
	WhitelistMarkets   map[ObjectID]struct{}
	BlacklistMarkets   map[ObjectID]struct{}
	Description        string
}

// Asset is a protocol-space object: a tradable token issued by an account
// (spec.md §3.2).
type Asset struct {
	ID            ObjectID
	Symbol        string
	Precision     uint8
	Issuer        ObjectID
	Options       AssetOptions
	BitAssetID    ObjectID // null if this is a plain UIA
	DynamicDataID ObjectID
}

// IsBitAsset reports whether the asset is market-issued (backed by
// collateral, fed by price producers).
func (a Asset) IsBitAsset() bool { return !a.BitAssetID.IsNull() }

// IsValidSymbol checks the 3-16 char, uppercase + at most one '.' rule from
// spec.md §3.2.
func IsValidSymbol(sym string) bool {
	if len(sym) < 3 || len(sym) > 16 {
		return false
	}
	dots := 0
	for i := 0; i < len(sym); i++ {
		c := sym[i]
		switch {
		case c >= 'A' && c <= 'Z':
		case c == '.':
			dots++
		default:
			return false
		}
	}
	return dots <= 1
}

// AssetDynamicData is an implementation object tracking current supply and
// fee accumulation (spec.md §3.3).
type AssetDynamicData struct {
	ID              ObjectID
	CurrentSupply   Amount
	AccumulatedFees Amount
	FeePool         Amount // core-asset-denominated
}

// PriceFeed is one producer's reported market state for a bitasset (spec.md
// §4.4).
type PriceFeed struct {
	SettlementPrice         Price
	MaintenanceCollatRatio  uint16 // MCR, ≥ 1001
	MaximumShortSqueezeRat  uint16 // MSSR, ≥ 1000
	CoreExchangeRate        Price
}

// AssetBitAssetData is an implementation object holding feed aggregation
// and global-settlement state for a bitasset (spec.md §3.3).
type AssetBitAssetData struct {
	ID                       ObjectID
	AssetID                  ObjectID
	BackingAssetID           ObjectID
	Feeds                    map[ObjectID]FeedEntry
	CurrentFeed              PriceFeed
	CurrentFeedPublicationAt int64
	FeedLifetimeSec          uint32
	MinimumFeeds             uint8
	ForceSettlementDelaySec  uint32
	ForceSettlementOffsetBp  uint16
	MaxForceSettlementVolBp  uint16
	ForceSettledVolThisRound Amount
	SettlementPrice          Price // non-zero Quote.Amount ⇒ globally settled
	SettlementFund           Amount
	IsPredictionMarket       bool
}

// HasSettlement reports whether the bitasset has undergone global
// settlement (spec.md §4.3.5 step 3).
func (d AssetBitAssetData) HasSettlement() bool {
	return d.SettlementPrice.Quote.Amount != 0
}

// FeedEntry is one producer's timestamped feed submission.
type FeedEntry struct {
	At   int64
	Feed PriceFeed
}
