package evaluator

import (
	"dexchaind/internal/objectdb"
	"dexchaind/internal/protocol"
	"dexchaind/pkg/errs"
)

// findBalance returns the (owner, assetID) balance record, if any.
func findBalance(store *objectdb.Store, owner, assetID protocol.ObjectID) (*protocol.AccountBalance, bool) {
	all := objectdb.All[protocol.AccountBalance](store, protocol.SpaceImplementation, protocol.TypeAccountBalance)
	for _, b := range all {
		if b.Owner == owner && b.AssetID == assetID {
			return b, true
		}
	}
	return nil, false
}

func findOrCreateBalance(store *objectdb.Store, owner, assetID protocol.ObjectID) *protocol.AccountBalance {
	if b, ok := findBalance(store, owner, assetID); ok {
		return b
	}
	_, b := objectdb.Create(store, protocol.SpaceImplementation, protocol.TypeAccountBalance, func(b *protocol.AccountBalance) {
		b.Owner, b.AssetID = owner, assetID
	})
	return b
}

func creditBalance(store *objectdb.Store, owner, assetID protocol.ObjectID, amt protocol.Amount) error {
	bal := findOrCreateBalance(store, owner, assetID)
	return objectdb.Modify(store, bal.ID, func(b *protocol.AccountBalance) { b.Amount += amt })
}

func debitBalance(store *objectdb.Store, owner, assetID protocol.ObjectID, amt protocol.Amount) error {
	bal := findOrCreateBalance(store, owner, assetID)
	if bal.Amount < amt {
		return errs.New(errs.KindBusinessRule, "insufficient balance")
	}
	return objectdb.Modify(store, bal.ID, func(b *protocol.AccountBalance) { b.Amount -= amt })
}

// isAuthorizedForAsset implements spec.md S5: if asset is flagged
// white_list, accountID must be whitelisted by every authority in
// WhitelistAuth (when that set is non-empty) and blacklisted by none in
// BlacklistAuth.
func isAuthorizedForAsset(store *objectdb.Store, asset *protocol.Asset, accountID protocol.ObjectID) error {
	if asset.Options.Flags&protocol.PermWhiteList == 0 {
		return nil
	}
	acct, err := objectdb.Get[protocol.Account](store, accountID)
	if err != nil {
		return err
	}
	if len(asset.Options.WhitelistAuth) > 0 {
		for auth := range asset.Options.WhitelistAuth {
			if _, ok := acct.Whitelisters[auth]; !ok {
				return errs.New(errs.KindAuthorization, "transfer to non-whitelisted account")
			}
		}
	}
	for auth := range asset.Options.BlacklistAuth {
		if _, ok := acct.Blacklisters[auth]; ok {
			return errs.New(errs.KindAuthorization, "transfer to blacklisted account")
		}
	}
	return nil
}
