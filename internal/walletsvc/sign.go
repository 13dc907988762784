package walletsvc

import (
	"dexchaind/internal/protocol"
	"dexchaind/internal/txprocessor"
)

// SignTransaction derives the (account, index) key and appends a recoverable
// signature over trx's canonical digest, mirroring the teacher's
// HDWallet.SignTx shape (derive → hash → sign → attach) but against
// internal/protocol's secp256k1 recoverable signatures and
// internal/txprocessor's own transaction-id digest, so a signature
// produced here verifies under exactly the same hash the chain recomputes
// at apply time.
func (w *HDWallet) SignTransaction(trx *protocol.Transaction, account, index uint32) error {
	priv, _, err := w.PrivateKey(account, index)
	if err != nil {
		return err
	}
	digest, err := txprocessor.ComputeTrxID(*trx)
	if err != nil {
		return err
	}
	sig, err := protocol.Sign(digest, priv)
	if err != nil {
		return err
	}
	trx.Signatures = append(trx.Signatures, sig)
	return nil
}
