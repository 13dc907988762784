// Package walletsvc provides the signing primitive cmd/dexchaind needs to
// construct and sign its own transactions (witness self-votes, genesis
// account setup, maintenance-driven operations) — not the out-of-scope
// standalone CLI wallet, just its key-derivation and signing core.
// Generalized from the teacher's core/wallet.go (BIP-39 mnemonic + SLIP-10
// hardened HD derivation) from ed25519 keys to the secp256k1 keys
// internal/protocol signs and recovers against.
package walletsvc

import (
	"crypto/hmac"
	"crypto/sha512"
	"errors"

	"github.com/sirupsen/logrus"
	bip39 "github.com/tyler-smith/go-bip39"

	"dexchaind/pkg/logging"
)

const masterHMACKey = "dexchaind seed"

// HDWallet keeps master key material in memory only; callers holding a
// mnemonic or seed are responsible for wiping it via Wipe once no longer
// needed.
type HDWallet struct {
	seed        []byte
	masterKey   []byte
	masterChain []byte
	log         *logrus.Entry
}

// Seed returns a copy of the wallet's master seed.
func (w *HDWallet) Seed() []byte {
	out := make([]byte, len(w.seed))
	copy(out, w.seed)
	return out
}

// NewRandomWallet generates entropyBits (128 or 256) of randomness and
// returns a fresh wallet plus its recovery mnemonic.
func NewRandomWallet(entropyBits int) (*HDWallet, string, error) {
	if entropyBits != 128 && entropyBits != 256 {
		return nil, "", errors.New("walletsvc: unsupported entropy size, want 128 or 256")
	}
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return nil, "", err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", err
	}
	seed := bip39.NewSeed(mnemonic, "")
	w, err := newHDWalletFromSeed(seed)
	if err != nil {
		return nil, "", err
	}
	return w, mnemonic, nil
}

// WalletFromMnemonic imports an existing BIP-39 phrase.
func WalletFromMnemonic(mnemonic, passphrase string) (*HDWallet, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("walletsvc: invalid mnemonic checksum")
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return newHDWalletFromSeed(seed)
}

func newHDWalletFromSeed(seed []byte) (*HDWallet, error) {
	if len(seed) < 16 {
		return nil, errors.New("walletsvc: seed too short")
	}
	i := hmacSHA512([]byte(masterHMACKey), seed)
	w := &HDWallet{
		seed:        seed,
		masterKey:   i[:32],
		masterChain: i[32:],
		log:         logging.Component("walletsvc"),
	}
	w.log.Debug("master key initialized")
	return w, nil
}

func hmacSHA512(key, data []byte) []byte {
	h := hmac.New(sha512.New, key)
	h.Write(data)
	return h.Sum(nil)
}

// Wipe zeroes b in place (best-effort; the GC may still retain copies).
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
