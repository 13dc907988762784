package walletsvc

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/crypto"

	"dexchaind/internal/protocol"
)

// hardenedOffset marks a derivation index as hardened, the only kind this
// wallet supports — SLIP-10-style hardened-only derivation, same as the
// teacher's ed25519 wallet (which has no other option); kept here too since
// retrying a failed secp256k1 scalar by re-deriving is simplest against a
// hardened, non-reversible child key.
const hardenedOffset uint32 = 0x80000000

// maxDerivationRetries bounds the "re-hash until the scalar is valid mod
// the curve order" loop below; a valid secp256k1 scalar is astronomically
// likely within the first attempt, so this is a defensive ceiling only.
const maxDerivationRetries = 16

// derivePrivate returns the HMAC-SHA512 child key material for a hardened
// index, mirroring the teacher's derivePrivate in core/wallet.go.
func derivePrivate(parentKey, parentChain []byte, index uint32) (key, ccode []byte) {
	data := make([]byte, 1+32+4)
	copy(data[1:33], parentKey)
	binary.BigEndian.PutUint32(data[33:], index)
	i := hmacSHA512(parentChain, data)
	return i[:32], i[32:]
}

// PrivateKey derives the raw secp256k1 scalar and compressed public key for
// path m / account' / index'. Unlike ed25519 (any 32-byte seed is valid),
// a secp256k1 private key must be a nonzero scalar less than the curve
// order; derivePrivate's output is re-hashed with an incrementing attempt
// counter folded into the child index until crypto.ToECDSA accepts it.
func (w *HDWallet) PrivateKey(account, index uint32) ([]byte, protocol.PublicKey, error) {
	account |= hardenedOffset
	index |= hardenedOffset

	k1, c1 := derivePrivate(w.masterKey, w.masterChain, account)

	for attempt := uint32(0); attempt < maxDerivationRetries; attempt++ {
		k2, _ := derivePrivate(k1, c1, index+attempt)
		ecdsaKey, err := crypto.ToECDSA(k2)
		if err != nil {
			continue
		}
		var pub protocol.PublicKey
		copy(pub[:], crypto.CompressPubkey(&ecdsaKey.PublicKey))
		return k2, pub, nil
	}
	return nil, protocol.PublicKey{}, errors.New("walletsvc: no valid secp256k1 scalar found within retry budget")
}

// NewAddress derives account+index and returns its protocol.Address.
func (w *HDWallet) NewAddress(account, index uint32) (protocol.Address, error) {
	_, pub, err := w.PrivateKey(account, index)
	if err != nil {
		return protocol.Address{}, err
	}
	return protocol.AddressFromPublicKey(pub), nil
}
