package protocol

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // matches teacher's address-derivation scheme
)

// PublicKey is a compressed secp256k1 public key, matching Graphene's key
// encoding and the curve go-ethereum/crypto already operates on.
type PublicKey [33]byte

// MarshalText renders pub as a hex string, so that PublicKey can key a JSON
// map (encoding/json requires map keys to either be strings or implement
// encoding.TextMarshaler) — used by Authority's KeyAuths/Keys/UsedKeys and
// Proposal's AvailableKeys maps.
func (pub PublicKey) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(pub[:])), nil
}

// UnmarshalText parses the hex form MarshalText produces.
func (pub *PublicKey) UnmarshalText(b []byte) error {
	decoded, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(decoded) != len(pub) {
		return hex.ErrLength
	}
	copy(pub[:], decoded)
	return nil
}

// Address is a 20-byte account address derived from a public key via
// SHA-256 then RIPEMD-160, the same two-hash scheme the teacher's wallet
// uses for its own (ed25519-keyed) addresses in core/wallet.go — carried
// over here against secp256k1 keys instead.
type Address [20]byte

// Signature is a 65-byte recoverable ECDSA signature (r || s || v).
type Signature [65]byte

// MarshalText renders addr as a hex string, so that Address can key a JSON
// map (encoding/json requires map keys to either be strings or implement
// encoding.TextMarshaler) — used by Authority's AddressAuths/Addresses/
// UsedAddresses maps.
func (addr Address) MarshalText() ([]byte, error) {
	return []byte(hex.EncodeToString(addr[:])), nil
}

// UnmarshalText parses the hex form MarshalText produces.
func (addr *Address) UnmarshalText(b []byte) error {
	decoded, err := hex.DecodeString(string(b))
	if err != nil {
		return err
	}
	if len(decoded) != len(addr) {
		return hex.ErrLength
	}
	copy(addr[:], decoded)
	return nil
}

// AddressFromPublicKey derives the canonical Address for pub.
func AddressFromPublicKey(pub PublicKey) Address {
	sha := sha256.Sum256(pub[:])
	h := ripemd160.New()
	h.Write(sha[:])
	var out Address
	copy(out[:], h.Sum(nil))
	return out
}

// RecoverSigner recovers the public key that produced sig over digest, and
// its derived Address. An invalid signature or unrecoverable key returns an
// error; callers treat that as an authorization failure (§7).
func RecoverSigner(digest [32]byte, sig Signature) (PublicKey, Address, error) {
	pub, err := crypto.SigToPub(digest[:], sig[:])
	if err != nil {
		return PublicKey{}, Address{}, err
	}
	var out PublicKey
	copy(out[:], crypto.CompressPubkey(pub))
	return out, AddressFromPublicKey(out), nil
}

// PublicKeyFromPrivate derives the compressed public key for priv (32-byte
// secp256k1 scalar, big-endian).
func PublicKeyFromPrivate(priv []byte) (PublicKey, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return PublicKey{}, err
	}
	var out PublicKey
	copy(out[:], crypto.CompressPubkey(&key.PublicKey))
	return out, nil
}

// Sign produces a recoverable signature over digest using priv (32-byte
// secp256k1 scalar, big-endian).
func Sign(digest [32]byte, priv []byte) (Signature, error) {
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest[:], key)
	if err != nil {
		return Signature{}, err
	}
	var out Signature
	copy(out[:], sig)
	return out, nil
}
