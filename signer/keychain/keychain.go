// Package keychain adapts the device's BIP-32 master key to the signer's
// derivation interface. The seed never leaves this package; the signer only
// ever sees per-path derived keys.
package keychain

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/bkledger/hwsigner/bitcoin"
	"github.com/bkledger/hwsigner/signer"
)

// CurveSecp256k1 is the only curve the derivation stack supports.
const CurveSecp256k1 = "secp256k1"

// ExtendedKeychain derives signing keys from a master extended key loaded
// from the device seed.
type ExtendedKeychain struct {
	master bitcoin.ExtendedKey
	net    bitcoin.Network
}

// FromSeed loads the BIP-32 master key from a seed.
func FromSeed(seed []byte, net bitcoin.Network) (*ExtendedKeychain, error) {
	master, err := bitcoin.LoadMasterExtendedKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "load master key")
	}
	return &ExtendedKeychain{master: master, net: net}, nil
}

// NewExtendedKeychain wraps an already-loaded master extended key.
func NewExtendedKeychain(master bitcoin.ExtendedKey, net bitcoin.Network) *ExtendedKeychain {
	return &ExtendedKeychain{master: master, net: net}
}

// Derive walks the full BIP-32 path from the master key and returns the key
// at its end. Hardened levels are encoded in the path values themselves.
func (k *ExtendedKeychain) Derive(path []uint32, curveName string) (signer.PrivateKey, error) {
	if curveName != "" && curveName != CurveSecp256k1 {
		return nil, errors.Errorf("unsupported curve %q", curveName)
	}

	child, err := k.master.ChildKeyForPath(path)
	if err != nil {
		return nil, errors.Wrap(err, "derive path")
	}
	return &derivedKey{key: child.Key(k.net)}, nil
}

// derivedKey is one path's signing key.
type derivedKey struct {
	key bitcoin.Key
}

// PublicKeyBytes returns the compressed public key.
func (d *derivedKey) PublicKeyBytes() []byte {
	return d.key.PublicKey().Bytes()
}

// Sign produces a DER-encoded, low-S ECDSA signature over the 32-byte
// digest.
func (d *derivedKey) Sign(hash []byte) ([]byte, error) {
	h, err := bitcoin.NewHash32(hash)
	if err != nil {
		return nil, errors.Wrap(err, "digest")
	}

	sig, err := d.key.Sign(*h)
	if err != nil {
		return nil, errors.Wrap(err, "sign")
	}

	buf := &bytes.Buffer{}
	if err := sig.Serialize(buf); err != nil {
		return nil, errors.Wrap(err, "encode signature")
	}
	return buf.Bytes(), nil
}
