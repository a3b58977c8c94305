package writer

import (
	"crypto/sha256"
	"hash"

	"github.com/dchest/blake2b"
	"github.com/decred/dcrd/crypto/blake256"
	"github.com/pkg/errors"
)

// HashSink is a rolling hash that satisfies Sink so the writer primitives in
// this package feed it exactly as they would a growable byte buffer.
type HashSink struct {
	h hash.Hash
}

// NewSha256Sink returns a sink backed by SHA-256, used for Bitcoin-family
// BIP-143 prefix hashing and legacy sighash construction.
func NewSha256Sink() *HashSink {
	return &HashSink{h: sha256.New()}
}

// NewBlake256Sink returns a sink backed by BLAKE-256, used for Decred's
// prefix and witness-signing hashes.
func NewBlake256Sink() *HashSink {
	return &HashSink{h: blake256.New()}
}

// NewBlake2b256PersonalizedSink returns a sink backed by BLAKE-2b-256 with
// the given 16-byte personalization (stream name + little-endian branch id),
// used for Zcash's ZIP-143/ZIP-243 per-stream digests. golang.org/x/crypto/
// blake2b does not expose BLAKE2's personal parameter block, so this uses
// dchest/blake2b, which does.
func NewBlake2b256PersonalizedSink(personalization [16]byte) (*HashSink, error) {
	h, err := blake2b.New(&blake2b.Config{Size: 32, Person: personalization[:]})
	if err != nil {
		return nil, errors.Wrap(err, "new blake2b")
	}
	return &HashSink{h: h}, nil
}

// Write implements io.Writer / Sink.
func (s *HashSink) Write(p []byte) (int, error) {
	return s.h.Write(p)
}

// Sum returns the finalized digest without modifying the sink's state.
func (s *HashSink) Sum() []byte {
	return s.h.Sum(nil)
}
