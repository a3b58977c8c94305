// Package writer provides the primitive serializers the signer streams
// through: a single append-only capability that is equally happy writing
// into an output buffer bound for the host or into a rolling hash.
package writer

import (
	"encoding/binary"
	"io"

	"github.com/bkledger/hwsigner/bitcoin"
	"github.com/bkledger/hwsigner/wire"
)

// Sink is the one capability every serializer in this package needs: append
// bytes. A *bytes.Buffer, a running hash, or any io.Writer satisfies it.
type Sink = io.Writer

// WriteUint8 writes a single byte.
func WriteUint8(w Sink, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// WriteUint16LE writes v as a little-endian uint16.
func WriteUint16LE(w Sink, v uint16) error {
	return binary.Write(w, binary.LittleEndian, v)
}

// WriteUint32LE writes v as a little-endian uint32.
func WriteUint32LE(w Sink, v uint32) error {
	return binary.Write(w, binary.LittleEndian, v)
}

// WriteUint64LE writes v as a little-endian uint64.
func WriteUint64LE(w Sink, v uint64) error {
	return binary.Write(w, binary.LittleEndian, v)
}

// WriteVarInt writes val using Bitcoin's compact-size encoding.
func WriteVarInt(w Sink, val uint64) error {
	return wire.WriteVarInt(w, 0, val)
}

// WriteBytes writes b unmodified.
func WriteBytes(w Sink, b []byte) error {
	_, err := w.Write(b)
	return err
}

// WriteBytesReversed writes b in reverse byte order, the convention used
// for embedding a display-endian (big-endian) hash into a little-endian
// wire structure.
func WriteBytesReversed(w Sink, b []byte) error {
	reversed := make([]byte, len(b))
	for i, v := range b {
		reversed[len(b)-1-i] = v
	}
	_, err := w.Write(reversed)
	return err
}

// WriteVarBytes writes a compact-size length prefix followed by b.
func WriteVarBytes(w Sink, b []byte) error {
	return wire.WriteVarBytes(w, 0, b)
}

// GetTxHash finalizes a hash sink, optionally re-hashing the digest
// (Bitcoin's double-SHA-256 convention) and optionally byte-reversing the
// result for big-endian display. Sum is the sink's finalized digest.
func GetTxHash(sum []byte, double, reverse bool) []byte {
	result := sum
	if double {
		result = bitcoin.Sha256(result)
	}
	if reverse {
		reversed := make([]byte, len(result))
		for i, v := range result {
			reversed[len(result)-1-i] = v
		}
		result = reversed
	}
	return result
}
