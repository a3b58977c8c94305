package bitcoin

import (
	"encoding/binary"
	"io"
)

const (
	// PublicKeyHashSize is the size in bytes of a Hash160 of a public key or
	// redeem script.
	PublicKeyHashSize = 20

	OP_FALSE = byte(0x00)
	OP_TRUE  = byte(0x51)

	OP_0  = byte(0x00)
	OP_1  = byte(0x51)
	OP_16 = byte(0x60)

	OP_RETURN = byte(0x6a)

	OP_DUP = byte(0x76) // Duplicate top item on stack

	OP_EQUAL       = byte(0x87)
	OP_EQUALVERIFY = byte(0x88)

	OP_HASH160       = byte(0xa9)
	OP_CHECKSIG      = byte(0xac)
	OP_CHECKMULTISIG = byte(0xae)

	// OP_MAX_SINGLE_BYTE_PUSH_DATA represents the max length for a single byte push
	OP_MAX_SINGLE_BYTE_PUSH_DATA = byte(0x4b)

	// OP_PUSH_DATA_1 represent the op codes that define a push of data with the
	// length of the push in 1, 2, or 4 following bytes.
	OP_PUSH_DATA_1 = byte(0x4c)
	OP_PUSH_DATA_2 = byte(0x4d)
	OP_PUSH_DATA_4 = byte(0x4e)

	// OP_PUSH_DATA_1_MAX is the maximum number of bytes that can be used in the
	// OP_PUSH_DATA_1 format.
	OP_PUSH_DATA_1_MAX = uint64(255)

	// OP_PUSH_DATA_2_MAX is the maximum number of bytes that can be used in the
	// OP_PUSH_DATA_2 format.
	OP_PUSH_DATA_2_MAX = uint64(65535)
)

var (
	endian = binary.LittleEndian
)

// Script is a raw bitcoin script.
type Script []byte

// Bytes returns the script as a byte slice.
func (s Script) Bytes() []byte {
	return s
}

// Equal returns whether the scripts are the same bytes.
func (s Script) Equal(other Script) bool {
	if len(s) != len(other) {
		return false
	}
	for i, b := range s {
		if other[i] != b {
			return false
		}
	}
	return true
}

// PushDataScriptSize returns the encoded size of a push of data bytes.
func PushDataScriptSize(size uint64) uint64 {
	if size <= uint64(OP_MAX_SINGLE_BYTE_PUSH_DATA) {
		return 1 + size // Single byte push
	} else if size < OP_PUSH_DATA_1_MAX {
		return 2 + size
	} else if size < OP_PUSH_DATA_2_MAX {
		return 3 + size
	}
	return 5 + size
}

// WritePushDataScript writes a push data bitcoin script including the encoded
// size preceding it.
func WritePushDataScript(w io.Writer, data []byte) error {
	size := len(data)
	var err error
	if size <= int(OP_MAX_SINGLE_BYTE_PUSH_DATA) {
		_, err = w.Write([]byte{byte(size)}) // Single byte push
	} else if size < int(OP_PUSH_DATA_1_MAX) {
		_, err = w.Write([]byte{OP_PUSH_DATA_1, byte(size)})
	} else if size < int(OP_PUSH_DATA_2_MAX) {
		_, err = w.Write([]byte{OP_PUSH_DATA_2})
		if err != nil {
			return err
		}
		err = binary.Write(w, endian, uint16(size))
	} else {
		_, err = w.Write([]byte{OP_PUSH_DATA_4})
		if err != nil {
			return err
		}
		err = binary.Write(w, endian, uint32(size))
	}
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}
