// Copyright (c) 2013-2016 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bkledger/hwsigner/bitcoin"

	"github.com/pkg/errors"
)

const (
	// TxVersion is the current latest supported transaction version.
	TxVersion = 1

	// MaxTxInSequenceNum is the maximum sequence number the sequence field
	// of a transaction input can be.
	MaxTxInSequenceNum uint32 = 0xffffffff

	// MaxPrevOutIndex is the maximum index the index field of a previous
	// outpoint can be.
	MaxPrevOutIndex uint32 = 0xffffffff

	// defaultTxInOutAlloc is the default size used for the backing array for
	// transaction inputs and outputs.  The array will dynamically grow as needed,
	// but this figure is intended to provide enough space for the number of
	// inputs and outputs in a typical transaction without needing to grow the
	// backing array multiple times.
	defaultTxInOutAlloc = 15

	// minTxInPayload is the minimum payload size for a transaction input.
	// PreviousOutPoint.Hash + PreviousOutPoint.Index 4 bytes + Varint for
	// UnlockingScript length 1 byte + Sequence 4 bytes.
	minTxInPayload = 9 + bitcoin.Hash32Size

	// maxTxInPerMessage is the maximum number of transactions inputs that
	// a transaction which fits into a message could possibly have.
	maxTxInPerMessage = (MaxMessagePayload / minTxInPayload) + 1

	// minTxOutPayload is the minimum payload size for a transaction output.
	// Value 8 bytes + Varint for LockingScript length 1 byte.
	minTxOutPayload = 9

	// maxTxOutPerMessage is the maximum number of transactions outputs that
	// a transaction which fits into a message could possibly have.
	maxTxOutPerMessage = (MaxMessagePayload / minTxOutPayload) + 1

	// maxWitnessItemsPerInput is the maximum number of items a witness stack
	// for a single input can plausibly carry.
	maxWitnessItemsPerInput = 500000

	// segwitMarker and segwitFlag are the two bytes between the version and
	// the input count that mark a serialization as carrying witness data.
	segwitMarker = 0x00
	segwitFlag   = 0x01
)

// OutPoint defines a bitcoin data type that is used to track previous
// transaction outputs.
type OutPoint struct {
	Hash  bitcoin.Hash32 `json:"hash"`
	Index uint32         `json:"index"`
}

// NewOutPoint returns a new bitcoin transaction outpoint point with the
// provided hash and index.
func NewOutPoint(hash *bitcoin.Hash32, index uint32) *OutPoint {
	return &OutPoint{
		Hash:  *hash,
		Index: index,
	}
}

// OutPointFromStr parses a string into an outpoint. The format is "<txid:index>".
func OutPointFromStr(s string) (*OutPoint, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return nil, errors.New("Invalid format: wrong colon count")
	}

	hash, err := bitcoin.NewHash32FromStr(parts[0])
	if err != nil {
		return nil, errors.Wrap(err, "invalid hash")
	}

	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.Wrap(err, "invalid index")
	}

	return NewOutPoint(hash, uint32(index)), nil
}

// String returns the OutPoint in the human-readable form "hash:index".
func (o OutPoint) String() string {
	buf := make([]byte, 2*bitcoin.Hash32Size+1, 2*bitcoin.Hash32Size+1+10)
	copy(buf, o.Hash.String())
	buf[2*bitcoin.Hash32Size] = ':'
	buf = strconv.AppendUint(buf, uint64(o.Index), 10)
	return string(buf)
}

// Serialize encodes op to the bitcoin protocol encoding for an OutPoint to w.
func (op *OutPoint) Serialize(w io.Writer) error {
	if err := op.Hash.Serialize(w); err != nil {
		return err
	}

	return binary.Write(w, endian, op.Index)
}

// Deserialize decodes op from the bitcoin protocol encoding for an OutPoint.
func (op *OutPoint) Deserialize(r io.Reader) error {
	if err := op.Hash.Deserialize(r); err != nil {
		return err
	}

	return binary.Read(r, endian, &op.Index)
}

// TxIn defines a bitcoin transaction input. Witness carries the input's
// witness stack when the transaction serializes with the segwit marker; it
// is nil for non-witness inputs.
type TxIn struct {
	PreviousOutPoint OutPoint       `json:"outpoint"`
	UnlockingScript  bitcoin.Script `json:"script"`
	Sequence         uint32         `json:"sequence"`
	Witness          [][]byte       `json:"witness,omitempty"`
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction input, excluding any witness data.
func (t *TxIn) SerializeSize() int {
	// Outpoint Hash 32 bytes + Outpoint Index 4 bytes + Sequence 4 bytes +
	// serialized varint size for the length of UnlockingScript +
	// UnlockingScript bytes.
	return 40 + VarIntSerializeSize(uint64(len(t.UnlockingScript))) +
		len(t.UnlockingScript)
}

// NewTxIn returns a new bitcoin transaction input with the provided
// previous outpoint point and unlocking script with a default sequence of
// MaxTxInSequenceNum.
func NewTxIn(prevOut *OutPoint, unlockingScript bitcoin.Script) *TxIn {
	return &TxIn{
		PreviousOutPoint: *prevOut,
		UnlockingScript:  unlockingScript,
		Sequence:         MaxTxInSequenceNum,
	}
}

// TxOut defines a bitcoin transaction output.
type TxOut struct {
	Value         uint64         `json:"value"`
	LockingScript bitcoin.Script `json:"locking_script"`
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction output.
func (t *TxOut) SerializeSize() int {
	// Value 8 bytes + serialized varint size for the length of LockingScript +
	// LockingScript bytes.
	return 8 + VarIntSerializeSize(uint64(len(t.LockingScript))) + len(t.LockingScript)
}

// NewTxOut returns a new bitcoin transaction output with the provided
// transaction value and locking script.
func NewTxOut(value uint64, lockingScript bitcoin.Script) *TxOut {
	return &TxOut{
		Value:         value,
		LockingScript: lockingScript,
	}
}

// MsgTx represents a bitcoin tx message. When any input carries a witness
// stack the transaction serializes in the BIP-144 form with the marker and
// flag bytes and a trailing witness section.
//
// Use the AddTxIn and AddTxOut functions to build up the list of transaction
// inputs and outputs.
type MsgTx struct {
	Version  int32
	TxIn     []*TxIn
	TxOut    []*TxOut
	LockTime uint32
}

// AddTxIn adds a transaction input to the message.
func (msg *MsgTx) AddTxIn(ti *TxIn) {
	msg.TxIn = append(msg.TxIn, ti)
}

// AddTxOut adds a transaction output to the message.
func (msg *MsgTx) AddTxOut(to *TxOut) {
	msg.TxOut = append(msg.TxOut, to)
}

// HasWitness returns whether any input carries a witness stack.
func (msg *MsgTx) HasWitness() bool {
	for _, ti := range msg.TxIn {
		if len(ti.Witness) > 0 {
			return true
		}
	}
	return false
}

// TxHash generates the Hash for the transaction: a double SHA-256 over the
// non-witness serialization, so the id is the same whether or not witness
// data is attached.
func (msg *MsgTx) TxHash() *bitcoin.Hash32 {
	buf := bytes.NewBuffer(make([]byte, 0, msg.SerializeSize()))
	_ = msg.serialize(buf, false)
	result := bitcoin.Hash32{}
	copy(result[:], bitcoin.DoubleSha256(buf.Bytes()))
	return &result
}

// SerializeSize returns the number of bytes it would take to serialize the
// the transaction without witness data.
func (msg *MsgTx) SerializeSize() int {
	// Version 4 bytes + LockTime 4 bytes + Serialized varint size for the
	// number of transaction inputs and outputs.
	n := 8 + VarIntSerializeSize(uint64(len(msg.TxIn))) +
		VarIntSerializeSize(uint64(len(msg.TxOut)))

	for _, txIn := range msg.TxIn {
		n += txIn.SerializeSize()
	}

	for _, txOut := range msg.TxOut {
		n += txOut.SerializeSize()
	}

	return n
}

// Serialize encodes the transaction to w, including witness data when any
// input carries a witness stack.
func (msg *MsgTx) Serialize(w io.Writer) error {
	return msg.serialize(w, msg.HasWitness())
}

func (msg *MsgTx) serialize(w io.Writer, witness bool) error {
	if err := binary.Write(w, endian, msg.Version); err != nil {
		return err
	}

	if witness {
		if _, err := w.Write([]byte{segwitMarker, segwitFlag}); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, 0, uint64(len(msg.TxIn))); err != nil {
		return err
	}
	for _, ti := range msg.TxIn {
		if err := ti.PreviousOutPoint.Serialize(w); err != nil {
			return err
		}
		if err := WriteVarBytes(w, 0, ti.UnlockingScript); err != nil {
			return err
		}
		if err := binary.Write(w, endian, ti.Sequence); err != nil {
			return err
		}
	}

	if err := WriteVarInt(w, 0, uint64(len(msg.TxOut))); err != nil {
		return err
	}
	for _, to := range msg.TxOut {
		if err := binary.Write(w, endian, to.Value); err != nil {
			return err
		}
		if err := WriteVarBytes(w, 0, to.LockingScript); err != nil {
			return err
		}
	}

	if witness {
		for _, ti := range msg.TxIn {
			if err := WriteVarInt(w, 0, uint64(len(ti.Witness))); err != nil {
				return err
			}
			for _, item := range ti.Witness {
				if err := WriteVarBytes(w, 0, item); err != nil {
					return err
				}
			}
		}
	}

	return binary.Write(w, endian, msg.LockTime)
}

// Deserialize decodes a transaction from r, accepting both the legacy and
// the BIP-144 witness serializations.
func (msg *MsgTx) Deserialize(r io.Reader) error {
	if err := binary.Read(r, endian, &msg.Version); err != nil {
		return err
	}

	count, err := ReadVarInt(r, 0)
	if err != nil {
		return err
	}

	// A zero input count marks a witness serialization: the "count" was the
	// marker byte, and the flag byte plus the real input count follow.
	witness := false
	if count == segwitMarker {
		var flag uint8
		if err := binary.Read(r, endian, &flag); err != nil {
			return err
		}
		if flag != segwitFlag {
			return messageError("MsgTx.Deserialize",
				fmt.Sprintf("unknown witness flag %x", flag))
		}
		witness = true
		if count, err = ReadVarInt(r, 0); err != nil {
			return err
		}
	}

	if count > uint64(maxTxInPerMessage) {
		return messageError("MsgTx.Deserialize", fmt.Sprintf(
			"too many input transactions to fit into max message size "+
				"[count %d, max %d]", count, maxTxInPerMessage))
	}

	msg.TxIn = make([]*TxIn, 0, count)
	for i := uint64(0); i < count; i++ {
		ti := TxIn{}
		if err := ti.PreviousOutPoint.Deserialize(r); err != nil {
			return err
		}
		script, err := ReadVarBytes(r, 0, MaxMessagePayload, "unlocking script")
		if err != nil {
			return err
		}
		ti.UnlockingScript = script
		if err := binary.Read(r, endian, &ti.Sequence); err != nil {
			return err
		}
		msg.TxIn = append(msg.TxIn, &ti)
	}

	count, err = ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	if count > uint64(maxTxOutPerMessage) {
		return messageError("MsgTx.Deserialize", fmt.Sprintf(
			"too many output transactions to fit into max message size "+
				"[count %d, max %d]", count, maxTxOutPerMessage))
	}

	msg.TxOut = make([]*TxOut, 0, count)
	for i := uint64(0); i < count; i++ {
		to := TxOut{}
		if err := binary.Read(r, endian, &to.Value); err != nil {
			return err
		}
		script, err := ReadVarBytes(r, 0, MaxMessagePayload, "locking script")
		if err != nil {
			return err
		}
		to.LockingScript = script
		msg.TxOut = append(msg.TxOut, &to)
	}

	if witness {
		for _, ti := range msg.TxIn {
			items, err := ReadVarInt(r, 0)
			if err != nil {
				return err
			}
			if items > maxWitnessItemsPerInput {
				return messageError("MsgTx.Deserialize", fmt.Sprintf(
					"too many witness items [count %d, max %d]",
					items, maxWitnessItemsPerInput))
			}
			if items == 0 {
				continue
			}
			ti.Witness = make([][]byte, 0, items)
			for j := uint64(0); j < items; j++ {
				item, err := ReadVarBytes(r, 0, MaxMessagePayload, "witness item")
				if err != nil {
					return err
				}
				ti.Witness = append(ti.Witness, item)
			}
		}
	}

	return binary.Read(r, endian, &msg.LockTime)
}

// String returns a human readable multi-line representation of the
// transaction.
func (msg *MsgTx) String() string {
	result := fmt.Sprintf("TxId: %s (ver %d) %d bytes\n", msg.TxHash().String(),
		msg.Version, msg.SerializeSize())

	result += fmt.Sprintf("  Inputs (%d):\n", len(msg.TxIn))
	for _, input := range msg.TxIn {
		result += fmt.Sprintf("    Outpoint: %d - %s\n",
			input.PreviousOutPoint.Index, input.PreviousOutPoint.Hash.String())
		result += fmt.Sprintf("    Script: %x\n", []byte(input.UnlockingScript))
		result += fmt.Sprintf("    Sequence: %x\n", input.Sequence)
	}

	result += fmt.Sprintf("  Outputs (%d):\n", len(msg.TxOut))
	for _, output := range msg.TxOut {
		result += fmt.Sprintf("    Value: %0.8f\n", float32(output.Value)/100000000.0)
		result += fmt.Sprintf("    Script: %x\n", []byte(output.LockingScript))
	}

	result += fmt.Sprintf("  LockTime: %d\n", msg.LockTime)
	return result
}

// NewMsgTx returns a new bitcoin tx message with the specified version.
func NewMsgTx(version int32) *MsgTx {
	return &MsgTx{
		Version: version,
		TxIn:    make([]*TxIn, 0, defaultTxInOutAlloc),
		TxOut:   make([]*TxOut, 0, defaultTxInOutAlloc),
	}
}
