package signer

import (
	"github.com/bkledger/hwsigner/signer/writer"
)

// writeTxHeader writes the transaction header that precedes the first
// serialized input: version (with the Zcash overwinter flag and version
// group id, or a timestamp, where the coin calls for them), the segwit
// marker and flag when any input carries a witness, and the input count.
func (s *Signer) writeTxHeader(w writer.Sink, withSegwitMarker bool) error {
	if s.coin.Overwintered {
		if err := writer.WriteUint32LE(w, uint32(s.tx.Version)|zcashOverwintered); err != nil {
			return err
		}
		if err := writer.WriteUint32LE(w, s.tx.VersionGroupID); err != nil {
			return err
		}
	} else {
		if err := writer.WriteUint32LE(w, uint32(s.tx.Version)); err != nil {
			return err
		}
		if s.coin.Timestamp {
			if err := writer.WriteUint32LE(w, s.tx.Timestamp); err != nil {
				return err
			}
		}
	}
	if withSegwitMarker {
		if err := writer.WriteUint8(w, 0x00); err != nil { // segwit marker
			return err
		}
		if err := writer.WriteUint8(w, 0x01); err != nil { // segwit flag
			return err
		}
	}
	return writer.WriteVarInt(w, uint64(s.tx.InputCount))
}

// writeTxInput writes one input in Bitcoin wire form: outpoint, length-
// prefixed scriptSig, sequence.
func writeTxInput(w writer.Sink, prevHash [32]byte, prevIndex uint32, scriptSig []byte, sequence uint32) error {
	if err := writer.WriteBytes(w, prevHash[:]); err != nil {
		return err
	}
	if err := writer.WriteUint32LE(w, prevIndex); err != nil {
		return err
	}
	if err := writer.WriteVarBytes(w, scriptSig); err != nil {
		return err
	}
	return writer.WriteUint32LE(w, sequence)
}

// writeTxInputDecred writes one input in Decred's no-witness wire form:
// outpoint, tree, sequence. The scriptSig lives in the separate witness
// region.
func writeTxInputDecred(w writer.Sink, prevHash [32]byte, prevIndex uint32, tree int8, sequence uint32) error {
	if err := writer.WriteBytes(w, prevHash[:]); err != nil {
		return err
	}
	if err := writer.WriteUint32LE(w, prevIndex); err != nil {
		return err
	}
	if err := writer.WriteUint8(w, uint8(tree)); err != nil {
		return err
	}
	return writer.WriteUint32LE(w, sequence)
}

// writeTxInputDecredWitness writes one input's witness region entry: the
// spent amount, the two fraud-proof placeholders, and the scriptSig.
func writeTxInputDecredWitness(w writer.Sink, amount uint64, scriptSig []byte) error {
	if err := writer.WriteUint64LE(w, amount); err != nil {
		return err
	}
	if err := writer.WriteUint32LE(w, 0); err != nil { // block height fraud proof
		return err
	}
	if err := writer.WriteUint32LE(w, 0xFFFFFFFF); err != nil { // block index fraud proof
		return err
	}
	return writer.WriteVarBytes(w, scriptSig)
}

// writeOutputBin writes one output in wire form: amount, script version on
// Decred, length-prefixed scriptPubKey. The same bytes feed h_first,
// h_second, the prefix hashers, and the emitted stream.
func writeOutputBin(w writer.Sink, bin txOutputBin) error {
	if err := writer.WriteUint64LE(w, bin.Amount); err != nil {
		return err
	}
	if bin.IsDecredOutput {
		if err := writer.WriteUint16LE(w, bin.DecredScriptVersion); err != nil {
			return err
		}
	}
	return writer.WriteVarBytes(w, bin.ScriptPubKey)
}

// writeWitnessStack writes a witness stack: item count, then each item
// length-prefixed. A nil item writes as a zero-length push.
func writeWitnessStack(w writer.Sink, stack [][]byte) error {
	if err := writer.WriteVarInt(w, uint64(len(stack))); err != nil {
		return err
	}
	for _, item := range stack {
		if err := writer.WriteVarBytes(w, item); err != nil {
			return err
		}
	}
	return nil
}

// zcashOverwintered is the high bit OR'd into the version field of
// Overwinter and Sapling transactions.
const zcashOverwintered = uint32(1) << 31

const (
	sigHashAll    = uint32(0x01)
	sigHashForkID = uint32(0x40)
)

// hashType returns the signature hash type for this session: SIGHASH_ALL,
// extended with the fork id on coins that have one.
func (s *Signer) hashType() uint32 {
	ht := sigHashAll
	if s.coin.HasForkID {
		ht |= (s.coin.ForkID << 8) | sigHashForkID
	}
	return ht
}

// emit streams one plain transaction fragment back to the host.
func (s *Signer) emit(fragment []byte) error {
	return s.host.EmitSerialized(TxRequestSerialized{
		SignatureIndex: -1,
		SerializedTx:   fragment,
	})
}

// emitSigned streams one fragment produced by signing input index, carrying
// the signature alongside the serialized bytes.
func (s *Signer) emitSigned(index int, signature, fragment []byte) error {
	return s.host.EmitSerialized(TxRequestSerialized{
		SignatureIndex: index,
		Signature:      signature,
		SerializedTx:   fragment,
	})
}
