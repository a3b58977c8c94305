// Package hash143 implements the per-coin-family prefix hashers used to
// build a signature-hash preimage without ever buffering a full
// transaction: BIP-143 (Bitcoin/BCH segwit), ZIP-143/ZIP-243 (Zcash
// Overwinter/Sapling), and the Decred prefix+witness scheme. Each variant
// folds inputs and outputs into one or more rolling hashes as the signer
// streams them in phase 1, then produces a per-input signing digest in
// phase 2 from the finalized digests plus that input's own fields.
package hash143

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/bkledger/hwsigner/signer/writer"
)

// InputSigningFields carries the per-input values that are never shared
// across inputs and so can't be folded into a prefix digest ahead of time:
// the outpoint being spent, the scriptCode substituted at that position,
// the amount being spent (needed since BIP-143), the sequence number, and
// the header fields that accompany every preimage. Decred additionally
// needs the spent output's own pkScript and this input's position to build
// its isolated witness hash.
type InputSigningFields struct {
	Version        int32
	VersionGroupID uint32 // Zcash Overwinter/Sapling only.
	PrevHash       [32]byte
	PrevIndex      uint32
	ScriptCode     []byte
	Amount         uint64
	Sequence       uint32
	LockTime       uint32
	ExpiryHeight   uint32 // Zcash / Decred.
	HashType       uint32

	InputIndex int // Decred: position of the input being signed.
	PrevScript []byte
}

// Context is the per-coin-family hashing strategy: one small interface,
// four concrete implementations, dispatched on at session start from coin
// parameters and tx version rather than through subclassing.
type Context interface {
	// AddPrevout folds one input's outpoint (and, for Decred, its tree byte)
	// into the relevant prefix stream. Called once per input, in input
	// order, during phase 1 — immediately followed by AddSequence for the
	// same input.
	AddPrevout(prevHash [32]byte, prevIndex uint32, tree int8) error
	// AddSequence folds one input's sequence number. Must be called
	// immediately after AddPrevout for the same input.
	AddSequence(sequence uint32) error
	// AddOutputCount records the output count ahead of the output stream.
	// Only Decred's single prefix stream needs this; other variants keep
	// independent per-field streams and ignore it.
	AddOutputCount(n uint64) error
	// AddOutput folds one output into the output prefix stream.
	AddOutput(amount uint64, scriptPubKey []byte, decredScriptVersion uint16) error
	// AddLocktimeExpiry finalizes the prefix digests once every input and
	// output has been folded in. Must be called exactly once, after the
	// last AddOutput.
	AddLocktimeExpiry(locktime, expiry uint32) error
	// PreimageHash computes the signing digest for one input, given that
	// input's own non-shared fields.
	PreimageHash(in InputSigningFields) ([]byte, error)
}

// Bip143 implements the segwit sighash algorithm (BIP-143): three
// independent SHA-256 streams over prevouts, sequences, and outputs,
// combined with per-input fields into the final preimage. The streams are
// fed one element at a time as the transaction streams in, so no full
// transaction buffer is ever needed.
type Bip143 struct {
	hashPrevouts *writer.HashSink
	hashSequence *writer.HashSink
	hashOutputs  *writer.HashSink

	finalPrevouts []byte
	finalSequence []byte
	finalOutputs  []byte
	finalized     bool
}

// NewBip143 returns a fresh accumulator, ready to receive AddPrevout/
// AddSequence/AddOutput calls for every input and output in the tx.
func NewBip143() *Bip143 {
	return &Bip143{
		hashPrevouts: writer.NewSha256Sink(),
		hashSequence: writer.NewSha256Sink(),
		hashOutputs:  writer.NewSha256Sink(),
	}
}

func (b *Bip143) AddPrevout(prevHash [32]byte, prevIndex uint32, tree int8) error {
	if err := writer.WriteBytes(b.hashPrevouts, prevHash[:]); err != nil {
		return errors.Wrap(err, "prevout hash")
	}
	return writer.WriteUint32LE(b.hashPrevouts, prevIndex)
}

func (b *Bip143) AddSequence(sequence uint32) error {
	return writer.WriteUint32LE(b.hashSequence, sequence)
}

func (b *Bip143) AddOutputCount(n uint64) error { return nil }

func (b *Bip143) AddOutput(amount uint64, scriptPubKey []byte, _ uint16) error {
	if err := writer.WriteUint64LE(b.hashOutputs, amount); err != nil {
		return errors.Wrap(err, "output amount")
	}
	return writer.WriteVarBytes(b.hashOutputs, scriptPubKey)
}

func (b *Bip143) AddLocktimeExpiry(locktime, expiry uint32) error {
	b.finalPrevouts = writer.GetTxHash(b.hashPrevouts.Sum(), true, false)
	b.finalSequence = writer.GetTxHash(b.hashSequence.Sum(), true, false)
	b.finalOutputs = writer.GetTxHash(b.hashOutputs.Sum(), true, false)
	b.finalized = true
	return nil
}

func (b *Bip143) PreimageHash(in InputSigningFields) ([]byte, error) {
	if !b.finalized {
		return nil, errors.New("bip143: locktime not finalized")
	}

	s := writer.NewSha256Sink()
	if err := writer.WriteUint32LE(s, uint32(in.Version)); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, b.finalPrevouts); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, b.finalSequence); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, in.PrevHash[:]); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.PrevIndex); err != nil {
		return nil, err
	}
	if err := writer.WriteVarBytes(s, in.ScriptCode); err != nil {
		return nil, err
	}
	if err := writer.WriteUint64LE(s, in.Amount); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.Sequence); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, b.finalOutputs); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.LockTime); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.HashType); err != nil {
		return nil, err
	}

	return writer.GetTxHash(s.Sum(), true, false), nil
}

// zipPersonalization builds the 16-byte BLAKE2b personalization for the
// ZIP-143/ZIP-243 signature hash itself: the 12-byte ASCII tag followed by
// the 4-byte little-endian consensus branch id.
func zipPersonalization(tag string, branchID uint32) [16]byte {
	var p [16]byte
	copy(p[:12], tag)
	binary.LittleEndian.PutUint32(p[12:], branchID)
	return p
}

// zipTagPersonalization builds the personalization for the per-field
// streams (prevouts, sequence, outputs), whose tags fill all 16 bytes and
// carry no branch id.
func zipTagPersonalization(tag string) [16]byte {
	var p [16]byte
	copy(p[:], tag)
	return p
}

// zip143Base is the shared plumbing between Overwinter (ZIP-143) and
// Sapling (ZIP-243): both fold prevouts/sequences/outputs into personalized
// BLAKE2b streams keyed by the same per-stream tags (the branch id enters
// only the final sighash personalization); they differ only in the fields
// appended around those digests in the preimage.
type zip143Base struct {
	branchID  uint32
	txVersion uint32
	sapling   bool

	hashPrevouts *writer.HashSink
	hashSequence *writer.HashSink
	hashOutputs  *writer.HashSink

	finalPrevouts []byte
	finalSequence []byte
	finalOutputs  []byte
	finalized     bool
}

func newZip143Base(branchID, txVersion uint32, sapling bool) (*zip143Base, error) {
	prevouts, err := writer.NewBlake2b256PersonalizedSink(zipTagPersonalization("ZcashPrevoutHash"))
	if err != nil {
		return nil, errors.Wrap(err, "prevouts sink")
	}
	sequence, err := writer.NewBlake2b256PersonalizedSink(zipTagPersonalization("ZcashSequencHash"))
	if err != nil {
		return nil, errors.Wrap(err, "sequence sink")
	}
	outputs, err := writer.NewBlake2b256PersonalizedSink(zipTagPersonalization("ZcashOutputsHash"))
	if err != nil {
		return nil, errors.Wrap(err, "outputs sink")
	}

	return &zip143Base{
		branchID:     branchID,
		txVersion:    txVersion,
		sapling:      sapling,
		hashPrevouts: prevouts,
		hashSequence: sequence,
		hashOutputs:  outputs,
	}, nil
}

func (z *zip143Base) AddPrevout(prevHash [32]byte, prevIndex uint32, _ int8) error {
	if err := writer.WriteBytes(z.hashPrevouts, prevHash[:]); err != nil {
		return errors.Wrap(err, "prevout hash")
	}
	return writer.WriteUint32LE(z.hashPrevouts, prevIndex)
}

func (z *zip143Base) AddSequence(sequence uint32) error {
	return writer.WriteUint32LE(z.hashSequence, sequence)
}

func (z *zip143Base) AddOutputCount(n uint64) error { return nil }

func (z *zip143Base) AddOutput(amount uint64, scriptPubKey []byte, _ uint16) error {
	if err := writer.WriteUint64LE(z.hashOutputs, amount); err != nil {
		return errors.Wrap(err, "output amount")
	}
	return writer.WriteVarBytes(z.hashOutputs, scriptPubKey)
}

func (z *zip143Base) AddLocktimeExpiry(locktime, expiry uint32) error {
	z.finalPrevouts = z.hashPrevouts.Sum()
	z.finalSequence = z.hashSequence.Sum()
	z.finalOutputs = z.hashOutputs.Sum()
	z.finalized = true
	return nil
}

// Zip143 implements the Overwinter (tx version 3) sighash algorithm.
type Zip143 struct{ *zip143Base }

// NewZip143 returns a fresh Overwinter accumulator for the given consensus
// branch id.
func NewZip143(branchID uint32) (*Zip143, error) {
	base, err := newZip143Base(branchID, 3, false)
	if err != nil {
		return nil, err
	}
	return &Zip143{zip143Base: base}, nil
}

func (z *Zip143) PreimageHash(in InputSigningFields) ([]byte, error) {
	return zipPreimage(z.zip143Base, in)
}

// Zip243 implements the Sapling (tx version 4) sighash algorithm: same
// shape as Overwinter with zeroed shielded-spend/output digests and a zero
// valueBalance, since the signer never constructs shielded transactions.
type Zip243 struct{ *zip143Base }

// NewZip243 returns a fresh Sapling accumulator for the given consensus
// branch id.
func NewZip243(branchID uint32) (*Zip243, error) {
	base, err := newZip143Base(branchID, 4, true)
	if err != nil {
		return nil, err
	}
	return &Zip243{zip143Base: base}, nil
}

func (z *Zip243) PreimageHash(in InputSigningFields) ([]byte, error) {
	return zipPreimage(z.zip143Base, in)
}

// zipPreimage assembles the ZIP-143/ZIP-243 preimage: header‖versionGroupId‖
// prevouts‖sequence‖outputs‖joinsplits‖locktime‖expiry‖hashType‖outpoint‖
// scriptCode‖amount‖sequence, with the joinsplit digest zeroed. The Sapling
// variant additionally folds in the zeroed shielded spend and output digests
// after the joinsplit digest, and valueBalance after the expiry height.
func zipPreimage(z *zip143Base, in InputSigningFields) ([]byte, error) {
	if !z.finalized {
		return nil, errors.New("zip143: locktime not finalized")
	}

	personalization := zipPersonalization("ZcashSigHash", z.branchID)
	s, err := writer.NewBlake2b256PersonalizedSink(personalization)
	if err != nil {
		return nil, errors.Wrap(err, "sighash sink")
	}

	headerBits := uint32(1) << 31 // fOverwintered
	if err := writer.WriteUint32LE(s, headerBits|z.txVersion); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.VersionGroupID); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, z.finalPrevouts); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, z.finalSequence); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, z.finalOutputs); err != nil {
		return nil, err
	}
	var zero32 [32]byte
	if err := writer.WriteBytes(s, zero32[:]); err != nil { // hashJoinSplits
		return nil, err
	}
	if z.sapling {
		if err := writer.WriteBytes(s, zero32[:]); err != nil { // hashShieldedSpends
			return nil, err
		}
		if err := writer.WriteBytes(s, zero32[:]); err != nil { // hashShieldedOutputs
			return nil, err
		}
	}
	if err := writer.WriteUint32LE(s, in.LockTime); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.ExpiryHeight); err != nil {
		return nil, err
	}
	if z.sapling {
		if err := writer.WriteUint64LE(s, 0); err != nil { // valueBalance
			return nil, err
		}
	}
	if err := writer.WriteUint32LE(s, in.HashType); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, in.PrevHash[:]); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.PrevIndex); err != nil {
		return nil, err
	}
	if err := writer.WriteVarBytes(s, in.ScriptCode); err != nil {
		return nil, err
	}
	if err := writer.WriteUint64LE(s, in.Amount); err != nil {
		return nil, err
	}
	if err := writer.WriteUint32LE(s, in.Sequence); err != nil {
		return nil, err
	}

	return s.Sum(), nil
}

// decredSerializeNoWitness / decredSerializeWitnessSigning mirror Decred's
// wire.TxSerializeType bits OR'd into the high 16 bits of the version field.
const (
	decredSerializeNoWitness      = uint32(1) << 16
	decredSerializeWitnessSigning = uint32(3) << 16
	decredSigHashAll              = uint32(1)
)

// DecredPrefix implements Decred's split prefix/witness sighash: a single
// BLAKE-256 prefix hash over the whole transaction (minus witness data),
// and a per-input witness hash that isolates just the signing input's
// previous pkScript.
type DecredPrefix struct {
	version    uint16
	inputCount int

	prefix     *writer.HashSink
	prefixHash []byte
	finalized  bool
}

// NewDecredPrefix writes the prefix stream's header immediately: Decred's
// wire format puts the inputs varint right after the version, and the
// input count is known up front from the tx metadata, before any input has
// actually been streamed.
func NewDecredPrefix(version uint16, inputCount int) (*DecredPrefix, error) {
	d := &DecredPrefix{
		version:    version,
		inputCount: inputCount,
		prefix:     writer.NewBlake256Sink(),
	}

	fullVersion := uint32(version) | decredSerializeNoWitness
	if err := writer.WriteUint32LE(d.prefix, fullVersion); err != nil {
		return nil, errors.Wrap(err, "prefix header")
	}
	if err := writer.WriteVarInt(d.prefix, uint64(inputCount)); err != nil {
		return nil, errors.Wrap(err, "prefix input count")
	}
	return d, nil
}

func (d *DecredPrefix) AddPrevout(prevHash [32]byte, prevIndex uint32, tree int8) error {
	if err := writer.WriteBytes(d.prefix, prevHash[:]); err != nil {
		return errors.Wrap(err, "prevout hash")
	}
	if err := writer.WriteUint32LE(d.prefix, prevIndex); err != nil {
		return err
	}
	return writer.WriteUint8(d.prefix, uint8(tree))
}

func (d *DecredPrefix) AddSequence(sequence uint32) error {
	return writer.WriteUint32LE(d.prefix, sequence)
}

func (d *DecredPrefix) AddOutputCount(n uint64) error {
	return writer.WriteVarInt(d.prefix, n)
}

func (d *DecredPrefix) AddOutput(amount uint64, scriptPubKey []byte, decredScriptVersion uint16) error {
	if err := writer.WriteUint64LE(d.prefix, amount); err != nil {
		return err
	}
	if err := writer.WriteUint16LE(d.prefix, decredScriptVersion); err != nil {
		return err
	}
	return writer.WriteVarBytes(d.prefix, scriptPubKey)
}

func (d *DecredPrefix) AddLocktimeExpiry(locktime, expiry uint32) error {
	if err := writer.WriteUint32LE(d.prefix, locktime); err != nil {
		return err
	}
	if err := writer.WriteUint32LE(d.prefix, expiry); err != nil {
		return err
	}
	d.prefixHash = d.prefix.Sum()
	d.finalized = true
	return nil
}

func (d *DecredPrefix) PreimageHash(in InputSigningFields) ([]byte, error) {
	if !d.finalized {
		return nil, errors.New("decred: locktime/expiry not finalized")
	}
	if in.InputIndex < 0 || in.InputIndex >= d.inputCount {
		return nil, errors.Errorf("decred: input index %d out of range for %d inputs",
			in.InputIndex, d.inputCount)
	}

	witness := writer.NewBlake256Sink()
	fullVersion := uint32(d.version) | decredSerializeWitnessSigning
	if err := writer.WriteUint32LE(witness, fullVersion); err != nil {
		return nil, err
	}
	if err := writer.WriteVarInt(witness, uint64(d.inputCount)); err != nil {
		return nil, err
	}
	for i := 0; i < d.inputCount; i++ {
		if i == in.InputIndex {
			if err := writer.WriteVarBytes(witness, in.PrevScript); err != nil {
				return nil, err
			}
		} else {
			if err := writer.WriteVarInt(witness, 0); err != nil {
				return nil, err
			}
		}
	}
	witnessHash := witness.Sum()

	s := writer.NewBlake256Sink()
	if err := writer.WriteUint32LE(s, decredSigHashAll); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, d.prefixHash); err != nil {
		return nil, err
	}
	if err := writer.WriteBytes(s, witnessHash); err != nil {
		return nil, err
	}
	return s.Sum(), nil
}

var _ Context = (*Bip143)(nil)
var _ Context = (*Zip143)(nil)
var _ Context = (*Zip243)(nil)
var _ Context = (*DecredPrefix)(nil)
