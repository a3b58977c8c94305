package signer

// RequestType enumerates the kinds of TxRequest the signer can emit. The
// wire-framing and message-serialization layer that actually marshals
// these onto the transport lives outside this package; the signer only
// needs a concrete shape to drive the state machine against.
type RequestType int

const (
	RequestTxInput RequestType = iota
	RequestTxOutput
	RequestTxMeta
	RequestTxExtraData
	RequestTxFinished
)

// TxRequestDetails carries the index (and, for prev-tx requests, the tx
// hash being looked up) identifying what the host should send next.
type TxRequestDetails struct {
	RequestIndex    int
	TxHash          []byte // set only for TXMETA/TXINPUT/TXOUTPUT/TXEXTRADATA of a prevtx lookup
	ExtraDataLen    uint32
	ExtraDataOffset uint32
}

// TxRequestSerialized carries a fragment of the signed transaction stream
// being emitted back to the host, alongside which input it belongs to.
// SignatureIndex is -1 on fragments that don't carry a signature.
type TxRequestSerialized struct {
	SignatureIndex int
	Signature      []byte
	SerializedTx   []byte
}

// TxRequest is the record the signer yields at every suspension point.
// Concatenating every TxRequestSerialized.SerializedTx across the whole
// session, in emission order, yields the final signed transaction.
type TxRequest struct {
	RequestType RequestType
	Details     TxRequestDetails
	Serialized  *TxRequestSerialized
}

// AckKind enumerates the payload shapes a TxAck reply can carry. The host
// must answer the request just sent with the matching kind; anything else
// is a fatal DataError.
type AckKind int

const (
	AckInput AckKind = iota
	AckOutput
	AckMeta
	AckExtraData
)

// MultisigDescriptor is the host-supplied multisig shape for one input or
// output: the full pubkey set and the signature threshold.
type MultisigDescriptor struct {
	Pubkeys [][]byte
	M       int
}

// ScriptType enumerates the input address families the signer can spend.
type ScriptType int

const (
	ScriptLegacyP2PKH ScriptType = iota
	ScriptLegacyMultisig
	ScriptNestedSegwitP2WPKH
	ScriptNestedSegwitP2WSH
	ScriptNativeSegwitP2WPKH
	ScriptNativeSegwitP2WSH
)

// IsSegwit reports whether this script type carries a witness.
func (t ScriptType) IsSegwit() bool {
	switch t {
	case ScriptNestedSegwitP2WPKH, ScriptNestedSegwitP2WSH,
		ScriptNativeSegwitP2WPKH, ScriptNativeSegwitP2WSH:
		return true
	default:
		return false
	}
}

// OutputScriptType enumerates the output-side address families, including
// the change and OP_RETURN variants inputs never use.
type OutputScriptType int

const (
	OutputAddress OutputScriptType = iota
	OutputChangeP2PKH
	OutputChangeP2WPKH
	OutputChangeP2SHP2WPKH
	OutputChangeMultisig
	OutputChangeMultisigP2WSH
	OutputOpReturn
)

// IsChangeCapable reports whether this output type is eligible for silent
// change treatment; OpReturn and plain Address never are.
func (t OutputScriptType) IsChangeCapable() bool {
	switch t {
	case OutputChangeP2PKH, OutputChangeP2WPKH, OutputChangeP2SHP2WPKH,
		OutputChangeMultisig, OutputChangeMultisigP2WSH:
		return true
	default:
		return false
	}
}

// IsMultisig reports whether this output type carries a multisig
// descriptor that must be checked against the running fingerprint.
func (t OutputScriptType) IsMultisig() bool {
	return t == OutputChangeMultisig || t == OutputChangeMultisigP2WSH
}

// TxInputAck is the host's reply to a TXINPUT request: one input's full
// data, alive only for the duration of the request that produced it.
type TxInputAck struct {
	AddressN   []uint32
	PrevHash   [32]byte
	PrevIndex  uint32
	Sequence   uint32
	ScriptType ScriptType
	Amount     uint64 // required for segwit and BIP-143-forced coins
	HasAmount  bool
	Multisig   *MultisigDescriptor
	Tree       int8 // Decred only
}

// TxOutputAck is the host's reply to a TXOUTPUT request.
type TxOutputAck struct {
	Address             []byte // decoded scriptPubKey-ready bytes for a plain address, or nil for change
	AddressN            []uint32
	Amount              uint64
	ScriptType          OutputScriptType
	OpReturnData        []byte
	Multisig            *MultisigDescriptor
	DecredScriptVersion uint16
}

// PrevTxMetaAck is the host's reply to a TXMETA request during prev-tx
// verification.
type PrevTxMetaAck struct {
	Version        int32
	InputCount     int
	OutputCount    int
	LockTime       uint32
	Expiry         uint32 // Decred
	ExtraDataLen   uint32
	VersionGroupID uint32 // Zcash
	Timestamp      uint32 // timestamped coins
}

// PrevTxInputAck is the host's reply to a TXINPUT request during prev-tx
// verification: only the fields needed to reconstruct the prev-tx's own
// id hash are required.
type PrevTxInputAck struct {
	PrevHash  [32]byte
	PrevIndex uint32
	ScriptSig []byte // the prev-tx's own unlocking script; excluded on Decred
	Sequence  uint32
	Tree      int8 // Decred only
}

// PrevTxOutputAck is the host's reply to a TXOUTPUT request during prev-tx
// verification.
type PrevTxOutputAck struct {
	Amount        uint64
	PkScript      []byte
	ScriptVersion uint16 // Decred only; must be 0 on the spent output
}

// Keychain is the external BIP-32 derivation and seed-loading collaborator.
type Keychain interface {
	Derive(path []uint32, curveName string) (PrivateKey, error)
}

// PrivateKey is the minimal signing capability the signer needs from a
// derived key: a public key to build scripts against and an ECDSA sign
// operation. Concrete implementations wrap bitcoin.Key.
type PrivateKey interface {
	PublicKeyBytes() []byte
	Sign(hash []byte) ([]byte, error)
}

// ConfirmOutput is the user-interface collaborator: render an output's
// address/amount (or OP_RETURN payload) and return whether the user
// accepted it. Negative replies translate to a fatal ActionCancelled.
type ConfirmOutput func(out TxOutputAck, scriptPubKey []byte) (bool, error)

// ConfirmTotal asks the user to accept the amount leaving the wallet
// (total inputs less silent change) and the fee once both phase-1 passes
// are complete.
type ConfirmTotal func(spending, fee uint64) (bool, error)

// ConfirmFeeOverThreshold asks the user to accept a fee that exceeds the
// coin's configured per-kilobyte threshold.
type ConfirmFeeOverThreshold func(fee uint64, weightBytes int) (bool, error)

// ConfirmLockTime asks the user to accept a non-zero locktime.
type ConfirmLockTime func(lockTime uint32) (bool, error)

// ConfirmForeignPath asks the user to accept an input whose BIP-32 path
// does not match the rest of the transaction's wallet path.
type ConfirmForeignPath func(addressN []uint32) (bool, error)

// Host is the request/reply pump driving the session: the signer
// suspends exactly at these calls, each one logically a TxRequest sent and
// a TxAck awaited, and resumes with whatever the call returns. A real
// transport implements Host by framing a TxRequest of the matching
// RequestType, sending it, and decoding the reply into the typed Ack
// struct — any reply of the wrong kind or index is the transport's
// responsibility to surface as a DataError. Direct synchronous Go calls,
// rather than an explicit yield/resume generator, preserve the one thing
// that matters: suspension points and their exact ordering.
type Host interface {
	RequestInput(index int) (TxInputAck, error)
	RequestOutput(index int) (TxOutputAck, error)

	RequestPrevMeta(prevHash [32]byte) (PrevTxMetaAck, error)
	RequestPrevInput(prevHash [32]byte, index int) (PrevTxInputAck, error)
	RequestPrevOutput(prevHash [32]byte, index int) (PrevTxOutputAck, error)
	RequestPrevExtraData(prevHash [32]byte, offset, length uint32) ([]byte, error)

	ConfirmOutput(out TxOutputAck, scriptPubKey []byte) (bool, error)
	ConfirmTotal(spending, fee uint64) (bool, error)
	ConfirmFeeOverThreshold(fee uint64, weightBytes int) (bool, error)
	ConfirmLockTime(lockTime uint32) (bool, error)
	ConfirmForeignPath(addressN []uint32) (bool, error)

	// EmitSerialized streams one fragment of the signed transaction back
	// to the host. Concatenation in call order yields the final tx.
	EmitSerialized(fragment TxRequestSerialized) error

	// Finished signals TXFINISHED and awaits the host's final
	// acknowledgement.
	Finished() error
}
