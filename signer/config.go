package signer

// HashVariant selects which prefix-hasher family a session uses, chosen
// once at session start from CoinConfig and the tx version.
type HashVariant int

const (
	HashVariantLegacy HashVariant = iota
	HashVariantBip143
	HashVariantZip143
	HashVariantZip243
	HashVariantDecredPrefix
)

// CoinConfig carries every per-coin parameter the signer consumes but
// never defines. It is passed explicitly into the signer; there is no
// process-wide coin state.
type CoinConfig struct {
	Name string

	// SignHashDouble selects double- vs single-SHA-256 for the legacy
	// sighash digest.
	SignHashDouble bool

	// CurveName names the elliptic curve the Keychain derives keys on.
	CurveName string

	// MaxFeeKB is the maximum fee-per-kilobyte, in the coin's smallest
	// unit, before the signer requires an explicit fee confirmation.
	MaxFeeKB uint64

	// NegativeFee permits total_in < total_out (coins that allow
	// subsidized or otherwise negative-fee transactions).
	NegativeFee bool

	// ForkID is the BIP-143 hash-type extension identifying a chain fork
	// (e.g. Bitcoin Cash). It is used only when HasForkID is set.
	ForkID uint32
	// HasForkID reports whether ForkID should be folded into the hash
	// type; some coins legitimately use fork id 0.
	HasForkID bool

	// Segwit enables native/nested segwit script types for this coin.
	Segwit bool
	// ForceBip143 requires BIP-143 sighash even for legacy-looking script
	// types (used by fork-id coins that replaced legacy sighash outright).
	ForceBip143 bool

	// Overwintered selects the Zcash ZIP-143/ZIP-243 sighash family.
	Overwintered bool
	// BranchID is the active Zcash consensus branch id, folding into the
	// BLAKE2b personalization.
	BranchID uint32

	// Timestamp adds a u32 timestamp field after the version, for
	// timestamped coin families.
	Timestamp bool
	// ExtraData enables the coin's extra-data trailer on prev-tx
	// reconstruction.
	ExtraData bool

	// Decred selects the Decred prefix/witness sighash family and trailer
	// layout instead of the Bitcoin family's.
	Decred bool

	Bech32Prefix   string
	CashAddrPrefix string

	AddressType     uint8
	AddressTypeP2SH uint8
	B58Hash         uint8
}

// SelectHashVariant returns the hashing variant this coin and tx version
// select, fixed once at session start.
func (c CoinConfig) SelectHashVariant(txVersion int32, anySegwitInput bool) HashVariant {
	switch {
	case c.Decred:
		return HashVariantDecredPrefix
	case c.Overwintered && txVersion >= 4:
		return HashVariantZip243
	case c.Overwintered:
		return HashVariantZip143
	case c.Segwit && anySegwitInput:
		return HashVariantBip143
	case c.ForceBip143:
		return HashVariantBip143
	default:
		return HashVariantLegacy
	}
}

const (
	// Bip32ChangeChain is the maximum change-chain level a silent-change
	// output may carry.
	Bip32ChangeChain = 1
	// Bip32MaxLastElement is the maximum address-index level a silent-
	// change output may carry.
	Bip32MaxLastElement = 1000000
)
