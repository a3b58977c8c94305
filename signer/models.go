package signer

// SignTx is the transaction header: immutable for the life of a session,
// created from a sanitized host message at session start and discarded at
// session end.
type SignTx struct {
	Version           int32
	InputCount        int
	OutputCount       int
	LockTime          uint32
	Expiry            uint32 // Zcash / Decred, optional
	HasExpiry         bool
	Timestamp         uint32 // optional, timestamped coins
	HasTimestamp      bool
	VersionGroupID    uint32 // optional, Zcash
	HasVersionGroupID bool
	BranchID          uint32 // optional, Zcash; overrides CoinConfig.BranchID if set
	HasBranchID       bool
}

// txOutputBin is the derived binary form of a TxOutput, produced once from
// the host's TxOutputAck in phase 1 and then fed to hashers and replayed
// into the phase-2 output stream without re-deriving it: the one
// TxOutput-derived object the signer retains across its request boundary.
type txOutputBin struct {
	Amount              uint64
	ScriptPubKey        []byte
	DecredScriptVersion uint16
	IsDecredOutput      bool
}

// accumulators holds the running sums the signer keeps across its request
// boundary, besides the hash sinks themselves: total_in, total_out,
// change_out, and bip143_in (decremented in phase 2 to catch amount
// inflation between the confirmed view and the signed one).
type accumulators struct {
	totalIn    uint64
	totalOut   uint64
	changeOut  uint64
	changeSeen bool
	bip143In   uint64
}
