// Package signer implements the transaction-signing protocol engine of a
// hardware-wallet firmware: the two-phase streaming state machine that
// validates a host-supplied transaction against user confirmation, then
// re-streams it back fully signed, without ever buffering the whole
// transaction in memory.
package signer

import (
	"context"

	"github.com/pkg/errors"
	"github.com/tokenized/logger"

	"github.com/bkledger/hwsigner/signer/fingerprint"
	"github.com/bkledger/hwsigner/signer/hash143"
	"github.com/bkledger/hwsigner/signer/weight"
	"github.com/bkledger/hwsigner/signer/writer"
)

// state names the signer's position in the protocol. Used only for
// logging; transitions are driven entirely by Sign's call order.
type state int

const (
	stateInit state = iota
	stateP1Inputs
	stateP1Outputs
	stateP1Confirm
	stateP2Inputs
	stateP2Outputs
	stateP2Witnesses
	stateP2Trailer
	stateDone
)

func (s state) String() string {
	names := [...]string{"Init", "P1-Inputs", "P1-Outputs", "P1-Confirm",
		"P2-Inputs", "P2-Outputs", "P2-Witnesses", "P2-Trailer", "Done"}
	if int(s) < len(names) {
		return names[s]
	}
	return "Unknown"
}

// Signer is the orchestrator: it owns the transaction metadata, drives
// phase 1 and phase 2 against a Host, and streams serialized fragments
// back through it. One Signer signs exactly one transaction; scheduling is
// single-threaded and cooperative. Create a new Signer per session.
//
// The signer never retains host-supplied input or output records across
// its request boundary beyond a narrow set of derived summaries: a per-index is-segwit flag for
// inputs (re-requested fresh in phase 2), the derived output binaries
// (produced once and replayed, never re-requested), the running
// accumulators, the wallet-path/fingerprint trackers, and the h_first
// structural digest that anchors the cross-phase consistency check.
type Signer struct {
	coin     CoinConfig
	keychain Keychain
	host     Host
	tx       SignTx

	state   state
	variant HashVariant
	hashCtx hash143.Context

	weightCalc  *weight.Calculator
	fingerprint *fingerprint.Fingerprint
	walletPath  *fingerprint.WalletPath
	acc         accumulators

	// segwit records, by input index, whether phase 1 classified that
	// input as a segwit variant, the only per-input fact retained;
	// everything else about an input is re-derived from a fresh
	// RequestInput call in phase 2.
	segwit []bool

	// outputs holds the derived binary form of every output, produced
	// once in phase 1 and replayed verbatim into the phase-2 output
	// stream and prefix hashers.
	outputs []txOutputBin

	// hFirst is the structural digest of everything streamed in phase 1.
	// Its phase-2 counterpart is recomputed locally for each legacy
	// signing pass and compared against it.
	hFirst *writer.HashSink

	// lastOutputBytes holds Decred's final serialized output, replayed at
	// the head of the witness region in phase 2.
	lastOutputBytes []byte
}

// New constructs a Signer for one session. coin and tx must describe the
// transaction header the host already sent and the signer sanitized; they
// are immutable for the life of the session.
func New(coin CoinConfig, keychain Keychain, host Host, tx SignTx) *Signer {
	return &Signer{
		coin:        coin,
		keychain:    keychain,
		host:        host,
		tx:          tx,
		fingerprint: fingerprint.New(),
		walletPath:  fingerprint.NewWalletPath(),
		hFirst:      writer.NewSha256Sink(),
	}
}

// Sign drives the full two-phase protocol to completion: validate and
// confirm in phase 1, then serialize and sign in phase 2. Any error is
// fatal to the session; the host learns through transport-level abort, and
// no further stream bytes are emitted after the error.
func (s *Signer) Sign(ctx context.Context) error {
	logger.InfoWithFields(ctx, []logger.Field{
		logger.String("coin", s.coin.Name),
		logger.Int("inputs", s.tx.InputCount),
		logger.Int("outputs", s.tx.OutputCount),
	}, "Starting signing session")

	if err := s.newHashContext(); err != nil {
		return errors.Wrap(err, "select hash context")
	}
	s.weightCalc = weight.New(s.tx.InputCount, s.tx.OutputCount)

	if err := s.phase1(ctx); err != nil {
		logger.Warn(ctx, "Signing aborted in %s : %s", s.state, err)
		return err
	}
	if err := s.phase2(ctx); err != nil {
		logger.Warn(ctx, "Signing aborted in %s : %s", s.state, err)
		return err
	}

	s.setState(ctx, stateDone)
	return s.host.Finished()
}

func (s *Signer) setState(ctx context.Context, next state) {
	logger.Verbose(ctx, "State %s -> %s", s.state, next)
	s.state = next
}

// newHashContext selects and constructs the hashing strategy this session
// uses: a tagged variant chosen once from coin parameters and tx version,
// not subclassed.
func (s *Signer) newHashContext() error {
	s.variant = s.coin.SelectHashVariant(s.tx.Version, s.coin.Segwit)

	switch s.variant {
	case HashVariantBip143, HashVariantLegacy:
		// A Bip143 accumulator is built unconditionally for the Bitcoin
		// family: prevouts and sequences are folded in for every input
		// regardless of segwit-ness, and legacy inputs
		// simply never call PreimageHash on it.
		s.hashCtx = hash143.NewBip143()
		return nil

	case HashVariantZip143:
		branchID := s.tx.BranchID
		if !s.tx.HasBranchID {
			branchID = s.coin.BranchID
		}
		ctx, err := hash143.NewZip143(branchID)
		if err != nil {
			return err
		}
		s.hashCtx = ctx
		return nil

	case HashVariantZip243:
		branchID := s.tx.BranchID
		if !s.tx.HasBranchID {
			branchID = s.coin.BranchID
		}
		ctx, err := hash143.NewZip243(branchID)
		if err != nil {
			return err
		}
		s.hashCtx = ctx
		return nil

	case HashVariantDecredPrefix:
		ctx, err := hash143.NewDecredPrefix(uint16(s.tx.Version), s.tx.InputCount)
		if err != nil {
			return err
		}
		s.hashCtx = ctx
		return nil

	default:
		return newError(KindFirmwareError, "unknown hash variant %d", s.variant)
	}
}

// fee returns total_in - total_out as a signed value; negative means the
// outputs exceed the inputs.
func (s *Signer) fee() int64 {
	return int64(s.acc.totalIn) - int64(s.acc.totalOut)
}

// anySegwit reports whether any input classified as segwit during phase 1.
func (s *Signer) anySegwit() bool {
	for _, isSegwit := range s.segwit {
		if isSegwit {
			return true
		}
	}
	return false
}

// expiry returns the locktime-adjacent expiry field for coins that carry
// one (Zcash, Decred); zero otherwise.
func (s *Signer) expiry() uint32 {
	if s.tx.HasExpiry {
		return s.tx.Expiry
	}
	return 0
}
