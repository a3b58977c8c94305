package signer

import (
	"bytes"
	"context"

	"github.com/pkg/errors"
	"github.com/tokenized/logger"

	"github.com/bkledger/hwsigner/signer/fingerprint"
	"github.com/bkledger/hwsigner/signer/writer"
)

// phase1 validates and confirms the transaction. It
// requests every input and output exactly once, folds each input's
// structural data into h_first (the baseline phase 2 must reproduce)
// and the coin's prefix hasher, classifies script types, accumulates
// totals, tracks the multisig fingerprint and wallet path, and finally
// confirms the fee, locktime, and total with the user.
func (s *Signer) phase1(ctx context.Context) error {
	s.setState(ctx, stateP1Inputs)
	s.segwit = make([]bool, 0, s.tx.InputCount)

	for i := 0; i < s.tx.InputCount; i++ {
		ack, err := s.host.RequestInput(i)
		if err != nil {
			return errors.Wrapf(err, "request input %d", i)
		}

		isSegwit, err := s.processPhase1Input(ctx, i, ack)
		if err != nil {
			return err
		}
		s.segwit = append(s.segwit, isSegwit)
	}

	if err := s.hashCtx.AddOutputCount(uint64(s.tx.OutputCount)); err != nil {
		return errors.Wrap(err, "add output count")
	}

	s.setState(ctx, stateP1Outputs)
	s.outputs = make([]txOutputBin, 0, s.tx.OutputCount)

	for i := 0; i < s.tx.OutputCount; i++ {
		ack, err := s.host.RequestOutput(i)
		if err != nil {
			return errors.Wrapf(err, "request output %d", i)
		}

		bin, err := s.processPhase1Output(ctx, i, ack)
		if err != nil {
			return err
		}
		s.outputs = append(s.outputs, bin)
	}

	if err := s.hashCtx.AddLocktimeExpiry(s.tx.LockTime, s.expiry()); err != nil {
		return errors.Wrap(err, "finalize prefix hashes")
	}

	return s.phase1Confirm(ctx)
}

// processPhase1Input folds ack into h_first, feeds the coin's prefix
// hasher, updates the wallet-path and fingerprint trackers, resolves the
// spent amount (trusting the host directly for segwit-shaped coins,
// independently verifying it otherwise), and returns whether this
// input is a segwit variant — the only fact about it the signer retains
// past this call.
func (s *Signer) processPhase1Input(ctx context.Context, index int, ack TxInputAck) (bool, error) {
	if err := writeInputStructural(s.hFirst, ack); err != nil {
		return false, errors.Wrap(err, "fold input into h_first")
	}

	if err := s.hashCtx.AddPrevout(ack.PrevHash, ack.PrevIndex, ack.Tree); err != nil {
		return false, errors.Wrap(err, "add prevout")
	}
	if err := s.hashCtx.AddSequence(ack.Sequence); err != nil {
		return false, errors.Wrap(err, "add sequence")
	}

	wasAbsent := s.walletPath.Absent()
	s.walletPath.Add(ack.AddressN)
	if !wasAbsent && s.walletPath.Absent() {
		ok, err := s.host.ConfirmForeignPath(ack.AddressN)
		if err != nil {
			return false, errors.Wrap(err, "confirm foreign path")
		}
		if !ok {
			return false, newError(KindActionCancelled, "foreign BIP-32 path rejected")
		}
	}

	var ms *fingerprint.Multisig
	if ack.Multisig != nil {
		ms = &fingerprint.Multisig{Pubkeys: ack.Multisig.Pubkeys, M: ack.Multisig.M}
	}
	s.fingerprint.Add(ms)

	isSegwit := ack.ScriptType.IsSegwit()
	if isSegwit && !s.coin.Segwit {
		return false, newError(KindDataError, "segwit not enabled on this coin")
	}
	needsAmount := isSegwit || s.coin.ForceBip143 || s.coin.Decred || s.coin.Overwintered

	var amount uint64
	if needsAmount {
		if !ack.HasAmount {
			return false, newError(KindDataError, "input %d missing required amount", index)
		}
		amount = ack.Amount
	} else {
		verified, err := s.verifyPrevTxValue(ctx, ack.PrevHash, ack.PrevIndex)
		if err != nil {
			return false, errors.Wrapf(err, "verify prev-tx value for input %d", index)
		}
		amount = verified
	}

	s.acc.totalIn += amount
	s.acc.bip143In += amount

	s.weightCalc.AddInput(toWeightScriptType(ack.ScriptType), multisigM(ack.Multisig), multisigN(ack.Multisig))

	if s.coin.Decred {
		// Decred's non-witness input bytes never change between phases, so
		// they stream out during phase 1, header first.
		frag := &bytes.Buffer{}
		if index == 0 {
			if err := s.writeTxHeader(frag, false); err != nil {
				return false, errors.Wrap(err, "serialize header")
			}
		}
		if err := writeTxInputDecred(frag, ack.PrevHash, ack.PrevIndex, ack.Tree, ack.Sequence); err != nil {
			return false, errors.Wrapf(err, "serialize input %d", index)
		}
		if err := s.emit(frag.Bytes()); err != nil {
			return false, errors.Wrap(err, "emit input")
		}
	}

	return isSegwit, nil
}

// processPhase1Output derives the output's scriptPubKey, folds it into the
// coin's prefix hasher, updates the weight calculator, asks the host to
// confirm it unless it qualifies as silent change, and returns the derived
// binary form the signer replays in phase 2.
func (s *Signer) processPhase1Output(ctx context.Context, index int, ack TxOutputAck) (txOutputBin, error) {
	if s.coin.Decred && ack.DecredScriptVersion != 0 {
		return txOutputBin{}, newError(KindActionCancelled,
			"cannot send to output with script version %d", ack.DecredScriptVersion)
	}

	scriptPubKey, err := s.outputScriptPubKey(ack)
	if err != nil {
		return txOutputBin{}, errors.Wrapf(err, "derive output %d script", index)
	}

	bin := txOutputBin{
		Amount:              ack.Amount,
		ScriptPubKey:        scriptPubKey,
		DecredScriptVersion: ack.DecredScriptVersion,
		IsDecredOutput:      s.coin.Decred,
	}

	isChange := s.isSilentChange(ack)

	if !isChange {
		ok, err := s.host.ConfirmOutput(ack, scriptPubKey)
		if err != nil {
			return txOutputBin{}, errors.Wrap(err, "confirm output")
		}
		if !ok {
			return txOutputBin{}, newError(KindActionCancelled, "output %d rejected", index)
		}
	}

	if err := writeOutputBin(s.hFirst, bin); err != nil {
		return txOutputBin{}, errors.Wrap(err, "fold output into h_first")
	}
	if err := s.hashCtx.AddOutput(ack.Amount, scriptPubKey, ack.DecredScriptVersion); err != nil {
		return txOutputBin{}, errors.Wrap(err, "add output to prefix hash")
	}

	s.weightCalc.AddOutput(scriptPubKey)

	s.acc.totalOut += ack.Amount
	if isChange {
		s.acc.changeOut += ack.Amount
	}

	if s.coin.Decred {
		// Decred outputs also stream during phase 1, except the last one:
		// its bytes are held back and replayed at the head of the phase-2
		// witness region, after which locktime and expiry follow.
		frag := &bytes.Buffer{}
		if index == 0 {
			if err := writer.WriteVarInt(frag, uint64(s.tx.OutputCount)); err != nil {
				return txOutputBin{}, errors.Wrap(err, "serialize output count")
			}
		}
		if err := writeOutputBin(frag, bin); err != nil {
			return txOutputBin{}, errors.Wrapf(err, "serialize output %d", index)
		}
		if index == s.tx.OutputCount-1 {
			s.lastOutputBytes = frag.Bytes()
		} else if err := s.emit(frag.Bytes()); err != nil {
			return txOutputBin{}, errors.Wrap(err, "emit output")
		}
	}

	return bin, nil
}

// isSilentChange decides whether an output needs no confirmation: iff
// no other output has already been accepted as silent change, its type is change-
// capable, its multisig descriptor (if any) matches the running
// fingerprint, and its address_n shares the wallet path with exactly two
// trailing levels within bounds.
func (s *Signer) isSilentChange(ack TxOutputAck) bool {
	if s.acc.changeSeen {
		return false
	}
	if !ack.ScriptType.IsChangeCapable() {
		return false
	}
	if ack.ScriptType.IsMultisig() {
		if ack.Multisig == nil {
			return false
		}
		if !s.fingerprint.Matches(&fingerprint.Multisig{Pubkeys: ack.Multisig.Pubkeys, M: ack.Multisig.M}) {
			return false
		}
	}
	if !s.walletPath.Matches(ack.AddressN, Bip32ChangeChain, Bip32MaxLastElement) {
		return false
	}

	s.acc.changeSeen = true
	return true
}

func (s *Signer) phase1Confirm(ctx context.Context) error {
	s.setState(ctx, stateP1Confirm)

	fee := s.fee()
	if fee < 0 && !s.coin.NegativeFee {
		return newError(KindNotEnoughFunds, "total_in %d < total_out %d", s.acc.totalIn, s.acc.totalOut)
	}

	if fee > 0 && s.coin.MaxFeeKB > 0 {
		weightBytes := s.weightCalc.GetTotal()
		threshold := (s.coin.MaxFeeKB * uint64(weightBytes)) / (1000 * 4)
		if uint64(fee) > threshold {
			logger.Warn(ctx, "Fee %d over threshold %d (weight %d)", fee, threshold, weightBytes)
			ok, err := s.host.ConfirmFeeOverThreshold(uint64(fee), weightBytes)
			if err != nil {
				return errors.Wrap(err, "confirm fee over threshold")
			}
			if !ok {
				return newError(KindActionCancelled, "fee over threshold rejected")
			}
		}
	}

	if s.tx.LockTime != 0 {
		ok, err := s.host.ConfirmLockTime(s.tx.LockTime)
		if err != nil {
			return errors.Wrap(err, "confirm locktime")
		}
		if !ok {
			return newError(KindActionCancelled, "locktime rejected")
		}
	}

	feeForConfirm := uint64(0)
	if fee > 0 {
		feeForConfirm = uint64(fee)
	}

	// The user confirms what actually leaves the wallet: total inputs less
	// the silent change coming back. That amount already includes the fee,
	// which is also passed on its own.
	spending := s.acc.totalIn - s.acc.changeOut
	ok, err := s.host.ConfirmTotal(spending, feeForConfirm)
	if err != nil {
		return errors.Wrap(err, "confirm total")
	}
	if !ok {
		return newError(KindActionCancelled, "total rejected")
	}

	return nil
}

func multisigM(ms *MultisigDescriptor) int {
	if ms == nil {
		return 0
	}
	return ms.M
}

func multisigN(ms *MultisigDescriptor) int {
	if ms == nil {
		return 0
	}
	return len(ms.Pubkeys)
}

// writeInputStructural folds every field of an input that phase 2's
// re-request must reproduce identically into w: the outpoint,
// sequence, declared amount, script type, BIP-32 path, and multisig
// descriptor. prevout and sequence are also fed separately into the
// coin's prefix hasher for its own cryptographic purpose; duplicating them
// here keeps the cross-phase check independent of that hasher's internal
// behavior.
func writeInputStructural(w *writer.HashSink, ack TxInputAck) error {
	if err := writer.WriteBytes(w, ack.PrevHash[:]); err != nil {
		return err
	}
	if err := writer.WriteUint32LE(w, ack.PrevIndex); err != nil {
		return err
	}
	if err := writer.WriteUint32LE(w, ack.Sequence); err != nil {
		return err
	}
	if err := writer.WriteUint8(w, uint8(ack.ScriptType)); err != nil {
		return err
	}
	if ack.HasAmount {
		if err := writer.WriteUint8(w, 1); err != nil {
			return err
		}
		if err := writer.WriteUint64LE(w, ack.Amount); err != nil {
			return err
		}
	} else {
		if err := writer.WriteUint8(w, 0); err != nil {
			return err
		}
	}
	if err := writeAddressN(w, ack.AddressN); err != nil {
		return err
	}
	return writeMultisig(w, ack.Multisig)
}

func writeAddressN(w *writer.HashSink, addressN []uint32) error {
	if err := writer.WriteVarInt(w, uint64(len(addressN))); err != nil {
		return err
	}
	for _, v := range addressN {
		if err := writer.WriteUint32LE(w, v); err != nil {
			return err
		}
	}
	return nil
}

func writeMultisig(w *writer.HashSink, ms *MultisigDescriptor) error {
	if ms == nil {
		return writer.WriteUint8(w, 0)
	}
	if err := writer.WriteUint8(w, 1); err != nil {
		return err
	}
	if err := writer.WriteUint8(w, uint8(ms.M)); err != nil {
		return err
	}
	if err := writer.WriteVarInt(w, uint64(len(ms.Pubkeys))); err != nil {
		return err
	}
	for _, pk := range ms.Pubkeys {
		if err := writer.WriteVarBytes(w, pk); err != nil {
			return err
		}
	}
	return nil
}
