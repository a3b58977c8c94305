package signer

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"github.com/bkledger/hwsigner/bitcoin"
	"github.com/bkledger/hwsigner/signer/fingerprint"
	"github.com/bkledger/hwsigner/signer/hash143"
	"github.com/bkledger/hwsigner/signer/scripts"
	"github.com/bkledger/hwsigner/signer/writer"
)

// phase2 serializes and signs the transaction. Inputs are
// re-requested from the host and checked against the phase-1 view before
// any signature is produced; outputs are replayed from the binaries derived
// in phase 1 and are therefore unchangeable by construction. Serialized
// fragments stream out as they are produced — concatenated in emission
// order they form the final signed transaction.
func (s *Signer) phase2(ctx context.Context) error {
	if s.coin.Decred {
		return s.phase2Decred(ctx)
	}

	s.setState(ctx, stateP2Inputs)
	anySegwit := s.anySegwit()

	for i := 0; i < s.tx.InputCount; i++ {
		var err error
		switch {
		case s.segwit[i]:
			err = s.phase2SerializeSegwitInput(ctx, i, anySegwit)
		case s.coin.ForceBip143 || s.coin.Overwintered:
			err = s.phase2SignBip143Input(ctx, i, anySegwit)
		default:
			err = s.phase2SignLegacyInput(ctx, i, anySegwit)
		}
		if err != nil {
			return err
		}
	}

	s.setState(ctx, stateP2Outputs)
	for i, bin := range s.outputs {
		frag := &bytes.Buffer{}
		if i == 0 {
			if err := writer.WriteVarInt(frag, uint64(s.tx.OutputCount)); err != nil {
				return errors.Wrap(err, "serialize output count")
			}
		}
		if err := writeOutputBin(frag, bin); err != nil {
			return errors.Wrapf(err, "serialize output %d", i)
		}
		if err := s.emit(frag.Bytes()); err != nil {
			return errors.Wrap(err, "emit output")
		}
	}

	s.setState(ctx, stateP2Witnesses)
	if anySegwit {
		for i := 0; i < s.tx.InputCount; i++ {
			if s.segwit[i] {
				if err := s.phase2SignSegwitWitness(ctx, i); err != nil {
					return err
				}
			} else if err := s.emit([]byte{0x00}); err != nil {
				return errors.Wrap(err, "emit empty witness")
			}
		}
	}

	s.setState(ctx, stateP2Trailer)
	return s.phase2Trailer()
}

// phase2Trailer emits locktime and, for overwintered transactions, the
// expiry height and the zeroed shielded counters.
func (s *Signer) phase2Trailer() error {
	trailer := &bytes.Buffer{}
	if err := writer.WriteUint32LE(trailer, s.tx.LockTime); err != nil {
		return errors.Wrap(err, "serialize locktime")
	}

	if s.coin.Overwintered {
		switch s.tx.Version {
		case 3:
			if err := writer.WriteUint32LE(trailer, s.expiry()); err != nil {
				return err
			}
			if err := writer.WriteVarInt(trailer, 0); err != nil { // nJoinSplit
				return err
			}
		case 4:
			if err := writer.WriteUint32LE(trailer, s.expiry()); err != nil {
				return err
			}
			if err := writer.WriteUint64LE(trailer, 0); err != nil { // valueBalance
				return err
			}
			if err := writer.WriteVarInt(trailer, 0); err != nil { // nShieldedSpend
				return err
			}
			if err := writer.WriteVarInt(trailer, 0); err != nil { // nShieldedOutput
				return err
			}
			if err := writer.WriteVarInt(trailer, 0); err != nil { // nJoinSplit
				return err
			}
		default:
			return newError(KindDataError, "unsupported version %d for overwintered transaction", s.tx.Version)
		}
	}

	return s.emit(trailer.Bytes())
}

// phase2CheckInput verifies a re-requested input against the phase-1 view:
// its BIP-32 path must still share the wallet path, and when every phase-1
// input carried the same multisig fingerprint, this one still must.
func (s *Signer) phase2CheckInput(ack TxInputAck) error {
	if !s.walletPath.SharesPrefix(ack.AddressN) {
		return newError(KindProcessError, "transaction has changed during signing")
	}
	if !s.fingerprint.Mismatch() {
		if ack.Multisig == nil || !s.fingerprint.Matches(&fingerprint.Multisig{
			Pubkeys: ack.Multisig.Pubkeys, M: ack.Multisig.M,
		}) {
			return newError(KindProcessError, "transaction has changed during signing")
		}
	}
	return nil
}

// phase2SerializeSegwitInput emits the stream-ready non-witness bytes of a
// segwit input: the outpoint, its (possibly empty) scriptSig, and the
// sequence, with the transaction header prepended on input 0. No signature
// is produced here; that happens in the witness pass.
func (s *Signer) phase2SerializeSegwitInput(ctx context.Context, index int, anySegwit bool) error {
	ack, err := s.host.RequestInput(index)
	if err != nil {
		return errors.Wrapf(err, "request input %d", index)
	}
	if !ack.ScriptType.IsSegwit() {
		return newError(KindProcessError, "transaction has changed during signing")
	}
	if !s.walletPath.SharesPrefix(ack.AddressN) {
		return newError(KindProcessError, "transaction has changed during signing")
	}
	// The multisig fingerprint is not checked here: no signature is
	// produced until the witness pass, which checks it.

	key, err := s.keychain.Derive(ack.AddressN, s.coin.CurveName)
	if err != nil {
		return errors.Wrap(err, "derive key")
	}
	pub := key.PublicKeyBytes()

	var scriptSig []byte
	switch ack.ScriptType {
	case ScriptNestedSegwitP2WPKH:
		scriptSig, err = scripts.InputP2WPKHInP2SH(bitcoin.Hash160(pub))
	case ScriptNestedSegwitP2WSH:
		if ack.Multisig == nil {
			return newError(KindDataError, "multisig input missing descriptor")
		}
		var redeem []byte
		redeem, err = scripts.Multisig(ack.Multisig.Pubkeys, ack.Multisig.M)
		if err == nil {
			scriptSig, err = scripts.InputP2WSHInP2SH(bitcoin.Sha256(redeem))
		}
	case ScriptNativeSegwitP2WPKH, ScriptNativeSegwitP2WSH:
		scriptSig = scripts.InputNativeSegwit()
	default:
		return newError(KindProcessError, "unknown input script type %d", ack.ScriptType)
	}
	if err != nil {
		return errors.Wrap(err, "derive scriptSig")
	}

	frag := &bytes.Buffer{}
	if index == 0 {
		if err := s.writeTxHeader(frag, anySegwit); err != nil {
			return errors.Wrap(err, "serialize header")
		}
	}
	if err := writeTxInput(frag, ack.PrevHash, ack.PrevIndex, scriptSig, ack.Sequence); err != nil {
		return errors.Wrapf(err, "serialize input %d", index)
	}
	return s.emit(frag.Bytes())
}

// phase2SignBip143Input signs a legacy-typed input on a coin that forces
// BIP-143 (fork-id coins, Zcash): the precomputed prefix digests produce
// the preimage directly, with the per-input amount checked against the
// phase-1 sum before it is trusted.
func (s *Signer) phase2SignBip143Input(ctx context.Context, index int, anySegwit bool) error {
	ack, err := s.host.RequestInput(index)
	if err != nil {
		return errors.Wrapf(err, "request input %d", index)
	}
	if err := s.phase2CheckInput(ack); err != nil {
		return err
	}

	isBip143 := ack.ScriptType == ScriptLegacyP2PKH || ack.ScriptType == ScriptLegacyMultisig
	if !isBip143 || !ack.HasAmount || ack.Amount > s.acc.bip143In {
		return newError(KindProcessError, "transaction has changed during signing")
	}
	s.acc.bip143In -= ack.Amount

	key, err := s.keychain.Derive(ack.AddressN, s.coin.CurveName)
	if err != nil {
		return errors.Wrap(err, "derive key")
	}
	pub := key.PublicKeyBytes()

	scriptCode, err := s.inputScriptCode(ack.AddressN, ack.ScriptType, ack.Multisig)
	if err != nil {
		return err
	}

	digest, err := s.hashCtx.PreimageHash(hash143.InputSigningFields{
		Version:        s.tx.Version,
		VersionGroupID: s.tx.VersionGroupID,
		PrevHash:       ack.PrevHash,
		PrevIndex:      ack.PrevIndex,
		ScriptCode:     scriptCode,
		Amount:         ack.Amount,
		Sequence:       ack.Sequence,
		LockTime:       s.tx.LockTime,
		ExpiryHeight:   s.expiry(),
		HashType:       s.hashType(),
	})
	if err != nil {
		return errors.Wrap(err, "preimage hash")
	}

	signature, err := key.Sign(digest)
	if err != nil {
		return errors.Wrap(err, "sign")
	}

	scriptSig, err := s.finalScriptSig(ack, pub, signature)
	if err != nil {
		return err
	}

	frag := &bytes.Buffer{}
	if index == 0 {
		if err := s.writeTxHeader(frag, anySegwit); err != nil {
			return errors.Wrap(err, "serialize header")
		}
	}
	if err := writeTxInput(frag, ack.PrevHash, ack.PrevIndex, scriptSig, ack.Sequence); err != nil {
		return errors.Wrapf(err, "serialize input %d", index)
	}
	return s.emitSigned(index, signature, frag.Bytes())
}

// phase2SignLegacyInput streams the whole transaction again to build the
// classic sighash preimage for one input, recomputing h_second along the
// way and refusing to sign unless it matches h_first bit for bit. The
// signing input's scriptSig is substituted with the previous output's
// pkScript (P2PKH) or the redeem script (multisig); every other input
// serializes with an empty scriptSig.
func (s *Signer) phase2SignLegacyInput(ctx context.Context, indexSign int, anySegwit bool) error {
	hSign := writer.NewSha256Sink()
	hSecond := writer.NewSha256Sink()

	if err := writer.WriteUint32LE(hSign, uint32(s.tx.Version)); err != nil {
		return err
	}
	if s.coin.Timestamp {
		if err := writer.WriteUint32LE(hSign, s.tx.Timestamp); err != nil {
			return err
		}
	}
	if err := writer.WriteVarInt(hSign, uint64(s.tx.InputCount)); err != nil {
		return err
	}

	var signAck TxInputAck
	var key PrivateKey
	var pub []byte

	for i := 0; i < s.tx.InputCount; i++ {
		ack, err := s.host.RequestInput(i)
		if err != nil {
			return errors.Wrapf(err, "request input %d", i)
		}
		if !s.walletPath.SharesPrefix(ack.AddressN) {
			return newError(KindProcessError, "transaction has changed during signing")
		}
		if err := writeInputStructural(hSecond, ack); err != nil {
			return errors.Wrap(err, "fold input into h_second")
		}

		var scriptSig []byte
		if i == indexSign {
			if err := s.phase2CheckInput(ack); err != nil {
				return err
			}
			signAck = ack

			key, err = s.keychain.Derive(ack.AddressN, s.coin.CurveName)
			if err != nil {
				return errors.Wrap(err, "derive key")
			}
			pub = key.PublicKeyBytes()

			switch ack.ScriptType {
			case ScriptLegacyMultisig:
				if ack.Multisig == nil {
					return newError(KindDataError, "multisig input missing descriptor")
				}
				scriptSig, err = scripts.Multisig(ack.Multisig.Pubkeys, ack.Multisig.M)
			case ScriptLegacyP2PKH:
				scriptSig, err = scripts.P2PKH(bitcoin.Hash160(pub))
			default:
				return newError(KindProcessError, "unknown transaction type")
			}
			if err != nil {
				return errors.Wrap(err, "derive signing scriptSig")
			}
		}
		if err := writeTxInput(hSign, ack.PrevHash, ack.PrevIndex, scriptSig, ack.Sequence); err != nil {
			return errors.Wrapf(err, "serialize input %d into preimage", i)
		}
	}

	if err := writer.WriteVarInt(hSign, uint64(s.tx.OutputCount)); err != nil {
		return err
	}
	for i, bin := range s.outputs {
		if err := writeOutputBin(hSecond, bin); err != nil {
			return errors.Wrap(err, "fold output into h_second")
		}
		if err := writeOutputBin(hSign, bin); err != nil {
			return errors.Wrapf(err, "serialize output %d into preimage", i)
		}
	}

	if err := writer.WriteUint32LE(hSign, s.tx.LockTime); err != nil {
		return err
	}
	if err := writer.WriteUint32LE(hSign, s.hashType()); err != nil {
		return err
	}

	if !bytes.Equal(s.hFirst.Sum(), hSecond.Sum()) {
		return newError(KindProcessError, "transaction has changed during signing")
	}

	if signAck.Multisig != nil {
		if _, err := multisigPubkeyIndex(signAck.Multisig, pub); err != nil {
			return err
		}
	}

	digest := writer.GetTxHash(hSign.Sum(), s.coin.SignHashDouble, false)
	signature, err := key.Sign(digest)
	if err != nil {
		return errors.Wrap(err, "sign")
	}

	scriptSig, err := s.finalScriptSig(signAck, pub, signature)
	if err != nil {
		return err
	}

	frag := &bytes.Buffer{}
	if indexSign == 0 {
		if err := s.writeTxHeader(frag, anySegwit); err != nil {
			return errors.Wrap(err, "serialize header")
		}
	}
	if err := writeTxInput(frag, signAck.PrevHash, signAck.PrevIndex, scriptSig, signAck.Sequence); err != nil {
		return errors.Wrapf(err, "serialize input %d", indexSign)
	}
	return s.emitSigned(indexSign, signature, frag.Bytes())
}

// phase2SignSegwitWitness computes the BIP-143 (or ZIP-243) preimage for a
// segwit input, signs it, and emits the witness stack with the signature
// index attached. The per-input amount is checked against the remaining
// phase-1 sum and decremented.
func (s *Signer) phase2SignSegwitWitness(ctx context.Context, index int) error {
	ack, err := s.host.RequestInput(index)
	if err != nil {
		return errors.Wrapf(err, "request input %d", index)
	}
	if err := s.phase2CheckInput(ack); err != nil {
		return err
	}
	if !ack.ScriptType.IsSegwit() || !ack.HasAmount || ack.Amount > s.acc.bip143In {
		return newError(KindProcessError, "transaction has changed during signing")
	}
	s.acc.bip143In -= ack.Amount

	key, err := s.keychain.Derive(ack.AddressN, s.coin.CurveName)
	if err != nil {
		return errors.Wrap(err, "derive key")
	}
	pub := key.PublicKeyBytes()

	scriptCode, err := s.inputScriptCode(ack.AddressN, ack.ScriptType, ack.Multisig)
	if err != nil {
		return err
	}

	digest, err := s.hashCtx.PreimageHash(hash143.InputSigningFields{
		Version:        s.tx.Version,
		VersionGroupID: s.tx.VersionGroupID,
		PrevHash:       ack.PrevHash,
		PrevIndex:      ack.PrevIndex,
		ScriptCode:     scriptCode,
		Amount:         ack.Amount,
		Sequence:       ack.Sequence,
		LockTime:       s.tx.LockTime,
		ExpiryHeight:   s.expiry(),
		HashType:       s.hashType(),
	})
	if err != nil {
		return errors.Wrap(err, "preimage hash")
	}

	signature, err := key.Sign(digest)
	if err != nil {
		return errors.Wrap(err, "sign")
	}
	sigWithHashType := append(append([]byte(nil), signature...), uint8(s.hashType()))

	var stack [][]byte
	if ack.Multisig != nil {
		sigIndex, err := multisigPubkeyIndex(ack.Multisig, pub)
		if err != nil {
			return err
		}
		redeem, err := scripts.Multisig(ack.Multisig.Pubkeys, ack.Multisig.M)
		if err != nil {
			return errors.Wrap(err, "derive redeem script")
		}
		stack, err = scripts.WitnessP2WSH(redeem, len(ack.Multisig.Pubkeys), sigIndex, sigWithHashType)
		if err != nil {
			return errors.Wrap(err, "build witness")
		}
	} else {
		stack = scripts.WitnessP2WPKH(sigWithHashType, pub)
	}

	frag := &bytes.Buffer{}
	if err := writeWitnessStack(frag, stack); err != nil {
		return errors.Wrapf(err, "serialize witness %d", index)
	}
	return s.emitSigned(index, signature, frag.Bytes())
}

// finalScriptSig builds the scriptSig carrying the produced signature, for
// the legacy and BIP-143-forced input families.
func (s *Signer) finalScriptSig(ack TxInputAck, pub, signature []byte) ([]byte, error) {
	sigWithHashType := append(append([]byte(nil), signature...), uint8(s.hashType()))

	switch ack.ScriptType {
	case ScriptLegacyP2PKH:
		return scripts.InputP2PKHOrP2SH(sigWithHashType, pub)

	case ScriptLegacyMultisig:
		if ack.Multisig == nil {
			return nil, newError(KindDataError, "multisig input missing descriptor")
		}
		if _, err := multisigPubkeyIndex(ack.Multisig, pub); err != nil {
			return nil, err
		}
		redeem, err := scripts.Multisig(ack.Multisig.Pubkeys, ack.Multisig.M)
		if err != nil {
			return nil, errors.Wrap(err, "derive redeem script")
		}
		return scripts.InputMultisig([][]byte{sigWithHashType}, redeem)

	default:
		return nil, newError(KindProcessError, "unknown input script type %d", ack.ScriptType)
	}
}

// multisigPubkeyIndex returns the position of pub within the descriptor's
// pubkey list, the slot this device's signature occupies in the script or
// witness stack.
func multisigPubkeyIndex(ms *MultisigDescriptor, pub []byte) (int, error) {
	for i, pk := range ms.Pubkeys {
		if bytes.Equal(pk, pub) {
			return i, nil
		}
	}
	return 0, newError(KindDataError, "pubkey not found in multisig script")
}
