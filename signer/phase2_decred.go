package signer

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"github.com/bkledger/hwsigner/bitcoin"
	"github.com/bkledger/hwsigner/signer/hash143"
	"github.com/bkledger/hwsigner/signer/scripts"
	"github.com/bkledger/hwsigner/signer/writer"
)

// phase2Decred signs every input against the finalized prefix hash. The
// non-witness transaction body already streamed out during phase 1, except
// the held-back final output: it is replayed here at the head of the first
// witness fragment, followed by locktime, expiry, and the witness count,
// so the emitted stream concatenates into Decred's full wire layout.
func (s *Signer) phase2Decred(ctx context.Context) error {
	s.setState(ctx, stateP2Witnesses)

	for i := 0; i < s.tx.InputCount; i++ {
		ack, err := s.host.RequestInput(i)
		if err != nil {
			return errors.Wrapf(err, "request input %d", i)
		}
		if err := s.phase2CheckInput(ack); err != nil {
			return err
		}
		if !ack.HasAmount {
			return newError(KindDataError, "input %d missing required amount", i)
		}

		key, err := s.keychain.Derive(ack.AddressN, s.coin.CurveName)
		if err != nil {
			return errors.Wrap(err, "derive key")
		}
		pub := key.PublicKeyBytes()

		var prevPkScript []byte
		switch ack.ScriptType {
		case ScriptLegacyMultisig:
			if ack.Multisig == nil {
				return newError(KindDataError, "multisig input missing descriptor")
			}
			prevPkScript, err = scripts.Multisig(ack.Multisig.Pubkeys, ack.Multisig.M)
		case ScriptLegacyP2PKH:
			prevPkScript, err = scripts.P2PKH(bitcoin.Hash160(pub))
		default:
			return newError(KindDataError, "unsupported input script type %d", ack.ScriptType)
		}
		if err != nil {
			return errors.Wrap(err, "derive previous pkScript")
		}

		digest, err := s.hashCtx.PreimageHash(hash143.InputSigningFields{
			InputIndex: i,
			PrevScript: prevPkScript,
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
		if i == 0 {
			if err := writer.WriteBytes(frag, s.lastOutputBytes); err != nil {
				return errors.Wrap(err, "replay final output")
			}
			if err := writer.WriteUint32LE(frag, s.tx.LockTime); err != nil {
				return err
			}
			if err := writer.WriteUint32LE(frag, s.expiry()); err != nil {
				return err
			}
			if err := writer.WriteVarInt(frag, uint64(s.tx.InputCount)); err != nil {
				return err
			}
		}
		if err := writeTxInputDecredWitness(frag, ack.Amount, scriptSig); err != nil {
			return errors.Wrapf(err, "serialize witness %d", i)
		}
		if err := s.emitSigned(i, signature, frag.Bytes()); err != nil {
			return err
		}
	}

	s.setState(ctx, stateP2Trailer)
	return nil
}
