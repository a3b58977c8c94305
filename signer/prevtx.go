package signer

import (
	"bytes"
	"context"

	"github.com/pkg/errors"

	"github.com/bkledger/hwsigner/signer/writer"
)

// decredPrevNoWitness is the serialization-type flag OR'd into the version
// of a reconstructed Decred prev-tx: its id hashes over the no-witness
// form.
const decredPrevNoWitness = uint32(1) << 16

// verifyPrevTxValue resolves the amount a legacy input actually spends:
// the signer only trusts the host-supplied prevout once it has
// independently reconstructed the referenced transaction's own id hash
// from the host's streamed reply and confirmed it equals the claimed
// prev_hash. The hasher mirrors whatever the referenced coin's own
// transactions are id-hashed with: the overwintered version bit and group
// id for Zcash, a timestamp for timestamped coins, an extra-data trailer
// for coins that carry one, and BLAKE-256 over the no-witness form for
// Decred.
func (s *Signer) verifyPrevTxValue(ctx context.Context, prevHash [32]byte, prevIndex uint32) (uint64, error) {
	meta, err := s.host.RequestPrevMeta(prevHash)
	if err != nil {
		return 0, errors.Wrap(err, "request prev-tx meta")
	}
	if prevIndex >= uint32(meta.OutputCount) {
		return 0, newError(KindDataError, "prev-tx output index %d out of range for %d outputs",
			prevIndex, meta.OutputCount)
	}

	var h *writer.HashSink
	if s.coin.Decred {
		h = writer.NewBlake256Sink()
	} else {
		h = writer.NewSha256Sink()
	}

	switch {
	case s.coin.Overwintered:
		if err := writer.WriteUint32LE(h, uint32(meta.Version)|zcashOverwintered); err != nil {
			return 0, err
		}
		if err := writer.WriteUint32LE(h, meta.VersionGroupID); err != nil {
			return 0, err
		}
	case s.coin.Decred:
		if err := writer.WriteUint32LE(h, uint32(meta.Version)|decredPrevNoWitness); err != nil {
			return 0, err
		}
	default:
		if err := writer.WriteUint32LE(h, uint32(meta.Version)); err != nil {
			return 0, err
		}
		if s.coin.Timestamp {
			if err := writer.WriteUint32LE(h, meta.Timestamp); err != nil {
				return 0, err
			}
		}
	}

	if err := writer.WriteVarInt(h, uint64(meta.InputCount)); err != nil {
		return 0, err
	}
	for i := 0; i < meta.InputCount; i++ {
		in, err := s.host.RequestPrevInput(prevHash, i)
		if err != nil {
			return 0, errors.Wrapf(err, "request prev-tx input %d", i)
		}
		if err := writer.WriteBytes(h, in.PrevHash[:]); err != nil {
			return 0, err
		}
		if err := writer.WriteUint32LE(h, in.PrevIndex); err != nil {
			return 0, err
		}
		if s.coin.Decred {
			if err := writer.WriteUint8(h, uint8(in.Tree)); err != nil {
				return 0, err
			}
		} else {
			if err := writer.WriteVarBytes(h, in.ScriptSig); err != nil {
				return 0, err
			}
		}
		if err := writer.WriteUint32LE(h, in.Sequence); err != nil {
			return 0, err
		}
	}

	if err := writer.WriteVarInt(h, uint64(meta.OutputCount)); err != nil {
		return 0, err
	}

	var amount uint64
	for i := 0; i < meta.OutputCount; i++ {
		out, err := s.host.RequestPrevOutput(prevHash, i)
		if err != nil {
			return 0, errors.Wrapf(err, "request prev-tx output %d", i)
		}

		if err := writer.WriteUint64LE(h, out.Amount); err != nil {
			return 0, err
		}
		if s.coin.Decred {
			if err := writer.WriteUint16LE(h, out.ScriptVersion); err != nil {
				return 0, err
			}
		}
		if err := writer.WriteVarBytes(h, out.PkScript); err != nil {
			return 0, err
		}

		if uint32(i) == prevIndex {
			if s.coin.Decred && out.ScriptVersion != 0 {
				return 0, newError(KindProcessError,
					"cannot use utxo with script version %d", out.ScriptVersion)
			}
			amount = out.Amount
		}
	}

	if err := writer.WriteUint32LE(h, meta.LockTime); err != nil {
		return 0, err
	}
	if s.coin.Decred {
		if err := writer.WriteUint32LE(h, meta.Expiry); err != nil {
			return 0, err
		}
	}
	if s.coin.ExtraData && meta.ExtraDataLen > 0 {
		extra, err := s.host.RequestPrevExtraData(prevHash, 0, meta.ExtraDataLen)
		if err != nil {
			return 0, errors.Wrap(err, "request prev-tx extra data")
		}
		if err := writer.WriteBytes(h, extra); err != nil {
			return 0, err
		}
	}

	digest := writer.GetTxHash(h.Sum(), s.coin.SignHashDouble, false)
	if !bytes.Equal(digest, prevHash[:]) {
		return 0, newError(KindProcessError, "encountered invalid prev_hash")
	}

	return amount, nil
}
