package signer

import (
	"github.com/pkg/errors"

	"github.com/bkledger/hwsigner/bitcoin"
	"github.com/bkledger/hwsigner/signer/scripts"
	"github.com/bkledger/hwsigner/signer/weight"
)

// derivePubkeyHash derives the public key at addressN and returns its
// Hash160, the building block for every single-key script family.
func (s *Signer) derivePubkeyHash(addressN []uint32) ([]byte, []byte, error) {
	key, err := s.keychain.Derive(addressN, s.coin.CurveName)
	if err != nil {
		return nil, nil, errors.Wrap(err, "derive key")
	}
	pub := key.PublicKeyBytes()
	return bitcoin.Hash160(pub), pub, nil
}

// witnessProgramSH returns the Hash160 of a native segwit witness program,
// the form a nested (P2SH-wrapped) segwit scriptPubKey is built from.
func witnessProgramSH(witprog []byte) []byte {
	return bitcoin.Hash160(witprog)
}

// inputScriptCode derives the scriptCode substituted into the signing
// preimage at this input's position: p2pkh(pkh) for single-key variants,
// the multisig redeem script for P2(W)SH-multisig variants.
func (s *Signer) inputScriptCode(addressN []uint32, scriptType ScriptType,
	ms *MultisigDescriptor) ([]byte, error) {

	switch scriptType {
	case ScriptLegacyP2PKH, ScriptNestedSegwitP2WPKH, ScriptNativeSegwitP2WPKH:
		pkh, _, err := s.derivePubkeyHash(addressN)
		if err != nil {
			return nil, err
		}
		return scripts.P2PKH(pkh)

	case ScriptLegacyMultisig, ScriptNestedSegwitP2WSH, ScriptNativeSegwitP2WSH:
		if ms == nil {
			return nil, newError(KindDataError, "multisig input missing descriptor")
		}
		return scripts.Multisig(ms.Pubkeys, ms.M)

	default:
		return nil, newError(KindProcessError, "unknown input script type %d", scriptType)
	}
}

// outputScriptPubKey derives the scriptPubKey for an output. Plain address
// outputs arrive pre-decoded from the host (address decoding happens in
// the address layer, not here); every change variant is derived
// from the output's own BIP-32 path or multisig descriptor the same way an
// input's locking script is.
func (s *Signer) outputScriptPubKey(ack TxOutputAck) ([]byte, error) {
	switch ack.ScriptType {
	case OutputAddress:
		if len(ack.Address) == 0 {
			return nil, newError(KindDataError, "address output missing decoded script")
		}
		return ack.Address, nil

	case OutputOpReturn:
		return scripts.OpReturn(ack.OpReturnData)

	case OutputChangeP2PKH:
		pkh, _, err := s.derivePubkeyHash(ack.AddressN)
		if err != nil {
			return nil, err
		}
		return scripts.P2PKH(pkh)

	case OutputChangeP2WPKH:
		pkh, _, err := s.derivePubkeyHash(ack.AddressN)
		if err != nil {
			return nil, err
		}
		return scripts.NativeWitnessProgram(pkh)

	case OutputChangeP2SHP2WPKH:
		pkh, _, err := s.derivePubkeyHash(ack.AddressN)
		if err != nil {
			return nil, err
		}
		witprog, err := scripts.NativeWitnessProgram(pkh)
		if err != nil {
			return nil, err
		}
		return scripts.P2SH(witnessProgramSH(witprog))

	case OutputChangeMultisig:
		if ack.Multisig == nil {
			return nil, newError(KindDataError, "multisig output missing descriptor")
		}
		redeem, err := scripts.Multisig(ack.Multisig.Pubkeys, ack.Multisig.M)
		if err != nil {
			return nil, err
		}
		return scripts.P2SH(bitcoin.Hash160(redeem))

	case OutputChangeMultisigP2WSH:
		if ack.Multisig == nil {
			return nil, newError(KindDataError, "multisig output missing descriptor")
		}
		redeem, err := scripts.Multisig(ack.Multisig.Pubkeys, ack.Multisig.M)
		if err != nil {
			return nil, err
		}
		return scripts.NativeWitnessProgram(bitcoin.Sha256(redeem))

	default:
		return nil, newError(KindProcessError, "unknown output script type %d", ack.ScriptType)
	}
}

// toWeightScriptType converts a signer.ScriptType into the weight
// calculator's vocabulary. The two enums are declared in the same order
// for exactly this reason.
func toWeightScriptType(t ScriptType) weight.ScriptType {
	return weight.ScriptType(t)
}
