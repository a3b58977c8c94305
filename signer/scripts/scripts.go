// Package scripts derives scriptPubKey, scriptSig, redeem scripts, and
// witness stacks for the address families the signer supports. Every
// function here is a pure transform from a descriptor to bytes; none of them
// touch the host stream or any running hash.
package scripts

import (
	"bytes"

	"github.com/pkg/errors"

	"github.com/bkledger/hwsigner/bitcoin"
)

// P2PKH returns OP_DUP OP_HASH160 <pkh> OP_EQUALVERIFY OP_CHECKSIG.
func P2PKH(pkh []byte) ([]byte, error) {
	if len(pkh) != bitcoin.PublicKeyHashSize {
		return nil, errors.Errorf("pkh must be %d bytes", bitcoin.PublicKeyHashSize)
	}

	buf := &bytes.Buffer{}
	buf.WriteByte(bitcoin.OP_DUP)
	buf.WriteByte(bitcoin.OP_HASH160)
	if err := bitcoin.WritePushDataScript(buf, pkh); err != nil {
		return nil, errors.Wrap(err, "push pkh")
	}
	buf.WriteByte(bitcoin.OP_EQUALVERIFY)
	buf.WriteByte(bitcoin.OP_CHECKSIG)
	return buf.Bytes(), nil
}

// P2SH returns OP_HASH160 <sh> OP_EQUAL.
func P2SH(sh []byte) ([]byte, error) {
	if len(sh) != bitcoin.PublicKeyHashSize {
		return nil, errors.Errorf("sh must be %d bytes", bitcoin.PublicKeyHashSize)
	}

	buf := &bytes.Buffer{}
	buf.WriteByte(bitcoin.OP_HASH160)
	if err := bitcoin.WritePushDataScript(buf, sh); err != nil {
		return nil, errors.Wrap(err, "push sh")
	}
	buf.WriteByte(bitcoin.OP_EQUAL)
	return buf.Bytes(), nil
}

// NativeWitnessProgram returns OP_0 <witprog>, the native segwit scriptPubKey
// shared by P2WPKH (20 byte program) and P2WSH (32 byte program).
func NativeWitnessProgram(witprog []byte) ([]byte, error) {
	if len(witprog) != 20 && len(witprog) != 32 {
		return nil, errors.New("witness program must be 20 or 32 bytes")
	}

	buf := &bytes.Buffer{}
	buf.WriteByte(bitcoin.OP_0)
	if err := bitcoin.WritePushDataScript(buf, witprog); err != nil {
		return nil, errors.Wrap(err, "push witprog")
	}
	return buf.Bytes(), nil
}

// Multisig returns the standard `m <pub1>..<pubN> n OP_CHECKMULTISIG` script.
// pubkeys are written in the order given by the caller: BIP-67 ordering, if
// applied, is the caller's responsibility. Fingerprinting treats the pubkey
// *set* plus the threshold as identity, independent of this ordering.
func Multisig(pubkeys [][]byte, m int) ([]byte, error) {
	n := len(pubkeys)
	if m <= 0 || m > n || n > 15 {
		return nil, errors.Errorf("invalid multisig threshold %d of %d", m, n)
	}

	buf := &bytes.Buffer{}
	if err := pushSmallNumber(buf, m); err != nil {
		return nil, err
	}
	for _, pk := range pubkeys {
		if err := bitcoin.WritePushDataScript(buf, pk); err != nil {
			return nil, errors.Wrap(err, "push pubkey")
		}
	}
	if err := pushSmallNumber(buf, n); err != nil {
		return nil, err
	}
	buf.WriteByte(bitcoin.OP_CHECKMULTISIG)
	return buf.Bytes(), nil
}

func pushSmallNumber(buf *bytes.Buffer, n int) error {
	if n < 1 || n > 16 {
		return errors.Errorf("small number %d out of OP_1..OP_16 range", n)
	}
	buf.WriteByte(byte(bitcoin.OP_1) + byte(n-1))
	return nil
}

// OpReturn returns OP_RETURN <push(data)>.
func OpReturn(data []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(bitcoin.OP_RETURN)
	if err := bitcoin.WritePushDataScript(buf, data); err != nil {
		return nil, errors.Wrap(err, "push data")
	}
	return buf.Bytes(), nil
}

// InputP2PKHOrP2SH returns <sig> <pub> for a legacy P2PKH input.
func InputP2PKHOrP2SH(sig, pubkey []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := bitcoin.WritePushDataScript(buf, sig); err != nil {
		return nil, errors.Wrap(err, "push sig")
	}
	if err := bitcoin.WritePushDataScript(buf, pubkey); err != nil {
		return nil, errors.Wrap(err, "push pubkey")
	}
	return buf.Bytes(), nil
}

// InputMultisig returns OP_0 <sig1> <sig2>... <redeemScript>, the classic
// P2SH-multisig scriptSig. OP_0 compensates for OP_CHECKMULTISIG's off-by-one
// stack bug. sigs must already be ordered to match redeemScript's pubkey
// order, with no gaps.
func InputMultisig(sigs [][]byte, redeemScript []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(bitcoin.OP_0)
	for _, sig := range sigs {
		if err := bitcoin.WritePushDataScript(buf, sig); err != nil {
			return nil, errors.Wrap(err, "push sig")
		}
	}
	if err := bitcoin.WritePushDataScript(buf, redeemScript); err != nil {
		return nil, errors.Wrap(err, "push redeem script")
	}
	return buf.Bytes(), nil
}

// InputP2WPKHInP2SH returns the scriptSig for a P2SH-nested P2WPKH input: a
// single push of the 22-byte witness program redeem script.
func InputP2WPKHInP2SH(witprog20 []byte) ([]byte, error) {
	redeem, err := NativeWitnessProgram(witprog20)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := bitcoin.WritePushDataScript(buf, redeem); err != nil {
		return nil, errors.Wrap(err, "push redeem")
	}
	return buf.Bytes(), nil
}

// InputP2WSHInP2SH returns the scriptSig for a P2SH-nested P2WSH input: a
// single push of the 34-byte witness program redeem script.
func InputP2WSHInP2SH(witprog32 []byte) ([]byte, error) {
	redeem, err := NativeWitnessProgram(witprog32)
	if err != nil {
		return nil, err
	}
	buf := &bytes.Buffer{}
	if err := bitcoin.WritePushDataScript(buf, redeem); err != nil {
		return nil, errors.Wrap(err, "push redeem")
	}
	return buf.Bytes(), nil
}

// InputNativeSegwit returns the scriptSig for a native segwit input, which
// is always empty: the spend authorization lives entirely in the witness.
func InputNativeSegwit() []byte {
	return nil
}

// WitnessP2WPKH returns the two-item witness stack [sig, pubkey].
func WitnessP2WPKH(sig, pubkey []byte) [][]byte {
	return [][]byte{sig, pubkey}
}

// WitnessP2WSH returns the witness stack for a P2WSH multisig input: a
// leading OP_0 placeholder (again compensating for CHECKMULTISIG), zero
// entries for signatures not yet collected, the partial signature placed at
// signatureIndex, and the redeem script as the final item.
func WitnessP2WSH(redeemScript []byte, n int, signatureIndex int, sig []byte) ([][]byte, error) {
	if signatureIndex < 0 || signatureIndex >= n {
		return nil, errors.Errorf("signature index %d out of range for %d signers", signatureIndex, n)
	}

	stack := make([][]byte, 0, n+2)
	stack = append(stack, nil) // OP_0 placeholder
	for i := 0; i < n; i++ {
		if i == signatureIndex {
			stack = append(stack, sig)
		} else {
			stack = append(stack, nil)
		}
	}
	stack = append(stack, redeemScript)
	return stack, nil
}

// EmptyWitness is the single 0x00 byte item count used to mark a non-segwit
// input's witness slot in a transaction that otherwise carries witness data.
func EmptyWitness() [][]byte {
	return [][]byte{}
}
