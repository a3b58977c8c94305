package hash143

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"testing"

	"github.com/decred/dcrd/crypto/blake256"
)

func hash32FromHex(t *testing.T, s string) [32]byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("Failed to decode hash : %s", err)
	}
	var result [32]byte
	copy(result[:], b)
	return result
}

// TestBip143Vector checks the accumulator against the native P2WPKH example
// in the BIP-143 appendix: two inputs, two outputs, signing input 1 with a
// 6 BTC amount and locktime 17.
func TestBip143Vector(t *testing.T) {
	b := NewBip143()

	prev0 := hash32FromHex(t, "fff7f7881a8099afa6940d42d1e7f6362bec38171ea3edf433541db4e4ad969f")
	prev1 := hash32FromHex(t, "ef51e1b804cc89d182d279655c3aa89e815b1b309fe287d9b2b55d57b90ec68a")

	if err := b.AddPrevout(prev0, 0, 0); err != nil {
		t.Fatalf("Failed to add prevout : %s", err)
	}
	if err := b.AddSequence(0xffffffee); err != nil {
		t.Fatalf("Failed to add sequence : %s", err)
	}
	if err := b.AddPrevout(prev1, 1, 0); err != nil {
		t.Fatalf("Failed to add prevout : %s", err)
	}
	if err := b.AddSequence(0xffffffff); err != nil {
		t.Fatalf("Failed to add sequence : %s", err)
	}

	script0, _ := hex.DecodeString("76a9148280b37df378db99f66f85c95a783a76ac7a6d5988ac")
	script1, _ := hex.DecodeString("76a9143bde42dbee7e4dbe6a21b2d50ce2f0167faa815988ac")
	if err := b.AddOutput(112340000, script0, 0); err != nil {
		t.Fatalf("Failed to add output : %s", err)
	}
	if err := b.AddOutput(223450000, script1, 0); err != nil {
		t.Fatalf("Failed to add output : %s", err)
	}

	if err := b.AddLocktimeExpiry(17, 0); err != nil {
		t.Fatalf("Failed to finalize : %s", err)
	}

	checks := []struct {
		name string
		got  []byte
		want string
	}{
		{"hashPrevouts", b.finalPrevouts, "96b827c8483d4e9b96712b6713a7b68d6e8003a781feba36c31143470b4efd37"},
		{"hashSequence", b.finalSequence, "52b0a642eea2fb7ae638c36f6252b6750293dbe574a806984b8e4d8548339a3b"},
		{"hashOutputs", b.finalOutputs, "863ef3e1a92afbfdb97f31ad0fc7683ee943e9abcf2501590ff8f6551f47e5e5"},
	}
	for _, check := range checks {
		want, _ := hex.DecodeString(check.want)
		if !bytes.Equal(check.got, want) {
			t.Errorf("%s : got %x, want %x", check.name, check.got, want)
		}
	}

	scriptCode, _ := hex.DecodeString("76a9141d0f172a0ecb48aee1be1f2687d2963ae33f71a188ac")
	digest, err := b.PreimageHash(InputSigningFields{
		Version:    1,
		PrevHash:   prev1,
		PrevIndex:  1,
		ScriptCode: scriptCode,
		Amount:     600000000,
		Sequence:   0xffffffff,
		LockTime:   17,
		HashType:   1,
	})
	if err != nil {
		t.Fatalf("Failed to compute preimage hash : %s", err)
	}

	want, _ := hex.DecodeString("c37af31116d1b27caf68aae9e3ac82f1477929014d5b917657d0eb49478cb670")
	if !bytes.Equal(digest, want) {
		t.Errorf("sighash : got %x, want %x", digest, want)
	}
}

func TestBip143RequiresFinalize(t *testing.T) {
	b := NewBip143()
	if _, err := b.PreimageHash(InputSigningFields{}); err == nil {
		t.Fatalf("Expected error computing preimage before finalize")
	}
}

// TestDecredPrefix recomputes the prefix and witness hashes with an
// independent serialization and compares the full signing digest.
func TestDecredPrefix(t *testing.T) {
	prev0 := hash32FromHex(t, "4a269b8e0d74ad3b2eb04f30bc3d9b5f44b2a9f9f2b3a0e1b44e9f2b3a0e1b44")
	prev1 := hash32FromHex(t, "b2a9f9f2b3a0e1b44e9f2b3a0e1b444a269b8e0d74ad3b2eb04f30bc3d9b5f44")
	pkScript0, _ := hex.DecodeString("76a914000102030405060708090a0b0c0d0e0f1011121388ac")
	pkScript1, _ := hex.DecodeString("76a914131211100f0e0d0c0b0a0908070605040302010088ac")

	d, err := NewDecredPrefix(1, 2)
	if err != nil {
		t.Fatalf("Failed to create prefix hasher : %s", err)
	}

	if err := d.AddPrevout(prev0, 0, 0); err != nil {
		t.Fatalf("Failed to add prevout : %s", err)
	}
	if err := d.AddSequence(0xffffffff); err != nil {
		t.Fatalf("Failed to add sequence : %s", err)
	}
	if err := d.AddPrevout(prev1, 2, 1); err != nil {
		t.Fatalf("Failed to add prevout : %s", err)
	}
	if err := d.AddSequence(0xfffffffe); err != nil {
		t.Fatalf("Failed to add sequence : %s", err)
	}
	if err := d.AddOutputCount(1); err != nil {
		t.Fatalf("Failed to add output count : %s", err)
	}
	if err := d.AddOutput(90000000, pkScript0, 0); err != nil {
		t.Fatalf("Failed to add output : %s", err)
	}
	if err := d.AddLocktimeExpiry(0, 100000); err != nil {
		t.Fatalf("Failed to finalize : %s", err)
	}

	// Rebuild the prefix serialization by hand.
	prefix := &bytes.Buffer{}
	binary.Write(prefix, binary.LittleEndian, uint32(1)|(1<<16)) // version | no witness
	prefix.WriteByte(2)                                          // input count
	prefix.Write(prev0[:])
	binary.Write(prefix, binary.LittleEndian, uint32(0))
	prefix.WriteByte(0) // tree
	binary.Write(prefix, binary.LittleEndian, uint32(0xffffffff))
	prefix.Write(prev1[:])
	binary.Write(prefix, binary.LittleEndian, uint32(2))
	prefix.WriteByte(1) // tree
	binary.Write(prefix, binary.LittleEndian, uint32(0xfffffffe))
	prefix.WriteByte(1) // output count
	binary.Write(prefix, binary.LittleEndian, uint64(90000000))
	binary.Write(prefix, binary.LittleEndian, uint16(0)) // script version
	prefix.WriteByte(byte(len(pkScript0)))
	prefix.Write(pkScript0)
	binary.Write(prefix, binary.LittleEndian, uint32(0))      // locktime
	binary.Write(prefix, binary.LittleEndian, uint32(100000)) // expiry

	prefixHasher := blake256.New()
	prefixHasher.Write(prefix.Bytes())
	wantPrefix := prefixHasher.Sum(nil)
	if !bytes.Equal(d.prefixHash, wantPrefix) {
		t.Fatalf("prefix hash : got %x, want %x", d.prefixHash, wantPrefix)
	}

	// Witness hash for input 1 isolates that input's pkScript.
	witness := &bytes.Buffer{}
	binary.Write(witness, binary.LittleEndian, uint32(1)|(3<<16)) // version | witness signing
	witness.WriteByte(2)                                          // input count
	witness.WriteByte(0)                                          // input 0 : empty script
	witness.WriteByte(byte(len(pkScript1)))
	witness.Write(pkScript1)

	witnessHasher := blake256.New()
	witnessHasher.Write(witness.Bytes())
	wantWitness := witnessHasher.Sum(nil)

	preimage := &bytes.Buffer{}
	binary.Write(preimage, binary.LittleEndian, uint32(1)) // SIGHASH_ALL
	preimage.Write(wantPrefix)
	preimage.Write(wantWitness)
	finalHasher := blake256.New()
	finalHasher.Write(preimage.Bytes())
	want := finalHasher.Sum(nil)

	digest, err := d.PreimageHash(InputSigningFields{InputIndex: 1, PrevScript: pkScript1})
	if err != nil {
		t.Fatalf("Failed to compute preimage hash : %s", err)
	}
	if !bytes.Equal(digest, want) {
		t.Errorf("signing digest : got %x, want %x", digest, want)
	}
}

func TestDecredPrefixInputIndexRange(t *testing.T) {
	d, err := NewDecredPrefix(1, 1)
	if err != nil {
		t.Fatalf("Failed to create prefix hasher : %s", err)
	}
	if err := d.AddLocktimeExpiry(0, 0); err != nil {
		t.Fatalf("Failed to finalize : %s", err)
	}
	if _, err := d.PreimageHash(InputSigningFields{InputIndex: 1}); err == nil {
		t.Fatalf("Expected error for out of range input index")
	}
}

// TestZipPreimage checks the structural properties of the Overwinter and
// Sapling preimages: deterministic, 32 bytes, sensitive to the branch id,
// and distinct between the two formats.
func TestZipPreimage(t *testing.T) {
	prev := hash32FromHex(t, "4a269b8e0d74ad3b2eb04f30bc3d9b5f44b2a9f9f2b3a0e1b44e9f2b3a0e1b44")
	scriptCode, _ := hex.DecodeString("76a914000102030405060708090a0b0c0d0e0f1011121388ac")
	pkScript, _ := hex.DecodeString("76a914131211100f0e0d0c0b0a0908070605040302010088ac")

	fields := InputSigningFields{
		Version:        4,
		VersionGroupID: 0x892F2085,
		PrevHash:       prev,
		PrevIndex:      0,
		ScriptCode:     scriptCode,
		Amount:         50000000,
		Sequence:       0xffffffff,
		LockTime:       0,
		ExpiryHeight:   500000,
		HashType:       1,
	}

	build := func(branchID uint32, sapling bool) []byte {
		t.Helper()
		var ctx Context
		var err error
		if sapling {
			ctx, err = NewZip243(branchID)
		} else {
			ctx, err = NewZip143(branchID)
		}
		if err != nil {
			t.Fatalf("Failed to create hasher : %s", err)
		}
		if err := ctx.AddPrevout(prev, 0, 0); err != nil {
			t.Fatalf("Failed to add prevout : %s", err)
		}
		if err := ctx.AddSequence(0xffffffff); err != nil {
			t.Fatalf("Failed to add sequence : %s", err)
		}
		if err := ctx.AddOutput(49000000, pkScript, 0); err != nil {
			t.Fatalf("Failed to add output : %s", err)
		}
		if err := ctx.AddLocktimeExpiry(0, 500000); err != nil {
			t.Fatalf("Failed to finalize : %s", err)
		}
		digest, err := ctx.PreimageHash(fields)
		if err != nil {
			t.Fatalf("Failed to compute preimage hash : %s", err)
		}
		return digest
	}

	sapling := build(0x76B809BB, true)
	saplingAgain := build(0x76B809BB, true)
	overwinter := build(0x5BA81B19, false)
	saplingOtherBranch := build(0x5BA81B19, true)

	if len(sapling) != 32 {
		t.Fatalf("Digest length : got %d, want 32", len(sapling))
	}
	if !bytes.Equal(sapling, saplingAgain) {
		t.Errorf("Sapling digest not deterministic")
	}
	if bytes.Equal(sapling, overwinter) {
		t.Errorf("Sapling and Overwinter digests should differ")
	}
	if bytes.Equal(sapling, saplingOtherBranch) {
		t.Errorf("Branch id should change the digest")
	}
}

// TestZipPersonalization checks the BLAKE2b personalization layout: tag
// padded to 12 bytes plus the little endian branch id.
func TestZipPersonalization(t *testing.T) {
	p := zipPersonalization("ZcashSigHash", 0x76B809BB)
	want := append([]byte("ZcashSigHash"), 0xBB, 0x09, 0xB8, 0x76)
	if !bytes.Equal(p[:], want) {
		t.Errorf("personalization : got %x, want %x", p[:], want)
	}

	tag := zipTagPersonalization("ZcashPrevoutHash")
	if !bytes.Equal(tag[:], []byte("ZcashPrevoutHash")) {
		t.Errorf("tag personalization : got %x", tag[:])
	}
}
