package writer

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/bkledger/hwsigner/bitcoin"
)

func TestWriteVarInt(t *testing.T) {
	tests := []struct {
		value uint64
		want  string
	}{
		{0, "00"},
		{0xfc, "fc"},
		{0xfd, "fdfd00"},
		{0xffff, "fdffff"},
		{0x10000, "fe00000100"},
		{0xffffffff, "feffffffff"},
		{0x100000000, "ff0000000001000000"},
	}

	for _, tt := range tests {
		buf := &bytes.Buffer{}
		if err := WriteVarInt(buf, tt.value); err != nil {
			t.Fatalf("Failed to write varint %d : %s", tt.value, err)
		}
		if hex.EncodeToString(buf.Bytes()) != tt.want {
			t.Errorf("varint %d : got %x, want %s", tt.value, buf.Bytes(), tt.want)
		}
	}
}

func TestWritePrimitives(t *testing.T) {
	buf := &bytes.Buffer{}
	if err := WriteUint8(buf, 0xab); err != nil {
		t.Fatal(err)
	}
	if err := WriteUint16LE(buf, 0x0201); err != nil {
		t.Fatal(err)
	}
	if err := WriteUint32LE(buf, 0x04030201); err != nil {
		t.Fatal(err)
	}
	if err := WriteUint64LE(buf, 0x0807060504030201); err != nil {
		t.Fatal(err)
	}
	if err := WriteVarBytes(buf, []byte{0xde, 0xad}); err != nil {
		t.Fatal(err)
	}
	if err := WriteBytesReversed(buf, []byte{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	want := "ab" + "0102" + "01020304" + "0102030405060708" + "02dead" + "030201"
	if hex.EncodeToString(buf.Bytes()) != want {
		t.Errorf("primitives : got %x, want %s", buf.Bytes(), want)
	}
}

// TestSinkEquivalence writes the same serialization into a byte buffer and
// a hash sink, and checks the sink digested exactly the buffered bytes.
func TestSinkEquivalence(t *testing.T) {
	write := func(w Sink) {
		WriteUint32LE(w, 2)
		WriteVarInt(w, 300)
		WriteVarBytes(w, []byte{1, 2, 3, 4, 5})
		WriteUint64LE(w, 987654321)
	}

	buf := &bytes.Buffer{}
	write(buf)

	sink := NewSha256Sink()
	write(sink)

	if !bytes.Equal(sink.Sum(), bitcoin.Sha256(buf.Bytes())) {
		t.Errorf("Hash sink digest does not match buffered serialization")
	}
}

func TestGetTxHash(t *testing.T) {
	data := []byte("transaction bytes")
	sum := bitcoin.Sha256(data)

	single := GetTxHash(sum, false, false)
	if !bytes.Equal(single, sum) {
		t.Errorf("single : got %x, want %x", single, sum)
	}

	double := GetTxHash(sum, true, false)
	if !bytes.Equal(double, bitcoin.DoubleSha256(data)) {
		t.Errorf("double : got %x, want %x", double, bitcoin.DoubleSha256(data))
	}

	reversed := GetTxHash(sum, true, true)
	for i := range reversed {
		if reversed[i] != double[len(double)-1-i] {
			t.Fatalf("reverse : byte %d not mirrored", i)
		}
	}
}

func TestBlake2bPersonalizationChangesDigest(t *testing.T) {
	var p1, p2 [16]byte
	copy(p1[:], "ZcashPrevoutHash")
	copy(p2[:], "ZcashOutputsHash")

	s1, err := NewBlake2b256PersonalizedSink(p1)
	if err != nil {
		t.Fatal(err)
	}
	s2, err := NewBlake2b256PersonalizedSink(p2)
	if err != nil {
		t.Fatal(err)
	}

	WriteBytes(s1, []byte("same data"))
	WriteBytes(s2, []byte("same data"))

	if bytes.Equal(s1.Sum(), s2.Sum()) {
		t.Errorf("Different personalizations produced the same digest")
	}
	if len(s1.Sum()) != 32 {
		t.Errorf("Digest length : got %d, want 32", len(s1.Sum()))
	}
}
