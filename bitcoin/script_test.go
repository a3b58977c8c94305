package bitcoin

import (
	"bytes"
	"testing"
)

func TestWritePushDataScript(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		prefix []byte
	}{
		{"single byte push", 0x4b, []byte{0x4b}},
		{"push data 1", 0x4c, []byte{OP_PUSH_DATA_1, 0x4c}},
		{"push data 1 max", 254, []byte{OP_PUSH_DATA_1, 254}},
		{"push data 2", 255, []byte{OP_PUSH_DATA_2, 0xff, 0x00}},
		{"push data 2 large", 1000, []byte{OP_PUSH_DATA_2, 0xe8, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			buf := &bytes.Buffer{}
			if err := WritePushDataScript(buf, data); err != nil {
				t.Fatalf("Failed to write push data : %s", err)
			}

			if !bytes.HasPrefix(buf.Bytes(), tt.prefix) {
				t.Errorf("prefix : got %x, want %x", buf.Bytes()[:len(tt.prefix)], tt.prefix)
			}
			if buf.Len() != len(tt.prefix)+tt.size {
				t.Errorf("length : got %d, want %d", buf.Len(), len(tt.prefix)+tt.size)
			}
			if uint64(buf.Len()) != PushDataScriptSize(uint64(tt.size)) {
				t.Errorf("PushDataScriptSize disagrees with written length")
			}
		})
	}
}

func TestScriptEqual(t *testing.T) {
	a := Script{OP_DUP, OP_HASH160}
	b := Script{OP_DUP, OP_HASH160}
	c := Script{OP_DUP, OP_EQUAL}

	if !a.Equal(b) {
		t.Errorf("Equal scripts reported unequal")
	}
	if a.Equal(c) {
		t.Errorf("Unequal scripts reported equal")
	}
	if a.Equal(a[:1]) {
		t.Errorf("Different lengths reported equal")
	}
}
