package assets

import (
	"encoding/binary"
	"testing"
	"testing/fstest"

	"github.com/cockroachdb/errors"
)

func spirvWords(words ...uint32) []byte {
	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

func TestBytecode(t *testing.T) {
	code, err := Bytecode(spirvWords(spirvMagic, 0x00010000, 42))
	if err != nil {
		t.Fatal(err)
	}

	want := []uint32{spirvMagic, 0x00010000, 42}
	if len(code) != len(want) {
		t.Fatalf("len = %d, want %d", len(code), len(want))
	}
	for i := range want {
		if code[i] != want[i] {
			t.Errorf("word %d = %#x, want %#x", i, code[i], want[i])
		}
	}
}

func TestBytecodeRejects(t *testing.T) {
	tests := map[string][]byte{
		"empty":       nil,
		"unaligned":   {0x03, 0x02, 0x23, 0x07, 0x00},
		"wrong magic": spirvWords(0xdeadbeef),
	}

	for name, b := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Bytecode(b)
			if !errors.Is(err, ErrShaderLoad) {
				t.Errorf("err = %v, want ErrShaderLoad", err)
			}
		})
	}
}

func TestLoadShaderMissingFile(t *testing.T) {
	_, err := LoadShader(fstest.MapFS{}, "shaders/vert.spv")
	if !errors.Is(err, ErrShaderLoad) {
		t.Errorf("err = %v, want ErrShaderLoad", err)
	}
}
