package s4pp

import (
	"bytes"
	"testing"
)

func TestHideEncoderDecoder_RoundTrip(t *testing.T) {
	spec, ok := LookupCipher("AES-128-CBC")
	if !ok {
		t.Fatal("AES-128-CBC not registered")
	}
	key := bytes.Repeat([]byte{0x42}, spec.BlockSize)

	var wire bytes.Buffer
	enc, err := NewHideEncoder(spec, key, &wire)
	if err != nil {
		t.Fatal(err)
	}

	lines := []string{"SEQ:1,0,1,0", "DICT:0,C,10,temp", "0,0,215"}
	for _, l := range lines {
		if err := enc.WriteLine([]byte(l)); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	if wire.Len()%spec.BlockSize != 0 {
		t.Fatalf("ciphertext length %d is not a multiple of the block size %d", wire.Len(), spec.BlockSize)
	}

	dec, err := NewHideDecoder(spec, key, bytes.NewReader(wire.Bytes()))
	if err != nil {
		t.Fatal(err)
	}

	for _, want := range lines {
		got, err := dec.ReadLine()
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != want {
			t.Errorf("got %q, want %q", got, want)
		}
	}
}

func TestHideEncoder_FlushPadsWithLF(t *testing.T) {
	spec, _ := LookupCipher("AES-128-CBC")
	key := bytes.Repeat([]byte{0x01}, spec.BlockSize)

	var wire bytes.Buffer
	enc, err := NewHideEncoder(spec, key, &wire)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.WriteLine([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}

	dec, err := NewHideDecoder(spec, key, bytes.NewReader(wire.Bytes()))
	if err != nil {
		t.Fatal(err)
	}
	line, err := dec.ReadLine()
	if err != nil {
		t.Fatal(err)
	}
	if string(line) != "x" {
		t.Errorf("got %q, want %q", line, "x")
	}
	// The padding LF(s) surface as one or more blank lines before EOF.
	for {
		l, err := dec.ReadLine()
		if err != nil {
			break
		}
		if len(l) != 0 {
			t.Errorf("expected only blank padding lines, got %q", l)
		}
	}
}

func TestHideEncoder_FlushNoopWhenEmpty(t *testing.T) {
	spec, _ := LookupCipher("AES-128-CBC")
	key := bytes.Repeat([]byte{0x07}, spec.BlockSize)

	var wire bytes.Buffer
	enc, err := NewHideEncoder(spec, key, &wire)
	if err != nil {
		t.Fatal(err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatal(err)
	}
	if wire.Len() != 0 {
		t.Errorf("expected no bytes written for an empty flush, got %d", wire.Len())
	}
}

func TestDeriveSessionKey_PadsShortToken(t *testing.T) {
	spec, _ := LookupCipher("AES-128-CBC")
	sharedKey := bytes.Repeat([]byte{0x09}, spec.BlockSize)

	short := []byte{0x01, 0x02, 0x03}
	k1, err := DeriveSessionKey(spec, sharedKey, short)
	if err != nil {
		t.Fatal(err)
	}
	if len(k1) != spec.BlockSize {
		t.Errorf("session key length = %d, want %d", len(k1), spec.BlockSize)
	}

	k2, err := DeriveSessionKey(spec, sharedKey, short)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("session key derivation must be deterministic for the same inputs")
	}
}
