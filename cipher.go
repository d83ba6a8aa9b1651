package s4pp

import (
	"crypto/aes"
	"crypto/cipher"
)

// CipherSpec names one block cipher and how to construct it, the cipher
// counterpart to HashSpec. AES-128-CBC is mandatory whenever HIDE is
// advertised (spec.md §4.3). There is no third-party block-cipher library
// used anywhere in the retrieval pack; crypto/aes + crypto/cipher is the
// ecosystem's own idiom for CBC (see DESIGN.md).
type CipherSpec struct {
	Name      string
	BlockSize int
	NewBlock  func(key []byte) (cipher.Block, error)
}

var cipherRegistry = map[string]CipherSpec{
	"AES-128-CBC": {
		Name:      "AES-128-CBC",
		BlockSize: aes.BlockSize,
		NewBlock:  aes.NewCipher,
	},
}

// LookupCipher resolves a wire cipher algorithm name to its CipherSpec.
func LookupCipher(name string) (CipherSpec, bool) {
	spec, ok := cipherRegistry[name]
	return spec, ok
}

// SupportedHideAlgos lists every HIDE cipher this build supports.
func SupportedHideAlgos() []string { return []string{"AES-128-CBC"} }

// EncryptBlock performs a single block-cipher encryption, used for HIDE
// session-key derivation (spec.md §3, HIDE state: "encrypt one block with
// the shared key; the ciphertext output is the session key").
func EncryptBlock(spec CipherSpec, key, plaintextBlock []byte) ([]byte, error) {
	block, err := spec.NewBlock(key)
	if err != nil {
		return nil, err
	}
	if len(plaintextBlock) != block.BlockSize() {
		return nil, ErrFraming
	}
	out := make([]byte, len(plaintextBlock))
	block.Encrypt(out, plaintextBlock)
	return out, nil
}

// zeroIV returns an all-zero IV for the given spec's block size. The
// all-zero-IV convention is this implementation's resolution of the open
// IV question in spec.md §9: the first HIDE line is random salt, so a
// fixed IV leaks nothing (see DESIGN.md, "Open-question resolutions").
func zeroIV(spec CipherSpec) []byte { return make([]byte, spec.BlockSize) }

// newCBCEncrypter builds a chained CBC encrypter seeded with the zero IV.
func newCBCEncrypter(spec CipherSpec, key []byte) (cipher.BlockMode, error) {
	block, err := spec.NewBlock(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCBCEncrypter(block, zeroIV(spec)), nil
}

// newCBCDecrypter builds a chained CBC decrypter seeded with the zero IV.
func newCBCDecrypter(spec CipherSpec, key []byte) (cipher.BlockMode, error) {
	block, err := spec.NewBlock(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewCBCDecrypter(block, zeroIV(spec)), nil
}

// DeriveSessionKey implements the HIDE session-key derivation from
// spec.md §3: take the first block_size raw bytes of the decoded challenge
// token, right-pad with LF to block_size if shorter, then encrypt one
// block with the shared key.
func DeriveSessionKey(spec CipherSpec, sharedKey, tokenRaw []byte) ([]byte, error) {
	block := make([]byte, spec.BlockSize)
	n := copy(block, tokenRaw)
	for ; n < spec.BlockSize; n++ {
		block[n] = '\n'
	}
	return EncryptBlock(spec, sharedKey, block)
}
