package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// NIST SP 800-38A F.5.1, AES-128 CTR, block 1.
func TestCTRXORNistVector(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	iv := mustHex(t, "f0f1f2f3f4f5f6f7f8f9fafbfcfdfeff")
	plaintext := mustHex(t, rfcBlock1)
	wantCiphertext := mustHex(t, "874d6191b620e3261bef6864990db6ce")

	got, err := ctrXOR(key, iv, plaintext)
	require.NoError(t, err)
	assert.Equal(t, wantCiphertext, got)

	// CTR mode is its own inverse.
	back, err := ctrXOR(key, iv, got)
	require.NoError(t, err)
	assert.Equal(t, plaintext, back)
}

func TestCTRXORRejectsWrongIVLength(t *testing.T) {
	key := mustHex(t, "2b7e151628aed2a6abf7158809cf4f3c")
	_, err := ctrXOR(key, []byte{0x01, 0x02}, []byte{0xAA})
	assert.ErrorIs(t, err, ErrCryptoError)
}
