package security

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
)

// ctrXOR runs AES-128-CTR keystream XOR over data; the same operation
// encrypts and decrypts.
func ctrXOR(key, iv, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCryptoError, err)
	}
	if len(iv) != blockSize {
		return nil, fmt.Errorf("%w: IV must be %d bytes, got %d", ErrCryptoError, blockSize, len(iv))
	}
	stream := cipher.NewCTR(block, iv)
	out := make([]byte, len(data))
	stream.XORKeyStream(out, data)
	return out, nil
}
