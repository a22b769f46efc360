package bax

import (
	"crypto/aes"
	"fmt"
)

// Decrypter decrypts one 16-byte block with a device key.
type Decrypter interface {
	DecryptBlock(ciphertext, key [16]byte) ([16]byte, error)
}

// AESDecrypter is the AES-128 single-block (ECB) decrypter used by devices.
type AESDecrypter struct{}

// DecryptBlock implements Decrypter.
func (AESDecrypter) DecryptBlock(ciphertext, key [16]byte) ([16]byte, error) {
	var out [16]byte
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return out, fmt.Errorf("bax: aes key: %w", err)
	}
	block.Decrypt(out[:], ciphertext[:])
	return out, nil
}
