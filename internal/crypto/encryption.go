// Package encryption implements the depot symmetric cipher: AES-256 where
// the first block carries the IV encrypted with AES-ECB, followed by the
// AES-CBC body with PKCS7 padding. Encrypted manifest filenames and
// content chunks both use it.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
)

const (
	KeySize = 32 // 256-bit depot key
	IVSize  = 16 // 128-bit IV for AES
)

// ErrInvalidCiphertext is returned when the ciphertext length cannot hold
// an encrypted IV followed by whole blocks.
var ErrInvalidCiphertext = errors.New("invalid ciphertext length")

// GenerateKey generates a random 256-bit depot key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// GenerateIV generates a random 128-bit initialization vector
func GenerateIV() ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}
	return iv, nil
}

// SymmetricDecrypt reverses SymmetricEncrypt.
func SymmetricDecrypt(ciphertext, key []byte) ([]byte, error) {
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < 2*aes.BlockSize || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidCiphertext, len(ciphertext))
	}

	iv := make([]byte, IVSize)
	block.Decrypt(iv, ciphertext[:aes.BlockSize])

	body := ciphertext[aes.BlockSize:]
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plain, body)

	return pkcs7Unpad(plain)
}

// SymmetricEncrypt encrypts plaintext with a random IV.
func SymmetricEncrypt(plaintext, key []byte) ([]byte, error) {
	iv, err := GenerateIV()
	if err != nil {
		return nil, err
	}
	return SymmetricEncryptWithIV(plaintext, key, iv)
}

// SymmetricEncryptWithIV encrypts plaintext with the given IV. The output
// is ECB(iv) followed by CBC(iv, pkcs7(plaintext)).
func SymmetricEncryptWithIV(plaintext, key, iv []byte) ([]byte, error) {
	if len(iv) != IVSize {
		return nil, fmt.Errorf("IV must be %d bytes", IVSize)
	}
	block, err := newCipher(key)
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(append([]byte(nil), plaintext...), aes.BlockSize)
	out := make([]byte, aes.BlockSize+len(padded))
	block.Encrypt(out[:aes.BlockSize], iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

func newCipher(key []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return block, nil
}

// pkcs7Pad applies PKCS7 padding to the data
func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	padText := make([]byte, padding)
	for i := range padText {
		padText[i] = byte(padding)
	}
	return append(data, padText...)
}

// pkcs7Unpad removes PKCS7 padding from the data
// Verifies that all padding bytes have the correct value; a wrong key
// almost always trips this check.
func pkcs7Unpad(data []byte) ([]byte, error) {
	length := len(data)
	if length == 0 {
		return nil, fmt.Errorf("invalid padding: empty data")
	}
	padding := int(data[length-1])
	if padding > length || padding > aes.BlockSize || padding == 0 {
		return nil, fmt.Errorf("invalid padding size: %d", padding)
	}
	for i := 0; i < padding; i++ {
		if data[length-1-i] != byte(padding) {
			return nil, fmt.Errorf("invalid padding byte at position %d: expected %d, got %d", i, padding, data[length-1-i])
		}
	}
	return data[:length-padding], nil
}
