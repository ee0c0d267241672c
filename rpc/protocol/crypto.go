package protocol

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"golang.org/x/crypto/chacha20poly1305"
)

// ICryptoProvider encrypts and decrypts whole frames.
// Decrypt must be the exact inverse of Encrypt. Implementations must be safe for concurrent use.
type ICryptoProvider interface {
	Encrypt(plain []byte) ([]byte, error)
	Decrypt(cipherText []byte) ([]byte, error)
}

var (
	ErrInvalidKey         = errors.New("invalid encryption key")
	ErrCipherTextTooShort = errors.New("cipher text too short")
)

// KeySize is the key size of the XChaCha20-Poly1305 provider
const KeySize = chacha20poly1305.KeySize

// XChaChaProvider implements ICryptoProvider with XChaCha20-Poly1305.
// Every frame gets a fresh random 24 byte nonce which is prepended to the cipher text.
type XChaChaProvider struct {
	aead cipher.AEAD
}

// NewXChaChaProvider creates a crypto provider from a 32 byte key
func NewXChaChaProvider(key []byte) (*XChaChaProvider, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: need %d bytes, got %d", ErrInvalidKey, KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &XChaChaProvider{aead: aead}, nil
}

// NewXChaChaProviderFromHex creates a crypto provider from a hex encoded key
func NewXChaChaProviderFromHex(hexKey string) (*XChaChaProvider, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return NewXChaChaProvider(key)
}

// Overhead returns the number of bytes added to every frame
func (x *XChaChaProvider) Overhead() int {
	return x.aead.NonceSize() + x.aead.Overhead()
}

func (x *XChaChaProvider) Encrypt(plain []byte) ([]byte, error) {
	nonceSize := x.aead.NonceSize()
	out := make([]byte, nonceSize, nonceSize+len(plain)+x.aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return x.aead.Seal(out, out[:nonceSize], plain, nil), nil
}

func (x *XChaChaProvider) Decrypt(cipherText []byte) ([]byte, error) {
	nonceSize := x.aead.NonceSize()
	if len(cipherText) < nonceSize+x.aead.Overhead() {
		return nil, ErrCipherTextTooShort
	}
	nonce, sealed := cipherText[:nonceSize], cipherText[nonceSize:]
	return x.aead.Open(nil, nonce, sealed, nil)
}
