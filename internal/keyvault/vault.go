// Package keyvault seals and opens digital keys at rest with AES-256-GCM.
// The data key is derived from the configured master secret with
// HKDF-SHA256; IV and authentication tag are stored next to the ciphertext.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32
	ivSize  = 12
	tagSize = 16

	hkdfInfo = "keyshop inventory key v1"
)

var (
	// ErrNoMasterKey is returned by New when the master secret is empty.
	ErrNoMasterKey = errors.New("keyvault: master key is empty")
	// ErrDecrypt is returned when a sealed payload fails authentication or
	// has malformed IV/tag sizes.
	ErrDecrypt = errors.New("keyvault: decryption failed")
)

// Sealed is one encrypted payload as stored in the database.
type Sealed struct {
	Ciphertext []byte
	IV         []byte
	Tag        []byte
}

// Vault encrypts and decrypts with a single derived AES-256 key. It is safe
// for concurrent use.
type Vault struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives the data key from masterKey and returns a ready Vault.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, ErrNoMasterKey
	}
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(masterKey), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Vault{aead: aead, rand: rand.Reader}, nil
}

// Seal encrypts plaintext under a fresh random IV.
func (v *Vault) Seal(plaintext []byte) (Sealed, error) {
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(v.rand, iv); err != nil {
		return Sealed{}, err
	}
	out := v.aead.Seal(nil, iv, plaintext, nil)
	n := len(out) - tagSize
	return Sealed{
		Ciphertext: out[:n:n],
		IV:         iv,
		Tag:        out[n:],
	}, nil
}

// Open authenticates and decrypts s. Any failure maps to ErrDecrypt.
func (v *Vault) Open(s Sealed) ([]byte, error) {
	if len(s.IV) != ivSize || len(s.Tag) != tagSize {
		return nil, ErrDecrypt
	}
	buf := make([]byte, 0, len(s.Ciphertext)+tagSize)
	buf = append(buf, s.Ciphertext...)
	buf = append(buf, s.Tag...)
	pt, err := v.aead.Open(nil, s.IV, buf, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return pt, nil
}

// Hash returns the hex sha256 of plaintext, used to dedupe uploads without
// storing the key in the clear.
func Hash(plaintext []byte) string {
	sum := sha256.Sum256(plaintext)
	return hex.EncodeToString(sum[:])
}
