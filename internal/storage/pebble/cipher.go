package pebblestore

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// ValueCipher seals values before they reach disk. The record key is passed
// as additional data so a sealed value only opens under the key it was
// written for.
type ValueCipher interface {
	Seal(key, plaintext []byte) ([]byte, error)
	Open(key, sealed []byte) ([]byte, error)
	Name() string
}

// PlainCipher stores values unchanged.
type PlainCipher struct{}

func (PlainCipher) Seal(_, plaintext []byte) ([]byte, error) { return plaintext, nil }
func (PlainCipher) Open(_, sealed []byte) ([]byte, error)    { return sealed, nil }
func (PlainCipher) Name() string                             { return "none" }

const sealedVersion byte = 1

var errSealedTooShort = errors.New("pebble: sealed value too short")

// XChaChaCipher seals with XChaCha20-Poly1305. Layout:
//
//	version(1) | nonce(24) | ciphertext+tag
//
// The nonce is the 8-byte basic IV followed by 16 random bytes.
type XChaChaCipher struct {
	aead    cipher.AEAD
	basicIV uint64
}

// NewXChaChaCipher builds a cipher from a 32-byte key and a basic IV.
func NewXChaChaCipher(key []byte, basicIV uint64) (*XChaChaCipher, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("pebble: cipher key: %w", err)
	}
	return &XChaChaCipher{aead: aead, basicIV: basicIV}, nil
}

func (c *XChaChaCipher) Name() string { return "xchacha20-poly1305" }

func (c *XChaChaCipher) Seal(key, plaintext []byte) ([]byte, error) {
	out := make([]byte, 1+chacha20poly1305.NonceSizeX, 1+chacha20poly1305.NonceSizeX+len(plaintext)+c.aead.Overhead())
	out[0] = sealedVersion
	nonce := out[1 : 1+chacha20poly1305.NonceSizeX]
	binary.BigEndian.PutUint64(nonce[:8], c.basicIV)
	if _, err := rand.Read(nonce[8:]); err != nil {
		return nil, fmt.Errorf("pebble: nonce: %w", err)
	}
	return c.aead.Seal(out, nonce, plaintext, key), nil
}

func (c *XChaChaCipher) Open(key, sealed []byte) ([]byte, error) {
	if len(sealed) < 1+chacha20poly1305.NonceSizeX+c.aead.Overhead() {
		return nil, errSealedTooShort
	}
	if sealed[0] != sealedVersion {
		return nil, fmt.Errorf("pebble: unknown sealed value version %d", sealed[0])
	}
	nonce := sealed[1 : 1+chacha20poly1305.NonceSizeX]
	plain, err := c.aead.Open(nil, nonce, sealed[1+chacha20poly1305.NonceSizeX:], key)
	if err != nil {
		return nil, fmt.Errorf("pebble: open sealed value: %w", err)
	}
	return plain, nil
}
