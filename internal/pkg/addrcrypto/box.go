package addrcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	kdfSalt   = "payment-salt"
	nonceSize = 16
	tagSize   = 16

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

var ErrMalformedEnvelope = errors.New("addrcrypto: malformed envelope")

// Box encrypts sender addresses with AES-256-GCM and produces deterministic
// HMAC digests for indexed lookup. Both keys derive from the same secret.
type Box struct {
	aead    cipher.AEAD
	hmacKey []byte
}

// NewBox derives the AES key from secret via scrypt and prepares the GCM
// cipher. The HMAC key is the raw secret, so digests survive key-derivation
// parameter changes.
func NewBox(secret string) (*Box, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("addrcrypto: secret is required")
	}
	key, err := scrypt.Key([]byte(secret), []byte(kdfSalt), scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("addrcrypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("addrcrypto: new cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("addrcrypto: new gcm: %w", err)
	}
	return &Box{aead: aead, hmacKey: []byte(secret)}, nil
}

// Encrypt seals the address into the envelope format
// <iv_hex>:<auth_tag_hex>:<ciphertext_hex>. A fresh IV is drawn per call.
// Callers pass the chain-normalized form; case is preserved because Tron
// base58 checksums are case-significant.
func (b *Box) Encrypt(address string) (string, error) {
	plain := strings.TrimSpace(address)
	if plain == "" {
		return "", errors.New("addrcrypto: empty address")
	}

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("addrcrypto: read iv: %w", err)
	}

	// Seal appends the auth tag to the ciphertext; the envelope stores it
	// as a separate segment.
	sealed := b.aead.Seal(nil, iv, []byte(plain), nil)
	ct := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	return fmt.Sprintf("%s:%s:%s", hex.EncodeToString(iv), hex.EncodeToString(tag), hex.EncodeToString(ct)), nil
}

// Decrypt opens an envelope produced by Encrypt and returns the address
// exactly as it was sealed.
func (b *Box) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrMalformedEnvelope
	}
	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != nonceSize {
		return "", ErrMalformedEnvelope
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil || len(tag) != tagSize {
		return "", ErrMalformedEnvelope
	}
	ct, err := hex.DecodeString(parts[2])
	if err != nil {
		return "", ErrMalformedEnvelope
	}

	plain, err := b.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("addrcrypto: open: %w", err)
	}
	return string(plain), nil
}

// LookupDigest returns HMAC-SHA256(secret, lower(address)) hex. Stable across
// process restarts for a stable secret, so it can back an index.
func (b *Box) LookupDigest(address string) string {
	mac := hmac.New(sha256.New, b.hmacKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(address))))
	return hex.EncodeToString(mac.Sum(nil))
}
