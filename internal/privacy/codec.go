// Package privacy encodes free-text clinical fields at rest. Values are
// AES-GCM sealed and base64 encoded. Decode never fails the caller: anything
// that cannot be opened (legacy plaintext, foreign key material) is returned
// as-is.
package privacy

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"github.com/clinicore/clinic-ops/pkg/logging"
)

const prefix = "enc:v1:"

// Codec seals and opens clinical text fields.
type Codec struct {
	aead   cipher.AEAD
	logger *logging.Logger
}

// NewCodec derives an AES-256-GCM codec from the configured key material.
// An empty key yields a passthrough codec.
func NewCodec(key string, logger *logging.Logger) *Codec {
	if logger == nil {
		logger = logging.Default()
	}
	c := &Codec{logger: logger}
	if key == "" {
		return c
	}
	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		logger.Error("privacy: cipher init failed", "error", err)
		return c
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		logger.Error("privacy: gcm init failed", "error", err)
		return c
	}
	c.aead = aead
	return c
}

// Encode seals value. On any failure the original value is returned so a
// codec problem never blocks a business write.
func (c *Codec) Encode(value string) string {
	if c == nil || c.aead == nil || value == "" {
		return value
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		c.logger.Error("privacy: nonce generation failed", "error", err)
		return value
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(value), nil)
	return prefix + base64.StdEncoding.EncodeToString(sealed)
}

// Decode opens an encoded value. Unrecognized or corrupt input is returned
// unchanged.
func (c *Codec) Decode(value string) string {
	if c == nil || c.aead == nil || value == "" {
		return value
	}
	if !strings.HasPrefix(value, prefix) {
		return value
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(value, prefix))
	if err != nil {
		c.logger.Warn("privacy: undecodable field, returning raw", "error", err)
		return value
	}
	if len(raw) < c.aead.NonceSize() {
		return value
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		c.logger.Warn("privacy: open failed, returning raw", "error", err)
		return value
	}
	return string(plain)
}
