package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	envelopePrefix = "aes256gcm:"
	nonceLength    = 16
	tagLength      = 16
)

// ErrNoSecret means no encryption secret is configured. Raised at first use,
// not at process start.
var ErrNoSecret = errors.New("vault: encryption key not configured")

// ErrMalformedEnvelope means a ciphertext envelope is missing parts or not
// hex-encoded. Decryption fails rather than returning corrupted plaintext.
var ErrMalformedEnvelope = errors.New("vault: malformed ciphertext envelope")

// Cipher provides authenticated symmetric encryption for credential fields.
// The AES-256 key is derived once from the configured secret via SHA-256.
type Cipher struct {
	secret string

	once   sync.Once
	key    []byte
	keyErr error
}

// NewCipher creates a Cipher around the configured secret. The secret may be
// empty; the error surfaces on the first encrypt/decrypt instead.
func NewCipher(secret string) *Cipher {
	return &Cipher{secret: secret}
}

func (c *Cipher) deriveKey() ([]byte, error) {
	c.once.Do(func() {
		if c.secret == "" {
			c.keyErr = ErrNoSecret
			return
		}
		sum := sha256.Sum256([]byte(c.secret))
		c.key = sum[:]
	})
	return c.key, c.keyErr
}

// Encrypt seals plaintext into an envelope of the form
// aes256gcm:<nonce>:<auth tag>:<ciphertext>, all parts hex. A fresh random
// nonce is drawn for every call.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return plaintext, nil
	}
	key, err := c.deriveKey()
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLength)
	if err != nil {
		return "", fmt.Errorf("vault: init gcm: %w", err)
	}

	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: draw nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	return envelopePrefix +
		hex.EncodeToString(nonce) + ":" +
		hex.EncodeToString(tag) + ":" +
		hex.EncodeToString(ct), nil
}

// Decrypt opens an envelope produced by Encrypt. A missing algorithm tag,
// missing parts, bad hex, or a failed authentication check all return an
// error; plaintext is never guessed from a broken envelope.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	if envelope == "" {
		return envelope, nil
	}
	if !strings.HasPrefix(envelope, envelopePrefix) {
		return "", ErrMalformedEnvelope
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 4 {
		return "", ErrMalformedEnvelope
	}
	nonce, err := hex.DecodeString(parts[1])
	if err != nil || len(nonce) != nonceLength {
		return "", ErrMalformedEnvelope
	}
	tag, err := hex.DecodeString(parts[2])
	if err != nil || len(tag) != tagLength {
		return "", ErrMalformedEnvelope
	}
	ct, err := hex.DecodeString(parts[3])
	if err != nil {
		return "", ErrMalformedEnvelope
	}

	key, err := c.deriveKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("vault: init cipher: %w", err)
	}
	gcm, err := cipher.NewGCMWithNonceSize(block, nonceLength)
	if err != nil {
		return "", fmt.Errorf("vault: init gcm: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("vault: decrypt: %w", err)
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether the value carries the envelope format tag.
// Legacy plaintext detection goes through this, never through a trial
// decryption.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, envelopePrefix)
}

// GenerateKey returns a fresh random 32-byte secret, hex encoded, for
// first-time setup.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, buf); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
