// Package secrets encrypts gateway credentials at rest with AES-256-GCM.
// The key is derived from GATEWAY_CONFIG_SECRET via SHA-256.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/payloop/payloop/internal/config"
	gatewaydomain "github.com/payloop/payloop/internal/gateway/domain"
)

type encryptedPayload struct {
	Version    int    `json:"version"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Cipher seals and opens credential strings.
type Cipher struct {
	key []byte
}

func New(cfg config.Config) *Cipher {
	secret := strings.TrimSpace(cfg.GatewayConfigSecret)
	var key []byte
	if secret != "" {
		sum := sha256.Sum256([]byte(secret))
		key = sum[:]
	}
	return &Cipher{key: key}
}

// Encrypt seals a plaintext credential into an opaque text blob.
// Empty plaintext encrypts to the empty string so absent credentials stay
// recognizable via GatewayConfig.HasCredentials.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if len(c.key) == 0 {
		return "", gatewaydomain.ErrEncryptionKeyMissing
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, nonce, []byte(plaintext), nil)

	out, err := json.Marshal(encryptedPayload{
		Version:    1,
		Nonce:      base64.RawStdEncoding.EncodeToString(nonce),
		Ciphertext: base64.RawStdEncoding.EncodeToString(sealed),
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Decrypt opens a blob produced by Encrypt.
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	if encrypted == "" {
		return "", nil
	}
	if len(c.key) == 0 {
		return "", gatewaydomain.ErrEncryptionKeyMissing
	}

	var payload encryptedPayload
	if err := json.Unmarshal([]byte(encrypted), &payload); err != nil {
		return "", gatewaydomain.ErrInvalidConfig
	}
	if payload.Version != 1 {
		return "", gatewaydomain.ErrInvalidConfig
	}

	nonce, err := base64.RawStdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return "", gatewaydomain.ErrInvalidConfig
	}
	ciphertext, err := base64.RawStdEncoding.DecodeString(payload.Ciphertext)
	if err != nil {
		return "", gatewaydomain.ErrInvalidConfig
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", gatewaydomain.ErrInvalidConfig
	}
	return string(plain), nil
}
