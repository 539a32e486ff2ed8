package webhooks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	randomPrefixLen = 16
	lengthFieldLen  = 16
)

var (
	// ErrDecryption wraps every failure to open an encrypted event envelope
	ErrDecryption = errors.New("event decryption failed")

	// ErrNoSecret is returned (wrapped in ErrDecryption) when no shared secret is configured
	ErrNoSecret = errors.New("no shared secret configured")
)

// Security verifies and opens inbound platform events with the shared secret
type Security struct {
	secret string
}

// NewSecurity creates an event verifier for the given shared secret
func NewSecurity(secret string) *Security {
	return &Security{secret: secret}
}

// Enabled reports whether a shared secret is configured
func (s *Security) Enabled() bool {
	return s != nil && s.secret != ""
}

// Signature computes the expected signature: hex SHA-256 of timestamp, nonce and secret.
// The request body is not part of the signing material.
func (s *Security) Signature(timestamp, nonce string) string {
	sum := sha256.Sum256([]byte(timestamp + nonce + s.secret))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether signature matches the timestamp and nonce exactly, as lowercase
// hex. The raw body is accepted for interface stability but is not signed by the platform.
func (s *Security) Verify(signature, timestamp, nonce string, rawBody []byte) bool {
	if !s.Enabled() || signature == "" {
		return false
	}
	expected := s.Signature(timestamp, nonce)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Decrypt opens an encrypted envelope and returns the JSON event it carries.
//
// The key is the base64-decoded secret and the IV is all zeros. The plaintext is a
// 16-byte random prefix, a 16-byte ASCII decimal payload length, the payload and
// padding; the payload is cut by the length field, never by the padding.
func (s *Security) Decrypt(envelope string) (json.RawMessage, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("%w: %w", ErrDecryption, ErrNoSecret)
	}

	key, err := decodeKey(s.secret)
	if err != nil {
		return nil, err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(strings.TrimSpace(envelope))
	if err != nil {
		return nil, fmt.Errorf("%w: envelope is not base64: %v", ErrDecryption, err)
	}
	if len(ciphertext) < randomPrefixLen+lengthFieldLen || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d is invalid", ErrDecryption, len(ciphertext))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(plaintext, ciphertext)

	lengthField := strings.Trim(string(plaintext[randomPrefixLen:randomPrefixLen+lengthFieldLen]), " \x00")
	length, err := strconv.Atoi(lengthField)
	if err != nil || length < 0 {
		return nil, fmt.Errorf("%w: invalid length field", ErrDecryption)
	}
	start := randomPrefixLen + lengthFieldLen
	if start+length > len(plaintext) {
		return nil, fmt.Errorf("%w: declared length %d exceeds plaintext", ErrDecryption, length)
	}

	payload := plaintext[start : start+length]
	if !json.Valid(payload) {
		return nil, fmt.Errorf("%w: payload is not valid JSON", ErrDecryption)
	}
	return json.RawMessage(payload), nil
}

// decodeKey accepts the secret in padded or unpadded standard base64
func decodeKey(secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(secret, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: secret is not base64: %v", ErrDecryption, err)
	}
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	return nil, fmt.Errorf("%w: key length %d is not a valid AES key size", ErrDecryption, len(key))
}
