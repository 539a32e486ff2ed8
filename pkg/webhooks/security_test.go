package webhooks

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 32 bytes, encoded without padding the way the platform console shows it
var testSecret = base64.RawStdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))

// encryptEnvelope builds an envelope in the platform's format: random prefix, 16-byte
// decimal length, payload, PKCS#7 padding, AES-CBC with a zero IV.
func encryptEnvelope(t *testing.T, secret string, payload []byte) string {
	t.Helper()
	key, err := decodeKey(secret)
	require.NoError(t, err)

	prefix := make([]byte, randomPrefixLen)
	_, err = rand.Read(prefix)
	require.NoError(t, err)

	plain := append(prefix, []byte(fmt.Sprintf("%016d", len(payload)))...)
	plain = append(plain, payload...)
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	plain = append(plain, bytes.Repeat([]byte{byte(pad)}, pad)...)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, plain)
	return base64.StdEncoding.EncodeToString(out)
}

func TestSecurity_DecryptRoundTrip(t *testing.T) {
	sec := NewSecurity(testSecret)

	payloads := []string{
		`{}`,
		`{"a":1}`,
		`{"schema":"2.0","header":{"event_id":"e1","event_type":"contact.user.created_v3"},"event":{"object":{"user_id":"u1","name":"张三"}}}`,
		`[1,2,3,"fifteen bytes!!"]`,
		`"exactly-a-block"`,
	}
	for _, p := range payloads {
		t.Run(p, func(t *testing.T) {
			got, err := sec.Decrypt(encryptEnvelope(t, testSecret, []byte(p)))
			require.NoError(t, err)

			var want, have interface{}
			require.NoError(t, json.Unmarshal([]byte(p), &want))
			require.NoError(t, json.Unmarshal(got, &have))
			assert.Equal(t, want, have)
		})
	}
}

func TestSecurity_DecryptKeyEncodings(t *testing.T) {
	raw := []byte("0123456789abcdef")
	for _, secret := range []string{
		base64.StdEncoding.EncodeToString(raw),
		base64.RawStdEncoding.EncodeToString(raw),
	} {
		got, err := NewSecurity(secret).Decrypt(encryptEnvelope(t, secret, []byte(`{"ok":true}`)))
		require.NoError(t, err)
		assert.JSONEq(t, `{"ok":true}`, string(got))
	}
}

func TestSecurity_DecryptFailures(t *testing.T) {
	valid := encryptEnvelope(t, testSecret, []byte(`{"a":1}`))

	tests := []struct {
		name     string
		secret   string
		envelope string
	}{
		{"no secret", "", valid},
		{"secret not base64", "!!not base64!!", valid},
		{"bad key size", base64.StdEncoding.EncodeToString([]byte("short")), valid},
		{"envelope not base64", testSecret, "%%%"},
		{"too short", testSecret, base64.StdEncoding.EncodeToString(make([]byte, 16))},
		{"not block aligned", testSecret, base64.StdEncoding.EncodeToString(make([]byte, 40))},
		{"wrong key", base64.RawStdEncoding.EncodeToString([]byte("fedcba9876543210fedcba9876543210")), valid},
		{"payload not json", testSecret, encryptEnvelope(t, testSecret, []byte(`not json`))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSecurity(tt.secret).Decrypt(tt.envelope)
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}

	_, err := NewSecurity("").Decrypt(valid)
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestSecurity_DecryptUsesLengthField(t *testing.T) {
	key, err := decodeKey(testSecret)
	require.NoError(t, err)

	// trailing bytes that are neither PKCS#7 padding nor part of the payload
	plain := append(make([]byte, randomPrefixLen), []byte(fmt.Sprintf("%016d", 7))...)
	plain = append(plain, []byte(`{"a":1}`)...)
	plain = append(plain, bytes.Repeat([]byte("x"), 2*aes.BlockSize-len(plain)%aes.BlockSize)...)

	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(plain))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, plain)

	got, err := NewSecurity(testSecret).Decrypt(base64.StdEncoding.EncodeToString(out))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(got))
}

func TestSecurity_Verify(t *testing.T) {
	sec := NewSecurity(testSecret)
	timestamp, nonce := "1700000000", "n0nce-42"
	signature := sec.Signature(timestamp, nonce)
	body := []byte(`{"encrypt":"..."}`)

	require.True(t, sec.Verify(signature, timestamp, nonce, body))
	assert.True(t, sec.Verify(signature, timestamp, nonce, []byte("body is not signed")))

	mutate := func(s string, i int) string {
		b := []byte(s)
		if b[i] == 'a' {
			b[i] = 'b'
		} else {
			b[i] = 'a'
		}
		return string(b)
	}

	for i := range signature {
		assert.False(t, sec.Verify(mutate(signature, i), timestamp, nonce, body), "signature index %d", i)
	}
	for i, c := range signature {
		if c >= 'a' && c <= 'f' {
			upper := signature[:i] + strings.ToUpper(string(c)) + signature[i+1:]
			assert.False(t, sec.Verify(upper, timestamp, nonce, body), "upper-cased signature index %d", i)
		}
	}
	require.NotEqual(t, signature, strings.ToUpper(signature))
	assert.False(t, sec.Verify(strings.ToUpper(signature), timestamp, nonce, body))
	for i := range timestamp {
		assert.False(t, sec.Verify(signature, mutate(timestamp, i), nonce, body), "timestamp index %d", i)
	}
	for i := range nonce {
		assert.False(t, sec.Verify(signature, timestamp, mutate(nonce, i), body), "nonce index %d", i)
	}

	assert.False(t, sec.Verify("", timestamp, nonce, body))
	assert.False(t, NewSecurity("").Verify(signature, timestamp, nonce, body))
}
