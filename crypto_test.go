package commhub

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPayloadRoundtrip(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	for _, plaintext := range []string{
		"",
		"x",
		"exactly sixteen!",
		"t=1700000000&u=joe&f=Joe&l=Soap&e=joe%40email.test&se=",
		strings.Repeat("long&", 100) + "end",
	} {
		iv, ciphertext, err := encryptPayload(key, plaintext)
		assert.NoError(t, err)
		back, err := decryptPayload(key, iv, ciphertext)
		assert.NoError(t, err)
		assert.Equal(t, plaintext, back, "roundtrip of %q", plaintext)
	}
}

func TestPayloadPadding(t *testing.T) {
	// Padding is always 1..16 spaces, so the padded length is the next
	// multiple of the block size, a full extra block for aligned input
	for n := 0; n < 40; n++ {
		padded := padSpaces([]byte(strings.Repeat("a", n)))
		assert.Equal(t, 0, len(padded)%16)
		assert.True(t, len(padded) > n)
		assert.True(t, len(padded)-n <= 16)
	}
}

func TestPayloadTrailingSpace(t *testing.T) {
	// Space padding cannot distinguish its own spaces from trailing spaces
	// in the plaintext. Record values are URL-encoded before encryption, so
	// real payloads never end in a space.
	key := []byte("0123456789abcdef0123456789abcdef")
	iv, ciphertext, err := encryptPayload(key, "trailing   ")
	assert.NoError(t, err)
	back, err := decryptPayload(key, iv, ciphertext)
	assert.NoError(t, err)
	assert.Equal(t, "trailing", back)
}

func TestPayloadEncodingAlphabet(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	// URL-safe alphabet without padding, so the values travel in a query
	// string untouched
	for i := 0; i < 20; i++ {
		iv, ciphertext, err := encryptPayload(key, "hello world")
		assert.NoError(t, err)
		for _, s := range []string{iv, ciphertext} {
			assert.False(t, strings.ContainsAny(s, "+/= "), "unexpected character in %q", s)
		}
	}
}

func TestPayloadFreshIV(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		iv, _, err := encryptPayload(key, "same message")
		assert.NoError(t, err)
		assert.False(t, seen[iv], "IV reuse")
		seen[iv] = true
	}
}

func TestPayloadDecryptErrors(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	iv, ciphertext, err := encryptPayload(key, "hello")
	assert.NoError(t, err)

	_, err = decryptPayload(key[:17], iv, ciphertext)
	assert.Error(t, err)
	_, err = decryptPayload(key, "not base64!!", ciphertext)
	assert.Error(t, err)
	_, err = decryptPayload(key, iv, "short")
	assert.Error(t, err)
	_, err = decryptPayload(key, iv, "")
	assert.Error(t, err)

	// A different key decrypts to garbage, not to the plaintext
	otherKey := []byte("ffffffffffffffffffffffffffffffff")
	back, err := decryptPayload(otherKey, iv, ciphertext)
	assert.NoError(t, err)
	assert.NotEqual(t, "hello", back)
}
