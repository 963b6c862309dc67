package commhub

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
)

/*
Payload encryption for the community auth handoff.

The payload is encrypted with AES-256-CBC under the site's shared 32 byte key,
with a fresh random IV for every message. Padding is ASCII spaces: between 1
and 16 of them, so that a block-aligned payload still receives a full block of
padding. The IV and the ciphertext are each encoded with the URL-safe base64
alphabet, without padding characters, so that they can travel in a query
string without escaping.
*/

func encryptPayload(key []byte, plaintext string) (iv string, ciphertext string, err error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", "", err
	}
	padded := padSpaces([]byte(plaintext))
	rawIV := make([]byte, aes.BlockSize)
	if _, err := rand.Read(rawIV); err != nil {
		return "", "", err
	}
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, rawIV).CryptBlocks(encrypted, padded)
	return base64.RawURLEncoding.EncodeToString(rawIV), base64.RawURLEncoding.EncodeToString(encrypted), nil
}

func decryptPayload(key []byte, iv string, ciphertext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	rawIV, err := base64.RawURLEncoding.DecodeString(iv)
	if err != nil {
		return "", err
	}
	encrypted, err := base64.RawURLEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", err
	}
	if len(rawIV) != aes.BlockSize || len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return "", errors.New("Invalid encrypted payload")
	}
	decrypted := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, rawIV).CryptBlocks(decrypted, encrypted)
	return strings.TrimRight(string(decrypted), " "), nil
}

func padSpaces(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	for i := 0; i < n; i++ {
		data = append(data, ' ')
	}
	return data
}
