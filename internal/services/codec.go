package services

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"ticket-scanner/internal/status"
	"ticket-scanner/models"
)

// CodecConfig carries the symmetric key material for QR payloads.
// Key and IV are coerced to the exact AES-256-CBC sizes (32 and 16
// bytes) by right-padding with '0' and truncating, so encode/decode
// stay inverses for a fixed configuration across restarts.
type CodecConfig struct {
	Key string
	IV  string
}

type PayloadCodec struct {
	key []byte
	iv  []byte
}

func NewPayloadCodec(cfg CodecConfig) *PayloadCodec {
	return &PayloadCodec{
		key: normalizeSecret(cfg.Key, 32),
		iv:  normalizeSecret(cfg.IV, aes.BlockSize),
	}
}

// NewPayload builds the issuance claim for one ticket. The timestamp is
// epoch milliseconds, used as a per-code nonce and audit marker only.
func NewPayload(ticketID, email string) models.QRPayload {
	return models.QRPayload{
		TicketID: ticketID,
		Email:    email,
		Ts:       strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
}

// Encode serializes the payload to JSON, encrypts it with AES-256-CBC
// and returns the ciphertext as a lowercase hex string.
func (c *PayloadCodec) Encode(payload models.QRPayload) (string, error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, c.iv).CryptBlocks(ciphertext, padded)

	return hex.EncodeToString(ciphertext), nil
}

// Decode reverses Encode: hex decode, decrypt, strip padding, parse
// JSON. Every failure wraps status.ErrDecodeFailed so callers can tell
// a corrupt code apart from a well-formed payload of the wrong shape.
func (c *PayloadCodec) Decode(encrypted string) (map[string]any, error) {
	ciphertext, err := hex.DecodeString(encrypted)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex", status.ErrDecodeFailed)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext length %d", status.ErrDecodeFailed, len(ciphertext))
	}

	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.iv).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: bad padding", status.ErrDecodeFailed)
	}

	var payload map[string]any
	if err := json.Unmarshal(plaintext, &payload); err != nil {
		return nil, fmt.Errorf("%w: not valid JSON", status.ErrDecodeFailed)
	}

	return payload, nil
}

// DecodePayload is Decode plus the structural check, returning a typed
// payload. Fails with status.ErrInvalidPayload when the decrypted JSON
// does not carry the mandatory claim fields.
func (c *PayloadCodec) DecodePayload(encrypted string) (models.QRPayload, error) {
	raw, err := c.Decode(encrypted)
	if err != nil {
		return models.QRPayload{}, err
	}
	if !IsValidPayload(raw) {
		return models.QRPayload{}, status.ErrInvalidPayload
	}

	return models.QRPayload{
		TicketID: raw["ticket_id"].(string),
		Email:    raw["email"].(string),
		Ts:       fmt.Sprintf("%v", raw["ts"]),
	}, nil
}

// IsValidPayload reports whether a decoded value has the mandatory
// claim shape: non-empty string ticket_id and email, plus a present ts
// of any type. It never panics and never errors.
func IsValidPayload(payload map[string]any) bool {
	if payload == nil {
		return false
	}

	ticketID, ok := payload["ticket_id"].(string)
	if !ok || ticketID == "" {
		return false
	}

	email, ok := payload["email"].(string)
	if !ok || email == "" {
		return false
	}

	_, hasTs := payload["ts"]
	return hasTs
}

func normalizeSecret(secret string, size int) []byte {
	out := make([]byte, size)
	n := copy(out, secret)
	for i := n; i < size; i++ {
		out[i] = '0'
	}
	return out
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}

	return data[:len(data)-padding], nil
}
