package cryptoutil

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"
)

const (
	NonceSizeBytes = 12
	TagSizeBytes   = 16
)

var ErrCounterReuse = errors.New("cryptoutil: AEAD counter already used for this request and direction")

// EncryptedMessage is a sealed AEAD payload: the 12-byte nonce, 16-byte
// tag, and ciphertext, matching the wire's EncryptedMessage block.
type EncryptedMessage struct {
	InitializationVector [NonceSizeBytes]byte
	AuthenticationTag     [TagSizeBytes]byte
	EncryptedPayload      []byte
}

// BuildNonce constructs the 12-byte GCM nonce mandated by §4.1:
// requestId (8 bytes) || counter (4 bytes, big-endian).
func BuildNonce(requestId [8]byte, counter uint32) [NonceSizeBytes]byte {
	var nonce [NonceSizeBytes]byte
	copy(nonce[:8], requestId[:])
	binary.BigEndian.PutUint32(nonce[8:], counter)
	return nonce
}

// EncryptPayload seals plaintext under key using the rolling-counter
// nonce for requestId, with associatedData bound in as AEAD associated
// data (the outer name of the encrypted-content block, per §4.1).
func EncryptPayload(key [16]byte, plaintext []byte, requestId [8]byte, counter uint32, associatedData []byte) (EncryptedMessage, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return EncryptedMessage{}, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return EncryptedMessage{}, err
	}
	nonce := BuildNonce(requestId, counter)
	sealed := aesgcm.Seal(nil, nonce[:], plaintext, associatedData)
	ciphertext := sealed[:len(plaintext)]
	var tag [TagSizeBytes]byte
	copy(tag[:], sealed[len(plaintext):])
	return EncryptedMessage{
		InitializationVector: nonce,
		AuthenticationTag:     tag,
		EncryptedPayload:      ciphertext,
	}, nil
}

// DecryptPayload opens an EncryptedMessage sealed by EncryptPayload.
func DecryptPayload(key [16]byte, msg EncryptedMessage, requestId [8]byte, associatedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	ciphertext := append(append([]byte{}, msg.EncryptedPayload...), msg.AuthenticationTag[:]...)
	return aesgcm.Open(nil, msg.InitializationVector[:], ciphertext, associatedData)
}

// CounterFromNonce extracts the big-endian 32-bit counter suffix of a
// nonce built by BuildNonce, for replay/ordering checks (§5).
func CounterFromNonce(nonce [NonceSizeBytes]byte) uint32 {
	return binary.BigEndian.Uint32(nonce[8:])
}
