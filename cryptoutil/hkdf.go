package cryptoutil

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// contentEncryptionInfo is the HKDF "info" parameter fixing key separation
// between this derivation and any other use of the same shared secret.
const contentEncryptionInfo = "content-enc"

// DeriveEncryptionKey derives the 16-byte AEAD key from the ECDH shared
// secret and the authority-chosen salt (§4.1).
func DeriveEncryptionKey(sharedSecret, salt []byte) ([16]byte, error) {
	var key [16]byte
	reader := hkdf.New(sha256.New, sharedSecret, salt, []byte(contentEncryptionInfo))
	if _, err := io.ReadFull(reader, key[:]); err != nil {
		return key, err
	}
	return key, nil
}
