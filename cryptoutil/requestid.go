package cryptoutil

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
)

const ProcessKeyLength = 32

// GenerateProcessKey creates the authority's process-scoped HMAC key
// (§4.1, §5 "Process-scoped HMAC key"). Regenerated at startup, never
// persisted: restarting the authority intentionally invalidates every
// prior request-id.
func GenerateProcessKey() ([ProcessKeyLength]byte, error) {
	var key [ProcessKeyLength]byte
	_, err := rand.Read(key[:])
	return key, err
}

// DeriveRequestId computes requestId = HMAC-SHA256(processKey,
// ecdhPubClient || salt)[0:8], per §4.1.
func DeriveRequestId(processKey [ProcessKeyLength]byte, ecdhPubClient, salt []byte) [8]byte {
	mac := hmac.New(sha256.New, processKey[:])
	mac.Write(ecdhPubClient)
	mac.Write(salt)
	sum := mac.Sum(nil)
	var id [8]byte
	copy(id[:], sum[:8])
	return id
}

// GenerateSalt produces the authority-chosen 32-byte HKDF salt.
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, sha256.Size)
	_, err := rand.Read(salt)
	return salt, err
}
