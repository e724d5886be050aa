package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"errors"
	"math/big"
)

var (
	ErrNotECDSAKey      = errors.New("cryptoutil: public key is not ECDSA")
	ErrUnsupportedKey   = errors.New("cryptoutil: public key type is not supported by any registered verifier")
	ErrSignatureInvalid = errors.New("cryptoutil: signature verification failed")
)

// KeyType tags which verifier a credential's public key encoding selects.
// Per the Design Notes' REDESIGN FLAG, selection is made by inspecting
// the key encoding up front rather than by trying ECDSA and falling back
// to BLS on a decode exception.
type KeyType int

const (
	KeyTypeECDSA KeyType = iota
	KeyTypeBLS
	KeyTypeUnknown
)

// DetectKeyType inspects a DER-encoded public key and reports which
// verifier capability it requires. A PKIX SubjectPublicKeyInfo that
// parses as ECDSA is KeyTypeECDSA; anything else is KeyTypeBLS so a BLS
// verifier implementation can be plugged in without touching callers,
// since this pack ships no pairing-crypto library to ground a real BLS
// decoder on (see DESIGN.md).
func DetectKeyType(der []byte) KeyType {
	if _, err := ParsePublicKey(der); err == nil {
		return KeyTypeECDSA
	}
	return KeyTypeBLS
}

// CredentialVerifier is the narrow capability every supported credential
// key type must implement: verify(pub, msg, sig).
type CredentialVerifier interface {
	Verify(publicKeyDER, message, signature []byte) (bool, error)
}

// ECDSAVerifier verifies signatures produced over a SHA-256 digest by a
// PKIX-encoded ECDSA public key.
type ECDSAVerifier struct{}

func (ECDSAVerifier) Verify(publicKeyDER, message, signature []byte) (bool, error) {
	pub, err := ParsePublicKey(publicKeyDER)
	if err != nil {
		return false, err
	}
	digest := sha256.Sum256(message)
	return ecdsa.VerifyASN1(pub, digest[:], signature), nil
}

// BLSVerifier is the seam for an alternate verifier over embedded BLS
// keys (§9 Design Notes, "Embedded BLS path"). No pairing-crypto library
// is wired in this repo (none of the retrieved examples carry one); this
// stub documents the contract a real implementation would satisfy and
// fails closed until one is plugged in.
type BLSVerifier struct{}

func (BLSVerifier) Verify(publicKeyDER, message, signature []byte) (bool, error) {
	return false, ErrUnsupportedKey
}

// SelectVerifier dispatches on DetectKeyType rather than failure-driven
// control flow.
func SelectVerifier(der []byte) CredentialVerifier {
	switch DetectKeyType(der) {
	case KeyTypeECDSA:
		return ECDSAVerifier{}
	default:
		return BLSVerifier{}
	}
}

// VerifyECDSARaw verifies a raw (r||s) signature over the SHA-256 digest
// of message, as distinct from the ASN.1 DER signatures ECDSAVerifier
// checks (the form the possession challenge's proof is verified in).
func VerifyECDSARaw(pub *ecdsa.PublicKey, message, signature []byte) bool {
	if len(signature)%2 != 0 || len(signature) == 0 {
		return false
	}
	half := len(signature) / 2
	r := new(big.Int).SetBytes(signature[:half])
	s := new(big.Int).SetBytes(signature[half:])
	digest := sha256.Sum256(message)
	return ecdsa.Verify(pub, digest[:], r, s)
}
