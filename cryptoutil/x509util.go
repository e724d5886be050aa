package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/x509"
)

// ParsePublicKey decodes a DER-encoded SubjectPublicKeyInfo, as carried in
// an NDN KEY data packet's content (teacher's key_helpers.ParsePublicKey).
func ParsePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	generic, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	pub, ok := generic.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrNotECDSAKey
	}
	return pub, nil
}

// ParseCertificatePublicKey extracts the ECDSA public key from a DER
// certificate.
func ParseCertificatePublicKey(der []byte) (*ecdsa.PublicKey, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	pub, ok := cert.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, ErrNotECDSAKey
	}
	return pub, nil
}
