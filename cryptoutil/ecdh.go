package cryptoutil

import (
	"crypto/ecdh"
	"crypto/rand"
)

// ECDHState holds one side's ephemeral P-256 key-agreement state, the way
// the teacher's key_helpers.ECDHState does, generalized with an error
// return in place of panics.
type ECDHState struct {
	RemotePublicKey *ecdh.PublicKey
	PublicKey       *ecdh.PublicKey
	privateKey      *ecdh.PrivateKey
}

// GenerateKeyPair creates a fresh ephemeral P-256 key pair.
func (e *ECDHState) GenerateKeyPair() error {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	e.privateKey = priv
	e.PublicKey = priv.PublicKey()
	return nil
}

// SetRemotePublicKey parses and stores the peer's raw P-256 point.
func (e *ECDHState) SetRemotePublicKey(pub []byte) error {
	remote, err := ecdh.P256().NewPublicKey(pub)
	if err != nil {
		return err
	}
	e.RemotePublicKey = remote
	return nil
}

// SharedSecret computes the ECDH shared secret (the x-coordinate of
// peer-pub * own-priv, per §4.1).
func (e *ECDHState) SharedSecret() ([]byte, error) {
	return e.privateKey.ECDH(e.RemotePublicKey)
}
