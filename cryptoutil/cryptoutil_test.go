package cryptoutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestECDHSharedSecretMatches(t *testing.T) {
	var client, server ECDHState
	require.NoError(t, client.GenerateKeyPair())
	require.NoError(t, server.GenerateKeyPair())

	require.NoError(t, client.SetRemotePublicKey(server.PublicKey.Bytes()))
	require.NoError(t, server.SetRemotePublicKey(client.PublicKey.Bytes()))

	clientSecret, err := client.SharedSecret()
	require.NoError(t, err)
	serverSecret, err := server.SharedSecret()
	require.NoError(t, err)
	require.Equal(t, clientSecret, serverSecret)

	salt, err := GenerateSalt()
	require.NoError(t, err)
	clientKey, err := DeriveEncryptionKey(clientSecret, salt)
	require.NoError(t, err)
	serverKey, err := DeriveEncryptionKey(serverSecret, salt)
	require.NoError(t, err)
	require.Equal(t, clientKey, serverKey)
}

func TestRequestIdStableAcrossRetries(t *testing.T) {
	processKey, err := GenerateProcessKey()
	require.NoError(t, err)
	ecdhPub := []byte{1, 2, 3, 4}
	salt := []byte("some-salt")

	id1 := DeriveRequestId(processKey, ecdhPub, salt)
	id2 := DeriveRequestId(processKey, ecdhPub, salt)
	require.Equal(t, id1, id2)
}

func TestAEADRoundTripAndCounterInNonce(t *testing.T) {
	var key [16]byte
	copy(key[:], []byte("0123456789abcdef"))
	requestId := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	associatedData := []byte("/ca/CHALLENGE/name")

	sealed, err := EncryptPayload(key, []byte("hello world"), requestId, 7, associatedData)
	require.NoError(t, err)
	require.Equal(t, uint32(7), CounterFromNonce(sealed.InitializationVector))

	plaintext, err := DecryptPayload(key, sealed, requestId, associatedData)
	require.NoError(t, err)
	require.Equal(t, "hello world", string(plaintext))

	_, err = DecryptPayload(key, sealed, requestId, []byte("wrong-ad"))
	require.Error(t, err)
}

func TestVerifyECDSARaw(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	nonce := []byte("fresh-nonce-16-b")
	digest := sha256.Sum256(nonce)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	rBytes := r.Bytes()
	sBytes := s.Bytes()
	size := 32
	sig := make([]byte, 2*size)
	copy(sig[size-len(rBytes):size], rBytes)
	copy(sig[2*size-len(sBytes):], sBytes)
	require.True(t, VerifyECDSARaw(&priv.PublicKey, nonce, sig))

	require.False(t, VerifyECDSARaw(&priv.PublicKey, []byte("different"), sig))
}
