package challenge

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"testing"
	"time"

	"github.com/ndn-ucla/ndncert-ca/protoerr"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
	"github.com/stretchr/testify/require"
)

type fakeParser struct {
	credential *Credential
	err        error
}

func (f *fakeParser) Parse(der []byte) (*Credential, error) {
	return f.credential, f.err
}

type fakeAnchorVerifier struct {
	ok  bool
	err error
}

func (f *fakeAnchorVerifier) VerifyCredential(cred *Credential) (bool, error) {
	return f.ok, f.err
}

func newTestCredential(t *testing.T) (*Credential, *ecdsa.PrivateKey) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return &Credential{
		Raw:            []byte("fake-cert-bytes"),
		KeyLocatorName: "/example/CA/KEY/1",
		PublicKeyDER:   pubDER,
	}, priv
}

func signNonceASN1(t *testing.T, priv *ecdsa.PrivateKey, nonce []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(nonce)
	sig, err := ecdsa.SignASN1(rand.Reader, priv, digest[:])
	require.NoError(t, err)
	return sig
}

func newTestState() *reqstore.RequestState {
	return &reqstore.RequestState{
		RequestId: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		CaPrefix:  "/example/CA",
		Status:    reqstore.StatusBeforeChallenge,
	}
}

func TestPossessionPhaseOneRejectsExtraParams(t *testing.T) {
	cred, _ := newTestCredential(t)
	pc := NewPossessionChallenge(&fakeParser{credential: cred}, &fakeAnchorVerifier{ok: true})
	state := newTestState()

	err := pc.HandleChallengeRequest(map[string][]byte{
		possessionParamCredential: []byte("cert"),
		possessionParamProof:      []byte("should-not-be-here"),
	}, state, time.Now())

	require.Error(t, err)
	require.Equal(t, protoerr.BadInterestFormat, err.(*protoerr.Error).Code)
}

func TestPossessionPhaseOneRejectsUnverifiedCredential(t *testing.T) {
	cred, _ := newTestCredential(t)
	pc := NewPossessionChallenge(&fakeParser{credential: cred}, &fakeAnchorVerifier{ok: false})
	state := newTestState()

	err := pc.HandleChallengeRequest(map[string][]byte{
		possessionParamCredential: []byte("cert"),
	}, state, time.Now())

	require.Error(t, err)
	require.Equal(t, protoerr.InvalidParameter, err.(*protoerr.Error).Code)
	require.Equal(t, reqstore.StatusBeforeChallenge, state.Status)
}

func TestPossessionPhaseOneAdvancesToNeedProof(t *testing.T) {
	cred, _ := newTestCredential(t)
	pc := NewPossessionChallenge(&fakeParser{credential: cred}, &fakeAnchorVerifier{ok: true})
	state := newTestState()

	err := pc.HandleChallengeRequest(map[string][]byte{
		possessionParamCredential: []byte("cert"),
	}, state, time.Now())

	require.NoError(t, err)
	require.Equal(t, reqstore.StatusChallenge, state.Status)
	require.Equal(t, ChallengeStatusNeedProof, state.ChallengeState.ChallengeStatus)
	require.NotEmpty(t, state.ChallengeState.Secrets["nonce"])
}

func TestPossessionPhaseTwoSucceedsWithValidProof(t *testing.T) {
	cred, priv := newTestCredential(t)
	pc := NewPossessionChallenge(&fakeParser{credential: cred}, &fakeAnchorVerifier{ok: true})
	state := newTestState()
	now := time.Now()

	require.NoError(t, pc.HandleChallengeRequest(map[string][]byte{
		possessionParamCredential: []byte("cert"),
	}, state, now))

	nonceHex := state.ChallengeState.Secrets["nonce"]
	nonce, err := hex.DecodeString(nonceHex)
	require.NoError(t, err)

	proof := signNonceASN1(t, priv, nonce)
	err = pc.HandleChallengeRequest(map[string][]byte{
		possessionParamProof: proof,
	}, state, now)

	require.NoError(t, err)
	require.Equal(t, reqstore.StatusPending, state.Status)
	require.Equal(t, ChallengeStatusSuccess, state.ChallengeState.ChallengeStatus)
}

func TestPossessionPhaseTwoFailsClosedAfterOneAttempt(t *testing.T) {
	cred, _ := newTestCredential(t)
	pc := NewPossessionChallenge(&fakeParser{credential: cred}, &fakeAnchorVerifier{ok: true})
	state := newTestState()
	now := time.Now()

	require.NoError(t, pc.HandleChallengeRequest(map[string][]byte{
		possessionParamCredential: []byte("cert"),
	}, state, now))

	err := pc.HandleChallengeRequest(map[string][]byte{
		possessionParamProof: []byte("garbage-signature-of-wrong-length"),
	}, state, now)

	require.Error(t, err)
	require.Equal(t, protoerr.InvalidParameter, err.(*protoerr.Error).Code)
	require.Equal(t, reqstore.StatusFailure, state.Status)
	require.EqualValues(t, 0, state.ChallengeState.RemainingAttempts)
}
