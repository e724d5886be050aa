package ca

import (
	"testing"
	"time"

	"github.com/ndn-ucla/ndncert-ca/challenge"
	"github.com/ndn-ucla/ndncert-ca/cryptoutil"
	"github.com/ndn-ucla/ndncert-ca/protoerr"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	lastCode string
}

func (s *recordingSender) SendCode(to, code, caPrefix, certName string) error {
	s.lastCode = code
	return nil
}

func newTestCaState(t *testing.T) (*CaState, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	challenge.RegisterEmailChallenge(sender, nil)

	cfg := &Config{}
	cfg.Ca.Prefix = "/example/CA"
	cfg.Ca.Info = "a test CA"
	cfg.Ca.MaxValidityPeriod = 86400
	cfg.Ca.SupportedChallenges = []string{challenge.ChallengeTypeEmail}

	now := time.Now()
	caState, err := NewCaState(cfg, []byte("fake-ca-cert"), now.Add(-time.Hour), now.Add(365*24*time.Hour), reqstore.NewMemoryStore(), RandomSuffixPolicy{})
	require.NoError(t, err)
	return caState, sender
}

func expressNew(t *testing.T, c *CaState, now time.Time) (*reqstore.RequestState, []byte) {
	t.Helper()
	var clientEcdh cryptoutil.ECDHState
	require.NoError(t, clientEcdh.GenerateKeyPair())

	state, _, err := c.HandleNew(NewRequestParams{
		RequestType:     reqstore.RequestTypeNew,
		CertRequest:     []byte("fake-self-signed-cert"),
		RequesterPubKey: []byte("fake-pub-key"),
		EcdhPubClient:   clientEcdh.PublicKey.Bytes(),
		NotBefore:       now,
		NotAfter:        now.Add(time.Hour),
	}, now)
	require.NoError(t, err)
	return state, clientEcdh.PublicKey.Bytes()
}

func TestHandleNewCreatesBeforeChallengeState(t *testing.T) {
	c, _ := newTestCaState(t)
	now := time.Now()
	state, _ := expressNew(t, c, now)

	require.Equal(t, reqstore.StatusBeforeChallenge, state.Status)
	require.Contains(t, state.RequestedName, c.CaPrefix+"/")
}

func TestHandleNewRejectsExcessiveValidityPeriod(t *testing.T) {
	c, _ := newTestCaState(t)
	now := time.Now()
	var clientEcdh cryptoutil.ECDHState
	require.NoError(t, clientEcdh.GenerateKeyPair())

	_, _, err := c.HandleNew(NewRequestParams{
		RequestType:   reqstore.RequestTypeNew,
		CertRequest:   []byte("fake-cert"),
		EcdhPubClient: clientEcdh.PublicKey.Bytes(),
		NotBefore:     now,
		NotAfter:      now.Add(1000 * 24 * time.Hour),
	}, now)

	require.Error(t, err)
	require.Equal(t, protoerr.BadValidityPeriod, err.(*protoerr.Error).Code)
}

func TestFullEmailChallengeFlowIssuesCertificate(t *testing.T) {
	c, sender := newTestCaState(t)
	now := time.Now()
	state, _ := expressNew(t, c, now)

	_, reply, err := c.HandleChallenge(state.RequestId, challenge.ChallengeTypeEmail, map[string][]byte{
		"email": []byte("alice@example.com"),
	}, now)
	require.NoError(t, err)
	require.Equal(t, "need-code", reply.ChallengeStatus)
	require.NotEmpty(t, sender.lastCode)

	finalState, successReply, err := c.HandleChallenge(state.RequestId, challenge.ChallengeTypeEmail, map[string][]byte{
		"code": []byte(sender.lastCode),
	}, now)
	require.NoError(t, err)
	require.Equal(t, reqstore.StatusSuccess, finalState.Status)
	require.NotEmpty(t, successReply.IssuedCertificateName)
}

func TestChallengeRejectsUnknownRequestId(t *testing.T) {
	c, _ := newTestCaState(t)
	_, _, err := c.HandleChallenge([8]byte{9, 9, 9, 9, 9, 9, 9, 9}, challenge.ChallengeTypeEmail, map[string][]byte{
		"email": []byte("a@b.com"),
	}, time.Now())
	require.Error(t, err)
	require.Equal(t, protoerr.InvalidParameter, err.(*protoerr.Error).Code)
}

func TestChallengeExpiryForcesFailure(t *testing.T) {
	c, _ := newTestCaState(t)
	now := time.Now()
	state, _ := expressNew(t, c, now)

	_, _, err := c.HandleChallenge(state.RequestId, challenge.ChallengeTypeEmail, map[string][]byte{
		"email": []byte("alice@example.com"),
	}, now)
	require.NoError(t, err)

	farFuture := now.Add(time.Hour)
	_, _, err = c.HandleChallenge(state.RequestId, challenge.ChallengeTypeEmail, map[string][]byte{
		"code": []byte("000000"),
	}, farFuture)
	require.Error(t, err)
	require.Equal(t, protoerr.ChallengeExpired, err.(*protoerr.Error).Code)
}

func TestProbeDerivesNameFromEmail(t *testing.T) {
	c, _ := newTestCaState(t)
	candidates, err := c.Probe(map[string]string{"email": "bob@cs.ucla.edu"})
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	require.Equal(t, c.CaPrefix+"/bob/edu/ucla/cs", candidates[0].Name)
}
