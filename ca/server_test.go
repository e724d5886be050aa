package ca

import (
	"testing"
	"time"

	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	"github.com/zjkmxy/go-ndn/pkg/security"
	"github.com/stretchr/testify/require"

	"github.com/ndn-ucla/ndncert-ca/challenge"
	"github.com/ndn-ucla/ndncert-ca/protoerr"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
	"github.com/ndn-ucla/ndncert-ca/tlvcodec"
)

// capturingReply stands in for the engine's ndn.ReplyFunc, keeping the
// single Data packet a handler produces for inspection - the role
// OnNew/OnChallenge's direct return value played in the teacher's own
// ca-module_test.go before handlers took a reply callback instead of
// returning ndn.Data directly.
type capturingReply struct {
	data ndn.Data
}

func (c *capturingReply) reply(wire enc.Wire) error {
	data, _, err := spec_2022.Spec{}.ReadData(enc.NewWireReader(wire))
	if err != nil {
		return err
	}
	c.data = data
	return nil
}

// unsignedInterest builds a bare Interest struct the way the teacher's own
// ca-module_test.go does (a raw &spec_2022.Interest{} literal with nil
// SignatureInfo/SignatureValue), for exercising handler paths that fail
// before ever reaching signature validation.
func unsignedInterest(t *testing.T, name string, appParams []byte) ndn.Interest {
	t.Helper()
	nameV, err := enc.NameFromStr(name)
	require.NoError(t, err)
	return &spec_2022.Interest{
		NameV:                 nameV,
		CanBePrefixV:          false,
		MustBeFreshV:          true,
		ApplicationParameters: enc.Wire{appParams},
	}
}

func newServerForTest(t *testing.T) (*Server, *recordingSender) {
	t.Helper()
	sender := &recordingSender{}
	challenge.RegisterEmailChallenge(sender, nil)

	cfg := &Config{}
	cfg.Ca.Prefix = "/ndn/CA"
	cfg.Ca.Info = "a test CA"
	cfg.Ca.MaxValidityPeriod = 86400
	cfg.Ca.SupportedChallenges = []string{challenge.ChallengeTypeEmail}

	now := time.Now()
	caState, err := NewCaState(cfg, []byte("fake-ca-cert"), now.Add(-time.Hour), now.Add(365*24*time.Hour), reqstore.NewMemoryStore(), RandomSuffixPolicy{})
	require.NoError(t, err)

	return NewServer(caState, security.NewSha256Signer()), sender
}

// TestOnProbeReturnsCandidateFromEmail exercises the one handler reachable
// without a signed outer Interest: PROBE carries no proof of possession.
func TestOnProbeReturnsCandidateFromEmail(t *testing.T) {
	s, _ := newServerForTest(t)

	probeInterest := &tlvcodec.ProbeInterest{Parameters: []*tlvcodec.Parameter{
		{Key: "email", Value: []byte("bob@cs.ucla.edu")},
	}}
	i := unsignedInterest(t, "/ndn/CA/PROBE/params-sha256=00", probeInterest.Encode())

	var captured capturingReply
	s.onProbe(i, nil, nil, captured.reply, time.Time{})
	require.NotNil(t, captured.data)

	probeData, err := tlvcodec.DecodeProbeData(captured.data.Content().Join())
	require.NoError(t, err)
	require.Len(t, probeData.Entries, 1)
	require.Equal(t, "/ndn/CA/bob/edu/ucla/cs", probeData.Entries[0].Name)
}

// TestHandleNewOrRenewRejectsMalformedAppParams checks the decode-failure
// path, which replies with a signed ErrorMessage before any signature is
// ever examined.
func TestHandleNewOrRenewRejectsMalformedAppParams(t *testing.T) {
	s, _ := newServerForTest(t)

	i := unsignedInterest(t, "/ndn/CA/NEW/params-sha256=00", []byte("not-a-valid-new-interest"))

	var captured capturingReply
	s.handleNewOrRenew(reqstore.RequestTypeNew, i, nil, captured.reply)
	require.NotNil(t, captured.data)

	errMsg, err := tlvcodec.DecodeErrorMessage(captured.data.Content().Join())
	require.NoError(t, err)
	require.Equal(t, uint64(protoerr.BadInterestFormat), errMsg.ErrorCode)
}

// TestClassifyChallengeCounter exercises the counter-ordering/replay
// decision in isolation from NDN signing, per §5 and §8: a never-seen
// requestId accepts any counter above zero, a repeat of the last-accepted counter is a
// replay, and anything else that fails to strictly increase is reuse.
func TestClassifyChallengeCounter(t *testing.T) {
	cases := []struct {
		name     string
		recv     uint32
		lastSeen uint32
		incoming uint32
		want     challengeCounterOutcome
	}{
		{"first counter accepted on a fresh request", 0, 0, 1, challengeCounterFresh},
		{"strictly greater counter is fresh", 3, 3, 4, challengeCounterFresh},
		{"repeat of last-accepted counter is a replay", 3, 3, 3, challengeCounterReplay},
		{"stale counter below last-accepted is reuse", 5, 5, 4, challengeCounterReuse},
		{"equal to zero on a fresh request is reuse, not replay", 0, 0, 0, challengeCounterReuse},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			state := &reqstore.RequestState{RecvCounter: c.recv, LastCounterSeen: c.lastSeen}
			require.Equal(t, c.want, classifyChallengeCounter(state, c.incoming))
		})
	}
}

// TestOnChallengeRejectsUnknownRequestId checks the not-found path, which
// also replies before any signature is examined (the store lookup that
// would supply the key to validate against fails first).
func TestOnChallengeRejectsUnknownRequestId(t *testing.T) {
	s, _ := newServerForTest(t)

	i := unsignedInterest(t, "/ndn/CA/CHALLENGE/UNKNOWN1/params-sha256=00", []byte("irrelevant"))
	// UNKNOWN1 (8 bytes) sits second-to-last, matching where onChallenge
	// reads the request id from; params-sha256=00 is the trailing digest
	// component signing would normally append.

	var captured capturingReply
	s.onChallenge(i, nil, nil, captured.reply, time.Time{})
	require.NotNil(t, captured.data)

	errMsg, err := tlvcodec.DecodeErrorMessage(captured.data.Content().Join())
	require.NoError(t, err)
	require.Equal(t, uint64(protoerr.InvalidParameter), errMsg.ErrorCode)
}
