package tlvcodec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewInterestRoundTrip(t *testing.T) {
	orig := &NewInterest{EcdhPub: []byte{1, 2, 3}, CertRequest: []byte("cert-bytes")}
	decoded, err := DecodeNewInterest(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestNewDataRoundTrip(t *testing.T) {
	orig := &NewData{
		EcdhPub:   []byte{4, 5, 6},
		Salt:      []byte("salt-bytes-0123456789012345678901"),
		RequestId: []byte("reqid123"),
		Challenge: []string{"email", "possession"},
	}
	decoded, err := DecodeNewData(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestRevokeInterestRoundTrip(t *testing.T) {
	orig := &RevokeInterest{EcdhPub: []byte{9}, CertToRevoke: []byte("old-cert")}
	decoded, err := DecodeRevokeInterest(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestEncryptedMessageRoundTrip(t *testing.T) {
	orig := &EncryptedMessage{
		InitializationVector: []byte("123456789012"),
		AuthenticationTag:     []byte("1234567890123456"),
		EncryptedPayload:      []byte("ciphertext-goes-here"),
	}
	decoded, err := DecodeEncryptedMessage(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestChallengeInterestPlaintextRoundTrip(t *testing.T) {
	orig := &ChallengeInterestPlaintext{
		SelectedChallenge: "email",
		Parameters: []*Parameter{
			{Key: "email", Value: []byte("alice@example.com")},
		},
	}
	decoded, err := DecodeChallengeInterestPlaintext(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestChallengeDataPlaintextRoundTrip(t *testing.T) {
	tries := uint64(2)
	remaining := uint64(120)
	orig := &ChallengeDataPlaintext{
		Status:          1,
		ChallengeStatus: "need-code",
		RemainingTries:  &tries,
		RemainingTime:   &remaining,
	}
	decoded, err := DecodeChallengeDataPlaintext(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestChallengeDataPlaintextSuccessRoundTrip(t *testing.T) {
	orig := &ChallengeDataPlaintext{
		Status:                3,
		ChallengeStatus:       "success",
		IssuedCertificateName: "/ndn/edu/ucla/KEY/abcdef",
	}
	decoded, err := DecodeChallengeDataPlaintext(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestErrorMessageRoundTrip(t *testing.T) {
	orig := &ErrorMessage{ErrorCode: 5, ErrorInfo: "out of tries"}
	decoded, err := DecodeErrorMessage(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestProbeRoundTrip(t *testing.T) {
	origInterest := &ProbeInterest{Parameters: []*Parameter{{Key: "email", Value: []byte("bob@example.com")}}}
	decodedInterest, err := DecodeProbeInterest(origInterest.Encode())
	require.NoError(t, err)
	require.Equal(t, origInterest, decodedInterest)

	origData := &ProbeData{Entries: []*ProbeEntry{
		{Name: "/ndn/edu/ucla/bob", MaxSuffixLength: 2},
	}}
	decodedData, err := DecodeProbeData(origData.Encode())
	require.NoError(t, err)
	require.Equal(t, origData, decodedData)
}

func TestCaProfileRoundTrip(t *testing.T) {
	orig := &CaProfile{
		CaPrefix:       "/ndn/edu/ucla",
		CaInfo:         "A test CA",
		ParameterKey:   []string{"email"},
		MaxValidPeriod: 86400,
		CaCertificate:  []byte("der-cert-bytes"),
	}
	decoded, err := DecodeCaProfile(orig.Encode())
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}

func TestUnknownCriticalTagRejected(t *testing.T) {
	wire := encodeTLV(999, []byte("x")) // odd tag, unknown, critical
	_, err := DecodeNewInterest(wire)
	require.ErrorIs(t, err, ErrUnknownCritical)
}

func TestUnknownNonCriticalTagTolerated(t *testing.T) {
	orig := &NewInterest{EcdhPub: []byte{1}, CertRequest: []byte{2}}
	wire := append(orig.Encode(), encodeTLV(1000, []byte("ignored"))...) // even tag, unknown, non-critical
	decoded, err := DecodeNewInterest(wire)
	require.NoError(t, err)
	require.Equal(t, orig, decoded)
}
