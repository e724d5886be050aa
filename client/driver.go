// Package client drives the requester side of certificate issuance: a
// deterministic PROBE? -> NEW/RENEW/REVOKE -> CHALLENGE* walk,
// generalized over the challenge package's Challenge/ClientContext
// capability interfaces instead of the teacher's one hand-written method
// per challenge type (ExpressEmailChoiceChallenge/ExpressEmailCodeChallenge).
// The CA profile at INFO is not fetched, and neither is the issued
// certificate: the walk ends when a CHALLENGE reply names it.
package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	"github.com/zjkmxy/go-ndn/pkg/security"

	"github.com/ndn-ucla/ndncert-ca/ca"
	"github.com/ndn-ucla/ndncert-ca/challenge"
	"github.com/ndn-ucla/ndncert-ca/cryptoutil"
	"github.com/ndn-ucla/ndncert-ca/protoerr"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
	"github.com/ndn-ucla/ndncert-ca/tlvcodec"
)

var ErrSequencing = errors.New("client: operation attempted out of sequence")

// Driver walks one certificate request end to end against a single
// authority, grounded on ndncert/client/requester.go's RequesterState but
// running whichever challenge module the caller passes to RunChallenge
// rather than one hard-coded email exchange.
type Driver struct {
	CaPrefix string
	Engine   ndn.Engine
	Signer   ndn.Signer

	ecdh          cryptoutil.ECDHState
	requestId     [8]byte
	encryptionKey [16]byte
	sendCounter   uint32

	mu sync.Mutex
}

func NewDriver(caPrefix string, engine ndn.Engine, signer ndn.Signer) *Driver {
	return &Driver{CaPrefix: caPrefix, Engine: engine, Signer: signer}
}

// Probe asks the authority to suggest a certificate name for the given
// parameters (e.g. an email address), per §4.5's PROBE.
func (d *Driver) Probe(ctx context.Context, params map[string]string) ([]ca.ProbeCandidate, error) {
	parameters := make([]*tlvcodec.Parameter, 0, len(params))
	for k, v := range params {
		parameters = append(parameters, &tlvcodec.Parameter{Key: k, Value: []byte(v)})
	}
	probeInterest := &tlvcodec.ProbeInterest{Parameters: parameters}

	data, err := d.express(ctx, d.CaPrefix+ca.PrefixProbe, probeInterest.Encode())
	if err != nil {
		return nil, err
	}
	if errMsg, ok := tryDecodeError(data); ok {
		return nil, errMsg
	}
	probeData, err := tlvcodec.DecodeProbeData(data.Content().Join())
	if err != nil {
		return nil, err
	}
	candidates := make([]ca.ProbeCandidate, 0, len(probeData.Entries))
	for _, e := range probeData.Entries {
		candidates = append(candidates, ca.ProbeCandidate{Name: e.Name, MaxSuffixLength: e.MaxSuffixLength})
	}
	return candidates, nil
}

// New begins a NEW/RENEW/REVOKE session: generates this session's ECDH
// key pair, sends the self-signed certificate request, and derives the
// shared symmetric key and request-id from the authority's reply (§4.1,
// §4.5).
func (d *Driver) New(ctx context.Context, reqType reqstore.RequestType, certRequestWire []byte) ([]string, error) {
	if err := d.ecdh.GenerateKeyPair(); err != nil {
		return nil, err
	}

	var prefix string
	var appParams []byte
	switch reqType {
	case reqstore.RequestTypeNew:
		prefix = ca.PrefixNew
		appParams = (&tlvcodec.NewInterest{EcdhPub: d.ecdh.PublicKey.Bytes(), CertRequest: certRequestWire}).Encode()
	case reqstore.RequestTypeRenew:
		prefix = ca.PrefixRenew
		appParams = (&tlvcodec.RenewInterest{EcdhPub: d.ecdh.PublicKey.Bytes(), CertRequest: certRequestWire}).Encode()
	case reqstore.RequestTypeRevoke:
		prefix = ca.PrefixRevoke
		appParams = (&tlvcodec.RevokeInterest{EcdhPub: d.ecdh.PublicKey.Bytes(), CertToRevoke: certRequestWire}).Encode()
	default:
		return nil, fmt.Errorf("client: unknown request type %v", reqType)
	}

	data, err := d.express(ctx, d.CaPrefix+prefix, appParams)
	if err != nil {
		return nil, err
	}
	if errMsg, ok := tryDecodeError(data); ok {
		return nil, errMsg
	}
	newData, err := tlvcodec.DecodeNewData(data.Content().Join())
	if err != nil {
		return nil, err
	}

	if err := d.ecdh.SetRemotePublicKey(newData.EcdhPub); err != nil {
		return nil, err
	}
	sharedSecret, err := d.ecdh.SharedSecret()
	if err != nil {
		return nil, err
	}
	encryptionKey, err := cryptoutil.DeriveEncryptionKey(sharedSecret, newData.Salt)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	copy(d.requestId[:], newData.RequestId)
	d.encryptionKey = encryptionKey
	d.sendCounter = 0
	d.mu.Unlock()

	return newData.Challenge, nil
}

// RunChallenge drives a Challenge to completion (possibly several rounds,
// e.g. email's choice-then-code), filling each round's prompted parameters
// via the Challenge's own FulfillParameters against the caller-supplied
// ClientContext (§4.4, §4.6, §4.7).
func (d *Driver) RunChallenge(ctx context.Context, mod challenge.Challenge, clientCtx challenge.ClientContext) (*tlvcodec.ChallengeDataPlaintext, error) {
	status := reqstore.StatusBeforeChallenge
	challengeStatus := ""
	for {
		prompts := mod.RequestedParameters(status, challengeStatus)
		filled, err := mod.FulfillParameters(prompts, clientCtx)
		if err != nil {
			return nil, err
		}
		reply, err := d.sendChallenge(ctx, mod.Name(), filled)
		if err != nil {
			return nil, err
		}
		if reply.IssuedCertificateName != "" {
			return reply, nil
		}
		status = reqstore.StatusChallenge
		challengeStatus = reply.ChallengeStatus
	}
}

func (d *Driver) sendChallenge(ctx context.Context, selectedChallenge string, params map[string]string) (*tlvcodec.ChallengeDataPlaintext, error) {
	d.mu.Lock()
	if d.encryptionKey == ([16]byte{}) {
		d.mu.Unlock()
		return nil, ErrSequencing
	}
	requestId := d.requestId
	encryptionKey := d.encryptionKey
	counter := d.sendCounter + 1
	d.mu.Unlock()

	parameters := make([]*tlvcodec.Parameter, 0, len(params))
	for k, v := range params {
		parameters = append(parameters, &tlvcodec.Parameter{Key: k, Value: []byte(v)})
	}
	plaintext := &tlvcodec.ChallengeInterestPlaintext{SelectedChallenge: selectedChallenge, Parameters: parameters}

	name := d.CaPrefix + ca.PrefixChallenge + "/" + string(requestId[:])
	associatedData := []byte(name)
	sealed, err := cryptoutil.EncryptPayload(encryptionKey, plaintext.Encode(), requestId, counter, associatedData)
	if err != nil {
		return nil, err
	}
	wireMsg := &tlvcodec.EncryptedMessage{
		InitializationVector: sealed.InitializationVector[:],
		AuthenticationTag:    sealed.AuthenticationTag[:],
		EncryptedPayload:     sealed.EncryptedPayload,
	}

	data, err := d.express(ctx, name, wireMsg.Encode())
	if err != nil {
		return nil, err
	}
	if errMsg, ok := tryDecodeError(data); ok {
		return nil, errMsg
	}

	d.mu.Lock()
	d.sendCounter = counter
	d.mu.Unlock()

	outer, err := tlvcodec.DecodeEncryptedMessage(data.Content().Join())
	if err != nil {
		return nil, err
	}
	decrypted, err := cryptoutil.DecryptPayload(encryptionKey, cryptoutil.EncryptedMessage{
		InitializationVector: [cryptoutil.NonceSizeBytes]byte(outer.InitializationVector),
		AuthenticationTag:    [cryptoutil.TagSizeBytes]byte(outer.AuthenticationTag),
		EncryptedPayload:     outer.EncryptedPayload,
	}, requestId, []byte(name))
	if err != nil {
		return nil, err
	}
	return tlvcodec.DecodeChallengeDataPlaintext(decrypted)
}

// express builds a signed Interest the way makeInterestPacket does in
// ndncert/client/requester.go, and turns the engine's asynchronous
// Express callback into a blocking call bounded by ctx.
func (d *Driver) express(ctx context.Context, name string, appParams []byte) (ndn.Data, error) {
	nameV, err := enc.NameFromStr(name)
	if err != nil {
		return nil, err
	}
	interestWire, _, finalName, err := spec_2022.Spec{}.MakeInterest(
		nameV,
		&ndn.InterestConfig{CanBePrefix: false, MustBeFresh: true},
		enc.Wire{appParams},
		d.signerOrDefault(),
	)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		data ndn.Data
		err  error
	}
	done := make(chan outcome, 1)
	expressErr := d.Engine.Express(finalName, &ndn.InterestConfig{CanBePrefix: false, MustBeFresh: true}, interestWire,
		func(result ndn.InterestResult, data ndn.Data, rawData enc.Wire, sigCovered enc.Wire, nackReason uint64) {
			if result != ndn.InterestResultData {
				done <- outcome{err: fmt.Errorf("client: interest failed with result %v", result)}
				return
			}
			done <- outcome{data: data}
		},
	)
	if expressErr != nil {
		return nil, expressErr
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case o := <-done:
		return o.data, o.err
	}
}

func (d *Driver) signerOrDefault() ndn.Signer {
	if d.Signer != nil {
		return d.Signer
	}
	return security.NewSha256Signer()
}

func tryDecodeError(data ndn.Data) (*protoerr.Error, bool) {
	errMsg, err := tlvcodec.DecodeErrorMessage(data.Content().Join())
	if err != nil || errMsg.ErrorCode == 0 {
		return nil, false
	}
	return &protoerr.Error{Code: protoerr.Code(errMsg.ErrorCode)}, true
}
