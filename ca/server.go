package ca

import (
	"crypto/x509"
	"strings"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	"github.com/zjkmxy/go-ndn/pkg/schema"
	_ "github.com/zjkmxy/go-ndn/pkg/schema/rdr"
	sec "github.com/zjkmxy/go-ndn/pkg/security"
	"github.com/zjkmxy/go-ndn/pkg/utils"

	"github.com/ndn-ucla/ndncert-ca/cryptoutil"
	"github.com/ndn-ucla/ndncert-ca/protoerr"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
	"github.com/ndn-ucla/ndncert-ca/tlvcodec"
)

const requestIdLength = 8

const (
	PrefixInfo      = "/INFO"
	PrefixProbe     = "/PROBE"
	PrefixNew       = "/NEW"
	PrefixRenew     = "/RENEW"
	PrefixRevoke    = "/REVOKE"
	PrefixChallenge = "/CHALLENGE"
)

// infoSchemaJSON configures the RDR-segmented node the CA profile is
// published under, lifted from ndncert/server/ca.go's SchemaJson with the
// freshness/lifetime unchanged.
const infoSchemaJSON = `{
  "nodes": {
    "/": {
      "type": "RdrNode",
      "attrs": {
        "MetaFreshness": 10,
        "MaxRetriesForMeta": 2,
        "MetaLifetime": 6000,
        "Lifetime": 6000,
        "Freshness": 3153600000000,
        "ValidDuration": 3153600000000,
        "SegmentSize": 80,
        "MaxRetriesOnFailure": 3,
        "Pipeline": "SinglePacket"
      }
    }
  },
  "policies": [
    {"type": "Sha256Signer", "path": "/32=metadata/<v=versionNumber>/seg=0"},
    {"type": "Sha256Signer", "path": "/32=metadata"},
    {"type": "Sha256Signer", "path": "/<v=versionNumber>/<seg=segmentNumber>"},
    {"type": "MemStorage", "path": "/", "attrs": {}}
  ]
}`

// Server adapts a CaState to a running NDN engine (grounded on
// ndncert/server/ca.go's CaState.Serve/OnNew/OnChallenge), the boundary
// where go-ndn's Interest/Data/signer types meet the framework-independent
// protocol core.
type Server struct {
	State  *CaState
	Signer ndn.Signer
}

func NewServer(state *CaState, signer ndn.Signer) *Server {
	return &Server{State: state, Signer: signer}
}

func (s *Server) Serve(ndnEngine ndn.Engine) error {
	logger := log.WithField("module", "ca")

	caPrefixName, err := enc.NameFromStr(s.State.CaPrefix)
	if err != nil {
		return err
	}
	if err := ndnEngine.RegisterRoute(caPrefixName); err != nil {
		return err
	}

	infoPrefix, _ := enc.NameFromStr(s.State.CaPrefix + PrefixInfo)
	ntSchema := schema.CreateFromJson(infoSchemaJSON, map[string]any{})
	if err := ntSchema.Attach(infoPrefix, ndnEngine); err != nil {
		return err
	}
	matchedNode := ntSchema.Root().Apply(enc.Matching{})
	version := matchedNode.Call("Provide", s.State.Profile().Encode())
	logger.Infof("Published CA profile at version=%d", version)

	handlers := map[string]func(ndn.Interest, enc.Wire, enc.Wire, ndn.ReplyFunc, time.Time){
		PrefixProbe:     s.onProbe,
		PrefixNew:       s.onNew,
		PrefixRenew:     s.onRenew,
		PrefixRevoke:    s.onRevoke,
		PrefixChallenge: s.onChallenge,
	}
	for suffix, handler := range handlers {
		prefix, _ := enc.NameFromStr(s.State.CaPrefix + suffix)
		logger.Infof("Setting up route on %s", prefix.String())
		if err := ndnEngine.AttachHandler(prefix, handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) onNew(interest ndn.Interest, rawInterest enc.Wire, sigCovered enc.Wire, reply ndn.ReplyFunc, deadline time.Time) {
	s.handleNewOrRenew(reqstore.RequestTypeNew, interest, sigCovered, reply)
}

func (s *Server) onRenew(interest ndn.Interest, rawInterest enc.Wire, sigCovered enc.Wire, reply ndn.ReplyFunc, deadline time.Time) {
	s.handleNewOrRenew(reqstore.RequestTypeRenew, interest, sigCovered, reply)
}

// handleNewOrRenew implements NEW and RENEW, which differ only in the wire
// struct they decode and the RequestType recorded: both carry a fresh ECDH
// public key plus a self-signed certificate request whose own signature
// and validity period must check out before a session begins (§4.5,
// grounded on ndncert/server/ca.go's OnNew).
func (s *Server) handleNewOrRenew(reqType reqstore.RequestType, interest ndn.Interest, sigCovered enc.Wire, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")

	var ecdhPub, certRequestBytes []byte
	if reqType == reqstore.RequestTypeRenew {
		ri, err := tlvcodec.DecodeRenewInterest(interest.AppParam().Join())
		if err != nil {
			s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
			return
		}
		ecdhPub, certRequestBytes = ri.EcdhPub, ri.CertRequest
	} else {
		ni, err := tlvcodec.DecodeNewInterest(interest.AppParam().Join())
		if err != nil {
			s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
			return
		}
		ecdhPub, certRequestBytes = ni.EcdhPub, ni.CertRequest
	}

	certRequestData, certRequestSigCovered, err := spec_2022.Spec{}.ReadData(enc.NewBufferReader(certRequestBytes))
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		logger.Errorf("malformed certificate request: %v", err)
		return
	}
	if certRequestData.ContentType() == nil || *certRequestData.ContentType() != ndn.ContentTypeKey {
		s.replyWithError(protoerr.InvalidParameter, interest.Name(), reply)
		return
	}

	publicKey, err := cryptoutil.ParsePublicKey(certRequestData.Content().Join())
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	if !sec.EcdsaValidate(certRequestSigCovered, certRequestData.Signature(), publicKey) {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	if !sec.EcdsaValidate(sigCovered, interest.Signature(), publicKey) {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}

	notBefore, notAfter := certRequestData.Signature().Validity()
	pubKeyDER, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}

	_, newData, handleErr := s.State.HandleNew(NewRequestParams{
		RequestType:     reqType,
		CertRequest:     certRequestBytes,
		RequesterPubKey: pubKeyDER,
		RequestedName:   certRequestData.Name().String(),
		EcdhPubClient:   ecdhPub,
		NotBefore:       *notBefore,
		NotAfter:        *notAfter,
	}, time.Now())
	if handleErr != nil {
		s.replyWithProtoErr(handleErr, interest.Name(), reply)
		return
	}
	s.replyWithData(interest.Name(), newData.Encode(), reply)
}

func (s *Server) onRevoke(interest ndn.Interest, rawInterest enc.Wire, sigCovered enc.Wire, reply ndn.ReplyFunc, deadline time.Time) {
	revokeInterest, err := tlvcodec.DecodeRevokeInterest(interest.AppParam().Join())
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}

	certData, _, err := spec_2022.Spec{}.ReadData(enc.NewBufferReader(revokeInterest.CertToRevoke))
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	publicKey, err := cryptoutil.ParsePublicKey(certData.Content().Join())
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	// REVOKE proves possession of the cert being revoked through the
	// outer Interest's own signature rather than re-checking the cert's
	// own (CA-issued) signature against itself.
	if !sec.EcdsaValidate(sigCovered, interest.Signature(), publicKey) {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	pubKeyDER, err := x509.MarshalPKIXPublicKey(publicKey)
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}

	_, newData, handleErr := s.State.HandleNew(NewRequestParams{
		RequestType:     reqstore.RequestTypeRevoke,
		CertRequest:     revokeInterest.CertToRevoke,
		RequesterPubKey: pubKeyDER,
		RequestedName:   certData.Name().String(),
		EcdhPubClient:   revokeInterest.EcdhPub,
	}, time.Now())
	if handleErr != nil {
		s.replyWithProtoErr(handleErr, interest.Name(), reply)
		return
	}
	s.replyWithData(interest.Name(), newData.Encode(), reply)
}

func (s *Server) onProbe(interest ndn.Interest, rawInterest enc.Wire, sigCovered enc.Wire, reply ndn.ReplyFunc, deadline time.Time) {
	probeInterest, err := tlvcodec.DecodeProbeInterest(interest.AppParam().Join())
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	params := make(map[string]string, len(probeInterest.Parameters))
	for _, p := range probeInterest.Parameters {
		params[p.Key] = string(p.Value)
	}

	candidates, probeErr := s.State.Probe(params)
	if probeErr != nil {
		s.replyWithProtoErr(probeErr, interest.Name(), reply)
		return
	}
	entries := make([]*tlvcodec.ProbeEntry, 0, len(candidates))
	for _, c := range candidates {
		entries = append(entries, &tlvcodec.ProbeEntry{Name: c.Name, MaxSuffixLength: c.MaxSuffixLength})
	}
	probeData := &tlvcodec.ProbeData{Entries: entries}
	s.replyWithData(interest.Name(), probeData.Encode(), reply)
}

// challengeCounterOutcome classifies an incoming CHALLENGE counter against
// the last one recorded for a requestId, per the strictly-increasing and
// idempotent-replay rules of §5 and §8.
type challengeCounterOutcome int

const (
	// challengeCounterFresh is strictly greater than the last-seen counter
	// and should be dispatched to the challenge module as normal.
	challengeCounterFresh challengeCounterOutcome = iota
	// challengeCounterReplay repeats the last-seen counter exactly: this is
	// a retransmit of the most recently answered Interest and must be
	// answered with the cached reply rather than re-run.
	challengeCounterReplay
	// challengeCounterReuse is neither fresh nor a replay of the immediately
	// preceding counter (i.e. it is stale or goes backwards) and is
	// rejected outright.
	challengeCounterReuse
)

// classifyChallengeCounter is the pure decision at the heart of the
// counter-replay check, kept free of NDN wire types so it can be exercised
// directly without constructing a signed Interest.
func classifyChallengeCounter(state *reqstore.RequestState, incoming uint32) challengeCounterOutcome {
	if state.RecvCounter != 0 && incoming == state.LastCounterSeen {
		return challengeCounterReplay
	}
	if incoming <= state.RecvCounter {
		return challengeCounterReuse
	}
	return challengeCounterFresh
}

func (s *Server) onChallenge(interest ndn.Interest, rawInterest enc.Wire, sigCovered enc.Wire, reply ndn.ReplyFunc, deadline time.Time) {
	logger := log.WithField("module", "ca")

	// The final name component is the implicit params-sha256 digest
	// appended by signing; the request-id is the one before it.
	nameComponents := strings.Split(interest.Name().String(), "/")
	requestIdStr := nameComponents[len(nameComponents)-2]
	if len(requestIdStr) != requestIdLength {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	var requestId [8]byte
	copy(requestId[:], requestIdStr)

	state, err := s.State.Store.Get(requestId)
	if err != nil {
		s.replyWithError(protoerr.InvalidParameter, interest.Name(), reply)
		return
	}

	publicKey, err := cryptoutil.ParsePublicKey(state.RequesterPubKey)
	if err != nil || !sec.EcdsaValidate(sigCovered, interest.Signature(), publicKey) {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}

	encryptedMessage, err := tlvcodec.DecodeEncryptedMessage(interest.AppParam().Join())
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	associatedData := []byte(interest.Name().String())
	sealed := cryptoutil.EncryptedMessage{
		InitializationVector: [cryptoutil.NonceSizeBytes]byte(encryptedMessage.InitializationVector),
		AuthenticationTag:    [cryptoutil.TagSizeBytes]byte(encryptedMessage.AuthenticationTag),
		EncryptedPayload:     encryptedMessage.EncryptedPayload,
	}

	// Every CHALLENGE counter under this requestId must strictly increase;
	// a repeat of the last-accepted counter is a retransmit and gets the
	// cached reply back verbatim instead of being dispatched to the
	// challenge module again (§5, §8).
	incomingCounter := cryptoutil.CounterFromNonce(sealed.InitializationVector)
	switch classifyChallengeCounter(state, incomingCounter) {
	case challengeCounterReplay:
		if err := s.replyWithWire(state.LastReply, reply); err != nil {
			logger.Errorf("failed to replay cached CHALLENGE reply: %v", err)
		}
		return
	case challengeCounterReuse:
		logger.Errorf("%v: requestId %x counter %d", cryptoutil.ErrCounterReuse, requestId, incomingCounter)
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}

	plaintext, err := cryptoutil.DecryptPayload(state.EncryptionKey, sealed, requestId, associatedData)
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	challengeInterest, err := tlvcodec.DecodeChallengeInterestPlaintext(plaintext)
	if err != nil {
		s.replyWithError(protoerr.BadInterestFormat, interest.Name(), reply)
		return
	}
	params := make(map[string][]byte, len(challengeInterest.Parameters))
	for _, p := range challengeInterest.Parameters {
		params[p.Key] = p.Value
	}

	updatedState, challengeReply, handleErr := s.State.HandleChallenge(requestId, challengeInterest.SelectedChallenge, params, time.Now())
	if handleErr != nil {
		code := protoerr.InvalidParameter
		if pe, ok := handleErr.(*protoerr.Error); ok {
			code = pe.Code
		}
		errWire, err := s.buildErrorWire(code, interest.Name())
		if err != nil {
			logger.Errorf("failed to build CHALLENGE error reply: %v", err)
			return
		}
		// updatedState is nil for the early rejections (unknown requestId,
		// terminal request, wrong challenge type) that never reached the
		// module and mutated nothing; those have nothing to cache and stay
		// naturally idempotent on replay.
		if updatedState != nil {
			updatedState.RecvCounter = incomingCounter
			updatedState.LastCounterSeen = incomingCounter
			updatedState.LastReply = errWire
			if err := s.State.Store.Update(updatedState); err != nil {
				logger.Errorf("failed to persist CHALLENGE counter: %v", err)
			}
		}
		if err := s.replyWithWire(errWire, reply); err != nil {
			logger.Errorf("failed to reply with error: %v", err)
		}
		return
	}

	counter := updatedState.SendCounter + 1
	replySealed, err := cryptoutil.EncryptPayload(updatedState.EncryptionKey, challengeReply.Encode(), requestId, counter, associatedData)
	if err != nil {
		logger.Errorf("failed to encrypt CHALLENGE reply: %v", err)
		s.replyWithError(protoerr.InvalidParameter, interest.Name(), reply)
		return
	}
	updatedState.SendCounter = counter

	out := &tlvcodec.EncryptedMessage{
		InitializationVector: replySealed.InitializationVector[:],
		AuthenticationTag:    replySealed.AuthenticationTag[:],
		EncryptedPayload:     replySealed.EncryptedPayload,
	}
	replyWire, err := s.buildDataWire(interest.Name(), out.Encode())
	if err != nil {
		logger.Errorf("failed to build CHALLENGE reply: %v", err)
		s.replyWithError(protoerr.InvalidParameter, interest.Name(), reply)
		return
	}
	updatedState.RecvCounter = incomingCounter
	updatedState.LastCounterSeen = incomingCounter
	updatedState.LastReply = replyWire
	if err := s.State.Store.Update(updatedState); err != nil {
		logger.Errorf("failed to persist send counter: %v", err)
	}
	if err := s.replyWithWire(replyWire, reply); err != nil {
		logger.Errorf("failed to reply to CHALLENGE: %v", err)
	}
}

func (s *Server) replyWithProtoErr(err error, interestName enc.Name, reply ndn.ReplyFunc) {
	if pe, ok := err.(*protoerr.Error); ok {
		s.replyWithError(pe.Code, interestName, reply)
		return
	}
	s.replyWithError(protoerr.InvalidParameter, interestName, reply)
}

func (s *Server) replyWithError(code protoerr.Code, interestName enc.Name, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")
	wire, err := s.buildErrorWire(code, interestName)
	if err != nil {
		logger.Errorf("failed to build error data: %v", err)
		return
	}
	if err := s.replyWithWire(wire, reply); err != nil {
		logger.Errorf("failed to reply with error: %v", err)
	}
}

func (s *Server) replyWithData(interestName enc.Name, payload []byte, reply ndn.ReplyFunc) {
	logger := log.WithField("module", "ca")
	wire, err := s.buildDataWire(interestName, payload)
	if err != nil {
		logger.Errorf("failed to build data: %v", err)
		return
	}
	if err := s.replyWithWire(wire, reply); err != nil {
		logger.Errorf("failed to reply with data: %v", err)
	}
}

// buildErrorWire builds the signed ErrorMessage Data packet for code,
// encoded onto the wire rather than replied directly, so callers that need
// to cache it for idempotent CHALLENGE replay (§5, §8) can do so.
func (s *Server) buildErrorWire(code protoerr.Code, interestName enc.Name) ([]byte, error) {
	errMsg := &tlvcodec.ErrorMessage{ErrorCode: uint64(code), ErrorInfo: protoerr.Reason[code]}
	return s.buildDataWire(interestName, errMsg.Encode())
}

// buildDataWire signs payload into a Data packet under interestName and
// returns its wire encoding, without replying: the CHALLENGE handler caches
// this wire verbatim as RequestState.LastReply so a retransmitted Interest
// can be answered byte-for-byte without re-running the challenge module.
func (s *Server) buildDataWire(interestName enc.Name, payload []byte) ([]byte, error) {
	wire, _, err := spec_2022.Spec{}.MakeData(
		interestName,
		&ndn.DataConfig{ContentType: utils.IdPtr(ndn.ContentTypeBlob), Freshness: utils.IdPtr(4 * time.Second)},
		enc.Wire{payload},
		s.Signer)
	if err != nil {
		return nil, err
	}
	return wire.Join(), nil
}

// replyWithWire sends a previously built Data wire as-is, used both for the
// normal build-then-reply path and for replaying a cached CHALLENGE reply
// untouched.
func (s *Server) replyWithWire(wire []byte, reply ndn.ReplyFunc) error {
	return reply(enc.Wire{wire})
}
