package ca

import (
	"time"

	"github.com/ndn-ucla/ndncert-ca/challenge"
	"github.com/ndn-ucla/ndncert-ca/cryptoutil"
	"github.com/ndn-ucla/ndncert-ca/protoerr"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
	"github.com/ndn-ucla/ndncert-ca/tlvcodec"
)

// CaState is an authority's long-lived state (§4.5): its identity, its
// configuration, the pluggable name-assignment policy, and the request
// store every NEW/RENEW/REVOKE/CHALLENGE interest is handled against.
// It holds no go-ndn types itself; server.go adapts between it and the
// NDN engine, the way ndncert/server/ca.go's CaState and OnNew/OnChallenge
// are grounded, but split so this part stays independently testable.
type CaState struct {
	CaPrefix            string
	CaInfo              string
	MaxValidPeriod      time.Duration
	SupportedChallenges []string

	CaCertBytes []byte
	CaNotBefore time.Time
	CaNotAfter  time.Time

	Store  reqstore.Store
	Policy NameAssignmentPolicy

	processKey [32]byte
}

func NewCaState(cfg *Config, caCertBytes []byte, caNotBefore, caNotAfter time.Time, store reqstore.Store, policy NameAssignmentPolicy) (*CaState, error) {
	processKey, err := cryptoutil.GenerateProcessKey()
	if err != nil {
		return nil, err
	}
	return &CaState{
		CaPrefix:            cfg.Ca.Prefix,
		CaInfo:              cfg.Ca.Info,
		MaxValidPeriod:      time.Duration(cfg.Ca.MaxValidityPeriod) * time.Second,
		SupportedChallenges: cfg.Ca.SupportedChallenges,
		CaCertBytes:         caCertBytes,
		CaNotBefore:         caNotBefore,
		CaNotAfter:          caNotAfter,
		Store:               store,
		Policy:              policy,
		processKey:          processKey,
	}, nil
}

// Profile builds the signed CA profile content served at INFO (§4.5).
func (c *CaState) Profile() *tlvcodec.CaProfile {
	return &tlvcodec.CaProfile{
		CaPrefix:       c.CaPrefix,
		CaInfo:         c.CaInfo,
		MaxValidPeriod: uint64(c.MaxValidPeriod.Seconds()),
		CaCertificate:  c.CaCertBytes,
	}
}

// Probe delegates to the configured NameAssignmentPolicy.
func (c *CaState) Probe(params map[string]string) ([]ProbeCandidate, error) {
	return c.Policy.Probe(c.CaPrefix, params)
}

// NewRequestParams bundles a NEW/RENEW/REVOKE interest's validated fields.
type NewRequestParams struct {
	RequestType     reqstore.RequestType
	CertRequest     []byte
	RequesterPubKey []byte
	RequestedName   string
	EcdhPubClient   []byte
	NotBefore       time.Time
	NotAfter        time.Time
}

// HandleNew admits a NEW/RENEW/REVOKE request: validates the requested
// validity period against the authority's own certificate and configured
// maximum for NEW/RENEW (§4.5, grounded on ndncert/server/ca.go's OnNew
// validity checks; REVOKE carries no validity period to check), assigns a
// name via the configured policy, derives the session's request-id and
// symmetric key, and creates the request's initial BEFORE_CHALLENGE state.
func (c *CaState) HandleNew(p NewRequestParams, now time.Time) (*reqstore.RequestState, *tlvcodec.NewData, error) {
	if p.RequestType != reqstore.RequestTypeRevoke {
		if p.NotBefore.After(p.NotAfter) {
			return nil, nil, protoerr.New(protoerr.BadValidityPeriod)
		}
		if p.NotBefore.Before(now.Add(-120*time.Second)) || p.NotBefore.Before(c.CaNotBefore) {
			return nil, nil, protoerr.New(protoerr.BadValidityPeriod)
		}
		if p.NotAfter.After(now.Add(c.MaxValidPeriod)) || p.NotAfter.After(c.CaNotAfter) {
			return nil, nil, protoerr.New(protoerr.BadValidityPeriod)
		}
	}

	assignedName, err := c.Policy.AssignName(c.CaPrefix, p.RequestedName)
	if err != nil {
		return nil, nil, err
	}

	var ecdh cryptoutil.ECDHState
	if err := ecdh.GenerateKeyPair(); err != nil {
		return nil, nil, err
	}
	if err := ecdh.SetRemotePublicKey(p.EcdhPubClient); err != nil {
		return nil, nil, protoerr.New(protoerr.BadInterestFormat)
	}
	sharedSecret, err := ecdh.SharedSecret()
	if err != nil {
		return nil, nil, protoerr.New(protoerr.BadInterestFormat)
	}
	salt, err := cryptoutil.GenerateSalt()
	if err != nil {
		return nil, nil, err
	}
	encryptionKey, err := cryptoutil.DeriveEncryptionKey(sharedSecret, salt)
	if err != nil {
		return nil, nil, err
	}
	requestId := cryptoutil.DeriveRequestId(c.processKey, p.EcdhPubClient, salt)

	state := &reqstore.RequestState{
		RequestId:       requestId,
		CaPrefix:        c.CaPrefix,
		RequestType:     p.RequestType,
		Status:          reqstore.StatusBeforeChallenge,
		CertRequest:     p.CertRequest,
		RequestedName:   assignedName,
		RequesterPubKey: p.RequesterPubKey,
		EncryptionKey:   encryptionKey,
		CreatedAt:       now,
		LastActivityAt:  now,
	}
	if err := c.Store.Create(state); err != nil {
		return nil, nil, err
	}

	data := &tlvcodec.NewData{
		EcdhPub:   ecdh.PublicKey.Bytes(),
		Salt:      salt,
		RequestId: requestId[:],
		Challenge: c.SupportedChallenges,
	}
	return state, data, nil
}

// HandleChallenge processes one decrypted CHALLENGE interest (§4.5): loads
// the request, checks challenge expiry before dispatch (the one check the
// authority owns rather than delegating to the module, per §4.5 "On every
// incoming CHALLENGE the authority first checks expiry"), hands off to the
// selected challenge module, persists the result, and issues the
// certificate on a transition into PENDING->SUCCESS.
func (c *CaState) HandleChallenge(requestId [8]byte, selectedChallenge string, params map[string][]byte, now time.Time) (*reqstore.RequestState, *tlvcodec.ChallengeDataPlaintext, error) {
	state, err := c.Store.Get(requestId)
	if err != nil {
		return nil, nil, protoerr.New(protoerr.InvalidParameter)
	}
	if state.Status.Terminal() {
		return nil, nil, protoerr.New(protoerr.InvalidParameter)
	}

	if state.ChallengeState != nil && state.ChallengeState.Expired(now) {
		state.Status = reqstore.StatusFailure
		_ = c.Store.Update(state)
		return state, nil, protoerr.New(protoerr.ChallengeExpired)
	}

	if state.ChallengeType != "" && state.ChallengeType != selectedChallenge {
		return nil, nil, protoerr.New(protoerr.InvalidParameter)
	}

	mod, err := challenge.Lookup(selectedChallenge)
	if err != nil {
		return nil, nil, protoerr.New(protoerr.NoAvailableNames)
	}

	handleErr := mod.HandleChallengeRequest(params, state, now)
	state.LastActivityAt = now

	if handleErr == nil && state.Status == reqstore.StatusPending {
		certName, issueErr := c.issueCertificate(state)
		if issueErr != nil {
			state.Status = reqstore.StatusFailure
			_ = c.Store.Update(state)
			return state, nil, issueErr
		}
		state.IssuedCertName = certName
		state.Status = reqstore.StatusSuccess
	}

	if err := c.Store.Update(state); err != nil {
		return nil, nil, err
	}
	if handleErr != nil {
		return state, nil, handleErr
	}

	reply := &tlvcodec.ChallengeDataPlaintext{
		Status: statusWireCode(state.Status),
	}
	if state.ChallengeState != nil {
		remainingTries := state.ChallengeState.RemainingAttempts
		remainingTime := uint64(state.ChallengeState.RemainingTime(now).Seconds())
		reply.ChallengeStatus = state.ChallengeState.ChallengeStatus
		reply.RemainingTries = &remainingTries
		reply.RemainingTime = &remainingTime
	}
	if state.Status == reqstore.StatusSuccess {
		reply.IssuedCertificateName = state.IssuedCertName
	}
	return state, reply, nil
}

// issueCertificate finalizes the request's assigned name as the issued
// certificate's name and returns it. No certificate Data packet is built,
// signed or stored, here or in server.go: issuance is recorded only as
// that name.
func (c *CaState) issueCertificate(state *reqstore.RequestState) (string, error) {
	if state.RequestedName == "" {
		return "", protoerr.New(protoerr.NameNotAllowed)
	}
	return state.RequestedName, nil
}

func statusWireCode(s reqstore.Status) uint64 {
	switch s {
	case reqstore.StatusBeforeChallenge:
		return 0
	case reqstore.StatusChallenge:
		return 1
	case reqstore.StatusPending:
		return 2
	case reqstore.StatusSuccess:
		return 3
	default:
		return 4
	}
}
