package challenge

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"time"

	"github.com/ndn-ucla/ndncert-ca/protoerr"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
)

const (
	ChallengeTypeEmail = "email"

	emailParamEmail = "email"
	emailParamCode  = "code"

	ChallengeStatusNeedCode = "need-code"
	ChallengeStatusSuccess  = "success"

	emailCodeLength        = 6
	emailMaxAttemptTimes   = 3
	emailSecretLifetime    = 300 * time.Second
)

// Sender is the injected email collaborator (§4.6). Production callers
// supply the SMTP-backed implementation in package email; tests supply a
// fake.
type Sender interface {
	SendCode(to, code, caPrefix, certName string) error
}

// EmailChallenge is the server-emitted-PIN challenge (§4.6). Its
// HandleChallengeRequest draws a fresh random code at the start of the
// challenge and delivers it with a single call to the injected Sender,
// the only legal suspension point §5 names for this module.
type EmailChallenge struct {
	Sender      Sender
	AllowedAddr *regexp.Regexp // nil means no whitelist restriction
}

func NewEmailChallenge(sender Sender, allowed *regexp.Regexp) *EmailChallenge {
	return &EmailChallenge{Sender: sender, AllowedAddr: allowed}
}

// RegisterEmailChallenge installs the factory the authority's registry
// will use for ChallengeTypeEmail.
func RegisterEmailChallenge(sender Sender, allowed *regexp.Regexp) {
	Register(ChallengeTypeEmail, func() Challenge {
		return NewEmailChallenge(sender, allowed)
	})
}

func (e *EmailChallenge) Name() string                   { return ChallengeTypeEmail }
func (e *EmailChallenge) MaxAttemptTimes() uint64         { return emailMaxAttemptTimes }
func (e *EmailChallenge) SecretLifetime() time.Duration   { return emailSecretLifetime }

func (e *EmailChallenge) RequestedParameters(status reqstore.Status, challengeStatus string) []ParameterPrompt {
	if status == reqstore.StatusBeforeChallenge {
		return []ParameterPrompt{{Key: emailParamEmail, Prompt: "Enter the email address to receive your verification code"}}
	}
	return []ParameterPrompt{{Key: emailParamCode, Prompt: "Enter the verification code sent to your email"}}
}

func (e *EmailChallenge) HandleChallengeRequest(params map[string][]byte, state *reqstore.RequestState, now time.Time) error {
	switch state.Status {
	case reqstore.StatusBeforeChallenge:
		return e.handleInitial(params, state, now)
	case reqstore.StatusChallenge:
		return e.handleCode(params, state, now)
	default:
		return protoerr.New(protoerr.InvalidParameter)
	}
}

func (e *EmailChallenge) handleInitial(params map[string][]byte, state *reqstore.RequestState, now time.Time) error {
	if len(params) != 1 {
		return protoerr.New(protoerr.BadInterestFormat)
	}
	addr, ok := params[emailParamEmail]
	if !ok {
		return protoerr.New(protoerr.BadInterestFormat)
	}
	email := string(addr)
	if e.AllowedAddr != nil && !e.AllowedAddr.MatchString(email) {
		return protoerr.New(protoerr.InvalidParameter)
	}

	code, err := generateNumericCode(emailCodeLength)
	if err != nil {
		return protoerr.New(protoerr.InvalidParameter)
	}

	state.ChallengeType = ChallengeTypeEmail
	state.ChallengeState = &reqstore.ChallengeState{
		ChallengeStatus:   ChallengeStatusNeedCode,
		Secrets:           map[string]string{emailParamEmail: email, emailParamCode: code},
		RemainingAttempts: e.MaxAttemptTimes(),
		SecretLifetime:    e.SecretLifetime(),
		ChallengeBegin:    now,
	}
	state.Status = reqstore.StatusChallenge

	if err := e.Sender.SendCode(email, code, state.CaPrefix, state.RequestedName); err != nil {
		return protoerr.New(protoerr.InvalidParameter)
	}
	return nil
}

func (e *EmailChallenge) handleCode(params map[string][]byte, state *reqstore.RequestState, now time.Time) error {
	if state.ChallengeState == nil || state.ChallengeState.ChallengeStatus != ChallengeStatusNeedCode {
		return protoerr.New(protoerr.InvalidParameter)
	}
	// Per §9: any input other than {code} during need-code is
	// INVALID_PARAMETER without decrementing attempts.
	if len(params) != 1 {
		return protoerr.New(protoerr.InvalidParameter)
	}
	code, ok := params[emailParamCode]
	if !ok {
		return protoerr.New(protoerr.InvalidParameter)
	}

	if string(code) == state.ChallengeState.Secrets[emailParamCode] {
		state.ChallengeState.ChallengeStatus = ChallengeStatusSuccess
		state.Status = reqstore.StatusPending
		return nil
	}

	state.ChallengeState.RemainingAttempts--
	if state.ChallengeState.RemainingAttempts == 0 {
		state.Status = reqstore.StatusFailure
		return protoerr.New(protoerr.OutOfTries)
	}
	return protoerr.New(protoerr.InvalidParameter)
}

func (e *EmailChallenge) FulfillParameters(params []ParameterPrompt, ctx ClientContext) (map[string]string, error) {
	filled := make(map[string]string, len(params))
	for _, p := range params {
		value, err := ctx.PromptSecret(p.Prompt)
		if err != nil {
			return nil, err
		}
		filled[p.Key] = value
	}
	return filled, nil
}

func generateNumericCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0') + byte(n.Int64())
	}
	return string(digits), nil
}
