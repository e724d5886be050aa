// Package challenge defines the pluggable challenge-module contract
// (§4.4) and the two reference modules, email and possession (§4.6,
// §4.7).
package challenge

import (
	"fmt"
	"time"

	"github.com/ndn-ucla/ndncert-ca/reqstore"
)

// ParameterPrompt names one parameter the client must supply next, paired
// with a human-readable prompt (§4.4 requestedParameters).
type ParameterPrompt struct {
	Key    string
	Prompt string
}

// ClientContext is the client-side collaborator a module's
// FulfillParameters may need: a way to prompt a human for a secret and a
// way to sign with locally held key material. Concrete callers (the
// client driver, a test double) implement this.
type ClientContext interface {
	PromptSecret(prompt string) (string, error)
	IssuedCredential() ([]byte, error)
	SignWithCredential(message []byte) ([]byte, error)
}

// Challenge is the narrow capability set every challenge module
// implements (§4.4). It replaces an inheritance hierarchy over a
// ChallengeModule base with a single interface, per the Design Notes.
type Challenge interface {
	// Name is the wire-level challenge-type string, e.g. "email".
	Name() string

	// MaxAttemptTimes and SecretLifetime are this module's defaults
	// (§4.4), consulted when the authority first creates challenge state.
	MaxAttemptTimes() uint64
	SecretLifetime() time.Duration

	// RequestedParameters names the parameters the client must supply
	// next, given the request's current status and challenge status.
	RequestedParameters(status reqstore.Status, challengeStatus string) []ParameterPrompt

	// HandleChallengeRequest is the server-side step. It mutates state in
	// place to reflect the new status/challengeStatus/secrets, including
	// decrementing RemainingAttempts or moving to StatusFailure on its
	// own judgment (the transition table's "module decides", §4.5). It
	// must be deterministic given its inputs and perform no network I/O
	// (§4.4). A non-nil return is a protocol error to surface on the
	// wire; state has already been mutated to reflect it (e.g. an
	// attempt decremented, or Status forced to StatusFailure).
	HandleChallengeRequest(params map[string][]byte, state *reqstore.RequestState, now time.Time) error

	// FulfillParameters is the client-side counterpart: given the
	// parameter names RequestedParameters asked for, produce their
	// values using local context.
	FulfillParameters(params []ParameterPrompt, ctx ClientContext) (map[string]string, error)
}

// Factory constructs a fresh Challenge instance. Modules are registered
// by name once at startup, through RegisterEmailChallenge and
// RegisterPossessionChallenge, and the registry is left unchanged after
// that (§5 "Shared resources").
type Factory func() Challenge

var registry = make(map[string]Factory)

// Register adds a challenge factory under name. Called from each
// module's Register* function.
func Register(name string, factory Factory) {
	registry[name] = factory
}

// ErrNoSuchChallenge is returned by Lookup when name is not registered;
// the authority maps this to protoerr.NoAvailableNames at session start
// (§4.4).
var ErrNoSuchChallenge = fmt.Errorf("challenge: no such challenge registered")

// Lookup instantiates the named challenge module, or reports
// ErrNoSuchChallenge.
func Lookup(name string) (Challenge, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, ErrNoSuchChallenge
	}
	return factory(), nil
}

// Available lists every registered challenge-type name. NewData.Challenge
// is filled from the configured supported-challenges list, not from this.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	return names
}
