package ca

import (
	"fmt"
	"strings"

	"github.com/dchest/uniuri"
	"github.com/ndn-ucla/ndncert-ca/protoerr"
)

// ProbeCandidate is one name PROBE offers the requester, paired with the
// longest suffix the requester may append to it (§3, §4.5).
type ProbeCandidate struct {
	Name            string
	MaxSuffixLength uint64
}

// NameAssignmentPolicy decides the certificate name a NEW/RENEW request is
// granted and the candidate names PROBE returns for a parameter set. It is
// the seam an authority swaps out to change naming conventions without
// touching the protocol state machine (§4.5 "name-assignment").
type NameAssignmentPolicy interface {
	AssignName(caPrefix, requestedName string) (string, error)
	Probe(caPrefix string, params map[string]string) ([]ProbeCandidate, error)
}

// RandomSuffixPolicy is the default policy: an empty requested name gets a
// random suffix under caPrefix (grounded on the teacher's
// generateCertificateName, which used uniuri.New() the same way); a
// non-empty requested name is accepted only if it already lives under
// caPrefix. PROBE derives one candidate name from an "email" parameter,
// moving the teacher client main.go's getCertNameFromEmailAddress
// convention to the server side, where PROBE's name-assignment decision
// belongs.
type RandomSuffixPolicy struct{}

func (RandomSuffixPolicy) AssignName(caPrefix, requestedName string) (string, error) {
	if requestedName == "" {
		return caPrefix + "/" + uniuri.New(), nil
	}
	if !strings.HasPrefix(requestedName, caPrefix+"/") {
		return "", protoerr.New(protoerr.NameNotAllowed)
	}
	return requestedName, nil
}

func (RandomSuffixPolicy) Probe(caPrefix string, params map[string]string) ([]ProbeCandidate, error) {
	email, ok := params["email"]
	if !ok || email == "" {
		return nil, protoerr.New(protoerr.InvalidParameter)
	}
	name, err := certNameFromEmail(caPrefix, email)
	if err != nil {
		return nil, protoerr.New(protoerr.InvalidParameter)
	}
	return []ProbeCandidate{{Name: name}}, nil
}

// certNameFromEmail builds a name of the form
// caPrefix/localpart/tld/domain/... from an address of the form
// localpart@domain.tld, matching ndncert-cxx's convention.
func certNameFromEmail(caPrefix, emailAddress string) (string, error) {
	atSplit := strings.Split(emailAddress, "@")
	if len(atSplit) != 2 {
		return "", fmt.Errorf("ca: %q is not a valid email address", emailAddress)
	}
	dotSplit := strings.Split(atSplit[1], ".")
	var b strings.Builder
	b.WriteString(caPrefix)
	b.WriteString("/" + atSplit[0])
	for i := len(dotSplit) - 1; i >= 0; i-- {
		b.WriteString("/" + dotSplit[i])
	}
	return b.String(), nil
}
