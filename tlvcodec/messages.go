package tlvcodec

// Wire tags, authoritative per the protocol's wire-format table. Tag
// values follow NDN TLV convention: odd values are critical (an unknown
// one must be rejected), even values are non-critical (an unknown one is
// skipped).
const (
	tagCaPrefix      uint64 = 129
	tagCaInfo        uint64 = 131
	tagParameterName uint64 = 133 // CaProfile's parameter-key list entries
	tagCaCertificate uint64 = 137
	tagMaxValidPeriod uint64 = 139

	tagEcdhPub               uint64 = 145
	tagSalt                  uint64 = 149
	tagRequestId             uint64 = 151
	tagChallenge             uint64 = 153
	tagStatus                uint64 = 155
	tagInitializationVector  uint64 = 156
	tagEncryptedPayload      uint64 = 157
	tagSelectedChallenge     uint64 = 161
	tagChallengeStatus       uint64 = 163
	tagRemainingTries        uint64 = 165
	tagRemainingTime         uint64 = 167
	tagIssuedCertName        uint64 = 169
	tagErrorCode             uint64 = 171
	tagErrorInfo             uint64 = 173
	tagParameterKey          uint64 = 175
	tagParameterValue        uint64 = 177
	tagCertRequest           uint64 = 179
	tagCertToRevoke          uint64 = 181
	tagAuthenticationTag     uint64 = 175 // scoped to EncryptedMessage; see spec table note

	tagParameter  uint64 = 193 // container wrapping one ParameterKey/ParameterValue pair
	tagProbeEntry uint64 = 201 // container wrapping one probe candidate name
	tagProbeName  uint64 = 203
	tagMaxSuffix  uint64 = 205
)

// Parameter is a single client-supplied or server-prompted key/value pair
// carried inside challenge interests and responses.
type Parameter struct {
	Key   string
	Value []byte
}

func (p *Parameter) encode() []byte {
	buf := encodeTLV(tagParameterKey, []byte(p.Key))
	buf = append(buf, encodeTLV(tagParameterValue, p.Value)...)
	return encodeTLV(tagParameter, buf)
}

func decodeParameter(value []byte) (*Parameter, error) {
	elements, err := parseElements(value)
	if err != nil {
		return nil, err
	}
	p := &Parameter{}
	var haveKey, haveValue bool
	for _, e := range elements {
		switch e.typ {
		case tagParameterKey:
			p.Key = string(e.value)
			haveKey = true
		case tagParameterValue:
			p.Value = e.value
			haveValue = true
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	if !haveKey || !haveValue {
		return nil, ErrMalformed
	}
	return p, nil
}

func encodeParameters(params []*Parameter) []byte {
	var buf []byte
	for _, p := range params {
		buf = append(buf, p.encode()...)
	}
	return buf
}

func decodeParameters(elements []element) ([]*Parameter, error) {
	var params []*Parameter
	for _, e := range elements {
		if e.typ != tagParameter {
			continue
		}
		p, err := decodeParameter(e.value)
		if err != nil {
			return nil, err
		}
		params = append(params, p)
	}
	return params, nil
}

// rejectIfCritical returns ErrUnknownCritical for an odd (critical) tag,
// nil for an even (non-critical, tolerated) tag.
func rejectIfCritical(typ uint64) error {
	if typ%2 == 1 {
		return ErrUnknownCritical
	}
	return nil
}

// CaProfile is the signed CA profile data content (§4.5, `/CA/INFO`).
type CaProfile struct {
	CaPrefix       string
	CaInfo         string
	ParameterKey   []string
	MaxValidPeriod uint64
	CaCertificate  []byte
}

func (c *CaProfile) Encode() []byte {
	var buf []byte
	buf = append(buf, encodeTLV(tagCaPrefix, []byte(c.CaPrefix))...)
	buf = append(buf, encodeTLV(tagCaInfo, []byte(c.CaInfo))...)
	for _, k := range c.ParameterKey {
		buf = append(buf, encodeTLV(tagParameterName, []byte(k))...)
	}
	buf = append(buf, encodeTLV(tagMaxValidPeriod, encodeVarint(c.MaxValidPeriod))...)
	buf = append(buf, encodeTLV(tagCaCertificate, c.CaCertificate)...)
	return buf
}

func DecodeCaProfile(wire []byte) (*CaProfile, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	c := &CaProfile{}
	var haveMaxValid bool
	for _, e := range elements {
		switch e.typ {
		case tagCaPrefix:
			c.CaPrefix = string(e.value)
		case tagCaInfo:
			c.CaInfo = string(e.value)
		case tagParameterName:
			c.ParameterKey = append(c.ParameterKey, string(e.value))
		case tagMaxValidPeriod:
			v, err := decodeVarint(e.value)
			if err != nil {
				return nil, err
			}
			c.MaxValidPeriod = v
			haveMaxValid = true
		case tagCaCertificate:
			c.CaCertificate = e.value
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	if c.CaPrefix == "" || c.CaCertificate == nil || !haveMaxValid {
		return nil, ErrMalformed
	}
	return c, nil
}

// NewInterest is the NEW interest's application parameters.
type NewInterest struct {
	EcdhPub     []byte
	CertRequest []byte
}

func (n *NewInterest) Encode() []byte {
	buf := encodeTLV(tagEcdhPub, n.EcdhPub)
	buf = append(buf, encodeTLV(tagCertRequest, n.CertRequest)...)
	return buf
}

func DecodeNewInterest(wire []byte) (*NewInterest, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	n := &NewInterest{}
	for _, e := range elements {
		switch e.typ {
		case tagEcdhPub:
			n.EcdhPub = e.value
		case tagCertRequest:
			n.CertRequest = e.value
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	if n.EcdhPub == nil || n.CertRequest == nil {
		return nil, ErrMalformed
	}
	return n, nil
}

// RenewInterest mirrors NewInterest: a fresh ECDH key plus a renewed
// self-signed certificate request over the same identity.
type RenewInterest struct {
	EcdhPub     []byte
	CertRequest []byte
}

func (n *RenewInterest) Encode() []byte {
	return (&NewInterest{EcdhPub: n.EcdhPub, CertRequest: n.CertRequest}).Encode()
}

func DecodeRenewInterest(wire []byte) (*RenewInterest, error) {
	ni, err := DecodeNewInterest(wire)
	if err != nil {
		return nil, err
	}
	return (*RenewInterest)(ni), nil
}

// RevokeInterest carries the certificate to be revoked rather than a new
// request.
type RevokeInterest struct {
	EcdhPub      []byte
	CertToRevoke []byte
}

func (r *RevokeInterest) Encode() []byte {
	buf := encodeTLV(tagEcdhPub, r.EcdhPub)
	buf = append(buf, encodeTLV(tagCertToRevoke, r.CertToRevoke)...)
	return buf
}

func DecodeRevokeInterest(wire []byte) (*RevokeInterest, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	r := &RevokeInterest{}
	for _, e := range elements {
		switch e.typ {
		case tagEcdhPub:
			r.EcdhPub = e.value
		case tagCertToRevoke:
			r.CertToRevoke = e.value
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	if r.EcdhPub == nil || r.CertToRevoke == nil {
		return nil, ErrMalformed
	}
	return r, nil
}

// NewData is the authority's reply to NEW/RENEW/REVOKE (§4.5).
type NewData struct {
	EcdhPub   []byte
	Salt      []byte
	RequestId []byte
	Challenge []string
}

func (n *NewData) Encode() []byte {
	buf := encodeTLV(tagEcdhPub, n.EcdhPub)
	buf = append(buf, encodeTLV(tagSalt, n.Salt)...)
	buf = append(buf, encodeTLV(tagRequestId, n.RequestId)...)
	for _, c := range n.Challenge {
		buf = append(buf, encodeTLV(tagChallenge, []byte(c))...)
	}
	return buf
}

func DecodeNewData(wire []byte) (*NewData, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	n := &NewData{}
	for _, e := range elements {
		switch e.typ {
		case tagEcdhPub:
			n.EcdhPub = e.value
		case tagSalt:
			n.Salt = e.value
		case tagRequestId:
			n.RequestId = e.value
		case tagChallenge:
			n.Challenge = append(n.Challenge, string(e.value))
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	if n.EcdhPub == nil || n.Salt == nil || n.RequestId == nil {
		return nil, ErrMalformed
	}
	return n, nil
}

// ProbeInterest carries the caller-supplied probe parameters (e.g. an
// email address) that the name-assignment policy consults.
type ProbeInterest struct {
	Parameters []*Parameter
}

func (p *ProbeInterest) Encode() []byte {
	return encodeParameters(p.Parameters)
}

func DecodeProbeInterest(wire []byte) (*ProbeInterest, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	params, err := decodeParameters(elements)
	if err != nil {
		return nil, err
	}
	for _, e := range elements {
		if e.typ != tagParameter {
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	return &ProbeInterest{Parameters: params}, nil
}

// ProbeEntry is one candidate name returned by PROBE.
type ProbeEntry struct {
	Name            string
	MaxSuffixLength uint64
}

func (p *ProbeEntry) encode() []byte {
	buf := encodeTLV(tagProbeName, []byte(p.Name))
	buf = append(buf, encodeTLV(tagMaxSuffix, encodeVarint(p.MaxSuffixLength))...)
	return encodeTLV(tagProbeEntry, buf)
}

func decodeProbeEntry(value []byte) (*ProbeEntry, error) {
	elements, err := parseElements(value)
	if err != nil {
		return nil, err
	}
	p := &ProbeEntry{}
	for _, e := range elements {
		switch e.typ {
		case tagProbeName:
			p.Name = string(e.value)
		case tagMaxSuffix:
			v, err := decodeVarint(e.value)
			if err != nil {
				return nil, err
			}
			p.MaxSuffixLength = v
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	if p.Name == "" {
		return nil, ErrMalformed
	}
	return p, nil
}

// ProbeData is the authority's PROBE reply: zero or more candidate names.
type ProbeData struct {
	Entries []*ProbeEntry
}

func (p *ProbeData) Encode() []byte {
	var buf []byte
	for _, e := range p.Entries {
		buf = append(buf, e.encode()...)
	}
	return buf
}

func DecodeProbeData(wire []byte) (*ProbeData, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	d := &ProbeData{}
	for _, e := range elements {
		if e.typ == tagProbeEntry {
			entry, err := decodeProbeEntry(e.value)
			if err != nil {
				return nil, err
			}
			d.Entries = append(d.Entries, entry)
			continue
		}
		if err := rejectIfCritical(e.typ); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// EncryptedMessage is the outer envelope for every encrypted content
// block exchanged after NEW (§4.1).
type EncryptedMessage struct {
	InitializationVector []byte
	AuthenticationTag     []byte
	EncryptedPayload      []byte
}

func (m *EncryptedMessage) Encode() []byte {
	buf := encodeTLV(tagInitializationVector, m.InitializationVector)
	buf = append(buf, encodeTLV(tagEncryptedPayload, m.EncryptedPayload)...)
	buf = append(buf, encodeTLV(tagAuthenticationTag, m.AuthenticationTag)...)
	return buf
}

func DecodeEncryptedMessage(wire []byte) (*EncryptedMessage, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	m := &EncryptedMessage{}
	for _, e := range elements {
		switch e.typ {
		case tagInitializationVector:
			m.InitializationVector = e.value
		case tagEncryptedPayload:
			m.EncryptedPayload = e.value
		case tagAuthenticationTag:
			m.AuthenticationTag = e.value
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	if m.InitializationVector == nil || m.EncryptedPayload == nil || m.AuthenticationTag == nil {
		return nil, ErrMalformed
	}
	return m, nil
}

// ChallengeInterestPlaintext is the plaintext carried inside a CHALLENGE
// interest's encrypted payload.
type ChallengeInterestPlaintext struct {
	SelectedChallenge string
	Parameters        []*Parameter
}

func (c *ChallengeInterestPlaintext) Encode() []byte {
	buf := encodeTLV(tagSelectedChallenge, []byte(c.SelectedChallenge))
	buf = append(buf, encodeParameters(c.Parameters)...)
	return buf
}

func DecodeChallengeInterestPlaintext(wire []byte) (*ChallengeInterestPlaintext, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	c := &ChallengeInterestPlaintext{}
	for _, e := range elements {
		switch e.typ {
		case tagSelectedChallenge:
			c.SelectedChallenge = string(e.value)
		case tagParameter:
			continue
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	params, err := decodeParameters(elements)
	if err != nil {
		return nil, err
	}
	c.Parameters = params
	if c.SelectedChallenge == "" {
		return nil, ErrMalformed
	}
	return c, nil
}

// ChallengeDataPlaintext is the plaintext carried inside a CHALLENGE
// data's encrypted payload (§4.5 transition table).
type ChallengeDataPlaintext struct {
	Status                uint64
	ChallengeStatus       string
	IssuedCertificateName string
	RemainingTries        *uint64
	RemainingTime         *uint64
	Parameters            []*Parameter
}

func (c *ChallengeDataPlaintext) Encode() []byte {
	buf := encodeTLV(tagStatus, encodeVarint(c.Status))
	if c.ChallengeStatus != "" {
		buf = append(buf, encodeTLV(tagChallengeStatus, []byte(c.ChallengeStatus))...)
	}
	if c.IssuedCertificateName != "" {
		buf = append(buf, encodeTLV(tagIssuedCertName, []byte(c.IssuedCertificateName))...)
	}
	if c.RemainingTries != nil {
		buf = append(buf, encodeTLV(tagRemainingTries, encodeVarint(*c.RemainingTries))...)
	}
	if c.RemainingTime != nil {
		buf = append(buf, encodeTLV(tagRemainingTime, encodeVarint(*c.RemainingTime))...)
	}
	buf = append(buf, encodeParameters(c.Parameters)...)
	return buf
}

func DecodeChallengeDataPlaintext(wire []byte) (*ChallengeDataPlaintext, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	c := &ChallengeDataPlaintext{}
	var haveStatus bool
	for _, e := range elements {
		switch e.typ {
		case tagStatus:
			v, err := decodeVarint(e.value)
			if err != nil {
				return nil, err
			}
			c.Status = v
			haveStatus = true
		case tagChallengeStatus:
			c.ChallengeStatus = string(e.value)
		case tagIssuedCertName:
			c.IssuedCertificateName = string(e.value)
		case tagRemainingTries:
			v, err := decodeVarint(e.value)
			if err != nil {
				return nil, err
			}
			c.RemainingTries = &v
		case tagRemainingTime:
			v, err := decodeVarint(e.value)
			if err != nil {
				return nil, err
			}
			c.RemainingTime = &v
		case tagParameter:
			continue
		default:
			if err := rejectIfCritical(e.typ); err != nil {
				return nil, err
			}
		}
	}
	params, err := decodeParameters(elements)
	if err != nil {
		return nil, err
	}
	c.Parameters = params
	if !haveStatus {
		return nil, ErrMalformed
	}
	return c, nil
}

// ErrorMessage is a signed error data's content (§7).
type ErrorMessage struct {
	ErrorCode uint64
	ErrorInfo string
}

func (e *ErrorMessage) Encode() []byte {
	buf := encodeTLV(tagErrorCode, encodeVarint(e.ErrorCode))
	buf = append(buf, encodeTLV(tagErrorInfo, []byte(e.ErrorInfo))...)
	return buf
}

func DecodeErrorMessage(wire []byte) (*ErrorMessage, error) {
	elements, err := parseElements(wire)
	if err != nil {
		return nil, err
	}
	m := &ErrorMessage{}
	var haveCode bool
	for _, el := range elements {
		switch el.typ {
		case tagErrorCode:
			v, err := decodeVarint(el.value)
			if err != nil {
				return nil, err
			}
			m.ErrorCode = v
			haveCode = true
		case tagErrorInfo:
			m.ErrorInfo = string(el.value)
		default:
			if err := rejectIfCritical(el.typ); err != nil {
				return nil, err
			}
		}
	}
	if !haveCode {
		return nil, ErrMalformed
	}
	return m, nil
}
