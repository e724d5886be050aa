package ca

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"

	"github.com/ndn-ucla/ndncert-ca/challenge"
	"github.com/ndn-ucla/ndncert-ca/cryptoutil"
)

// TrustAnchor is one configured trust-anchor certificate (§6
// "anchor-list"), parsed once at startup so the possession challenge's
// AnchorVerifier never touches the filesystem at request time.
type TrustAnchor struct {
	KeyName      string
	PublicKeyDER []byte
}

// LoadTrustAnchors parses every certificate file in the config's
// anchor-list into the key name and public key a possession proof's
// credential signature is checked against.
func LoadTrustAnchors(configs []TrustAnchorConfig) ([]TrustAnchor, error) {
	anchors := make([]TrustAnchor, 0, len(configs))
	for _, cfg := range configs {
		der, err := os.ReadFile(cfg.Certificate)
		if err != nil {
			return nil, err
		}
		if block, _ := pem.Decode(der); block != nil {
			der = block.Bytes
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("ca: parsing trust anchor %q: %w", cfg.Certificate, err)
		}
		pubKeyDER, err := x509.MarshalPKIXPublicKey(cert.PublicKey)
		if err != nil {
			return nil, err
		}
		anchors = append(anchors, TrustAnchor{KeyName: cert.Subject.CommonName, PublicKeyDER: pubKeyDER})
	}
	return anchors, nil
}

// ndnCredentialParser implements challenge.CredentialParser over an NDN
// certificate Data packet, the shape a possession proof's "issued-cert"
// parameter actually carries. It is the go-ndn-dependent half of the
// possession challenge's collaborators; the challenge package itself
// never imports go-ndn (see challenge/possession.go).
type ndnCredentialParser struct{}

// NewCredentialParser returns the production CredentialParser.
func NewCredentialParser() challenge.CredentialParser {
	return ndnCredentialParser{}
}

func (ndnCredentialParser) Parse(der []byte) (*challenge.Credential, error) {
	data, sigCovered, err := spec_2022.Spec{}.ReadData(enc.NewBufferReader(der))
	if err != nil {
		return nil, err
	}
	pubKeyDER := data.Content().Join()
	if _, err := cryptoutil.ParsePublicKey(pubKeyDER); err != nil {
		return nil, err
	}
	keyLocatorName := ""
	if data.Signature() != nil {
		keyLocatorName = data.Signature().KeyName().String()
	}
	return &challenge.Credential{
		Raw:            der,
		KeyLocatorName: keyLocatorName,
		PublicKeyDER:   pubKeyDER,
		SignedPortion:  sigCovered.Join(),
		Signature:      data.Signature().SigValue(),
	}, nil
}

// anchorVerifier implements challenge.AnchorVerifier against a fixed list
// of configured trust anchors (§6). Any anchor whose KeyName matches the
// credential's key locator and whose signature verifies is sufficient
// (§4.7 "if multiple trust anchors match ... any successful verification
// suffices").
type anchorVerifier struct {
	anchors []TrustAnchor
}

func NewAnchorVerifier(anchors []TrustAnchor) challenge.AnchorVerifier {
	return &anchorVerifier{anchors: anchors}
}

func (v *anchorVerifier) VerifyCredential(cred *challenge.Credential) (bool, error) {
	for _, anchor := range v.anchors {
		if anchor.KeyName != cred.KeyLocatorName {
			continue
		}
		verifier := cryptoutil.SelectVerifier(anchor.PublicKeyDER)
		ok, err := verifier.Verify(anchor.PublicKeyDER, cred.SignedPortion, cred.Signature)
		if err == nil && ok {
			return true, nil
		}
	}
	return false, nil
}
