// Command ndncert-ca runs the certificate-issuance authority: it loads a
// configuration file, wires the configured challenge modules, and serves
// INFO/PROBE/NEW/RENEW/REVOKE/CHALLENGE over a face to the local NFD,
// grounded on main/server/main.go's engine wiring.
package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"flag"
	"math/big"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	basic_engine "github.com/zjkmxy/go-ndn/pkg/engine/basic"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	sec "github.com/zjkmxy/go-ndn/pkg/security"

	"github.com/ndn-ucla/ndncert-ca/ca"
	"github.com/ndn-ucla/ndncert-ca/challenge"
	"github.com/ndn-ucla/ndncert-ca/email"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
)

func passAll(enc.Name, enc.Wire, ndn.Signature) bool { return true }

func main() {
	log.SetLevel(log.DebugLevel)
	logger := log.WithField("module", "main")

	configPath := flag.String("config", "", "path to ca.yaml (defaults to $NDNCERT_SYSCONFDIR/ca.yaml)")
	smtpConfigPath := flag.String("smtp-config", "", "path to smtp.yaml, required if \"email\" is a supported challenge")
	faceAddr := flag.String("face", "/var/run/nfd.sock", "unix socket path to the local NFD")
	flag.Parse()

	cfg, err := ca.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("loading config: %v", err)
	}

	for _, name := range cfg.Ca.SupportedChallenges {
		switch name {
		case challenge.ChallengeTypeEmail:
			smtpCfg, err := email.LoadConfig(*smtpConfigPath)
			if err != nil {
				logger.Fatalf("loading smtp config: %v", err)
			}
			challenge.RegisterEmailChallenge(email.NewSender(smtpCfg), (*regexp.Regexp)(nil))
		case challenge.ChallengeTypePossession:
			anchors, err := ca.LoadTrustAnchors(cfg.AnchorList)
			if err != nil {
				logger.Fatalf("loading trust anchors: %v", err)
			}
			challenge.RegisterPossessionChallenge(ca.NewCredentialParser(), ca.NewAnchorVerifier(anchors))
		default:
			logger.Fatalf("unknown supported-challenges entry %q", name)
		}
	}

	identityKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		logger.Fatalf("generating CA identity key: %v", err)
	}
	notBefore := time.Now()
	notAfter := notBefore.Add(time.Duration(cfg.Ca.MaxValidityPeriod) * time.Second * 10)
	caCertTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cfg.Ca.Prefix},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		SignatureAlgorithm:    x509.ECDSAWithSHA256,
		BasicConstraintsValid: true,
	}
	caCertDER, err := x509.CreateCertificate(rand.Reader, caCertTemplate, caCertTemplate, &identityKey.PublicKey, identityKey)
	if err != nil {
		logger.Fatalf("self-signing CA certificate: %v", err)
	}

	caState, err := ca.NewCaState(cfg, caCertDER, notBefore, notAfter, reqstore.NewMemoryStore(), ca.RandomSuffixPolicy{})
	if err != nil {
		logger.Fatalf("setting up CA state: %v", err)
	}

	keyLocatorName, err := enc.NameFromStr(cfg.Ca.Prefix + "/KEY")
	if err != nil {
		logger.Fatalf("building key locator name: %v", err)
	}
	server := ca.NewServer(caState, sec.NewEccSigner(false, false, 0, identityKey, keyLocatorName))

	ndnTimer := basic_engine.NewTimer()
	ndnFace := basic_engine.NewStreamFace("unix", *faceAddr, true)
	ndnEngine := basic_engine.NewEngine(ndnFace, ndnTimer, sec.NewSha256IntSigner(ndnTimer), passAll)
	if err := ndnEngine.Start(); err != nil {
		logger.Fatalf("starting engine: %v", err)
	}
	defer ndnEngine.Shutdown()

	if err := server.Serve(ndnEngine); err != nil {
		logger.Fatalf("serving: %v", err)
	}

	janitorCtx, cancelJanitor := context.WithCancel(context.Background())
	defer cancelJanitor()
	go caState.RunJanitor(janitorCtx, ca.DefaultSweepInterval, ca.DefaultGraceWindow)

	logger.Infof("serving %s", cfg.Ca.Prefix)
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	receivedSig := <-sigChannel
	logger.Infof("received signal %+v - exiting", receivedSig)
}
