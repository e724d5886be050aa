// Command ndncert-client walks the certificate-issuance protocol against
// one authority: PROBE for a suggested name, NEW to open a session, then
// the CHALLENGE named by the -challenge flag, prompting on the terminal
// for anything the challenge needs, grounded on main/client/main.go's
// engine wiring and interactive prompts.
package main

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	basic_engine "github.com/zjkmxy/go-ndn/pkg/engine/basic"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
	"github.com/zjkmxy/go-ndn/pkg/ndn/spec_2022"
	sec "github.com/zjkmxy/go-ndn/pkg/security"
	"github.com/zjkmxy/go-ndn/pkg/utils"
	"golang.org/x/term"

	"github.com/ndn-ucla/ndncert-ca/challenge"
	"github.com/ndn-ucla/ndncert-ca/client"
	"github.com/ndn-ucla/ndncert-ca/reqstore"
)

func passAll(enc.Name, enc.Wire, ndn.Signature) bool { return true }

// terminalContext implements challenge.ClientContext over the process's
// own terminal: secrets are typed with echo suppressed via golang.org/x/term,
// matching main/client/main.go's term.ReadPassword prompt for the email
// verification code.
type terminalContext struct {
	stdin         *bufio.Reader
	credential    []byte
	credentialKey *ecdsa.PrivateKey
}

func (t *terminalContext) PromptSecret(prompt string) (string, error) {
	fmt.Printf("%s: ", prompt)
	if term.IsTerminal(syscall.Stdin) {
		bytePassword, err := term.ReadPassword(syscall.Stdin)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bytePassword)), nil
	}
	line, err := t.stdin.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (t *terminalContext) IssuedCredential() ([]byte, error) {
	if t.credential == nil {
		return nil, errors.New("client: no previously issued credential configured for possession proof")
	}
	return t.credential, nil
}

func (t *terminalContext) SignWithCredential(message []byte) ([]byte, error) {
	if t.credentialKey == nil {
		return nil, errors.New("client: no credential private key configured for possession proof")
	}
	return sec.NewEccSigner(false, false, 0, t.credentialKey, enc.Name{}).ComputeSigValue(enc.Wire{message})
}

func main() {
	log.SetLevel(log.DebugLevel)
	logger := log.WithField("module", "main")

	caPrefix := flag.String("ca-prefix", "/ndn/CA", "the authority's name prefix")
	faceAddr := flag.String("face", "/var/run/nfd.sock", "unix socket path to the local NFD")
	challengeType := flag.String("challenge", challenge.ChallengeTypeEmail, "which challenge type to run")
	emailAddr := flag.String("email", "", "email address to probe/register, if the email challenge is used")
	flag.Parse()

	ndnTimer := basic_engine.NewTimer()
	ndnFace := basic_engine.NewStreamFace("unix", *faceAddr, true)
	ndnEngine := basic_engine.NewEngine(ndnFace, ndnTimer, sec.NewSha256IntSigner(ndnTimer), passAll)
	if err := ndnEngine.Start(); err != nil {
		logger.Fatalf("starting engine: %v", err)
	}
	defer ndnEngine.Shutdown()

	driver := client.NewDriver(*caPrefix, ndnEngine, nil)

	ctx := context.Background()
	requestedName := ""
	if *emailAddr != "" {
		candidates, err := driver.Probe(ctx, map[string]string{"email": *emailAddr})
		if err != nil {
			logger.Fatalf("PROBE failed: %v", err)
		}
		if len(candidates) > 0 {
			requestedName = candidates[0].Name
			logger.Infof("PROBE suggested name %s", requestedName)
		}
	}
	if requestedName == "" {
		fmt.Print("Enter the certificate name to request: ")
		reader := bufio.NewReader(os.Stdin)
		line, _ := reader.ReadString('\n')
		requestedName = strings.TrimSpace(line)
	}

	requesterKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		logger.Fatalf("generating requester key: %v", err)
	}
	certRequestWire, err := selfSignedRequest(requestedName, requesterKey)
	if err != nil {
		logger.Fatalf("building self-signed certificate request: %v", err)
	}

	offeredChallenges, err := driver.New(ctx, reqstore.RequestTypeNew, certRequestWire)
	if err != nil {
		logger.Fatalf("NEW failed: %v", err)
	}
	logger.Infof("authority offers challenges: %v", offeredChallenges)

	mod, err := challenge.Lookup(*challengeType)
	if err != nil {
		logger.Fatalf("unsupported challenge %q: %v", *challengeType, err)
	}

	clientCtx := &terminalContext{stdin: bufio.NewReader(os.Stdin), credentialKey: requesterKey}
	reply, err := driver.RunChallenge(ctx, mod, clientCtx)
	if err != nil {
		logger.Fatalf("CHALLENGE failed: %v", err)
	}
	logger.Infof("certificate issued: %s", reply.IssuedCertificateName)
}

// selfSignedRequest builds the self-signed certificate-request Data a
// NEW interest carries: an NDN KEY packet over requestedName, signed by
// the requester's own fresh key, per §4.5.
func selfSignedRequest(requestedName string, key *ecdsa.PrivateKey) ([]byte, error) {
	name, err := enc.NameFromStr(requestedName + "/KEY/1")
	if err != nil {
		return nil, err
	}
	pubKeyDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	signer := sec.NewEccSigner(false, false, 365*24*time.Hour, key, name)
	wire, _, err := spec_2022.Spec{}.MakeData(
		name,
		&ndn.DataConfig{ContentType: utils.IdPtr(ndn.ContentTypeKey)},
		enc.Wire{pubKeyDER},
		signer,
	)
	if err != nil {
		return nil, err
	}
	return wire.Join(), nil
}
