// Package email implements the challenge.Sender collaborator the email-PIN
// challenge module (§4.6) calls out to, backed by net/smtp and configured
// the way the teacher configures its SMTP module: a YAML file loaded with
// gopkg.in/yaml.v3.
package email

import (
	"fmt"
	"net/smtp"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk shape of the SMTP collaborator's configuration.
type Config struct {
	Smtp struct {
		Identity string `yaml:"identity"`
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Host     string `yaml:"host"`
		Port     int64  `yaml:"port"`
	} `yaml:"smtp"`
	Email struct {
		CodeEmailBody        string `yaml:"codeEmailBody"`
		CodeEmailSubjectLine string `yaml:"codeEmailSubjectLine"`
	} `yaml:"email"`
}

// LoadConfig reads and parses an SMTP collaborator config file.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("in file %q: %w", path, err)
	}
	return cfg, nil
}

// Sender is the challenge.Sender implementation backed by net/smtp. It
// satisfies the challenge package's Sender interface without that package
// importing net/smtp itself, keeping the challenge module's dependency
// surface to the protocol state machine only.
type Sender struct {
	address              string
	auth                 smtp.Auth
	codeEmailBody        string
	codeEmailSubjectLine string
	originEmail          string
}

func NewSender(cfg *Config) *Sender {
	return &Sender{
		address:              fmt.Sprintf("%s:%d", cfg.Smtp.Host, cfg.Smtp.Port),
		auth:                 smtp.PlainAuth(cfg.Smtp.Identity, cfg.Smtp.Username, cfg.Smtp.Password, cfg.Smtp.Host),
		codeEmailBody:        cfg.Email.CodeEmailBody,
		codeEmailSubjectLine: cfg.Email.CodeEmailSubjectLine,
		originEmail:          cfg.Smtp.Identity,
	}
}

// SendCode implements challenge.Sender. caPrefix and certName are folded
// into the message body so the recipient can tell which authority and
// which pending certificate the code belongs to.
func (s *Sender) SendCode(to, code, caPrefix, certName string) error {
	header := fmt.Sprintf("From: <%s>\r\nTo: <%s>\r\nSubject: %s\r\n\r\n",
		s.originEmail, to, s.codeEmailSubjectLine)
	body := fmt.Sprintf("%s %s\r\n\r\nAuthority: %s\r\nCertificate: %s\r\n",
		s.codeEmailBody, code, caPrefix, certName)
	message := []byte(header + body)

	if err := smtp.SendMail(s.address, s.auth, s.originEmail, []string{to}, message); err != nil {
		return fmt.Errorf("email: failed to send code to %s: %w", to, err)
	}
	return nil
}
