package email

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "smtp.yaml")
	contents := `
smtp:
  identity: ca@example.net
  username: ca@example.net
  password: secret
  host: smtp.example.net
  port: 587
email:
  codeEmailBody: "Your NDNCERT verification code is"
  codeEmailSubjectLine: "NDNCERT Email Challenge"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "ca@example.net", cfg.Smtp.Identity)
	require.Equal(t, "smtp.example.net", cfg.Smtp.Host)
	require.Equal(t, int64(587), cfg.Smtp.Port)
	require.Equal(t, "NDNCERT Email Challenge", cfg.Email.CodeEmailSubjectLine)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestNewSenderDerivesAddressAndOrigin(t *testing.T) {
	cfg := &Config{}
	cfg.Smtp.Identity = "ca@example.net"
	cfg.Smtp.Host = "smtp.example.net"
	cfg.Smtp.Port = 587
	cfg.Email.CodeEmailBody = "code:"
	cfg.Email.CodeEmailSubjectLine = "subject"

	sender := NewSender(cfg)
	require.Equal(t, "smtp.example.net:587", sender.address)
	require.Equal(t, "ca@example.net", sender.originEmail)
	require.Equal(t, "code:", sender.codeEmailBody)
}
