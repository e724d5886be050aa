// Package ca implements the authority side of the certificate-issuance
// protocol (§4.5): configuration, name assignment, the request-lifecycle
// state machine, and the NDN-facing handlers built on top of it.
package ca

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const sysconfdirEnv = "NDNCERT_SYSCONFDIR"
const defaultConfigName = "/ca.yaml"

// TrustAnchorConfig names one file containing a PEM-encoded certificate
// the possession challenge should accept as a signer of client-presented
// credentials (§6 "anchor-list").
type TrustAnchorConfig struct {
	Certificate string `yaml:"certificate"`
}

// Config is the on-disk CA configuration (§6). Under `ca`, ca-prefix,
// max-validity-period and supported-challenges are mandatory and the
// authority refuses to start if one is missing; ca-info,
// max-suffix-length and probe-parameters are optional.
type Config struct {
	Ca struct {
		Prefix              string   `yaml:"ca-prefix"`
		Info                string   `yaml:"ca-info"`
		MaxValidityPeriod   uint64   `yaml:"max-validity-period"`
		MaxSuffixLength     uint64   `yaml:"max-suffix-length"`
		SupportedChallenges []string `yaml:"supported-challenges"`
		ProbeParameters     []string `yaml:"probe-parameters"`
	} `yaml:"ca"`
	AnchorList []TrustAnchorConfig `yaml:"anchor-list"`
}

// LoadConfig reads and validates the CA configuration file at path. If
// path is empty, it falls back to $NDNCERT_SYSCONFDIR/ca.yaml.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		dir := os.Getenv(sysconfdirEnv)
		if dir == "" {
			return nil, fmt.Errorf("ca: no config path given and %s is unset", sysconfdirEnv)
		}
		path = dir + defaultConfigName
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("ca: parsing %q: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("ca: %q: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Ca.Prefix == "" {
		return fmt.Errorf("ca-prefix is required")
	}
	if c.Ca.MaxValidityPeriod == 0 {
		return fmt.Errorf("max-validity-period is required")
	}
	if len(c.Ca.SupportedChallenges) == 0 {
		return fmt.Errorf("supported-challenges must name at least one challenge")
	}
	return nil
}
