package hivemind

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/opd-ai/hivemind/crypto"
)

// maxProtocolVersion is the newest listener protocol revision this node
// speaks. Version 1 adds mandatory encryption for keyless clients.
const maxProtocolVersion = 1

// BackendOptions selects a pluggable module and carries its nested
// configuration.
type BackendOptions struct {
	Module string                 `yaml:"module"`
	Config map[string]interface{} `yaml:"config"`
}

// Options configures a listener service.
type Options struct {
	// Host and Port bind the websocket transport.
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// SSL enables wss with the certificate pair under CertDir; a
	// self-signed pair is generated when none exists.
	SSL      bool   `yaml:"ssl"`
	CertDir  string `yaml:"cert_dir"`
	CertName string `yaml:"cert_name"`

	// SiteID tags this node's location for site-scoped fan-out delivery.
	SiteID string `yaml:"site_id"`

	// RequireCrypto rejects keyless clients that cannot complete a
	// handshake and refuses to process unencrypted frames after one.
	RequireCrypto bool `yaml:"require_crypto"`
	// HandshakeEnabled advertises key agreement support. Disabling it
	// restricts the listener to clients with pre-shared keys.
	HandshakeEnabled bool `yaml:"handshake"`
	// Binarize advertises binary framing support during the handshake.
	Binarize bool `yaml:"binarize"`

	// AllowedEncodings and AllowedCiphers are the server-side allowlists
	// intersected with peer preferences at handshake time.
	AllowedEncodings []crypto.Encoding `yaml:"-"`
	AllowedCiphers   []crypto.Cipher   `yaml:"-"`

	// IdentityPath stores the node's long-lived X25519 private key.
	IdentityPath string `yaml:"identity_path"`

	Database        BackendOptions `yaml:"database"`
	AgentProtocol   BackendOptions `yaml:"agent_protocol"`
	NetworkProtocol BackendOptions `yaml:"network_protocol"`
}

// DefaultOptions returns the configuration a bare listener runs with.
func DefaultOptions() *Options {
	dataDir := defaultDataDir()
	return &Options{
		Host:             "0.0.0.0",
		Port:             5678,
		CertDir:          filepath.Join(dataDir, "certs"),
		CertName:         "hivemind",
		RequireCrypto:    true,
		HandshakeEnabled: true,
		AllowedEncodings: crypto.DefaultEncodings(),
		AllowedCiphers:   crypto.DefaultCiphers(),
		IdentityPath:     filepath.Join(dataDir, "identity.key"),
		Database: BackendOptions{
			Module: "json",
			Config: map[string]interface{}{},
		},
		AgentProtocol: BackendOptions{
			Module: "local",
			Config: map[string]interface{}{},
		},
		NetworkProtocol: BackendOptions{
			Module: "websocket",
			Config: map[string]interface{}{},
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "hivemind")
}

// yamlOptions mirrors Options for file loading, with the enum lists as
// their wire names.
type yamlOptions struct {
	Options          `yaml:",inline"`
	AllowedEncodings []string `yaml:"allowed_encodings"`
	AllowedCiphers   []string `yaml:"allowed_ciphers"`
}

// LoadOptions reads a YAML configuration file over the defaults.
// Encoding and cipher names parse case-insensitively with the JSON-
// prefix optional.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	cfg := yamlOptions{Options: *DefaultOptions()}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration %s: %w", path, err)
	}

	opts := cfg.Options
	if len(cfg.AllowedEncodings) > 0 {
		opts.AllowedEncodings = opts.AllowedEncodings[:0]
		for _, name := range cfg.AllowedEncodings {
			e, err := crypto.ParseEncoding(name)
			if err != nil {
				return nil, fmt.Errorf("configuration %s: %w", path, err)
			}
			opts.AllowedEncodings = append(opts.AllowedEncodings, e)
		}
	}
	if len(cfg.AllowedCiphers) > 0 {
		opts.AllowedCiphers = opts.AllowedCiphers[:0]
		for _, name := range cfg.AllowedCiphers {
			c, err := crypto.ParseCipher(name)
			if err != nil {
				return nil, fmt.Errorf("configuration %s: %w", path, err)
			}
			opts.AllowedCiphers = append(opts.AllowedCiphers, c)
		}
	}
	return &opts, nil
}
