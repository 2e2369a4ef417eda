package withdrawald

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for withdrawald.
type Config struct {
	ListenAddress string      `yaml:"listen"`
	GRPCAddress   string      `yaml:"grpc_listen"`
	DataDir       string      `yaml:"data_dir"`
	BlockInterval Duration    `yaml:"block_interval"`
	ParamsFile    string      `yaml:"params_file"`
	GenesisSupply string      `yaml:"genesis_supply"`
	PauseOnStart  bool        `yaml:"pause"`
	DevMode       bool        `yaml:"dev_mode"`
	Core          CoreConfig  `yaml:"core"`
	NATS          NATSConfig  `yaml:"nats"`
	Audit         AuditConfig `yaml:"audit"`
	Admin         AdminConfig `yaml:"admin"`
	Log           LogConfig   `yaml:"log"`
}

// CoreConfig configures the core chain RPC client and settlement signer.
type CoreConfig struct {
	Endpoint        string   `yaml:"endpoint"`
	DiscoveryDomain string   `yaml:"discovery_domain"`
	DNSServer       string   `yaml:"dns_server"`
	Username        string   `yaml:"username"`
	PasswordEnv     string   `yaml:"password_env"`
	Password        string   `yaml:"-"`
	TLSCAFile       string   `yaml:"tls_ca"`
	AllowInsecure   bool     `yaml:"allow_insecure"`
	Timeout         Duration `yaml:"timeout"`
	SignerKey       string   `yaml:"signer_key"`
	SignerKeyFile   string   `yaml:"signer_key_file"`
	SignerKeyEnv    string   `yaml:"signer_key_env"`
	Keystore        string   `yaml:"keystore"`
	PassphraseEnv   string   `yaml:"passphrase_env"`
	Fee             uint32   `yaml:"fee"`
	ConfirmAfter    uint64   `yaml:"confirm_after"`
}

// NATSConfig configures lifecycle event publishing. An empty URL disables it.
type NATSConfig struct {
	URL     string   `yaml:"url"`
	Subject string   `yaml:"subject"`
	Stream  string   `yaml:"stream"`
	Timeout Duration `yaml:"timeout"`
}

// AuditConfig configures the audit archive. An empty driver disables it.
type AuditConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	DSNEnv    string `yaml:"dsn_env"`
	ReportDir string `yaml:"report_dir"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string          `yaml:"bearer_token"`
	BearerTokenFile string          `yaml:"bearer_token_file"`
	JWT             JWTConfig       `yaml:"jwt"`
	MTLS            MTLSConfig      `yaml:"mtls"`
	TLS             AdminTLSConfig  `yaml:"tls"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
}

// JWTConfig enables HMAC-signed operator tokens.
type JWTConfig struct {
	Secret    string   `yaml:"secret"`
	SecretEnv string   `yaml:"secret_env"`
	Issuer    string   `yaml:"issuer"`
	Audience  string   `yaml:"audience"`
	ClockSkew Duration `yaml:"clock_skew"`
}

// MTLSConfig controls mutual TLS verification.
type MTLSConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ClientCAPath string `yaml:"client_ca"`
}

// AdminTLSConfig configures TLS certificates for the admin API.
type AdminTLSConfig struct {
	Disable  bool   `yaml:"disable"`
	CertPath string `yaml:"cert"`
	KeyPath  string `yaml:"key"`
}

// RateLimitConfig throttles admin requests per client address.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// LogConfig controls log level and optional file rotation.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// LoadConfig reads configuration from the supplied path.
func LoadConfig(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.prepare(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (cfg *Config) prepare() error {
	applyDefaults(cfg)
	if err := cfg.Core.normalise(cfg.DevMode); err != nil {
		return fmt.Errorf("core signer: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return fmt.Errorf("admin security: %w", err)
	}
	if err := cfg.Audit.normalise(); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return validateConfig(*cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "withdrawald-data"
	}
	if cfg.BlockInterval.Duration == 0 {
		cfg.BlockInterval.Duration = 2 * time.Second
	}
	if cfg.Core.Timeout.Duration == 0 {
		cfg.Core.Timeout.Duration = 10 * time.Second
	}
	if cfg.Core.ConfirmAfter == 0 {
		cfg.Core.ConfirmAfter = 1
	}
	if cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "creditchain.withdrawals"
	}
	if cfg.NATS.Stream == "" {
		cfg.NATS.Stream = "WITHDRAWALS"
	}
	if cfg.NATS.Timeout.Duration == 0 {
		cfg.NATS.Timeout.Duration = 5 * time.Second
	}
	if cfg.Audit.ReportDir == "" {
		cfg.Audit.ReportDir = "withdrawald-reports"
	}
	if cfg.Admin.RateLimit.RequestsPerMinute == 0 {
		cfg.Admin.RateLimit.RequestsPerMinute = 600
	}
	if cfg.Admin.RateLimit.Burst == 0 {
		cfg.Admin.RateLimit.Burst = 20
	}
}

func validateConfig(cfg Config) error {
	if !cfg.DevMode && strings.TrimSpace(cfg.Core.Endpoint) == "" && strings.TrimSpace(cfg.Core.DiscoveryDomain) == "" {
		return fmt.Errorf("core endpoint or discovery_domain must be configured")
	}
	if cfg.Core.DiscoveryDomain != "" && strings.TrimSpace(cfg.Core.DNSServer) == "" {
		return fmt.Errorf("core dns_server must be configured with discovery_domain")
	}
	if cfg.Admin.BearerToken == "" && cfg.Admin.JWT.Secret == "" && !cfg.Admin.MTLS.Enabled {
		return fmt.Errorf("configure bearer_token, jwt or mTLS for admin authentication")
	}
	if cfg.GenesisSupply != "" {
		if _, ok := new(big.Int).SetString(strings.TrimSpace(cfg.GenesisSupply), 10); !ok {
			return fmt.Errorf("genesis_supply %q is not a base-10 integer", cfg.GenesisSupply)
		}
	}
	if cfg.BlockInterval.Duration < 0 {
		return fmt.Errorf("block_interval must be positive")
	}
	return nil
}

func (c *CoreConfig) normalise(devMode bool) error {
	if c == nil {
		return fmt.Errorf("core configuration missing")
	}
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	c.SignerKey = strings.TrimSpace(c.SignerKey)
	c.SignerKeyEnv = strings.TrimSpace(c.SignerKeyEnv)
	c.SignerKeyFile = strings.TrimSpace(c.SignerKeyFile)
	c.Keystore = strings.TrimSpace(c.Keystore)
	if env := strings.TrimSpace(c.PasswordEnv); env != "" {
		c.Password = os.Getenv(env)
	}
	if c.SignerKey != "" || c.Keystore != "" {
		return nil
	}
	switch {
	case c.SignerKeyEnv != "":
		value := strings.TrimSpace(os.Getenv(c.SignerKeyEnv))
		if value == "" {
			return fmt.Errorf("signer_key_env %s is empty", c.SignerKeyEnv)
		}
		c.SignerKey = value
	case c.SignerKeyFile != "":
		contents, err := os.ReadFile(c.SignerKeyFile)
		if err != nil {
			return fmt.Errorf("read signer_key_file: %w", err)
		}
		c.SignerKey = strings.TrimSpace(string(contents))
	case devMode:
		// Dev mode generates an ephemeral key.
	default:
		return fmt.Errorf("signer_key or keystore is required")
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	if a == nil {
		return fmt.Errorf("admin configuration missing")
	}
	token := strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		token = strings.TrimSpace(string(contents))
	}
	a.BearerToken = token
	if env := strings.TrimSpace(a.JWT.SecretEnv); env != "" {
		a.JWT.Secret = strings.TrimSpace(os.Getenv(env))
		if a.JWT.Secret == "" {
			return fmt.Errorf("jwt secret_env %s is empty", env)
		}
	}
	a.MTLS.ClientCAPath = strings.TrimSpace(a.MTLS.ClientCAPath)
	a.TLS.CertPath = strings.TrimSpace(a.TLS.CertPath)
	a.TLS.KeyPath = strings.TrimSpace(a.TLS.KeyPath)
	if a.TLS.CertPath == "" && a.TLS.KeyPath == "" {
		a.TLS.Disable = true
	}
	if !a.TLS.Disable {
		if a.TLS.CertPath == "" {
			return fmt.Errorf("tls.cert must be configured when TLS is enabled")
		}
		if a.TLS.KeyPath == "" {
			return fmt.Errorf("tls.key must be configured when TLS is enabled")
		}
	}
	if a.MTLS.Enabled && a.TLS.Disable {
		return fmt.Errorf("mTLS requires TLS to be enabled")
	}
	if a.MTLS.Enabled && a.MTLS.ClientCAPath == "" {
		return fmt.Errorf("mtls.client_ca must be configured when mTLS is enabled")
	}
	return nil
}

func (a *AuditConfig) normalise() error {
	a.Driver = strings.ToLower(strings.TrimSpace(a.Driver))
	if env := strings.TrimSpace(a.DSNEnv); env != "" {
		a.DSN = strings.TrimSpace(os.Getenv(env))
	}
	switch a.Driver {
	case "", "sqlite":
	case "postgres":
		if a.DSN == "" {
			return fmt.Errorf("postgres dsn must be configured")
		}
	default:
		return fmt.Errorf("unsupported driver %q", a.Driver)
	}
	return nil
}
