package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"runbridge/crypto"
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

// Config captures runtime configuration for bridged.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	DataDir       string          `yaml:"data_dir"`
	Environment   string          `yaml:"environment"`
	Chain         ChainConfig     `yaml:"chain"`
	Signer        SignerConfig    `yaml:"signer"`
	Bridge        BridgeConfig    `yaml:"bridge"`
	Admin         AdminConfig     `yaml:"admin"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Log           LogConfig       `yaml:"log"`
	Telemetry     TelemetryConfig `yaml:"telemetry"`
}

// ChainConfig identifies the token contract the service authorizes against.
type ChainConfig struct {
	ID              int64  `yaml:"id"`
	ContractAddress string `yaml:"contract_address"`
	RPCURL          string `yaml:"rpc_url"`
}

// SignerConfig points at the authorizer key. The key material itself never
// lives in the YAML file: it comes from an environment variable or an
// encrypted keystore whose passphrase comes from an environment variable.
type SignerConfig struct {
	KeyEnv        string `yaml:"key_env"`
	KeystorePath  string `yaml:"keystore_path"`
	PassphraseEnv string `yaml:"passphrase_env"`
}

// BridgeConfig tunes the exchange lifecycle and the verification codec.
type BridgeConfig struct {
	SecretEnv      string   `yaml:"secret_env"`
	CancelWindow   Duration `yaml:"cancel_window"`
	SettleAfter    Duration `yaml:"settle_after"`
	SettleInterval Duration `yaml:"settle_interval"`
}

// AdminConfig guards the aggregate history endpoints.
type AdminConfig struct {
	JWTSecretEnv string `yaml:"jwt_secret_env"`
}

// RateLimitConfig throttles per-client request rates.
type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
	Burst             int `yaml:"burst"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TelemetryConfig wires the OTLP exporters.
type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
	Headers  string `yaml:"headers"`
	Metrics  bool   `yaml:"metrics"`
	Traces   bool   `yaml:"traces"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7085"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/accounts"
	}
	if cfg.Signer.KeyEnv == "" && cfg.Signer.KeystorePath == "" {
		cfg.Signer.KeyEnv = "BRIDGE_SIGNER_KEY"
	}
	if cfg.Signer.KeystorePath != "" && cfg.Signer.PassphraseEnv == "" {
		cfg.Signer.PassphraseEnv = "BRIDGE_KEYSTORE_PASSPHRASE"
	}
	if cfg.Bridge.SecretEnv == "" {
		cfg.Bridge.SecretEnv = "BRIDGE_VERIFICATION_SECRET"
	}
	if cfg.Bridge.CancelWindow.Duration == 0 {
		cfg.Bridge.CancelWindow.Duration = 5 * time.Minute
	}
	if cfg.Bridge.SettleAfter.Duration == 0 {
		cfg.Bridge.SettleAfter.Duration = 24 * time.Hour
	}
	if cfg.Bridge.SettleInterval.Duration == 0 {
		cfg.Bridge.SettleInterval.Duration = time.Hour
	}
	if cfg.RateLimit.RequestsPerMinute <= 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

func validate(cfg Config) error {
	if cfg.Chain.ContractAddress == "" {
		return fmt.Errorf("chain contract address must be configured")
	}
	if _, err := crypto.ParseAddress(cfg.Chain.ContractAddress); err != nil {
		return fmt.Errorf("chain contract address: %w", err)
	}
	if cfg.Chain.ID <= 0 {
		return fmt.Errorf("chain id must be positive")
	}
	if cfg.Bridge.CancelWindow.Duration > cfg.Bridge.SettleAfter.Duration {
		return fmt.Errorf("settle_after must not undercut cancel_window")
	}
	return nil
}

// VerificationSecret resolves the shared codec secret from the environment.
func (c Config) VerificationSecret() (string, error) {
	secret := strings.TrimSpace(os.Getenv(c.Bridge.SecretEnv))
	if secret == "" {
		return "", fmt.Errorf("verification secret env %s is empty", c.Bridge.SecretEnv)
	}
	return secret, nil
}

// SignerKey loads the authorizer private key, preferring the environment
// variable and falling back to the encrypted keystore.
func (c Config) SignerKey() (*crypto.PrivateKey, error) {
	if c.Signer.KeyEnv != "" {
		if raw := strings.TrimSpace(os.Getenv(c.Signer.KeyEnv)); raw != "" {
			key, err := crypto.PrivateKeyFromHex(raw)
			if err != nil {
				return nil, fmt.Errorf("signer key env %s: %w", c.Signer.KeyEnv, err)
			}
			return key, nil
		}
	}
	if c.Signer.KeystorePath != "" {
		passphrase := os.Getenv(c.Signer.PassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("keystore passphrase env %s is empty", c.Signer.PassphraseEnv)
		}
		key, err := crypto.LoadFromKeystore(c.Signer.KeystorePath, passphrase)
		if err != nil {
			return nil, fmt.Errorf("load keystore %s: %w", c.Signer.KeystorePath, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("no signer key configured: set %s or signer.keystore_path", c.Signer.KeyEnv)
}

// AdminJWTSecret resolves the admin bearer secret; empty disables the admin
// surface.
func (c Config) AdminJWTSecret() string {
	if c.Admin.JWTSecretEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.Admin.JWTSecretEnv))
}
