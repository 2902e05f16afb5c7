package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
chain:
  id: 31337
  contract_address: "0xfedcba0987654321fedcba0987654321fedcba09"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":7085" {
		t.Fatalf("listen = %q", cfg.ListenAddress)
	}
	if cfg.Bridge.CancelWindow.Duration != 5*time.Minute {
		t.Fatalf("cancel window = %s", cfg.Bridge.CancelWindow.Duration)
	}
	if cfg.Bridge.SettleAfter.Duration != 24*time.Hour {
		t.Fatalf("settle after = %s", cfg.Bridge.SettleAfter.Duration)
	}
	if cfg.Signer.KeyEnv != "BRIDGE_SIGNER_KEY" {
		t.Fatalf("key env = %q", cfg.Signer.KeyEnv)
	}
	if cfg.RateLimit.RequestsPerMinute != 120 || cfg.RateLimit.Burst != 30 {
		t.Fatalf("rate limit = %+v", cfg.RateLimit)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
chain:
  id: 1
  contract_address: "0xfedcba0987654321fedcba0987654321fedcba09"
bridge:
  cancel_window: 10m
  settle_after: 48h
  settle_interval: 30m
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Bridge.CancelWindow.Duration != 10*time.Minute {
		t.Fatalf("cancel window = %s", cfg.Bridge.CancelWindow.Duration)
	}
	if cfg.Bridge.SettleAfter.Duration != 48*time.Hour {
		t.Fatalf("settle after = %s", cfg.Bridge.SettleAfter.Duration)
	}
	if cfg.Bridge.SettleInterval.Duration != 30*time.Minute {
		t.Fatalf("settle interval = %s", cfg.Bridge.SettleInterval.Duration)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"missing contract": `
chain:
  id: 1
`,
		"bad contract": `
chain:
  id: 1
  contract_address: "nope"
`,
		"bad chain id": `
chain:
  id: 0
  contract_address: "0xfedcba0987654321fedcba0987654321fedcba09"
`,
		"settle undercuts cancel": `
chain:
  id: 1
  contract_address: "0xfedcba0987654321fedcba0987654321fedcba09"
bridge:
  cancel_window: 2h
  settle_after: 1h
`,
	}
	for name, body := range cases {
		if _, err := Load(writeConfig(t, body)); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestSignerKeyFromEnv(t *testing.T) {
	path := writeConfig(t, `
chain:
  id: 1
  contract_address: "0xfedcba0987654321fedcba0987654321fedcba09"
signer:
  key_env: TEST_SIGNER_KEY
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	t.Setenv("TEST_SIGNER_KEY", "")
	if _, err := cfg.SignerKey(); err == nil {
		t.Fatal("empty key env must fail")
	}

	t.Setenv("TEST_SIGNER_KEY", "0x4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	key, err := cfg.SignerKey()
	if err != nil {
		t.Fatalf("signer key: %v", err)
	}
	if key == nil {
		t.Fatal("nil key")
	}
}

func TestVerificationSecret(t *testing.T) {
	path := writeConfig(t, `
chain:
  id: 1
  contract_address: "0xfedcba0987654321fedcba0987654321fedcba09"
bridge:
  secret_env: TEST_VERIFICATION_SECRET
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	t.Setenv("TEST_VERIFICATION_SECRET", "")
	if _, err := cfg.VerificationSecret(); err == nil {
		t.Fatal("empty secret must fail")
	}

	t.Setenv("TEST_VERIFICATION_SECRET", "a-secret")
	secret, err := cfg.VerificationSecret()
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	if secret != "a-secret" {
		t.Fatalf("secret = %q", secret)
	}
}
