package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIARB_FEE", "")
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Fee != "0.001" {
		t.Fatalf("expected default fee 0.001, got %s", c.Fee)
	}
	if !c.UseTestnet {
		t.Fatal("expected useTestnet to default true")
	}
	if c.Scanner.WorkerPoolSize != 4 {
		t.Fatalf("expected default worker pool size 4, got %d", c.Scanner.WorkerPoolSize)
	}
	if c.MarketData.MaxSymbolsPerConn != 50 {
		t.Fatalf("expected default max symbols per connection 50, got %d", c.MarketData.MaxSymbolsPerConn)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRIARB_FEE", "0.002")
	t.Setenv("TRIARB_LIVE", "true")
	t.Setenv("TRIARB_USETESTNET", "false")

	// Live mode against the real venue requires credential paths, so supply
	// them through a config file; the env vars above still take precedence.
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("credentials:\n  passphraseFile: /tmp/pass\n  encryptedKeysFile: /tmp/keys\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}

	c, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Fee != "0.002" {
		t.Fatalf("expected env override fee 0.002, got %s", c.Fee)
	}
	if !c.Live {
		t.Fatal("expected live to be overridden to true")
	}
	if c.UseTestnet {
		t.Fatal("expected useTestnet to be overridden to false")
	}
}

func TestValidateRequiresCredentialsForLiveRealMode(t *testing.T) {
	c := &Config{Live: true, UseTestnet: false}
	if err := c.validate(); err == nil {
		t.Fatal("expected validation to fail without credential file paths in live real mode")
	}

	c.Credentials.PassphraseFile = "/tmp/pass"
	c.Credentials.EncryptedKeysFile = "/tmp/keys"
	if err := c.validate(); err != nil {
		t.Fatalf("expected validation to pass once credential paths are set: %v", err)
	}
}

func TestValidateAllowsLiveTestnetWithoutCredentials(t *testing.T) {
	c := &Config{Live: true, UseTestnet: true}
	if err := c.validate(); err != nil {
		t.Fatalf("expected live+testnet to not require credential files: %v", err)
	}
}

func TestMustDecimalParsesValidInput(t *testing.T) {
	d := MustDecimal("0.125")
	if d.String() != "0.125" {
		t.Fatalf("unexpected parse result: %s", d)
	}
}

func TestMustDecimalPanicsOnInvalidInput(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected MustDecimal to panic on invalid input")
		}
	}()
	MustDecimal("not-a-number")
}
