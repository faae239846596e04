package safety

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Env-based tests cannot run in parallel: t.Setenv mutates process state.

func TestCheckCleanEnvironment(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(cfg, []byte("api:\n  gammaBaseUrl: https://example.com\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The host environment is out of the test's control, so only the
	// config-sourced findings are asserted here.
	for _, f := range Check(cfg) {
		if f.Source == "config" {
			t.Errorf("clean config produced finding: %v", f)
		}
	}
}

func TestCheckRefusesCredentialEnvNames(t *testing.T) {
	for _, name := range []string{
		"POLY_PRIVATE_KEY",
		"WALLET_ADDRESS",
		"SIGNING_ENDPOINT",
		"ACCOUNT_MNEMONIC",
		"API_SECRET",
		"CLOB_PASSPHRASE",
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(name, "some-value")

			findings := Check("")
			found := false
			for _, f := range findings {
				if f.Source == "env" && strings.Contains(f.Name, name) {
					found = true
				}
			}
			if !found {
				t.Errorf("expected finding for %s, got %v", name, findings)
			}
		})
	}
}

func TestCheckRefusesHex64Value(t *testing.T) {
	t.Setenv("HARMLESS_NAME", "0x"+strings.Repeat("ab", 32))

	findings := Check("")
	found := false
	for _, f := range findings {
		if f.Source == "env" && strings.Contains(f.Name, "HARMLESS_NAME") {
			found = true
		}
	}
	if !found {
		t.Errorf("64-hex value should be flagged regardless of name, got %v", findings)
	}
}

func TestCheckRefusesConfigKeyAndValue(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")
	content := "api:\n  private_key: whatever\n  other: " + strings.Repeat("ab", 32) + "\n"
	if err := os.WriteFile(cfg, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	findings := Check(cfg)
	var keyHit, valueHit bool
	for _, f := range findings {
		if f.Source != "config" {
			continue
		}
		if strings.Contains(f.Name, "private_key") {
			keyHit = true
		}
		if strings.Contains(f.Reason, "64-hex") {
			valueHit = true
		}
	}
	if !keyHit {
		t.Errorf("config key not flagged: %v", findings)
	}
	if !valueHit {
		t.Errorf("config hex value not flagged: %v", findings)
	}
}

func TestCheckMissingConfigIsNotAFinding(t *testing.T) {
	for _, f := range Check("/nonexistent/config.yaml") {
		if f.Source == "config" {
			t.Errorf("missing config file should not produce config findings: %v", f)
		}
	}
}

func TestFindingNeverEchoesValue(t *testing.T) {
	secretValue := "0x" + strings.Repeat("cd", 32)
	t.Setenv("SOME_VAR", secretValue)

	for _, f := range Check("") {
		if strings.Contains(f.String(), secretValue) || strings.Contains(f.String(), strings.Repeat("cd", 32)) {
			t.Errorf("finding echoes the value: %s", f)
		}
	}
}
