// Package safety guards the read-only mandate: the scanner must never hold
// material that could sign or place a real order. The preflight runs before
// any network client is constructed; a single hit aborts the process.
package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// credentialNames are substrings of env var or config key names that imply
// signing capability.
var credentialNames = []string{
	"PRIVATE_KEY",
	"WALLET",
	"SIGN",
	"MNEMONIC",
	"SECRET",
	"PASSPHRASE",
}

// hex64Re matches a 64-hex-character string (optionally 0x-prefixed), the
// shape of a raw EVM private key.
var hex64Re = regexp.MustCompile(`(?i)\b(0x)?[0-9a-f]{64}\b`)

// Finding describes one credential-like item the preflight refused.
type Finding struct {
	Source string // "env" or "config"
	Name   string // variable or key name, values are never echoed
	Reason string
}

func (f Finding) String() string {
	return fmt.Sprintf("%s: %s (%s)", f.Source, f.Name, f.Reason)
}

// Check scans the process environment and the raw config file for
// credential-like material. It returns every finding so the operator can
// clean up in one pass; any non-empty result means refuse to start.
func Check(configPath string) []Finding {
	var findings []Finding

	for _, kv := range os.Environ() {
		name, value, _ := strings.Cut(kv, "=")
		upper := strings.ToUpper(name)
		for _, cred := range credentialNames {
			if strings.Contains(upper, cred) {
				findings = append(findings, Finding{
					Source: "env",
					Name:   name,
					Reason: "name matches credential pattern " + cred,
				})
				break
			}
		}
		if hex64Re.MatchString(value) {
			findings = append(findings, Finding{
				Source: "env",
				Name:   name,
				Reason: "value looks like a 64-hex private key",
			})
		}
	}

	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			findings = append(findings, scanConfig(string(data))...)
		}
	}

	return findings
}

// scanConfig checks config text line by line so findings can name the
// offending key without echoing its value.
func scanConfig(text string) []Finding {
	var findings []Finding
	for i, line := range strings.Split(text, "\n") {
		key := line
		if k, _, found := strings.Cut(line, ":"); found {
			key = k
		}
		key = strings.TrimSpace(key)

		upper := strings.ToUpper(key)
		for _, cred := range credentialNames {
			if strings.Contains(upper, cred) {
				findings = append(findings, Finding{
					Source: "config",
					Name:   fmt.Sprintf("%s (line %d)", key, i+1),
					Reason: "key matches credential pattern " + cred,
				})
				break
			}
		}
		if hex64Re.MatchString(line) {
			findings = append(findings, Finding{
				Source: "config",
				Name:   fmt.Sprintf("line %d", i+1),
				Reason: "value looks like a 64-hex private key",
			})
		}
	}
	return findings
}
