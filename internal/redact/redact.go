// Package redact scrubs secret-bearing substrings out of arbitrary text
// before it leaves the gateway's HTTP boundary. Nothing here ever touches
// the raw audit logs written to turns/NNNN/{stdout,stderr}.log — those
// keep the original bytes on disk.
//
// The scan runs in three passes, each left-to-right and non-overlapping:
// block-level (PEM/cert blocks), token-level (ordered, most-specific
// first), then key/value-level (JSON and env-style assignments). Order
// matters across and within passes: sk-ant-... must be caught before the
// generic sk-... pattern, and the KV pass must not re-redact a span the
// token pass already replaced.
package redact

import (
	"regexp"
	"strings"
)

var blockPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----.*?-----END [A-Z0-9 ]*PRIVATE KEY-----`),
}

const redactedPrivateKeyBlock = "<REDACTED_PRIVATE_KEY_BLOCK>"

var certPattern = regexp.MustCompile(`(?s)-----BEGIN CERTIFICATE-----.*?-----END CERTIFICATE-----`)

const redactedCertBlock = "<REDACTED_CERT_BLOCK>"

// tokenRule is applied in order; the first rule whose pattern matches a
// given locus wins, same shape as the corpus's ordered ExtractionPattern
// lists (see tim-coutinho-agentops/cli/internal/parser/extractor.go) but
// here the order encodes specificity rather than extraction priority.
type tokenRule struct {
	pattern *regexp.Regexp
	replace func(match string) string
}

var tokenRules = []tokenRule{
	{
		// JWT: three base64url segments, leading eyJ. Must run before the
		// generic Bearer rule so a JWT inside an Authorization header is
		// reported as a JWT, not a bearer token.
		pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		replace: func(string) string { return "<REDACTED_JWT>" },
	},
	{
		pattern: regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_-]{10,}\b`),
		replace: func(string) string { return "sk-ant-***REDACTED***" },
	},
	{
		pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
		replace: func(string) string { return "sk-***REDACTED***" },
	},
	{
		pattern: regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`),
		replace: func(string) string { return "github_pat_***REDACTED***" },
	},
	{
		pattern: regexp.MustCompile(`\bgh[posru]_[A-Za-z0-9]{20,}\b`),
		replace: func(m string) string { return m[:4] + "***REDACTED***" },
	},
	{
		pattern: regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
		replace: func(m string) string { return m[:5] + "***REDACTED***" },
	},
	{
		pattern: regexp.MustCompile(`\b(A[SK]IA[0-9A-Z]{16})\b`),
		replace: func(m string) string { return m[:4] + "***REDACTED***" },
	},
	{
		pattern: regexp.MustCompile(`\bBearer [A-Za-z0-9_\-.=]{20,}\b`),
		replace: func(string) string { return "Bearer <REDACTED>" },
	},
}

var jsonKVPattern = regexp.MustCompile(`(?i)"(private_key|client_secret|secret_key|api_key|access_token|refresh_token)"\s*:\s*"([^"]*)"`)

var envKVPattern = regexp.MustCompile(`(?i)\b([A-Z_]*(?:PASSWORD|PASSWD|SECRET|TOKEN|API_KEY|ACCESS_KEY|PRIVATE_KEY)[A-Z_]*)=(\S{6,})`)

// Redact replaces every secret-bearing substring of text with a fixed
// opaque marker, leaving surrounding bytes untouched. It is idempotent:
// Redact(Redact(x)) == Redact(x).
func Redact(text string) string {
	for _, p := range blockPatterns {
		text = p.ReplaceAllString(text, redactedPrivateKeyBlock)
	}
	text = certPattern.ReplaceAllString(text, redactedCertBlock)

	for _, rule := range tokenRules {
		text = rule.pattern.ReplaceAllStringFunc(text, rule.replace)
	}

	text = jsonKVPattern.ReplaceAllStringFunc(text, func(m string) string {
		if strings.Contains(m, "REDACTED") {
			return m
		}
		return jsonKVPattern.ReplaceAllString(m, `"$1":"<REDACTED>"`)
	})
	text = envKVPattern.ReplaceAllStringFunc(text, func(m string) string {
		if strings.Contains(m, "REDACTED") {
			return m
		}
		eq := strings.IndexByte(m, '=')
		if eq < 0 {
			return m
		}
		return m[:eq] + "=<REDACTED>"
	})

	return text
}
