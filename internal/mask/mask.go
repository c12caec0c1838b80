// Package mask redacts credential-shaped substrings from text before it
// is written to logs or the event log, per spec.md §6.5. No masking
// library exists anywhere in the retrieved example pack, so this is
// built directly on regexp/stdlib — the one ambient concern in this
// module without a third-party grounding.
package mask

import (
	"regexp"
)

const Placeholder = "***REDACTED***"

var patterns = []*regexp.Regexp{
	// Anthropic/OpenAI-style API keys: sk-..., sk-ant-...
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{10,}\b`),
	// Generic bearer tokens
	regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._-]{10,}\b`),
	// GitHub-style PATs, classic and fine-grained
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{20,}\b`),
	// AWS access key IDs
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
	// GCP API keys
	regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`),
	// key=value / key: value secrets with a credential-shaped key name
	regexp.MustCompile(`(?i)\b(api[_-]?key|secret|token|password|passwd|access[_-]?key)\s*[:=]\s*['"]?[A-Za-z0-9/+_.=-]{6,}['"]?`),
	// DSNs / connection strings with embedded credentials (user:pass@host)
	regexp.MustCompile(`\b[A-Za-z][A-Za-z0-9+.-]*://[^\s:/@]+:[^\s:/@]+@[^\s]+`),
	// JWTs (three base64url segments)
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
	// PEM private key blocks
	regexp.MustCompile(`(?s)-----BEGIN[ A-Z]*PRIVATE KEY-----.*?-----END[ A-Z]*PRIVATE KEY-----`),
}

// Redact returns s with every credential-shaped substring replaced by
// Placeholder. It is conservative: patterns are chosen to minimize false
// negatives on real credential shapes at the cost of occasionally
// redacting look-alike text.
func Redact(s string) string {
	for _, p := range patterns {
		s = p.ReplaceAllString(s, Placeholder)
	}
	return s
}

// RedactBytes is the []byte-oriented equivalent of Redact, used on
// delegate stdout/stderr capture before it is persisted or logged.
func RedactBytes(b []byte) []byte {
	return []byte(Redact(string(b)))
}
