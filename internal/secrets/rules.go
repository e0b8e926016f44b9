package secrets

// DefaultRules covers credentials with a recognizable shape: vendor key
// prefixes, private key headers, JWTs, URLs with embedded passwords and
// key=value assignments with a secret-sounding name.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "aws-access-key-id", Pattern: `\b(?:A3T[A-Z0-9]|AKIA|ASIA|AGPA|AIDA|AROA)[A-Z0-9]{16}\b`},
		{ID: "github-token", Pattern: `\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}\b|\bgithub_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `\bglpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `\bxox[baprs]-[A-Za-z0-9\-]{10,}`},
		{ID: "stripe-key", Pattern: `\b(?:sk|pk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`},
		{ID: "anthropic-api-key", Pattern: `\bsk-ant-[A-Za-z0-9_\-]{32,}`},
		{ID: "openai-api-key", Pattern: `\bsk-(?:proj-)?[A-Za-z0-9_\-]{40,}`},
		{ID: "google-api-key", Pattern: `\bAIza[A-Za-z0-9_\-]{35}`},
		{ID: "npm-token", Pattern: `\bnpm_[A-Za-z0-9]{36}\b`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`},
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`},
		{
			ID:       "url-credentials",
			Pattern:  `(?i)\b[a-z][a-z0-9+.\-]*://[^/\s:@]+:[^/\s@]+@[^\s]+`,
			Keywords: []string{"://"},
		},
		{
			ID:       "bearer-token",
			Pattern:  `(?i)\bbearer\s+[A-Za-z0-9_\-.=]{20,}`,
			Keywords: []string{"bearer"},
		},
		{
			ID:       "assigned-secret",
			Pattern:  `(?i)\b(?:api[_-]?key|secret|password|passwd|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`,
			Keywords: []string{"key", "secret", "pass", "token"},
		},
	}
}
