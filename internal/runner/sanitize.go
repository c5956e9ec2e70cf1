package runner

import (
	"os"
	"strings"
)

// sensitiveEnvPrefixes are env var name prefixes stripped from the product's
// environment. qacli receives QA Verify credentials as arguments.
var sensitiveEnvPrefixes = []string{
	"QAFORGE_",
	"AWS_SECRET",
	"AWS_SESSION",
	"GITHUB_TOKEN",
	"GITLAB_TOKEN",
	"CI_JOB_TOKEN",
	"JENKINS_API",
	"VAULT_TOKEN",
}

// sensitiveEnvExact are env var names stripped by exact match.
var sensitiveEnvExact = []string{
	"API_KEY",
	"API_SECRET",
	"SECRET_KEY",
	"QAV_PASSWORD",
}

// SanitizedEnv returns os.Environ() with sensitive variables removed.
func SanitizedEnv() []string {
	return sanitizeEnv(os.Environ())
}

func sanitizeEnv(environ []string) []string {
	clean := make([]string, 0, len(environ))
	for _, entry := range environ {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			clean = append(clean, entry)
			continue
		}
		if !sensitive(strings.ToUpper(name)) {
			clean = append(clean, entry)
		}
	}
	return clean
}

func sensitive(upper string) bool {
	for _, prefix := range sensitiveEnvPrefixes {
		if strings.HasPrefix(upper, prefix) {
			return true
		}
	}
	for _, exact := range sensitiveEnvExact {
		if upper == exact {
			return true
		}
	}
	return false
}
