package runner

import (
	"strings"
	"testing"
)

func TestSanitizeEnvStripsSecrets(t *testing.T) {
	input := []string{
		"HOME=/home/ci",
		"PATH=/usr/bin",
		"QAFORGE_AGENT_TOKEN=abc",
		"AWS_SECRET_ACCESS_KEY=wJalrXUtnFEMI",
		"AWS_SESSION_TOKEN=FwoGZX",
		"GITHUB_TOKEN=ghp_abc123",
		"CI_JOB_TOKEN=glcbt-123",
		"VAULT_TOKEN=hvs.abc",
		"API_KEY=generic-key",
		"QAV_PASSWORD=s3cret",
	}

	result := sanitizeEnv(input)

	if len(result) != 2 {
		t.Errorf("expected 2 safe vars, got %d: %v", len(result), result)
	}
	for _, entry := range result {
		name, _, _ := strings.Cut(entry, "=")
		if name != "HOME" && name != "PATH" {
			t.Errorf("unexpected env var survived: %s", name)
		}
	}
}

func TestSanitizeEnvPreservesToolEnv(t *testing.T) {
	input := []string{
		"HOME=/home/ci",
		"PATH=/usr/bin:/opt/qaf/common/bin",
		"LANG=en_US.UTF-8",
		"PRQA_HOME=/opt/qaf",
		"BUILD_NUMBER=42",
	}

	result := sanitizeEnv(input)

	if len(result) != len(input) {
		t.Errorf("expected %d vars, got %d", len(input), len(result))
	}
}

func TestSanitizeEnvCaseInsensitive(t *testing.T) {
	result := sanitizeEnv([]string{"github_token=lower", "Qav_Password=mixed"})
	if len(result) != 0 {
		t.Errorf("expected 0 vars (case-insensitive strip), got %d: %v", len(result), result)
	}
}

func TestSanitizeEnvMalformedEntry(t *testing.T) {
	result := sanitizeEnv([]string{"HOME=/home/ci", "NO_EQUALS_SIGN", "PATH=/usr/bin"})

	// entries without '=' are preserved
	if len(result) != 3 {
		t.Errorf("expected 3 vars, got %d: %v", len(result), result)
	}
}
