// Package testutil holds helpers for tests that talk to external services.
package testutil

import (
	"os"
	"strings"
	"testing"
)

// RequireIntegration skips the test in short mode.
func RequireIntegration(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
}

// RequireEnv skips the test unless the named variable is set and returns its
// trimmed value. It implies RequireIntegration.
func RequireEnv(t *testing.T, key string) string {
	t.Helper()
	RequireIntegration(t)
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		t.Skipf("%s not set, skipping integration test", key)
	}
	return value
}
