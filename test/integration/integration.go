// Package integration is a helper for running integration tests.
package integration

import (
	"os"
	"testing"
)

// EnvDSN names the environment variable holding the connection string of the
// throwaway database the integration tests run against.
const EnvDSN = `APOLLO_TEST_DSN`

// Skip will skip the current test or benchmark unless a test database is
// configured.
//
// This should be used as an annotation at the top of the function, like
// (*testing.T).Parallel().
func Skip(t testing.TB) {
	t.Helper()
	if os.Getenv(EnvDSN) == "" {
		t.Skipf("skipping integration test: %s not set", EnvDSN)
	}
}

// DSN reports the configured test database, skipping the test when unset.
func DSN(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv(EnvDSN)
	if dsn == "" {
		t.Skipf("skipping integration test: %s not set", EnvDSN)
	}
	return dsn
}
