// Package testing puts the binaries into test mode when imported by a test
// package for its side effects.
package testing

import (
	"os"
	stdtesting "testing"
)

var defaults = map[string]string{
	"SMARTERP_TEST_MODE": "1",
	"JWT_SECRET":         "test-secret-0123456789abcdefghijklmn",
	"LOG_FORMAT":         "text",
}

func init() {
	for key, value := range defaults {
		if _, set := os.LookupEnv(key); !set || key == "SMARTERP_TEST_MODE" {
			_ = os.Setenv(key, value)
		}
	}
}

// TestMain runs the suite with the test-mode environment applied.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
