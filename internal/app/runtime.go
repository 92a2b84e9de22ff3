package app

import (
	"os"
	"sync/atomic"
)

// TestModeEnv disables infrastructure side effects of the binaries when set to "1".
const TestModeEnv = "SMARTERP_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether SMARTERP_TEST_MODE is enabled. The environment is
// read on first use and cached until RefreshTestMode.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the environment and returns the new value.
func RefreshTestMode() bool {
	on := os.Getenv(TestModeEnv) == "1"
	testMode.Store(&on)
	return on
}
