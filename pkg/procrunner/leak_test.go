package process

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies the exit-wait goroutines started by this package's
// launchers are always cleaned up.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
