package service

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies that the process/bgprocess/scripted service kinds, which
// each run a background monitor goroutine while a service is up, never leak
// one past the end of the test run.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
