package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger with the application's flags that writes to
// stdout for the duration of the test.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "[vetchat-test] ", log.LstdFlags)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
