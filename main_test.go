package dbpool

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain fails the run if any test leaks a background goroutine, most
// importantly the opener/pruner/retirer trio a *Pool starts in New and must
// fully retire in Close.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
