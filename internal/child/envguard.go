package child

import (
	"os"
	"sync"
)

// envMu serializes every scoped environment override across the whole
// process. Only the critical section between AcquireEnv and Release
// is serialized; AcquireEnv takes the lock even when its override map
// is empty.
var envMu sync.Mutex

// EnvGuard is a scoped acquisition: it captures the prior value (or
// absence) of every overridden key at construction time and restores
// it exactly on Release, regardless of which exit path the guarded
// call took. This replaces the original's raw os.environ.update with
// no restoration — cooperative in-process execution of successive
// requests requires byte-identical environment recovery (P5).
type EnvGuard struct {
	prior map[string]*string
}

// AcquireEnv applies overrides to the process environment and returns
// a guard that will undo them on Release. It blocks until any other
// in-flight EnvGuard has released.
func AcquireEnv(overrides map[string]string) *EnvGuard {
	envMu.Lock()

	g := &EnvGuard{prior: make(map[string]*string, len(overrides))}
	for k, v := range overrides {
		if old, ok := os.LookupEnv(k); ok {
			oldCopy := old
			g.prior[k] = &oldCopy
		} else {
			g.prior[k] = nil
		}
		os.Setenv(k, v)
	}
	return g
}

// Release restores every overridden key to its prior value (or
// removes it, if it was previously unset) and unlocks the guard.
func (g *EnvGuard) Release() {
	for k, old := range g.prior {
		if old == nil {
			os.Unsetenv(k)
		} else {
			os.Setenv(k, *old)
		}
	}
	envMu.Unlock()
}
