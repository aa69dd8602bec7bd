package child

import (
	"os"
	"sync"
	"testing"
)

func TestEnvGuard_RestoresPriorValue(t *testing.T) {
	const key = "APERTURE_TEST_ENVGUARD_PRIOR"
	if err := os.Setenv(key, "original"); err != nil {
		t.Fatalf("Setenv: %v", err)
	}
	defer os.Unsetenv(key)

	g := AcquireEnv(map[string]string{key: "overridden"})
	if got := os.Getenv(key); got != "overridden" {
		t.Fatalf("during guard = %q, want overridden", got)
	}
	g.Release()

	if got := os.Getenv(key); got != "original" {
		t.Fatalf("after release = %q, want original", got)
	}
}

func TestEnvGuard_RestoresAbsence(t *testing.T) {
	const key = "APERTURE_TEST_ENVGUARD_ABSENT"
	os.Unsetenv(key)

	g := AcquireEnv(map[string]string{key: "temp"})
	if _, ok := os.LookupEnv(key); !ok {
		t.Fatal("key not set during guard")
	}
	g.Release()

	if _, ok := os.LookupEnv(key); ok {
		t.Fatal("key should be unset again after Release, matching its pre-guard absence")
	}
}

func TestEnvGuard_SerializesConcurrentScopes(t *testing.T) {
	const key = "APERTURE_TEST_ENVGUARD_SERIAL"
	os.Setenv(key, "base")
	defer os.Unsetenv(key)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			g := AcquireEnv(map[string]string{key: "v"})
			_ = os.Getenv(key)
			g.Release()
		}(i)
	}
	wg.Wait()

	if got := os.Getenv(key); got != "base" {
		t.Fatalf("final value = %q, want base restored byte-identically", got)
	}
}
