package fdsan

import "testing"

func TestGetOpenMaxHasFloor(t *testing.T) {
	// Sanitize/MarkCloseOnExec aren't exercised here: they mutate the
	// calling process's entire descriptor table, which would tear down
	// file descriptors the test binary itself depends on (coverage
	// output, temp files). getOpenMax's floor behavior is what's worth
	// pinning down in isolation.
	if got := getOpenMax(); got < 1024 {
		t.Errorf("getOpenMax() = %d, want at least 1024", got)
	}
}
