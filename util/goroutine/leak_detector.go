package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks records the goroutine count and, at test cleanup, fails the
// test if the count has not returned to that baseline within five seconds.
// Call it before starting the component under test.
func AssertNoLeaks(t *testing.T) {
	t.Helper()
	before := runtime.NumGoroutine()

	t.Cleanup(func() {
		if WaitForGoroutineCount(before, 5*time.Second, 50*time.Millisecond) {
			return
		}
		current := runtime.NumGoroutine()
		buf := make([]byte, 1<<20)
		n := runtime.Stack(buf, true)
		t.Errorf("goroutine leak: baseline %d, now %d\n%s", before, current, buf[:n])
	})
}

// WaitForGoroutineCount polls until at most target goroutines are running.
func WaitForGoroutineCount(target int, timeout, pollInterval time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= target {
			return true
		}
		time.Sleep(pollInterval)
	}
	return false
}
