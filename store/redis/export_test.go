package redis

import "testing"

// setBeforeExec installs fn between WATCH and MULTI/EXEC of RunOptimistic for
// the duration of the test.
func setBeforeExec(t *testing.T, fn func()) {
	t.Helper()
	prev := testHookBeforeExec
	testHookBeforeExec = fn
	t.Cleanup(func() { testHookBeforeExec = prev })
}
