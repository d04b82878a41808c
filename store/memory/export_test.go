package memory

import "testing"

// setBeforeCommit installs fn between the watch snapshot and the re-check of
// RunOptimistic for the duration of the test.
func setBeforeCommit(t *testing.T, fn func()) {
	t.Helper()
	prev := testHookBeforeCommit
	testHookBeforeCommit = fn
	t.Cleanup(func() { testHookBeforeCommit = prev })
}

func (s *Store) revCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.revs)
}
