package conjcache

import (
	"context"
	"sync"
	"testing"

	"github.com/unkn0wn-root/conjcache/internal/keys"
	"github.com/unkn0wn-root/conjcache/store"
	"github.com/unkn0wn-root/conjcache/store/memory"
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New(0)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func newTestInvalidator(t *testing.T, st store.Store, optsOpt func(*Options)) Invalidator {
	t.Helper()
	opts := Options{Store: st}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	inv, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return inv
}

func mustImpl(t *testing.T, inv Invalidator) *invalidator {
	t.Helper()
	impl, ok := inv.(*invalidator)
	if !ok {
		t.Fatalf("unexpected concrete type for Invalidator")
	}
	return impl
}

// tag stores each cache key as a plain value and adds it to the conj-set,
// the way a caching layer would.
func tag(t *testing.T, st store.Store, conjKey string, cacheKeys ...string) {
	t.Helper()
	ctx := context.Background()
	for _, k := range cacheKeys {
		if err := st.Set(ctx, k, []byte("result:"+k), 0); err != nil {
			t.Fatalf("Set %s: %v", k, err)
		}
	}
	if err := st.SAdd(ctx, conjKey, cacheKeys...); err != nil {
		t.Fatalf("SAdd %s: %v", conjKey, err)
	}
}

func exists(t *testing.T, st store.Store, key string) bool {
	t.Helper()
	_, ok, err := st.Get(context.Background(), key)
	if err != nil {
		// sets answer GET with WRONGTYPE; look them up as sets instead
		m, serr := st.SMembers(context.Background(), key)
		if serr != nil {
			t.Fatalf("exists %s: %v / %v", key, err, serr)
		}
		return len(m) > 0
	}
	return ok
}

func storeVersion(t *testing.T, st store.Store, entityType string) int64 {
	t.Helper()
	b := store.NewBatch()
	res := b.Get(keys.Version(entityType))
	if err := st.Exec(context.Background(), b); err != nil {
		t.Fatalf("read version: %v", err)
	}
	v, err := parseVersion(res)
	if err != nil {
		t.Fatalf("parse version: %v", err)
	}
	return v
}

// scriptedStore wraps a store and lets tests interfere with RunOptimistic.
type scriptedStore struct {
	store.Store

	mu    sync.Mutex
	calls int
	// before is run ahead of each RunOptimistic with the 1-based call number.
	// Returning ok=false reports a watch conflict without touching the store.
	before func(call int, watch []string) (ok bool, err error)
}

func (s *scriptedStore) RunOptimistic(ctx context.Context, watch []string, b *store.Batch) (bool, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	if s.before != nil {
		ok, err := s.before(call, watch)
		if err != nil || !ok {
			b.Reset()
			return false, err
		}
	}
	return s.Store.RunOptimistic(ctx, watch, b)
}

func (s *scriptedStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type countingHooks struct {
	NopHooks
	mu        sync.Mutex
	conflicts int
	stale     int
	exceeded  int
	wiped     int
	flushed   int
	selfHeals []string
}

func (h *countingHooks) TxConflict(string, int) { h.mu.Lock(); h.conflicts++; h.mu.Unlock() }
func (h *countingHooks) SchemesStale(string, int64, int64) {
	h.mu.Lock()
	h.stale++
	h.mu.Unlock()
}
func (h *countingHooks) RetryBudgetExceeded(string, int) { h.mu.Lock(); h.exceeded++; h.mu.Unlock() }
func (h *countingHooks) EntityTypeWiped(string, int, int) {
	h.mu.Lock()
	h.wiped++
	h.mu.Unlock()
}
func (h *countingHooks) StoreFlushed() { h.mu.Lock(); h.flushed++; h.mu.Unlock() }
func (h *countingHooks) SelfHeal(_, reason string) {
	h.mu.Lock()
	h.selfHeals = append(h.selfHeals, reason)
	h.mu.Unlock()
}
