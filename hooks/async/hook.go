// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{ConflictEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	inv, _ := conjcache.New(conjcache.Options{Store: st, Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/conjcache"
)

// Hooks forwards events to inner on worker goroutines. When the queue is
// full, events are dropped and counted.
type Hooks struct {
	inner   conjcache.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ conjcache.Hooks = (*Hooks)(nil)

func New(inner conjcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains the queue and stops the workers. Events sent after Close are
// dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		if recover() != nil { // send on closed queue
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) TxConflict(et string, attempt int) { h.try(func() { h.inner.TxConflict(et, attempt) }) }
func (h *Hooks) SchemesStale(et string, local, remote int64) {
	h.try(func() { h.inner.SchemesStale(et, local, remote) })
}
func (h *Hooks) SchemesRegistered(et string, n int) {
	h.try(func() { h.inner.SchemesRegistered(et, n) })
}
func (h *Hooks) RetryBudgetExceeded(et string, n int) {
	h.try(func() { h.inner.RetryBudgetExceeded(et, n) })
}
func (h *Hooks) EntityTypeWiped(et string, conjs, keys int) {
	h.try(func() { h.inner.EntityTypeWiped(et, conjs, keys) })
}
func (h *Hooks) StoreFlushed()             { h.try(h.inner.StoreFlushed) }
func (h *Hooks) SelfHeal(k, reason string) { h.try(func() { h.inner.SelfHeal(k, reason) }) }
