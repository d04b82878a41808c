// Package memory is an in-process store.Store. It emulates the subset of
// Redis semantics conjcache relies on, including WATCH conflicts, and is meant
// for tests and single-process deployments.
package memory

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/unkn0wn-root/conjcache/store"
)

var (
	ErrWrongType  = errors.New("memory store: WRONGTYPE operation against a key holding the wrong kind of value")
	ErrNotInteger = errors.New("memory store: value is not an integer")
	ErrClosed     = errors.New("memory store: closed")
)

type entry struct {
	str []byte
	set map[string]struct{} // non-nil => set value
	exp time.Time           // zero => no TTL; strings only
}

// Store keeps everything in one map behind a single mutex.
// Optional sweep loop to drop expired strings eagerly.
type Store struct {
	mu   sync.RWMutex
	data map[string]*entry
	// revs holds the clock of the last write for live keys, and a tombstone
	// for deleted keys only while someone watches them.
	revs     map[string]uint64
	watching map[string]int
	clock    uint64
	epoch    uint64 // bumped on FlushAll
	closed   bool

	ticker    *time.Ticker
	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	now func() time.Time
}

// testHookBeforeCommit runs between the watch snapshot and the re-check.
var testHookBeforeCommit = func() {}

var _ store.Store = (*Store)(nil)

// New creates an empty store. sweepInterval > 0 starts a background loop
// removing expired strings; expiry is also enforced lazily on access.
func New(sweepInterval time.Duration) *Store {
	s := &Store{
		data:     make(map[string]*entry),
		revs:     make(map[string]uint64),
		watching: make(map[string]int),
		now:      time.Now,
	}
	if sweepInterval > 0 {
		s.ticker = time.NewTicker(sweepInterval)
		s.stopCh = make(chan struct{})
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for {
				select {
				case <-s.ticker.C:
					s.Sweep()
				case <-s.stopCh:
					return
				}
			}
		}()
	}
	return s
}

// Sweep removes expired strings and returns how many were dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for k, e := range s.data {
		if !e.exp.IsZero() && !now.Before(e.exp) {
			s.remove(k)
			removed++
		}
	}
	return removed
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, ErrClosed
	}
	var r store.Result
	err := s.apply(&store.Op{Kind: store.OpGet, Key: key}, &r)
	return r.Bytes, r.Found, err
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.single(ctx, &store.Op{Kind: store.OpSet, Key: key, Value: value, TTL: ttl}, nil)
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var r store.Result
	err := s.single(ctx, &store.Op{Kind: store.OpIncr, Key: key}, &r)
	return r.Int, err
}

func (s *Store) SAdd(ctx context.Context, key string, members ...string) error {
	return s.single(ctx, &store.Op{Kind: store.OpSAdd, Key: key, Members: members}, nil)
}

func (s *Store) SMembers(ctx context.Context, key string) ([]string, error) {
	var r store.Result
	err := s.single(ctx, &store.Op{Kind: store.OpSMembers, Key: key}, &r)
	return r.Strings, err
}

func (s *Store) SUnion(ctx context.Context, keys ...string) ([]string, error) {
	var r store.Result
	err := s.single(ctx, &store.Op{Kind: store.OpSUnion, Keys: keys}, &r)
	return r.Strings, err
}

func (s *Store) Del(ctx context.Context, keys ...string) (int64, error) {
	var r store.Result
	err := s.single(ctx, &store.Op{Kind: store.OpDel, Keys: keys}, &r)
	return r.Int, err
}

func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	now := s.now()
	var out []string
	for k, e := range s.data {
		if e.expired(now) {
			continue
		}
		if Match(pattern, k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) FlushAll(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.data = make(map[string]*entry)
	s.revs = make(map[string]uint64)
	s.epoch++
	return nil
}

func (s *Store) Exec(ctx context.Context, b *store.Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.Reset()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.applyBatch(b)
}

// RunOptimistic snapshots the revisions of the watched keys, then re-checks
// them right before applying the batch. Writers that slip in between (from
// other goroutines) abort the batch exactly like a Redis WATCH would.
func (s *Store) RunOptimistic(ctx context.Context, watch []string, b *store.Batch) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	b.Reset()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, ErrClosed
	}
	epoch := s.epoch
	seen := make([]uint64, len(watch))
	for i, k := range watch {
		s.watching[k]++
		seen[i] = s.revs[k]
	}
	s.mu.Unlock()

	testHookBeforeCommit()

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.unwatch(watch)
	if s.closed {
		return false, ErrClosed
	}
	if s.epoch != epoch {
		return false, nil
	}
	for i, k := range watch {
		if s.revs[k] != seen[i] {
			return false, nil
		}
	}
	return true, s.applyBatch(b)
}

// unwatch drops watch counts and the tombstones nobody needs anymore.
// Must hold s.mu.
func (s *Store) unwatch(watch []string) {
	for _, k := range watch {
		if s.watching[k]--; s.watching[k] > 0 {
			continue
		}
		delete(s.watching, k)
		if _, live := s.data[k]; !live {
			delete(s.revs, k)
		}
	}
}

func (s *Store) Close(_ context.Context) error {
	s.closeOnce.Do(func() {
		if s.stopCh != nil {
			close(s.stopCh)
			if s.ticker != nil {
				s.ticker.Stop()
			}
			s.wg.Wait()
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
	})
	return nil
}

func (s *Store) single(ctx context.Context, op *store.Op, r *store.Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil {
		r = new(store.Result)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.apply(op, r)
}

// applyBatch runs ops in order and stops at the first failing one.
// Must hold s.mu.
func (s *Store) applyBatch(b *store.Batch) error {
	for _, op := range b.Ops() {
		if err := s.apply(op, op.Result()); err != nil {
			return err
		}
	}
	return nil
}

// apply executes one op. Must hold s.mu.
func (s *Store) apply(op *store.Op, r *store.Result) error {
	now := s.now()
	switch op.Kind {
	case store.OpGet:
		e := s.lookup(op.Key, now)
		if e == nil {
			return nil
		}
		if e.set != nil {
			return ErrWrongType
		}
		r.Bytes = append([]byte(nil), e.str...)
		r.Found = true

	case store.OpSet:
		e := &entry{str: append([]byte(nil), op.Value...)}
		if op.TTL > 0 {
			e.exp = now.Add(op.TTL)
		}
		s.data[op.Key] = e
		s.touch(op.Key)

	case store.OpIncr:
		var n int64
		if e := s.lookup(op.Key, now); e != nil {
			if e.set != nil {
				return ErrWrongType
			}
			v, err := strconv.ParseInt(string(e.str), 10, 64)
			if err != nil {
				return ErrNotInteger
			}
			n = v
		}
		n++
		prev := s.data[op.Key]
		e := &entry{str: []byte(strconv.FormatInt(n, 10))}
		if prev != nil {
			e.exp = prev.exp // INCR keeps the TTL
		}
		s.data[op.Key] = e
		s.touch(op.Key)
		r.Int = n

	case store.OpSAdd:
		if len(op.Members) == 0 {
			return nil
		}
		e := s.lookup(op.Key, now)
		if e == nil {
			e = &entry{set: make(map[string]struct{}, len(op.Members))}
			s.data[op.Key] = e
		} else if e.set == nil {
			return ErrWrongType
		}
		var added int64
		for _, m := range op.Members {
			if _, ok := e.set[m]; !ok {
				e.set[m] = struct{}{}
				added++
			}
		}
		s.touch(op.Key)
		r.Int = added

	case store.OpSMembers:
		e := s.lookup(op.Key, now)
		if e == nil {
			r.Strings = []string{}
			return nil
		}
		if e.set == nil {
			return ErrWrongType
		}
		r.Strings = members(e.set)

	case store.OpSUnion:
		u := make(map[string]struct{})
		for _, k := range op.Keys {
			e := s.lookup(k, now)
			if e == nil {
				continue
			}
			if e.set == nil {
				return ErrWrongType
			}
			for m := range e.set {
				u[m] = struct{}{}
			}
		}
		r.Strings = members(u)

	case store.OpDel:
		var n int64
		for _, k := range op.Keys {
			if s.lookup(k, now) != nil {
				s.remove(k)
				n++
			}
		}
		r.Int = n
	}
	return nil
}

// lookup returns a live entry, dropping it if expired. Must hold s.mu.
func (s *Store) lookup(key string, now time.Time) *entry {
	e, ok := s.data[key]
	if !ok {
		return nil
	}
	if e.expired(now) {
		s.remove(key)
		return nil
	}
	return e
}

func (s *Store) remove(key string) {
	delete(s.data, key)
	if s.watching[key] > 0 {
		s.touch(key)
		return
	}
	delete(s.revs, key)
}

func (s *Store) touch(key string) {
	s.clock++
	s.revs[key] = s.clock
}

func (e *entry) expired(now time.Time) bool {
	return !e.exp.IsZero() && !now.Before(e.exp)
}

func members(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for m := range set {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
