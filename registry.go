package conjcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/unkn0wn-root/conjcache/internal/keys"
	"github.com/unkn0wn-root/conjcache/store"
)

// Registry tracks, per entity type, which schemes tag cache entries, and the
// version counter that changes whenever that set does. The store is
// authoritative; the registry mirrors it locally and reloads lazily.
//
// A local snapshot is only trusted for invalidation while its version equals
// the store's. The Invalidator checks that after every commit.
type Registry struct {
	st    store.Store
	log   Logger
	hooks Hooks

	mu      sync.Mutex
	entries map[string]*regEntry
}

type regEntry struct {
	mu      sync.Mutex
	loaded  bool
	schemes map[string]Scheme // serialized -> scheme
	version int64
}

// RegistryOptions are optional collaborators of a Registry.
type RegistryOptions struct {
	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks
}

func NewRegistry(st store.Store, opts RegistryOptions) (*Registry, error) {
	if st == nil {
		return nil, fmt.Errorf("conjcache: store is required")
	}
	return &Registry{
		st:      st,
		log:     coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:   coalesce[Hooks](opts.Hooks, NopHooks{}),
		entries: make(map[string]*regEntry),
	}, nil
}

// Schemes returns the known schemes of entityType, loading them from the store
// on first access. The empty scheme is always included. The result is sorted
// by serialized form and owned by the caller.
func (r *Registry) Schemes(ctx context.Context, entityType string) ([]Scheme, error) {
	schemes, _, err := r.view(ctx, entityType, false)
	return schemes, err
}

// Reload unconditionally refreshes entityType from the store.
func (r *Registry) Reload(ctx context.Context, entityType string) ([]Scheme, error) {
	schemes, _, err := r.view(ctx, entityType, true)
	return schemes, err
}

// view returns the schemes together with the local version they belong to,
// both read under the entry lock. A version read separately may already count
// schemes registered after the snapshot.
func (r *Registry) view(ctx context.Context, entityType string, reload bool) ([]Scheme, int64, error) {
	if entityType == "" {
		return nil, 0, ErrEmptyEntityType
	}
	e := r.entry(entityType)
	e.mu.Lock()
	defer e.mu.Unlock()
	if reload || !e.loaded {
		if err := r.load(ctx, entityType, e); err != nil {
			return nil, 0, err
		}
	}
	return e.snapshot(), e.version, nil
}

// Version returns the locally cached version, 0 if the type was never loaded.
func (r *Registry) Version(entityType string) int64 {
	e := r.lookup(entityType)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.version
}

// EnsureKnown registers schemes discovered by the caching layer. It is
// idempotent: schemes already known (locally, or in the store after a reload)
// cause no store write and no version bump.
func (r *Registry) EnsureKnown(ctx context.Context, entityType string, schemes ...Scheme) error {
	if entityType == "" {
		return ErrEmptyEntityType
	}
	if len(schemes) == 0 {
		return nil
	}
	e := r.entry(entityType)
	e.mu.Lock()
	defer e.mu.Unlock()

	loaded := false
	if !e.loaded {
		if err := r.load(ctx, entityType, e); err != nil {
			return err
		}
		loaded = true
	}
	delta := e.delta(schemes)
	if len(delta) == 0 {
		return nil
	}
	if !loaded {
		// another process may have registered them already
		if err := r.load(ctx, entityType, e); err != nil {
			return err
		}
		if delta = e.delta(schemes); len(delta) == 0 {
			return nil
		}
	}

	b := store.NewBatch()
	b.Incr(keys.Version(entityType))
	members := make([]string, 0, len(delta))
	for _, s := range delta {
		members = append(members, s.String())
	}
	b.SAdd(keys.Schemes(entityType), members...)
	if err := r.st.Exec(ctx, b); err != nil {
		return storeErr("EXEC", keys.Schemes(entityType), err)
	}

	for _, s := range delta {
		e.schemes[s.String()] = s
	}
	// Incremented locally rather than taken from the INCR reply: the local set
	// may already lag other writers, so "at least this stale" is all we know.
	e.version++

	r.hooks.SchemesRegistered(entityType, len(delta))
	r.log.Info("registered schemes", Fields{"entityType": entityType, "schemes": members, "localVersion": e.version})
	return nil
}

// Clear deletes the store-side scheme set of entityType and bumps its version
// so every process reloads on next use. Locally the schemes are dropped and the
// version bumped; other processes notice through the version check.
func (r *Registry) Clear(ctx context.Context, entityType string) error {
	if entityType == "" {
		return ErrEmptyEntityType
	}
	b := store.NewBatch()
	b.Del(keys.Schemes(entityType))
	b.Incr(keys.Version(entityType))
	if err := r.st.Exec(ctx, b); err != nil {
		return storeErr("EXEC", keys.Schemes(entityType), err)
	}
	if e := r.lookup(entityType); e != nil {
		e.mu.Lock()
		e.reset()
		e.mu.Unlock()
	}
	return nil
}

// ClearAll forgets every locally cached scheme set and bumps every local
// version. The store is not touched; pair it with a store flush.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		e.mu.Lock()
		e.reset()
		e.mu.Unlock()
	}
}

// EntityTypes lists the entity types this process has touched.
func (r *Registry) EntityTypes() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.entries))
	for et := range r.entries {
		out = append(out, et)
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *Registry) entry(entityType string) *regEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entityType]
	if !ok {
		e = &regEntry{}
		r.entries[entityType] = e
	}
	return e
}

func (r *Registry) lookup(entityType string) *regEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[entityType]
}

// load reads version and scheme set in one MULTI block. Must hold e.mu.
func (r *Registry) load(ctx context.Context, entityType string, e *regEntry) error {
	b := store.NewBatch()
	ver := b.Get(keys.Version(entityType))
	members := b.SMembers(keys.Schemes(entityType))
	if err := r.st.Exec(ctx, b); err != nil {
		return storeErr("EXEC", keys.Schemes(entityType), err)
	}
	v, err := parseVersion(ver)
	if err != nil {
		return fmt.Errorf("load schemes of %q: %w", entityType, err)
	}

	set := make(map[string]Scheme, len(members.Strings)+1)
	set[""] = Scheme{}
	for _, raw := range members.Strings {
		set[raw] = ParseScheme(raw)
	}
	e.schemes = set
	e.version = v
	e.loaded = true
	r.log.Debug("loaded schemes", Fields{"entityType": entityType, "count": len(set), "version": v})
	return nil
}

func parseVersion(res *store.Result) (int64, error) {
	if !res.Found || len(res.Bytes) == 0 {
		return 0, nil
	}
	v, err := strconv.ParseInt(string(res.Bytes), 10, 64)
	if err != nil {
		return 0, errors.Join(ErrCorruptVersion, err)
	}
	return v, nil
}

// delta returns the schemes not yet known, deduplicated. Must hold e.mu.
func (e *regEntry) delta(schemes []Scheme) []Scheme {
	var out []Scheme
	seen := make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		k := s.String()
		if _, ok := e.schemes[k]; ok {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, append(Scheme(nil), s...))
	}
	return out
}

func (e *regEntry) snapshot() []Scheme {
	ks := make([]string, 0, len(e.schemes))
	for k := range e.schemes {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([]Scheme, 0, len(ks))
	for _, k := range ks {
		out = append(out, append(Scheme{}, e.schemes[k]...))
	}
	return out
}

// reset forces a reload on next access while keeping the version monotonic.
func (e *regEntry) reset() {
	e.loaded = false
	e.schemes = nil
	e.version++
}
