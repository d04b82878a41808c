package conjcache

import (
	"context"
	"fmt"
	"sort"
	"time"

	c "github.com/unkn0wn-root/conjcache/codec"
	"github.com/unkn0wn-root/conjcache/internal/wire"
	"github.com/unkn0wn-root/conjcache/store"
)

// Dependency ties a cached result to one conjunction: it must be dropped when
// any object of EntityType matching every field=value in Conj changes.
// An empty Conj depends on every object of the type.
type Dependency struct {
	EntityType string
	Conj       map[string]any
}

// CacheOptions configure a ResultCache. Store, Registry and Codec are required.
type CacheOptions[V any] struct {
	Store    store.Store
	Registry *Registry
	Codec    c.Codec[V]

	Logger     Logger        // nil => NopLogger
	Hooks      Hooks         // nil => NopHooks
	DefaultTTL time.Duration // 0 => 30m
	Disabled   bool
}

// ResultCache is the writing side of the protocol: it stores result blobs and
// tags their keys into conj-sets so an Invalidator can find them.
type ResultCache[V any] struct {
	st         store.Store
	reg        *Registry
	codec      c.Codec[V]
	log        Logger
	hooks      Hooks
	defaultTTL time.Duration
	enabled    bool
}

func NewResultCache[V any](opts CacheOptions[V]) (*ResultCache[V], error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("conjcache: store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("conjcache: registry is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("conjcache: codec is required")
	}
	return &ResultCache[V]{
		st:         opts.Store,
		reg:        opts.Registry,
		codec:      opts.Codec,
		log:        coalesce[Logger](opts.Logger, NopLogger{}),
		hooks:      coalesce[Hooks](opts.Hooks, NopHooks{}),
		defaultTTL: coalesce(opts.DefaultTTL, 30*time.Minute),
		enabled:    !opts.Disabled,
	}, nil
}

func (rc *ResultCache[V]) Enabled() bool { return rc.enabled }

// Get returns a cached result. Entries that fail to decode are deleted and
// reported as a miss.
func (rc *ResultCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	if !rc.enabled {
		return zero, false, nil
	}
	raw, ok, err := rc.st.Get(ctx, key)
	if err != nil {
		return zero, false, storeErr("GET", key, err)
	}
	if !ok {
		return zero, false, nil
	}
	payload, err := wire.DecodeEntry(raw)
	if err != nil {
		rc.selfHeal(ctx, key, "corrupt")
		return zero, false, nil
	}
	v, err := rc.codec.Decode(payload)
	if err != nil {
		rc.selfHeal(ctx, key, "value_decode")
		return zero, false, nil
	}
	return v, true, nil
}

// Set stores value under key and tags key into the conj-set of every
// dependency. The conjunction's scheme is its sorted field list, registered
// with the Registry first so invalidators build the same key.
//
// A Set racing an invalidation of the same conjunction either lands before the
// invalidation's read (and is removed) or after its commit (and survives).
// Callers that computed value from data read before the write must not cache
// it; that is outside what the store can order.
func (rc *ResultCache[V]) Set(ctx context.Context, key string, value V, ttl time.Duration, deps ...Dependency) error {
	if !rc.enabled {
		return nil
	}
	if ttl == 0 {
		ttl = rc.defaultTTL
	}

	byType := make(map[string][]Scheme)
	conjKeys := make([]string, 0, len(deps))
	for _, d := range deps {
		if d.EntityType == "" {
			return ErrEmptyEntityType
		}
		byType[d.EntityType] = append(byType[d.EntityType], SchemeOf(d.Conj))
		conjKeys = append(conjKeys, ConjKey(d.EntityType, d.Conj))
	}
	types := make([]string, 0, len(byType))
	for et := range byType {
		types = append(types, et)
	}
	sort.Strings(types)
	for _, et := range types {
		if err := rc.reg.EnsureKnown(ctx, et, byType[et]...); err != nil {
			return err
		}
	}

	payload, err := rc.codec.Encode(value)
	if err != nil {
		return err
	}
	b := store.NewBatch()
	b.Set(key, wire.EncodeEntry(payload), ttl)
	for _, ck := range conjKeys {
		b.SAdd(ck, key)
	}
	if err := rc.st.Exec(ctx, b); err != nil {
		return storeErr("EXEC", key, err)
	}
	rc.log.Debug("cached result", Fields{"key": key, "conjs": len(conjKeys)})
	return nil
}

// Delete drops one cached result. Its key may linger in conj-sets; deleting a
// missing key during invalidation is harmless.
func (rc *ResultCache[V]) Delete(ctx context.Context, key string) error {
	if _, err := rc.st.Del(ctx, key); err != nil {
		return storeErr("DEL", key, err)
	}
	return nil
}

func (rc *ResultCache[V]) selfHeal(ctx context.Context, key, reason string) {
	_, _ = rc.st.Del(ctx, key)
	rc.hooks.SelfHeal(key, reason)
	rc.log.Debug("self-healed cached result", Fields{"key": key, "reason": reason})
}
