// Package conjcache invalidates query-result caches kept in a shared key-value
// store (typically Redis) when the entities they were computed from change.
//
// A cached result is tagged with conjunctions: field=value combinations of an
// entity type ("all Orders with status=paid"). The field names of a
// conjunction form a scheme. When an object is written, its field values are
// bound to every known scheme of its type, and each resulting conj-set is
// read and deleted together with the cache keys it holds.
//
// Components:
//   - Registry: known schemes per entity type + version counter, mirrored locally.
//   - Invalidator: per-object invalidation (optimistic WATCH/MULTI on the
//     version key, bounded retry) plus entity-type wipe and full flush.
//   - ResultCache[V]: writes result blobs and tags them into conj-sets.
//   - store.Store: the key-value adapter (store/redis, store/memory).
//
// Keys:
//
//	schemes:<type>             set of serialized schemes ("f1,f2")
//	schemes:<type>:version     integer
//	conj:<type>:<f>=<v>&...    set of cache keys
//
// Usage:
//
//	inv, _ := conjcache.New(conjcache.Options{Store: st})
//	rc, _ := conjcache.NewResultCache[Page](conjcache.CacheOptions[Page]{
//	    Store: st, Registry: inv.Registry(), Codec: codec.JSON[Page]{},
//	})
//	_ = rc.Set(ctx, "q:paid-orders", page, 0,
//	    conjcache.Dependency{EntityType: "Order", Conj: map[string]any{"status": "paid"}})
//	// on write:
//	_ = inv.Invalidate(ctx, "Order", map[string]any{"id": 7, "status": "paid"})
package conjcache
