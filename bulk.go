package conjcache

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/unkn0wn-root/conjcache/internal/keys"
)

// delChunk bounds the number of keys per DEL/SUNION round-trip in bulk paths.
const delChunk = 1000

// InvalidateEntityType removes every cache entry tagged with any conjunction
// of entityType, then clears the type's schemes.
//
// This is a scan followed by deletes with no isolation: an entry tagged under
// an already scanned conjunction while this runs can survive. Meant for
// maintenance, not for the write path.
func (inv *invalidator) InvalidateEntityType(ctx context.Context, entityType string) (err error) {
	ctx, span := inv.start(ctx, "conjcache.InvalidateEntityType", entityType)
	defer func() { endSpan(span, err) }()
	if entityType == "" {
		return ErrEmptyEntityType
	}

	pattern := keys.ConjPattern(entityType)
	conjKeys, err := inv.st.Keys(ctx, pattern)
	if err != nil {
		return storeErr("KEYS", pattern, err)
	}

	cacheKeys := 0
	for start := 0; start < len(conjKeys); start += delChunk {
		chunk := conjKeys[start:min(start+delChunk, len(conjKeys))]
		members, err := inv.st.SUnion(ctx, chunk...)
		if err != nil {
			return storeErr("SUNION", "", err)
		}
		cacheKeys += len(members)
		if err := inv.delAll(ctx, members); err != nil {
			return err
		}
		// conj-sets go only after their members are gone
		if err := inv.delAll(ctx, chunk); err != nil {
			return err
		}
	}

	if err := inv.reg.Clear(ctx, entityType); err != nil {
		return err
	}

	span.SetAttributes(
		attribute.Int("conjcache.conjs", len(conjKeys)),
		attribute.Int("conjcache.cache_keys", cacheKeys),
	)
	inv.hooks.EntityTypeWiped(entityType, len(conjKeys), cacheKeys)
	inv.log.Info("entity type wiped", Fields{"entityType": entityType, "conjs": len(conjKeys), "cacheKeys": cacheKeys})
	return nil
}

// InvalidateAll flushes the store and forgets every local scheme set.
func (inv *invalidator) InvalidateAll(ctx context.Context) (err error) {
	ctx, span := inv.start(ctx, "conjcache.InvalidateAll", "")
	defer func() { endSpan(span, err) }()

	if err := inv.st.FlushAll(ctx); err != nil {
		return storeErr("FLUSH", "", err)
	}
	inv.reg.ClearAll()
	inv.hooks.StoreFlushed()
	inv.log.Info("store flushed", nil)
	return nil
}

func (inv *invalidator) delAll(ctx context.Context, ks []string) error {
	for start := 0; start < len(ks); start += delChunk {
		if _, err := inv.st.Del(ctx, ks[start:min(start+delChunk, len(ks))]...); err != nil {
			return storeErr("DEL", "", err)
		}
	}
	return nil
}
