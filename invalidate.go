package conjcache

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/conjcache/internal/keys"
	"github.com/unkn0wn-root/conjcache/store"
)

func (inv *invalidator) InvalidateObject(ctx context.Context, obj Entity) error {
	if obj == nil {
		return fmt.Errorf("conjcache: nil entity")
	}
	return inv.Invalidate(ctx, obj.EntityType(), obj.FieldValues())
}

// Invalidate deletes every cache key tagged with a conjunction the object
// matches under the currently known schemes.
//
// Reading and deleting the conj-sets happens in one optimistic transaction
// watching the type's version key, so a cache key is either added before the
// read (and removed here) or after the commit. The cache keys themselves are
// deleted afterwards, outside the transaction: a crash in between leaves them
// orphaned until they expire or a broader invalidation hits them.
//
// If the version read in the transaction differs from the local version the
// schemes were snapshotted at, schemes are reloaded and the whole thing
// repeated, at most MaxAttempts times.
func (inv *invalidator) Invalidate(ctx context.Context, entityType string, values map[string]any) (err error) {
	ctx, span := inv.start(ctx, "conjcache.Invalidate", entityType)
	defer func() { endSpan(span, err) }()
	if entityType == "" {
		return ErrEmptyEntityType
	}
	return inv.invalidate(ctx, span, entityType, formatValues(values))
}

func (inv *invalidator) invalidate(ctx context.Context, span trace.Span, entityType string, values map[string]string) error {
	versionKey := keys.Version(entityType)
	schemes, local, err := inv.reg.view(ctx, entityType, false)
	if err != nil {
		return err
	}

	conflicts := 0
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		conjKeys := conjKeysFor(entityType, schemes, values)

		b := store.NewBatch()
		ver := b.Get(versionKey)
		union := b.SUnion(conjKeys...)
		b.Del(conjKeys...)

		n, err := inv.commit(ctx, entityType, attempt, versionKey, b)
		conflicts += n
		if err != nil {
			return err
		}

		cacheKeys := union.Strings
		if len(cacheKeys) > 0 {
			if _, err := inv.st.Del(ctx, cacheKeys...); err != nil {
				return storeErr("DEL", "", err)
			}
		}

		remote, err := parseVersion(ver)
		if err != nil {
			return fmt.Errorf("invalidate %q: %w", entityType, err)
		}
		if remote == local {
			span.SetAttributes(
				attribute.Int("conjcache.attempts", attempt),
				attribute.Int("conjcache.conjs", len(conjKeys)),
				attribute.Int("conjcache.cache_keys", len(cacheKeys)),
			)
			inv.log.Debug("invalidated", Fields{
				"entityType": entityType,
				"conjs":      len(conjKeys),
				"cacheKeys":  len(cacheKeys),
				"attempts":   attempt,
			})
			return nil
		}

		inv.hooks.SchemesStale(entityType, local, remote)
		inv.log.Warn("schemes stale; reloading", Fields{"entityType": entityType, "local": local, "remote": remote, "attempt": attempt})
		if schemes, local, err = inv.reg.view(ctx, entityType, true); err != nil {
			return err
		}
	}

	inv.hooks.RetryBudgetExceeded(entityType, MaxAttempts)
	inv.log.Error("invalidation did not converge", Fields{"entityType": entityType, "attempts": MaxAttempts, "conflicts": conflicts})
	return &InvalidateError{
		EntityType: entityType,
		Attempts:   MaxAttempts,
		Conflicts:  conflicts,
		Err:        ErrRetryBudgetExceeded,
	}
}

// commit runs b under WATCH of the version key, re-running the same batch on
// conflicts. It returns the number of conflicts absorbed.
func (inv *invalidator) commit(ctx context.Context, entityType string, attempt int, versionKey string, b *store.Batch) (int, error) {
	for conflicts := 0; ; conflicts++ {
		ok, err := inv.st.RunOptimistic(ctx, []string{versionKey}, b)
		if err != nil {
			return conflicts, storeErr("MULTI", versionKey, err)
		}
		if ok {
			return conflicts, nil
		}
		inv.hooks.TxConflict(entityType, attempt)
		if conflicts >= inv.maxConflicts {
			inv.hooks.RetryBudgetExceeded(entityType, attempt)
			inv.log.Error("too many transaction conflicts", Fields{"entityType": entityType, "attempt": attempt, "conflicts": conflicts + 1})
			return conflicts + 1, &InvalidateError{
				EntityType: entityType,
				Attempts:   attempt,
				Conflicts:  conflicts + 1,
				Err:        fmt.Errorf("%w: %w", ErrRetryBudgetExceeded, ErrTxConflict),
			}
		}
		inv.log.Debug("transaction conflict; retrying", Fields{"entityType": entityType, "attempt": attempt})
	}
}

// conjKeysFor maps each scheme to its conjunction key for values. Schemes
// naming a field absent from values are skipped; the empty scheme always applies.
func conjKeysFor(entityType string, schemes []Scheme, values map[string]string) []string {
	out := make([]string, 0, len(schemes))
	seen := make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		if !s.covers(values) {
			continue
		}
		k := keys.ConjFromScheme(entityType, s, values)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
