package conjcache

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/unkn0wn-root/conjcache/store"
)

const (
	// MaxAttempts bounds how many times one Invalidate re-derives its
	// conjunctions after a scheme-version mismatch.
	MaxAttempts = 3

	defaultMaxConflictRetries = 16
	tracerName                = "github.com/unkn0wn-root/conjcache"
)

// Invalidator is the API the caching layer and write hooks talk to.
type Invalidator interface {
	// Registry reads (used to decide how to tag new entries).
	Schemes(ctx context.Context, entityType string) ([]Scheme, error)
	Version(entityType string) int64
	EnsureKnown(ctx context.Context, entityType string, schemes ...Scheme) error

	// Per-object invalidation. values is the object's current field state.
	Invalidate(ctx context.Context, entityType string, values map[string]any) error
	InvalidateObject(ctx context.Context, obj Entity) error

	// Coarse invalidation; not for hot paths.
	InvalidateEntityType(ctx context.Context, entityType string) error
	InvalidateAll(ctx context.Context) error

	Registry() *Registry
	Close(ctx context.Context) error
}

// Options tune the Invalidator. Only Store is required.
type Options struct {
	Store store.Store

	Registry           *Registry    // nil => NewRegistry(Store); must wrap the same Store
	Logger             Logger       // nil => NopLogger
	Hooks              Hooks        // nil => NopHooks
	Tracer             trace.Tracer // nil => global otel provider
	MaxConflictRetries int          // watch conflicts absorbed per attempt; 0 => 16
	CloseStore         bool         // Close also closes Store
}

func New(opts Options) (Invalidator, error) {
	return newInvalidator(opts)
}

type invalidator struct {
	st     store.Store
	reg    *Registry
	log    Logger
	hooks  Hooks
	tracer trace.Tracer

	maxConflicts int
	closeStore   bool
}

func newInvalidator(opts Options) (*invalidator, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("conjcache: store is required")
	}
	if opts.MaxConflictRetries < 0 {
		return nil, fmt.Errorf("conjcache: MaxConflictRetries must be >= 0")
	}

	inv := &invalidator{
		st:         opts.Store,
		closeStore: opts.CloseStore,
	}
	inv.log = coalesce[Logger](opts.Logger, NopLogger{})
	inv.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	inv.maxConflicts = coalesce(opts.MaxConflictRetries, defaultMaxConflictRetries)
	if opts.Tracer != nil {
		inv.tracer = opts.Tracer
	} else {
		inv.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}

	if opts.Registry != nil {
		inv.reg = opts.Registry
	} else {
		reg, err := NewRegistry(opts.Store, RegistryOptions{Logger: inv.log, Hooks: inv.hooks})
		if err != nil {
			return nil, err
		}
		inv.reg = reg
	}
	return inv, nil
}

func (inv *invalidator) Registry() *Registry { return inv.reg }

func (inv *invalidator) Schemes(ctx context.Context, entityType string) ([]Scheme, error) {
	return inv.reg.Schemes(ctx, entityType)
}

func (inv *invalidator) Version(entityType string) int64 { return inv.reg.Version(entityType) }

func (inv *invalidator) EnsureKnown(ctx context.Context, entityType string, schemes ...Scheme) (err error) {
	ctx, span := inv.start(ctx, "conjcache.EnsureKnown", entityType)
	defer func() { endSpan(span, err) }()
	return inv.reg.EnsureKnown(ctx, entityType, schemes...)
}

func (inv *invalidator) Close(ctx context.Context) error {
	if inv.closeStore {
		return inv.st.Close(ctx)
	}
	return nil
}
