package conjcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; they run on the
// invalidation path.
type Hooks interface {
	// The optimistic transaction was aborted because a watched key changed.
	// attempt is the 1-based scheme-version attempt it happened in.
	TxConflict(entityType string, attempt int)

	// The store's scheme version differed from the local one after a commit;
	// schemes are reloaded and the invalidation repeated.
	SchemesStale(entityType string, local, remote int64)

	// New schemes were written to the store.
	SchemesRegistered(entityType string, added int)

	// Invalidation gave up; caches of entityType may be stale.
	RetryBudgetExceeded(entityType string, attempts int)

	// A whole entity type was wiped.
	EntityTypeWiped(entityType string, conjs, cacheKeys int)

	// The whole store was flushed.
	StoreFlushed()

	// A cached result was deleted on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(cacheKey, reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) TxConflict(string, int)            {}
func (NopHooks) SchemesStale(string, int64, int64) {}
func (NopHooks) SchemesRegistered(string, int)     {}
func (NopHooks) RetryBudgetExceeded(string, int)   {}
func (NopHooks) EntityTypeWiped(string, int, int)  {}
func (NopHooks) StoreFlushed()                     {}
func (NopHooks) SelfHeal(string, string)           {}
