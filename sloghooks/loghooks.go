// Package sloghooks reports conjcache hook events through log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/conjcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	ConflictEvery uint64
	SelfHealEvery uint64
	// Optional cache-key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	conflictCtr atomic.Uint64
	selfHealCtr atomic.Uint64
}

var _ conjcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) TxConflict(entityType string, attempt int) {
	if h.l == nil || !sample(h.opts.ConflictEvery, &h.conflictCtr) {
		return
	}
	h.l.Debug("conjcache.tx_conflict",
		"entity_type", entityType,
		"attempt", attempt)
}

func (h *Hooks) SchemesStale(entityType string, local, remote int64) {
	if h.l == nil {
		return
	}
	h.l.Info("conjcache.schemes_stale",
		"entity_type", entityType,
		"local", local,
		"remote", remote)
}

func (h *Hooks) SchemesRegistered(entityType string, added int) {
	if h.l == nil {
		return
	}
	h.l.Info("conjcache.schemes_registered",
		"entity_type", entityType,
		"added", added)
}

func (h *Hooks) RetryBudgetExceeded(entityType string, attempts int) {
	if h.l == nil {
		return
	}
	h.l.Error("conjcache.retry_budget_exceeded",
		"entity_type", entityType,
		"attempts", attempts)
}

func (h *Hooks) EntityTypeWiped(entityType string, conjs, cacheKeys int) {
	if h.l == nil {
		return
	}
	h.l.Warn("conjcache.entity_type_wiped",
		"entity_type", entityType,
		"conjs", conjs,
		"cache_keys", cacheKeys)
}

func (h *Hooks) StoreFlushed() {
	if h.l == nil {
		return
	}
	h.l.Warn("conjcache.store_flushed")
}

func (h *Hooks) SelfHeal(cacheKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("conjcache.self_heal",
		"key", h.redact(cacheKey),
		"reason", reason)
}
