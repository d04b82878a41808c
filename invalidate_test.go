package conjcache

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/unkn0wn-root/conjcache/internal/keys"
)

// TestInvalidateOrderScenario: schemes {(), (status)} known, q1 tagged under
// both conjunctions of a paid order.
func TestInvalidateOrderScenario(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	inv := newTestInvalidator(t, st, nil)

	if err := inv.EnsureKnown(ctx, "Order", Scheme{"status"}); err != nil {
		t.Fatalf("EnsureKnown: %v", err)
	}
	tag(t, st, "conj:Order:", "q1")
	tag(t, st, "conj:Order:status=paid", "q1")

	if err := inv.Invalidate(ctx, "Order", map[string]any{"status": "paid", "id": 7}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	for _, k := range []string{"conj:Order:", "conj:Order:status=paid", "q1"} {
		if exists(t, st, k) {
			t.Fatalf("%s should be gone", k)
		}
	}
	if _, ok, _ := st.Get(ctx, "q1"); ok {
		t.Fatalf("read of q1 must miss")
	}
}

func TestInvalidateLeavesOtherConjunctions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	inv := newTestInvalidator(t, st, nil)

	_ = inv.EnsureKnown(ctx, "Order", Scheme{"status"}, Scheme{"customer", "status"})
	tag(t, st, "conj:Order:status=shipped", "q2")
	tag(t, st, "conj:Order:customer=3&status=paid", "q3")
	tag(t, st, "conj:User:", "u1")

	if err := inv.Invalidate(ctx, "Order", map[string]any{"status": "paid", "customer": 3}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if exists(t, st, "q3") || exists(t, st, "conj:Order:customer=3&status=paid") {
		t.Fatalf("matching conjunction survived")
	}
	for _, k := range []string{"q2", "conj:Order:status=shipped", "u1", "conj:User:"} {
		if !exists(t, st, k) {
			t.Fatalf("%s should survive", k)
		}
	}
}

func TestInvalidateSkipsSchemesWithMissingFields(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	inv := newTestInvalidator(t, st, nil)

	_ = inv.EnsureKnown(ctx, "Order", Scheme{"status"}, Scheme{"region"})
	tag(t, st, "conj:Order:", "q1")
	tag(t, st, "conj:Order:region=eu", "q2")

	if err := inv.Invalidate(ctx, "Order", map[string]any{"status": "paid"}); err != nil {
		t.Fatalf("missing field must not fail: %v", err)
	}
	if exists(t, st, "q1") {
		t.Fatalf("empty scheme always applies")
	}
	if !exists(t, st, "q2") {
		t.Fatalf("region scheme should have been skipped")
	}
}

func TestInvalidateFormatsValuesLikeExistingDeployments(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	inv := newTestInvalidator(t, st, nil)

	_ = inv.EnsureKnown(ctx, "Order", Scheme{"paid"}, Scheme{"note"}, Scheme{"id"})
	tag(t, st, "conj:Order:paid=True", "a")
	tag(t, st, "conj:Order:note=None", "b")
	tag(t, st, "conj:Order:id=7", "c")

	err := inv.Invalidate(ctx, "Order", map[string]any{"paid": true, "note": nil, "id": int64(7)})
	if err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if exists(t, st, k) {
			t.Fatalf("%s should be gone", k)
		}
	}
}

type order struct {
	ID     int
	Status string
}

func (order) EntityType() string { return "Order" }
func (o order) FieldValues() map[string]any {
	return map[string]any{"id": o.ID, "status": o.Status}
}

func TestInvalidateObject(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	inv := newTestInvalidator(t, st, nil)

	_ = inv.EnsureKnown(ctx, "Order", Scheme{"id"})
	tag(t, st, "conj:Order:id=7", "q1")

	if err := inv.InvalidateObject(ctx, order{ID: 7, Status: "paid"}); err != nil {
		t.Fatalf("InvalidateObject: %v", err)
	}
	if exists(t, st, "q1") {
		t.Fatalf("q1 should be gone")
	}
	if err := inv.InvalidateObject(ctx, nil); err == nil {
		t.Fatalf("nil entity should fail")
	}
}

// Another process registered a scheme this one never saw; the version check
// after commit makes the invalidation reload and cover it.
func TestInvalidateCoversSchemesRegisteredElsewhere(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	hooks := &countingHooks{}
	a := newTestInvalidator(t, st, func(o *Options) { o.Hooks = hooks })
	b := newTestInvalidator(t, st, nil)

	if _, err := a.Schemes(ctx, "Order"); err != nil {
		t.Fatal(err)
	}
	if err := b.EnsureKnown(ctx, "Order", Scheme{"status"}); err != nil {
		t.Fatal(err)
	}
	tag(t, st, "conj:Order:status=paid", "q1")

	if err := a.Invalidate(ctx, "Order", map[string]any{"status": "paid"}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if exists(t, st, "q1") {
		t.Fatalf("q1 tagged under a scheme unknown to a must still be removed")
	}
	if hooks.stale != 1 {
		t.Fatalf("expected one stale reload, got %d", hooks.stale)
	}
	if v := a.Version("Order"); v != 1 {
		t.Fatalf("a local version = %d, want 1", v)
	}
}

func TestInvalidateConvergesOnThirdAttempt(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore(t)
	st := &scriptedStore{Store: mem}
	st.before = func(call int, watch []string) (bool, error) {
		if call <= 2 {
			// a concurrent registrar bumps the version before our commit
			if _, err := mem.Incr(ctx, watch[0]); err != nil {
				return false, err
			}
		}
		return true, nil
	}
	inv := newTestInvalidator(t, st, nil)
	tag(t, mem, "conj:Order:", "q1")

	if err := inv.Invalidate(ctx, "Order", map[string]any{"id": 1}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if st.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", st.Calls())
	}
	if exists(t, mem, "q1") {
		t.Fatalf("q1 should be gone")
	}
}

func TestInvalidateFailsAfterExactlyThreeAttempts(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore(t)
	st := &scriptedStore{Store: mem}
	st.before = func(_ int, watch []string) (bool, error) {
		_, err := mem.Incr(ctx, watch[0])
		return err == nil, err
	}
	hooks := &countingHooks{}
	inv := newTestInvalidator(t, st, func(o *Options) { o.Hooks = hooks })

	err := inv.Invalidate(ctx, "Order", map[string]any{"id": 1})
	if !errors.Is(err, ErrRetryBudgetExceeded) {
		t.Fatalf("expected ErrRetryBudgetExceeded, got %v", err)
	}
	var ie *InvalidateError
	if !errors.As(err, &ie) || ie.Attempts != MaxAttempts || ie.EntityType != "Order" {
		t.Fatalf("unexpected error detail: %#v", err)
	}
	if st.Calls() != MaxAttempts {
		t.Fatalf("expected %d attempts, got %d", MaxAttempts, st.Calls())
	}
	if hooks.exceeded != 1 {
		t.Fatalf("RetryBudgetExceeded hook fired %d times", hooks.exceeded)
	}
}

func TestInvalidateRetriesSameBatchOnConflict(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore(t)
	st := &scriptedStore{Store: mem}
	st.before = func(call int, _ []string) (bool, error) { return call > 2, nil }
	hooks := &countingHooks{}
	inv := newTestInvalidator(t, st, func(o *Options) { o.Hooks = hooks })
	tag(t, mem, "conj:Order:", "q1")

	if err := inv.Invalidate(ctx, "Order", map[string]any{"id": 1}); err != nil {
		t.Fatalf("conflicts must be absorbed: %v", err)
	}
	if hooks.conflicts != 2 || hooks.stale != 0 {
		t.Fatalf("conflicts=%d stale=%d", hooks.conflicts, hooks.stale)
	}
	if exists(t, mem, "q1") {
		t.Fatalf("q1 should be gone")
	}
}

func TestInvalidateGivesUpOnEndlessConflicts(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore(t)
	st := &scriptedStore{Store: mem}
	st.before = func(int, []string) (bool, error) { return false, nil }
	inv := newTestInvalidator(t, st, func(o *Options) { o.MaxConflictRetries = 4 })
	tag(t, mem, "conj:Order:", "q1")

	err := inv.Invalidate(ctx, "Order", map[string]any{"id": 1})
	if !errors.Is(err, ErrRetryBudgetExceeded) || !errors.Is(err, ErrTxConflict) {
		t.Fatalf("expected retry budget + conflict, got %v", err)
	}
	if st.Calls() != 5 {
		t.Fatalf("expected 1+4 tries, got %d", st.Calls())
	}
	if !exists(t, mem, "conj:Order:") || !exists(t, mem, "q1") {
		t.Fatalf("nothing may be deleted without a commit")
	}
}

func TestInvalidateSurfacesStoreErrors(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore(t)
	down := errors.New("connection refused")
	st := &scriptedStore{Store: mem}
	st.before = func(int, []string) (bool, error) { return false, down }
	inv := newTestInvalidator(t, st, nil)
	tag(t, mem, "conj:Order:", "q1")

	err := inv.Invalidate(ctx, "Order", map[string]any{"id": 1})
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, down) {
		t.Fatalf("expected store error, got %v", err)
	}
	if st.Calls() != 1 {
		t.Fatalf("transport errors are not retried, got %d calls", st.Calls())
	}
	if !exists(t, mem, "conj:Order:") {
		t.Fatalf("conj-set must survive a failed invalidation")
	}
	// and a later call can still succeed
	st.before = nil
	if err := inv.Invalidate(ctx, "Order", map[string]any{"id": 1}); err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
	if exists(t, mem, "q1") {
		t.Fatalf("q1 should be gone after retry")
	}
}

// Registration and invalidation serialized by the store end up as if run in
// that order.
func TestSerialOrderDecidesSurvival(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	inv := newTestInvalidator(t, st, nil)
	_ = inv.EnsureKnown(ctx, "Order", Scheme{"status"})
	conj := keys.Conj("Order", map[string]string{"status": "paid"})
	obj := map[string]any{"status": "paid"}

	tag(t, st, conj, "before")
	if err := inv.Invalidate(ctx, "Order", obj); err != nil {
		t.Fatal(err)
	}
	tag(t, st, conj, "after")

	if exists(t, st, "before") {
		t.Fatalf("registration before invalidation must be deleted")
	}
	if !exists(t, st, "after") {
		t.Fatalf("registration after invalidation must survive")
	}
	members, _ := st.SMembers(ctx, conj)
	if diff := cmp.Diff([]string{"after"}, members); diff != "" {
		t.Fatalf("conj-set (-want +got):\n%s", diff)
	}
}

func TestConcurrentInvalidations(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	inv := newTestInvalidator(t, st, nil)
	other := newTestInvalidator(t, st, nil)
	_ = inv.EnsureKnown(ctx, "Order", Scheme{"status"})

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 16; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- inv.Invalidate(ctx, "Order", map[string]any{"status": "paid"})
		}()
		go func(i int) {
			defer wg.Done()
			if i%8 == 0 { // at most two version bumps: never exhausts MaxAttempts
				errs <- other.EnsureKnown(ctx, "Order", Scheme{"status"}, Scheme{"n" + string(rune('a'+i))})
				return
			}
			errs <- other.Invalidate(ctx, "Order", map[string]any{"status": "shipped"})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent call failed: %v", err)
		}
	}

	tag(t, st, "conj:Order:status=paid", "late")
	if err := inv.Invalidate(ctx, "Order", map[string]any{"status": "paid"}); err != nil {
		t.Fatal(err)
	}
	if exists(t, st, "late") {
		t.Fatalf("late should be gone")
	}
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("missing store should fail")
	}
	if _, err := New(Options{Store: newTestStore(t), MaxConflictRetries: -1}); err == nil {
		t.Fatalf("negative MaxConflictRetries should fail")
	}
	inv := mustImpl(t, newTestInvalidator(t, newTestStore(t), nil))
	if inv.maxConflicts != defaultMaxConflictRetries {
		t.Fatalf("default conflicts = %d", inv.maxConflicts)
	}
	if _, ok := inv.log.(NopLogger); !ok {
		t.Fatalf("default logger should be NopLogger")
	}
}

func TestConjKeysForDeduplicatesAndSorts(t *testing.T) {
	got := conjKeysFor("Order", []Scheme{{"status"}, {}, {"status"}, {"id", "status"}, {"region"}},
		map[string]string{"status": "paid", "id": "7"})
	want := []string{"conj:Order:", "conj:Order:id=7&status=paid", "conj:Order:status=paid"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
}

// A scheme registered by this process after the snapshot bumps the local and
// the store version together; the attempt must still be judged stale.
func TestInvalidateSeesSchemeRegisteredInProcessMidFlight(t *testing.T) {
	ctx := context.Background()
	mem := newTestStore(t)
	st := &scriptedStore{Store: mem}
	inv := newTestInvalidator(t, st, nil)
	reg := inv.Registry()

	st.before = func(call int, _ []string) (bool, error) {
		if call == 1 {
			if err := reg.EnsureKnown(ctx, "Order", Scheme{"status"}); err != nil {
				return false, err
			}
			tag(t, mem, "conj:Order:status=paid", "q")
		}
		return true, nil
	}
	if err := inv.Invalidate(ctx, "Order", map[string]any{"status": "paid"}); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if st.Calls() != 2 {
		t.Fatalf("expected a second attempt, got %d calls", st.Calls())
	}
	if exists(t, mem, "q") {
		t.Fatalf("q was tagged before the transaction read and must be gone")
	}
	if exists(t, mem, "conj:Order:status=paid") {
		t.Fatalf("conj-set should be deleted")
	}
}
