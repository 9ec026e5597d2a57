package fixcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T, mutate func(*Config)) *Store {
	t.Helper()
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "fixcache.db"))
	if mutate != nil {
		mutate(&cfg)
	}
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	errText := "ImportError: cannot import name 'session' from /app/web/core.py"
	err := store.Put(ctx, Fix{
		ErrorText:   errText,
		Commands:    []string{"pip install -e .", "pytest -x"},
		Description: "reinstall the package",
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Write-through: the hot layer sees the entry immediately.
	if !store.hot.Contains(Key(errText)) {
		t.Error("Put should populate the hot layer")
	}

	// Same error with different volatile details still hits exactly.
	fix, hit, err := store.Lookup(ctx, "ImportError: cannot import name 'auth' from /srv/web/core.py")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !hit {
		t.Fatal("expected exact hit after Put")
	}
	if len(fix.Commands) != 2 || fix.Commands[0] != "pip install -e ." {
		t.Errorf("commands = %v", fix.Commands)
	}
	if fix.Description != "reinstall the package" {
		t.Errorf("description = %q", fix.Description)
	}
}

func TestStoreSimilarLookup(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	stored := "ModuleNotFoundError: no module named requests in application startup sequence"
	if err := store.Put(ctx, Fix{ErrorText: stored, Commands: []string{"pip install requests"}}); err != nil {
		t.Fatal(err)
	}

	// Different module name: different hash, high similarity.
	variant := "ModuleNotFoundError: no module named urllib3 in application startup sequence"
	if Key(variant) == Key(stored) {
		t.Fatal("test premise broken: variants should hash differently")
	}

	fix, hit, err := store.Lookup(ctx, variant)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !hit {
		t.Fatal("expected similarity hit")
	}
	if fix.Commands[0] != "pip install requests" {
		t.Errorf("commands = %v", fix.Commands)
	}

	// Unrelated error stays a miss.
	if _, hit, err := store.Lookup(ctx, "connection refused while dialing the queue database"); err != nil || hit {
		t.Errorf("unrelated error: hit=%v err=%v, want miss", hit, err)
	}
}

func TestStoreTTLExpiry(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(cfg *Config) { cfg.TTL = time.Second })

	errText := "disk quota exceeded while writing checkpoint"
	if err := store.Put(ctx, Fix{ErrorText: errText, Commands: []string{"rm -rf ./tmp"}}); err != nil {
		t.Fatal(err)
	}

	if _, hit, _ := store.Lookup(ctx, errText); !hit {
		t.Fatal("fresh entry should hit")
	}

	time.Sleep(1500 * time.Millisecond)

	if _, hit, _ := store.Lookup(ctx, errText); hit {
		t.Fatal("expired entry must never satisfy a lookup")
	}

	// The failed lookup purged it lazily.
	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 0 {
		t.Errorf("entries after lazy purge = %d, want 0", stats.Entries)
	}
}

func TestStoreMaxEntriesEviction(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, func(cfg *Config) { cfg.MaxEntries = 3 })

	errs := []string{
		"alpha failure while compiling templates",
		"beta failure while resolving imports",
		"gamma failure while binding sockets",
	}
	for _, e := range errs {
		if err := store.Put(ctx, Fix{ErrorText: e, Commands: []string{"true"}}); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond) // distinct last_used ordering
	}

	// Touch the oldest so it is no longer the eviction candidate.
	if _, hit, _ := store.Lookup(ctx, errs[0]); !hit {
		t.Fatal("first entry should still be present")
	}
	time.Sleep(5 * time.Millisecond)

	if err := store.Put(ctx, Fix{ErrorText: "delta failure while parsing manifests", Commands: []string{"true"}}); err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Entries != 3 {
		t.Fatalf("entries = %d, want 3 after eviction", stats.Entries)
	}

	// The touched entry survived; the least recently used one did not.
	if _, hit, _ := store.Lookup(ctx, errs[0]); !hit {
		t.Error("recently used entry was evicted")
	}
	if _, hit, _ := store.Lookup(ctx, errs[1]); hit {
		t.Error("least recently used entry should have been evicted")
	}
}

func TestRecordOutcome(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, nil)

	errText := "yaml: could not unmarshal config block"
	if err := store.Put(ctx, Fix{ErrorText: errText, Commands: []string{"yamllint ."}}); err != nil {
		t.Fatal(err)
	}
	hash := Key(errText)

	steps := []struct {
		ok       bool
		wantApps int
		wantRate float64
	}{
		{true, 1, 1.0},
		{false, 2, 0.5},
		{true, 3, 2.0 / 3.0},
	}
	for i, step := range steps {
		if err := store.RecordOutcome(ctx, hash, step.ok); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		fix, hit, err := store.Lookup(ctx, errText)
		if err != nil || !hit {
			t.Fatalf("step %d: lookup hit=%v err=%v", i, hit, err)
		}
		if fix.Applications != step.wantApps {
			t.Errorf("step %d: applications = %d, want %d", i, fix.Applications, step.wantApps)
		}
		if diff := fix.SuccessRate - step.wantRate; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("step %d: success rate = %v, want %v", i, fix.SuccessRate, step.wantRate)
		}
	}

	if err := store.RecordOutcome(ctx, "no-such-hash", true); err == nil {
		t.Error("unknown hash should error")
	}
}

func TestStorePersistsAcrossOpens(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fixcache.db")

	first, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	errText := "certificate signed by unknown authority"
	if err := first.Put(ctx, Fix{ErrorText: errText, Commands: []string{"update-ca-certificates"}}); err != nil {
		t.Fatal(err)
	}
	first.Close()

	second, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()

	fix, hit, err := second.Lookup(ctx, errText)
	if err != nil || !hit {
		t.Fatalf("lookup after reopen: hit=%v err=%v", hit, err)
	}
	if fix.Commands[0] != "update-ca-certificates" {
		t.Errorf("commands = %v", fix.Commands)
	}
}
