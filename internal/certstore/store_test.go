package certstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stochsafe/barricade/internal/config"
)

func sampleResult() *CertificateResult {
	return &CertificateResult{
		Algorithm:   "constant",
		Barrier:     []float64{1e-6, 0.25, 1},
		Beta:        0.03,
		Eta:         1e-6,
		TimeHorizon: 10,
		SafetyBound: 1e-6 + 10*0.03,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestKeyDeterminism(t *testing.T) {
	data := []byte(`{"partitions": [[[-1], [1]]]}`)
	cfg := config.Default()

	k1 := Key(data, cfg)
	k2 := Key(data, cfg)
	if k1 != k2 {
		t.Error("key not deterministic for identical inputs")
	}
	if len(k1) != 64 {
		t.Errorf("key length %d, want 64 hex chars", len(k1))
	}

	cfg2 := cfg
	cfg2.Algorithm = config.AlgDualConstant
	if Key(data, cfg2) == k1 {
		t.Error("algorithm change did not change the key")
	}
	cfg3 := cfg
	cfg3.TimeHorizon = 2
	if Key(data, cfg3) == k1 {
		t.Error("horizon change did not change the key")
	}
	if Key([]byte(`{"partitions": [[[-1], [2]]]}`), cfg) == k1 {
		t.Error("dataset change did not change the key")
	}
	// Worker count does not affect the certificate.
	cfg4 := cfg
	cfg4.Workers = 7
	if Key(data, cfg4) != k1 {
		t.Error("worker count leaked into the key")
	}
}

func TestMemoryStoreFirstWriteWins(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	if got, err := store.Get(ctx, "k"); err != nil || got != nil {
		t.Fatalf("empty get = (%v, %v)", got, err)
	}

	first := sampleResult()
	if err := store.Set(ctx, "k", first, time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	second := sampleResult()
	second.Beta = 0.9
	if err := store.Set(ctx, "k", second, time.Hour); err != nil {
		t.Fatalf("second Set: %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.Beta != first.Beta {
		t.Errorf("got %+v, want the first write", got)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore("")
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	defer store.Close()

	if err := store.Set(ctx, "k", sampleResult(), -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := store.Get(ctx, "k"); got != nil {
		t.Error("expired entry served")
	}

	// An expired entry does not block a fresh write.
	fresh := sampleResult()
	fresh.Beta = 0.5
	if err := store.Set(ctx, "k", fresh, time.Hour); err != nil {
		t.Fatalf("overwrite of expired entry: %v", err)
	}
	got, _ := store.Get(ctx, "k")
	if got == nil || got.Beta != 0.5 {
		t.Errorf("got %+v, want the fresh write", got)
	}
}

func TestMemoryStoreSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "certs.json")

	store, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	if err := store.Set(ctx, "live", sampleResult(), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "dead", sampleResult(), -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewMemoryStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Get(ctx, "live")
	if err != nil || got == nil {
		t.Fatalf("live entry after reopen = (%v, %v)", got, err)
	}
	if got.Algorithm != "constant" || len(got.Barrier) != 3 {
		t.Errorf("reloaded entry %+v", got)
	}
	if dead, _ := reopened.Get(ctx, "dead"); dead != nil {
		t.Error("expired entry survived the snapshot")
	}
}
