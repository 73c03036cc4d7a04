package certstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/stochsafe/barricade/internal/config"
)

// CertificateResult is the persisted outcome of one certification run: the
// barrier, its slacks, and the probability bound they certify.
type CertificateResult struct {
	Algorithm     string    `json:"algorithm"`
	Barrier       []float64 `json:"barrier"`
	Beta          float64   `json:"beta"`
	BetaPerRegion []float64 `json:"beta_per_region,omitempty"`
	Eta           float64   `json:"eta"`
	TimeHorizon   int       `json:"time_horizon"`
	SafetyBound   float64   `json:"safety_bound"`
	CreatedAt     time.Time `json:"created_at"`
}

// Key derives the store key for an input dataset under a configuration: the
// hex SHA-256 of the raw dataset bytes and the config fields that change the
// certificate. Two runs with the same key are interchangeable.
func Key(datasetBytes []byte, cfg config.Config) string {
	h := sha256.New()
	h.Write(datasetBytes)
	fmt.Fprintf(h, "|%s|%s|%d|%g|%g|%d|%g",
		cfg.Algorithm, cfg.UpperBound, cfg.TimeHorizon, cfg.Eps, cfg.SparsityEps, cfg.FWNumIter, cfg.FWTermEps)
	return hex.EncodeToString(h.Sum(nil))
}

// Store persists certification results by input key so re-certifying an
// unchanged (system, partition, config) triple is served without solving.
// First write wins across all backends.
type Store interface {
	// Get returns the stored result, or nil when absent or expired.
	Get(ctx context.Context, key string) (*CertificateResult, error)

	// Set stores a result with a TTL. Losing a concurrent write race is
	// not an error.
	Set(ctx context.Context, key string, res *CertificateResult, ttl time.Duration) error

	Close() error
}

// MemoryStore keeps certificates in process memory, optionally mirrored to a
// JSON snapshot file across restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	entries  map[string]*memEntry
	snapshot string
}

type memEntry struct {
	Result    *CertificateResult `json:"result"`
	ExpiresAt time.Time          `json:"expires_at"`
}

// NewMemoryStore creates a memory store. An empty snapshot path disables
// persistence; otherwise the snapshot is loaded now and rewritten on Close.
func NewMemoryStore(snapshotPath string) (*MemoryStore, error) {
	m := &MemoryStore{
		entries:  make(map[string]*memEntry),
		snapshot: snapshotPath,
	}
	if snapshotPath != "" {
		if err := m.loadSnapshot(); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MemoryStore) Get(_ context.Context, key string) (*CertificateResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok || time.Now().After(e.ExpiresAt) {
		return nil, nil
	}
	return e.Result, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, res *CertificateResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && time.Now().Before(e.ExpiresAt) {
		return nil
	}
	m.entries[key] = &memEntry{Result: res, ExpiresAt: time.Now().Add(ttl)}
	return nil
}

func (m *MemoryStore) Close() error {
	if m.snapshot == "" {
		return nil
	}
	return m.saveSnapshot()
}

func (m *MemoryStore) loadSnapshot() error {
	data, err := os.ReadFile(m.snapshot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("certstore: read snapshot: %w", err)
	}
	var snap map[string]*memEntry
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("certstore: parse snapshot: %w", err)
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range snap {
		if now.Before(v.ExpiresAt) {
			m.entries[k] = v
		}
	}
	return nil
}

func (m *MemoryStore) saveSnapshot() error {
	m.mu.RLock()
	now := time.Now()
	live := make(map[string]*memEntry, len(m.entries))
	for k, v := range m.entries {
		if now.Before(v.ExpiresAt) {
			live[k] = v
		}
	}
	m.mu.RUnlock()

	data, err := json.MarshalIndent(live, "", "  ")
	if err != nil {
		return fmt.Errorf("certstore: encode snapshot: %w", err)
	}
	if err := os.WriteFile(m.snapshot, data, 0o600); err != nil {
		return fmt.Errorf("certstore: write snapshot: %w", err)
	}
	return nil
}
