package certstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps certificates in Postgres. The primary key plus
// ON CONFLICT DO NOTHING makes the first write win.
//
// Schema:
//
//	CREATE TABLE certificates (
//	  input_key  VARCHAR(64) PRIMARY KEY,
//	  result     JSONB NOT NULL,
//	  expires_at TIMESTAMPTZ NOT NULL,
//	  created_at TIMESTAMPTZ DEFAULT NOW()
//	);
//	CREATE INDEX idx_certificates_expires ON certificates(expires_at);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore builds the connection pool and pings it.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("certstore: postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("certstore: postgres ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, key string) (*CertificateResult, error) {
	var raw []byte
	err := p.pool.QueryRow(ctx,
		`SELECT result FROM certificates WHERE input_key = $1 AND expires_at > NOW()`,
		key).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("certstore: postgres select: %w", err)
	}
	var res CertificateResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("certstore: decode certificate: %w", err)
	}
	return &res, nil
}

func (p *PostgresStore) Set(ctx context.Context, key string, res *CertificateResult, ttl time.Duration) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("certstore: encode certificate: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO certificates (input_key, result, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (input_key) DO NOTHING`,
		key, raw, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("certstore: postgres insert: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// CleanupExpired deletes expired rows and returns how many were removed.
// Meant for a periodic maintenance job.
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM certificates WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("certstore: cleanup: %w", err)
	}
	return tag.RowsAffected(), nil
}
