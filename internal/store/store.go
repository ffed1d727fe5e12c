// Package store persists funding history and simulation state in the
// Supabase-hosted Postgres database. A nil *Store means persistence is
// disabled and the pipeline runs cache-only.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog"
)

const (
	maxOpenConns    = 10
	maxIdleConns    = 5
	connMaxLifetime = 30 * time.Minute
	queryTimeout    = 30 * time.Second
)

// Store wraps the connection pool and exposes one repository per concern.
type Store struct {
	db       *sqlx.DB
	writable bool
	log      zerolog.Logger

	Funding *FundingRepository
	Paper   *PaperRepository
	AI      *AIRepository
}

// Open connects to the database. writable controls whether mutation methods
// are allowed; with only an anon key configured the store is read-only.
func Open(dsn string, writable bool, log zerolog.Logger) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{
		db:       db,
		writable: writable,
		log:      log.With().Str("component", "store").Logger(),
	}
	s.Funding = &FundingRepository{store: s}
	s.Paper = &PaperRepository{store: s}
	s.AI = &AIRepository{store: s}
	return s, nil
}

// Writable reports whether mutation methods are allowed.
func (s *Store) Writable() bool {
	return s != nil && s.writable
}

// Readable reports whether the store is usable at all.
func (s *Store) Readable() bool {
	return s != nil
}

// Ping checks connectivity for the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("store not configured")
	}
	return s.db.PingContext(ctx)
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) requireWritable() error {
	if s == nil {
		return fmt.Errorf("store not configured")
	}
	if !s.writable {
		return fmt.Errorf("store is read-only: service role key not configured")
	}
	return nil
}

func (s *Store) queryCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// jsonMap maps a JSONB column onto a Go map.
type jsonMap map[string]interface{}

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

func (m *jsonMap) Scan(src interface{}) error {
	if src == nil {
		*m = nil
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported JSONB source type %T", src)
	}
	return json.Unmarshal(data, m)
}
