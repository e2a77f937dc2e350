package dashboard

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// cacheVersion gates persisted cache compatibility. Any blob written by
// a different version is discarded outright, never migrated.
const cacheVersion = 3

// Cache purposes. Plain and zone-enriched listings are cached in
// separate slots because they have different freshness windows and the
// enriched slot carries extra per-activity payload.
const (
	CacheActivities     = "activities.v3"
	CacheActivitiesZone = "activities.zones.v3"
)

// Store is the key-value persistence behind the activity cache. Reads
// that fail degrade to a cache miss; they never abort a fetch.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}

// MemoryStore is a Store backed by a map, used for tests and for
// running without a database file.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), value...)
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// SQLStore is a Store backed by a single kv table in sqlite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates the kv table if needed and returns the store.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		)`)
	if err != nil {
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *SQLStore) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().Unix())
	return err
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return err
}

// cacheRecord is the persisted snapshot for one cache purpose: the
// activities fetched so far, the date range they cover, and when they
// were fetched.
type cacheRecord struct {
	Version     int         `json:"version"`
	Activities  []*Activity `json:"activities"`
	LastFetched time.Time   `json:"lastFetched"`
	StartDate   string      `json:"startDate"` // YYYY-MM-DD, inclusive
	EndDate     string      `json:"endDate"`   // YYYY-MM-DD, inclusive
}

// loadCache reads the record for a purpose. Corrupt or version-skewed
// blobs are treated as a miss and dropped from the store.
func loadCache(ctx context.Context, store Store, key string) *cacheRecord {
	blob, ok, err := store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	var rec cacheRecord
	if err := json.Unmarshal(blob, &rec); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache blob malformed, discarding")
		_ = store.Remove(ctx, key)
		return nil
	}
	if rec.Version != cacheVersion {
		log.Info().Int("found", rec.Version).Int("want", cacheVersion).Msg("cache version mismatch, discarding")
		_ = store.Remove(ctx, key)
		return nil
	}
	return &rec
}

// saveCache persists a record. Failures are logged, not propagated;
// the cache is best effort.
func saveCache(ctx context.Context, store Store, key string, rec *cacheRecord) {
	rec.Version = cacheVersion
	blob, err := json.Marshal(rec)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := store.Set(ctx, key, blob); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
