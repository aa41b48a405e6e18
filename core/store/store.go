// Package store persists experiment artifacts with tiered storage.
//
// Interaction snapshots, training runs, and recommendation tables live in
// SQLite; recommendation reads go through a Ristretto hot cache so
// repeated lookups for the same user skip the database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"

	"github.com/nathann3/better-than-netflix-movie-recommender/core/affinity"
	"github.com/nathann3/better-than-netflix-movie-recommender/core/ranking"
)

const (
	// DefaultDBPath is the default SQLite database location.
	DefaultDBPath = ".movierec/experiments.db"

	defaultNumCounters = 1e5
	defaultMaxCost     = 1e7
	defaultBufferItems = 64
)

// ErrNotFound reports a missing run.
var ErrNotFound = errors.New("store: not found")

// Config configures the experiment store.
type Config struct {
	// DBPath is the SQLite file (empty = DefaultDBPath).
	DBPath string

	// Ristretto configuration for the recommendation hot cache.
	NumCounters int64
	MaxCost     int64
	BufferItems int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		DBPath:      DefaultDBPath,
		NumCounters: int64(defaultNumCounters),
		MaxCost:     int64(defaultMaxCost),
		BufferItems: defaultBufferItems,
	}
}

// Run is one recorded training run with its evaluation scores. Config
// holds the serialized experiment configuration so a run can be replayed
// or re-evaluated later.
type Run struct {
	ID        string
	Dataset   string
	CreatedAt time.Time
	Config    string
	K         int
	Epochs    int
	BestEpoch int
	Precision float64
	Recall    float64
	MAP       float64
	NDCG      float64
}

// Metrics is a snapshot of cache-tier counters.
type Metrics struct {
	HotHits    int64
	HotMisses  int64
	ColdHits   int64
	ColdMisses int64
}

// Store is the tiered experiment store. Safe for concurrent use.
type Store struct {
	db    *sql.DB
	cache *ristretto.Cache

	hotHits    atomic.Int64
	hotMisses  atomic.Int64
	coldHits   atomic.Int64
	coldMisses atomic.Int64
}

// Open opens (creating if needed) the store at cfg.DBPath.
func Open(cfg Config) (*Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	if cfg.NumCounters == 0 {
		cfg.NumCounters = int64(defaultNumCounters)
	}
	if cfg.MaxCost == 0 {
		cfg.MaxCost = int64(defaultMaxCost)
	}
	if cfg.BufferItems == 0 {
		cfg.BufferItems = defaultBufferItems
	}

	s := &Store{}
	if err := s.initSQLite(cfg.DBPath); err != nil {
		return nil, err
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		s.db.Close()
		return nil, fmt.Errorf("store: init cache: %w", err)
	}
	s.cache = cache
	return s, nil
}

func (s *Store) initSQLite(path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("store: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return fmt.Errorf("store: enable WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS interactions (
		dataset   TEXT NOT NULL,
		user_id   TEXT NOT NULL,
		item_id   TEXT NOT NULL,
		rating    REAL NOT NULL,
		timestamp INTEGER NOT NULL,
		PRIMARY KEY (dataset, user_id, item_id)
	);

	CREATE TABLE IF NOT EXISTS runs (
		id             TEXT PRIMARY KEY,
		dataset        TEXT NOT NULL,
		created_at     TIMESTAMP NOT NULL,
		config         TEXT NOT NULL DEFAULT '',
		k              INTEGER NOT NULL,
		epochs         INTEGER NOT NULL,
		best_epoch     INTEGER NOT NULL,
		precision_at_k REAL NOT NULL,
		recall_at_k    REAL NOT NULL,
		map_at_k       REAL NOT NULL,
		ndcg_at_k      REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_dataset ON runs(dataset);

	CREATE TABLE IF NOT EXISTS recommendations (
		run_id   TEXT NOT NULL,
		user_id  TEXT NOT NULL,
		item_id  TEXT NOT NULL,
		score    REAL NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (run_id, user_id, position)
	);
	CREATE INDEX IF NOT EXISTS idx_rec_user ON recommendations(run_id, user_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return fmt.Errorf("store: create schema: %w", err)
	}

	s.db = db
	return nil
}

// Close releases the cache and database.
func (s *Store) Close() error {
	s.cache.Close()
	return s.db.Close()
}

// Stats returns a snapshot of the cache-tier counters.
func (s *Store) Stats() Metrics {
	return Metrics{
		HotHits:    s.hotHits.Load(),
		HotMisses:  s.hotMisses.Load(),
		ColdHits:   s.coldHits.Load(),
		ColdMisses: s.coldMisses.Load(),
	}
}

// =============================================================================
// Interactions
// =============================================================================

// SaveInteractions replaces the stored snapshot for a dataset. Duplicate
// (user, item) pairs keep the last record.
func (s *Store) SaveInteractions(dataset string, records []affinity.Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM interactions WHERE dataset = ?`, dataset); err != nil {
		return fmt.Errorf("store: clear interactions: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO interactions (dataset, user_id, item_id, rating, timestamp)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.Exec(dataset, r.UserID, r.ItemID, r.Rating, r.Timestamp); err != nil {
			return fmt.Errorf("store: insert interaction: %w", err)
		}
	}
	return tx.Commit()
}

// LoadInteractions returns a dataset's snapshot ordered by (user, item).
func (s *Store) LoadInteractions(dataset string) ([]affinity.Record, error) {
	rows, err := s.db.Query(`
		SELECT user_id, item_id, rating, timestamp
		FROM interactions WHERE dataset = ?
		ORDER BY user_id, item_id
	`, dataset)
	if err != nil {
		return nil, fmt.Errorf("store: query interactions: %w", err)
	}
	defer rows.Close()

	var out []affinity.Record
	for rows.Next() {
		var r affinity.Record
		if err := rows.Scan(&r.UserID, &r.ItemID, &r.Rating, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan interaction: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate interactions: %w", err)
	}
	return out, nil
}

// =============================================================================
// Runs
// =============================================================================

// SaveRun records a training run and its evaluation scores.
func (s *Store) SaveRun(run Run) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs
		(id, dataset, created_at, config, k, epochs, best_epoch,
		 precision_at_k, recall_at_k, map_at_k, ndcg_at_k)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Dataset, run.CreatedAt, run.Config, run.K, run.Epochs, run.BestEpoch,
		run.Precision, run.Recall, run.MAP, run.NDCG)
	if err != nil {
		return fmt.Errorf("store: save run: %w", err)
	}
	return nil
}

// LoadRun returns one run by id, or ErrNotFound.
func (s *Store) LoadRun(id string) (Run, error) {
	row := s.db.QueryRow(`
		SELECT id, dataset, created_at, config, k, epochs, best_epoch,
		       precision_at_k, recall_at_k, map_at_k, ndcg_at_k
		FROM runs WHERE id = ?
	`, id)

	var run Run
	err := row.Scan(&run.ID, &run.Dataset, &run.CreatedAt, &run.Config, &run.K, &run.Epochs,
		&run.BestEpoch, &run.Precision, &run.Recall, &run.MAP, &run.NDCG)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: run %s", ErrNotFound, id)
	}
	if err != nil {
		return Run{}, fmt.Errorf("store: load run: %w", err)
	}
	return run, nil
}

// Runs lists all recorded runs, newest first.
func (s *Store) Runs() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, dataset, created_at, config, k, epochs, best_epoch,
		       precision_at_k, recall_at_k, map_at_k, ndcg_at_k
		FROM runs ORDER BY created_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("store: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.Dataset, &run.CreatedAt, &run.Config, &run.K, &run.Epochs,
			&run.BestEpoch, &run.Precision, &run.Recall, &run.MAP, &run.NDCG); err != nil {
			return nil, fmt.Errorf("store: scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate runs: %w", err)
	}
	return out, nil
}

// =============================================================================
// Recommendations
// =============================================================================

// SaveRecommendations stores a run's recommendation table.
func (s *Store) SaveRecommendations(runID string, recs []ranking.RankedItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO recommendations (run_id, user_id, item_id, score, position)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		if _, err := stmt.Exec(runID, r.User, r.Item, r.Score, r.Rank); err != nil {
			return fmt.Errorf("store: insert recommendation: %w", err)
		}
	}
	return tx.Commit()
}

// Recommendations returns one user's ranked list for a run, rank ascending.
// Reads go through the hot cache; a miss falls back to SQLite and warms the
// cache before returning.
func (s *Store) Recommendations(runID, userID string) ([]ranking.RankedItem, error) {
	key := "rec:" + runID + ":" + userID
	if val, ok := s.cache.Get(key); ok {
		if recs, ok := val.([]ranking.RankedItem); ok {
			s.hotHits.Add(1)
			out := make([]ranking.RankedItem, len(recs))
			copy(out, recs)
			return out, nil
		}
	}
	s.hotMisses.Add(1)

	rows, err := s.db.Query(`
		SELECT user_id, item_id, score, position
		FROM recommendations
		WHERE run_id = ? AND user_id = ?
		ORDER BY position
	`, runID, userID)
	if err != nil {
		return nil, fmt.Errorf("store: query recommendations: %w", err)
	}
	defer rows.Close()

	var recs []ranking.RankedItem
	for rows.Next() {
		var r ranking.RankedItem
		if err := rows.Scan(&r.User, &r.Item, &r.Score, &r.Rank); err != nil {
			return nil, fmt.Errorf("store: scan recommendation: %w", err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate recommendations: %w", err)
	}
	if len(recs) == 0 {
		s.coldMisses.Add(1)
		return nil, nil
	}
	s.coldHits.Add(1)

	s.cache.Set(key, recs, recCost(recs))
	// Make the fill visible before returning so the next read hits hot.
	s.cache.Wait()

	out := make([]ranking.RankedItem, len(recs))
	copy(out, recs)
	return out, nil
}

// RecommendationUsers lists the users with stored recommendations for a run.
func (s *Store) RecommendationUsers(runID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT user_id FROM recommendations
		WHERE run_id = ? ORDER BY user_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: query recommendation users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("store: scan recommendation user: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate recommendation users: %w", err)
	}
	return users, nil
}

func recCost(recs []ranking.RankedItem) int64 {
	cost := int64(64)
	for _, r := range recs {
		cost += int64(48 + len(r.User) + len(r.Item))
	}
	return cost
}
