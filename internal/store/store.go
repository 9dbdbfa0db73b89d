// Package store provides the SQLite-backed persistence layer for Mementor:
// sessions, entries, turns, chunks, structured metadata, and the vector and
// trigram indices search is served from.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"mementor/internal/embedding"
	"mementor/internal/logging"
)

// Store wraps the SQLite database backing every index described in the
// transcript-to-index pipeline.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string

	embeddingEngine embedding.Engine
	vectorExt       bool
}

// Open initializes the SQLite database at path, creating it and its parent
// directory if necessary, and brings the schema up to CurrentSchemaVersion.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("opening store at %s", path)

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating store directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.StoreDebug("pragma failed %q: %v", pragma, err)
		}
	}

	s := &Store{db: db, dbPath: path}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	s.detectVecExtension()

	logging.Store("store ready at %s (vector_ext=%v)", path, s.vectorExt)
	return s, nil
}

// SetEmbeddingEngine records engine on the Store. Nothing in this package
// reads it; the centroid and query engines are given their embedder directly.
func (s *Store) SetEmbeddingEngine(engine embedding.Engine) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.embeddingEngine = engine
	s.mu.Unlock()
}

// DB returns the underlying database handle for packages that issue their
// own queries against it (centroid, ingest, query).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("closing store")
	return s.db.Close()
}

// detectVecExtension probes whether the vec0 virtual table and
// vector_distance_cos scalar function actually work end to end: it creates a
// scratch table, inserts a known vector, and checks that a self-distance
// query returns ~0. A CREATE that succeeds but an unusable runtime (a
// mismatched or half-registered extension) would otherwise go unnoticed
// until the first real query.
func (s *Store) detectVecExtension() {
	if s.db == nil {
		return
	}
	defer func() {
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
	}()

	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err != nil {
		s.vectorExt = false
		return
	}

	probe := EncodeEmbedding([]float32{1, 0, 0, 0})
	if _, err := s.db.Exec(`INSERT INTO vec_probe(rowid, embedding, turn_id, chunk_id) VALUES (1, ?, 0, 0)`, probe); err != nil {
		logging.StoreDebug("vec_probe insert failed: %v", err)
		s.vectorExt = false
		return
	}

	var distance float64
	err := s.db.QueryRow(`SELECT vector_distance_cos(embedding, ?) FROM vec_probe WHERE rowid = 1`, probe).Scan(&distance)
	if err != nil || distance > 1e-6 {
		logging.StoreDebug("vec_probe self-distance check failed: err=%v distance=%v", err, distance)
		s.vectorExt = false
		return
	}
	s.vectorExt = true
}

// CosineSimilarity computes cosine similarity between two equal-length vectors.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Stats reports row counts across the core tables, used by operational
// tooling and tests to assert on ingest side effects.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"sessions", "entries", "turns", "chunks", "file_mentions",
		"pr_links", "resource_embeddings", "session_access_patterns",
		"turn_access_patterns", "subagent_cursors",
	}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("stats: table %s unavailable: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
