package store

import (
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strconv"
	"strings"

	"mementor/internal/logging"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// CurrentSchemaVersion is the version stamped after all embedded migrations
// have applied. A CI-side check (external to the engine) guarantees the
// snapshot equals the sum of the numbered migrations; the engine itself only
// ever applies what's missing.
const CurrentSchemaVersion = 1

// RunMigrations brings db up to CurrentSchemaVersion, applying each embedded
// migration file in ascending numeric order that has not already run. A
// fresh database applies 0001_init.sql (the full snapshot) and is stamped
// directly; an existing database applies only what's missing.
func RunMigrations(db *sql.DB) error {
	timer := logging.StartTimer(logging.CategoryStore, "RunMigrations")
	defer timer.Stop()

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading embedded migrations: %w", err)
	}

	type migration struct {
		version int
		name    string
	}
	var ordered []migration
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		v, ok := parseMigrationVersion(e.Name())
		if !ok {
			continue
		}
		ordered = append(ordered, migration{version: v, name: e.Name()})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].version < ordered[j].version })

	current := GetSchemaVersion(db)
	logging.Store("running migrations: current=%d target=%d", current, CurrentSchemaVersion)

	for _, m := range ordered {
		if m.version <= current {
			continue
		}
		data, err := migrationFS.ReadFile(path.Join("migrations", m.name))
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", m.name, err)
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning migration transaction for %s: %w", m.name, err)
		}
		if _, err := tx.Exec(string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("applying migration %s: %w", m.name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version(version) VALUES (?)", m.version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("stamping schema version %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", m.name, err)
		}
		logging.Store("applied migration %s (version %d)", m.name, m.version)
	}

	return nil
}

// parseMigrationVersion extracts the leading numeric prefix of a migration
// filename, e.g. "0001_init.sql" -> 1.
func parseMigrationVersion(name string) (int, bool) {
	base := strings.TrimSuffix(name, ".sql")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) == 0 {
		return 0, false
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}
	return v, true
}

// tableExists checks if a table exists in the database.
func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
	).Scan(&count)
	return err == nil && count > 0
}

// columnExists checks if a column exists in a table using PRAGMA table_info.
func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

// GetSchemaVersion returns the highest applied migration version, or 0 for a
// database that predates schema_version tracking entirely.
func GetSchemaVersion(db *sql.DB) int {
	if !tableExists(db, "schema_version") {
		return 0
	}
	var version int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return 0
	}
	return version
}
