// Package centroid computes and caches per-session and per-turn file-access
// centroids: unit vectors representing which resources a turn
// or session touched, independent of conversation wording.
package centroid

import (
	"context"
	"database/sql"

	"mementor/internal/embedding"
	"mementor/internal/logging"
	"mementor/internal/merr"
	"mementor/internal/store"
)

// Engine computes centroids lazily, backed by the process-wide
// ResourceEmbedding cache.
type Engine struct {
	st  *store.Store
	emb embedding.Engine
}

// New returns a centroid Engine over st, embedding resource strings with emb
// in Passage mode.
func New(st *store.Store, emb embedding.Engine) *Engine {
	return &Engine{st: st, emb: emb}
}

// resourceEmbedding looks up a cached embedding for resource, computing and
// caching it on miss. Cache entries are never deleted by the engine.
func (e *Engine) resourceEmbedding(ctx context.Context, resource string) ([]float32, error) {
	row := e.st.DB().QueryRowContext(ctx, `SELECT embedding FROM resource_embeddings WHERE resource = ?`, resource)
	var blob []byte
	switch err := row.Scan(&blob); err {
	case nil:
		return store.DecodeEmbedding(blob)
	case sql.ErrNoRows:
		// fall through to compute
	default:
		return nil, merr.Wrap(merr.Storage, "reading resource embedding cache", err)
	}

	vec, err := embedMode(ctx, e.emb, resource, embedding.Passage)
	if err != nil {
		return nil, err
	}
	blob = store.EncodeEmbedding(vec)
	if _, err := e.st.DB().ExecContext(ctx,
		`INSERT OR IGNORE INTO resource_embeddings(resource, embedding) VALUES (?, ?)`, resource, blob); err != nil {
		return nil, merr.Wrap(merr.Storage, "caching resource embedding", err)
	}
	logging.CentroidDebug("cached resource embedding for %q", resource)
	return vec, nil
}

func embedMode(ctx context.Context, eng embedding.Engine, text string, mode embedding.Mode) ([]float32, error) {
	if aware, ok := eng.(embedding.ModeAwareEngine); ok {
		return aware.EmbedWithMode(ctx, text, mode)
	}
	return eng.Embed(ctx, text)
}

// mean returns the component-wise mean of vecs, unit-normalized. Returns
// (nil, 0) for an empty input, signaling "no centroid row".
func mean(vecs [][]float32) ([]float32, int) {
	if len(vecs) == 0 {
		return nil, 0
	}
	dim := len(vecs[0])
	sum := make([]float32, dim)
	for _, v := range vecs {
		for i, f := range v {
			sum[i] += f
		}
	}
	n := float32(len(vecs))
	for i := range sum {
		sum[i] /= n
	}
	return embedding.Normalize(sum), len(vecs)
}

// TurnCentroid computes and stores turnID's centroid from the distinct
// resources its file_mentions touched. A turn with zero resources gets no
// centroid row.
func (e *Engine) TurnCentroid(ctx context.Context, turnID int64) error {
	rows, err := e.st.DB().QueryContext(ctx,
		`SELECT DISTINCT file_path FROM file_mentions WHERE turn_id = ?`, turnID)
	if err != nil {
		return merr.Wrap(merr.Storage, "reading turn file mentions", err)
	}
	defer rows.Close()

	var resources []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return merr.Wrap(merr.Storage, "scanning file mention", err)
		}
		resources = append(resources, path)
	}

	if len(resources) == 0 {
		return nil
	}

	vecs := make([][]float32, 0, len(resources))
	for _, r := range resources {
		v, err := e.resourceEmbedding(ctx, r)
		if err != nil {
			return err
		}
		vecs = append(vecs, v)
	}

	centroid, count := mean(vecs)
	if centroid == nil {
		return nil
	}
	blob := store.EncodeEmbedding(centroid)
	_, err = e.st.DB().ExecContext(ctx,
		`INSERT INTO turn_access_patterns(turn_id, centroid, resource_count) VALUES (?, ?, ?)
		 ON CONFLICT(turn_id) DO UPDATE SET centroid = excluded.centroid, resource_count = excluded.resource_count, computed_at = CURRENT_TIMESTAMP`,
		turnID, blob, count)
	if err != nil {
		return merr.Wrap(merr.Storage, "storing turn centroid", err)
	}
	return nil
}

// EnsureTurnCentroids computes and stores a turn_access_patterns row for
// every turn in sessionID that doesn't already have one. Turn centroids are
// never computed during ingest; find-related-turns calls this to backfill
// them lazily the first time a session is queried as a candidate.
func (e *Engine) EnsureTurnCentroids(ctx context.Context, sessionID string) error {
	rows, err := e.st.DB().QueryContext(ctx,
		`SELECT t.turn_id FROM turns t
		 LEFT JOIN turn_access_patterns tap ON tap.turn_id = t.turn_id
		 WHERE t.session_id = ? AND tap.turn_id IS NULL`, sessionID)
	if err != nil {
		return merr.Wrap(merr.Storage, "finding turns missing centroids", err)
	}
	var missing []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return merr.Wrap(merr.Storage, "scanning turn id", err)
		}
		missing = append(missing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for _, turnID := range missing {
		if err := e.TurnCentroid(ctx, turnID); err != nil {
			return err
		}
	}
	return nil
}

// SessionCentroid computes and stores sessionID's centroid as the mean of
// its turns' resources. When windowed is >0, only the most recent `windowed`
// turns (by start_line) are considered and the result is never persisted —
// windowed centroids are always recomputed from scratch and
// represent a point-in-time view, not the session's running centroid.
func (e *Engine) SessionCentroid(ctx context.Context, sessionID string, windowed int) ([]float32, int, error) {
	turnRows, err := e.recentTurnIDs(ctx, sessionID, windowed)
	if err != nil {
		return nil, 0, err
	}

	resourceSet := make(map[string]bool)
	for _, turnID := range turnRows {
		rows, err := e.st.DB().QueryContext(ctx,
			`SELECT DISTINCT file_path FROM file_mentions WHERE turn_id = ?`, turnID)
		if err != nil {
			return nil, 0, merr.Wrap(merr.Storage, "reading turn file mentions", err)
		}
		for rows.Next() {
			var path string
			if err := rows.Scan(&path); err != nil {
				rows.Close()
				return nil, 0, merr.Wrap(merr.Storage, "scanning file mention", err)
			}
			resourceSet[path] = true
		}
		rows.Close()
	}

	if len(resourceSet) == 0 {
		return nil, 0, nil
	}

	vecs := make([][]float32, 0, len(resourceSet))
	for r := range resourceSet {
		v, err := e.resourceEmbedding(ctx, r)
		if err != nil {
			return nil, 0, err
		}
		vecs = append(vecs, v)
	}
	centroid, count := mean(vecs)

	if windowed <= 0 && centroid != nil {
		blob := store.EncodeEmbedding(centroid)
		_, err = e.st.DB().ExecContext(ctx,
			`INSERT INTO session_access_patterns(session_id, centroid, resource_count) VALUES (?, ?, ?)
			 ON CONFLICT(session_id) DO UPDATE SET centroid = excluded.centroid, resource_count = excluded.resource_count, computed_at = CURRENT_TIMESTAMP`,
			sessionID, blob, count)
		if err != nil {
			return nil, 0, merr.Wrap(merr.Storage, "storing session centroid", err)
		}
	}

	return centroid, count, nil
}

func (e *Engine) recentTurnIDs(ctx context.Context, sessionID string, windowed int) ([]int64, error) {
	query := `SELECT turn_id FROM turns WHERE session_id = ? ORDER BY start_line DESC`
	if windowed > 0 {
		query += ` LIMIT ?`
	}
	var rows *sql.Rows
	var err error
	if windowed > 0 {
		rows, err = e.st.DB().QueryContext(ctx, query, sessionID, windowed)
	} else {
		rows, err = e.st.DB().QueryContext(ctx, query, sessionID)
	}
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "reading session turns", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, merr.Wrap(merr.Storage, "scanning turn id", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
