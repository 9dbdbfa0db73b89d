// Package query implements the Query Engine: five read-only
// families over the store built by internal/ingest, sharing one result
// shape and one pagination contract.
package query

import (
	"context"
	"database/sql"
	"math"
	"sort"
	"unicode/utf8"

	"mementor/internal/centroid"
	"mementor/internal/config"
	"mementor/internal/embedding"
	"mementor/internal/logging"
	"mementor/internal/mention"
	"mementor/internal/merr"
	"mementor/internal/store"
)

// MatchKind identifies which query family produced a Result, since the
// same Result shape is shared across all of them.
type MatchKind string

const (
	MatchVector   MatchKind = "vector"
	MatchFTS      MatchKind = "fts"
	MatchFile     MatchKind = "file"
	MatchPR       MatchKind = "pr"
	MatchFileOnly MatchKind = "file_only"
)

// Result is one turn matched by a query family, ranked ascending by
// Distance (smaller is more similar). For FTS results Distance holds the
// engine's raw rank, which is not on the cosine-distance scale.
type Result struct {
	TurnID      int64
	SessionID   string
	StartLine   int
	EndLine     int
	FullText    string
	ToolSummary string
	AgentID     string
	Distance    float64
	Kind        MatchKind
}

// Page is one (offset, limit) slice of a family's results plus the total
// count before pagination.
type Page struct {
	Results []Result
	Total   int
	Offset  int
	Limit   int
}

// SessionMatch is one result of find-related-sessions.
type SessionMatch struct {
	SessionID string
	Distance  float64
}

// TurnWindowMatch is one result of find-related-turns: the best-scoring
// window of consecutive turns within a candidate session.
type TurnWindowMatch struct {
	SessionID string
	TurnIDs   []int64
	Distance  float64
	Degraded  bool
}

// CommitLister is the external collaborator find-by-commit needs: given a
// commit hash, it returns the files that commit touched. Mementor has no
// git integration of its own; callers inject one (e.g. a `git show
// --name-only` wrapper) so find-by-commit can feed each path into
// find-by-file.
type CommitLister interface {
	FilesForCommit(ctx context.Context, commitHash string) ([]string, error)
}

// Engine answers all five query families against st, embedding query text
// with emb (Query mode) and reusing cen for on-demand centroid computation.
type Engine struct {
	st   *store.Store
	emb  embedding.Engine
	cen  *centroid.Engine
	qcfg config.QueryConfig
	ccfg config.CentroidConfig
}

// New returns a query Engine. cen may be nil only for callers that never
// exercise find-related-sessions/turns.
func New(st *store.Store, emb embedding.Engine, cen *centroid.Engine, qcfg config.QueryConfig, ccfg config.CentroidConfig) *Engine {
	return &Engine{st: st, emb: emb, cen: cen, qcfg: qcfg, ccfg: ccfg}
}

func clampPage(offset, limit, defaultLimit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return offset, limit
}

// VectorSearch embeds queryText in Query mode, full-scans the chunks table,
// dedups by owning turn keeping the minimum distance, and returns turns
// ascending by distance with MaxCosineDistance filtering noise.
func (e *Engine) VectorSearch(ctx context.Context, queryText string, offset, limit int) (Page, error) {
	offset, limit = clampPage(offset, limit, e.qcfg.DefaultPageSize)

	vec, err := embedQuery(ctx, e.emb, queryText)
	if err != nil {
		return Page{}, err
	}
	blob := store.EncodeEmbedding(vec)

	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT t.turn_id, t.session_id, t.start_line, t.end_line, t.full_text, t.agent_id,
		       MIN(vector_distance_cos(c.embedding, ?)) AS distance
		FROM chunks c
		JOIN turns t ON t.turn_id = c.turn_id
		GROUP BY t.turn_id
		HAVING distance <= ?
		ORDER BY distance ASC
	`, blob, e.qcfg.MaxCosineDistance)
	if err != nil {
		return Page{}, merr.Wrap(merr.Storage, "vector search scan failed", err)
	}
	defer rows.Close()

	var all []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.StartLine, &r.EndLine, &r.FullText, &r.AgentID, &r.Distance); err != nil {
			return Page{}, merr.Wrap(merr.Storage, "scanning vector search row", err)
		}
		r.Kind = MatchVector
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return Page{}, merr.Wrap(merr.Storage, "iterating vector search rows", err)
	}

	logging.QueryDebug("vector search %q: %d turns within cutoff %.3f", queryText, len(all), e.qcfg.MaxCosineDistance)
	return paginate(all, offset, limit), nil
}

// FullTextSearch matches the trigram index directly and ranks ascending by
// the engine's own relevance score, stored as-is in Distance. A query
// shorter than three characters, which a trigram MATCH cannot find, is run
// as a substring LIKE over the same index instead, every hit ranked 0.
func (e *Engine) FullTextSearch(ctx context.Context, queryText string, offset, limit int) (Page, error) {
	offset, limit = clampPage(offset, limit, e.qcfg.DefaultPageSize)

	ftsSQL := `
		SELECT t.turn_id, t.session_id, t.start_line, t.end_line, t.full_text, t.agent_id, f.rank
		FROM turns_fts f
		JOIN turns t ON t.turn_id = f.rowid
		WHERE turns_fts MATCH ?
		ORDER BY f.rank ASC
	`
	arg := queryText
	if utf8.RuneCountInString(queryText) < 3 {
		ftsSQL = `
		SELECT t.turn_id, t.session_id, t.start_line, t.end_line, t.full_text, t.agent_id, 0.0
		FROM turns_fts f
		JOIN turns t ON t.turn_id = f.rowid
		WHERE f.full_text LIKE ?
		ORDER BY t.turn_id ASC
	`
		arg = "%" + queryText + "%"
	}
	rows, err := e.st.DB().QueryContext(ctx, ftsSQL, arg)
	if err != nil {
		return Page{}, merr.Wrap(merr.Storage, "fts search failed", err)
	}
	defer rows.Close()

	var all []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.StartLine, &r.EndLine, &r.FullText, &r.AgentID, &r.Distance); err != nil {
			return Page{}, merr.Wrap(merr.Storage, "scanning fts row", err)
		}
		r.Kind = MatchFTS
		all = append(all, r)
	}
	if err := rows.Err(); err != nil {
		return Page{}, merr.Wrap(merr.Storage, "iterating fts rows", err)
	}

	logging.QueryDebug("fts search %q: %d matches", queryText, len(all))
	return paginate(all, offset, limit), nil
}

// FindByFile normalizes rawPath against projectRoot/projectDir and returns
// every turn that mentioned it, most recent first.
func (e *Engine) FindByFile(ctx context.Context, rawPath, projectRoot, projectDir string, offset, limit int) (Page, error) {
	offset, limit = clampPage(offset, limit, e.qcfg.DefaultPageSize)

	path, ok := mention.Normalize(rawPath, projectRoot, projectDir)
	if !ok {
		path = rawPath
	}

	all, err := e.turnsByFilePath(ctx, path)
	if err != nil {
		return Page{}, err
	}
	return paginate(all, offset, limit), nil
}

// FindByCommit asks lister for the files commitHash touched and unions
// find-by-file results across them, deduped by turn.
func (e *Engine) FindByCommit(ctx context.Context, commitHash string, lister CommitLister, projectRoot, projectDir string, offset, limit int) (Page, error) {
	offset, limit = clampPage(offset, limit, e.qcfg.DefaultPageSize)

	files, err := lister.FilesForCommit(ctx, commitHash)
	if err != nil {
		return Page{}, merr.Wrap(merr.External, "listing files for commit "+commitHash, err)
	}

	seen := make(map[int64]bool)
	var all []Result
	for _, f := range files {
		path, ok := mention.Normalize(f, projectRoot, projectDir)
		if !ok {
			path = f
		}
		results, err := e.turnsByFilePath(ctx, path)
		if err != nil {
			return Page{}, err
		}
		for _, r := range results {
			if seen[r.TurnID] {
				continue
			}
			seen[r.TurnID] = true
			all = append(all, r)
		}
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].StartLine > all[j].StartLine })
	return paginate(all, offset, limit), nil
}

// FindByPR looks up pr_links by number and returns the session it belongs
// to alongside the link metadata.
func (e *Engine) FindByPR(ctx context.Context, prNumber int) (sessionID, prURL, prRepository string, found bool, err error) {
	row := e.st.DB().QueryRowContext(ctx,
		`SELECT session_id, COALESCE(pr_url, ''), COALESCE(pr_repository, '') FROM pr_links WHERE pr_number = ?`, prNumber)
	switch scanErr := row.Scan(&sessionID, &prURL, &prRepository); scanErr {
	case nil:
		return sessionID, prURL, prRepository, true, nil
	case sql.ErrNoRows:
		return "", "", "", false, nil
	default:
		return "", "", "", false, merr.Wrap(merr.Storage, "looking up pr link", scanErr)
	}
}

func (e *Engine) turnsByFilePath(ctx context.Context, path string) ([]Result, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT DISTINCT t.turn_id, t.session_id, t.start_line, t.end_line, t.full_text, t.agent_id
		FROM file_mentions fm
		JOIN turns t ON t.turn_id = fm.turn_id
		WHERE fm.file_path = ?
		ORDER BY t.start_line DESC
	`, path)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "finding turns by file", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.StartLine, &r.EndLine, &r.FullText, &r.AgentID); err != nil {
			return nil, merr.Wrap(merr.Storage, "scanning file-mention turn", err)
		}
		r.Kind = MatchFile
		out = append(out, r)
	}
	return out, rows.Err()
}

// FindRelatedSessions ensures sessionID's centroid exists, then vector
// full-scans session_access_patterns and returns the rest ordered ascending
// by distance. With UseWindowedCentroid set, the querying side uses the
// centroid of its most recent RecentWindow turns instead of its full one.
func (e *Engine) FindRelatedSessions(ctx context.Context, sessionID string, offset, limit int) ([]SessionMatch, error) {
	offset, limit = clampPage(offset, limit, e.ccfg.RelatedSessionCandidates)

	window := 0
	if e.ccfg.UseWindowedCentroid {
		window = e.ccfg.RecentWindow
	}
	centroidVec, _, err := e.cen.SessionCentroid(ctx, sessionID, window)
	if err != nil {
		return nil, err
	}
	if centroidVec == nil {
		return nil, nil
	}
	blob := store.EncodeEmbedding(centroidVec)

	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT session_id, vector_distance_cos(centroid, ?) AS distance
		FROM session_access_patterns
		WHERE session_id != ?
		ORDER BY distance ASC
	`, blob, sessionID)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "related-sessions full_scan failed", err)
	}
	defer rows.Close()

	var all []SessionMatch
	for rows.Next() {
		var m SessionMatch
		if err := rows.Scan(&m.SessionID, &m.Distance); err != nil {
			return nil, merr.Wrap(merr.Storage, "scanning related-session row", err)
		}
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return nil, merr.Wrap(merr.Storage, "iterating related-session rows", err)
	}

	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// FindRelatedTurns is the two-stage query family 5: stage 1 narrows to the
// top RelatedSessionCandidates sessions by centroid distance; stage 2 slides a
// window of windowSize turns over each candidate's TurnAccessPattern rows
// and keeps the best-scoring window, ordered ascending. A querying session
// with fewer than windowSize turns uses all of its turns and the returned
// match is flagged Degraded. Each candidate's turn centroids are computed on
// first access here, since turn_access_patterns is never populated at
// ingest time.
func (e *Engine) FindRelatedTurns(ctx context.Context, sessionID string, windowSize int) ([]TurnWindowMatch, error) {
	if windowSize <= 0 {
		windowSize = e.ccfg.RecentWindow
	}

	queryCentroid, _, err := e.cen.SessionCentroid(ctx, sessionID, windowSize)
	if err != nil {
		return nil, err
	}
	var turnCount int
	if err := e.st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&turnCount); err != nil {
		return nil, merr.Wrap(merr.Storage, "counting querying session turns", err)
	}
	degraded := turnCount < windowSize
	if queryCentroid == nil {
		return nil, nil
	}

	candidates, err := e.FindRelatedSessions(ctx, sessionID, 0, e.ccfg.RelatedSessionCandidates)
	if err != nil {
		return nil, err
	}

	var matches []TurnWindowMatch
	for _, cand := range candidates {
		if err := e.cen.EnsureTurnCentroids(ctx, cand.SessionID); err != nil {
			return nil, err
		}
		turnIDs, centroids, err := e.sessionTurnCentroids(ctx, cand.SessionID)
		if err != nil {
			return nil, err
		}
		if len(turnIDs) == 0 {
			continue
		}

		best := bestWindow(turnIDs, centroids, queryCentroid, windowSize)
		best.SessionID = cand.SessionID
		best.Degraded = best.Degraded || degraded
		matches = append(matches, best)
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	return matches, nil
}

func (e *Engine) sessionTurnCentroids(ctx context.Context, sessionID string) ([]int64, [][]float32, error) {
	rows, err := e.st.DB().QueryContext(ctx, `
		SELECT tap.turn_id, tap.centroid
		FROM turn_access_patterns tap
		JOIN turns t ON t.turn_id = tap.turn_id
		WHERE t.session_id = ?
		ORDER BY t.start_line ASC
	`, sessionID)
	if err != nil {
		return nil, nil, merr.Wrap(merr.Storage, "reading turn centroids", err)
	}
	defer rows.Close()

	var ids []int64
	var vecs [][]float32
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, merr.Wrap(merr.Storage, "scanning turn centroid", err)
		}
		vec, err := store.DecodeEmbedding(blob)
		if err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		vecs = append(vecs, vec)
	}
	return ids, vecs, rows.Err()
}

// bestWindow slides a window of size windowSize over centroids and keeps
// the one with the smallest cosine distance to query. A session with fewer
// turns than windowSize uses all of them in a single, degraded window.
func bestWindow(turnIDs []int64, centroids [][]float32, query []float32, windowSize int) TurnWindowMatch {
	if len(turnIDs) < windowSize {
		return TurnWindowMatch{TurnIDs: append([]int64(nil), turnIDs...), Distance: cosineDistance(windowMean(centroids), query), Degraded: true}
	}

	best := TurnWindowMatch{Distance: 2} // cosine distance maxes at 2
	for start := 0; start+windowSize <= len(turnIDs); start++ {
		window := centroids[start : start+windowSize]
		d := cosineDistance(windowMean(window), query)
		if d < best.Distance {
			best = TurnWindowMatch{TurnIDs: append([]int64(nil), turnIDs[start:start+windowSize]...), Distance: d}
		}
	}
	return best
}

// windowMean returns the unnormalized component-wise mean of vecs; cosine
// distance is scale-invariant so normalization isn't needed here the way
// it is for a stored centroid.
func windowMean(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	sum := make([]float32, len(vecs[0]))
	for _, v := range vecs {
		for i, f := range v {
			sum[i] += f
		}
	}
	n := float32(len(vecs))
	for i := range sum {
		sum[i] /= n
	}
	return sum
}

func cosineDistance(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 2
	}
	cos := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return 1 - cos
}

// SegmentBoundaries returns the line indices of every compact_boundary
// entry in sessionID, ascending.
func (e *Engine) SegmentBoundaries(ctx context.Context, sessionID string) ([]int, error) {
	rows, err := e.st.DB().QueryContext(ctx,
		`SELECT line_index FROM entries WHERE session_id = ? AND entry_type = 'compact_boundary' ORDER BY line_index ASC`,
		sessionID)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "reading compaction boundaries", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var idx int
		if err := rows.Scan(&idx); err != nil {
			return nil, merr.Wrap(merr.Storage, "scanning boundary line", err)
		}
		out = append(out, idx)
	}
	return out, rows.Err()
}

// SegmentTurns returns the turns of sessionID whose start_line falls within
// compaction segment index segment (0-based): segment 0 is before the first
// boundary, segment i is (boundaries[i-1], boundaries[i]] for i>0.
func (e *Engine) SegmentTurns(ctx context.Context, sessionID string, segment int) ([]Result, error) {
	boundaries, err := e.SegmentBoundaries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if segment < 0 || segment >= len(boundaries) {
		return nil, merr.New(merr.Invariant, "segment index out of range")
	}

	lower := -1
	if segment > 0 {
		lower = boundaries[segment-1]
	}
	upper := boundaries[segment]
	return e.turnsInRange(ctx, sessionID, lower, upper, true)
}

// CurrentSegmentTurns returns the turns of sessionID after the last
// compact_boundary (or every turn, if the session never compacted).
func (e *Engine) CurrentSegmentTurns(ctx context.Context, sessionID string) ([]Result, error) {
	boundaries, err := e.SegmentBoundaries(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	lower := -1
	if len(boundaries) > 0 {
		lower = boundaries[len(boundaries)-1]
	}
	return e.turnsInRange(ctx, sessionID, lower, -1, false)
}

func (e *Engine) turnsInRange(ctx context.Context, sessionID string, lower, upper int, upperInclusive bool) ([]Result, error) {
	query := `SELECT turn_id, session_id, start_line, end_line, full_text, agent_id FROM turns
		WHERE session_id = ? AND start_line > ?`
	args := []interface{}{sessionID, lower}
	if upper >= 0 {
		if upperInclusive {
			query += ` AND start_line <= ?`
		} else {
			query += ` AND start_line < ?`
		}
		args = append(args, upper)
	}
	query += ` ORDER BY start_line ASC`

	rows, err := e.st.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, merr.Wrap(merr.Storage, "reading segment turns", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.TurnID, &r.SessionID, &r.StartLine, &r.EndLine, &r.FullText, &r.AgentID); err != nil {
			return nil, merr.Wrap(merr.Storage, "scanning segment turn", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// HybridRank merges vector/FTS results with file-only matches, assigning
// the latter FileOnlyPseudoDistance so they sort behind real semantic
// matches but ahead of the cutoff, then dedups by turn key.
func (e *Engine) HybridRank(semantic []Result, fileOnly []Result) []Result {
	seen := make(map[int64]bool, len(semantic))
	out := make([]Result, 0, len(semantic)+len(fileOnly))
	for _, r := range semantic {
		if seen[r.TurnID] {
			continue
		}
		seen[r.TurnID] = true
		out = append(out, r)
	}
	for _, r := range fileOnly {
		if seen[r.TurnID] {
			continue
		}
		seen[r.TurnID] = true
		r.Distance = e.qcfg.FileOnlyPseudoDistance
		r.Kind = MatchFileOnly
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

func paginate(all []Result, offset, limit int) Page {
	total := len(all)
	if offset >= total {
		return Page{Total: total, Offset: offset, Limit: limit}
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return Page{Results: all[offset:end], Total: total, Offset: offset, Limit: limit}
}

func embedQuery(ctx context.Context, eng embedding.Engine, text string) ([]float32, error) {
	if aware, ok := eng.(embedding.ModeAwareEngine); ok {
		return aware.EmbedWithMode(ctx, text, embedding.Query)
	}
	return eng.Embed(ctx, text)
}

