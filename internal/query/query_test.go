package query

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"mementor/internal/centroid"
	"mementor/internal/config"
	"mementor/internal/embedding"
	"mementor/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store, embedding.Engine) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mementor.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb, err := embedding.NewEngine(embedding.DefaultConfig())
	require.NoError(t, err)

	cen := centroid.New(st, emb)
	cfg := config.DefaultConfig()
	return New(st, emb, cen, cfg.Query, cfg.Centroid), st, emb
}

func seedSession(t *testing.T, st *store.Store, sessionID string) {
	t.Helper()
	_, err := st.DB().Exec(`INSERT INTO sessions(session_id, transcript_path, project_root) VALUES (?, ?, ?)
		ON CONFLICT(session_id) DO NOTHING`, sessionID, "/tmp/t.jsonl", "/proj")
	require.NoError(t, err)
}

func seedTurn(t *testing.T, st *store.Store, sessionID string, startLine int, fullText string) int64 {
	t.Helper()
	seedSession(t, st, sessionID)
	res, err := st.DB().Exec(`INSERT INTO turns(session_id, start_line, end_line, full_text) VALUES (?, ?, ?, ?)`,
		sessionID, startLine, startLine+1, fullText)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return id
}

func seedChunk(t *testing.T, st *store.Store, turnID int64, chunkIndex int, vec []float32) {
	t.Helper()
	_, err := st.DB().Exec(`INSERT INTO chunks(turn_id, chunk_index, embedding) VALUES (?, ?, ?)`,
		turnID, chunkIndex, store.EncodeEmbedding(vec))
	require.NoError(t, err)
}

func seedMention(t *testing.T, st *store.Store, turnID int64, path, tool string) {
	t.Helper()
	_, err := st.DB().Exec(`INSERT INTO file_mentions(turn_id, file_path, tool_name) VALUES (?, ?, ?)`, turnID, path, tool)
	require.NoError(t, err)
}

// symmetricEngine implements only embedding.Engine (no ModeAwareEngine), so
// the same text always embeds to the same vector regardless of query vs.
// passage context — isolating an exact-seed match from the hashing
// fallback's deliberate, model-specific mode skew.
type symmetricEngine struct {
	inner embedding.Engine
}

func (s symmetricEngine) Embed(ctx context.Context, text string) ([]float32, error) { return s.inner.Embed(ctx, text) }
func (s symmetricEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return s.inner.EmbedBatch(ctx, texts)
}
func (s symmetricEngine) Dimensions() int { return s.inner.Dimensions() }
func (s symmetricEngine) Name() string    { return "symmetric-test-engine" }

func TestVectorSearchExactSeedIsFirstWithNearZeroDistance(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mementor.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	baseEmb, err := embedding.NewEngine(embedding.DefaultConfig())
	require.NoError(t, err)
	emb := symmetricEngine{inner: baseEmb}

	cen := centroid.New(st, emb)
	cfg := config.DefaultConfig()
	eng := New(st, emb, cen, cfg.Query, cfg.Centroid)

	turnID := seedTurn(t, st, "s1", 0, "[User] Hello world")
	vec, err := emb.Embed(context.Background(), "Hello world")
	require.NoError(t, err)
	seedChunk(t, st, turnID, 0, vec)

	// A second, unrelated turn so the seeded one has to actually rank first.
	otherID := seedTurn(t, st, "s1", 10, "[User] completely different subject matter")
	otherVec, err := emb.Embed(context.Background(), "completely different subject matter")
	require.NoError(t, err)
	seedChunk(t, st, otherID, 0, otherVec)

	page, err := eng.VectorSearch(context.Background(), "Hello world", 0, 10)
	require.NoError(t, err)
	require.NotEmpty(t, page.Results)
	require.Equal(t, turnID, page.Results[0].TurnID)
	require.LessOrEqual(t, page.Results[0].Distance, 1e-4)
}

func TestFullTextSearchMatchesAcrossScripts(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedTurn(t, st, "s1", 0, "[User] 한국어로 검색 테스트입니다")
	seedTurn(t, st, "s1", 10, "[User] an ENGLISH turn about Searching things")

	page, err := eng.FullTextSearch(context.Background(), "검색", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	require.Contains(t, page.Results[0].FullText, "검색")

	page2, err := eng.FullTextSearch(context.Background(), "searching", 0, 10)
	require.NoError(t, err)
	require.Len(t, page2.Results, 1)
	require.Contains(t, page2.Results[0].FullText, "Searching")
}

func TestFindRelatedSessionsOrdersBBeforeC(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	turnA := seedTurn(t, st, "A", 0, "turn a")
	seedMention(t, st, turnA, "src/main.rs", "Edit")
	seedMention(t, st, turnA, "src/lib.rs", "Edit")

	turnB := seedTurn(t, st, "B", 0, "turn b")
	seedMention(t, st, turnB, "src/main.rs", "Edit")
	seedMention(t, st, turnB, "src/util.rs", "Edit")

	turnC := seedTurn(t, st, "C", 0, "turn c")
	seedMention(t, st, turnC, "README.md", "Edit")

	// Seed B and C's centroids too: FindRelatedSessions computes only the
	// querying session's own centroid and compares against stored rows.
	_, _, err := eng.cen.SessionCentroid(ctx, "B", 0)
	require.NoError(t, err)
	_, _, err = eng.cen.SessionCentroid(ctx, "C", 0)
	require.NoError(t, err)

	matches, err := eng.FindRelatedSessions(ctx, "A", 0, 10)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	var idxB, idxC = -1, -1
	for i, m := range matches {
		switch m.SessionID {
		case "B":
			idxB = i
		case "C":
			idxC = i
		}
	}
	require.NotEqual(t, -1, idxB)
	require.NotEqual(t, -1, idxC)
	require.Less(t, idxB, idxC, "B shares a file with A and must precede C")
}

func TestFindByFileNormalizesAndJoins(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	turnID := seedTurn(t, st, "s1", 0, "turn")
	seedMention(t, st, turnID, ".github/workflows/ci.yml", "Edit")

	page, err := eng.FindByFile(context.Background(), "/proj/.github/workflows/ci.yml", "/proj", "/proj", 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Results, 1)
	require.Equal(t, turnID, page.Results[0].TurnID)
}

func TestFindByPRLooksUpByNumber(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedSession(t, st, "s1")
	_, err := st.DB().Exec(`INSERT INTO pr_links(session_id, pr_number, pr_url, pr_repository) VALUES (?, ?, ?, ?)`,
		"s1", 7, "https://example.com/7", "org/repo")
	require.NoError(t, err)

	sessionID, url, repo, found, err := eng.FindByPR(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "s1", sessionID)
	require.Equal(t, "https://example.com/7", url)
	require.Equal(t, "org/repo", repo)

	_, _, _, found, err = eng.FindByPR(context.Background(), 999)
	require.NoError(t, err)
	require.False(t, found)
}

func TestSegmentTurnsRespectsCompactBoundaries(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	seedSession(t, st, "s1")

	insertEntry := func(lineIndex int, entryType string) {
		_, err := st.DB().Exec(`INSERT INTO entries(session_id, line_index, entry_type, text) VALUES (?, ?, ?, ?)`,
			"s1", lineIndex, entryType, "")
		require.NoError(t, err)
	}
	insertEntry(50, "user")
	insertEntry(100, "compact_boundary")
	insertEntry(150, "user")
	insertEntry(200, "compact_boundary")
	insertEntry(250, "user")

	seedTurn(t, st, "s1", 50, "segment 0 turn")
	seedTurn(t, st, "s1", 150, "segment 1 turn")
	seedTurn(t, st, "s1", 250, "current segment turn")

	boundaries, err := eng.SegmentBoundaries(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, []int{100, 200}, boundaries)

	seg1, err := eng.SegmentTurns(context.Background(), "s1", 1)
	require.NoError(t, err)
	require.Len(t, seg1, 1)
	require.Equal(t, 150, seg1[0].StartLine)

	current, err := eng.CurrentSegmentTurns(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, current, 1)
	require.Equal(t, 250, current[0].StartLine)
}

func TestFindRelatedTurnsRanksSharedFileWindowFirst(t *testing.T) {
	eng, st, _ := newTestEngine(t)
	ctx := context.Background()

	turnA := seedTurn(t, st, "A", 0, "turn a")
	seedMention(t, st, turnA, "src/main.rs", "Edit")
	seedMention(t, st, turnA, "src/lib.rs", "Edit")

	turnB := seedTurn(t, st, "B", 0, "turn b")
	seedMention(t, st, turnB, "src/main.rs", "Edit")
	seedMention(t, st, turnB, "src/util.rs", "Edit")

	turnC := seedTurn(t, st, "C", 0, "turn c")
	seedMention(t, st, turnC, "README.md", "Edit")

	// B and C's session centroids are seeded the way FindRelatedSessions
	// expects; turn_access_patterns for B and C is left empty so
	// FindRelatedTurns has to backfill it lazily.
	_, _, err := eng.cen.SessionCentroid(ctx, "B", 0)
	require.NoError(t, err)
	_, _, err = eng.cen.SessionCentroid(ctx, "C", 0)
	require.NoError(t, err)

	var before int
	err = st.DB().QueryRow(`SELECT COUNT(*) FROM turn_access_patterns`).Scan(&before)
	require.NoError(t, err)
	require.Equal(t, 0, before, "turn centroids must not exist before the first query")

	matches, err := eng.FindRelatedTurns(ctx, "A", 1)
	require.NoError(t, err)
	require.Len(t, matches, 2)

	require.Equal(t, "B", matches[0].SessionID, "B shares a file with A and must rank ahead of C")
	require.Equal(t, []int64{turnB}, matches[0].TurnIDs)
	require.Equal(t, "C", matches[1].SessionID)
	require.Equal(t, []int64{turnC}, matches[1].TurnIDs)

	var after int
	err = st.DB().QueryRow(`SELECT COUNT(*) FROM turn_access_patterns`).Scan(&after)
	require.NoError(t, err)
	require.Equal(t, 2, after, "B and C's single turns must now have centroids")
}

func TestHybridRankOrdersFileOnlyBehindSemanticMatches(t *testing.T) {
	eng, _, _ := newTestEngine(t)
	semantic := []Result{{TurnID: 1, Distance: 0.1, Kind: MatchVector}}
	fileOnly := []Result{{TurnID: 2, Distance: 0}, {TurnID: 1, Distance: 0}}

	out := eng.HybridRank(semantic, fileOnly)
	require.Len(t, out, 2, "turn 1 must be deduped, not duplicated")
	require.Equal(t, int64(1), out[0].TurnID)
	require.Equal(t, int64(2), out[1].TurnID)
	require.Equal(t, eng.qcfg.FileOnlyPseudoDistance, out[1].Distance)
}

func TestPaginateSlicesAndReportsTotal(t *testing.T) {
	all := []Result{{TurnID: 1}, {TurnID: 2}, {TurnID: 3}}
	page := paginate(all, 1, 1)
	require.Equal(t, 3, page.Total)
	require.Len(t, page.Results, 1)
	require.Equal(t, int64(2), page.Results[0].TurnID)

	empty := paginate(all, 10, 5)
	require.Equal(t, 3, empty.Total)
	require.Empty(t, empty.Results)
}
