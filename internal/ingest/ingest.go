// Package ingest implements the incremental, append-driven orchestration
// pipeline: transcript lines in, Entries/Turns/Chunks/
// FileMentions/PrLinks out, atomically per turn.
package ingest

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"mementor/internal/chunk"
	"mementor/internal/embedding"
	"mementor/internal/logging"
	"mementor/internal/mention"
	"mementor/internal/merr"
	"mementor/internal/parser"
	"mementor/internal/store"
	"mementor/internal/turn"
)

// Pipeline wires the Store, Embedder, and Chunker together for ingestion.
type Pipeline struct {
	st       *store.Store
	emb      embedding.Engine
	chunkCfg chunk.Config

	// subagentConcurrency bounds the number of subagent transcripts swept
	// concurrently (step 8). Defaults to 4 when unset.
	subagentConcurrency int
}

// New returns a Pipeline over st, using emb to embed chunks (Passage mode)
// and cfg to bound chunk size.
func New(st *store.Store, emb embedding.Engine, cfg chunk.Config) *Pipeline {
	return &Pipeline{st: st, emb: emb, chunkCfg: cfg, subagentConcurrency: 4}
}

// Request names the transcript to ingest and the project paths used for
// file-mention normalization.
type Request struct {
	SessionID      string
	TranscriptPath string
	ProjectDir     string
	ProjectRoot    string
}

// cursor mirrors the (last_line_index, provisional_turn_start) pair carried
// by a Session or a SubagentCursor.
type cursor struct {
	LastLineIndex        int
	ProvisionalTurnStart *int
}

// Ingest runs the full pipeline for req: the main transcript, then the
// subagent sweep (step 8). Idempotent given the same transcript bytes.
func (p *Pipeline) Ingest(ctx context.Context, req Request) error {
	timer := logging.StartTimer(logging.CategoryIngest, "ingest session "+req.SessionID)
	defer timer.Stop()

	if err := p.ensureSession(ctx, req); err != nil {
		return err
	}

	cur, err := p.readSessionCursor(ctx, req.SessionID)
	if err != nil {
		return err
	}

	newCur, err := p.ingestStream(ctx, req.SessionID, "", false, req.TranscriptPath, req.ProjectDir, req.ProjectRoot, cur)
	if err != nil {
		return err
	}
	if err := p.writeSessionCursor(ctx, req.SessionID, newCur); err != nil {
		return err
	}

	return p.subagentSweep(ctx, req)
}

func (p *Pipeline) ensureSession(ctx context.Context, req Request) error {
	_, err := p.st.DB().ExecContext(ctx,
		`INSERT INTO sessions(session_id, transcript_path, project_root) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		req.SessionID, req.TranscriptPath, req.ProjectRoot)
	if err != nil {
		return merr.Wrap(merr.Storage, "creating session", err)
	}
	return nil
}

func (p *Pipeline) readSessionCursor(ctx context.Context, sessionID string) (cursor, error) {
	row := p.st.DB().QueryRowContext(ctx,
		`SELECT last_line_index, provisional_turn_start FROM sessions WHERE session_id = ?`, sessionID)
	var c cursor
	var provisional sql.NullInt64
	if err := row.Scan(&c.LastLineIndex, &provisional); err != nil {
		return cursor{}, merr.Wrap(merr.Storage, "reading session cursor", err)
	}
	if provisional.Valid {
		v := int(provisional.Int64)
		c.ProvisionalTurnStart = &v
	}
	return c, nil
}

func (p *Pipeline) writeSessionCursor(ctx context.Context, sessionID string, c cursor) error {
	var provisional interface{}
	if c.ProvisionalTurnStart != nil {
		provisional = *c.ProvisionalTurnStart
	}
	_, err := p.st.DB().ExecContext(ctx,
		`UPDATE sessions SET last_line_index = ?, provisional_turn_start = ?, updated_at = CURRENT_TIMESTAMP WHERE session_id = ?`,
		c.LastLineIndex, provisional, sessionID)
	if err != nil {
		return merr.Wrap(merr.Storage, "advancing session cursor", err)
	}
	return nil
}

func (p *Pipeline) readSubagentCursor(ctx context.Context, sessionID, agentID string) (cursor, error) {
	row := p.st.DB().QueryRowContext(ctx,
		`SELECT last_line_index, provisional_turn_start FROM subagent_cursors WHERE session_id = ? AND agent_id = ?`,
		sessionID, agentID)
	var c cursor
	var provisional sql.NullInt64
	err := row.Scan(&c.LastLineIndex, &provisional)
	switch err {
	case nil:
		if provisional.Valid {
			v := int(provisional.Int64)
			c.ProvisionalTurnStart = &v
		}
		return c, nil
	case sql.ErrNoRows:
		if _, err := p.st.DB().ExecContext(ctx,
			`INSERT INTO subagent_cursors(session_id, agent_id, last_line_index) VALUES (?, ?, 0)`,
			sessionID, agentID); err != nil {
			return cursor{}, merr.Wrap(merr.Storage, "creating subagent cursor", err)
		}
		return cursor{}, nil
	default:
		return cursor{}, merr.Wrap(merr.Storage, "reading subagent cursor", err)
	}
}

func (p *Pipeline) writeSubagentCursor(ctx context.Context, sessionID, agentID string, c cursor) error {
	var provisional interface{}
	if c.ProvisionalTurnStart != nil {
		provisional = *c.ProvisionalTurnStart
	}
	_, err := p.st.DB().ExecContext(ctx,
		`UPDATE subagent_cursors SET last_line_index = ?, provisional_turn_start = ? WHERE session_id = ? AND agent_id = ?`,
		c.LastLineIndex, provisional, sessionID, agentID)
	if err != nil {
		return merr.Wrap(merr.Storage, "advancing subagent cursor", err)
	}
	return nil
}

// ingestStream runs steps 2-7 of the algorithm for one transcript stream
// (the main transcript when agentID == "", or one subagent file).
func (p *Pipeline) ingestStream(ctx context.Context, sessionID, agentID string, isSidechain bool, transcriptPath, projectDir, projectRoot string, cur cursor) (cursor, error) {
	startLine := cur.LastLineIndex
	switch {
	case cur.ProvisionalTurnStart != nil:
		// A provisional turn is incomplete and will be deleted and rebuilt
		// below; re-read from its own start_line.
		startLine = *cur.ProvisionalTurnStart
	default:
		// No provisional turn is pending, but the most recently committed
		// turn's trailing user entry is also the next turn's anchor (the
		// forward-context window overlaps by one entry). Re-include it so
		// Build sees it as an anchor; re-inserting it is a no-op.
		if lastEnd, ok, err := p.lastCommittedTurnEndLine(ctx, sessionID, agentID); err != nil {
			return cursor{}, err
		} else if ok {
			startLine = lastEnd
		}
	}

	entries, prLinks, eof, err := p.readFromLine(transcriptPath, startLine)
	if err != nil {
		return cursor{}, err
	}

	if cur.ProvisionalTurnStart != nil {
		if err := p.deleteProvisionalTurn(ctx, sessionID, agentID, *cur.ProvisionalTurnStart); err != nil {
			return cursor{}, err
		}
	}

	for _, link := range prLinks {
		if _, err := p.st.DB().ExecContext(ctx,
			`INSERT OR IGNORE INTO pr_links(session_id, pr_number, pr_url, pr_repository, timestamp) VALUES (?, ?, ?, ?, ?)`,
			sessionID, link.PRNumber, link.PRURL, link.PRRepository, link.Timestamp); err != nil {
			return cursor{}, merr.Wrap(merr.Storage, "inserting pr link", err)
		}
	}

	turns := turn.Build(entries, agentID, isSidechain, projectRoot, projectDir)

	for _, t := range turns {
		if err := p.commitTurn(ctx, sessionID, agentID, isSidechain, t, entries, projectDir, projectRoot); err != nil {
			return cursor{}, err
		}
	}

	// Kept entries that no turn covers (a bare trailing anchor, lines before
	// the first user entry) are stored too; rows a turn already wrote are
	// left alone by OR IGNORE.
	for _, e := range entries {
		if _, err := p.st.DB().ExecContext(ctx,
			`INSERT OR IGNORE INTO entries(session_id, line_index, agent_id, entry_type, text, tool_summary, is_sidechain, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, e.LineIndex, agentID, string(e.EntryType), e.Text, nullableString(e.ToolSummary), boolToInt(isSidechain), nullableTimestamp(e.Timestamp)); err != nil {
			return cursor{}, merr.Wrap(merr.Storage, "inserting entry", err)
		}
	}

	newCur := cursor{LastLineIndex: eof}
	if len(turns) > 0 {
		last := turns[len(turns)-1]
		if last.Provisional {
			v := last.StartLine
			newCur.ProvisionalTurnStart = &v
		}
	}
	return newCur, nil
}

// readFromLine parses transcriptPath starting at lineIndex startLine,
// returning kept entries, any pr-link events, and the EOF line count
// (total lines in the file). Per-line decode failures are logged and
// skipped; they never abort the read.
func (p *Pipeline) readFromLine(transcriptPath string, startLine int) ([]parser.RawEntry, []parser.PrLinkEvent, int, error) {
	f, err := os.Open(transcriptPath)
	if err != nil {
		return nil, nil, 0, merr.Wrap(merr.InvalidTranscript, "opening transcript", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var entries []parser.RawEntry
	var prLinks []parser.PrLinkEvent
	lineIndex := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if lineIndex < startLine {
			lineIndex++
			continue
		}
		if len(strings.TrimSpace(string(line))) == 0 {
			lineIndex++
			continue
		}
		entry, ok, prLink, warn := parser.ParseLine(line, lineIndex)
		if warn != nil {
			logging.IngestDebug("skipping unparseable line: %v", warn.Err)
		}
		if ok {
			entries = append(entries, entry)
		}
		if prLink != nil {
			prLinks = append(prLinks, *prLink)
		}
		lineIndex++
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, 0, merr.Wrap(merr.InvalidTranscript, "reading transcript", err)
	}
	return entries, prLinks, lineIndex, nil
}

// lastCommittedTurnEndLine returns the highest end_line among turns already
// committed for (sessionID, agentID), i.e. the trailing entry that can
// anchor the next turn.
func (p *Pipeline) lastCommittedTurnEndLine(ctx context.Context, sessionID, agentID string) (int, bool, error) {
	row := p.st.DB().QueryRowContext(ctx,
		`SELECT MAX(end_line) FROM turns WHERE session_id = ? AND agent_id = ?`, sessionID, agentID)
	var endLine sql.NullInt64
	if err := row.Scan(&endLine); err != nil {
		return 0, false, merr.Wrap(merr.Storage, "reading last committed turn", err)
	}
	if !endLine.Valid {
		return 0, false, nil
	}
	return int(endLine.Int64), true, nil
}

func (p *Pipeline) deleteProvisionalTurn(ctx context.Context, sessionID, agentID string, startLine int) error {
	_, err := p.st.DB().ExecContext(ctx,
		`DELETE FROM turns WHERE session_id = ? AND start_line = ? AND agent_id = ?`,
		sessionID, startLine, agentID)
	if err != nil {
		return merr.Wrap(merr.Storage, "deleting provisional turn", err)
	}
	return nil
}

// commitTurn executes step 6: one atomic transaction inserting a turn's
// entries, the turn row, its chunks (embedded), and its file mentions.
func (p *Pipeline) commitTurn(ctx context.Context, sessionID, agentID string, isSidechain bool, t turn.Turn, allEntries []parser.RawEntry, projectDir, projectRoot string) error {
	inRange := entriesInRange(allEntries, t.StartLine, t.EndLine)

	tx, err := p.st.DB().BeginTx(ctx, nil)
	if err != nil {
		return merr.Wrap(merr.Storage, "beginning turn transaction", err)
	}
	defer tx.Rollback()

	for _, e := range inRange {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO entries(session_id, line_index, agent_id, entry_type, text, tool_summary, is_sidechain, timestamp)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sessionID, e.LineIndex, agentID, string(e.EntryType), e.Text, nullableString(e.ToolSummary), boolToInt(isSidechain), nullableTimestamp(e.Timestamp)); err != nil {
			return merr.Wrap(merr.Storage, "inserting entry", err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns(session_id, start_line, end_line, agent_id, is_sidechain, provisional, full_text)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, t.StartLine, t.EndLine, agentID, boolToInt(isSidechain), boolToInt(t.Provisional), t.FullText)
	if err != nil {
		return merr.Wrap(merr.Storage, "inserting turn", err)
	}
	turnID, err := res.LastInsertId()
	if err != nil {
		return merr.Wrap(merr.Storage, "reading turn id", err)
	}

	chunks := chunk.Split(t.FullText, chunkTokenizer(p.emb), p.chunkCfg)
	for _, c := range chunks {
		vec, err := embedPassage(ctx, p.emb, c.Text)
		if err != nil {
			return merr.Wrap(merr.External, "embedding chunk", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks(turn_id, chunk_index, embedding) VALUES (?, ?, ?)`,
			turnID, c.ChunkIndex, store.EncodeEmbedding(vec)); err != nil {
			return merr.Wrap(merr.Storage, "inserting chunk", err)
		}
	}

	mentions := turnMentions(inRange, projectDir, projectRoot)
	for _, m := range mentions {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO file_mentions(turn_id, file_path, tool_name) VALUES (?, ?, ?)`,
			turnID, m.FilePath, m.ToolName); err != nil {
			return merr.Wrap(merr.Storage, "inserting file mention", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return merr.Wrap(merr.Storage, "committing turn", err)
	}
	logging.IngestDebug("committed turn start_line=%d end_line=%d chunks=%d mentions=%d", t.StartLine, t.EndLine, len(chunks), len(mentions))
	return nil
}

func entriesInRange(entries []parser.RawEntry, start, end int) []parser.RawEntry {
	var out []parser.RawEntry
	for _, e := range entries {
		if e.LineIndex >= start && e.LineIndex <= end {
			out = append(out, e)
		}
	}
	return out
}

func turnMentions(inRange []parser.RawEntry, projectDir, projectRoot string) []mention.FileMention {
	var out []mention.FileMention
	for _, e := range inRange {
		switch e.EntryType {
		case parser.EntryAssistant:
			out = append(out, mention.FromToolUses(e.ToolUses, projectRoot, projectDir)...)
		case parser.EntryFileHistorySnapshot:
			out = append(out, mention.FromSnapshot(e.SnapshotFiles, projectRoot, projectDir)...)
		case parser.EntryUser:
			out = append(out, mention.FromUserText(e.Text, projectRoot, projectDir)...)
		}
	}
	return mention.Dedup(out)
}

func chunkTokenizer(eng embedding.Engine) embedding.Tokenizer {
	if provider, ok := eng.(embedding.TokenizerProvider); ok {
		return provider.Tokenizer()
	}
	return wholeTextTokenizer{}
}

// wholeTextTokenizer is the chunker's fallback when the embedding engine
// exposes no tokenizer: it treats whitespace-separated words as tokens.
type wholeTextTokenizer struct{}

func (wholeTextTokenizer) CountTokens(text string) int { return len(strings.Fields(text)) }
func (wholeTextTokenizer) Tokenize(text string) []string { return strings.Fields(text) }

func embedPassage(ctx context.Context, eng embedding.Engine, text string) ([]float32, error) {
	if aware, ok := eng.(embedding.ModeAwareEngine); ok {
		return aware.EmbedWithMode(ctx, text, embedding.Passage)
	}
	return eng.Embed(ctx, text)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTimestamp(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// subagentSweep implements step 8: repeat the pipeline against every
// sibling `<session-id>/subagents/agent-*.jsonl` file, excluding agent ids
// beginning with "acompact-", bounded by subagentConcurrency.
func (p *Pipeline) subagentSweep(ctx context.Context, req Request) error {
	dir := filepath.Join(filepath.Dir(req.TranscriptPath), req.SessionID, "subagents")
	matches, err := filepath.Glob(filepath.Join(dir, "agent-*.jsonl"))
	if err != nil {
		return merr.Wrap(merr.InvalidTranscript, "globbing subagent transcripts", err)
	}
	if len(matches) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.subagentConcurrency)

	for _, path := range matches {
		path := path
		agentID := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(path), "agent-"), ".jsonl")
		if strings.HasPrefix(agentID, "acompact-") {
			continue
		}
		g.Go(func() error {
			return p.ingestSubagent(ctx, req, agentID, path)
		})
	}
	return g.Wait()
}

func (p *Pipeline) ingestSubagent(ctx context.Context, req Request, agentID, path string) error {
	cur, err := p.readSubagentCursor(ctx, req.SessionID, agentID)
	if err != nil {
		return err
	}
	newCur, err := p.ingestStream(ctx, req.SessionID, agentID, true, path, req.ProjectDir, req.ProjectRoot, cur)
	if err != nil {
		return fmt.Errorf("subagent %s: %w", agentID, err)
	}
	return p.writeSubagentCursor(ctx, req.SessionID, agentID, newCur)
}
