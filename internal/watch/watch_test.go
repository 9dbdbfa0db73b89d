package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mementor/internal/chunk"
	"mementor/internal/embedding"
	"mementor/internal/ingest"
	"mementor/internal/store"
)

func TestTranscriptIngestsImmediatelyOnStart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"user","message":{"role":"user","content":"hello"}}`+"\n"), 0644))

	st, err := store.Open(filepath.Join(t.TempDir(), "mementor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb, err := embedding.NewEngine(embedding.DefaultConfig())
	require.NoError(t, err)
	p := ingest.New(st, emb, chunk.DefaultConfig())

	req := ingest.Request{SessionID: "s1", TranscriptPath: path, ProjectDir: dir, ProjectRoot: dir}

	var ingestErr error
	w, err := New(p, req, func(e error) { ingestErr = e })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, ingestErr)

	var entryCount int
	require.NoError(t, st.DB().QueryRow(`SELECT COUNT(*) FROM entries WHERE session_id = ?`, "s1").Scan(&entryCount))
	require.Equal(t, 1, entryCount)
}

func TestTranscriptReingestsOnAppend(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "transcript.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"user","message":{"role":"user","content":"how do I fix the CI?"}}`+"\n"+
		`{"type":"assistant","message":{"role":"assistant","content":"I'll update the workflow."}}`+"\n"+
		`{"type":"user","message":{"role":"user","content":"done"}}`+"\n"), 0644))

	st, err := store.Open(filepath.Join(t.TempDir(), "mementor.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	emb, err := embedding.NewEngine(embedding.DefaultConfig())
	require.NoError(t, err)
	p := ingest.New(st, emb, chunk.DefaultConfig())

	req := ingest.Request{SessionID: "s2", TranscriptPath: path, ProjectDir: dir, ProjectRoot: dir}

	w, err := New(p, req, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"type":"assistant","message":{"role":"assistant","content":"OK"}}` + "\n" +
		`{"type":"user","message":{"role":"user","content":"ship it"}}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		var turnCount int
		if err := st.DB().QueryRow(`SELECT COUNT(*) FROM turns WHERE session_id = ?`, "s2").Scan(&turnCount); err != nil {
			return false
		}
		return turnCount == 2
	}, 3*time.Second, 50*time.Millisecond, "watcher must pick up the appended turn")
}
