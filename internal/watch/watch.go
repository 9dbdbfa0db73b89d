// Package watch keeps the store current as a transcript grows, instead of
// requiring a caller to re-invoke ingest after every turn: debounce rapid
// writes to the transcript file, then re-run the ingest pipeline on settle.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"mementor/internal/ingest"
	"mementor/internal/logging"
)

// Transcript watches one session's transcript file (and its subagents/
// directory, if present) and re-ingests on every settled write.
type Transcript struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	pipeline    *ingest.Pipeline
	req         ingest.Request
	debounceDur time.Duration
	debounce    map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	onError     func(error)
}

// New returns a Transcript watcher for req, driving p.Ingest on settled
// changes. onError, if non-nil, receives every ingest error; a nil onError
// logs and continues.
func New(p *ingest.Pipeline, req ingest.Request, onError func(error)) (*Transcript, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Transcript{
		watcher:     w,
		pipeline:    p,
		req:         req,
		debounceDur: 300 * time.Millisecond,
		debounce:    make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
		onError:     onError,
	}, nil
}

// Start begins watching in a background goroutine. It runs one ingest pass
// immediately so the store reflects the transcript's current contents
// before the first filesystem event arrives.
func (t *Transcript) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.mu.Unlock()

	dir := filepath.Dir(t.req.TranscriptPath)
	if err := t.watcher.Add(dir); err != nil {
		logging.Get(logging.CategoryWatch).Warn("watch: failed to watch %s: %v", dir, err)
	} else {
		logging.Watch("watching %s for session %s", dir, t.req.SessionID)
	}

	subagentDir := filepath.Join(dir, t.req.SessionID, "subagents")
	if _, err := os.Stat(subagentDir); err == nil {
		if err := t.watcher.Add(subagentDir); err == nil {
			logging.Watch("also watching subagent transcripts: %s", subagentDir)
		}
	}

	if err := t.pipeline.Ingest(ctx, t.req); err != nil {
		t.runErrorHandler(err)
	}

	go t.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its goroutine to exit.
func (t *Transcript) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	close(t.stopCh)
	<-t.doneCh
	_ = t.watcher.Close()
}

func (t *Transcript) run(ctx context.Context) {
	defer close(t.doneCh)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopCh:
			return
		case event, ok := <-t.watcher.Events:
			if !ok {
				return
			}
			t.handleEvent(event)
		case err, ok := <-t.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watch: fsnotify error: %v", err)
		case <-ticker.C:
			t.processSettled(ctx)
		}
	}
}

func (t *Transcript) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	t.mu.Lock()
	t.debounce[event.Name] = time.Now()
	t.mu.Unlock()
}

func (t *Transcript) processSettled(ctx context.Context) {
	t.mu.Lock()
	now := time.Now()
	var settled bool
	for path, at := range t.debounce {
		if now.Sub(at) >= t.debounceDur {
			settled = true
			delete(t.debounce, path)
		}
	}
	t.mu.Unlock()

	if !settled {
		return
	}
	logging.WatchDebug("settled write detected, re-ingesting session %s", t.req.SessionID)
	if err := t.pipeline.Ingest(ctx, t.req); err != nil {
		t.runErrorHandler(err)
	}
}

func (t *Transcript) runErrorHandler(err error) {
	if t.onError != nil {
		t.onError(err)
		return
	}
	logging.Get(logging.CategoryWatch).Error("watch: ingest failed: %v", err)
}
