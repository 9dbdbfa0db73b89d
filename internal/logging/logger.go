// Package logging provides config-driven categorized file-based logging for Mementor.
// Logs are written, one file per category, under the directory passed to
// Configure (ConfigureFromEnv reads it from MEMENTOR_LOG_DIR); there is no
// default directory. When no directory is set, the logger is silent, matching
// the engine's "no ambient output" contract.
package logging

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a subsystem emitting log lines.
type Category string

const (
	CategoryStore     Category = "store"
	CategoryVector    Category = "vector"
	CategoryEmbedding Category = "embedding"
	CategoryParser    Category = "parser"
	CategoryTurn      Category = "turn"
	CategoryChunk     Category = "chunk"
	CategoryIngest    Category = "ingest"
	CategoryMention   Category = "mention"
	CategoryCentroid  Category = "centroid"
	CategoryQuery     Category = "query"
	CategoryWatch     Category = "watch"
)

var (
	mu      sync.RWMutex
	logDir  string
	enabled bool
	loggers = make(map[Category]*Logger)
)

// Configure points the logger at a directory and turns logging on. Passing an
// empty dir disables logging. Safe to call more than once.
func Configure(dir string) {
	mu.Lock()
	defer mu.Unlock()
	logDir = dir
	enabled = dir != ""
	loggers = make(map[Category]*Logger)
}

// ConfigureFromEnv mirrors the MEMENTOR_LOG_DIR environment variable contract
// from the external interfaces: unset means silent.
func ConfigureFromEnv() {
	Configure(os.Getenv("MEMENTOR_LOG_DIR"))
}

// CloseAll flushes and closes every open category log file. Call once on
// process shutdown; safe to call even when logging was never configured.
func CloseAll() {
	mu.Lock()
	defer mu.Unlock()
	for cat, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

// Logger wraps a zap sugared logger scoped to one category and file: each
// category gets its own JSON-lines file, encoded with zap's production
// encoder config and ISO8601 timestamps.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

// Get returns (creating if necessary) the logger for a category.
func Get(cat Category) *Logger {
	mu.RLock()
	if l, ok := loggers[cat]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[cat]; ok {
		return l
	}

	l := &Logger{category: cat}
	if enabled {
		if err := os.MkdirAll(logDir, 0755); err == nil {
			path := filepath.Join(logDir, string(cat)+".log")
			if f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
				l.file = f
				encoderCfg := zap.NewProductionEncoderConfig()
				encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
				core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), zapcore.AddSync(f), zapcore.DebugLevel)
				l.sugar = zap.New(core).Sugar().With("category", string(cat))
			}
		}
	}
	loggers[cat] = l
	return l
}

// Info logs an informational line.
func (l *Logger) Info(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Debug logs a debug-level line.
func (l *Logger) Debug(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error.
func (l *Logger) Error(format string, args ...interface{}) {
	if l == nil || l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// Category-scoped convenience helpers, one Info/Debug pair per category.
func Store(format string, args ...interface{})       { Get(CategoryStore).Info(format, args...) }
func StoreDebug(format string, args ...interface{})   { Get(CategoryStore).Debug(format, args...) }
func Ingest(format string, args ...interface{})       { Get(CategoryIngest).Info(format, args...) }
func IngestDebug(format string, args ...interface{})  { Get(CategoryIngest).Debug(format, args...) }
func Query(format string, args ...interface{})        { Get(CategoryQuery).Info(format, args...) }
func QueryDebug(format string, args ...interface{})   { Get(CategoryQuery).Debug(format, args...) }
func Embedding(format string, args ...interface{})    { Get(CategoryEmbedding).Info(format, args...) }
func Vector(format string, args ...interface{})       { Get(CategoryVector).Info(format, args...) }
func VectorDebug(format string, args ...interface{})  { Get(CategoryVector).Debug(format, args...) }
func Centroid(format string, args ...interface{})     { Get(CategoryCentroid).Info(format, args...) }
func CentroidDebug(format string, args ...interface{}) { Get(CategoryCentroid).Debug(format, args...) }
func Parser(format string, args ...interface{})       { Get(CategoryParser).Info(format, args...) }
func ParserDebug(format string, args ...interface{})  { Get(CategoryParser).Debug(format, args...) }
func Watch(format string, args ...interface{})        { Get(CategoryWatch).Info(format, args...) }
func WatchDebug(format string, args ...interface{})   { Get(CategoryWatch).Debug(format, args...) }

// Timer instruments a call with a start/stop duration log.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation in a category.
func StartTimer(cat Category, op string) *Timer {
	return &Timer{category: cat, op: op, start: time.Now()}
}

// Stop logs the elapsed duration since StartTimer.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	Get(t.category).Debug("%s completed in %s", t.op, time.Since(t.start))
}
