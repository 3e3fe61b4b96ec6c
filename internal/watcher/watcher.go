// Package watcher ingests files dropped into a watched directory. Create
// and write events debounce per path before ingestion so editors that write
// in bursts produce one ingest; removals delete the resource.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/fyrsmithlabs/strata/internal/knowledge"
	"github.com/fyrsmithlabs/strata/internal/tenant"
	"go.uber.org/zap"
)

// URIScheme prefixes every watcher-derived resource URI.
const URIScheme = "drop://"

// Ingestor is the slice of the knowledge service the watcher drives.
type Ingestor interface {
	Ingest(ctx context.Context, res knowledge.Resource) (string, error)
	Remove(ctx context.Context, uri string) error
}

// Config configures the watcher.
type Config struct {
	// Dir is the watched directory. Not recursive.
	Dir string

	// Debounce is how long a path must stay quiet before ingestion.
	Debounce time.Duration

	// Workspace and Agent scope everything the watcher touches.
	Workspace string
	Agent     string

	// Extensions limits which files are picked up.
	Extensions []string
}

func (c *Config) applyDefaults() {
	if c.Debounce <= 0 {
		c.Debounce = 500 * time.Millisecond
	}
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".md", ".txt", ".json"}
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Dir == "" {
		return fmt.Errorf("watcher dir required")
	}
	if c.Workspace == "" {
		return fmt.Errorf("watcher workspace required")
	}
	return nil
}

// Watcher tails a drop directory and keeps the knowledge store in sync.
type Watcher struct {
	cfg    Config
	svc    Ingestor
	fsw    *fsnotify.Watcher
	logger *zap.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// New creates a watcher over cfg.Dir. Call Run to start it.
func New(cfg Config, svc Ingestor, logger *zap.Logger) (*Watcher, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(cfg.Dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", cfg.Dir, err)
	}

	return &Watcher{
		cfg:     cfg,
		svc:     svc,
		fsw:     fsw,
		logger:  logger,
		pending: make(map[string]*time.Timer),
	}, nil
}

// Run processes events until ctx is cancelled. Ingest and remove failures
// are logged and never stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	scope := tenant.Scope{Workspace: w.cfg.Workspace, Agent: w.cfg.Agent}
	ctx, err := tenant.ContextWithScope(ctx, scope)
	if err != nil {
		return err
	}

	defer w.cancelPending()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.watched(event.Name) {
				continue
			}
			switch {
			case event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Write):
				w.schedule(ctx, event.Name)
			case event.Op.Has(fsnotify.Remove) || event.Op.Has(fsnotify.Rename):
				w.drop(ctx, event.Name)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error {
	w.cancelPending()
	return w.fsw.Close()
}

// schedule (re)arms the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// The file may have been removed inside the debounce window.
		w.logger.Warn("read dropped file", zap.String("path", path), zap.Error(err))
		return
	}

	uri := w.uriFor(path)
	_, err = w.svc.Ingest(ctx, knowledge.Resource{
		URI:         uri,
		Kind:        knowledge.KindResource,
		ContentType: contentTypeFor(path),
		Data:        data,
	})
	if err != nil {
		w.logger.Error("ingest dropped file", zap.String("uri", uri), zap.Error(err))
		return
	}
	w.logger.Info("ingested dropped file", zap.String("uri", uri), zap.Int("bytes", len(data)))
}

func (w *Watcher) drop(ctx context.Context, path string) {
	w.mu.Lock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()

	uri := w.uriFor(path)
	if err := w.svc.Remove(ctx, uri); err != nil {
		w.logger.Error("remove dropped file", zap.String("uri", uri), zap.Error(err))
		return
	}
	w.logger.Info("removed dropped file", zap.String("uri", uri))
}

func (w *Watcher) cancelPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

// uriFor derives a stable URI from the path relative to the watched dir.
func (w *Watcher) uriFor(path string) string {
	rel, err := filepath.Rel(w.cfg.Dir, path)
	if err != nil {
		rel = filepath.Base(path)
	}
	return URIScheme + filepath.ToSlash(rel)
}

func (w *Watcher) watched(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return false
	}
	ext := filepath.Ext(path)
	for _, e := range w.cfg.Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

func contentTypeFor(path string) string {
	switch filepath.Ext(path) {
	case ".md":
		return "text/markdown"
	case ".json":
		return "application/json"
	default:
		return "text/plain"
	}
}
