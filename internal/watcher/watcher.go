// Package watcher uploads files as they appear in a directory.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bull/docrag/internal/document"
	"github.com/bull/docrag/internal/indexer"
)

// DefaultSettle is how long a file must go without events before it is uploaded.
const DefaultSettle = 500 * time.Millisecond

// Uploader ingests a file from disk.
type Uploader interface {
	Upload(ctx context.Context, path string, progress indexer.ProgressFunc) (*document.Document, error)
}

// Config configures a Watcher.
type Config struct {
	Dir string
	// Supports reports whether a file name has an ingestible format.
	Supports func(name string) bool
	Settle   time.Duration
	// OnUpload, if set, is called after each upload attempt.
	OnUpload func(path string, doc *document.Document, err error)
}

// Watcher uploads each supported file created in a directory once it stops
// changing. Removed files are forgotten but their documents are kept.
type Watcher struct {
	cfg      Config
	uploader Uploader
	logger   *slog.Logger

	mu       sync.Mutex
	pending  map[string]*time.Timer
	uploaded map[string]bool
}

// New creates a Watcher for cfg.Dir.
func New(cfg Config, uploader Uploader, logger *slog.Logger) *Watcher {
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.Supports == nil {
		cfg.Supports = func(string) bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		cfg:      cfg,
		uploader: uploader,
		logger:   logger,
		pending:  make(map[string]*time.Timer),
		uploaded: make(map[string]bool),
	}
}

// Run watches until ctx is done. Uploads run one at a time.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.cfg.Dir, err)
	}
	w.logger.Info("Watching directory", "dir", w.cfg.Dir)

	ready := make(chan string, 16)
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, event, ready)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "dir", w.cfg.Dir, "error", err)

		case path := <-ready:
			w.upload(ctx, path)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, event fsnotify.Event, ready chan<- string) {
	if !w.cfg.Supports(filepath.Base(event.Name)) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		delete(w.uploaded, event.Name)
		if t, ok := w.pending[event.Name]; ok {
			t.Stop()
			delete(w.pending, event.Name)
		}

	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		if w.uploaded[event.Name] {
			return
		}
		if t, ok := w.pending[event.Name]; ok {
			t.Reset(w.cfg.Settle)
			return
		}
		path := event.Name
		w.pending[path] = time.AfterFunc(w.cfg.Settle, func() {
			select {
			case ready <- path:
			case <-ctx.Done():
			}
		})
	}
}

func (w *Watcher) upload(ctx context.Context, path string) {
	w.mu.Lock()
	if _, ok := w.pending[path]; !ok {
		// Removed while settling
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.uploaded[path] = true
	w.mu.Unlock()

	w.logger.Info("Uploading new file", "path", path)
	doc, err := w.uploader.Upload(ctx, path, nil)
	switch {
	case err != nil:
		w.logger.Error("Upload failed", "path", path, "error", err)
	case doc.Status != document.StatusReady:
		w.logger.Warn("Upload ended with error", "path", path, "document_id", doc.ID, "error", doc.Error)
	}

	if w.cfg.OnUpload != nil {
		w.cfg.OnUpload(path, doc, err)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
