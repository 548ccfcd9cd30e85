package catalog

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads a Catalog when its definition files change on disk. It is
// meant for long-lived hosts that keep the engine running while catalog
// authors iterate; one-shot CLI invocations do not need it.
type Watcher struct {
	catalog  *Catalog
	onReload func()
	debounce time.Duration
	logger   zerolog.Logger
}

// NewWatcher creates a watcher for the given catalog. onReload, if non-nil,
// is called after every successful reload.
func NewWatcher(c *Catalog, onReload func(), logger zerolog.Logger) *Watcher {
	return &Watcher{
		catalog:  c,
		onReload: onReload,
		debounce: 250 * time.Millisecond,
		logger:   logger.With().Str("component", "catalog_watcher").Logger(),
	}
}

// Run watches the catalog directory until the context is cancelled. Editors
// emit bursts of write events, so reloads are debounced.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	if err := fsw.Add(w.catalog.Dir()); err != nil {
		return err
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")

		case <-timerC:
			if err := w.catalog.Reload(); err != nil {
				w.logger.Error().Err(err).Msg("catalog reload failed, keeping previous definitions")
				continue
			}
			if w.onReload != nil {
				w.onReload()
			}
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	return name == frameworksFile || name == modulesFile
}
