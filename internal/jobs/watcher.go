package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce collapses the burst of events a single file rewrite produces.
const DefaultDebounce = 2 * time.Second

// Trigger is anything that can be asked to run now, such as a Worker.
type Trigger interface {
	Trigger()
}

// FileWatcher triggers a run whenever a local file is written or replaced.
type FileWatcher struct {
	path     string
	target   Trigger
	debounce time.Duration
	log      zerolog.Logger
}

func NewFileWatcher(path string, target Trigger, debounce time.Duration, log zerolog.Logger) *FileWatcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FileWatcher{
		path:     path,
		target:   target,
		debounce: debounce,
		log:      log,
	}
}

// Run watches until ctx is cancelled. The parent directory is watched so the
// file may be deleted and recreated by the producer.
func (fw *FileWatcher) Run(ctx context.Context) error {
	path, err := filepath.Abs(fw.path)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", fw.path, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}
	fw.log.Info().Str("path", path).Msg("watching source for changes")

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isSourceChange(event, path) {
				continue
			}
			fw.log.Debug().Str("op", event.Op.String()).Msg("source changed")
			if timer == nil {
				timer = time.NewTimer(fw.debounce)
			} else {
				timer.Reset(fw.debounce)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fw.log.Warn().Err(err).Msg("file watcher error")
		case <-fire:
			fire = nil
			fw.target.Trigger()
		}
	}
}

// isSourceChange reports writes and creations of path. Removals and chmods
// are ignored: a removed source has nothing new to ingest.
func isSourceChange(event fsnotify.Event, path string) bool {
	if filepath.Clean(event.Name) != path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}
