package script

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/go-homedir"
)

// Watch calls onReload with the freshly parsed script every time the file
// at path is written. Scripts that fail to parse are logged and skipped.
// It blocks until ctx is done.
func Watch(ctx context.Context, path string, onReload func(*Script)) error {
	p, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("invalid script path: %w", err)
	}
	p, err = filepath.Abs(p)
	if err != nil {
		return fmt.Errorf("invalid script path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("error creating fsnotify watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// Editors often replace the file, so watch its directory.
	dir := filepath.Dir(p)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("error adding dir to fsnotify watcher: %w", err)
	}
	log.Info("Script: watching", "file", p)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != p {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}

			log.Debug("Script: fsnotify event", "file", event.Name, "event", event.Op)
			s, err := Load(p)
			if err != nil {
				log.Warn("Script: reload failed", "file", p, "error", err)
				continue
			}
			onReload(s)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Debug("Script: fsnotify error", "dir", dir, "error", err)
		}
	}
}
