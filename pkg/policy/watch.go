package policy

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 250 * time.Millisecond

// Watch reloads the snapshot whenever a YAML file under the data tree changes.
// It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, sub := range []string{"ontology", "entities", "ops", "policies"} {
		if err := w.Add(filepath.Join(s.dataDir, sub)); err != nil {
			s.logger.Warn(moduleName, "Cannot watch policy directory", map[string]interface{}{
				"dir":   sub,
				"error": err.Error(),
			})
		}
	}

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".yaml") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// editors write in bursts; coalesce them into one reload
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			_, _ = s.Reload()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn(moduleName, "Policy watcher error", map[string]interface{}{"error": err.Error()})
		}
	}
}
