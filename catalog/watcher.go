package catalog

import (
	"context"
	"time"

	"lyrics-sync-go/logcolors"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for a burst of file events
// to settle before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Watcher reloads a Catalog when its songs directory changes.
type Watcher struct {
	catalog  *Catalog
	watcher  *fsnotify.Watcher
	debounce time.Duration
}

func NewWatcher(c *Catalog, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(c.Dir()); err != nil {
		fw.Close()
		return nil, err
	}
	return &Watcher{catalog: c, watcher: fw, debounce: debounce}, nil
}

// Run handles file events until ctx is done or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	debounce := time.NewTimer(0)
	<-debounce.C
	defer debounce.Stop()

	log.Infof("%s Watching %s for changes", logcolors.LogWatcher, w.catalog.Dir())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugf("%s %s", logcolors.LogWatcher, event)
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(w.debounce)

		case <-debounce.C:
			if _, err := w.catalog.Reload(); err != nil {
				log.Errorf("%s Reload failed: %v", logcolors.LogWatcher, err)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Errorf("%s Watcher error: %v", logcolors.LogWatcher, err)

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) Close() error {
	return w.watcher.Close()
}
