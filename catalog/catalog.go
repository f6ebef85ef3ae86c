// Package catalog is the song library: it loads lyric files from a songs
// directory, persists them in BoltDB and answers the song and group queries.
package catalog

import (
	"cmp"
	"errors"
	"slices"
	"sync"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned for unknown song or group ids.
var ErrNotFound = errors.New("not found")

// Catalog answers queries from the store and refreshes it from the songs
// directory. It is safe for concurrent use.
type Catalog struct {
	store *Store
	dir   string

	reloadMu sync.Mutex
	hooksMu  sync.Mutex
	hooks    []func()
}

func New(store *Store, dir string) *Catalog {
	return &Catalog{store: store, dir: dir}
}

// Store exposes the backing store for backup administration.
func (c *Catalog) Store() *Store { return c.store }

// Dir returns the songs directory.
func (c *Catalog) Dir() string { return c.dir }

// OnReload registers fn to run after every successful reload or restore.
func (c *Catalog) OnReload(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

func (c *Catalog) runHooks() {
	c.hooksMu.Lock()
	hooks := slices.Clone(c.hooks)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Reload re-reads the songs directory and swaps the catalog in one step.
// If the directory cannot be read the current catalog is kept.
func (c *Catalog) Reload() (int, error) {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	songs, err := LoadDir(c.dir)
	if err != nil {
		return 0, err
	}
	if err := c.store.Replace(songs); err != nil {
		return 0, err
	}

	numSongs, numGroups := c.store.Stats()
	log.Infof("%s Catalog reloaded: %d songs, %d groups", logcolors.LogCatalog, numSongs, numGroups)
	c.runHooks()
	return numSongs, nil
}

// Restore replaces the catalog with a backup.
func (c *Catalog) Restore(backupFileName string) error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	if err := c.store.Restore(backupFileName); err != nil {
		return err
	}
	c.runHooks()
	return nil
}

// SongByID returns the full record, lyrics included.
func (c *Catalog) SongByID(id string) (lyrics.Song, error) {
	song, ok := c.store.Song(id)
	if !ok {
		return lyrics.Song{}, ErrNotFound
	}
	return song, nil
}

// AllSongs returns the index form of every song, sorted by title.
func (c *Catalog) AllSongs() []lyrics.Summary {
	return summaries(c.store.Songs(), func(lyrics.Song) bool { return true })
}

// SongsByGroup returns the songs of one group, sorted by title.
func (c *Catalog) SongsByGroup(groupID string) ([]lyrics.Summary, error) {
	if _, ok := c.store.Group(groupID); !ok {
		return nil, ErrNotFound
	}
	return summaries(c.store.Songs(), func(s lyrics.Song) bool { return s.GroupID == groupID }), nil
}

// AllGroups returns every group once, sorted by name.
func (c *Catalog) AllGroups() []Group {
	groups := c.store.Groups()
	slices.SortFunc(groups, func(a, b Group) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	return groups
}

func (c *Catalog) GroupByID(id string) (Group, error) {
	group, ok := c.store.Group(id)
	if !ok {
		return Group{}, ErrNotFound
	}
	return group, nil
}

func summaries(songs []lyrics.Song, keep func(lyrics.Song) bool) []lyrics.Summary {
	out := make([]lyrics.Summary, 0, len(songs))
	for i := range songs {
		if keep(songs[i]) {
			out = append(out, songs[i].Summary())
		}
	}
	slices.SortFunc(out, func(a, b lyrics.Summary) int {
		return cmp.Or(cmp.Compare(a.Title, b.Title), cmp.Compare(a.ID, b.ID))
	})
	return out
}
