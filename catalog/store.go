package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	songsBucket  = "songs"
	groupsBucket = "groups"
)

// Group is a performer or band. Songs reference it by GroupID.
type Group struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// entry is the on-disk value of both buckets.
type entry struct {
	Value      string `json:"value"`
	Compressed bool   `json:"compressed,omitempty"`
}

// Store persists the catalog in BoltDB and serves reads from memory.
type Store struct {
	mu                 sync.RWMutex
	db                 *bolt.DB
	dbPath             string
	backupPath         string
	compressionEnabled bool

	songs  map[string]lyrics.Song
	groups map[string]Group
}

// BackupInfo contains metadata about a backup file
type BackupInfo struct {
	FileName  string    `json:"fileName"`
	FilePath  string    `json:"filePath"`
	Size      int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// OpenStore opens (or creates) the catalog database and loads it into memory.
func OpenStore(dbPath, backupPath string, compressionEnabled bool) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if info, err := os.Stat(dir); err == nil {
		log.Infof("%s Directory %s exists (IsDir: %v)", logcolors.LogCatalogInit, dir, info.IsDir())
	} else {
		log.Infof("%s Directory %s does not exist, creating...", logcolors.LogCatalogInit, dir)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	if err := os.MkdirAll(backupPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	s := &Store{
		dbPath:             dbPath,
		backupPath:         backupPath,
		compressionEnabled: compressionEnabled,
		songs:              map[string]lyrics.Song{},
		groups:             map[string]Group{},
	}
	if err := s.open(); err != nil {
		return nil, err
	}

	log.Infof("%s Catalog store initialized at %s (compression: %v)", logcolors.LogCatalogInit, dbPath, compressionEnabled)
	return s, nil
}

func (s *Store) open() error {
	db, err := bolt.Open(s.dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return fmt.Errorf("failed to open catalog database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{songsBucket, groupsBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create catalog buckets: %w", err)
	}
	s.db = db

	if err := s.loadToMemory(); err != nil {
		log.Warnf("%s Failed to preload catalog to memory: %v", logcolors.LogCatalog, err)
	}
	return nil
}

// loadToMemory replaces the memory layer with what is on disk. Entries that
// fail to decode are skipped.
func (s *Store) loadToMemory() error {
	songs := map[string]lyrics.Song{}
	groups := map[string]Group{}

	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket([]byte(songsBucket)).ForEach(func(k, v []byte) error {
			var song lyrics.Song
			if err := decodeEntry(v, &song); err != nil {
				log.Warnf("%s Failed to decode song %s: %v", logcolors.LogCatalog, k, err)
				return nil
			}
			songs[string(k)] = song
			return nil
		}); err != nil {
			return err
		}
		return tx.Bucket([]byte(groupsBucket)).ForEach(func(k, v []byte) error {
			var group Group
			if err := decodeEntry(v, &group); err != nil {
				log.Warnf("%s Failed to decode group %s: %v", logcolors.LogCatalog, k, err)
				return nil
			}
			groups[string(k)] = group
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.songs = songs
	s.groups = groups
	log.Infof("%s Loaded %d songs and %d groups from disk", logcolors.LogCatalog, len(songs), len(groups))
	return nil
}

func decodeEntry(data []byte, v any) error {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return err
	}
	raw := []byte(e.Value)
	if e.Compressed {
		var err error
		if raw, err = decompress(e.Value); err != nil {
			return err
		}
	}
	return json.Unmarshal(raw, v)
}

func (s *Store) encodeEntry(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	e := entry{Value: string(raw)}
	if s.compressionEnabled {
		if e.Value, err = compress(raw); err != nil {
			return nil, err
		}
		e.Compressed = true
	}
	return json.Marshal(e)
}

// Song returns the record with the given id.
func (s *Store) Song(id string) (lyrics.Song, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	song, ok := s.songs[id]
	return song, ok
}

// Songs returns every record in no particular order.
func (s *Store) Songs() []lyrics.Song {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]lyrics.Song, 0, len(s.songs))
	for _, song := range s.songs {
		out = append(out, song)
	}
	return out
}

func (s *Store) Group(id string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	group, ok := s.groups[id]
	return group, ok
}

func (s *Store) Groups() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups))
	for _, group := range s.groups {
		out = append(out, group)
	}
	return out
}

// Replace swaps the whole catalog for songs in one transaction. Groups are
// derived from the songs; the first name seen for a group id wins.
func (s *Store) Replace(songs []lyrics.Song) error {
	nextSongs := make(map[string]lyrics.Song, len(songs))
	nextGroups := map[string]Group{}
	for _, song := range songs {
		if song.ID == "" {
			continue
		}
		if _, dup := nextSongs[song.ID]; dup {
			log.Warnf("%s Duplicate song id %q, keeping the first", logcolors.LogCatalog, song.ID)
			continue
		}
		nextSongs[song.ID] = song
		if _, ok := nextGroups[song.GroupID]; !ok && song.GroupID != "" {
			nextGroups[song.GroupID] = Group{ID: song.GroupID, Name: song.Group}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{songsBucket, groupsBucket} {
			if err := tx.DeleteBucket([]byte(name)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
			if _, err := tx.CreateBucket([]byte(name)); err != nil {
				return err
			}
		}
		sb := tx.Bucket([]byte(songsBucket))
		for id, song := range nextSongs {
			data, err := s.encodeEntry(song)
			if err != nil {
				return fmt.Errorf("encode song %s: %w", id, err)
			}
			if err := sb.Put([]byte(id), data); err != nil {
				return err
			}
		}
		gb := tx.Bucket([]byte(groupsBucket))
		for id, group := range nextGroups {
			data, err := s.encodeEntry(group)
			if err != nil {
				return fmt.Errorf("encode group %s: %w", id, err)
			}
			if err := gb.Put([]byte(id), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace catalog: %w", err)
	}

	s.songs = nextSongs
	s.groups = nextGroups
	return nil
}

// Stats returns the number of songs and groups held.
func (s *Store) Stats() (numSongs, numGroups int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.songs), len(s.groups)
}

// Backup writes a consistent copy of the database to the backup directory
// and returns its path.
func (s *Store) Backup() (string, error) {
	timestamp := time.Now().Format("2006-01-02_15-04-05.000")
	backupFilePath := filepath.Join(s.backupPath, fmt.Sprintf("catalog_backup_%s.db", timestamp))

	log.Infof("%s Creating backup at: %s", logcolors.LogCatalogBackup, backupFilePath)

	s.mu.RLock()
	defer s.mu.RUnlock()
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(backupFilePath, 0600)
	})
	if err != nil {
		return "", fmt.Errorf("failed to write backup: %w", err)
	}

	log.Infof("%s Backup created successfully: %s", logcolors.LogCatalogBackup, backupFilePath)
	return backupFilePath, nil
}

// ListBackups returns all backup files, oldest name first.
func (s *Store) ListBackups() ([]BackupInfo, error) {
	var backups []BackupInfo

	entries, err := os.ReadDir(s.backupPath)
	if err != nil {
		if os.IsNotExist(err) {
			return backups, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".db" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.Warnf("%s Failed to get info for %s: %v", logcolors.LogCatalogBackup, e.Name(), err)
			continue
		}
		backups = append(backups, BackupInfo{
			FileName:  e.Name(),
			FilePath:  filepath.Join(s.backupPath, e.Name()),
			Size:      info.Size(),
			CreatedAt: info.ModTime(),
		})
	}
	return backups, nil
}

// Restore replaces the current database with a backup and reloads memory.
// On failure the previous database is put back.
func (s *Store) Restore(backupFileName string) error {
	if filepath.Base(backupFileName) != backupFileName || filepath.Ext(backupFileName) != ".db" {
		return fmt.Errorf("invalid backup file: %s", backupFileName)
	}
	backupFilePath := filepath.Join(s.backupPath, backupFileName)
	if _, err := os.Stat(backupFilePath); os.IsNotExist(err) {
		return fmt.Errorf("backup file not found: %s", backupFileName)
	}

	log.Infof("%s Starting restore from backup: %s", logcolors.LogCatalogRestore, backupFileName)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close current database: %w", err)
	}

	preRestore := s.dbPath + ".pre-restore"
	if err := copyFile(s.dbPath, preRestore); err != nil {
		s.reopen()
		return fmt.Errorf("failed to save current database: %w", err)
	}

	if err := copyFile(backupFilePath, s.dbPath); err != nil {
		copyFile(preRestore, s.dbPath)
		s.reopen()
		return fmt.Errorf("failed to restore backup: %w", err)
	}
	os.Remove(preRestore)

	if err := s.open(); err != nil {
		return fmt.Errorf("failed to reopen database after restore: %w", err)
	}

	log.Infof("%s Successfully restored from backup: %s", logcolors.LogCatalogRestore, backupFileName)
	return nil
}

func (s *Store) reopen() {
	if err := s.open(); err != nil {
		log.Errorf("%s Failed to reopen database: %v", logcolors.LogCatalog, err)
	}
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
