package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"lyrics-sync-go/logcolors"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketStats = []byte("stats")
	keySnapshot = []byte("counters")
)

const maxInt64 = int64(^uint64(0) >> 1)

// Store keeps the cumulative counters in a bolt file so they survive restarts.
type Store struct {
	db   *bolt.DB
	path string

	mu   sync.Mutex
	stop chan struct{}
	done sync.WaitGroup
}

// record is the on-disk form. Counters are keyed by name so adding a counter
// never breaks an older file.
type record struct {
	Counters     map[string]int64 `json:"counters"`
	FirstStarted time.Time        `json:"first_started"`
	SavedAt      time.Time        `json:"saved_at"`
}

// persistent lists every counter that carries across restarts. The active
// session gauge is left out.
func (s *Stats) persistent() map[string]*atomic.Int64 {
	return map[string]*atomic.Int64{
		"requests_total":      &s.TotalRequests,
		"requests_song_api":   &s.SongAPIRequests,
		"requests_page":       &s.PageRequests,
		"requests_ws":         &s.SocketRequests,
		"requests_stats":      &s.StatsRequests,
		"requests_health":     &s.HealthRequests,
		"requests_admin":      &s.AdminRequests,
		"requests_other":      &s.OtherRequests,
		"cache_hits":          &s.CacheHits,
		"cache_misses":        &s.CacheMisses,
		"limit_normal":        &s.RateLimitNormal,
		"limit_session":       &s.RateLimitSession,
		"limit_exceeded":      &s.RateLimitExceeded,
		"status_2xx":          &s.Status2xx,
		"status_4xx":          &s.Status4xx,
		"status_5xx":          &s.Status5xx,
		"sessions_opened":     &s.SessionsOpened,
		"songs_selected":      &s.SongsSelected,
		"song_fetch_failures": &s.SongFetchFailures,
		"audio_load_failures": &s.AudioLoadFailures,
		"resyncs":             &s.Resyncs,
		"patches":             &s.Patches,
		"catalog_reloads":     &s.CatalogReloads,
		"session_time_ms":     &s.sessionTime,
		"sessions_completed":  &s.sessionsCompleted,
		"response_time_us":    &s.totalResponseTime,
		"response_count":      &s.responseCount,
		"song_time_us":        &s.songResponseTime,
		"song_count":          &s.songResponseCount,
		"response_min_us":     &s.minResponseTime,
		"response_max_us":     &s.maxResponseTime,
	}
}

// NewStore opens (or creates) the stats database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open stats database: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketStats)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create stats bucket: %w", err)
	}

	log.Infof("%s Stats store opened at %s", logcolors.LogStats, dbPath)
	return &Store{db: db, path: dbPath, stop: make(chan struct{})}, nil
}

// Load applies the saved counters to the global stats. A missing record is
// not an error.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rec record
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketStats).Get(keySnapshot)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return fmt.Errorf("failed to load stats: %w", err)
	}
	if !found {
		return nil
	}

	g := Get()
	for name, counter := range g.persistent() {
		value, ok := rec.Counters[name]
		if !ok {
			continue
		}
		switch name {
		case "response_min_us":
			if value <= 0 || value >= maxInt64 {
				continue
			}
		case "response_max_us":
			if value <= 0 {
				continue
			}
		}
		counter.Store(value)
	}
	if !rec.FirstStarted.IsZero() {
		g.StartTime = rec.FirstStarted
	}

	log.Infof("%s Restored %d counters saved at %s", logcolors.LogStats,
		len(rec.Counters), rec.SavedAt.Format(time.RFC3339))
	return nil
}

// Save writes the current counters.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := Get()
	rec := record{
		Counters:     make(map[string]int64),
		FirstStarted: g.StartTime,
		SavedAt:      time.Now(),
	}
	for name, counter := range g.persistent() {
		rec.Counters[name] = counter.Load()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStats).Put(keySnapshot, data)
	}); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	return nil
}

// StartAutoSave saves every interval until Close.
func (s *Store) StartAutoSave(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.done.Add(1)
	go func() {
		defer s.done.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stop:
				return
			case <-ticker.C:
				if err := s.Save(); err != nil {
					log.Warnf("%s Auto-save failed: %v", logcolors.LogStats, err)
				}
			}
		}
	}()
	log.Infof("%s Saving stats every %v", logcolors.LogStats, interval)
}

// Close stops auto-save, writes a final snapshot and closes the file.
func (s *Store) Close() error {
	close(s.stop)
	s.done.Wait()

	if err := s.Save(); err != nil {
		log.Warnf("%s Final save failed: %v", logcolors.LogStats, err)
	}
	return s.db.Close()
}
