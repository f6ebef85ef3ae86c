package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lyrics-sync-go/catalog"
	"lyrics-sync-go/circuitbreaker"
	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"

	log "github.com/sirupsen/logrus"
)

// ErrNotFound is returned by a Source for an unknown song id.
var ErrNotFound = errors.New("song not found")

// Source fetches a full song record by id.
type Source interface {
	Song(ctx context.Context, id string) (*lyrics.Song, error)
}

// CatalogSource reads songs from a local catalog.
type CatalogSource struct {
	Catalog *catalog.Catalog
}

func (s CatalogSource) Song(_ context.Context, id string) (*lyrics.Song, error) {
	song, err := s.Catalog.SongByID(id)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &song, nil
}

// HTTPSource fetches songs from a running server's song API. Repeated
// transport or server errors trip a breaker so an unreachable server is
// reported at once instead of after every timeout.
type HTTPSource struct {
	baseURL string
	client  *http.Client
	breaker *circuitbreaker.CircuitBreaker
}

func NewHTTPSource(baseURL string, client *http.Client) *HTTPSource {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		breaker: circuitbreaker.New(circuitbreaker.Config{Name: "song-server"}),
	}
}

func (s *HTTPSource) Song(ctx context.Context, id string) (*lyrics.Song, error) {
	if !s.breaker.Allow() {
		return nil, fmt.Errorf("fetch song %s: %w (retry in %s)", id, circuitbreaker.ErrCircuitOpen,
			s.breaker.TimeUntilRetry().Round(time.Second))
	}

	song, err := s.fetch(ctx, id)
	switch {
	case err == nil, errors.Is(err, ErrNotFound):
		s.breaker.RecordSuccess()
	case ctx.Err() == nil:
		s.breaker.RecordFailure()
	}
	return song, err
}

func (s *HTTPSource) fetch(ctx context.Context, id string) (*lyrics.Song, error) {
	endpoint := fmt.Sprintf("%s/api/songs/%s", s.baseURL, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	log.Debugf("%s GET %s", logcolors.LogFetch, endpoint)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch song %s: %w", id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("fetch song %s: status %d: %s", id, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var song lyrics.Song
	if err := json.NewDecoder(resp.Body).Decode(&song); err != nil {
		return nil, fmt.Errorf("decode song %s: %w", id, err)
	}
	return &song, nil
}
