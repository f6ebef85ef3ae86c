package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"lyrics-sync-go/catalog"
	"lyrics-sync-go/middleware"
	"lyrics-sync-go/session"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

func writeSongFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
}

// setupTestEnvironment loads a small catalog from a temp songs directory and
// returns a router wired like the server's.
func setupTestEnvironment(t *testing.T) (*mux.Router, string) {
	t.Helper()

	tmpDir := t.TempDir()
	songsDir := filepath.Join(tmpDir, "songs")
	if err := os.MkdirAll(songsDir, 0755); err != nil {
		t.Fatalf("Failed to create songs dir: %v", err)
	}
	writeSongFile(t, songsDir, "alpha.json", `{"id":"alpha","title":"Alpha","group":"The Band","groupId":"the-band","color":"#ff0000","audioFile":"/media/alpha.mp3","lyrics":[["hello ",0],["world",0.5],["",1]]}`)
	writeSongFile(t, songsDir, "beta.json", `{"id":"beta","title":"Beta","group":"The Band","groupId":"the-band","audioFile":"/media/beta.mp3","lyrics":[["x",0]]}`)
	writeSongFile(t, songsDir, "gamma.json", `{"id":"gamma","title":"Gamma","group":"Solo","groupId":"solo","lyrics":[["y",0]]}`)

	store, err := catalog.OpenStore(filepath.Join(tmpDir, "catalog.db"), filepath.Join(tmpDir, "backups"), false)
	if err != nil {
		t.Fatalf("Failed to open catalog store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	songCache = newSongCache()
	songCatalog = catalog.New(store, songsDir)
	songCatalog.OnReload(func() { songCache.Flush() })
	if _, err := songCatalog.Reload(); err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}

	router := mux.NewRouter()
	setupRoutes(router)
	return router, songsDir
}

func doRequest(router http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
}

func TestGetSong(t *testing.T) {
	router, _ := setupTestEnvironment(t)

	tests := []struct {
		name        string
		path        string
		status      int
		cacheStatus string
	}{
		{name: "first read misses", path: "/api/songs/alpha", status: http.StatusOK, cacheStatus: "MISS"},
		{name: "second read hits", path: "/api/songs/alpha", status: http.StatusOK, cacheStatus: "HIT"},
		{name: "unknown song", path: "/api/songs/nope", status: http.StatusNotFound, cacheStatus: "MISS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, tt.path, nil)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			if got := w.Header().Get("X-Cache-Status"); got != tt.cacheStatus {
				t.Errorf("X-Cache-Status = %q, want %q", got, tt.cacheStatus)
			}
		})
	}

	w := doRequest(router, http.MethodGet, "/api/songs/alpha", nil)
	var song map[string]interface{}
	decodeBody(t, w, &song)
	if song["title"] != "Alpha" || song["color"] != "#ff0000" || song["audioFile"] != "/media/alpha.mp3" {
		t.Errorf("Unexpected song body: %v", song)
	}
	tokens, ok := song["lyrics"].([]interface{})
	if !ok || len(tokens) != 3 {
		t.Errorf("Expected 3 lyric tokens, got %v", song["lyrics"])
	}
}

func TestListSongsAndGroups(t *testing.T) {
	router, _ := setupTestEnvironment(t)

	w := doRequest(router, http.MethodGet, "/api/songs", nil)
	var songs SongListResponse
	decodeBody(t, w, &songs)
	if songs.Count != 3 || songs.Songs[0].Title != "Alpha" || songs.Songs[2].Title != "Gamma" {
		t.Errorf("Unexpected song list: %+v", songs)
	}

	w = doRequest(router, http.MethodGet, "/api/groups", nil)
	var groups GroupListResponse
	decodeBody(t, w, &groups)
	if groups.Count != 2 || groups.Groups[0].Name != "Solo" || groups.Groups[1].Name != "The Band" {
		t.Errorf("Unexpected group list: %+v", groups)
	}

	w = doRequest(router, http.MethodGet, "/api/groups/the-band", nil)
	var group SongListResponse
	decodeBody(t, w, &group)
	if group.Group == nil || group.Group.Name != "The Band" || group.Count != 2 {
		t.Errorf("Unexpected group: %+v", group)
	}

	w = doRequest(router, http.MethodGet, "/api/groups/nobody", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown group, got %d", w.Code)
	}
}

func TestPages(t *testing.T) {
	router, _ := setupTestEnvironment(t)

	tests := []struct {
		name     string
		path     string
		status   int
		contains []string
	}{
		{name: "song list", path: "/songs", status: http.StatusOK, contains: []string{"Alpha", "Beta", "/groups/the-band"}},
		{name: "song page", path: "/songs/alpha", status: http.StatusOK, contains: []string{"Alpha", `data-song="alpha"`, "/ws"}},
		{name: "unknown song page", path: "/songs/nope", status: http.StatusNotFound, contains: []string{"Not found"}},
		{name: "group list", path: "/groups", status: http.StatusOK, contains: []string{"The Band", "Solo"}},
		{name: "group page", path: "/groups/the-band", status: http.StatusOK, contains: []string{"Alpha", "Beta"}},
		{name: "unknown group page", path: "/groups/nobody", status: http.StatusNotFound, contains: []string{"Not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, tt.path, nil)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
				t.Errorf("Expected HTML, got %q", ct)
			}
			body := w.Body.String()
			for _, want := range tt.contains {
				if !strings.Contains(body, want) {
					t.Errorf("Expected body to contain %q", want)
				}
			}
		})
	}
}

func TestRootRedirectsToSongs(t *testing.T) {
	router, _ := setupTestEnvironment(t)

	w := doRequest(router, http.MethodGet, "/", nil)
	if w.Code != http.StatusFound {
		t.Fatalf("Expected 302, got %d", w.Code)
	}
	if loc := w.Header().Get("Location"); loc != "/songs" {
		t.Errorf("Location = %q, want /songs", loc)
	}
}

func TestServeMedia(t *testing.T) {
	router, songsDir := setupTestEnvironment(t)
	writeSongFile(t, songsDir, "alpha.mp3", "ID3fake")

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "audio file", path: "/media/alpha.mp3", status: http.StatusOK},
		{name: "missing audio file", path: "/media/beta.mp3", status: http.StatusNotFound},
		{name: "lyrics file not served", path: "/media/alpha.json", status: http.StatusNotFound},
		{name: "hidden file not served", path: "/media/.alpha.mp3", status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(router, http.MethodGet, tt.path, nil)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestReloadFlushesSongCache(t *testing.T) {
	router, songsDir := setupTestEnvironment(t)

	doRequest(router, http.MethodGet, "/api/songs/alpha", nil)
	if songCache.ItemCount() != 1 {
		t.Fatalf("Expected alpha to be cached, got %d items", songCache.ItemCount())
	}

	writeSongFile(t, songsDir, "delta.json", `{"id":"delta","title":"Delta","group":"Solo","groupId":"solo","lyrics":[["z",0]]}`)
	w := doRequest(router, http.MethodPost, "/admin/catalog/reload", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var body map[string]interface{}
	decodeBody(t, w, &body)
	if body["songs"] != float64(4) {
		t.Errorf("Expected 4 songs after reload, got %v", body["songs"])
	}
	if songCache.ItemCount() != 0 {
		t.Errorf("Expected song cache to be flushed, got %d items", songCache.ItemCount())
	}
}

func TestAdminRequiresAPIKey(t *testing.T) {
	previous := conf.Configuration.APIKey
	conf.Configuration.APIKey = "secret"
	t.Cleanup(func() { conf.Configuration.APIKey = previous })

	router, _ := setupTestEnvironment(t)

	tests := []struct {
		name   string
		key    string
		status int
	}{
		{name: "missing key", key: "", status: http.StatusUnauthorized},
		{name: "wrong key", key: "guess", status: http.StatusUnauthorized},
		{name: "valid key", key: "secret", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.key != "" {
				header.Set("X-API-Key", tt.key)
			}
			w := doRequest(router, http.MethodGet, "/admin/catalog/backups", header)
			if w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestBackupAndRestore(t *testing.T) {
	router, songsDir := setupTestEnvironment(t)

	w := doRequest(router, http.MethodPost, "/admin/catalog/backup", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Backup failed: %d %s", w.Code, w.Body.String())
	}

	w = doRequest(router, http.MethodGet, "/admin/catalog/backups", nil)
	var listing struct {
		Count   int                  `json:"count"`
		Backups []catalog.BackupInfo `json:"backups"`
	}
	decodeBody(t, w, &listing)
	if listing.Count != 1 {
		t.Fatalf("Expected 1 backup, got %d", listing.Count)
	}

	os.Remove(filepath.Join(songsDir, "gamma.json"))
	doRequest(router, http.MethodPost, "/admin/catalog/reload", nil)
	if w := doRequest(router, http.MethodGet, "/api/songs/gamma", nil); w.Code != http.StatusNotFound {
		t.Fatalf("Expected gamma to be gone after reload, got %d", w.Code)
	}

	w = doRequest(router, http.MethodPost, "/admin/catalog/restore?backup="+listing.Backups[0].FileName, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Restore failed: %d %s", w.Code, w.Body.String())
	}
	if w := doRequest(router, http.MethodGet, "/api/songs/gamma", nil); w.Code != http.StatusOK {
		t.Errorf("Expected gamma to be back after restore, got %d", w.Code)
	}

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{name: "missing parameter", path: "/admin/catalog/restore", status: http.StatusBadRequest},
		{name: "path traversal", path: "/admin/catalog/restore?backup=../catalog.db", status: http.StatusInternalServerError},
		{name: "unknown backup", path: "/admin/catalog/restore?backup=nope.db", status: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := doRequest(router, http.MethodPost, tt.path, nil); w.Code != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, w.Code)
			}
		})
	}
}

func TestHealthAndStats(t *testing.T) {
	router, _ := setupTestEnvironment(t)

	w := doRequest(router, http.MethodGet, "/health", nil)
	var health map[string]interface{}
	decodeBody(t, w, &health)
	if health["status"] != "ok" || health["songs"] != float64(3) || health["groups"] != float64(2) {
		t.Errorf("Unexpected health: %v", health)
	}

	w = doRequest(router, http.MethodGet, "/stats", nil)
	var snapshot map[string]interface{}
	decodeBody(t, w, &snapshot)
	for _, key := range []string{"requests", "sessions", "catalog_storage", "song_cache"} {
		if _, ok := snapshot[key]; !ok {
			t.Errorf("Expected stats to include %q", key)
		}
	}
}

func TestHealthDegradedWhenEmpty(t *testing.T) {
	tmpDir := t.TempDir()
	store, err := catalog.OpenStore(filepath.Join(tmpDir, "catalog.db"), filepath.Join(tmpDir, "backups"), false)
	if err != nil {
		t.Fatalf("Failed to open catalog store: %v", err)
	}
	defer store.Close()
	songCatalog = catalog.New(store, tmpDir)

	w := httptest.NewRecorder()
	getHealthStatus(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var health map[string]interface{}
	decodeBody(t, w, &health)
	if health["status"] != "degraded" {
		t.Errorf("Expected degraded status, got %v", health["status"])
	}
}

func TestLimitMiddleware(t *testing.T) {
	limiter := middleware.NewIPRateLimiter(rate.Limit(1), 1, rate.Limit(1), 1)
	handler := limitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.Context().Value(rateLimitTypeKey).(string)))
	}), limiter)

	request := func(path, remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.RemoteAddr = remote
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	tests := []struct {
		name     string
		path     string
		remote   string
		status   int
		tierType string
	}{
		{name: "first request", path: "/api/songs", remote: "10.0.0.1:1000", status: http.StatusOK, tierType: "normal"},
		{name: "second request, other port", path: "/api/songs", remote: "10.0.0.1:2000", status: http.StatusTooManyRequests, tierType: "exceeded"},
		{name: "session open uses its own tier", path: "/ws", remote: "10.0.0.1:3000", status: http.StatusOK, tierType: "session"},
		{name: "second session open", path: "/ws", remote: "10.0.0.1:4000", status: http.StatusTooManyRequests, tierType: "exceeded"},
		{name: "other client", path: "/api/songs", remote: "10.0.0.2:1000", status: http.StatusOK, tierType: "normal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(tt.path, tt.remote)
			if w.Code != tt.status {
				t.Fatalf("Expected status %d, got %d", tt.status, w.Code)
			}
			if got := w.Header().Get("X-RateLimit-Type"); got != tt.tierType {
				t.Errorf("X-RateLimit-Type = %q, want %q", got, tt.tierType)
			}
		})
	}
}

func TestLimitMiddleware_APIKeyBypass(t *testing.T) {
	previous := conf.Configuration.APIKey
	conf.Configuration.APIKey = "secret"
	t.Cleanup(func() { conf.Configuration.APIKey = previous })

	limiter := middleware.NewIPRateLimiter(rate.Limit(1), 1, rate.Limit(1), 1)
	handler := limitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), limiter)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/songs", nil)
		req.Header.Set("X-API-Key", "secret")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK || w.Header().Get("X-RateLimit-Bypass") != "true" {
			t.Fatalf("Request %d: expected bypass, got %d", i, w.Code)
		}
	}
}

func TestCheckOrigin(t *testing.T) {
	previous := conf.Configuration.AllowedOrigins
	t.Cleanup(func() { conf.Configuration.AllowedOrigins = previous })

	tests := []struct {
		name     string
		allowed  string
		origin   string
		expected bool
	}{
		{name: "no origin header", allowed: "https://a.example", origin: "", expected: true},
		{name: "wildcard", allowed: "*", origin: "https://evil.example", expected: true},
		{name: "listed origin", allowed: "https://a.example,https://b.example", origin: "https://b.example", expected: true},
		{name: "unlisted origin", allowed: "https://a.example", origin: "https://evil.example", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf.Configuration.AllowedOrigins = tt.allowed
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := checkOrigin(req); got != tt.expected {
				t.Errorf("checkOrigin = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestSessionEndpoint(t *testing.T) {
	router, _ := setupTestEnvironment(t)
	srv := httptest.NewServer(router)
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to dial session: %v", err)
	}
	defer client.Close()

	read := func(want string) session.Message {
		t.Helper()
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		for {
			var msg session.Message
			if err := client.ReadJSON(&msg); err != nil {
				t.Fatalf("Failed waiting for %s: %v", want, err)
			}
			if msg.Type == want {
				return msg
			}
		}
	}

	if hello := read(session.MessageSession); hello.ID == "" {
		t.Error("Expected a session id")
	}

	if err := client.WriteJSON(map[string]interface{}{"type": "select", "songId": "alpha"}); err != nil {
		t.Fatalf("Failed to select: %v", err)
	}
	load := read(session.MessageLoad)
	if load.Audio != "/media/alpha.mp3" || load.Title != "Alpha" || load.Color != "#ff0000" {
		t.Errorf("Unexpected load message: %+v", load)
	}

	if err := client.WriteJSON(map[string]interface{}{"type": "select", "songId": "missing"}); err != nil {
		t.Fatalf("Failed to select: %v", err)
	}
	if msg := read(session.MessageError); !strings.Contains(msg.Message, "missing") {
		t.Errorf("Expected not-found error, got %q", msg.Message)
	}
}
