package main

import (
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"slices"
	"strings"

	"lyrics-sync-go/catalog"
	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/lyrics"
	"lyrics-sync-go/session"
	"lyrics-sync-go/stats"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// checkOrigin applies ALLOWED_ORIGINS to websocket upgrades. Requests
// without an Origin header are not from a browser and are let through.
func checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := conf.GetAllowedOrigins()
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return true
	}
	return slices.Contains(allowed, origin)
}

// lookupSong reads a song through the TTL cache. The returned status is the
// X-Cache-Status value.
func lookupSong(id string) (lyrics.Song, string, error) {
	if cached, ok := songCache.Get(id); ok {
		stats.Get().RecordCacheHit()
		log.Debugf("%s Found cached song: %s", logcolors.LogSongCache, id)
		return cached.(lyrics.Song), "HIT", nil
	}

	stats.Get().RecordCacheMiss()
	song, err := songCatalog.SongByID(id)
	if err != nil {
		return lyrics.Song{}, "MISS", err
	}
	songCache.SetDefault(id, song)
	return song, "MISS", nil
}

func getSong(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	song, cacheStatus, err := lookupSong(id)
	if errors.Is(err, catalog.ErrNotFound) {
		Respond(w, r).Cache(cacheStatus).Fail(http.StatusNotFound, "Song not found: %s", id)
		return
	}
	if err != nil {
		log.Errorf("%s Failed to read song %s: %v", logcolors.LogCatalog, id, err)
		Respond(w, r).Fail(http.StatusInternalServerError, "Failed to read song")
		return
	}

	Respond(w, r).Cache(cacheStatus).JSON(song)
}

func listSongs(w http.ResponseWriter, r *http.Request) {
	songs := songCatalog.AllSongs()
	Respond(w, r).JSON(SongListResponse{Count: len(songs), Songs: songs})
}

func listGroups(w http.ResponseWriter, r *http.Request) {
	groups := songCatalog.AllGroups()
	Respond(w, r).JSON(GroupListResponse{Count: len(groups), Groups: groups})
}

func getGroup(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]

	group, err := songCatalog.GroupByID(groupID)
	if err != nil {
		Respond(w, r).Fail(http.StatusNotFound, "Group not found: %s", groupID)
		return
	}
	songs, err := songCatalog.SongsByGroup(groupID)
	if err != nil {
		Respond(w, r).Fail(http.StatusNotFound, "Group not found: %s", groupID)
		return
	}

	Respond(w, r).JSON(SongListResponse{Group: &group, Count: len(songs), Songs: songs})
}

func renderPage(w http.ResponseWriter, status int, name string, data pageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		log.Errorf("%s Failed to render %s: %v", logcolors.LogHTTP, name, err)
	}
}

func notFoundPage(w http.ResponseWriter, message string) {
	renderPage(w, http.StatusNotFound, "not-found.html", pageData{Title: "Not found", Message: message})
}

func songListPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusOK, "song-list.html", pageData{
		Title: "Songs",
		Songs: songCatalog.AllSongs(),
	})
}

func songPage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	song, _, err := lookupSong(id)
	if err != nil {
		notFoundPage(w, fmt.Sprintf("No song with id %q.", id))
		return
	}
	renderPage(w, http.StatusOK, "song.html", pageData{Title: song.Title, Song: song})
}

func groupListPage(w http.ResponseWriter, r *http.Request) {
	renderPage(w, http.StatusOK, "group-list.html", pageData{
		Title:  "Groups",
		Groups: songCatalog.AllGroups(),
	})
}

func groupPage(w http.ResponseWriter, r *http.Request) {
	groupID := mux.Vars(r)["groupId"]

	group, err := songCatalog.GroupByID(groupID)
	if err != nil {
		notFoundPage(w, fmt.Sprintf("No group with id %q.", groupID))
		return
	}
	songs, _ := songCatalog.SongsByGroup(groupID)
	renderPage(w, http.StatusOK, "group.html", pageData{Title: group.Name, Group: group, Songs: songs})
}

// serveMedia serves an audio file that sits directly in the songs directory.
func serveMedia(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["file"]
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !catalog.IsAudioFile(name) {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, filepath.Join(songCatalog.Dir(), name))
}

// serveSession upgrades to a websocket and runs one sync session on it.
func serveSession(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response
		log.Warnf("%s Websocket upgrade failed for %s: %v", logcolors.LogSession, r.RemoteAddr, err)
		return
	}

	log.Infof("%s Session connected from %s", logcolors.LogSession, r.RemoteAddr)
	if err := session.Serve(r.Context(), ws, session.CatalogSource{Catalog: songCatalog}, sessionConfig()); err != nil {
		log.Errorf("%s Session ended with error: %v", logcolors.LogSession, err)
	}
}

func sessionConfig() session.Config {
	return session.Config{
		TickInterval: conf.TickInterval(),
		LineHeight:   conf.Configuration.LineHeight,
		ContextLines: conf.Configuration.ContextLines,
	}
}

func reloadCatalog(w http.ResponseWriter, r *http.Request) {
	numSongs, err := songCatalog.Reload()
	if err != nil {
		log.Errorf("%s Failed to reload catalog: %v", logcolors.LogCatalog, err)
		Respond(w, r).Fail(http.StatusInternalServerError, "Failed to reload catalog: %v", err)
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"message": "Catalog reloaded successfully",
		"songs":   numSongs,
	})
}

func backupCatalog(w http.ResponseWriter, r *http.Request) {
	backupPath, err := songCatalog.Store().Backup()
	if err != nil {
		log.Errorf("%s Failed to create backup: %v", logcolors.LogCatalogBackup, err)
		Respond(w, r).Fail(http.StatusInternalServerError, "Failed to create backup: %v", err)
		return
	}

	log.Infof("%s Backup created successfully at: %s", logcolors.LogCatalogBackup, backupPath)
	Respond(w, r).JSON(map[string]interface{}{
		"message":     "Backup created successfully",
		"backup_path": backupPath,
	})
}

func listBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := songCatalog.Store().ListBackups()
	if err != nil {
		log.Errorf("%s Failed to list backups: %v", logcolors.LogCatalogBackup, err)
		Respond(w, r).Fail(http.StatusInternalServerError, "Failed to list backups: %v", err)
		return
	}

	Respond(w, r).JSON(map[string]interface{}{
		"count":   len(backups),
		"backups": backups,
	})
}

func restoreCatalog(w http.ResponseWriter, r *http.Request) {
	backupFileName := r.URL.Query().Get("backup")
	if backupFileName == "" {
		Respond(w, r).Fail(http.StatusBadRequest, "Missing backup query parameter")
		return
	}

	if err := songCatalog.Restore(backupFileName); err != nil {
		log.Errorf("%s Failed to restore backup %s: %v", logcolors.LogCatalogRestore, backupFileName, err)
		Respond(w, r).Fail(http.StatusInternalServerError, "Failed to restore backup: %v", err)
		return
	}

	log.Infof("%s Catalog restored from %s", logcolors.LogCatalogRestore, backupFileName)
	Respond(w, r).JSON(map[string]interface{}{
		"message": "Catalog restored successfully",
		"backup":  backupFileName,
	})
}

func getHealthStatus(w http.ResponseWriter, r *http.Request) {
	numSongs, numGroups := songCatalog.Store().Stats()

	health := map[string]interface{}{
		"status":          "ok",
		"songs":           numSongs,
		"groups":          numGroups,
		"active_sessions": stats.Get().SessionsActive.Load(),
	}

	// An empty catalog still serves, but nothing can be played
	if numSongs == 0 {
		health["status"] = "degraded"
		health["error"] = "catalog is empty"
	}

	Respond(w, r).JSON(health)
}

func getStats(w http.ResponseWriter, r *http.Request) {
	snapshot := stats.Get().Snapshot()

	numSongs, numGroups := songCatalog.Store().Stats()
	snapshot["catalog_storage"] = map[string]interface{}{
		"songs":  numSongs,
		"groups": numGroups,
	}
	snapshot["song_cache"] = map[string]interface{}{
		"items": songCache.ItemCount(),
	}

	Respond(w, r).JSON(snapshot)
}
