package main

import (
	"net/http"

	"lyrics-sync-go/middleware"

	"github.com/gorilla/mux"
)

// setupRoutes configures all HTTP routes
func setupRoutes(router *mux.Router) {
	// Song API, consumed by the terminal player and by the pages
	router.HandleFunc("/api/songs", listSongs).Methods(http.MethodGet)
	router.HandleFunc("/api/songs/{id}", getSong).Methods(http.MethodGet)
	router.HandleFunc("/api/groups", listGroups).Methods(http.MethodGet)
	router.HandleFunc("/api/groups/{groupId}", getGroup).Methods(http.MethodGet)

	// Pages
	router.HandleFunc("/songs", songListPage).Methods(http.MethodGet)
	router.HandleFunc("/songs/{id}", songPage).Methods(http.MethodGet)
	router.HandleFunc("/groups", groupListPage).Methods(http.MethodGet)
	router.HandleFunc("/groups/{groupId}", groupPage).Methods(http.MethodGet)
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/songs", http.StatusFound)
	}).Methods(http.MethodGet)

	// Audio files from the songs directory
	router.HandleFunc("/media/{file}", serveMedia).Methods(http.MethodGet, http.MethodHead)

	// Sync session
	router.HandleFunc("/ws", serveSession)

	// Health and stats endpoints
	router.HandleFunc("/health", getHealthStatus)
	router.HandleFunc("/stats", getStats)

	// Catalog administration
	admin := router.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.APIKeyMiddleware(conf.Configuration.APIKey))
	admin.HandleFunc("/catalog/reload", reloadCatalog).Methods(http.MethodPost)
	admin.HandleFunc("/catalog/backup", backupCatalog).Methods(http.MethodPost)
	admin.HandleFunc("/catalog/backups", listBackups).Methods(http.MethodGet)
	admin.HandleFunc("/catalog/restore", restoreCatalog).Methods(http.MethodPost)
}
