package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lyrics-sync-go/catalog"
	"lyrics-sync-go/config"
	"lyrics-sync-go/logcolors"
	"lyrics-sync-go/middleware"

	"github.com/gorilla/mux"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/cors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var conf = config.Get()

var (
	songCatalog *catalog.Catalog
	songCache   *gocache.Cache
)

const (
	shutdownTimeout = 10 * time.Second
	limiterIdle     = 10 * time.Minute
)

func init() {
	log.SetFormatter(&log.JSONFormatter{})
	log.SetOutput(os.Stdout)
	log.SetLevel(conf.ParseLogLevel())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	songCache = newSongCache()

	var err error
	songCatalog, err = setupCatalog()
	if err != nil {
		log.Fatalf("%s %v", logcolors.LogCatalogInit, err)
	}
	defer songCatalog.Store().Close()
	startWatcher(ctx, songCatalog)

	if statsStore := setupStats(); statsStore != nil {
		defer statsStore.Close()
	}

	router := mux.NewRouter()
	setupRoutes(router)

	c := cors.New(cors.Options{
		AllowedOrigins:   conf.GetAllowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodHead},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Cache-Status", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Type"},
		AllowCredentials: true,
	})

	limiter := middleware.NewIPRateLimiter(
		rate.Limit(conf.Configuration.RateLimitPerSecond), conf.Configuration.RateLimitBurstLimit,
		rate.Limit(conf.Configuration.SessionRateLimitPerSecond), conf.Configuration.SessionRateLimitBurstLimit,
	)
	go pruneLimiter(ctx, limiter, limiterIdle)

	// logging middleware
	loggedRouter := middleware.LoggingMiddleware(router)
	// chain cors middleware
	corsHandler := c.Handler(loggedRouter)
	// chain rate limiter
	handler := limitMiddleware(corsHandler, limiter)

	server := &http.Server{
		Addr:              ":" + conf.Configuration.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// sessions see the shutdown signal through their request context
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		log.Infof("%s Server listening on port %s", logcolors.LogServer, conf.Configuration.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("%s %v", logcolors.LogServer, err)
		}
	}()

	<-ctx.Done()
	log.Infof("%s Shutting down", logcolors.LogServer)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("%s Graceful shutdown failed: %v", logcolors.LogServer, err)
	}
}
