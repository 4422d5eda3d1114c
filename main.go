package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"nowshowing/work/app"
	"nowshowing/work/cache"
	"nowshowing/work/client"
	"nowshowing/work/config"
	"nowshowing/work/handlers"
	"nowshowing/work/logger"
	"nowshowing/work/metadata"
	"nowshowing/work/middleware"
	"nowshowing/work/prober"
	"nowshowing/work/registry"
	"nowshowing/work/resolver"
	"nowshowing/work/store"
)

var (
	Version = "v0.1.0" // default version
)

// our main app worker
func main() {

	// load our config
	cfg := config.LoadConfig()
	if cfg.Debug {
		logger.SetLogLevel("DEBUG")
	}

	// Initialize HTTP client
	httpClient := client.NewHeaderSettingClient(cfg)

	// Initialize worker pool for availability probes
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// Response cache for OMDb/GNews payloads
	responseCache := cache.NewCache(cfg.MetadataCacheTTL)

	// Watchlist / continue-watching persistence
	db, err := store.Open(cfg.DatabasePath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	// Provider registry: built-ins plus custom sources, read once
	reg := registry.New(cfg.CustomSourcesPath)

	// Availability prober and the resolution engine on top of it
	probe := prober.New(cfg, httpClient)
	resolve := resolver.New(cfg, reg, probe, workerPool, db)
	resolve.StartCleanup()
	defer resolve.StopCleanup()

	application := &app.App{
		Config:        cfg,
		Registry:      reg,
		Resolver:      resolve,
		Prober:        probe,
		Store:         db,
		Metadata:      metadata.New(cfg, httpClient, responseCache),
		ResponseCache: responseCache,
		HTTPClient:    httpClient,
	}

	// Setup HTTP routes
	router := mux.NewRouter()

	api := func(h http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(middleware.GzipMiddleware(h))
	}

	// Availability relay
	router.HandleFunc("/api/check-video", api(handlers.HandleCheckVideo(application))).Methods("POST", "OPTIONS")

	// Resolution sessions
	router.HandleFunc("/api/resolve", api(handlers.HandleResolve(application))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/resolve/{id}", api(handlers.HandleGetSession(application))).Methods("GET")
	router.HandleFunc("/api/resolve/{id}/select", api(handlers.HandleSelectSource(application))).Methods("POST", "OPTIONS")

	// Metadata proxies
	router.HandleFunc("/api/omdb-proxy", api(handlers.HandleOMDbProxy(application))).Methods("GET")
	router.HandleFunc("/api/fetch-news", api(handlers.HandleFetchNews(application))).Methods("GET")

	// Watchlist / continue watching
	router.HandleFunc("/api/continue-watching", api(handlers.HandleContinueList(application))).Methods("GET")
	router.HandleFunc("/api/continue-watching", api(handlers.HandleContinueUpsert(application))).Methods("POST", "OPTIONS")
	router.HandleFunc("/api/continue-watching/{id}", api(handlers.HandleContinueRemove(application))).Methods("DELETE", "OPTIONS")
	router.HandleFunc("/api/watchlist", api(handlers.HandleWatchlistGet(application))).Methods("GET")
	router.HandleFunc("/api/watchlist", api(handlers.HandleWatchlistPut(application))).Methods("PUT", "OPTIONS")
	router.HandleFunc("/api/watchlist/{id}", api(handlers.HandleWatchlistRemove(application))).Methods("DELETE", "OPTIONS")

	// Liveness
	router.HandleFunc("/api/test", api(handlers.HandleTest())).Methods("GET")

	// Metrics handler
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// add the admin routes
	setupAdminRoutes(router, application)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting NowShowing Resolver %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Providers: %d", reg.Len())
	logger.Info("  - Default Provider: %s", cfg.DefaultProvider)
	logger.Info("  - Probe Timeout: %s", cfg.ProbeTimeout)
	logger.Info("  - Watchdog Delay: %s", cfg.WatchdogDelay)
	logger.Info("  - Probe Cache: %s ok / %s fail", cfg.ProbeCacheOK, cfg.ProbeCacheFail)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	// gracefully reload if it's requested to do.
	go func() {
		for {
			<-restartChan

			if application.Config.Debug {
				logger.Debug("Graceful reload requested...")
			}

			application.Reload()
		}
	}()

	// fire us up
	if err := http.ListenAndServe(addr, router); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}

}

// corsMiddleware mirrors the permissive CORS policy of the original API:
// any origin may call it, preflights answer immediately.
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Admin-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
