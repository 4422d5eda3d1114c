package main

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"

	"nowshowing/work/app"
	"nowshowing/work/logger"
	"nowshowing/work/utils"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"
)

var (
	// restartChan signals a graceful reload: config cache cleared, registry
	// and caches rebuilt, listener kept alive.
	restartChan = make(chan bool, 1)

	startTime = time.Now()
)

// ProviderResponse describes one registered provider for the admin view.
type ProviderResponse struct {
	Name           string `json:"name"`
	SupportsMovie  bool   `json:"supportsMovie"`
	SupportsSeries bool   `json:"supportsSeries"`
	Custom         bool   `json:"custom"`
}

// StatsResponse carries runtime statistics for the admin interface.
type StatsResponse struct {
	Providers     int    `json:"providers"`
	WorkerThreads int    `json:"workerThreads"`
	Uptime        string `json:"uptime"`
	MemoryUsage   string `json:"memoryUsage"`
	LogLevel      string `json:"logLevel"`
}

// setupAdminRoutes registers the admin API. Every route passes the bcrypt
// token check; with no token hash configured the whole surface is disabled.
func setupAdminRoutes(router *mux.Router, a *app.App) {
	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return requireAdmin(a, h)
	}

	router.HandleFunc("/admin/api/providers", admin(handleListProviders(a))).Methods("GET")
	router.HandleFunc("/admin/api/stats", admin(handleGetStats(a))).Methods("GET")
	router.HandleFunc("/admin/api/flush-cache", admin(handleFlushCache(a))).Methods("POST")
	router.HandleFunc("/admin/api/loglevel", admin(handleSetLogLevel)).Methods("POST")
	router.HandleFunc("/admin/api/restart", admin(handleRestart)).Methods("POST")
}

// requireAdmin validates the X-Admin-Token header against the configured
// bcrypt hash. Comparing against the hash keeps the cleartext token out of
// the config file.
func requireAdmin(a *app.App, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hash := a.Config.AdminTokenHash
		if hash == "" {
			http.Error(w, "admin interface disabled", http.StatusForbidden)
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(token)); err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func handleListProviders(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		providers := a.Registry.Providers()
		resp := make([]ProviderResponse, len(providers))
		for i, p := range providers {
			resp[i] = ProviderResponse{
				Name:           p.Name,
				SupportsMovie:  p.SupportsMovie(),
				SupportsSeries: p.SupportsSeries(),
				Custom:         p.Custom,
			}
		}
		writeAdminJSON(w, resp)
	}
}

func handleGetStats(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		writeAdminJSON(w, StatsResponse{
			Providers:     a.Registry.Len(),
			WorkerThreads: a.Config.WorkerThreads,
			Uptime:        time.Since(startTime).Round(time.Second).String(),
			MemoryUsage:   utils.FormatBytes(int64(m.Alloc)),
			LogLevel:      logger.GetLogLevel(),
		})
	}
}

func handleFlushCache(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.Prober.FlushCache()
		a.ResponseCache.Clear()
		logger.Info("{admin - handleFlushCache} probe and response caches flushed")
		writeAdminJSON(w, map[string]bool{"ok": true})
	}
}

func handleSetLogLevel(w http.ResponseWriter, r *http.Request) {
	level := r.URL.Query().Get("level")
	if level == "" {
		http.Error(w, "level query parameter is required", http.StatusBadRequest)
		return
	}
	logger.SetLogLevel(level)
	logger.Info("{admin - handleSetLogLevel} log level set to %s", logger.GetLogLevel())
	writeAdminJSON(w, map[string]string{"level": logger.GetLogLevel()})
}

func handleRestart(w http.ResponseWriter, r *http.Request) {
	select {
	case restartChan <- true:
		writeAdminJSON(w, map[string]bool{"ok": true})
	default:
		http.Error(w, "restart already pending", http.StatusConflict)
	}
}

func writeAdminJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{admin - writeAdminJSON} failed to encode response: %v", err)
	}
}
