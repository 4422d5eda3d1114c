package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"nowshowing/work/app"
	"nowshowing/work/client"
	"nowshowing/work/config"
	"nowshowing/work/handlers"
	"nowshowing/work/prober"
	"nowshowing/work/registry"
	"nowshowing/work/resolver"
	"nowshowing/work/store"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestApp wires a complete app against a local upstream standing in for
// the streaming providers: /good/ answers 200, /bad/ answers 404.
func newTestApp(t *testing.T) (*app.App, *mux.Router) {
	t.Helper()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/bad/") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(upstream.Close)

	cfg := &config.Config{
		UserAgent:       "Mozilla/5.0 (compatible; NowShowing/1.0)",
		DefaultProvider: "Good",
		ProbeTimeout:    2 * time.Second,
		WatchdogDelay:   time.Hour,
		SessionTTL:      time.Hour,
		ProbeCacheOK:    time.Minute,
		ProbeCacheFail:  time.Minute,
		ProbesPerSecond: 1000,
	}

	reg := registry.NewStatic([]registry.Provider{
		{Name: "Good", MovieURL: upstream.URL + "/good/", SeriesURL: ""},
		{Name: "Bad", MovieURL: upstream.URL + "/bad/", SeriesURL: ""},
	})

	httpClient := client.NewHeaderSettingClient(cfg)
	probe := prober.New(cfg, httpClient)

	pool, err := ants.NewPool(4)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Release() })

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	a := &app.App{
		Config:     cfg,
		Registry:   reg,
		Prober:     probe,
		Store:      db,
		Resolver:   resolver.New(cfg, reg, probe, pool, db),
		HTTPClient: httpClient,
	}

	r := mux.NewRouter()
	r.HandleFunc("/api/check-video", handlers.HandleCheckVideo(a)).Methods("POST")
	r.HandleFunc("/api/resolve", handlers.HandleResolve(a)).Methods("POST")
	r.HandleFunc("/api/resolve/{id}", handlers.HandleGetSession(a)).Methods("GET")
	r.HandleFunc("/api/resolve/{id}/select", handlers.HandleSelectSource(a)).Methods("POST")
	r.HandleFunc("/api/continue-watching", handlers.HandleContinueList(a)).Methods("GET")
	r.HandleFunc("/api/continue-watching", handlers.HandleContinueUpsert(a)).Methods("POST")
	r.HandleFunc("/api/continue-watching/{id}", handlers.HandleContinueRemove(a)).Methods("DELETE")
	r.HandleFunc("/api/watchlist", handlers.HandleWatchlistGet(a)).Methods("GET")
	r.HandleFunc("/api/watchlist", handlers.HandleWatchlistPut(a)).Methods("PUT")
	r.HandleFunc("/api/watchlist/{id}", handlers.HandleWatchlistRemove(a)).Methods("DELETE")
	r.HandleFunc("/api/test", handlers.HandleTest()).Methods("GET")

	return a, r
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeJSON(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestCheckVideoRequiresURL(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, "POST", "/api/check-video", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	decodeJSON(t, w, &body)
	assert.Equal(t, "URL is required", body["error"])
}

func TestCheckVideoRejectsInvalidJSON(t *testing.T) {
	_, router := newTestApp(t)

	req := httptest.NewRequest("POST", "/api/check-video", bytes.NewBufferString("{broken"))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCheckVideoVerdictIsAlways200(t *testing.T) {
	a, router := newTestApp(t)
	good, _ := a.Registry.Lookup("Good")
	bad, _ := a.Registry.Lookup("Bad")

	w := doJSON(t, router, "POST", "/api/check-video", map[string]string{"url": good.MovieURL + "tt0133093"})
	require.Equal(t, http.StatusOK, w.Code)
	var result prober.Result
	decodeJSON(t, w, &result)
	assert.True(t, result.Available)
	assert.Contains(t, w.Header().Get("Cache-Control"), "s-maxage=300")

	// An unreachable target is still a 200: the verdict lives in the body.
	w = doJSON(t, router, "POST", "/api/check-video", map[string]string{"url": bad.MovieURL + "tt0133093"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &result)
	assert.False(t, result.Available)
	assert.Equal(t, "HTTP status 404", result.Error)
	assert.Contains(t, w.Header().Get("Cache-Control"), "s-maxage=60")
}

func TestResolveValidation(t *testing.T) {
	_, router := newTestApp(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"bad title id", map[string]any{"titleId": "matrix", "mediaKind": "movie"}},
		{"bad media kind", map[string]any{"titleId": "tt0133093", "mediaKind": "podcast"}},
		{"season without episode", map[string]any{"titleId": "tt0944947", "mediaKind": "series", "season": 2}},
		{"episode without season", map[string]any{"titleId": "tt0944947", "mediaKind": "series", "episode": 5}},
		{"movie with season", map[string]any{"titleId": "tt0133093", "mediaKind": "movie", "season": 1, "episode": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, "POST", "/api/resolve", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestResolveNoSources(t *testing.T) {
	// Neither test provider supports series.
	_, router := newTestApp(t)

	w := doJSON(t, router, "POST", "/api/resolve", map[string]any{
		"titleId": "tt0944947", "mediaKind": "series",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestResolveSessionLifecycle(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, "POST", "/api/resolve", map[string]any{
		"titleId": "tt0133093", "mediaKind": "movie", "title": "The Matrix",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var snap resolver.Snapshot
	decodeJSON(t, w, &snap)
	require.NotEmpty(t, snap.ID)
	assert.Equal(t, "Good", snap.ActiveProvider)
	require.Len(t, snap.Candidates, 2)

	// Snapshot polling.
	w = doJSON(t, router, "GET", "/api/resolve/"+snap.ID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	// Probes against the local upstream settle quickly; the dead provider
	// must resolve unavailable without unseating the healthy active one.
	assert.Eventually(t, func() bool {
		w := doJSON(t, router, "GET", "/api/resolve/"+snap.ID, nil)
		var got resolver.Snapshot
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			return false
		}
		return got.State == "settled" && got.ActiveProvider == "Good"
	}, 3*time.Second, 20*time.Millisecond)

	// Manual selection wins, even onto the unavailable candidate.
	w = doJSON(t, router, "POST", "/api/resolve/"+snap.ID+"/select", map[string]string{"provider": "Bad"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeJSON(t, w, &snap)
	assert.Equal(t, "Bad", snap.ActiveProvider)

	// Unknown provider and unknown session.
	w = doJSON(t, router, "POST", "/api/resolve/"+snap.ID+"/select", map[string]string{"provider": "Nope"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(t, router, "GET", "/api/resolve/not-a-session", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestContinueWatchingEndpoints(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, "POST", "/api/continue-watching", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code, "titleId is mandatory")

	w = doJSON(t, router, "POST", "/api/continue-watching", store.Entry{
		TitleID: "tt0133093", Title: "The Matrix", MediaKind: "movie",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/continue-watching", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []store.Entry
	decodeJSON(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "The Matrix", entries[0].Title)

	w = doJSON(t, router, "DELETE", "/api/continue-watching/tt0133093", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/continue-watching", nil)
	decodeJSON(t, w, &entries)
	assert.Empty(t, entries)
}

func TestWatchlistEndpoints(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, "PUT", "/api/watchlist", []store.Entry{
		{TitleID: "tt0903747", Title: "Breaking Bad", MediaKind: "series"},
		{TitleID: "tt0133093", Title: "The Matrix", MediaKind: "movie"},
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/watchlist", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var entries []store.Entry
	decodeJSON(t, w, &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "tt0903747", entries[0].TitleID)

	w = doJSON(t, router, "DELETE", "/api/watchlist/tt0903747", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, router, "GET", "/api/watchlist", nil)
	decodeJSON(t, w, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "tt0133093", entries[0].TitleID)
}

func TestTestEndpoint(t *testing.T) {
	_, router := newTestApp(t)

	w := doJSON(t, router, "GET", "/api/test", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]string
	decodeJSON(t, w, &body)
	assert.Equal(t, "ok", body["status"])
}
