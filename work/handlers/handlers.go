package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"nowshowing/work/app"
	"nowshowing/work/logger"
	"nowshowing/work/metadata"
	"nowshowing/work/resolver"
	"nowshowing/work/store"
	"nowshowing/work/urlbuild"
	"nowshowing/work/utils"

	"github.com/gorilla/mux"
)

// maxBodySize bounds request bodies; every payload this API accepts is tiny.
const maxBodySize = 64 * 1024

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// HandleCheckVideo is the availability relay. The browser cannot probe
// cross-origin providers itself, so it posts the URL here and the server
// runs the HEAD/ranged-GET check. Transport failures never surface as
// non-200: the verdict, including errors, lives in the JSON body.
func HandleCheckVideo(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.URL == "" {
			writeError(w, http.StatusBadRequest, "URL is required")
			return
		}

		result := a.Prober.Check(r.Context(), body.URL)

		// Cache policy matches the original relay: successes are worth
		// keeping longer than failures.
		if result.Available {
			w.Header().Set("Cache-Control", "public, s-maxage=300, stale-while-revalidate=600")
		} else {
			w.Header().Set("Cache-Control", "public, s-maxage=60, stale-while-revalidate=120")
		}
		writeJSON(w, http.StatusOK, result)
	}
}

// resolveRequest is the wire shape for opening a resolution session. Title
// and poster ride along so provider activations can write a complete
// continue-watching record.
type resolveRequest struct {
	TitleID   string `json:"titleId"`
	MediaKind string `json:"mediaKind"`
	Season    int    `json:"season"`
	Episode   int    `json:"episode"`
	Title     string `json:"title"`
	Poster    string `json:"poster"`
}

// HandleResolve opens a resolution session and returns its initial snapshot.
// The snapshot is complete before any probe result lands: rendering never
// waits on probing.
func HandleResolve(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body resolveRequest
		if !decodeBody(w, r, &body) {
			return
		}

		if !utils.ValidTitleID(body.TitleID) {
			writeError(w, http.StatusBadRequest, "titleId must be an IMDb-style identifier")
			return
		}
		kind, ok := urlbuild.ParseKind(body.MediaKind)
		if !ok {
			writeError(w, http.StatusBadRequest, "mediaKind must be \"movie\" or \"series\"")
			return
		}
		if (body.Season > 0) != (body.Episode > 0) {
			writeError(w, http.StatusBadRequest, "season and episode must be provided together")
			return
		}
		if kind == urlbuild.KindMovie && body.Season > 0 {
			writeError(w, http.StatusBadRequest, "season/episode only apply to series")
			return
		}

		req := urlbuild.PlaybackRequest{
			TitleID: body.TitleID,
			Kind:    kind,
			Season:  body.Season,
			Episode: body.Episode,
		}

		snap, err := a.Resolver.Open(req, body.Title, body.Poster)
		if errors.Is(err, resolver.ErrNoSources) {
			writeError(w, http.StatusNotFound, "no video sources available for this media kind")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to open resolution session")
			return
		}

		writeJSON(w, http.StatusOK, snap)
	}
}

// HandleGetSession returns the live snapshot for one session.
func HandleGetSession(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := a.Resolver.Get(mux.Vars(r)["id"])
		if errors.Is(err, resolver.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// HandleSelectSource applies a manual provider selection to a session.
// Manual choices always win: the session is pinned and automatic failover
// stops touching it.
func HandleSelectSource(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Provider string `json:"provider"`
		}
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Provider == "" {
			writeError(w, http.StatusBadRequest, "provider is required")
			return
		}

		snap, err := a.Resolver.Select(mux.Vars(r)["id"], body.Provider)
		switch {
		case errors.Is(err, resolver.ErrSessionNotFound):
			writeError(w, http.StatusNotFound, "session not found")
			return
		case errors.Is(err, resolver.ErrUnknownProvider):
			writeError(w, http.StatusBadRequest, "provider is not a candidate in this session")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// omdbParamMap translates the original front end's query names to OMDb's.
var omdbParamMap = map[string]string{
	"imdbID":       "i",
	"title":        "t",
	"s":            "s",
	"type":         "type",
	"page":         "page",
	"seasonNumber": "Season",
	"plot":         "plot",
	"y":            "y",
}

// HandleOMDbProxy forwards title lookups to OMDb with the server-held API
// key, passing through only the whitelisted query parameters.
func HandleOMDbProxy(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := url.Values{}
		for from, to := range omdbParamMap {
			if v := r.URL.Query().Get(from); v != "" {
				query.Set(to, v)
			}
		}

		body, status, err := a.Metadata.FetchOMDb(r.Context(), query)
		if errors.Is(err, metadata.ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "OMDB_API_KEY is not set")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to fetch data from OMDb API")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}
}

// HandleFetchNews forwards the movie/TV news feed from GNews.
func HandleFetchNews(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, status, err := a.Metadata.FetchNews(r.Context())
		if errors.Is(err, metadata.ErrNotConfigured) {
			writeError(w, http.StatusInternalServerError, "the server has not been configured to fetch news")
			return
		}
		if err != nil {
			writeError(w, http.StatusBadGateway, "failed to fetch news")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(body)
	}
}

// HandleContinueList returns the continue-watching list, newest first.
func HandleContinueList(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := a.Store.GetContinueWatching()
		if err != nil {
			logger.Error("{handlers - HandleContinueList} %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read continue-watching list")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// HandleContinueUpsert records or refreshes one continue-watching entry.
func HandleContinueUpsert(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entry store.Entry
		if !decodeBody(w, r, &entry) {
			return
		}
		if entry.TitleID == "" {
			writeError(w, http.StatusBadRequest, "titleId is required")
			return
		}
		if err := a.Store.UpsertContinue(entry); err != nil {
			logger.Error("{handlers - HandleContinueUpsert} %v", err)
			writeError(w, http.StatusInternalServerError, "failed to save entry")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// HandleContinueRemove drops one continue-watching entry.
func HandleContinueRemove(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.RemoveContinue(mux.Vars(r)["id"]); err != nil {
			logger.Error("{handlers - HandleContinueRemove} %v", err)
			writeError(w, http.StatusInternalServerError, "failed to remove entry")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// HandleWatchlistGet returns the watchlist in stored order.
func HandleWatchlistGet(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := a.Store.GetWatchlist()
		if err != nil {
			logger.Error("{handlers - HandleWatchlistGet} %v", err)
			writeError(w, http.StatusInternalServerError, "failed to read watchlist")
			return
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

// HandleWatchlistPut replaces the watchlist wholesale, preserving order.
func HandleWatchlistPut(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var entries []store.Entry
		if !decodeBody(w, r, &entries) {
			return
		}
		if err := a.Store.SetWatchlist(entries); err != nil {
			logger.Error("{handlers - HandleWatchlistPut} %v", err)
			writeError(w, http.StatusInternalServerError, "failed to save watchlist")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// HandleWatchlistRemove drops one watchlist entry.
func HandleWatchlistRemove(a *app.App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := a.Store.RemoveFromWatchlist(mux.Vars(r)["id"]); err != nil {
			logger.Error("{handlers - HandleWatchlistRemove} %v", err)
			writeError(w, http.StatusInternalServerError, "failed to remove entry")
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// HandleTest is the liveness endpoint.
func HandleTest() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message":   "Server is working!",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"status":    "ok",
		})
	}
}
