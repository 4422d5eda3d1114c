package metadata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"nowshowing/work/cache"
	"nowshowing/work/client"
	"nowshowing/work/config"
	"nowshowing/work/logger"
)

const (
	omdbBase  = "https://www.omdbapi.com/"
	gnewsBase = "https://gnews.io/api/v4/search"

	// bodyLimit caps upstream response bodies; both APIs return small JSON.
	bodyLimit = 1 << 20
)

// ErrNotConfigured is returned when the relevant API key is missing.
var ErrNotConfigured = errors.New("api key not configured")

// Title is the slice of OMDb metadata the resolver surfaces need: identity,
// media kind, and for series the season count.
type Title struct {
	ImdbID       string `json:"imdbID"`
	Title        string `json:"Title"`
	Type         string `json:"Type"`
	Poster       string `json:"Poster"`
	TotalSeasons int    `json:"-"`
}

// EpisodeRef identifies one episode within a season listing.
type EpisodeRef struct {
	Episode int    `json:"Episode"`
	Title   string `json:"Title"`
}

// Client fronts the two upstream metadata APIs (OMDb for titles, GNews for
// the news feed), caching raw response bodies so repeated title opens don't
// burn through API quotas.
type Client struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	cache      *cache.Cache
}

// New builds a metadata client over the shared outbound HTTP client.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient, responseCache *cache.Cache) *Client {
	return &Client{cfg: cfg, httpClient: httpClient, cache: responseCache}
}

// FetchOMDb forwards a pre-built OMDb query (the api key is appended here)
// and returns the raw response body plus upstream status. Bodies for 200
// responses are cached by query string.
func (c *Client) FetchOMDb(ctx context.Context, query url.Values) ([]byte, int, error) {
	if c.cfg.OMDbAPIKey == "" {
		return nil, 0, ErrNotConfigured
	}

	cacheKey := query.Encode()
	if body, ok := c.cache.GetMetadata(cacheKey); ok {
		return body, http.StatusOK, nil
	}

	query = cloneValues(query)
	query.Set("apikey", c.cfg.OMDbAPIKey)

	body, status, err := c.fetch(ctx, omdbBase+"?"+query.Encode())
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusOK {
		c.cache.SetMetadata(cacheKey, body)
	}
	return body, status, nil
}

// FetchNews returns the movie/TV news feed. The GNews free tier serves ten
// articles and no pagination, so one cache slot covers the whole feed.
func (c *Client) FetchNews(ctx context.Context) ([]byte, int, error) {
	if c.cfg.GNewsAPIKey == "" {
		return nil, 0, ErrNotConfigured
	}

	const cacheKey = "feed"
	if body, ok := c.cache.GetNews(cacheKey); ok {
		return body, http.StatusOK, nil
	}

	query := url.Values{}
	query.Set("q", "movie OR television")
	query.Set("lang", "en")
	query.Set("max", "10")
	query.Set("token", c.cfg.GNewsAPIKey)

	body, status, err := c.fetch(ctx, gnewsBase+"?"+query.Encode())
	if err != nil {
		return nil, 0, err
	}
	if status == http.StatusOK {
		c.cache.SetNews(cacheKey, body)
	}
	return body, status, nil
}

// TitleByID looks up one title and extracts the fields the resolver needs.
func (c *Client) TitleByID(ctx context.Context, imdbID string) (*Title, error) {
	query := url.Values{}
	query.Set("i", imdbID)

	body, status, err := c.FetchOMDb(ctx, query)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("omdb returned status %d", status)
	}

	var raw struct {
		Title
		TotalSeasons string `json:"totalSeasons"`
		Response     string `json:"Response"`
		Error        string `json:"Error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse omdb response: %w", err)
	}
	if raw.Response == "False" {
		return nil, fmt.Errorf("omdb: %s", raw.Error)
	}

	title := raw.Title
	if n, err := strconv.Atoi(raw.TotalSeasons); err == nil {
		title.TotalSeasons = n
	}
	return &title, nil
}

// Season returns the episode list for one season of a series.
func (c *Client) Season(ctx context.Context, imdbID string, season int) ([]EpisodeRef, error) {
	query := url.Values{}
	query.Set("i", imdbID)
	query.Set("Season", strconv.Itoa(season))

	body, status, err := c.FetchOMDb(ctx, query)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("omdb returned status %d", status)
	}

	var raw struct {
		Episodes []struct {
			Title   string `json:"Title"`
			Episode string `json:"Episode"`
		} `json:"Episodes"`
		Response string `json:"Response"`
		Error    string `json:"Error"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse omdb season response: %w", err)
	}
	if raw.Response == "False" {
		return nil, fmt.Errorf("omdb: %s", raw.Error)
	}

	episodes := make([]EpisodeRef, 0, len(raw.Episodes))
	for _, e := range raw.Episodes {
		n, err := strconv.Atoi(e.Episode)
		if err != nil {
			logger.Debug("{metadata - Season} skipping episode with non-numeric number %q", e.Episode)
			continue
		}
		episodes = append(episodes, EpisodeRef{Episode: n, Title: e.Title})
	}
	return episodes, nil
}

func (c *Client) fetch(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, bodyLimit))
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
