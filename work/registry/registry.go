package registry

import (
	"encoding/json"
	"os"
	"strings"

	"nowshowing/work/logger"

	"github.com/grafana/regexp"
)

// Provider describes one streaming embed source. MovieURL and SeriesURL are
// the base playback URL templates for the two media kinds; an empty string
// means the provider does not support that kind. Every registered provider
// supports at least one kind.
type Provider struct {
	Name      string `json:"name"`
	MovieURL  string `json:"url"`
	SeriesURL string `json:"tvUrl"`
	Custom    bool   `json:"-"` // true for user-added entries, false for built-ins
}

// SupportsMovie reports whether the provider can play movies.
func (p Provider) SupportsMovie() bool { return p.MovieURL != "" }

// SupportsSeries reports whether the provider can play series episodes.
func (p Provider) SupportsSeries() bool { return p.SeriesURL != "" }

// builtins is the curated provider list, in the order the original service
// shipped it. Order matters: it is the failover preference order.
var builtins = []Provider{
	{Name: "VidCloud", MovieURL: "https://vidcloud.stream/", SeriesURL: "https://vidcloud.stream/"},
	{Name: "fsapi.xyz", MovieURL: "https://fsapi.xyz/movie/", SeriesURL: "https://fsapi.xyz/tv-imdb/"},
	{Name: "CurtStream", MovieURL: "https://curtstream.com/movies/imdb/", SeriesURL: ""},
	{Name: "VidSrc.to", MovieURL: "https://vidsrc.to/embed/movie/", SeriesURL: "https://vidsrc.to/embed/tv/"},
	{Name: "VidSrc.xyz", MovieURL: "https://vidsrc.xyz/embed/movie/", SeriesURL: "https://vidsrc.xyz/embed/tv/"},
	{Name: "VidSrc.in", MovieURL: "https://vidsrc.in/embed/movie/", SeriesURL: "https://vidsrc.in/embed/tv/"},
	{Name: "SuperEmbed", MovieURL: "https://superembed.stream/movie/", SeriesURL: "https://superembed.stream/tv/"},
	{Name: "MoviesAPI", MovieURL: "https://moviesapi.club/movie/", SeriesURL: "https://moviesapi.club/tv/"},
	{Name: "2Embed", MovieURL: "https://2embed.cc/embed/", SeriesURL: "https://2embed.cc/embed/"},
	{Name: "Fmovies", MovieURL: "https://fmovies.to/embed/", SeriesURL: "https://fmovies.to/embed/"},
	{Name: "LookMovie", MovieURL: "https://lookmovie.io/player/", SeriesURL: "https://lookmovie.io/player/"},
	{Name: "AutoEmbed", MovieURL: "https://autoembed.cc/embed/", SeriesURL: "https://autoembed.cc/embed/"},
	{Name: "MultiEmbed", MovieURL: "https://multiembed.mov/?video_id=", SeriesURL: "https://multiembed.mov/?video_id="},
	{Name: "EmbedStream", MovieURL: "https://embed.stream/movie/", SeriesURL: "https://embed.stream/tv/"},
	{Name: "DopeBox", MovieURL: "https://dopebox.to/movie/", SeriesURL: "https://dopebox.to/tv/"},
	{Name: "Vidplay", MovieURL: "https://vidplay.online/embed/movie/", SeriesURL: "https://vidplay.online/embed/tv/"},
	{Name: "StreamSB", MovieURL: "https://streamsb.net/e/", SeriesURL: "https://streamsb.net/e/"},
	{Name: "MovieHut", MovieURL: "https://moviehut.tv/embed/movie/", SeriesURL: "https://moviehut.tv/embed/tv/"},
	{Name: "VidsHub", MovieURL: "https://vidshub.xyz/embed/movie/", SeriesURL: "https://vidshub.xyz/embed/tv/"},
}

// namePattern bounds custom provider names: printable, no control characters,
// reasonable length for UI buttons and metric labels.
var namePattern = regexp.MustCompile(`^[\pL\pN][\pL\pN .&+_-]{0,63}$`)

// Registry holds the immutable, ordered provider list for one process
// lifetime: built-ins first in curated order, then validated custom entries
// in file order. There is no mutation operation; reload happens by building
// a new Registry.
type Registry struct {
	providers []Provider
	byName    map[string]int
}

// New builds a Registry from the built-in list plus any custom sources read
// from path. An empty path skips the custom merge. Custom entries that fail
// validation are skipped with a warning; a missing or unreadable file is not
// an error.
func New(path string) *Registry {
	providers := make([]Provider, len(builtins))
	copy(providers, builtins)

	for _, p := range loadCustom(path) {
		providers = append(providers, p)
	}

	byName := make(map[string]int, len(providers))
	for i, p := range providers {
		// first registration wins; a custom entry cannot shadow a built-in
		if _, taken := byName[p.Name]; taken {
			logger.Warn("{registry - New} duplicate provider name %q ignored", p.Name)
			continue
		}
		byName[p.Name] = i
	}

	return &Registry{providers: providers, byName: byName}
}

// NewStatic builds a Registry from an explicit provider list, bypassing the
// built-in set and the custom sources file. Order is preserved.
func NewStatic(providers []Provider) *Registry {
	byName := make(map[string]int, len(providers))
	for i, p := range providers {
		if _, taken := byName[p.Name]; taken {
			continue
		}
		byName[p.Name] = i
	}
	return &Registry{providers: providers, byName: byName}
}

// Providers returns the ordered provider snapshot. Callers must not modify
// the returned slice.
func (r *Registry) Providers() []Provider {
	return r.providers
}

// Lookup returns the provider with the given name.
func (r *Registry) Lookup(name string) (Provider, bool) {
	i, ok := r.byName[name]
	if !ok {
		return Provider{}, false
	}
	return r.providers[i], true
}

// Len returns the number of registered providers.
func (r *Registry) Len() int { return len(r.providers) }

// loadCustom reads user-added providers from a JSON file shaped like the
// original front end's localStorage payload: an array of
// {name, url, tvUrl} objects. Malformed entries are a data-quality issue,
// not an error: they are skipped and logged, never fatal.
func loadCustom(path string) []Provider {
	if path == "" {
		return nil
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("{registry - loadCustom} failed to read custom sources file %s: %v", path, err)
		return nil
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil
	}

	var raw []Provider
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("{registry - loadCustom} failed to parse custom sources JSON, ignoring file: %v", err)
		return nil
	}

	var accepted []Provider
	for _, p := range raw {
		if !validCustom(p) {
			logger.Warn("{registry - loadCustom} skipping malformed custom source entry %q", p.Name)
			continue
		}
		p.Custom = true
		accepted = append(accepted, p)
	}

	if len(accepted) > 0 {
		logger.Info("{registry - loadCustom} merged %d custom video sources", len(accepted))
	}

	return accepted
}

// validCustom enforces the minimal shape for user-added entries: a sane name
// and at least one playback URL.
func validCustom(p Provider) bool {
	if !namePattern.MatchString(p.Name) {
		return false
	}
	return p.MovieURL != "" || p.SeriesURL != ""
}
