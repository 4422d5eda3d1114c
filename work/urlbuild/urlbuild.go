package urlbuild

import (
	"fmt"
	"strings"

	"nowshowing/work/registry"
)

// MediaKind distinguishes the two playback shapes providers template for.
type MediaKind string

const (
	KindMovie  MediaKind = "movie"
	KindSeries MediaKind = "series"
)

// ParseKind converts a wire value to a MediaKind.
func ParseKind(s string) (MediaKind, bool) {
	switch strings.ToLower(s) {
	case "movie":
		return KindMovie, true
	case "series":
		return KindSeries, true
	}
	return "", false
}

// PlaybackRequest is the immutable query driving one resolution session:
// which title, which kind, and for series optionally which episode. Season
// and Episode are set together or not at all; a series request without them
// targets the show-level embed page.
type PlaybackRequest struct {
	TitleID string
	Kind    MediaKind
	Season  int
	Episode int
}

// HasEpisode reports whether the request pins a specific season/episode.
func (r PlaybackRequest) HasEpisode() bool {
	return r.Season > 0 && r.Episode > 0
}

// grammarFunc renders a provider-specific season/episode URL from the base
// template. Each provider encodes the episode address differently; the
// grammar table keeps those idiosyncrasies as data rather than branches.
type grammarFunc func(base, titleID string, season, episode int) string

// episodeGrammars maps provider names to their season/episode URL grammar.
// Adding a provider with unusual templating means adding a table entry,
// not editing Build.
var episodeGrammars = map[string]grammarFunc{
	"VidCloud": func(base, id string, s, e int) string {
		return fmt.Sprintf("%s%s-S%d-E%d.html", base, id, s, e)
	},
	"fsapi.xyz": func(base, id string, s, e int) string {
		return fmt.Sprintf("%s%s-%d-%d", base, id, s, e)
	},
	"SuperEmbed": func(base, id string, s, e int) string {
		return fmt.Sprintf("%s%s-%d-%d", base, id, s, e)
	},
	"2Embed": func(base, id string, s, e int) string {
		return fmt.Sprintf("%stv?id=%s&s=%d&e=%d", base, id, s, e)
	},
	"MoviesAPI": func(base, id string, s, e int) string {
		return fmt.Sprintf("%s%s/season/%d/episode/%d", base, id, s, e)
	},
	"Fmovies": func(base, id string, s, e int) string {
		return fmt.Sprintf("%stv/%s/season/%d/episode/%d", base, id, s, e)
	},
	"LookMovie": func(base, id string, s, e int) string {
		return fmt.Sprintf("%stv/%s/season/%d/episode/%d", base, id, s, e)
	},
	"AutoEmbed": func(base, id string, s, e int) string {
		return fmt.Sprintf("%simdb/tv?id=%s&s=%d&e=%d", base, id, s, e)
	},
	// MultiEmbed's base already ends in "?video_id=", so season/episode
	// continue the query string.
	"MultiEmbed": func(base, id string, s, e int) string {
		return fmt.Sprintf("%s%s&s=%d&e=%d", base, id, s, e)
	},
}

// vidSrcGrammar covers the VidSrc family (VidSrc.to, VidSrc.xyz, VidSrc.in
// and any custom mirror carrying the name): path-segment addressing.
func vidSrcGrammar(base, id string, s, e int) string {
	return fmt.Sprintf("%s%s/%d/%d", base, id, s, e)
}

// genericGrammar is the fallback for providers with no special-cased rule.
func genericGrammar(base, id string, s, e int) string {
	return fmt.Sprintf("%s%s-S%dE%d", base, id, s, e)
}

// Build produces the playback URL for one provider under one request.
// It is a pure function: no I/O, deterministic for fixed inputs, so probe
// results and click-to-play always agree on the URL. The second return is
// false when the provider does not support the request's media kind.
func Build(p registry.Provider, req PlaybackRequest) (string, bool) {
	var base string
	switch req.Kind {
	case KindMovie:
		base = p.MovieURL
	case KindSeries:
		base = p.SeriesURL
	}
	if base == "" {
		return "", false
	}

	if req.Kind == KindSeries && req.HasEpisode() {
		return episodeURL(p.Name, base, req), true
	}

	return base + req.TitleID, true
}

// episodeURL selects the grammar for a season/episode URL: the VidSrc family
// match first, then the table, then the generic dash-joined fallback.
func episodeURL(name, base string, req PlaybackRequest) string {
	grammar := genericGrammar
	if strings.Contains(name, "VidSrc") {
		grammar = vidSrcGrammar
	} else if g, ok := episodeGrammars[name]; ok {
		grammar = g
	}
	return grammar(base, req.TitleID, req.Season, req.Episode)
}
