package prober

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"nowshowing/work/client"
	"nowshowing/work/config"
	"nowshowing/work/logger"
	"nowshowing/work/metrics"
	"nowshowing/work/utils"

	"github.com/grafov/m3u8"
	"github.com/maypok86/otter/v2"
	"go.uber.org/ratelimit"
)

// Result is the normalized outcome of one availability probe. It is also the
// relay endpoint's wire payload: every failure mode collapses into
// Available=false plus a diagnostic, never a Go error. Many providers block
// existence checks yet serve real content to a direct embed load, so an
// ambiguous probe must degrade to "unavailable", not block playback.
type Result struct {
	URL       string `json:"url"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// manifestSniffLimit bounds how much of an HLS manifest the deep check reads.
const manifestSniffLimit = 64 * 1024

// Prober performs bounded-time reachability checks against candidate
// playback URLs: HEAD first, then a one-byte ranged GET for providers that
// reject HEAD semantics outright. Verdicts are cached with asymmetric
// lifetimes (available results live longer than unavailable ones) and all
// outbound traffic passes a shared leaky-bucket limiter.
type Prober struct {
	cfg        *config.Config
	httpClient *client.HeaderSettingClient
	limiter    ratelimit.Limiter
	okCache    *otter.Cache[string, Result]
	failCache  *otter.Cache[string, Result]
}

// New builds a Prober with its verdict caches and rate limiter wired from config.
func New(cfg *config.Config, httpClient *client.HeaderSettingClient) *Prober {
	okCache := otter.Must(&otter.Options[string, Result]{
		MaximumSize:      10_000,
		ExpiryCalculator: otter.ExpiryWriting[string, Result](cfg.ProbeCacheOK),
	})
	failCache := otter.Must(&otter.Options[string, Result]{
		MaximumSize:      10_000,
		ExpiryCalculator: otter.ExpiryWriting[string, Result](cfg.ProbeCacheFail),
	})

	return &Prober{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    ratelimit.New(cfg.ProbesPerSecond),
		okCache:    okCache,
		failCache:  failCache,
	}
}

// Check determines reachability of a candidate URL. It never returns an
// error: timeouts, DNS/TLS failures, malformed URLs and rejected methods all
// normalize to Available=false with a diagnostic string.
func (p *Prober) Check(ctx context.Context, rawURL string) Result {
	if cached, ok := p.okCache.GetIfPresent(rawURL); ok {
		metrics.ProbesTotal.WithLabelValues("cached").Inc()
		return cached
	}
	if cached, ok := p.failCache.GetIfPresent(rawURL); ok {
		metrics.ProbesTotal.WithLabelValues("cached").Inc()
		return cached
	}

	result := p.probe(ctx, rawURL)
	p.store(result)
	return result
}

// probe runs the two-step reachability check against the live URL.
func (p *Prober) probe(ctx context.Context, rawURL string) Result {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Result{URL: rawURL, Error: "unsupported URL"}
	}

	p.limiter.Take()

	start := time.Now()
	defer func() {
		metrics.ProbeDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProbeTimeout)
	defer cancel()

	resp, err := p.headCheck(ctx, rawURL)
	if err != nil {
		// HEAD failed at the transport layer (not a bad status); many
		// providers reject the method entirely. Retry as a minimal
		// ranged GET within the same deadline.
		logger.Debug("{prober - probe} HEAD failed for %s, trying ranged GET: %v", utils.LogURL(p.cfg, rawURL), err)
		resp, err = p.rangeCheck(ctx, rawURL)
	}
	if err != nil {
		return Result{URL: rawURL, Error: fmt.Sprintf("Network error: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return Result{URL: rawURL, Error: fmt.Sprintf("HTTP status %d", resp.StatusCode)}
	}

	// Reachable. If the endpoint serves an HLS manifest, make sure the
	// manifest actually parses before calling it playable.
	if isHLSContentType(resp.Header.Get("Content-Type")) {
		if msg := p.manifestCheck(ctx, rawURL); msg != "" {
			return Result{URL: rawURL, Error: msg}
		}
	}

	return Result{URL: rawURL, Available: true}
}

// headCheck issues the lightweight existence check.
func (p *Prober) headCheck(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return p.httpClient.Do(req)
}

// rangeCheck issues the content fallback: a GET for the first byte only,
// keeping bandwidth negligible while exercising the real content path.
func (p *Prober) rangeCheck(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", "bytes=0-0")
	return p.httpClient.Do(req)
}

// manifestCheck fetches and parses an HLS manifest. Returns a diagnostic
// message when the manifest is unusable, empty string when it is fine or the
// verdict stays ambiguous (fetch failures here don't downgrade a URL that
// already answered the reachability check).
func (p *Prober) manifestCheck(ctx context.Context, rawURL string) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return ""
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()

	if _, _, err := m3u8.DecodeFrom(io.LimitReader(resp.Body, manifestSniffLimit), true); err != nil {
		logger.Debug("{prober - manifestCheck} manifest at %s failed to parse: %v", utils.LogURL(p.cfg, rawURL), err)
		return "invalid HLS manifest"
	}
	return ""
}

// store records the verdict in the matching cache and bumps counters.
func (p *Prober) store(result Result) {
	if result.Available {
		metrics.ProbesTotal.WithLabelValues("available").Inc()
		p.okCache.Set(result.URL, result)
		return
	}
	metrics.ProbesTotal.WithLabelValues("unavailable").Inc()
	p.failCache.Set(result.URL, result)
}

// FlushCache drops every cached verdict. The admin surface calls this after
// provider outages so recoveries show up without waiting out the TTL.
func (p *Prober) FlushCache() {
	p.okCache.InvalidateAll()
	p.failCache.InvalidateAll()
}

func isHLSContentType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "application/vnd.apple.mpegurl") ||
		strings.Contains(ct, "application/x-mpegurl") ||
		strings.Contains(ct, "audio/mpegurl")
}
