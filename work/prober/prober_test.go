package prober_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"nowshowing/work/client"
	"nowshowing/work/config"
	"nowshowing/work/prober"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		UserAgent:       "Mozilla/5.0 (compatible; NowShowing/1.0)",
		ProbeTimeout:    2 * time.Second,
		ProbeCacheOK:    time.Minute,
		ProbeCacheFail:  time.Minute,
		ProbesPerSecond: 1000,
	}
}

func newTestProber(cfg *config.Config) *prober.Prober {
	return prober.New(cfg, client.NewHeaderSettingClient(cfg))
}

func TestCheckAvailable(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	result := newTestProber(testConfig()).Check(context.Background(), ts.URL)

	assert.True(t, result.Available)
	assert.Empty(t, result.Error)
	assert.Equal(t, ts.URL, result.URL)
	assert.Equal(t, int64(1), hits.Load())
}

func TestCheckSendsIdentifyingUserAgent(t *testing.T) {
	cfg := testConfig()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cfg.UserAgent, r.Header.Get("User-Agent"))
	}))
	defer ts.Close()

	result := newTestProber(cfg).Check(context.Background(), ts.URL)
	assert.True(t, result.Available)
}

func TestCheckBadStatusIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	result := newTestProber(testConfig()).Check(context.Background(), ts.URL)

	assert.False(t, result.Available)
	assert.Equal(t, "HTTP status 404", result.Error)
}

func TestCheckFallsBackToRangedGet(t *testing.T) {
	// Abort HEAD at the transport layer; the prober must retry with a
	// one-byte ranged GET and judge that response instead.
	var gotRange atomic.Value
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			panic(http.ErrAbortHandler)
		}
		gotRange.Store(r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("x"))
	}))
	defer ts.Close()

	result := newTestProber(testConfig()).Check(context.Background(), ts.URL)

	require.True(t, result.Available, "ranged GET verdict should win: %s", result.Error)
	assert.Equal(t, "bytes=0-0", gotRange.Load())
}

func TestCheckNetworkErrorIsUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	result := newTestProber(testConfig()).Check(context.Background(), url)

	assert.False(t, result.Available)
	assert.Contains(t, result.Error, "Network error")
}

func TestCheckRejectsNonHTTPSchemes(t *testing.T) {
	p := newTestProber(testConfig())

	for _, raw := range []string{"ftp://example.com/file", "javascript:alert(1)", "not a url"} {
		result := p.Check(context.Background(), raw)
		assert.False(t, result.Available, raw)
		assert.Equal(t, "unsupported URL", result.Error, raw)
	}
}

func TestCheckTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ProbeTimeout = 100 * time.Millisecond

	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	start := time.Now()
	result := newTestProber(cfg).Check(context.Background(), ts.URL)

	assert.False(t, result.Available)
	assert.Contains(t, result.Error, "Network error")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCheckCachesVerdicts(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	p := newTestProber(testConfig())

	first := p.Check(context.Background(), ts.URL)
	second := p.Check(context.Background(), ts.URL)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), hits.Load(), "second check must be served from cache")
}

func TestCheckCachesFailuresSeparately(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	p := newTestProber(testConfig())
	p.Check(context.Background(), ts.URL)
	result := p.Check(context.Background(), ts.URL)

	assert.False(t, result.Available)
	assert.Equal(t, int64(1), hits.Load())
}

func TestFlushCache(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer ts.Close()

	p := newTestProber(testConfig())
	p.Check(context.Background(), ts.URL)
	p.FlushCache()
	p.Check(context.Background(), ts.URL)

	assert.Equal(t, int64(2), hits.Load(), "flush must force a live re-probe")
}

func TestCheckValidHLSManifest(t *testing.T) {
	manifest := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXT-X-MEDIA-SEQUENCE:0\n" +
		"#EXTINF:9.009,\n" +
		"seg0.ts\n" +
		"#EXT-X-ENDLIST\n"
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Write([]byte(manifest))
	}))
	defer ts.Close()

	result := newTestProber(testConfig()).Check(context.Background(), ts.URL)
	assert.True(t, result.Available, result.Error)
}

func TestCheckBrokenHLSManifest(t *testing.T) {
	// Reachable endpoint claiming to serve HLS but returning something else
	// entirely: reachability alone must not make it available.
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-mpegurl")
		w.Write([]byte("<html><body>not a playlist</body></html>"))
	}))
	defer ts.Close()

	result := newTestProber(testConfig()).Check(context.Background(), ts.URL)
	assert.False(t, result.Available)
	assert.Equal(t, "invalid HLS manifest", result.Error)
}
