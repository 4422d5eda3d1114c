package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"nowshowing/work/logger"

	"github.com/klauspost/compress/gzip"
)

// gzipWriterPool maintains a reusable pool of gzip writers so every compressed
// JSON response doesn't pay allocation overhead. Writers run at BestSpeed;
// resolver snapshots and metadata payloads are small, latency matters more
// than ratio.
var gzipWriterPool = sync.Pool{
	New: func() interface{} {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	},
}

// gzipResponseWriter wraps an http.ResponseWriter with a gzip-compressing
// io.Writer, tracking header write state for proper status code handling.
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
	wroteHeader bool
}

func (w *gzipResponseWriter) WriteHeader(status int) {
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.Writer.Write(b)
}

// GzipMiddleware wraps an http.HandlerFunc with transparent gzip response
// compression for clients that advertise it. Requests without gzip support
// pass through unmodified.
func GzipMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next(w, r)
			return
		}

		// compressed size is unknown until the body is fully written
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Del("Content-Length")

		gz := gzipWriterPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			if err := gz.Close(); err != nil {
				logger.Error("{middleware - GzipMiddleware} failed to close gzip writer for %s %s: %v", r.Method, r.URL.Path, err)
			}
			gzipWriterPool.Put(gz)
		}()

		next(&gzipResponseWriter{Writer: gz, ResponseWriter: w}, r)
	}
}
