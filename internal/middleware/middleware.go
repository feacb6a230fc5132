// Package middleware contains wrappers of internal HTTP endpoint handlers.
package middleware

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Get checks that handler called via GET or HEAD HTTP method.
func Get(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// LogRequest logs details of request on debug level.
func LogRequest(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if zerolog.GlobalLevel() > zerolog.DebugLevel {
			h.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		lrw := &logResponseWriter{ResponseWriter: w}
		h.ServeHTTP(lrw, r)
		log.Debug().Str("method", r.Method).Int("status", lrw.Status()).Str("path", r.URL.Path).
			Str("addr", r.RemoteAddr).Str("duration", time.Since(start).String()).Msg("http request")
	})
}

type logResponseWriter struct {
	http.ResponseWriter
	status int
}

func (lrw *logResponseWriter) WriteHeader(status int) {
	lrw.status = status
	lrw.ResponseWriter.WriteHeader(status)
}

// Status returns saved status code after handler finished its work.
func (lrw *logResponseWriter) Status() int {
	if lrw.status == 0 {
		return http.StatusOK
	}
	return lrw.status
}
