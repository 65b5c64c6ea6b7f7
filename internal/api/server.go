// Package api serves the probe coordinate HTTP surface: coordinate updates
// from the field device, the latest reading, rendered figures, and the live
// WebSocket feed.
package api

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"

	"github.com/banshee-data/magnetprobe/internal/httputil"
	"github.com/banshee-data/magnetprobe/internal/monitoring"
	"github.com/banshee-data/magnetprobe/internal/probe"
	"github.com/banshee-data/magnetprobe/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxBodyBytes caps a coordinates payload.
const maxBodyBytes = 64 * 1024

// Route paths used by the field device and viewers.
const (
	PathUpdate      = "/update-coordinates/"
	PathLatest      = "/get-latest-coordinates/"
	PathRender      = "/genereaza-imagine/"
	PathImage       = "/image.png"
	PathWebSocket   = "/ws"
	PathSceneChart  = "/scene/chart"
	PathHealth      = "/healthz"
	PathVersion     = "/version"
	PathMetrics     = "/metrics"
	updateSucceeded = "Coordinates updated successfully"
)

// CORSOptions is the cross-origin policy. An empty or "*" origin list
// admits every origin and echoes it back, so credentialed requests work.
type CORSOptions struct {
	Enabled          bool
	AllowedOrigins   []string
	AllowCredentials bool
}

// Options configures a Server.
type Options struct {
	CORS CORSOptions
	// AccessLog receives an Apache common log line per request when set.
	AccessLog io.Writer
	Metrics   *monitoring.Metrics
}

// Server holds the HTTP handlers around a probe.Service.
type Server struct {
	svc        *probe.Service
	opts       Options
	upgrader   websocket.Upgrader
	corsPolicy *cors.Cors
}

// NewServer returns a Server for svc.
func NewServer(svc *probe.Service, opts Options) *Server {
	s := &Server{svc: svc, opts: opts}
	if opts.CORS.Enabled {
		s.corsPolicy = newCORSPolicy(opts.CORS)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (lrw *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := lrw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	lrw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 100 && statusCode < 200:
		return colorCyan + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// metricsMiddleware records request counts and latency by route template.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.opts.Metrics.ObserveHTTP(route, lrw.statusCode, time.Since(start))
	})
}

// Router returns the bare route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(PathUpdate, s.updateCoordinates).Methods(http.MethodPost)
	r.HandleFunc(PathLatest, s.latestCoordinates).Methods(http.MethodGet)
	r.HandleFunc(PathRender, s.renderPosted).Methods(http.MethodPost)
	r.HandleFunc(PathRender, s.renderLatest).Methods(http.MethodGet)
	r.HandleFunc(PathImage, s.latestImage).Methods(http.MethodGet)
	r.HandleFunc(PathWebSocket, s.serveWebSocket).Methods(http.MethodGet)
	r.HandleFunc(PathSceneChart, s.sceneChart).Methods(http.MethodGet)
	r.HandleFunc(PathHealth, s.health).Methods(http.MethodGet)
	r.HandleFunc(PathVersion, s.version).Methods(http.MethodGet)
	if s.opts.Metrics != nil {
		r.Handle(PathMetrics, s.opts.Metrics.Handler()).Methods(http.MethodGet)
		r.Use(s.metricsMiddleware)
	}

	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.MethodNotAllowed(w)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.NotFound(w, "not found")
	})
	return r
}

// Handler returns the router wrapped with logging and the CORS policy.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.Router()
	h = LoggingMiddleware(h)
	if s.corsPolicy != nil {
		h = s.corsPolicy.Handler(h)
	}
	if s.opts.AccessLog != nil {
		h = handlers.LoggingHandler(s.opts.AccessLog, h)
	}
	return h
}

// newCORSPolicy admits every method and request header. Origins are either
// matched against the list or, for the wildcard, echoed back verbatim.
func newCORSPolicy(o CORSOptions) *cors.Cors {
	opts := cors.Options{
		AllowedMethods: []string{
			http.MethodGet, http.MethodHead, http.MethodPost, http.MethodPut,
			http.MethodPatch, http.MethodDelete, http.MethodOptions,
		},
		AllowedHeaders:       []string{"*"},
		AllowCredentials:     o.AllowCredentials,
		OptionsSuccessStatus: http.StatusOK,
	}
	if allowsAnyOrigin(o.AllowedOrigins) {
		opts.AllowOriginFunc = func(string) bool { return true }
	} else {
		opts.AllowedOrigins = o.AllowedOrigins
	}
	return cors.New(opts)
}

func allowsAnyOrigin(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// checkOrigin applies the CORS origin list to WebSocket handshakes. With
// CORS disabled only same-host origins are accepted.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if s.corsPolicy == nil {
		u, err := parseOrigin(origin)
		return err == nil && u == r.Host
	}
	return s.corsPolicy.OriginAllowed(r)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSONOK(w, map[string]interface{}{
		"status":  "ok",
		"viewers": s.svc.Registry().Len(),
	})
}

func (s *Server) version(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}
