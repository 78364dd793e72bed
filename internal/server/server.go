// Package server is the HTTP transport in front of the gate: it resolves
// the client, runs the pipeline, maps verdicts to responses and serves the
// static content tree.
package server

import (
	"errors"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"unitygate/internal/config"
	"unitygate/internal/gate"
	"unitygate/internal/httputil"
	"unitygate/internal/ledger"
	"unitygate/internal/rate"
	"unitygate/internal/stats"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Deps are the collaborators the server wires together.
type Deps struct {
	Pipeline *gate.Pipeline
	Admin    *gate.AdminGuard
	Reporter *stats.Reporter
	Ledger   ledger.Appender
	Limiter  *rate.Limiter // nil disables rate limiting
	Metrics  http.Handler  // defaults to promhttp.Handler()
	Logger   zerolog.Logger
}

type Server struct {
	cfg      *config.Config
	pipeline *gate.Pipeline
	admin    *gate.AdminGuard
	reporter *stats.Reporter
	ledger   ledger.Appender
	limiter  *rate.Limiter
	metrics  http.Handler
	logger   zerolog.Logger
	nowFunc  func() time.Time
}

func New(cfg *config.Config, d Deps) *Server {
	if d.Metrics == nil {
		d.Metrics = promhttp.Handler()
	}
	return &Server{
		cfg:      cfg,
		pipeline: d.Pipeline,
		admin:    d.Admin,
		reporter: d.Reporter,
		ledger:   d.Ledger,
		limiter:  d.Limiter,
		metrics:  d.Metrics,
		logger:   d.Logger.With().Str("component", "server").Logger(),
		nowFunc:  time.Now,
	}
}

// Router registers every route. SkipClean keeps "/a/../b" intact so the
// traversal check sees what the client sent.
func (s *Server) Router() *mux.Router {
	p := s.cfg.Paths
	router := mux.NewRouter().SkipClean(true)
	read := []string{http.MethodGet, http.MethodHead}

	router.HandleFunc(p.Health, s.handleHealth).Methods(read...)
	router.HandleFunc(p.DeniedPage, s.handleDenied).Methods(read...)

	router.Handle(p.APIPrefix+"status", s.adminOnly(http.HandlerFunc(s.handleStatus))).Methods(read...)
	router.Handle(p.APIPrefix+"stats", s.adminOnly(http.HandlerFunc(s.handleStats))).Methods(read...)
	router.Handle(p.APIPrefix+"metrics", s.adminOnly(s.metrics)).Methods(read...)

	router.PathPrefix("/").Handler(s.gated(http.HandlerFunc(s.serveContent))).Methods(read...)
	return router
}

// Handler is the router behind the middleware chain:
// request ID -> security headers -> CORS -> rate limit.
func (s *Server) Handler() http.Handler {
	return httputil.Chain(
		httputil.RequestIDMiddleware(s.logger, s.cfg.Server.TrustedProxyCIDRs),
		withCommonHeaders,
		s.withCORS,
		s.withRateLimit,
	)(s.Router())
}

// HTTPServer builds the listener configuration.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              s.cfg.Server.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Duration(s.cfg.Server.ReadTimeoutMs) * time.Millisecond,
		WriteTimeout:      time.Duration(s.cfg.Server.WriteTimeoutMs) * time.Millisecond,
		IdleTimeout:       90 * time.Second,
	}
}

// gated runs the pipeline and only calls next on Allow.
func (s *Server) gated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.pipeline.Evaluate(gate.Request{
			ClientAddr: httputil.ClientIP(r),
			Path:       r.URL.Path,
			Token:      r.URL.Query().Get("token"),
			Now:        s.nowFunc(),
		})
		if d.Verdict == gate.Allow {
			next.ServeHTTP(w, r)
			return
		}
		httputil.GetLogger(r.Context()).Debug().
			Str("verdict", d.Verdict.String()).
			Str("reason", d.Reason).
			Msg("request denied")
		s.writeVerdict(w, r, d)
	})
}

// adminOnly puts the admin guard behind the ordinary pipeline.
func (s *Server) adminOnly(next http.Handler) http.Handler {
	return s.gated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d := s.admin.Check(gate.AdminRequest{
			ClientAddr: httputil.ClientIP(r),
			Path:       r.URL.Path,
			AdminToken: r.URL.Query().Get("admin_token"),
			Now:        s.nowFunc(),
		})
		if d.Verdict != gate.Allow {
			httputil.WriteJSON(w, http.StatusUnauthorized, errorBody(r, d.Reason))
			return
		}
		next.ServeHTTP(w, r)
	}))
}

func (s *Server) writeVerdict(w http.ResponseWriter, r *http.Request, d gate.Decision) {
	switch d.Verdict {
	case gate.DenyForbidden:
		http.Error(w, "Forbidden", http.StatusForbidden)
	case gate.DenyUnauthorized:
		httputil.WriteJSON(w, http.StatusUnauthorized, errorBody(r, "unauthorized"))
	case gate.RedirectToDeniedPage:
		http.Redirect(w, r, s.cfg.Paths.DeniedPage, http.StatusFound)
	case gate.ServiceUnavailable:
		http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// errorBody is the JSON error payload; request_id lets a client quote the
// matching log line.
func errorBody(r *http.Request, msg string) map[string]string {
	body := map[string]string{"error": msg}
	if id := httputil.GetRequestID(r.Context()); id != "" {
		body["request_id"] = id
	}
	return body
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.reporter.Health(s.nowFunc()))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.reporter.Status(s.nowFunc()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.reporter.Snapshot(s.nowFunc()))
}

func (s *Server) handleDenied(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(deniedPage))
}

// serveContent serves a file from the content directory; "/" maps to the
// index file. Only reached after the pipeline allowed the request.
func (s *Server) serveContent(w http.ResponseWriter, r *http.Request) {
	rel := path.Clean("/" + r.URL.Path)
	if rel == "/" {
		rel = "/" + s.cfg.Server.IndexFile
	}
	full := filepath.Join(s.cfg.Server.ContentDir, filepath.FromSlash(rel))

	f, err := os.Open(full)
	if err == nil {
		defer f.Close()
		var info fs.FileInfo
		if info, err = f.Stat(); err == nil && info.IsDir() {
			err = fs.ErrNotExist
		}
		if err == nil {
			http.ServeContent(w, r, info.Name(), info.ModTime(), f)
			return
		}
	}

	reason := "file not found"
	if !errors.Is(err, fs.ErrNotExist) {
		reason = err.Error()
		httputil.GetLogger(r.Context()).Error().Err(err).Str("file", full).Msg("serve content failed")
	}
	s.ledger.Append(ledger.NewEntry(s.nowFunc(), httputil.ClientIP(r), r.URL.Path, ledger.OutcomeError, reason))
	http.Error(w, "File not found", http.StatusNotFound)
}

func withCommonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-XSS-Protection", "1; mode=block")

		// Only set HSTS if TLS is enabled
		if r.TLS != nil {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	if !s.cfg.CORS.Enabled {
		return next
	}
	wildcard := false
	allowed := make(map[string]bool, len(s.cfg.CORS.AllowedOrigins))
	for _, o := range s.cfg.CORS.AllowedOrigins {
		if o == "*" {
			wildcard = true
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

const deniedPage = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Access denied</title>
    <style>
        body { font-family: Arial, sans-serif; text-align: center; padding: 50px; background-color: #f8f9fa; }
        .container { max-width: 600px; margin: 0 auto; background-color: white; padding: 30px; border-radius: 10px; box-shadow: 0 2px 10px rgba(0,0,0,0.1); }
        h1 { color: #dc3545; }
        .info { margin-top: 20px; font-size: 14px; color: #6c757d; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Access denied</h1>
        <p>A valid access token is required to view this content.</p>
        <p>Open the address in the form <code>/?token=YOUR_ACCESS_TOKEN</code></p>
        <div class="info"><p>Contact the administrator if you need help.</p></div>
    </div>
</body>
</html>
`
