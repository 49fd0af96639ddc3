package web

import (
	"bytes"
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/cors"
	"github.com/google/uuid"

	"github.com/vbonduro/attrdetect/internal/imaging"
)

const defaultMaxUploadBytes = 20 << 20

// attributeAnalyzer is the subset of attribute.Analyzer the server requires.
type attributeAnalyzer interface {
	Analyze(ctx context.Context, img *imaging.Image) (string, error)
	Backend() string
}

// Options tunes the HTTP surface. Zero values pick the defaults.
type Options struct {
	MaxUploadBytes     int64
	MaxImagePixels     int64
	RateLimitPerMinute int
	CORSAllowedOrigins []string
}

type Server struct {
	analyzer       attributeAnalyzer
	templates      fs.FS
	mux            *http.ServeMux
	logger         *slog.Logger
	maxUploadBytes int64
	maxImagePixels int64
	limiter        *clientLimiter
}

func NewServer(analyzer attributeAnalyzer, tmpl fs.FS, opts Options, logger *slog.Logger) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.MaxImagePixels <= 0 {
		opts.MaxImagePixels = imaging.DefaultMaxPixels
	}
	if len(opts.CORSAllowedOrigins) == 0 {
		opts.CORSAllowedOrigins = []string{"*"}
	}
	s := &Server{
		analyzer:       analyzer,
		templates:      tmpl,
		mux:            http.NewServeMux(),
		logger:         logger,
		maxUploadBytes: opts.MaxUploadBytes,
		maxImagePixels: opts.MaxImagePixels,
		limiter:        newClientLimiter(opts.RateLimitPerMinute),
	}
	s.registerRoutes(opts.CORSAllowedOrigins)
	return s
}

func (s *Server) registerRoutes(origins []string) {
	withCORS := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	})
	api := withCORS(s.rateLimit(http.HandlerFunc(s.handleAnalyzeAPI)))

	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.Handle("POST /analyze", s.rateLimit(http.HandlerFunc(s.handleAnalyzeForm)))
	s.mux.Handle("POST /api/analyze", api)
	s.mux.Handle("OPTIONS /api/analyze", api)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
}

// securityHeaders sets browser hardening headers on every response.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Content-Security-Policy",
			"default-src 'self'; "+
				"style-src 'self' 'unsafe-inline'; "+
				"img-src 'self' data:")
		next.ServeHTTP(w, r)
	})
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

// requestID tags every request with an ID, reusing a well-formed inbound one.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder wraps http.ResponseWriter to capture the written status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func requestLogger(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request",
			"request_id", requestIDFrom(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID(requestLogger(s.logger, securityHeaders(s.mux))).ServeHTTP(w, r)
}

func (s *Server) ListenAndServe(addr string) error {
	s.logger.Info("starting server", "addr", addr, "backend", s.analyzer.Backend())
	srv := &http.Server{
		Addr:         addr,
		Handler:      s,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return srv.ListenAndServe()
}

// renderPage parses the page template set and writes it with the given status.
// Output is buffered so a template failure never leaves a half-written page.
func (s *Server) renderPage(w http.ResponseWriter, status int, data any, files ...string) error {
	tmpl, err := template.ParseFS(s.templates, files...)
	if err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err = buf.WriteTo(w)
	return err
}
