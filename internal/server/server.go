// Package server provides the web form for manual flight-log uploads.
//
// Endpoints:
//
//	GET  /         render the upload form and any pending flash messages
//	POST /upload   accept a multipart task_id + logfile and upload it
//	GET  /health   report liveness and the configured storage backend
package server

import (
	"embed"
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/docker/go-units"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/flightlog/internal/flash"
	"github.com/tomasbasham/flightlog/internal/logfile"
	"github.com/tomasbasham/flightlog/internal/storage"
)

// DefaultMaxUploadSize limits the size of a submitted log file.
const DefaultMaxUploadSize = 100 * units.MiB

//go:embed templates/*.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Options tunes the behaviour of the upload handler.
type Options struct {
	// Provider names the storage backend in health responses.
	Provider string

	// MaxUploadSize bounds the request body in bytes. Defaults to
	// DefaultMaxUploadSize if zero.
	MaxUploadSize int64

	// SignedURLTTL is the lifetime of the download link shown after a
	// successful upload. Zero disables the link.
	SignedURLTTL time.Duration

	// TempDir is where uploads are spooled before transfer. Defaults to the
	// system temporary directory if empty.
	TempDir string
}

// Server holds the dependencies shared across HTTP handlers.
type Server struct {
	log      logrus.FieldLogger
	uploader storage.Uploader
	flashes  flash.Store
	opts     Options
	router   chi.Router
}

// New creates a Server wired to the given uploader and flash store.
func New(log logrus.FieldLogger, uploader storage.Uploader, flashes flash.Store, opts Options) *Server {
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = DefaultMaxUploadSize
	}

	s := &Server{
		log:      log.WithField("component", "server"),
		uploader: uploader,
		flashes:  flashes,
		opts:     opts,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", s.handleIndex)
	r.Post("/upload", s.handleUpload)
	r.Get("/health", s.handleHealth)

	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer returns an http.Server serving s on addr. Read and write
// timeouts allow for a full-size upload over a slow link.
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
}

type indexData struct {
	Messages []flash.Message
	Accept   string
	MaxSize  string
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var msgs []flash.Message
	if id := r.URL.Query().Get("flash"); id != "" {
		msgs, _ = s.flashes.Pop(id)
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := indexTemplate.Execute(w, indexData{
		Messages: msgs,
		Accept:   logfile.Suffix,
		MaxSize:  units.BytesSize(float64(s.opts.MaxUploadSize)),
	})
	if err != nil {
		s.log.WithError(err).Error("Failed to render upload form")
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Storage string `json:"storage"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "up",
		Storage: s.opts.Provider,
	})
}

// requestLogger logs every handled request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"remote":     r.RemoteAddr,
			"duration":   time.Since(start),
		}).Debug("Request handled")
	})
}

// redirectWithFlash stores msgs and sends the client back to the form, which
// displays them once.
func (s *Server) redirectWithFlash(w http.ResponseWriter, r *http.Request, msgs ...flash.Message) {
	target := "/"
	id, err := s.flashes.Put(msgs...)
	if err != nil {
		s.log.WithError(err).Warn("Failed to store flash messages")
	} else {
		target = "/?flash=" + id
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
