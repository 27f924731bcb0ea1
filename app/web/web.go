// Package web implements the http server for the guess-the-number game
package web

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/guessnum/app/store"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// DefaultGameName is the game variant recorded with every result
const DefaultGameName = "GuessTheNumber"

// max accepted request body, result payload is tiny
const maxBodySize = 16 * 1024

// Executor runs a single sql statement, see store.Executor
type Executor interface {
	Execute(ctx context.Context, query string, args []any, fetch bool) store.Result
}

// Server represents the web server
type Server struct {
	store          Executor
	page           *template.Template
	gameName       string
	minNumber      int
	maxNumber      int
	version        string
	submitLimiter  *limiter.Limiter            // per-ip limiter for result submissions, nil if disabled
	csrfProtection *http.CrossOriginProtection // rejects cross-origin POST requests
	now            func() time.Time
}

// Config holds server configuration
type Config struct {
	Store     Executor // required
	GameName  string   // defaults to GuessTheNumber
	MinNumber int      // lower bound of the secret number, shown on the page
	MaxNumber int      // upper bound of the secret number, shown on the page
	Version   string
	RateLimit float64 // result submissions per second per client ip, 0 to disable
}

// pageData holds data for the game page template
type pageData struct {
	GameName    string
	MinNumber   int
	MaxNumber   int
	Version     string
	CurrentYear int
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("web server initialization failed: store is required")
	}
	if cfg.MinNumber >= cfg.MaxNumber {
		return nil, fmt.Errorf("web server initialization failed: invalid number range [%d, %d]", cfg.MinNumber, cfg.MaxNumber)
	}

	page, err := template.ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to parse page template: %w", err)
	}

	s := &Server{
		store:          cfg.Store,
		page:           page,
		gameName:       cfg.GameName,
		minNumber:      cfg.MinNumber,
		maxNumber:      cfg.MaxNumber,
		version:        cfg.Version,
		csrfProtection: http.NewCrossOriginProtection(),
		now:            time.Now,
	}
	s.csrfProtection.SetDenyHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[WARN] cross-origin request rejected, %s %s", r.Method, r.URL.Path)
		s.writeJSONError(w, http.StatusForbidden, msgCrossOrigin)
	}))
	if s.gameName == "" {
		s.gameName = DefaultGameName
	}

	if cfg.RateLimit > 0 {
		s.submitLimiter = tollbooth.NewLimiter(cfg.RateLimit, nil)
		s.submitLimiter.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"}) // rest.RealIP already resolved it
		s.submitLimiter.SetMessageContentType("application/json")
		s.submitLimiter.SetMessage(`{"success":false,"error":"Too many requests"}`)
	}

	return s, nil
}

// Run starts the web server and blocks until ctx is canceled or the server fails
func (s *Server) Run(ctx context.Context, address string) error {
	server := &http.Server{
		Addr:              address,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] failed to shutdown server: %v", err)
		}
	}()

	log.Printf("[INFO] starting web server on %s", address)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// handler returns the http.Handler with json error responses applied to everything the router writes
func (s *Server) handler() http.Handler {
	return jsonErrors(s.routes())
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("guessnum", "umputun", s.version),
		rest.Ping,
		rest.SizeLimit(maxBodySize),
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	// exact root only, everything else unmatched goes to 404
	router.HandleFunc("GET /{$}", s.handleIndex)

	router.Mount("/api/game").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)

		submit := []func(http.Handler) http.Handler{s.csrfProtection.Handler}
		if s.submitLimiter != nil {
			submit = append(submit, tollbooth.HTTPMiddleware(s.submitLimiter))
		}
		api.With(submit[0], submit[1:]...).HandleFunc("POST /result", s.handleSaveResult)
		api.HandleFunc("GET /stats", s.handleStats)
	})

	fsys, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Printf("[ERROR] failed to create static file system: %v", err)
		router.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	} else {
		router.HandleFiles("/static/", http.FS(fsys))
	}

	return router
}

// render executes the page template into a buffer first, so a template error doesn't produce half a page
func (s *Server) render(w http.ResponseWriter, data any) {
	buf := new(bytes.Buffer)
	if err := s.page.Execute(buf, data); err != nil {
		log.Printf("[WARN] failed to execute template: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		log.Printf("[WARN] failed to write response: %v", err)
	}
}
