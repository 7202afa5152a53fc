// Package web implements the web server for calcn: the calculator page and its JSON API
package web

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/calcn/app/enums"
	"github.com/umputun/calcn/app/web/persistence"
)

//go:generate moq -out mocks/store.go -pkg mocks -skip-ensure -fmt goimports . Store

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// HistoryLimit is the max number of records returned by history endpoint
const HistoryLimit = 100

// defaultSaveTimeout bounds a single store write, kept below server's WriteTimeout
const defaultSaveTimeout = 10 * time.Second

// Store persists computed operations
type Store interface {
	Add(ctx context.Context, rec persistence.Record) (persistence.Record, error)
	List(ctx context.Context, limit int) ([]persistence.Record, error)
	Status(ctx context.Context) persistence.Status
}

// Server represents the web server
type Server struct {
	store          Store // nil in stateless mode
	databaseURLSet bool
	templates      map[string]*template.Template
	baseURL        string // base URL path for reverse proxy (e.g., /calc), empty for root
	version        string
	passwordHash   string  // bcrypt hash for basic auth of introspection endpoints
	rateLimit      float64 // calculate requests per second per client ip, 0 disables
	debugParams    bool    // allow ?debug=1 diagnostics on api endpoints
	saveTimeout    time.Duration
	startedAt      time.Time
	csrfProtection *http.CrossOriginProtection
}

// Config holds server configuration
type Config struct {
	Store          Store  // operations store, nil for stateless mode
	DatabaseURLSet bool   // database url was configured, reported by diagnostics
	BaseURL        string // base URL path for reverse proxy (e.g., /calc), empty for root
	Version        string
	PasswordHash   string        // bcrypt hash for basic auth (empty to disable)
	RateLimit      float64       // calculate requests per second per client ip, 0 disables
	DebugParams    bool          // enable ?debug=1 escape hatch
	SaveTimeout    time.Duration // max time for storing an operation, defaults to 10s
}

// templateData holds data for the calculator page
type templateData struct {
	BaseURL     string
	Version     string
	FullVersion string
	Theme       enums.Theme
	Stateless   bool
	CurrentYear int
}

// New creates a new web server
func New(cfg Config) (*Server, error) {
	s := &Server{
		store:          cfg.Store,
		databaseURLSet: cfg.DatabaseURLSet,
		baseURL:        cfg.BaseURL,
		version:        cfg.Version,
		passwordHash:   cfg.PasswordHash,
		rateLimit:      cfg.RateLimit,
		debugParams:    cfg.DebugParams,
		saveTimeout:    cfg.SaveTimeout,
		startedAt:      time.Now(),
		csrfProtection: http.NewCrossOriginProtection(),
	}

	if s.saveTimeout <= 0 {
		s.saveTimeout = defaultSaveTimeout
	}

	templates, err := s.parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("web server initialization failed: failed to parse HTML templates: %w", err)
	}
	s.templates = templates

	return s, nil
}

// Run starts the web server and blocks until ctx is canceled
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

	log.Printf("[INFO] starting web server on %s, stateless: %v", address, s.store == nil)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("web server failed: %w", err)
	}
	return nil
}

// handler returns the http.Handler with base URL wrapping applied
func (s *Server) handler() http.Handler {
	routes := s.routes()
	if s.baseURL == "" {
		return routes
	}

	mux := http.NewServeMux()
	// base URL without trailing slash redirects to the one with slash
	mux.HandleFunc(s.baseURL, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.baseURL+"/", http.StatusMovedPermanently)
	})
	mux.Handle(s.baseURL+"/", http.StripPrefix(s.baseURL, routes))
	return mux
}

// routes returns the http.Handler with all routes configured
func (s *Server) routes() http.Handler {
	router := routegroup.New(http.NewServeMux())

	router.Use(
		rest.RealIP,
		rest.Recoverer(log.Default()),
		rest.Throttle(1000),
		rest.AppInfo("calcn", "umputun", s.version),
		rest.Ping,
		rest.Trace,
		rest.SizeLimit(64*1024), // 64KB max request size
		logger.New(logger.Log(log.Default()), logger.Prefix("[DEBUG]")).Handler,
	)

	router.HandleFunc("GET /{$}", s.handleIndex)

	router.Mount("/api").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)             // prevent caching of API responses
		api.Use(s.csrfProtection.Handler) // CSRF protection for POST endpoints

		// no method in pattern, handler answers non-POST with JSON 405
		if s.rateLimit > 0 {
			api.With(s.calculateLimiter()).HandleFunc("/calculate", s.handleCalculate)
		} else {
			api.HandleFunc("/calculate", s.handleCalculate)
		}
		api.HandleFunc("GET /history", s.handleHistory)
		api.HandleFunc("POST /theme", s.handleThemeToggle)
	})

	// introspection API, basic auth when password hash is set
	router.Mount("/api/v1").Route(func(api *routegroup.Bundle) {
		api.Use(rest.NoCache)
		if s.passwordHash != "" {
			api.Use(s.basicAuth)
		}
		api.HandleFunc("GET /status", s.handleStatus)
		api.HandleFunc("GET /schema", s.handleSchema)
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

// calculateLimiter limits calculate requests per client ip
func (s *Server) calculateLimiter() func(http.Handler) http.Handler {
	lmt := tollbooth.NewLimiter(s.rateLimit, &limiter.ExpirableOptions{DefaultExpirationTTL: time.Hour})
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessageContentType("application/json; charset=utf-8")
	lmt.SetMessage(`{"error":"Too many requests"}`)
	return tollbooth.HTTPMiddleware(lmt)
}

// render renders a template
func (s *Server) render(w http.ResponseWriter, page, tmplName string, data any) {
	tmpl, ok := s.templates[page]
	if !ok {
		log.Printf("[WARN] template %s not found", page)
		http.Error(w, "Template not found", http.StatusInternalServerError)
		return
	}

	buf := new(bytes.Buffer)
	if err := tmpl.ExecuteTemplate(buf, tmplName, data); err != nil {
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

// parseTemplates parses all templates
func (s *Server) parseTemplates() (map[string]*template.Template, error) {
	funcMap := template.FuncMap{
		"url": s.url,
	}

	index, err := template.New("index.html").Funcs(funcMap).ParseFS(templatesFS, "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse index template: %w", err)
	}
	return map[string]*template.Template{"index.html": index}, nil
}

func (s *Server) getTheme(r *http.Request) enums.Theme {
	cookie, err := r.Cookie("theme")
	if err != nil {
		return enums.ThemeDark // default to dark when no cookie
	}
	theme, err := enums.ParseTheme(cookie.Value)
	if err != nil {
		log.Printf("[WARN] invalid theme %q: %v", cookie.Value, err)
		return enums.ThemeDark
	}
	return theme
}

// url prepends the base URL to a path for reverse proxy support
func (s *Server) url(path string) string {
	return s.baseURL + path
}

// cookiePath returns the cookie path with base URL support
func (s *Server) cookiePath() string {
	if s.baseURL == "" {
		return "/"
	}
	return s.baseURL + "/"
}

// shortVersion extracts a short version string from full version
// for version like "v1.7.0-abc1234-20241225", returns "v1.7.0"
func shortVersion(fullVer string) string {
	if fullVer == "" || fullVer == "unknown" {
		return fullVer
	}
	if idx := strings.Index(fullVer, "-"); idx > 0 {
		return fullVer[:idx]
	}
	return fullVer
}
