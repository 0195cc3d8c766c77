package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/mkrogh/garnscope/pkg/domain"
	"github.com/mkrogh/garnscope/pkg/pipeline"
	"github.com/mkrogh/garnscope/pkg/repository"
)

// Server represents HTTP server instance
type Server struct {
	config   ConfigProvider
	catalog  Catalog
	offers   OfferReader
	retail   RetailerReader
	importer Importer
	version  string
	debug    bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Catalog interface for yarn catalog operations
type Catalog interface {
	GetYarn(ctx context.Context, id int64) (*domain.Yarn, error)
	GetYarns(ctx context.Context, activeOnly bool) ([]*domain.Yarn, error)
	CreateYarn(ctx context.Context, yarn *domain.Yarn) error
	UpdateYarn(ctx context.Context, yarn *domain.Yarn) error
	DeleteYarn(ctx context.Context, id int64) error
}

// OfferReader interface for aggregated offer reads
type OfferReader interface {
	GetAggregatedOffers(ctx context.Context, yarnID int64) ([]*domain.AggregatedOffer, error)
	GetOffersWithRetailers(ctx context.Context, yarnID int64) ([]*repository.OfferWithRetailer, error)
}

// RetailerReader interface for retailer reads
type RetailerReader interface {
	GetRetailers(ctx context.Context) ([]*domain.Retailer, error)
}

// Importer runs the import pipeline on demand
type Importer interface {
	Run(ctx context.Context) (*pipeline.Summary, error)
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// New initializes a new server instance
func New(cfg ConfigProvider, catalog Catalog, offers OfferReader, retail RetailerReader, importer Importer, version string, debug bool) *Server {
	s := &Server{
		config:   cfg,
		catalog:  catalog,
		offers:   offers,
		retail:   retail,
		importer: importer,
		version:  version,
		debug:    debug,
		router:   routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("garnscope", "mkrogh", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /yarns", s.activeYarnsHandler)
		r.HandleFunc("GET /yarns/all", s.allYarnsHandler)
		r.HandleFunc("GET /yarns/{id}", s.yarnHandler)
		r.HandleFunc("POST /yarns", s.createYarnHandler)
		r.HandleFunc("PUT /yarns/{id}", s.updateYarnHandler)
		r.HandleFunc("DELETE /yarns/{id}", s.deleteYarnHandler)
		r.HandleFunc("GET /retailers", s.retailersHandler)
		r.HandleFunc("POST /import", s.importHandler)
	})
}

// renderJSON sends JSON response
func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// renderError sends error response as JSON
func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
