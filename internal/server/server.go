// Package server provides the HTTP API for Kotae.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/kotae-ai/kotae/internal/config"
	"github.com/kotae-ai/kotae/internal/crawler"
	"github.com/kotae-ai/kotae/internal/indexer"
	"github.com/kotae-ai/kotae/internal/retrieval"
	"github.com/kotae-ai/kotae/internal/store"
	"github.com/kotae-ai/kotae/internal/tokenizer"
	"github.com/kotae-ai/kotae/internal/translate"
)

// Server is the HTTP server for the Kotae API.
type Server struct {
	registry   *store.Registry
	indexer    *indexer.Indexer
	engine     *retrieval.Engine
	generator  *retrieval.Generator
	tokenizer  tokenizer.Tokenizer
	crawler    *crawler.Crawler
	translator *translate.Client // nil when translation is not configured
	config     *config.Config
	logger     *zap.Logger
	server     *http.Server
}

// NewServer creates a server with the given dependencies. translator may be nil.
func NewServer(
	registry *store.Registry,
	idx *indexer.Indexer,
	engine *retrieval.Engine,
	generator *retrieval.Generator,
	tok tokenizer.Tokenizer,
	crawl *crawler.Crawler,
	translator *translate.Client,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	return &Server{
		registry:   registry,
		indexer:    idx,
		engine:     engine,
		generator:  generator,
		tokenizer:  tok,
		crawler:    crawl,
		translator: translator,
		config:     cfg,
		logger:     logger,
	}
}

// Router builds the chi router with all API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Route("/{version}/collections", func(r chi.Router) {
		r.Get("/answer", s.handleAnswer)
		r.Get("/ranking", s.handleRanking)
		r.Post("/{name}", s.handleUpload)
		r.Delete("/{name}", s.handleDelete)
	})
	r.Get("/health", s.handleHealth)
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	s.logger.Info("Starting server", zap.String("addr", addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
