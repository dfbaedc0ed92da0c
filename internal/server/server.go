// Package server provides the HTTP API for comparing and identifying images with a
// trained model and for browsing training runs.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/batch"
	"github.com/hyperjump/twinscope/internal/catalog"
	"github.com/hyperjump/twinscope/internal/config"
	"github.com/hyperjump/twinscope/internal/gallery"
	"github.com/hyperjump/twinscope/internal/imagecache"
	"github.com/hyperjump/twinscope/internal/siamese"
	"github.com/hyperjump/twinscope/internal/storage"
)

// Server is the HTTP server for the twinscope API.
type Server struct {
	config  *config.Config
	storage storage.Storage
	labels  *catalog.LabelIndex
	gallery *gallery.Index
	logger  *zap.Logger
	server  *http.Server

	// guarded by modelMu; replaced on hot reload
	modelMu    sync.RWMutex
	model      *siamese.Model
	users      *sync.WaitGroup
	modelPath  string
	loadedAt   time.Time
	cache      *imagecache.Cache
	preprocess batch.Preprocessor
}

// NewServer creates a server. storage, labels and gal may be nil; the endpoints
// depending on them then answer 501.
func NewServer(
	cfg *config.Config,
	store storage.Storage,
	labels *catalog.LabelIndex,
	gal *gallery.Index,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		config:  cfg,
		storage: store,
		labels:  labels,
		gallery: gal,
		logger:  logger,
	}
}

// SetModel installs m as the serving model. The previous model is closed once the
// requests still using it have finished, so SetModel blocks until then. The image
// cache is rebuilt when the model's input size changes.
func (s *Server) SetModel(m *siamese.Model, path string) error {
	arch := m.Architecture()
	preprocess, err := batch.NewPreprocessor(arch.Preprocessing)
	if err != nil {
		return err
	}

	s.modelMu.Lock()
	if s.cache == nil || s.cache.Size() != arch.Extractor.ImageSize {
		cache, err := imagecache.NewFromConfig(arch.Extractor.ImageSize, s.config.Image.CachePolicy, s.config.Image.CacheCapacity)
		if err != nil {
			s.modelMu.Unlock()
			return err
		}
		s.cache = cache
	}
	old, oldUsers := s.model, s.users
	s.model = m
	s.users = new(sync.WaitGroup)
	s.modelPath = path
	s.loadedAt = time.Now()
	s.preprocess = preprocess
	s.modelMu.Unlock()
	s.logger.Info("serving model", zap.String("path", path), zap.Int("embedding_dim", arch.Extractor.EmbeddingDim))

	if old != nil && old != m {
		// no new users can pick up old once the lock is released
		oldUsers.Wait()
		if err := old.Close(); err != nil {
			s.logger.Warn("failed to close previous model", zap.Error(err))
		}
	}
	return nil
}

// ReloadModel loads the model file at path and installs it.
func (s *Server) ReloadModel(path string) error {
	m, err := siamese.Load(path, siamese.WithLogger(s.logger))
	if err != nil {
		return err
	}
	if err := s.SetModel(m, path); err != nil {
		m.Close()
		return err
	}
	return nil
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Post("/compare", s.handleCompare)
		r.Post("/identify", s.handleIdentify)
		r.Get("/entities", s.handleEntities)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})
	return r
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
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
