package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/twinscope/internal/gallery"
	"github.com/hyperjump/twinscope/internal/metric"
	"github.com/hyperjump/twinscope/internal/siamese"
	"github.com/hyperjump/twinscope/internal/storage"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

type compareRequest struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type compareResponse struct {
	Left      string  `json:"left"`
	Right     string  `json:"right"`
	Distance  float64 `json:"distance"`
	Similar   bool    `json:"similar"`
	Threshold float64 `json:"threshold"`
}

type identifyRequest struct {
	Filename string `json:"filename"`
	Limit    int    `json:"limit,omitempty"`
}

type identifyResponse struct {
	Filename string           `json:"filename"`
	Matches  []*gallery.Match `json:"matches"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{}

	s.modelMu.RLock()
	if s.model != nil {
		resp["model"] = map[string]interface{}{
			"path":         s.modelPath,
			"loaded_at":    s.loadedAt,
			"architecture": s.model.Architecture(),
		}
		resp["image_cache"] = s.cache.Stats()
	}
	s.modelMu.RUnlock()

	if s.gallery != nil {
		resp["gallery"] = map[string]int{"images": s.gallery.Size(), "entities": s.gallery.Entities()}
	}
	if s.labels != nil {
		resp["catalog_entities"] = s.labels.Size()
	}
	if s.storage != nil {
		runs, err := s.storage.CountRuns(r.Context())
		if err != nil {
			s.logger.Error("status: count runs failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["runs"] = runs
	}

	usage, err := storage.DiskUsage(
		s.config.Storage.CheckpointDir,
		s.config.Storage.DatabasePath,
		s.config.Storage.GalleryPath,
	)
	if err == nil {
		resp["artifacts"] = usage
	}
	resp["config"] = map[string]interface{}{
		"image_dir":      s.config.Data.ImageDir,
		"checkpoint_dir": s.config.Storage.CheckpointDir,
		"cache_policy":   s.config.Image.CachePolicy,
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// servingModel returns the current model, cache settings and preprocessor together
// so a concurrent reload cannot mix them. The model stays open until release is
// called; release must be called exactly once when model is non-nil.
func (s *Server) servingModel() (model *siamese.Model, load func(filename string) ([]float64, error), release func()) {
	s.modelMu.RLock()
	defer s.modelMu.RUnlock()
	if s.model == nil {
		return nil, nil, func() {}
	}
	s.users.Add(1)
	cache, preprocess, dir := s.cache, s.preprocess, s.config.Data.ImageDir
	load = func(filename string) ([]float64, error) {
		t, err := cache.Get(filename, dir)
		if err != nil {
			return nil, err
		}
		return preprocess(t), nil
	}
	return s.model, load, s.users.Done
}

func validFilename(name string) bool {
	return name != "" && filepath.IsLocal(name)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req compareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validFilename(req.Left) || !validFilename(req.Right) {
		s.respondError(w, http.StatusBadRequest, "left and right must be relative image paths")
		return
	}
	model, load, release := s.servingModel()
	defer release()
	if model == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	s.logger.Debug("compare request", zap.String("left", req.Left), zap.String("right", req.Right))
	left, err := load(req.Left)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	right, err := load(req.Right)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	d, err := model.Distance(left, right)
	if err != nil {
		s.logger.Error("compare failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, compareResponse{
		Left:      req.Left,
		Right:     req.Right,
		Distance:  d,
		Similar:   metric.PredictSimilar(d),
		Threshold: metric.Threshold,
	})
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if s.gallery == nil {
		s.respondError(w, http.StatusNotImplemented, "gallery not loaded")
		return
	}
	var req identifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !validFilename(req.Filename) {
		s.respondError(w, http.StatusBadRequest, "filename must be a relative image path")
		return
	}
	model, load, release := s.servingModel()
	defer release()
	if model == nil {
		s.respondError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	x, err := load(req.Filename)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	emb, err := model.Embed(x)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	matches, err := s.gallery.Search(r.Context(), emb, clampLimit(req.Limit))
	if err != nil {
		s.logger.Error("identify failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if matches == nil {
		matches = []*gallery.Match{}
	}
	s.respondJSON(w, http.StatusOK, identifyResponse{Filename: req.Filename, Matches: matches})
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if s.labels == nil {
		s.respondError(w, http.StatusNotImplemented, "catalog not loaded")
		return
	}
	q := r.URL.Query().Get("q")
	if q == "" {
		s.respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	hits, err := s.labels.Search(r.Context(), q, clampLimit(queryInt(r, "limit")))
	if err != nil {
		s.logger.Error("entity search failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"query": q, "entities": hits, "total": len(hits)})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "run history not enabled")
		return
	}
	runs, err := s.storage.ListRuns(r.Context(), queryInt(r, "offset"), clampLimit(queryInt(r, "limit")))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		s.respondError(w, http.StatusNotImplemented, "run history not enabled")
		return
	}
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	run, err := s.storage.GetRun(ctx, id)
	if errors.Is(err, storage.ErrRunNotFound) {
		s.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	epochs, err := s.storage.ListEpochs(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	checkpoints, err := s.storage.ListCheckpoints(ctx, id)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"run":         run,
		"epochs":      epochs,
		"checkpoints": checkpoints,
	})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func clampLimit(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return min(n, maxLimit)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
