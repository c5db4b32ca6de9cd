package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/bottlematch/internal/config"
	"github.com/hyperjump/bottlematch/internal/embedding"
	"github.com/hyperjump/bottlematch/internal/indexer"
	"github.com/hyperjump/bottlematch/internal/models"
	"github.com/hyperjump/bottlematch/internal/storage"
	"github.com/hyperjump/bottlematch/internal/vectorstore"
)

// suggestionHeader carries a corrected name query when a listing found nothing.
const suggestionHeader = "X-Suggested-Query"

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"message": "Whisky bottle recognition API",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"entries": s.store.Size(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.store.Stats()
	resp := map[string]interface{}{
		"entries":    stats.Entries,
		"metadata":   stats.Metadata,
		"orphans":    stats.Orphans,
		"index_type": s.store.IndexType(),
		"dimensions": s.store.Dimensions(),
	}

	s.configMu.Lock()
	storageCfg := s.config.Storage
	s.configMu.Unlock()
	resp["config"] = map[string]interface{}{
		"storage_backend": storageCfg.Backend,
		"index_path":      storageCfg.IndexPath,
		"images_dir":      storageCfg.ImagesDir,
	}
	diskBytes, err := storage.DiskUsageBytes(storage.Paths(&storageCfg)...)
	if err == nil {
		resp["disk_usage_bytes"] = diskBytes
	} else {
		s.logger.Debug("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// limitBody caps the request body at the configured upload size. Bodies that declare a
// larger length are refused before anything is read.
func (s *Server) limitBody(w http.ResponseWriter, r *http.Request) bool {
	limit := s.config.Server.MaxUploadBytes
	if r.ContentLength > limit {
		s.respondErr(w, &http.MaxBytesError{Limit: limit})
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	return true
}

// respondBodyErr answers a body read or decode failure: 413 when the size cap tripped,
// otherwise 400 with message.
func (s *Server) respondBodyErr(w http.ResponseWriter, err error, message string) {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		s.respondErr(w, maxBytes)
		return
	}
	s.respondError(w, http.StatusBadRequest, message)
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if !s.limitBody(w, r) {
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		s.respondBodyErr(w, err, "multipart field \"file\" is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		s.respondBodyErr(w, err, "failed to read upload")
		return
	}
	s.identify(w, r, data, topKParam(r))
}

func (s *Server) handleIdentifyBase64(w http.ResponseWriter, r *http.Request) {
	if !s.limitBody(w, r) {
		return
	}
	var req models.IdentifyBase64Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBodyErr(w, err, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	data, err := indexer.DecodeBase64Image(req.Base64Image)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.identify(w, r, data, req.TopK)
}

func (s *Server) identify(w http.ResponseWriter, r *http.Request, image []byte, topK int) {
	resp, err := s.engine.Identify(r.Context(), image, topK)
	if err != nil {
		s.logger.Error("identify failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.logger.Debug("identify", zap.Int("matches", len(resp.Matches)), zap.Float64("ms", resp.ProcessingTimeMs))
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListBottles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	matches, suggestion, err := s.engine.ListBottles(r.Context(), query)
	if err != nil {
		s.logger.Error("list bottles failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	if suggestion != "" {
		w.Header().Set(suggestionHeader, suggestion)
	}
	s.respondJSON(w, http.StatusOK, matches)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if !s.limitBody(w, r) {
		return
	}
	var req models.SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondBodyErr(w, err, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.engine.SearchEmbedding(r.Context(), req.Embedding, req.TopK)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddBottle(w http.ResponseWriter, r *http.Request) {
	if !s.limitBody(w, r) {
		return
	}
	var in models.BottleInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		s.respondBodyErr(w, err, "invalid request body")
		return
	}
	s.logger.Debug("add bottle request", zap.String("id", in.ID), zap.String("name", in.Name))
	b, err := s.indexer.IndexBottle(r.Context(), &in)
	if err != nil {
		s.logger.Error("add bottle failed", zap.String("id", in.ID), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBottle(w http.ResponseWriter, r *http.Request) {
	b, ok := s.store.Get(chi.URLParam(r, "id"))
	if !ok {
		s.respondError(w, http.StatusNotFound, "bottle not found")
		return
	}
	s.respondJSON(w, http.StatusOK, b)
}

func (s *Server) handleDeleteBottle(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.logger.Debug("delete bottle request", zap.String("id", id))
	if err := s.indexer.DeleteBottle(r.Context(), id); err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleSaveIndex(w http.ResponseWriter, r *http.Request) {
	path := s.config.Storage.IndexPath
	if err := s.store.PersistIndex(path); err != nil {
		s.logger.Error("save index failed", zap.String("path", path), zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "saved",
		"path":    path,
		"entries": s.store.Size(),
	})
}

func (s *Server) handleReloadIndex(w http.ResponseWriter, r *http.Request) {
	if err := s.indexer.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "reloaded",
		"entries": s.store.Size(),
	})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path query parameter is required")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.saveWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) saveWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// topKParam reads the optional top_k query parameter; absent or malformed means default.
func topKParam(r *http.Request) int {
	k, err := strconv.Atoi(r.URL.Query().Get("top_k"))
	if err != nil {
		return 0
	}
	return k
}

// statusFor maps an error from the engine, indexer or store to an HTTP status.
func statusFor(err error) int {
	switch vectorstore.CodeOf(err) {
	case vectorstore.CodeDimensionMismatch, vectorstore.CodeDegenerateVector, vectorstore.CodeInvalidID:
		return http.StatusBadRequest
	case vectorstore.CodeNotFound:
		return http.StatusNotFound
	case vectorstore.CodeStorageUnavailable:
		return http.StatusServiceUnavailable
	}
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, models.ErrInvalidRequest), errors.Is(err, embedding.ErrInvalidImage):
		return http.StatusBadRequest
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	body := map[string]string{"error": err.Error()}
	if code := vectorstore.CodeOf(err); code != "" {
		body["code"] = code
	}
	s.respondJSON(w, statusFor(err), body)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
