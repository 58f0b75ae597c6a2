package server

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kalnberzina/agrosync/internal/models"
	"github.com/kalnberzina/agrosync/internal/remote"
	"github.com/kalnberzina/agrosync/internal/server/blobstore"
	"github.com/kalnberzina/agrosync/internal/server/metastore"
)

// Config holds configurable limits for the server.
type Config struct {
	Token          string // bearer token accepted on the sync surface
	MaxRequestBody int64  // bytes
}

// DefaultConfig returns reasonable defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxRequestBody: 32 * 1024 * 1024, // 32MB, attachments travel inline
	}
}

type api struct {
	meta   *metastore.Store
	blobs  *blobstore.FSStore
	logger *slog.Logger
}

// Handler creates the HTTP handler with all routes and middleware.
func Handler(meta *metastore.Store, blobs *blobstore.FSStore, cfg *Config, logger *slog.Logger) http.Handler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &api{meta: meta, blobs: blobs, logger: logger}
	auth := authMiddleware(cfg.Token)

	withAuth := func(h http.HandlerFunc) http.Handler {
		return applyMiddleware(h, auth)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("POST /api/v1/{type}", withAuth(a.handleCreate))
	mux.Handle("PATCH /api/v1/{type}/{id}", withAuth(a.handleUpdate))
	mux.Handle("GET /api/v1/{type}/{id}", withAuth(a.handleGet))
	mux.Handle("POST /api/v1/{type}/{id}/attachments", withAuth(a.handleAttachment))

	var h http.Handler = mux
	h = http.MaxBytesHandler(h, cfg.MaxRequestBody)
	h = applyMiddleware(h, requestIDMiddleware, loggingMiddleware(logger))
	return h
}

var knownEntityTypes = map[string]bool{
	models.EntityActor:       true,
	models.EntityTransaction: true,
	models.EntityDocument:    true,
}

func (a *api) handleCreate(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	if !knownEntityTypes[entityType] {
		writeError(w, http.StatusNotFound, "unknown_entity_type", fmt.Sprintf("no such entity type: %s", entityType))
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if msg := validateCreate(entityType, fields); msg != "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", msg)
		return
	}

	id, replayed, err := a.meta.CreateEntity(entityType, fields, r.Header.Get("Idempotency-Key"))
	if err != nil {
		a.logger.Error("create entity", "entity_type", entityType, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to persist entity")
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, &remote.CreateResponse{ID: id, Replayed: replayed})
}

func (a *api) handleUpdate(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	id := r.PathValue("id")
	if !knownEntityTypes[entityType] {
		writeError(w, http.StatusNotFound, "unknown_entity_type", fmt.Sprintf("no such entity type: %s", entityType))
		return
	}

	var patch map[string]any
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	if err := a.meta.UpdateEntity(entityType, id, patch); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %s does not exist", entityType, id))
			return
		}
		a.logger.Error("update entity", "entity_type", entityType, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to update entity")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *api) handleGet(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	id := r.PathValue("id")

	fields, err := a.meta.GetEntity(entityType, id)
	if err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %s does not exist", entityType, id))
			return
		}
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to load entity")
		return
	}

	writeJSON(w, http.StatusOK, fields)
}

func (a *api) handleAttachment(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("type")
	id := r.PathValue("id")

	var upload remote.AttachmentUpload
	if err := json.NewDecoder(r.Body).Decode(&upload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if upload.Filename == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "attachment filename is required")
		return
	}

	data, err := base64.StdEncoding.DecodeString(upload.Data)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "attachment data is not valid base64")
		return
	}

	hash, err := a.blobs.Put(data)
	if err != nil {
		a.logger.Error("store attachment blob", "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to store attachment")
		return
	}

	if err := a.meta.AddAttachmentRef(entityType, id, upload.Filename, hash); err != nil {
		if errors.Is(err, metastore.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("%s %s does not exist", entityType, id))
			return
		}
		a.logger.Error("record attachment", "entity_type", entityType, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to record attachment")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"hash": hash})
}

// validateCreate applies the minimal field checks the production system
// would reject on. Returns an empty string when the payload is acceptable.
func validateCreate(entityType string, fields map[string]any) string {
	str := func(key string) string {
		s, _ := fields[key].(string)
		return s
	}
	switch entityType {
	case models.EntityActor:
		if str("name") == "" {
			return "actor name is required"
		}
	case models.EntityTransaction:
		if str("buyer") == "" || str("seller") == "" {
			return "transaction buyer and seller are required"
		}
		if str("commodity") == "" {
			return "transaction commodity is required"
		}
	case models.EntityDocument:
		if str("title") == "" {
			return "document title is required"
		}
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &remote.ErrorResponse{Error: code, Message: message})
}
