package http

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/influxdata/shardkit"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/influxdata/shardkit/session"
	"go.uber.org/zap"
)

const prefixEntities = "/api/v1/entities"

// EntityHandler serves reads and writes of single records.
type EntityHandler struct {
	chi.Router
	HTTPErrorHandler

	log     *zap.Logger
	factory *session.Factory
}

// NewEntityHandler returns a handler over the sessions of f.
func NewEntityHandler(log *zap.Logger, eh HTTPErrorHandler, f *session.Factory) *EntityHandler {
	h := &EntityHandler{
		Router:           chi.NewRouter(),
		HTTPErrorHandler: eh,
		log:              log,
		factory:          f,
	}

	h.Route("/{type}", func(r chi.Router) {
		r.Post("/", h.handlePostEntity)
		r.Get("/{id}", h.handleGetEntity)
		r.Put("/{id}", h.handlePutEntity)
		r.Delete("/{id}", h.handleDeleteEntity)
		r.Get("/{id}/{property}", h.handleGetAssociation)
	})
	return h
}

// Prefix is the url path prefix of the handler.
func (h *EntityHandler) Prefix() string {
	return prefixEntities
}

func (h *EntityHandler) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := decodeIDFromRequest(r, "id")
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}

	s := h.factory.OpenSession()
	defer s.Close()

	e, err := s.Get(ctx, chi.URLParam(r, "type"), id)
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	h.log.Debug("Entity retrieved", zap.Stringer("key", shardkit.KeyOf(e)))

	if err := encodeResponse(ctx, w, http.StatusOK, e); err != nil {
		h.log.Info("Failed to encode response", zap.Error(err))
	}
}

func (h *EntityHandler) handlePostEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rec, err := decodeRecord(r, chi.URLParam(r, "type"))
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	if rec.ID.Valid() {
		h.HandleHTTPError(ctx, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "new entities must not carry an id; use PUT to update",
		}, w)
		return
	}

	s := h.factory.OpenSession()
	defer s.Close()

	if _, err := s.Save(ctx, rec); err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	h.log.Debug("Entity created", zap.Stringer("key", rec.Key()))

	if err := encodeResponse(ctx, w, http.StatusCreated, rec); err != nil {
		h.log.Info("Failed to encode response", zap.Error(err))
	}
}

func (h *EntityHandler) handlePutEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := decodeIDFromRequest(r, "id")
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	rec, err := decodeRecord(r, chi.URLParam(r, "type"))
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	rec.ID = id

	s := h.factory.OpenSession()
	defer s.Close()

	if _, err := s.Get(ctx, rec.Type, id); err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	if err := s.Update(ctx, rec); err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	h.log.Debug("Entity updated", zap.Stringer("key", rec.Key()))

	if err := encodeResponse(ctx, w, http.StatusOK, rec); err != nil {
		h.log.Info("Failed to encode response", zap.Error(err))
	}
}

func (h *EntityHandler) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := decodeIDFromRequest(r, "id")
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}

	s := h.factory.OpenSession()
	defer s.Close()

	// the lookup pins the entity to its shard even for opaque identifiers
	e, err := s.Get(ctx, chi.URLParam(r, "type"), id)
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	if err := s.Delete(ctx, e); err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	h.log.Debug("Entity deleted", zap.Stringer("key", shardkit.KeyOf(e)))

	w.WriteHeader(http.StatusNoContent)
}

func (h *EntityHandler) handleGetAssociation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := decodeIDFromRequest(r, "id")
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}

	s := h.factory.OpenSession()
	defer s.Close()

	owner, err := s.Get(ctx, chi.URLParam(r, "type"), id)
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	targets, err := s.LoadAssociation(ctx, owner, chi.URLParam(r, "property"))
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}

	if err := encodeResponse(ctx, w, http.StatusOK, entitiesResponse{Entities: targets}); err != nil {
		h.log.Info("Failed to encode response", zap.Error(err))
	}
}

type entitiesResponse struct {
	Entities []shardkit.Entity `json:"entities"`
}
