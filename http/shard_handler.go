package http

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/influxdata/shardkit/session"
	"go.uber.org/zap"
)

const prefixShards = "/api/v1/shards"

// ShardHandler describes the shard layout.
type ShardHandler struct {
	chi.Router
	HTTPErrorHandler

	log     *zap.Logger
	factory *session.Factory
}

// NewShardHandler returns a handler describing the shards of f.
func NewShardHandler(log *zap.Logger, eh HTTPErrorHandler, f *session.Factory) *ShardHandler {
	h := &ShardHandler{
		Router:           chi.NewRouter(),
		HTTPErrorHandler: eh,
		log:              log,
		factory:          f,
	}
	h.Get("/", h.handleGetShards)
	return h
}

// Prefix is the url path prefix of the handler.
func (h *ShardHandler) Prefix() string {
	return prefixShards
}

type shardsResponse struct {
	Shards []session.ShardInfo `json:"shards"`
}

func (h *ShardHandler) handleGetShards(w http.ResponseWriter, r *http.Request) {
	if err := encodeResponse(r.Context(), w, http.StatusOK, shardsResponse{Shards: h.factory.Shards()}); err != nil {
		h.log.Info("Failed to encode response", zap.Error(err))
	}
}
