package http

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/influxdata/shardkit/criteria"
	"github.com/influxdata/shardkit/kit/platform/errors"
	"github.com/influxdata/shardkit/session"
	"go.uber.org/zap"
)

const prefixQuery = "/api/v1/query"

// QueryHandler runs criteria queries across the shards.
type QueryHandler struct {
	chi.Router
	HTTPErrorHandler

	log     *zap.Logger
	factory *session.Factory
	timeout time.Duration
}

// NewQueryHandler returns a handler over the sessions of f.
func NewQueryHandler(log *zap.Logger, eh HTTPErrorHandler, f *session.Factory, timeout time.Duration) *QueryHandler {
	h := &QueryHandler{
		Router:           chi.NewRouter(),
		HTTPErrorHandler: eh,
		log:              log,
		factory:          f,
		timeout:          timeout,
	}
	h.Post("/", h.handlePostQuery)
	return h
}

// Prefix is the url path prefix of the handler.
func (h *QueryHandler) Prefix() string {
	return prefixQuery
}

type queryResponse struct {
	Results []interface{} `json:"results"`
}

func (h *QueryHandler) handlePostQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	c, err := decodeQueryRequest(r)
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}

	s := h.factory.OpenSession()
	defer s.Close()
	if h.timeout > 0 {
		if err := s.SetTimeout(h.timeout); err != nil {
			h.HandleHTTPError(ctx, err, w)
			return
		}
	}

	results, err := s.List(ctx, c)
	if err != nil {
		h.HandleHTTPError(ctx, err, w)
		return
	}
	if results == nil {
		results = []interface{}{}
	}
	h.log.Debug("Query executed", zap.String("entity_type", c.EntityType), zap.Int("results", len(results)))

	if err := encodeResponse(ctx, w, http.StatusOK, queryResponse{Results: results}); err != nil {
		h.log.Info("Failed to encode response", zap.Error(err))
	}
}

func decodeQueryRequest(r *http.Request) (*criteria.Criteria, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.UseNumber()

	var c criteria.Criteria
	if err := dec.Decode(&c); err != nil {
		return nil, &errors.Error{
			Code: errors.EInvalid,
			Msg:  "invalid json structure",
			Err:  err,
		}
	}
	for i := range c.Restrictions {
		c.Restrictions[i].Value = normalizeValue(c.Restrictions[i].Value)
	}
	return &c, nil
}

func normalizeValue(v interface{}) interface{} {
	if list, ok := v.([]interface{}); ok {
		for i := range list {
			list[i] = criteria.Normalize(list[i])
		}
		return list
	}
	return criteria.Normalize(v)
}
