package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/influxdata/shardkit/kit/prom"
	kithttp "github.com/influxdata/shardkit/kit/transport/http"
	"github.com/influxdata/shardkit/session"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// HTTPErrorHandler is the interface to handle http error.
type HTTPErrorHandler interface {
	HandleHTTPError(ctx context.Context, err error, w http.ResponseWriter)
}

// ResourceHandler is an HTTP handler for a resource. The prefix
// describes the url path prefix that relates to the handler
// endpoints.
type ResourceHandler interface {
	Prefix() string
	http.Handler
}

// APIBackend is all services and associated parameters required to construct
// an APIHandler.
type APIBackend struct {
	Logger *zap.Logger
	HTTPErrorHandler

	Factory  *session.Factory
	Registry *prom.Registry

	// QueryTimeout bounds every per-shard query when positive.
	QueryTimeout time.Duration
}

// APIHandler is a collection of all the service handlers.
type APIHandler struct {
	chi.Router

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewAPIHandler constructs all api handlers beneath it and returns an APIHandler
func NewAPIHandler(b *APIBackend) *APIHandler {
	if b.HTTPErrorHandler == nil {
		b.HTTPErrorHandler = kithttp.ErrorHandler(0)
	}

	h := &APIHandler{
		Router: chi.NewRouter(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "http",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Number of http requests received",
		}, kithttp.MetricLabels),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "http",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Time taken to respond to HTTP request",
		}, kithttp.MetricLabels),
	}

	h.Use(
		middleware.Recoverer,
		kithttp.SkipOptions,
		kithttp.SetCORS,
	)

	h.Method(http.MethodGet, "/health", ReadyHandler())
	if b.Registry != nil {
		h.Method(http.MethodGet, "/metrics", b.Registry.HTTPHandler())
	}

	h.Group(func(r chi.Router) {
		r.Use(
			kithttp.Trace("api"),
			kithttp.Metrics("api", h.requests, h.duration),
		)
		for _, rh := range []ResourceHandler{
			NewEntityHandler(b.Logger.With(zap.String("handler", "entity")), b.HTTPErrorHandler, b.Factory),
			NewQueryHandler(b.Logger.With(zap.String("handler", "query")), b.HTTPErrorHandler, b.Factory, b.QueryTimeout),
			NewShardHandler(b.Logger.With(zap.String("handler", "shard")), b.HTTPErrorHandler, b.Factory),
		} {
			r.Mount(rh.Prefix(), rh)
		}
	})
	return h
}

// PrometheusCollectors satisfies the prom.PrometheusCollector interface.
func (h *APIHandler) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{h.requests, h.duration}
}
