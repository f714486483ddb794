// Package api exposes an admin HTTP surface over a taskq engine: job and
// DLQ inspection, ad-hoc dispatch, DLQ replay and purge, scheduler state
// and aggregate counts. Mount it next to the application's own routes or
// serve it standalone with Handler.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xraph/taskq"
	"github.com/xraph/taskq/engine"
	"github.com/xraph/taskq/stream"
)

// API wires the admin handlers to an engine.
type API struct {
	eng      *engine.Engine
	gatherer prometheus.Gatherer
	broker   *stream.Broker
	logger   *slog.Logger

	streams atomic.Int64
}

// Option configures an API.
type Option func(*API)

// WithGatherer serves gatherer's metrics at GET /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(a *API) { a.gatherer = g }
}

// WithBroker serves broker events at GET /v1/events. The broker must also
// be registered on the engine as an extension.
func WithBroker(b *stream.Broker) Option {
	return func(a *API) { a.broker = b }
}

// WithLogger sets the logger used for server-side failures.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from a taskq Engine.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Handler returns a standalone gin engine with every route registered.
func (a *API) Handler() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	a.RegisterRoutes(router)
	return router
}

// RegisterRoutes registers all taskq routes on router.
func (a *API) RegisterRoutes(router gin.IRouter) {
	router.GET("/healthz", a.health)
	if a.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{})))
	}

	v1 := router.Group("/v1")
	{
		v1.GET("/jobs", a.listJobs)
		v1.POST("/jobs", a.dispatchJob)
		v1.GET("/jobs/due", a.listDue)
		v1.GET("/jobs/counts", a.jobCounts)
		v1.GET("/jobs/:jobId", a.getJob)
		v1.POST("/jobs/:jobId/cancel", a.cancelJob)

		v1.GET("/dlq", a.listDLQ)
		v1.GET("/dlq/count", a.dlqCount)
		v1.POST("/dlq/purge", a.purgeDLQ)
		v1.GET("/dlq/:entryId", a.getDLQ)
		v1.POST("/dlq/:entryId/replay", a.replayDLQ)

		v1.GET("/schedules", a.listSchedules)
		v1.GET("/stats", a.stats)
		if a.broker != nil {
			v1.GET("/events", a.streamEvents)
		}
	}
}

// fail writes err with the status its sentinel maps to. Unknown errors are
// logged and reported as 500 without detail.
func (a *API) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, taskq.ErrJobNotFound), errors.Is(err, taskq.ErrDLQNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: err.Error()})
	case errors.Is(err, taskq.ErrInvalidState), errors.Is(err, taskq.ErrConcurrencyViolation):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, taskq.ErrUnknownKind), errors.Is(err, taskq.ErrSerialization):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		a.logger.Error("taskq api request failed",
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}

func badRequest(c *gin.Context, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	c.JSON(http.StatusBadRequest, resp)
}

func defaultLimit(n int) int {
	if n <= 0 {
		return 50
	}
	return n
}
