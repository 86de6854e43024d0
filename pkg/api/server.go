// Package api exposes the HTTP surface: protocol ingestion, job control,
// human-in-the-loop confirmations, event catch-up, and operational
// endpoints. Handlers stay thin; state changes go through the services
// layer and the pipeline confirmation methods.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/cache"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/eligibility"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/metrics"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/services"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/soa"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/supervisor"
	"github.com/avinash-kulkarni05/digital-protocol-demo-sub002/pkg/version"
)

// Worker phase names passed to spawned workers via --phase. The worker
// binary dispatches on these.
const (
	PhaseDetection      = "detection"
	PhaseExtraction     = "extraction"
	PhaseInterpretation = "interpretation"
	PhaseRun            = "run"
)

// Server wires the HTTP handlers to the services and pipelines.
type Server struct {
	pool        *pgxpool.Pool
	protocols   *services.ProtocolService
	jobs        *services.JobService
	events      *services.EventService
	groups      *services.MergeGroupResultService
	sections    *services.SectionResultService
	audit       *services.AuditService
	soa         *soa.Pipeline
	eligibility *eligibility.Pipeline
	cache       cache.Cache
	supervisor  *supervisor.Supervisor
	metrics     *metrics.Metrics
	configDir   string
}

type Options struct {
	Pool        *pgxpool.Pool
	Protocols   *services.ProtocolService
	Jobs        *services.JobService
	Events      *services.EventService
	Groups      *services.MergeGroupResultService
	Sections    *services.SectionResultService
	Audit       *services.AuditService
	SOA         *soa.Pipeline
	Eligibility *eligibility.Pipeline
	Cache       cache.Cache
	Supervisor  *supervisor.Supervisor
	Metrics     *metrics.Metrics
	ConfigDir   string
}

func NewServer(opts Options) *Server {
	return &Server{
		pool:        opts.Pool,
		protocols:   opts.Protocols,
		jobs:        opts.Jobs,
		events:      opts.Events,
		groups:      opts.Groups,
		sections:    opts.Sections,
		audit:       opts.Audit,
		soa:         opts.SOA,
		eligibility: opts.Eligibility,
		cache:       opts.Cache,
		supervisor:  opts.Supervisor,
		metrics:     opts.Metrics,
		configDir:   opts.ConfigDir,
	}
}

// Router builds the gin engine with every route attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/healthz", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/protocols", s.createProtocol)
		v1.GET("/protocols", s.listProtocols)
		v1.GET("/protocols/:id", s.getProtocol)
		v1.POST("/protocols/:id/jobs", s.createJob)
		v1.GET("/protocols/:id/jobs", s.listJobs)

		v1.GET("/jobs/:id", s.getJob)
		v1.POST("/jobs/:id/cancel", s.cancelJob)
		v1.POST("/jobs/:id/confirm-pages", s.confirmPages)
		v1.POST("/jobs/:id/confirm-merges", s.confirmMerges)
		v1.POST("/jobs/:id/confirm-sections", s.confirmSections)
		v1.GET("/jobs/:id/sections", s.listSections)
		v1.GET("/jobs/:id/events", s.listEvents)
		v1.GET("/jobs/:id/review", s.getReview)

		v1.GET("/cache/stats", s.cacheStats)
		v1.POST("/cache/invalidate/:protocolID", s.cacheInvalidate)
		v1.POST("/cache/invalidate-module/:moduleID", s.cacheInvalidateModule)
	}
	return r
}

func (s *Server) health(c *gin.Context) {
	status := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}
	if s.pool != nil {
		if err := s.pool.Ping(c.Request.Context()); err != nil {
			status["status"] = "unhealthy"
			status["database"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		status["database"] = "ok"
	}
	c.JSON(http.StatusOK, status)
}

// requestLogger logs method, path, status, and latency per request and
// feeds the HTTP collectors.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)
		logRequest(c, elapsed)
		if s.metrics != nil {
			route := c.FullPath()
			if route == "" {
				route = "unmatched"
			}
			s.metrics.HTTPRequest(c.Request.Method, route,
				strconv.Itoa(c.Writer.Status()), elapsed)
		}
	}
}
