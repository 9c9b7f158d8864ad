// Package api exposes the recommendation pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	apperrors "transfer-advisor/internal/common/errors"
	"transfer-advisor/internal/common/logger"
	"transfer-advisor/internal/models"
	"transfer-advisor/internal/pipeline"
	"transfer-advisor/internal/review"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Processor is satisfied by *pipeline.Pipeline.
type Processor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Response
}

// Check reports whether a dependency is reachable.
type Check func(ctx context.Context) error

type Options struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Version      string
}

type Server struct {
	opts      Options
	processor Processor
	notifier  pipeline.ReviewNotifier
	checks    map[string]Check
	log       logger.Logger
	engine    *gin.Engine
}

// NewServer builds the router. notifier may be nil, in which case review
// requests answer 503.
func NewServer(opts Options, processor Processor, notifier pipeline.ReviewNotifier, checks map[string]Check, log logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		opts:      opts,
		processor: processor,
		notifier:  notifier,
		checks:    checks,
		log:       logger.Component(log, "api"),
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.health)
	r.GET("/ready", s.ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	v1.POST("/recommendations", s.recommend)
	v1.POST("/reviews", s.requestReview)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.opts.Port),
		Handler:      s.engine,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.log.Info("shutting down http server", nil)
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request handled", map[string]interface{}{
			"method":      c.Request.Method,
			"path":        c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "version": s.opts.Version})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	results := gin.H{}
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}
	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	c.JSON(status, gin.H{"status": state, "checks": results})
}

func (s *Server) recommend(c *gin.Context) {
	var req pipeline.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.ClinicalText) == "" {
		s.badRequest(c, "clinical_text is required")
		return
	}

	resp := s.processor.Process(c.Request.Context(), req)
	c.JSON(http.StatusOK, resp)
}

type reviewRequest struct {
	Recommendation models.Recommendation `json:"recommendation"`
	Reasons        []string              `json:"reasons"`
}

func (s *Server) requestReview(c *gin.Context) {
	if s.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, apperrors.NewConfigInvalidError("review notifications are not configured"))
		return
	}

	var body reviewRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		s.badRequest(c, "invalid request body: "+err.Error())
		return
	}
	if body.Recommendation.TransferRequestID == "" {
		s.badRequest(c, "recommendation.transfer_request_id is required")
		return
	}

	rec := body.Recommendation
	for _, r := range body.Reasons {
		rec.FlagForReview(r)
	}
	req := review.BuildRequest(rec)
	deliveries, err := s.notifier.Notify(c.Request.Context(), req)
	if err != nil {
		s.log.Error("review request failed", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusBadGateway, apperrors.NewNotificationSendFailedError("review", err))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"review_id": req.ID, "deliveries": deliveries})
}

func (s *Server) badRequest(c *gin.Context, details string) {
	c.JSON(http.StatusBadRequest, apperrors.NewInvalidInputError(details))
}
