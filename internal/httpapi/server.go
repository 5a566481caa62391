package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"horse.fit/curator/internal/db"
	"horse.fit/curator/internal/globaltime"
	"horse.fit/curator/internal/pipeline"
	"horse.fit/curator/internal/storage"
	payloadschema "horse.fit/curator/schema"
)

const (
	defaultRunPageSize = 20
	maxRunPageSize     = 500
	defaultBodyLimit   = "16M"
)

// Curator runs the pipeline over one request.
type Curator interface {
	Curate(ctx context.Context, req pipeline.Request) pipeline.Feed
}

// RunStore persists feeds and serves run history.
type RunStore interface {
	Ping(ctx context.Context) error
	SaveFeed(ctx context.Context, feed pipeline.Feed) (string, error)
	ListRuns(ctx context.Context, limit int) ([]db.RunSummary, error)
	GetRunFeed(ctx context.Context, runUUID string) (*pipeline.Feed, error)
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// TokenHash is a bcrypt hash; when set, POST /api/v1/curate requires a
	// matching bearer token.
	TokenHash      string
	AllowedOrigins []string
	BodyLimit      string

	Sink       storage.Sink
	FeedPrefix string
	Gatherer   prometheus.Gatherer
}

type Server struct {
	curator Curator
	store   RunStore
	logger  zerolog.Logger
	opts    Options
}

type curateResponse struct {
	RunUUID    string                    `json:"run_uuid,omitempty"`
	Location   string                    `json:"location,omitempty"`
	Rejections []payloadschema.Rejection `json:"rejections"`
	Feed       pipeline.Feed             `json:"feed"`
}

// NewServer builds the API server. store may be nil, in which case run
// history endpoints answer 503.
func NewServer(curator Curator, store RunStore, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	if opts.Port <= 0 {
		opts.Port = 8090
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 30 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Minute
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if strings.TrimSpace(opts.BodyLimit) == "" {
		opts.BodyLimit = defaultBodyLimit
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	opts.Host = host

	return &Server{
		curator: curator,
		store:   store,
		logger:  logger,
		opts:    opts,
	}
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.curator == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.routes()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().Str("addr", addr).Bool("history", s.store != nil).Msg("curator api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("curator api server stopped")
	return nil
}

func (s *Server) routes() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(echo.WrapMiddleware(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "curator-api")
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.opts.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:       3600,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := s.logger.Info()
			msg := "http request"
			if v.Error != nil {
				event = s.logger.Error().Err(v.Error)
				msg = "http request failed"
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg(msg)
			return nil
		},
	}))

	if s.opts.Gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.POST("/curate", s.handleCurate, middleware.BodyLimit(s.opts.BodyLimit), s.requireToken())
	api.GET("/runs", s.handleRuns)
	api.GET("/runs/:run_uuid", s.handleRunDetail)
	return e
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		if v, ok := he.Message.(string); ok && strings.TrimSpace(v) != "" {
			message = v
		} else if text := http.StatusText(status); text != "" {
			message = text
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}

func (s *Server) handleHealth(c echo.Context) error {
	database := "disabled"
	if s.store != nil {
		database = "ok"
		if err := s.store.Ping(c.Request().Context()); err != nil {
			s.logger.Warn().Err(err).Msg("database ping failed")
			database = "unreachable"
		}
	}
	return success(c, map[string]any{
		"service":  "curator",
		"time":     globaltime.UTC(),
		"database": database,
	})
}

func (s *Server) handleCurate(c echo.Context) error {
	limit, err := parsePositiveInt(c.QueryParam("limit"), 0, 0, 100_000)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not be read"})
	}
	batch, rejections, err := payloadschema.ValidateBatchPayload(body)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	ctx := c.Request().Context()
	feed := s.curator.Curate(ctx, pipeline.Request{
		Posts:     pipeline.PostsFromPayload(batch.Posts),
		Channels:  pipeline.ChannelsFromPayload(batch.Channels),
		Limit:     limit,
		Languages: splitQueryList(c.QueryParam("languages")),
		Malformed: len(rejections),
	})

	resp := curateResponse{Rejections: rejections, Feed: feed}
	if resp.Rejections == nil {
		resp.Rejections = []payloadschema.Rejection{}
	}
	logger := s.logger.With().Str("run_id", feed.Metadata.RunID).Logger()

	if s.store != nil {
		runUUID, err := s.store.SaveFeed(ctx, feed)
		if err != nil {
			logger.Error().Err(err).Msg("save feed failed")
			return internalError(c, "Failed to store feed")
		}
		resp.RunUUID = runUUID
	}
	if s.opts.Sink != nil {
		location, err := s.opts.Sink.Publish(ctx, storage.FeedKey(s.opts.FeedPrefix, feed), feed)
		if err != nil {
			logger.Error().Err(err).Msg("publish feed failed")
			return internalError(c, "Failed to publish feed")
		}
		resp.Location = location
	}

	return success(c, resp)
}

func (s *Server) handleRuns(c echo.Context) error {
	if s.store == nil {
		return failUnavailable(c, "Run history is not configured")
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), defaultRunPageSize, 1, maxRunPageSize)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	runs, err := s.store.ListRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list runs failed")
		return internalError(c, "Failed to load runs")
	}
	if runs == nil {
		runs = []db.RunSummary{}
	}
	return success(c, map[string]any{
		"items": runs,
		"limit": limit,
	})
}

func (s *Server) handleRunDetail(c echo.Context) error {
	if s.store == nil {
		return failUnavailable(c, "Run history is not configured")
	}
	runUUID := strings.TrimSpace(c.Param("run_uuid"))
	if _, err := uuid.Parse(runUUID); err != nil {
		return failValidation(c, map[string]string{"run_uuid": "must be a UUID"})
	}

	feed, err := s.store.GetRunFeed(c.Request().Context(), runUUID)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Run not found")
		}
		s.logger.Error().Err(err).Str("run_uuid", runUUID).Msg("load run failed")
		return internalError(c, "Failed to load run")
	}
	return success(c, feed)
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func splitQueryList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
