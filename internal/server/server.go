// Package server exposes the session, dispatch, media and record store over
// HTTP with gin.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/logging"
	"github.com/zulandar/waybill/internal/media"
	"github.com/zulandar/waybill/internal/models"
	"github.com/zulandar/waybill/internal/records"
	"github.com/zulandar/waybill/internal/session"
)

// Session is the lifecycle surface the handlers use.
type Session interface {
	EnsureReady(ctx context.Context) (session.State, error)
	WaitForCode(ctx context.Context, maxAttempts int, interval time.Duration) (*session.PendingCode, error)
	Reset(ctx context.Context)
	Status() session.Status
}

// Dispatcher sends batches.
type Dispatcher interface {
	Send(ctx context.Context, recipients []dispatch.Recipient, opts dispatch.Options) (*dispatch.Summary, error)
}

// BatchHistory reads finished batches.
type BatchHistory interface {
	Recent(ctx context.Context, limit int) ([]models.DispatchBatch, error)
	Get(ctx context.Context, id string) (*models.DispatchBatch, error)
}

// Options holds the server's collaborators and settings. Session,
// Dispatcher, Media and Records are required.
type Options struct {
	Port             int
	Env              string
	Session          Session
	Dispatcher       Dispatcher
	History          BatchHistory
	Media            *media.Store
	Records          *records.Store
	CodePollAttempts int
	CodePollInterval time.Duration
	MaxUploadBytes   int64
	Logger           zerolog.Logger
	Out              io.Writer
}

// Server holds the handler dependencies.
type Server struct {
	sess         Session
	dispatcher   Dispatcher
	history      BatchHistory
	media        *media.Store
	records      *records.Store
	codeAttempts int
	codeInterval time.Duration
	maxUpload    int64
	log          zerolog.Logger
}

// New validates opts and builds a Server.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Session == nil:
		return nil, fmt.Errorf("server: session is required")
	case opts.Dispatcher == nil:
		return nil, fmt.Errorf("server: dispatcher is required")
	case opts.Media == nil:
		return nil, fmt.Errorf("server: media store is required")
	case opts.Records == nil:
		return nil, fmt.Errorf("server: record store is required")
	}
	s := &Server{
		sess:         opts.Session,
		dispatcher:   opts.Dispatcher,
		history:      opts.History,
		media:        opts.Media,
		records:      opts.Records,
		codeAttempts: opts.CodePollAttempts,
		codeInterval: opts.CodePollInterval,
		maxUpload:    opts.MaxUploadBytes,
		log:          logging.Component(opts.Logger, "server"),
	}
	if s.codeAttempts <= 0 {
		s.codeAttempts = 30
	}
	if s.codeInterval <= 0 {
		s.codeInterval = time.Second
	}
	return s, nil
}

// Router returns the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(requestLogger(s.log), gin.CustomRecovery(s.recovered), cors())
	if s.maxUpload > 0 {
		router.MaxMultipartMemory = s.maxUpload
	}
	registerRoutes(router, s)
	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts Options) error {
	s, err := New(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 3000
	}
	if opts.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Server running on port %d\n", opts.Port)
	}
	s.log.Info().Int("port", opts.Port).Str("env", opts.Env).Msg("listening")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// recovered turns a handler panic into a 500 JSON response.
func (s *Server) recovered(c *gin.Context, rec any) {
	s.log.Error().Interface("panic", rec).Str("path", c.Request.URL.Path).Msg("handler panic")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"success": false,
		"error":   "internal server error",
	})
}

func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := c.Writer.Status()
		ev := log.Debug()
		if status >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
