// Package server is the HTTP transport for webhook signals.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rustyeddy/fxhook/engine"
	"github.com/rustyeddy/fxhook/journal"
	"go.uber.org/zap"
)

// Executor runs one raw webhook body.
type Executor interface {
	Handle(ctx context.Context, body []byte) (engine.Result, error)
}

// TradeLister serves GET /trades and GET /trades/:id.
type TradeLister interface {
	Recent(ctx context.Context, n int) ([]journal.TradeRecord, error)
	Get(ctx context.Context, id string) (journal.TradeRecord, error)
}

type Options struct {
	Addr            string
	WebhookSecret   string
	ShutdownTimeout time.Duration

	// Gatherer backs /metrics; nil disables the route.
	Gatherer prometheus.Gatherer
	Log      *zap.Logger
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}

type Server struct {
	opts   Options
	exec   Executor
	trades TradeLister
	log    *zap.Logger
	router *gin.Engine
}

func New(opts Options, exec Executor, trades TradeLister) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	s := &Server{
		opts:   opts,
		exec:   exec,
		trades: trades,
		log:    opts.Log.Named("http"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), s.accessLog())

	hook := g.Group("/", s.verifySignature())
	{
		hook.POST("/", s.Webhook())
		hook.POST("/webhook", s.Webhook())
	}

	g.GET("/healthz", s.Health())
	if s.trades != nil {
		g.GET("/trades", s.Trades())
		g.GET("/trades/:id", s.Trade())
	}
	if s.opts.Gatherer != nil {
		g.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return g
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", ln.Addr().String()))
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info("shutting down", zap.Duration("timeout", s.opts.ShutdownTimeout))
	sctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("remote", c.ClientIP()),
		)
	}
}
