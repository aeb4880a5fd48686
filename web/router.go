package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/util"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	activityJSON = "application/activity+json; charset=utf-8"
	// maxActivitySize bounds inbox POST bodies.
	maxActivitySize = 1 * 1024 * 1024
)

// Store is what the HTTP handlers read directly.
type Store interface {
	ReadAccByUsername(ctx context.Context, username string) (*domain.Account, error)
	CountAccounts(ctx context.Context, except string) (int, error)
	CountLocalNotes(ctx context.Context) (int, error)
}

// Deps are the federation components the server exposes.
type Deps struct {
	Store     Store
	Resolvers *activitypub.ResolverConfig
	Verifier  *activitypub.Verifier
	Kernel    *activitypub.Kernel
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

type Server struct {
	conf      *util.AppConfig
	deps      Deps
	urls      *activitypub.URLs
	global    *RateLimiter
	apLimiter *RateLimiter
	log       *log.Logger
}

func NewServer(conf *util.AppConfig, deps Deps) *Server {
	return &Server{
		conf: conf,
		deps: deps,
		urls: deps.Resolvers.URLs,
		// 10 requests per second per IP, burst of 20
		global: NewRateLimiter(rate.Limit(10), 20),
		// stricter for federation traffic
		apLimiter: NewRateLimiter(rate.Limit(5), 10),
		log:       log.WithPrefix("web"),
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("Request", "method", c.Request.Method, "path", c.Request.URL.Path, "status", c.Writer.Status(), "took", time.Since(start))
	}
}

// Handler builds the gin engine with every route.
func (s *Server) Handler() *gin.Engine {
	g := gin.New()
	g.Use(gin.Recovery(), s.requestLogger())
	g.Use(gzip.Gzip(gzip.DefaultCompression))
	g.Use(RateLimitMiddleware(s.global))

	if s.deps.Metrics != nil {
		g.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	g.GET("/.well-known/nodeinfo", s.handleNodeInfoLinks)
	g.GET("/nodeinfo/:version", s.handleNodeInfo)

	if !s.conf.Conf.WithAp {
		return g
	}

	g.GET("/.well-known/webfinger", s.handleWebfinger)

	ap := g.Group("/", RateLimitMiddleware(s.apLimiter))
	inbox := MaxBytesMiddleware(maxActivitySize)
	ap.POST("/inbox", inbox, s.handleInbox)
	ap.POST("/users/:actor/inbox", inbox, s.handleInbox)

	ap.GET("/users/:actor", s.handleObject)
	ap.GET("/notes/:id", s.handleObject)
	ap.GET("/notes/:id/activity", s.handleObject)
	ap.GET("/questions/:id", s.handleObject)
	ap.GET("/likes/:id", s.handleObject)
	ap.GET("/follows/:follower/:followee", s.handleObject)
	return g
}

// Run serves HTTP until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.conf.Conf.Host, s.conf.Conf.HttpPort)
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.global.Cleanup(ctx, 5*time.Minute)
	go s.apLimiter.Cleanup(ctx, 5*time.Minute)

	errs := make(chan error, 1)
	go func() {
		s.log.Info("Starting HTTP server", "addr", addr, "activitypub", s.conf.Conf.WithAp)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
