package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"univote/config"
	"univote/internal/handler"
	"univote/internal/middleware"
	"univote/internal/redis"
	"univote/internal/websocket"
	"univote/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Auth      *handler.AuthHandler
	Polls     *handler.PollHandler
	Votes     *handler.VoteHandler
	Results   *handler.ResultsHandler
	Health    *handler.HealthHandler
	WebSocket *websocket.Handler
}

func New(cfg *config.Config, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%s", cfg.AppPort),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		},
		engine: engine,
		config: cfg,
		logger: logger.OrNop(l),
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

// SetupRoutes mounts the API. limiter may be nil when Redis is not in use.
func (s *Server) SetupRoutes(handlers *Handlers, auth middleware.Authenticator, limiter *redis.RateLimiter) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.CORSMiddleware(s.config.CORSOrigins))
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", handlers.Health.Ping)
	s.engine.GET("/health", handlers.Health.Health)

	requireAuth := middleware.AuthMiddleware(auth)
	var authLimit, otpLimit, voteLimit gin.HandlerFunc = noop, noop, noop
	if limiter != nil {
		authLimit = middleware.AuthRateLimitMiddleware(limiter, s.logger)
		otpLimit = middleware.OTPRateLimitMiddleware(limiter, s.logger)
		voteLimit = middleware.VoteRateLimitMiddleware(limiter, s.logger)
	}

	v1 := s.engine.Group("/v1")

	authGroup := v1.Group("/auth")
	{
		authGroup.POST("/register", authLimit, handlers.Auth.Register)
		authGroup.POST("/register/invite", authLimit, handlers.Auth.RegisterWithInvitation)
		authGroup.POST("/login", authLimit, handlers.Auth.Login)
		authGroup.POST("/refresh", authLimit, handlers.Auth.Refresh)
		authGroup.GET("/invitations/:token", handlers.Auth.GetInvitation)
		authGroup.POST("/logout", requireAuth, handlers.Auth.Logout)
		authGroup.GET("/me", requireAuth, handlers.Auth.Me)
	}

	polls := v1.Group("/polls", requireAuth)
	{
		polls.GET("", handlers.Polls.List)
		polls.GET("/:id", handlers.Polls.Get)
		polls.GET("/:id/voted", handlers.Polls.HasVoted)
		polls.GET("/:id/results", handlers.Results.Results)
		polls.POST("/:id/flow", voteLimit, handlers.Votes.Start)
	}

	flows := v1.Group("/flows/:flowId", requireAuth, voteLimit)
	{
		flows.GET("", handlers.Votes.Get)
		flows.POST("/select", handlers.Votes.Select)
		flows.POST("/review", handlers.Votes.Review)
		flows.POST("/back", handlers.Votes.Back)
		flows.POST("/code", otpLimit, handlers.Votes.RequestCode)
		flows.POST("/code/resend", otpLimit, handlers.Votes.ResendCode)
		flows.POST("/verify", otpLimit, handlers.Votes.Verify)
		flows.POST("/submit", handlers.Votes.Submit)
		flows.POST("/abort", handlers.Votes.Abort)
	}

	admin := v1.Group("/admin", requireAuth, middleware.RequireAdmin())
	{
		admin.POST("/invitations", handlers.Auth.CreateInvitation)
		admin.GET("/invitations", handlers.Auth.ListInvitations)
		admin.POST("/polls", handlers.Polls.Create)
		admin.PATCH("/polls/:id/published", handlers.Polls.SetPublished)
		admin.POST("/polls/:id/close", handlers.Polls.Close)
		admin.DELETE("/polls/:id", handlers.Polls.Delete)
		admin.GET("/polls/:id/snapshot", handlers.Results.Snapshot)
	}

	if handlers.WebSocket != nil {
		v1.GET("/ws", handlers.WebSocket.Connect)
	}
}

func noop(c *gin.Context) { c.Next() }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		s.logger.Errorf("Error in starting the server: %s", err)
		return err
	case <-ctx.Done():
	}

	s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		return err
	}

	s.logger.Infof("Server stopped gracefully")
	return nil
}
