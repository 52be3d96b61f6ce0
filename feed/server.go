package feed

import (
	"context"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	slogecho "github.com/samber/slog-echo"
	"gorm.io/gorm"
)

// Server exposes the feed, explain, transparency, and search HTTP APIs.
type Server struct {
	svc    *Service
	db     *gorm.DB
	logger *slog.Logger
	echo   *echo.Echo
}

func NewServer(svc *Service, db *gorm.DB, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:    svc,
		db:     db,
		logger: logger.With("system", "feed-api"),
	}
}

func (s *Server) RunAPI(listen string) error {
	s.logger.Info("configuring HTTP server")
	e := echo.New()
	e.HideBanner = true

	e.Use(slogecho.New(s.logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/_health", s.handleHealthCheck)
	e.GET("/feed", s.handleGetFeed)
	e.GET("/bundles", s.handleListBundles)
	e.GET("/algo/:bundle/why/:postId", s.handleExplain)
	e.GET("/transparency/log", s.handleTransparencyLog)
	e.GET("/search/posts", s.handleSearchPosts)
	e.GET("/admin/dead-letters", s.handleDeadLetters)
	s.echo = e

	s.logger.Info("starting feed API daemon", "bind", listen)
	return s.echo.Start(listen)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.echo != nil {
		if err := s.echo.Shutdown(ctx); err != nil {
			return err
		}
	}
	return s.svc.Shutdown(ctx)
}
