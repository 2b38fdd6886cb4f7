package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"

	applogging "gitea.xscloud.ru/xscloud/staffsync/pkg/application/logging"
)

const shutdownTimeout = 5 * time.Second

// Server exposes /metrics over HTTP.
type Server struct {
	server *http.Server
	logger applogging.Logger
}

func NewServer(addr string, m *Metrics, logger applogging.Logger) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.GET("/metrics", gin.WrapH(m.Handler()))

	return &Server{
		server: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Run serves until ctx is done and then shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		done <- s.server.Shutdown(shutdownCtx)
	}()

	s.logger.WithField("addr", s.server.Addr).Info("serving metrics")
	err := s.server.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "metrics server")
	}
	if err = <-done; err != nil {
		s.logger.Error(errors.WithStack(err), "failed to shut down metrics server")
	}
	return nil
}

// requestLogger logs failed requests only.
func requestLogger(logger applogging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if status := c.Writer.Status(); status >= http.StatusBadRequest {
			logger.WithFields(applogging.Fields{
				"method":   c.Request.Method,
				"path":     c.Request.URL.Path,
				"status":   status,
				"duration": time.Since(start).String(),
			}).Info("http request")
		}
	}
}
