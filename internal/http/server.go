// README: Status API server; serves the router until the context ends.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"ridesim/internal/http/handlers"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	http   *http.Server
	logger *log.Logger
}

func NewServer(addr string, source handlers.StatusSource, logger *log.Logger) *Server {
	logger = logger.WithPrefix("status")
	return &Server{
		http:   &http.Server{Addr: addr, Handler: NewRouter(source, logger), ReadHeaderTimeout: 5 * time.Second},
		logger: logger,
	}
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("status api listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
