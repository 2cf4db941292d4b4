package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/dropDatabas3/keywarden/internal/observability/logger"
)

// Server envuelve http.Server con arranque y apagado atados a un contexto.
type Server struct {
	srv *stdhttp.Server
}

// NewServer crea el servidor con timeouts razonables para un servicio que
// solo sirve documentos chicos.
func NewServer(addr string, handler stdhttp.Handler) *Server {
	return &Server{
		srv: &stdhttp.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Run sirve hasta que ctx se cancele y después apaga con gracia.
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")

	errCh := make(chan error, 1)
	go func() {
		log.Info("servidor escuchando", logger.Addr(s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shCtx); err != nil {
		return err
	}
	log.Info("servidor apagado")
	return ctx.Err()
}
