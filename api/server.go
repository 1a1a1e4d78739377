package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/avencia-dev/taskforge/pkg/config"
	"github.com/avencia-dev/taskforge/pkg/logger"
)

const defaultOpsShutdownTimeout = 10 * time.Second

// OpsServer hosts the operational HTTP surface every worker embeds:
// health probes, Prometheus metrics, and the admin JSON API.
type OpsServer struct {
	logg            *logger.Logger
	srv             *http.Server
	shutdownTimeout time.Duration
}

func NewOpsServer(cfg config.OpsConfig, logg *logger.Logger, handler http.Handler) *OpsServer {
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultOpsShutdownTimeout
	}
	return &OpsServer{
		logg: logg,
		srv: &http.Server{
			Addr:    ":" + cfg.Port,
			Handler: handler,
		},
		shutdownTimeout: timeout,
	}
}

// Run serves until the context is canceled, then drains open connections
// within the shutdown timeout.
func (s *OpsServer) Run(ctx context.Context) error {
	serveErr := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	if s.logg != nil {
		s.logg.Info(s.logg.WithField(ctx, "addr", s.srv.Addr), "ops listener started")
	}

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-serveErr
}
