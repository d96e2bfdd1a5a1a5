package healthz

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ConnectivityChecker reports whether the upstream API is currently
// reachable. *upstreamclient.Client satisfies this.
type ConnectivityChecker interface {
	CheckConnectivity(ctx context.Context) bool
}

// Server serves /healthz (liveness + upstream readiness) and /metrics
// (Prometheus exposition format) on a dedicated listener, separate from
// any traffic the observed upstream or downstream resolver handle.
type Server struct {
	http *http.Server
	log  *zap.Logger
}

// New builds a healthz Server bound to addr. checker is consulted on
// every /healthz request; a nil checker makes /healthz a pure liveness
// probe that never fails.
func New(addr string, checker ConnectivityChecker, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	s := &Server{log: log.Named("healthz")}

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if checker == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if !checker.CheckConnectivity(ctx) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("upstream unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then gracefully shuts down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("health server shutdown error", zap.Error(err))
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}
