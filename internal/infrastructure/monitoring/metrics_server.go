package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// MetricsServer exposes the Prometheus registry over HTTP.
type MetricsServer struct {
	server *http.Server
	logger *zap.SugaredLogger
}

func NewMetricsServer(port int, logger *zap.Logger) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.Sugar().Named("metrics"),
	}
}

// Start serves in the background until Stop.
func (m *MetricsServer) Start() {
	go func() {
		m.logger.Infow("metrics server listening", "addr", m.server.Addr)
		if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.logger.Warnw("metrics server stopped", "error", err)
		}
	}()
}

func (m *MetricsServer) Stop(ctx context.Context) error {
	return m.server.Shutdown(ctx)
}
