// Package metrics implements C12: Prometheus counters for the streaming
// core plus the /metrics and /healthz HTTP endpoints that serve them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the collectors the streaming core reports into.
type Metrics struct {
	recordsTotal       prometheus.Counter
	bucketsClosedTotal prometheus.Counter
	bytesWrittenTotal  prometheus.Counter
	resumesTotal       prometheus.Counter
	errorsTotal        *prometheus.CounterVec
}

// New constructs the collectors. Callers must Register them with a
// registry (or call Start, which registers against the default one)
// before scraping.
func New() *Metrics {
	return &Metrics{
		recordsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backup_records_total",
			Help: "total number of records consumed from the source topic",
		}),
		bucketsClosedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backup_buckets_closed_total",
			Help: "total number of bucket objects completed in storage",
		}),
		bytesWrittenTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backup_bytes_written_total",
			Help: "total number of bytes written to storage, post-compression",
		}),
		resumesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "backup_resumes_total",
			Help: "total number of buckets whose upload was resumed rather than opened fresh",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backup_errors_total",
			Help: "total number of errors encountered during backup, by operation",
		}, []string{"operation"}),
	}
}

// Register attaches every collector to reg.
func (m *Metrics) Register(reg prometheus.Registerer) {
	reg.MustRegister(m.recordsTotal, m.bucketsClosedTotal, m.bytesWrittenTotal, m.resumesTotal, m.errorsTotal)
}

// CountRecord records one consumed record.
func (m *Metrics) CountRecord() {
	m.recordsTotal.Inc()
}

// CountBucketClosed records one completed bucket object of size bytes.
func (m *Metrics) CountBucketClosed(bytes int64) {
	m.bucketsClosedTotal.Inc()
	m.bytesWrittenTotal.Add(float64(bytes))
}

// CountResume records a bucket whose upload was resumed.
func (m *Metrics) CountResume() {
	m.resumesTotal.Inc()
}

// CountError increases the error counter for op.
func (m *Metrics) CountError(op string) {
	m.errorsTotal.With(prometheus.Labels{"operation": op}).Inc()
}

// Serve starts the /metrics and /healthz HTTP server on addr and blocks
// until ctx is cancelled, then shuts the server down gracefully.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	reg := prometheus.NewRegistry()
	m.Register(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		log.Infow("starting metrics server", "addr", addr)
		errc <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
