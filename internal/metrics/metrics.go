// Package metrics exposes the Prometheus instrumentation for a
// detection session and a minimal HTTP server for scrapes and health
// checks.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesPulled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidecap_frames_pulled_total",
		Help: "Frames pulled from the source.",
	})

	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecap_frames_dropped_total",
		Help: "Frames discarded before detection, by reason.",
	}, []string{"reason"})

	DecodeFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidecap_decode_failures_total",
		Help: "Frame pulls that failed to decode.",
	})

	SlidesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidecap_slides_emitted_total",
		Help: "Accepted slides emitted to sinks.",
	})

	CandidateResets = promauto.NewCounter(prometheus.CounterOpts{
		Name: "slidecap_candidate_resets_total",
		Help: "Candidate slides replaced because they were still changing.",
	})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "slidecap_sink_errors_total",
		Help: "Slide deliveries that failed, by sink.",
	}, []string{"sink"})

	SimilarityScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "slidecap_similarity_score",
		Help:    "Similarity scores of observed frames against the baseline.",
		Buckets: prometheus.LinearBuckets(0, 0.05, 21),
	})

	SessionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "slidecap_session_state",
		Help: "Detection session state (0=idle, 1=running, 2=paused, 3=stopped).",
	})
)

// Server serves /metrics and /healthz.
type Server struct {
	srv *http.Server
}

// NewServer builds the server on the given listen address.
func NewServer(addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return &Server{srv: &http.Server{Addr: addr, Handler: mux}}
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
