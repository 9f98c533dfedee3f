package metrics

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthStatus is the JSON body served on the health endpoint.
type HealthStatus struct {
	Status    string        `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Uptime    time.Duration `json:"uptime"`
}

// Server serves Prometheus metrics and a health endpoint on one
// listener, mirroring the teacher's metrics server shape but trimmed
// to what an overlay node needs: no pprof, no readiness/liveness
// split, since there is exactly one process role here.
type Server struct {
	listen      string
	metricsPath string
	healthPath  string
	startedAt   time.Time

	httpServer *http.Server
	registry   *prometheus.Registry
	healthy    int32
}

// NewServer creates a metrics server bound to its own private
// registry, pre-populated with the standard Go runtime collectors.
func NewServer(listen, metricsPath, healthPath string) *Server {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &Server{
		listen:      listen,
		metricsPath: metricsPath,
		healthPath:  healthPath,
		startedAt:   time.Now(),
		registry:    registry,
		healthy:     1,
	}
}

// MustRegister registers additional collectors, panicking on
// duplicate registration (a programmer error caught at startup).
func (s *Server) MustRegister(cs ...prometheus.Collector) {
	for _, c := range cs {
		s.registry.MustRegister(c)
	}
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	mux := http.NewServeMux()
	mux.HandleFunc(s.healthPath, s.handleHealth)
	mux.Handle(s.metricsPath, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	s.httpServer = &http.Server{
		Addr:         s.listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := HealthStatus{Timestamp: time.Now(), Uptime: time.Since(s.startedAt)}
	if atomic.LoadInt32(&s.healthy) == 1 {
		status.Status = "healthy"
	} else {
		status.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// SetHealthy toggles the health endpoint's reported status.
func (s *Server) SetHealthy(healthy bool) {
	if healthy {
		atomic.StoreInt32(&s.healthy, 1)
	} else {
		atomic.StoreInt32(&s.healthy, 0)
	}
}

// Stop shuts the server down within a bounded grace period.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.httpServer.Shutdown(ctx)
}
