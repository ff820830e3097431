package processor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qcflow/internal/handlers"
	"qcflow/internal/middleware"
	"qcflow/internal/runner"
	"qcflow/internal/state"
)

// initHTTPServer initializes the HTTP server with handlers
func (p *Processor) initHTTPServer() {
	p.httpServer = &http.Server{
		Addr:         p.cfg.HTTP.Address,
		Handler:      p.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Router returns the service's HTTP routes.
func (p *Processor) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery, middleware.Logging)

	r.Method(http.MethodPost, "/ingest", handlers.NewIngestHandler(handlers.IngestConfig{
		BatchChan:   p.batchChan,
		NodeID:      p.cfg.Node,
		MaxBodySize: p.cfg.HTTP.MaxBodySize,
	}))

	r.Get("/health", p.healthHandler)
	r.Get("/ready", p.readyHandler)
	r.Get("/live", p.liveHandler)
	r.Get("/stats", p.statsHandler)

	r.Get("/checks", p.checksHandler)
	r.Get("/checks/{name}", p.checkHandler)
	r.Get("/checks/{name}/history", p.historyHandler)
	r.Get("/alarms", p.alarmsHandler)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

type componentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components []componentHealth `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}

// healthHandler reports the state of the queues and the kafka producer. A
// full batch queue degrades, an unreachable producer fails.
func (p *Processor) healthHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Timestamp: time.Now().UTC()}

	queue := componentHealth{Name: "batch_queue", Status: "healthy"}
	if len(p.batchChan) == cap(p.batchChan) {
		queue.Status = "degraded"
		queue.Message = "batch queue full"
		resp.Status = "degraded"
	}
	resp.Components = append(resp.Components, queue)

	if p.producer != nil {
		kc := componentHealth{Name: "kafka_producer", Status: "healthy"}
		if err := p.producer.HealthCheck(ctx); err != nil {
			kc.Status = "unhealthy"
			kc.Message = err.Error()
			resp.Status = "unhealthy"
		}
		resp.Components = append(resp.Components, kc)
	}

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (p *Processor) readyHandler(w http.ResponseWriter, r *http.Request) {
	if !p.ready.Load() {
		http.Error(w, "not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (p *Processor) liveHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (p *Processor) statsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.Stats())
}

func (p *Processor) checksHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.runner.CheckStatuses())
}

// checkStatus adds the persisted last verdict to the live status.
type checkStatus struct {
	runner.CheckStatus
	LastVerdict any `json:"last_verdict,omitempty"`
}

func (p *Processor) checkHandler(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	for _, st := range p.runner.CheckStatuses() {
		if st.Name != name {
			continue
		}
		out := checkStatus{CheckStatus: st}
		qo, err := state.LastVerdict(r.Context(), p.state, name)
		switch {
		case err == nil:
			out.LastVerdict = qo
		case !errors.Is(err, state.ErrNotFound):
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, out)
		return
	}
	writeError(w, http.StatusNotFound, "unknown check "+name)
}

func (p *Processor) historyHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := p.repo.History(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, history)
}

func (p *Processor) alarmsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.alarms.Statuses())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"error":   message,
	})
}
