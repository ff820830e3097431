package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

// SourceHTTP labels batches received on the ingest endpoint.
const SourceHTTP = "http"

// IngestHandler accepts monitor objects over HTTP and queues them for the
// scheduler as one batch per request.
type IngestHandler struct {
	batchChan chan<- *models.Batch

	// Node identifier for tracking
	nodeID string

	// Batch counter for generating batch IDs
	batchCounter uint64

	// Max body size (default 10MB)
	maxBodySize int64
}

// IngestConfig holds configuration for the ingest handler
type IngestConfig struct {
	BatchChan   chan<- *models.Batch
	NodeID      string
	MaxBodySize int64
}

// NewIngestHandler creates a new ingest handler
func NewIngestHandler(cfg IngestConfig) *IngestHandler {
	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID, _ = os.Hostname()
		if nodeID == "" {
			nodeID = "unknown"
		}
	}

	maxBodySize := cfg.MaxBodySize
	if maxBodySize == 0 {
		maxBodySize = 10 * 1024 * 1024 // 10MB default
	}

	return &IngestHandler{
		batchChan:   cfg.BatchChan,
		nodeID:      nodeID,
		maxBodySize: maxBodySize,
	}
}

// IngestResponse is the response returned to clients
type IngestResponse struct {
	Success  bool          `json:"success"`
	BatchID  string        `json:"batch_id,omitempty"`
	Accepted int           `json:"accepted"`
	Rejected int           `json:"rejected"`
	Errors   []IngestError `json:"errors,omitempty"`
}

// IngestError describes a validation error for a specific object
type IngestError struct {
	Index  int    `json:"index"`
	Object string `json:"object,omitempty"`
	Error  string `json:"error"`
}

// ServeHTTP handles the ingest HTTP request
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType != "application/json" && contentType != "" {
		h.writeError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodySize)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	inputs, err := models.DecodeInputs(body)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	metrics.IngestBatchSize.Observe(float64(len(inputs)))

	batch, response := h.buildBatch(inputs)
	if len(batch.Objects) > 0 {
		// Non-blocking: a full queue rejects the whole request
		select {
		case h.batchChan <- batch:
			metrics.MonitorObjectsReceived.WithLabelValues(SourceHTTP, "accepted").Add(float64(len(batch.Objects)))
		default:
			metrics.MonitorObjectsReceived.WithLabelValues(SourceHTTP, "dropped").Add(float64(len(batch.Objects)))
			h.writeError(w, http.StatusServiceUnavailable, "internal queue full, try again later")
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if response.Accepted == 0 {
		w.WriteHeader(http.StatusBadRequest)
	} else {
		w.WriteHeader(http.StatusAccepted)
	}
	json.NewEncoder(w).Encode(response)
}

// buildBatch converts, normalizes and validates every input.
func (h *IngestHandler) buildBatch(inputs []models.MonitorObjectInput) (*models.Batch, IngestResponse) {
	batch := &models.Batch{
		ID:         h.generateBatchID(),
		Source:     SourceHTTP,
		ReceivedAt: time.Now().UTC(),
		Objects:    make([]*models.MonitorObject, 0, len(inputs)),
	}
	response := IngestResponse{BatchID: batch.ID}

	for i, input := range inputs {
		mo, err := input.ToMonitorObject()
		if err != nil {
			response.Errors = append(response.Errors, IngestError{
				Index:  i,
				Object: input.TaskName + "/" + input.Name,
				Error:  err.Error(),
			})
			response.Rejected++
			metrics.MonitorObjectsReceived.WithLabelValues(SourceHTTP, "rejected").Inc()
			metrics.IngestValidationErrors.WithLabelValues(models.ValidationErrorType(err)).Inc()
			continue
		}
		batch.Objects = append(batch.Objects, mo)
		response.Accepted++
	}

	response.Success = response.Rejected == 0
	return batch, response
}

// generateBatchID generates a unique batch ID
func (h *IngestHandler) generateBatchID() string {
	counter := atomic.AddUint64(&h.batchCounter, 1)
	return fmt.Sprintf("%s-%d-%d", h.nodeID, time.Now().UnixNano(), counter)
}

// writeError writes an error response
func (h *IngestHandler) writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   message,
	})
}
