package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcflow/internal/models"
)

func newHandler(capacity int) (*IngestHandler, chan *models.Batch) {
	ch := make(chan *models.Batch, capacity)
	return NewIngestHandler(IngestConfig{BatchChan: ch, NodeID: "test-node"}), ch
}

func post(h http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) IngestResponse {
	t.Helper()
	var resp IngestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

var now = time.Now().UTC().Format(time.RFC3339)

func TestIngestFormats(t *testing.T) {
	obj := `{"name":"clusters","task_name":"tpc","object_type":"TH1F","entries":1,"timestamp":"` + now + `"}`

	tests := []struct {
		name string
		body string
		want int
	}{
		{"single wrapped", `{"object":` + obj + `}`, 1},
		{"batch", `{"objects":[` + obj + `,` + obj + `]}`, 2},
		{"bare array", `[` + obj + `]`, 1},
		{"bare object", obj, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ch := newHandler(1)
			rec := post(h, tt.body)

			assert.Equal(t, http.StatusAccepted, rec.Code)
			resp := decode(t, rec)
			assert.True(t, resp.Success)
			assert.Equal(t, tt.want, resp.Accepted)

			batch := <-ch
			assert.Equal(t, resp.BatchID, batch.ID)
			assert.Equal(t, SourceHTTP, batch.Source)
			assert.Len(t, batch.Objects, tt.want)
			assert.True(t, strings.HasPrefix(batch.ID, "test-node-"))
		})
	}
}

func TestIngestPartialRejection(t *testing.T) {
	h, ch := newHandler(1)
	body := `{"objects":[
		{"name":"ok","task_name":"tpc","object_type":"TH1F","timestamp":"` + now + `"},
		{"name":"no-task","object_type":"TH1F","timestamp":"` + now + `"},
		{"name":"bad-time","task_name":"tpc","object_type":"TH1F","timestamp":"yesterday"}
	]}`

	rec := post(h, body)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	resp := decode(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, 1, resp.Accepted)
	assert.Equal(t, 2, resp.Rejected)
	require.Len(t, resp.Errors, 2)
	assert.Equal(t, 1, resp.Errors[0].Index)
	assert.Contains(t, resp.Errors[0].Error, "task name")
	assert.Equal(t, "tpc/bad-time", resp.Errors[1].Object)

	batch := <-ch
	require.Len(t, batch.Objects, 1)
	assert.Equal(t, "tpc/ok", batch.Objects[0].FullName())
}

func TestIngestAllRejected(t *testing.T) {
	h, ch := newHandler(1)
	rec := post(h, `{"object":{"name":"x","task_name":"tpc","timestamp":"`+now+`"}}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, decode(t, rec).Rejected)
	assert.Empty(t, ch, "nothing is queued when every object is rejected")
}

func TestIngestErrors(t *testing.T) {
	h, _ := newHandler(1)

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "text/plain")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rec.Code)

	rec = post(h, `{"unrelated":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "expected monitor object")

	small := NewIngestHandler(IngestConfig{BatchChan: make(chan *models.Batch, 1), MaxBodySize: 8})
	rec = post(small, `{"object":{"name":"too long for the limit"}}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestIngestQueueFull(t *testing.T) {
	h, _ := newHandler(0)
	rec := post(h, `{"name":"a","task_name":"tpc","object_type":"TH1F","timestamp":"`+now+`"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "queue full")
}
