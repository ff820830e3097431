package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcflow/internal/alarm"
	"qcflow/internal/config"
	"qcflow/internal/expr"
	"qcflow/internal/models"
	"qcflow/internal/runner"
	"qcflow/internal/state"
	"qcflow/internal/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Node = "test"
	cfg.HTTP.Address = "127.0.0.1:0"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "qc.db")
	cfg.State.InMemory = true
	cfg.Runner.QueueSize = 8

	source := []config.DataSourceConfig{{Type: config.DataSourceTask, Name: "tpc", MOs: []string{"clusters"}}}
	cfg.Checks = []config.CheckConfig{
		{Name: "filled", Module: "NonEmpty", Policy: "OnAny", DataSource: source},
		{Name: "mean", Module: "MeanIsAbove", Policy: "OnAny", DataSource: source, Parameters: map[string]string{"threshold": "1"}},
	}
	cfg.Alarms = []config.AlarmConfig{
		{Name: "tpc", Condition: "Check:filled == Quality:Good & Check:mean != Quality:Bad"},
	}
	return cfg
}

type fixture struct {
	proc  *Processor
	repo  *storage.SQLiteRepository
	state *state.BadgerStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig(t)

	repo, err := storage.NewSQLite(cfg.Storage.Path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	st, err := state.OpenBadger(cfg.State)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p, err := New(cfg, WithRepository(repo), WithState(st))
	require.NoError(t, err)
	return &fixture{proc: p, repo: repo, state: st}
}

func clusters(bins ...float64) *models.Batch {
	return &models.Batch{
		ID:     "b",
		Source: "test",
		Objects: []*models.MonitorObject{{
			Name:       "clusters",
			TaskName:   "tpc",
			ObjectType: "TH1F",
			Bins:       bins,
			Entries:    4,
			Timestamp:  time.Now().UTC(),
		}},
	}
}

func TestNewRejectsBrokenConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Checks[0].Module = "Missing"
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Alarms[0].Condition = "Check:filled =="
	_, err = New(cfg)
	assert.Error(t, err)
}

func TestProcessBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.proc.ProcessBatch(ctx, clusters(0, 0, 4))
	require.NoError(t, err)

	assert.Equal(t, uint32(1), res.Cycle.Revision)
	assert.Equal(t, []string{"filled", "mean"}, res.Cycle.Executed)
	require.Len(t, res.Cycle.Verdicts, 2)
	require.Len(t, res.Alarms, 1)
	assert.Equal(t, "tpc", res.Alarms[0].AlarmName)
	assert.Equal(t, "True", res.Alarms[0].Result)

	history, err := f.repo.History(ctx, "mean", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, models.QualityGood, history[0].Quality)

	last, err := state.LastVerdict(ctx, f.state, "filled")
	require.NoError(t, err)
	assert.Equal(t, uint32(1), last.Revision)

	ev, err := state.LastAlarmEvent(ctx, f.state, "tpc")
	require.NoError(t, err)
	assert.Equal(t, "True", ev.Result)

	// mean drops below the threshold
	res, err = f.proc.ProcessBatch(ctx, clusters(4, 0, 0))
	require.NoError(t, err)
	require.Len(t, res.Alarms, 1)
	assert.Equal(t, "False", res.Alarms[0].Result)

	// no new data: nothing runs and alarms stay quiet
	res, err = f.proc.ProcessBatch(ctx, &models.Batch{ID: "empty"})
	require.NoError(t, err)
	assert.Empty(t, res.Cycle.Executed)
	assert.Empty(t, res.Alarms)

	n, err := f.repo.Count(ctx, "alarm_events")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	st := f.proc.Stats()
	assert.EqualValues(t, 3, st.Batches)
	assert.EqualValues(t, 2, st.AlarmEvents)
	assert.Equal(t, uint32(4), st.Revision)
	assert.Nil(t, st.Worker)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestRouter(t *testing.T) {
	f := newFixture(t)
	h := f.proc.Router()

	_, err := f.proc.ProcessBatch(context.Background(), clusters(0, 0, 4))
	require.NoError(t, err)

	rec := get(t, h, "/checks")
	require.Equal(t, http.StatusOK, rec.Code)
	var statuses []runner.CheckStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &statuses))
	require.Len(t, statuses, 2)
	assert.Equal(t, "filled", statuses[0].Name)

	rec = get(t, h, "/checks/mean")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"last_verdict"`)
	assert.Contains(t, rec.Body.String(), `"module":"MeanIsAbove"`)

	assert.Equal(t, http.StatusNotFound, get(t, h, "/checks/unknown").Code)

	rec = get(t, h, "/checks/mean/history?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)
	var history []*models.QualityObject
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &history))
	assert.Len(t, history, 1)
	assert.Equal(t, http.StatusBadRequest, get(t, h, "/checks/mean/history?limit=-1").Code)

	rec = get(t, h, "/alarms")
	require.Equal(t, http.StatusOK, rec.Code)
	var alarms []alarm.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alarms))
	require.Len(t, alarms, 1)
	assert.Equal(t, "True", alarms[0].Result)
	assert.True(t, alarms[0].Evaluated)

	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/ready").Code, "not ready before Run")
	assert.Equal(t, http.StatusOK, get(t, h, "/live").Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/health").Code)
	assert.Contains(t, get(t, h, "/stats").Body.String(), `"batches":1`)
	assert.Contains(t, get(t, h, "/metrics").Body.String(), "qcflow_cycles_total")
}

func TestIngestQueuesBatch(t *testing.T) {
	f := newFixture(t)
	h := f.proc.Router()

	body := `{"objects":[{"name":"clusters","task_name":"tpc","object_type":"TH1F","bins":[0,0,4],"entries":4,"timestamp":"` +
		time.Now().UTC().Format(time.RFC3339) + `"}]}`
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	require.Len(t, f.proc.batchChan, 1)
	res, err := f.proc.ProcessBatch(context.Background(), <-f.proc.batchChan)
	require.NoError(t, err)
	assert.Len(t, res.Cycle.Verdicts, 2)
}

func TestRunProcessesIngestedBatches(t *testing.T) {
	cfg := testConfig(t)
	p, err := New(cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, p.ready.Load, 2*time.Second, 10*time.Millisecond)

	p.batchChan <- clusters(0, 0, 4)
	require.Eventually(t, func() bool { return p.Stats().Batches == 1 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, p.ready.Load())
}

// failingAlarms reports one healthy event per cycle next to a broken condition.
type failingAlarms struct {
	calls atomic.Int32
}

func (f *failingAlarms) Evaluate(ctx context.Context, verdicts []*models.QualityObject) ([]*models.AlarmEvent, error) {
	f.calls.Add(1)
	ev := &models.AlarmEvent{
		ID:        uuid.NewString(),
		AlarmName: "healthy",
		Result:    "True",
		Condition: "Check:filled == Quality:Good",
		Timestamp: time.Now().UTC(),
	}
	return []*models.AlarmEvent{ev}, fmt.Errorf("%w: alarm broken: %w", alarm.ErrEvaluation, expr.ErrEmptyExpression)
}

func (f *failingAlarms) Statuses() []alarm.Status { return nil }
func (f *failingAlarms) Len() int                 { return 2 }

func TestProcessBatchBrokenAlarmKeepsHealthyEvents(t *testing.T) {
	cfg := testConfig(t)
	repo, err := storage.NewSQLite(cfg.Storage.Path)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	st, err := state.OpenBadger(cfg.State)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	p, err := New(cfg, WithRepository(repo), WithState(st), WithAlarms(&failingAlarms{}))
	require.NoError(t, err)

	ctx := context.Background()
	res, err := p.ProcessBatch(ctx, clusters(0, 0, 4))
	require.ErrorIs(t, err, alarm.ErrEvaluation)
	require.NotNil(t, res)
	require.Len(t, res.Alarms, 1)

	n, err := repo.Count(ctx, "alarm_events")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n, "healthy event is stored despite the error")

	ev, err := state.LastAlarmEvent(ctx, st, "healthy")
	require.NoError(t, err)
	assert.Equal(t, "True", ev.Result)
}

func TestRunStopsOnBrokenAlarm(t *testing.T) {
	alarms := &failingAlarms{}
	p, err := New(testConfig(t), WithAlarms(alarms))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- p.Run(context.Background()) }()
	require.Eventually(t, p.ready.Load, 2*time.Second, 10*time.Millisecond)

	p.batchChan <- clusters(0, 0, 4)
	p.batchChan <- clusters(4, 0, 0)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, alarm.ErrEvaluation)
		assert.ErrorIs(t, err, expr.ErrEmptyExpression)
	case <-time.After(5 * time.Second):
		t.Fatal("Run kept going after a broken alarm")
	}
	assert.False(t, p.ready.Load())
	assert.EqualValues(t, 1, alarms.calls.Load(), "queued batches are not drained into the broken alarm")
}
