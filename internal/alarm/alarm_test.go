package alarm

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcflow/internal/expr"
	"qcflow/internal/expr/parser"
	"qcflow/internal/logger"
	"qcflow/internal/models"
)

func verdict(check string, q models.Quality) *models.QualityObject {
	return models.NewQualityObject(check, q, []string{"task/" + check})
}

func TestNewValidation(t *testing.T) {
	_, err := New("", "Quality:Good == Quality:Good", 0)
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = New("a", "", 0)
	assert.ErrorIs(t, err, ErrEmptyCondition)

	_, err = New("a", "Check:x == Quality:Great", 0)
	assert.ErrorIs(t, err, parser.ErrSyntax)
	assert.Contains(t, err.Error(), "Great")
}

func TestInputsAreDeduplicated(t *testing.T) {
	a, err := New("dup", "Check:taskA == Quality:Good | Check:taskA == Quality:Medium & Check:taskB != Quality:Bad", 0)
	require.NoError(t, err)

	inputs := a.Inputs()
	require.Len(t, inputs, 2)
	assert.Equal(t, expr.BindingName("taskA"), inputs[0].Name)
	assert.Equal(t, "taskA", inputs[0].Source)
	assert.Equal(t, expr.BindingName("taskB"), inputs[1].Name)

	// both taskA leaves listen on the same binding
	assert.Len(t, a.updateMap[expr.BindingName("taskA")], 2)
}

func TestRunOnlyEvaluatesWithData(t *testing.T) {
	a, err := New("pair", "Check:taskA == Quality:Good & Check:taskB != Quality:Bad", 0)
	require.NoError(t, err)

	res, evaluated, err := a.Run(nil)
	require.NoError(t, err)
	assert.False(t, evaluated)
	assert.Equal(t, expr.Undefined, res)

	res, evaluated, err = a.Run(Refs([]*models.QualityObject{verdict("taskA", models.QualityGood)}))
	require.NoError(t, err)
	assert.True(t, evaluated)
	assert.Equal(t, expr.Undefined, res, "taskB has not reported yet")

	res, evaluated, err = a.Run(Refs([]*models.QualityObject{verdict("taskB", models.QualityMedium)}))
	require.NoError(t, err)
	assert.True(t, evaluated)
	assert.Equal(t, expr.True, res)

	res, evaluated, err = a.Run(Refs([]*models.QualityObject{verdict("unrelated", models.QualityBad)}))
	require.NoError(t, err)
	assert.False(t, evaluated)
	assert.Equal(t, expr.True, res, "last result is kept")

	res, _, err = a.Run(Refs([]*models.QualityObject{verdict("taskB", models.QualityBad)}))
	require.NoError(t, err)
	assert.Equal(t, expr.False, res)

	last, ok := a.Last()
	assert.True(t, ok)
	assert.Equal(t, expr.False, last)
}

func TestRunRejectsUnexpectedPayload(t *testing.T) {
	a, err := New("bad-payload", "Check:taskA == Quality:Good", 0)
	require.NoError(t, err)

	name := expr.BindingName("taskA")
	_, _, err = a.Run(map[string]expr.DataRef{name: {Binding: name, Payload: "Good"}})
	assert.ErrorIs(t, err, expr.ErrUnexpectedData)
}

func TestRunLifetimeOutdated(t *testing.T) {
	a, err := New("stale", "Check:taskA == Quality:Good", time.Minute)
	require.NoError(t, err)

	old := verdict("taskA", models.QualityGood)
	old.Timestamp = time.Now().Add(-time.Hour)

	res, evaluated, err := a.Run(Refs([]*models.QualityObject{old}))
	require.NoError(t, err)
	assert.True(t, evaluated)
	assert.Equal(t, expr.Outdated, res)

	res, _, err = a.Run(Refs([]*models.QualityObject{verdict("taskA", models.QualityGood)}))
	require.NoError(t, err)
	assert.Equal(t, expr.True, res)
}

func TestRunLogsResult(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(&bytes.Buffer{})

	a, err := New("logged", "Check:taskA == Quality:Good", 0)
	require.NoError(t, err)

	_, _, err = a.Run(Refs([]*models.QualityObject{verdict("taskA", models.QualityBad)}))
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "ALARM: False")
	assert.Contains(t, buf.String(), `"alarm":"logged"`)
}

func TestEvent(t *testing.T) {
	a, err := New("evt", "Check:taskA >= Quality:Medium", 0)
	require.NoError(t, err)

	_, _, err = a.Run(Refs([]*models.QualityObject{verdict("taskA", models.QualityGood)}))
	require.NoError(t, err)

	ev := a.Event()
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, "evt", ev.AlarmName)
	assert.Equal(t, "True", ev.Result)
	assert.Equal(t, "Check:taskA >= Quality:Medium", ev.Condition)
	assert.False(t, ev.Timestamp.IsZero())
}

func TestEngineEvaluate(t *testing.T) {
	a, err := New("a", "Check:taskA == Quality:Good", 0)
	require.NoError(t, err)
	b, err := New("b", "Check:taskB == Quality:Good", 0)
	require.NoError(t, err)
	engine := NewEngine(a, b)
	assert.Equal(t, 2, engine.Len())

	events, err := engine.Evaluate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = engine.Evaluate(context.Background(), []*models.QualityObject{
		verdict("taskA", models.QualityBad),
		verdict("taskA", models.QualityGood),
	})
	require.NoError(t, err)
	require.Len(t, events, 1, "only alarm a has fresh inputs")
	assert.Equal(t, "a", events[0].AlarmName)
	assert.Equal(t, "True", events[0].Result, "last verdict of a check wins")

	statuses := engine.Statuses()
	require.Len(t, statuses, 2)
	assert.True(t, statuses[0].Evaluated)
	assert.Equal(t, "True", statuses[0].Result)
	assert.False(t, statuses[1].Evaluated)
	assert.Equal(t, "Undefined", statuses[1].Result)
}

func TestEngineEvaluateCancelled(t *testing.T) {
	a, err := New("a", "Check:taskA == Quality:Good", 0)
	require.NoError(t, err)
	engine := NewEngine(a)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = engine.Evaluate(ctx, []*models.QualityObject{verdict("taskA", models.QualityGood)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEngineEvaluateBrokenAlarm(t *testing.T) {
	a, err := New("a", "Check:taskA == Quality:Good", 0)
	require.NoError(t, err)
	broken, err := New("broken", "Check:taskA != Quality:Bad", 0)
	require.NoError(t, err)
	broken.expression = &expr.Expression{}
	c, err := New("c", "Check:taskA > Quality:Medium", 0)
	require.NoError(t, err)
	engine := NewEngine(a, broken, c)

	events, err := engine.Evaluate(context.Background(), []*models.QualityObject{verdict("taskA", models.QualityGood)})
	require.ErrorIs(t, err, ErrEvaluation)
	assert.ErrorIs(t, err, expr.ErrEmptyExpression)
	assert.Contains(t, err.Error(), "alarm broken")

	require.Len(t, events, 2, "healthy alarms still report")
	assert.Equal(t, "a", events[0].AlarmName)
	assert.Equal(t, "c", events[1].AlarmName)

	statuses := engine.Statuses()
	assert.True(t, statuses[0].Evaluated)
	assert.False(t, statuses[1].Evaluated, "broken alarm keeps no result")
	assert.Equal(t, "Undefined", statuses[1].Result)
	assert.True(t, statuses[2].Evaluated)
}
