package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"qcflow/internal/expr"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

// Engine runs every configured alarm against the verdicts of one cycle.
type Engine struct {
	mu     sync.Mutex
	alarms []*Alarm
}

// Status is the externally visible state of one alarm.
type Status struct {
	Name      string    `json:"name"`
	Condition string    `json:"condition"`
	Result    string    `json:"result"`
	Evaluated bool      `json:"evaluated"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

func NewEngine(alarms ...*Alarm) *Engine {
	return &Engine{alarms: alarms}
}

// Refs indexes verdicts by the binding check values subscribe to. When a
// check produced several verdicts in one cycle the last one wins.
func Refs(verdicts []*models.QualityObject) map[string]expr.DataRef {
	refs := make(map[string]expr.DataRef, len(verdicts))
	for _, qo := range verdicts {
		if qo == nil {
			continue
		}
		name := expr.BindingName(qo.CheckName)
		refs[name] = expr.DataRef{Binding: name, Payload: qo, Received: qo.Timestamp}
	}
	return refs
}

// ErrEvaluation marks a broken condition tree. It is not a data problem and
// the owner of the engine must stop rather than keep publishing.
var ErrEvaluation = errors.New("alarm evaluation failed")

// Evaluate updates every alarm with verdicts and returns an event for each
// alarm that was re-evaluated. A broken alarm does not stop the others: their
// events are returned along with an error wrapping ErrEvaluation, so that
// every result visible in Statuses is also handed to the caller.
func (e *Engine) Evaluate(ctx context.Context, verdicts []*models.QualityObject) ([]*models.AlarmEvent, error) {
	if len(verdicts) == 0 {
		return nil, nil
	}
	refs := Refs(verdicts)

	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		events []*models.AlarmEvent
		errs   []error
	)
	for _, a := range e.alarms {
		if err := ctx.Err(); err != nil {
			return events, err
		}

		res, evaluated, err := a.Run(refs)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !evaluated {
			continue
		}
		metrics.AlarmResults.WithLabelValues(a.Name(), res.String()).Inc()
		events = append(events, a.Event())
	}
	if len(errs) > 0 {
		return events, fmt.Errorf("%w: %w", ErrEvaluation, errors.Join(errs...))
	}
	return events, nil
}

// Statuses snapshots all alarms.
func (e *Engine) Statuses() []Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]Status, 0, len(e.alarms))
	for _, a := range e.alarms {
		res, ok := a.Last()
		out = append(out, Status{
			Name:      a.Name(),
			Condition: a.Condition(),
			Result:    res.String(),
			Evaluated: ok,
			UpdatedAt: a.updatedAt,
		})
	}
	return out
}

// Len returns the number of alarms.
func (e *Engine) Len() int { return len(e.alarms) }
