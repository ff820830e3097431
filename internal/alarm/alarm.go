// Package alarm evaluates boolean conditions over the verdicts of checks.
package alarm

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"qcflow/internal/expr"
	"qcflow/internal/expr/parser"
	"qcflow/internal/logger"
	"qcflow/internal/models"
)

var (
	ErrEmptyName      = errors.New("alarm name cannot be empty")
	ErrEmptyCondition = errors.New("alarm condition cannot be empty")
)

// Alarm owns one parsed condition and the values it reads.
type Alarm struct {
	name      string
	condition string

	expression *expr.Expression
	values     []expr.Value

	// binding -> values that need its data
	updateMap map[string][]expr.Value
	inputs    []expr.Binding

	last      expr.Result
	evaluated bool
	updatedAt time.Time

	log zerolog.Logger
}

// New parses condition. A lifetime > 0 marks values older than it as Outdated.
func New(name, condition string, lifetime time.Duration) (*Alarm, error) {
	if name == "" {
		return nil, ErrEmptyName
	}
	if condition == "" {
		return nil, fmt.Errorf("alarm %s: %w", name, ErrEmptyCondition)
	}

	root, values, err := parser.Parse(condition)
	if err != nil {
		return nil, fmt.Errorf("alarm %s: %w", name, err)
	}
	if lifetime > 0 {
		root.ApplyLifetime(lifetime)
	}

	a := &Alarm{
		name:       name,
		condition:  condition,
		expression: root,
		values:     values,
		updateMap:  make(map[string][]expr.Value),
		last:       expr.Undefined,
		log:        logger.WithAlarm(name),
	}
	a.gatherInputs()
	return a, nil
}

func (a *Alarm) gatherInputs() {
	seen := make(map[expr.Binding]bool)
	for _, v := range a.values {
		for _, in := range v.Inputs() {
			a.updateMap[in.Name] = append(a.updateMap[in.Name], v)
			if !seen[in] {
				seen[in] = true
				a.inputs = append(a.inputs, in)
			}
		}
	}
	a.log.Debug().
		Int("values", len(a.values)).
		Int("inputs", len(a.inputs)).
		Msg("alarm inputs gathered")
}

func (a *Alarm) Name() string                 { return a.name }
func (a *Alarm) Condition() string            { return a.condition }
func (a *Alarm) Expression() *expr.Expression { return a.expression }
func (a *Alarm) Inputs() []expr.Binding       { return a.inputs }

// Last returns the most recent result and whether the alarm was ever evaluated.
func (a *Alarm) Last() (expr.Result, bool) { return a.last, a.evaluated }

// Run feeds the data present in refs to the values that need it. The
// condition is evaluated only if at least one input carried data; the
// second return value reports whether that happened.
func (a *Alarm) Run(refs map[string]expr.DataRef) (expr.Result, bool, error) {
	update := false
	for _, in := range a.inputs {
		ref, ok := refs[in.Name]
		if !ok || ref.Payload == nil {
			continue
		}
		update = true
		for _, v := range a.updateMap[in.Name] {
			if err := v.Update(ref); err != nil {
				return expr.Undefined, false, fmt.Errorf("alarm %s: %w", a.name, err)
			}
		}
	}

	if !update {
		return a.last, false, nil
	}

	res, err := a.expression.Eval()
	if err != nil {
		return expr.Undefined, false, fmt.Errorf("alarm %s: %w", a.name, err)
	}

	a.last = res
	a.evaluated = true
	a.updatedAt = time.Now().UTC()
	a.log.Info().Str("result", res.String()).Msgf("ALARM: %s", res)
	return res, true, nil
}

// Event describes the last evaluation.
func (a *Alarm) Event() *models.AlarmEvent {
	ts := a.updatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &models.AlarmEvent{
		ID:        uuid.NewString(),
		AlarmName: a.name,
		Result:    a.last.String(),
		Condition: a.condition,
		Timestamp: ts,
	}
}
