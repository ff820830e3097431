// Package runner drives checks over incoming monitor objects. Each cycle
// merges the new objects, runs only the checks whose inputs changed and
// advances the global revision.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"qcflow/internal/check"
	"qcflow/internal/logger"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

var ErrDuplicateCheck = errors.New("check registered twice")

// CheckRunner owns the shared monitor object map, the revision state and the
// set of checks. Cycles are serialised.
type CheckRunner struct {
	mu          sync.Mutex
	checks      []*check.Check
	objects     map[string]*models.MonitorObject
	revisions   *Revisions
	parallelism int

	log zerolog.Logger

	// Stats
	cycles        atomic.Uint64
	received      atomic.Uint64
	executed      atomic.Uint64
	skipped       atomic.Uint64
	produced      atomic.Uint64
	failed        atomic.Uint64
	wraparounds   atomic.Uint64
	runDuration   atomic.Int64
	checkDuration atomic.Int64
	storeDuration atomic.Int64
}

// Config holds runner configuration
type Config struct {
	Checks []*check.Check

	// Ready checks run concurrently up to this limit, <= 1 runs them in order.
	Parallelism int
}

// CycleResult is what one cycle produced.
type CycleResult struct {
	Revision uint32
	Verdicts []check.Verdict
	Executed []string
	Skipped  int
	Wrapped  bool
	Duration time.Duration
}

// New creates a runner. Check names must be unique.
func New(cfg Config) (*CheckRunner, error) {
	seen := make(map[string]bool, len(cfg.Checks))
	for _, c := range cfg.Checks {
		if seen[c.Name()] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateCheck, c.Name())
		}
		seen[c.Name()] = true
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 1
	}

	r := &CheckRunner{
		checks:      cfg.Checks,
		objects:     make(map[string]*models.MonitorObject),
		revisions:   NewRevisions(),
		parallelism: cfg.Parallelism,
		log:         logger.WithComponent("check_runner"),
	}
	metrics.GlobalRevision.Set(float64(r.revisions.Global()))
	return r, nil
}

// Cycle merges objects into the shared map and runs every ready check once.
// A failing check is logged and counted; it still advances its revision so
// the same inputs are not offered again.
func (r *CheckRunner) Cycle(ctx context.Context, objects []*models.MonitorObject) (*CycleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	global := r.revisions.Global()

	for _, mo := range objects {
		if mo == nil {
			continue
		}
		name := mo.FullName()
		r.objects[name] = mo
		r.revisions.Stamp(name)
	}
	r.received.Add(uint64(len(objects)))

	revMap := r.revisions.Map()
	ready := make([]*check.Check, 0, len(r.checks))
	for _, c := range r.checks {
		if c.IsReady(revMap) {
			ready = append(ready, c)
		}
	}
	skipped := len(r.checks) - len(ready)

	checkStart := time.Now()
	perCheck, err := r.runReady(ctx, ready, revMap)
	if err != nil {
		return nil, err
	}
	r.checkDuration.Add(int64(time.Since(checkStart)))

	result := &CycleResult{
		Revision: global,
		Skipped:  skipped,
		Executed: make([]string, 0, len(ready)),
	}
	for i, c := range ready {
		c.UpdateRevision(global)
		result.Executed = append(result.Executed, c.Name())
		metrics.ChecksExecuted.WithLabelValues(c.Name()).Inc()

		for _, v := range perCheck[i] {
			v.Quality.Revision = global
			metrics.VerdictsTotal.WithLabelValues(c.Name(), v.Quality.Quality.String()).Inc()
			result.Verdicts = append(result.Verdicts, v)
		}
	}

	if r.revisions.Advance() {
		for _, c := range r.checks {
			c.UpdateRevision(0)
		}
		result.Wrapped = true
		r.wraparounds.Add(1)
		metrics.RevisionWraparounds.Inc()
		r.log.Warn().Msg("global revision wrapped around, every check was reset")
	}
	metrics.GlobalRevision.Set(float64(r.revisions.Global()))

	result.Duration = time.Since(start)
	r.cycles.Add(1)
	r.executed.Add(uint64(len(ready)))
	r.skipped.Add(uint64(skipped))
	r.produced.Add(uint64(len(result.Verdicts)))
	r.runDuration.Add(int64(result.Duration))

	metrics.CyclesTotal.Inc()
	metrics.ChecksSkipped.Add(float64(skipped))
	metrics.CycleDuration.Observe(result.Duration.Seconds())

	r.log.Debug().
		Uint32("revision", global).
		Int("objects", len(objects)).
		Int("executed", len(ready)).
		Int("skipped", skipped).
		Int("verdicts", len(result.Verdicts)).
		Dur("duration", result.Duration).
		Msg("cycle finished")
	return result, nil
}

// runReady returns the verdicts of ready[i] at index i.
func (r *CheckRunner) runReady(ctx context.Context, ready []*check.Check, revMap map[string]uint32) ([][]check.Verdict, error) {
	out := make([][]check.Verdict, len(ready))

	if r.parallelism <= 1 || len(ready) <= 1 {
		for i, c := range ready {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out[i] = r.runOne(c, revMap)
		}
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)
	for i, c := range ready {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = r.runOne(c, revMap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *CheckRunner) runOne(c *check.Check, revMap map[string]uint32) []check.Verdict {
	verdicts, err := c.Run(r.objects, revMap)
	if err != nil {
		r.failed.Add(1)
		r.log.Error().Err(err).Str("check", c.Name()).Msg("check failed")
		return nil
	}
	return verdicts
}

// RecordStore adds the time spent persisting a cycle's output to the stats.
func (r *CheckRunner) RecordStore(d time.Duration) {
	r.storeDuration.Add(int64(d))
}

// Checks returns the configured checks.
func (r *CheckRunner) Checks() []*check.Check { return r.checks }

// Revision returns the current global revision.
func (r *CheckRunner) Revision() uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revisions.Global()
}

// Object returns the latest version of the named monitor object.
func (r *CheckRunner) Object(fullName string) (*models.MonitorObject, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mo, ok := r.objects[fullName]
	return mo, ok
}

// CheckStatus is the externally visible state of one check.
type CheckStatus struct {
	Name     string   `json:"name"`
	Module   string   `json:"module"`
	Policy   string   `json:"policy"`
	Objects  []string `json:"objects"`
	Revision uint32   `json:"revision"`
	Last     []string `json:"last_quality,omitempty"`
}

// CheckStatuses snapshots every check between cycles.
func (r *CheckRunner) CheckStatuses() []CheckStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]CheckStatus, 0, len(r.checks))
	for _, c := range r.checks {
		st := CheckStatus{
			Name:     c.Name(),
			Module:   c.Module(),
			Policy:   c.Policy(),
			Objects:  c.ObjectNames(),
			Revision: c.Revision(),
		}
		for _, qo := range c.Last() {
			st.Last = append(st.Last, qo.Quality.String())
		}
		out = append(out, st)
	}
	return out
}

// Stats returns runner statistics
func (r *CheckRunner) Stats() Stats {
	return Stats{
		Cycles:          r.cycles.Load(),
		ObjectsReceived: r.received.Load(),
		ChecksExecuted:  r.executed.Load(),
		ChecksSkipped:   r.skipped.Load(),
		Verdicts:        r.produced.Load(),
		Failed:          r.failed.Load(),
		Wraparounds:     r.wraparounds.Load(),
		RunDuration:     time.Duration(r.runDuration.Load()),
		CheckDuration:   time.Duration(r.checkDuration.Load()),
		StoreDuration:   time.Duration(r.storeDuration.Load()),
	}
}

// Stats holds runner metrics
type Stats struct {
	Cycles          uint64        `json:"cycles"`
	ObjectsReceived uint64        `json:"objects_received"`
	ChecksExecuted  uint64        `json:"checks_executed"`
	ChecksSkipped   uint64        `json:"checks_skipped"`
	Verdicts        uint64        `json:"verdicts"`
	Failed          uint64        `json:"failed"`
	Wraparounds     uint64        `json:"wraparounds"`
	RunDuration     time.Duration `json:"run_duration_ns"`
	CheckDuration   time.Duration `json:"check_duration_ns"`
	StoreDuration   time.Duration `json:"store_duration_ns"`
}
