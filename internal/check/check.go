// Package check wraps a check module with its readiness policy and the
// revision it last ran at.
package check

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"qcflow/internal/config"
	"qcflow/internal/logger"
	"qcflow/internal/metrics"
	"qcflow/internal/models"
)

var ErrModulePanic = errors.New("check module panicked")

// Verdict is one quality object produced by a run, with the beautified
// object when the check reads exactly one.
type Verdict struct {
	Quality    *models.QualityObject
	Beautified *models.MonitorObject
}

// Check is one configured check. It is not safe for concurrent use; the
// runner guarantees a check is run by at most one goroutine at a time.
type Check struct {
	name       string
	moduleName string
	module     Module
	policyName string
	policy     Policy

	// Full names (task/object) of the declared inputs
	objectNames []string

	// Tasks whose every object is an input
	allTasks []string

	beautify bool

	// Global revision of the last run, 0 before the first one
	revision uint32

	last []*models.QualityObject
	log  zerolog.Logger
}

// New builds a check from its configuration and the module registry.
func New(cfg config.CheckConfig, reg *Registry) (*Check, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("%w: empty check name", config.ErrInvalidCheck)
	}

	c := &Check{
		name:       cfg.Name,
		moduleName: cfg.Module,
		policyName: cfg.Policy,
		log:        logger.WithCheck(cfg.Name),
	}

	for _, ds := range cfg.DataSource {
		if ds.Type != "" && ds.Type != config.DataSourceTask {
			return nil, fmt.Errorf("check %s: %w: type %q", cfg.Name, config.ErrInvalidDataSrc, ds.Type)
		}
		if len(ds.MOs) == 1 && ds.MOs[0] == config.AllObjects {
			c.allTasks = append(c.allTasks, ds.Name)
			continue
		}
		for _, mo := range ds.MOs {
			c.objectNames = append(c.objectNames, ds.Name+"/"+mo)
		}
	}

	if len(c.allTasks) > 0 {
		c.policyName = PolicyOnGlobalAny
	}
	policy, err := LookupPolicy(c.policyName)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", cfg.Name, err)
	}
	if c.policyName == "" {
		c.policyName = PolicyOnAny
	}
	c.policy = policy
	c.beautify = len(c.allTasks) == 0 && len(c.objectNames) == 1

	module, err := reg.New(cfg.Module)
	if err != nil {
		return nil, fmt.Errorf("check %s: %w", cfg.Name, err)
	}
	if err := module.Configure(cfg.Name, cfg.Parameters); err != nil {
		return nil, fmt.Errorf("check %s: configure %s: %w", cfg.Name, cfg.Module, err)
	}
	c.module = module

	c.log.Debug().
		Str("module", c.moduleName).
		Str("policy", c.policyName).
		Strs("objects", c.objectNames).
		Strs("all_tasks", c.allTasks).
		Bool("beautify", c.beautify).
		Msg("check configured")
	return c, nil
}

func (c *Check) Name() string                  { return c.name }
func (c *Check) Module() string                { return c.moduleName }
func (c *Check) Policy() string                { return c.policyName }
func (c *Check) ObjectNames() []string         { return c.objectNames }
func (c *Check) Revision() uint32              { return c.revision }
func (c *Check) Beautifies() bool              { return c.beautify }
func (c *Check) AllTasks() []string            { return c.allTasks }
func (c *Check) Last() []*models.QualityObject { return c.last }

// IsReady applies the check's policy to the revision map.
func (c *Check) IsReady(revisions map[string]uint32) bool {
	return c.policy(c.objectNames, c.revision, revisions)
}

// UpdateRevision records the revision the check last ran at.
func (c *Check) UpdateRevision(revision uint32) {
	c.revision = revision
}

// Run executes the module on the check's inputs. The revision map is only
// consulted by the OnEachSeparately policy, which runs the module once per
// object that changed since the last run. Run does not touch the check's
// revision; the caller advances it.
func (c *Check) Run(objects map[string]*models.MonitorObject, revisions map[string]uint32) (verdicts []Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicsRecovered.WithLabelValues("check").Inc()
			c.log.Error().Interface("panic", r).Msg("check module panicked")
			verdicts = nil
			err = fmt.Errorf("%w: %s: %v", ErrModulePanic, c.name, r)
		}
	}()

	selected := c.selectObjects(objects)
	if len(selected) == 0 {
		c.log.Debug().Msg("no accepted input objects, nothing to check")
		c.last = nil
		return nil, nil
	}

	if c.policyName == PolicyOnEachSeparately {
		for _, name := range sortedNames(selected) {
			if revisions[name] <= c.revision {
				continue
			}
			single := map[string]*models.MonitorObject{name: selected[name]}
			verdicts = append(verdicts, c.runOnce(single))
		}
	} else {
		verdicts = append(verdicts, c.runOnce(selected))
	}

	c.last = make([]*models.QualityObject, 0, len(verdicts))
	for _, v := range verdicts {
		c.last = append(c.last, v.Quality)
	}
	return verdicts, nil
}

func (c *Check) runOnce(objects map[string]*models.MonitorObject) Verdict {
	q := c.module.Check(objects)
	qo := models.NewQualityObject(c.name, q, sortedNames(objects))
	qo.Metadata = map[string]string{
		"module": c.moduleName,
		"policy": c.policyName,
	}

	v := Verdict{Quality: qo}
	if c.beautify && len(objects) == 1 {
		for _, mo := range objects {
			clone := mo.Clone()
			c.module.Beautify(clone, q)
			v.Beautified = clone
		}
	}

	c.log.Debug().
		Str("quality", q.String()).
		Strs("inputs", qo.Inputs).
		Msg("check executed")
	return v
}

func (c *Check) selectObjects(objects map[string]*models.MonitorObject) map[string]*models.MonitorObject {
	accepted := c.module.AcceptedType()
	selected := make(map[string]*models.MonitorObject)

	take := func(name string, mo *models.MonitorObject) {
		if mo == nil {
			return
		}
		if accepted != "" && !strings.HasPrefix(mo.ObjectType, accepted) {
			c.log.Debug().
				Str("object", name).
				Str("type", mo.ObjectType).
				Str("accepted", accepted).
				Msg("object type not accepted, skipping")
			return
		}
		selected[name] = mo
	}

	for _, name := range c.objectNames {
		take(name, objects[name])
	}
	if len(c.allTasks) > 0 {
		for name, mo := range objects {
			for _, task := range c.allTasks {
				if mo != nil && mo.TaskName == task {
					take(name, mo)
					break
				}
			}
		}
	}
	return selected
}

func sortedNames(objects map[string]*models.MonitorObject) []string {
	names := make([]string, 0, len(objects))
	for name := range objects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
