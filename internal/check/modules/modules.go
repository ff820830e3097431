// Package modules holds the check modules linked into qcflow.
package modules

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"qcflow/internal/check"
	"qcflow/internal/models"
)

// Module ids usable in check configuration.
const (
	NonEmptyID       = "NonEmpty"
	MeanIsAboveID    = "MeanIsAbove"
	EverIncreasingID = "EverIncreasing"
	BinRangeID       = "BinRange"
	FixedID          = "Fixed"
)

var (
	ErrMissingParameter = errors.New("missing module parameter")
	ErrInvalidParameter = errors.New("invalid module parameter")
)

// RegisterBuiltins adds every module of this package to reg.
func RegisterBuiltins(reg *check.Registry) {
	reg.Register(NonEmptyID, func() check.Module { return &NonEmpty{} })
	reg.Register(MeanIsAboveID, func() check.Module { return &MeanIsAbove{} })
	reg.Register(EverIncreasingID, func() check.Module { return &EverIncreasing{} })
	reg.Register(BinRangeID, func() check.Module { return &BinRange{} })
	reg.Register(FixedID, func() check.Module { return &Fixed{} })
}

// NewRegistry returns a registry holding the built-in modules.
func NewRegistry() *check.Registry {
	reg := check.NewRegistry()
	RegisterBuiltins(reg)
	return reg
}

// base keeps the raw parameters every module is configured with.
type base struct {
	params map[string]string
}

func (b *base) configure(params map[string]string) {
	b.params = params
}

func (b *base) floatParam(key string) (float64, bool, error) {
	raw, ok := b.params[key]
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, true, fmt.Errorf("%w %s=%q: %v", ErrInvalidParameter, key, raw, err)
	}
	return v, true, nil
}

func (b *base) intParam(key string, def int) (int, error) {
	raw, ok := b.params[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w %s=%q: %v", ErrInvalidParameter, key, raw, err)
	}
	return v, nil
}

// colorize paints an object the way the QC GUI expects.
func colorize(mo *models.MonitorObject, q models.Quality) {
	switch q {
	case models.QualityGood:
		mo.Annotate("fill_color", "green")
	case models.QualityMedium:
		mo.Annotate("fill_color", "orange")
	case models.QualityBad:
		mo.Annotate("fill_color", "red")
	default:
		return
	}
	mo.Annotate("line_color", "black")
	mo.Annotate("quality", q.String())
}

// NonEmpty is Good when every object has at least one entry.
type NonEmpty struct{ base }

func (m *NonEmpty) Configure(name string, params map[string]string) error {
	m.configure(params)
	return nil
}

func (m *NonEmpty) Check(objects map[string]*models.MonitorObject) models.Quality {
	for _, mo := range objects {
		if mo.Entries <= 0 {
			return models.QualityBad
		}
	}
	return models.QualityGood
}

func (m *NonEmpty) AcceptedType() string { return "" }

func (m *NonEmpty) Beautify(mo *models.MonitorObject, q models.Quality) { colorize(mo, q) }

// MeanIsAbove is Good when the mean of every histogram exceeds threshold.
type MeanIsAbove struct {
	base
	threshold float64
}

func (m *MeanIsAbove) Configure(name string, params map[string]string) error {
	m.configure(params)
	v, ok, err := m.floatParam("threshold")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: threshold", ErrMissingParameter)
	}
	m.threshold = v
	return nil
}

func (m *MeanIsAbove) Check(objects map[string]*models.MonitorObject) models.Quality {
	for _, mo := range objects {
		if mo.Mean() <= m.threshold {
			return models.QualityBad
		}
	}
	return models.QualityGood
}

func (m *MeanIsAbove) AcceptedType() string { return "TH1" }

func (m *MeanIsAbove) Beautify(mo *models.MonitorObject, q models.Quality) {
	colorize(mo, q)
	mo.Annotate("threshold", strconv.FormatFloat(m.threshold, 'g', -1, 64))
}

// EverIncreasing is Good while no object's entry count went down since the
// previous run. The first sighting of an object is Good.
type EverIncreasing struct {
	base

	mu   sync.Mutex
	seen map[string]float64
}

func (m *EverIncreasing) Configure(name string, params map[string]string) error {
	m.configure(params)
	m.seen = make(map[string]float64)
	return nil
}

func (m *EverIncreasing) Check(objects map[string]*models.MonitorObject) models.Quality {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := models.QualityGood
	for name, mo := range objects {
		if prev, ok := m.seen[name]; ok && mo.Entries < prev {
			result = models.QualityBad
		}
		m.seen[name] = mo.Entries
	}
	return result
}

func (m *EverIncreasing) AcceptedType() string { return "" }

func (m *EverIncreasing) Beautify(mo *models.MonitorObject, q models.Quality) { colorize(mo, q) }

// Fixed always answers the configured quality. Useful to drive alarms in
// tests and during commissioning.
type Fixed struct {
	base
	quality models.Quality
}

func (m *Fixed) Configure(name string, params map[string]string) error {
	m.configure(params)
	raw, ok := params["quality"]
	if !ok {
		return fmt.Errorf("%w: quality", ErrMissingParameter)
	}
	q, err := models.ParseQuality(raw)
	if err != nil {
		return fmt.Errorf("%w quality: %w", ErrInvalidParameter, err)
	}
	m.quality = q
	return nil
}

func (m *Fixed) Check(map[string]*models.MonitorObject) models.Quality { return m.quality }

func (m *Fixed) AcceptedType() string { return "" }

func (m *Fixed) Beautify(mo *models.MonitorObject, q models.Quality) { colorize(mo, q) }
