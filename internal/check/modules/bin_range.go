package modules

import (
	"fmt"
	"time"

	"qcflow/internal/models"
)

// BinRange requires every bin in [first, last] to be filled. Any content
// outside the range degrades the verdict to Medium, an empty bin inside it
// makes it Bad. When no object matches, the verdict is Null.
//
// Parameters:
//
//	object  only objects with this name are judged (default: every object)
//	first   first bin of the signal range (default 1)
//	last    last bin of the signal range (default 7)
//	time    busy-waits this many microseconds per call, to emulate slow checks
type BinRange struct {
	base

	object      string
	first, last int
	spin        time.Duration
}

func (m *BinRange) Configure(name string, params map[string]string) error {
	m.configure(params)
	m.object = params["object"]

	var err error
	if m.first, err = m.intParam("first", 1); err != nil {
		return err
	}
	if m.last, err = m.intParam("last", 7); err != nil {
		return err
	}
	if m.first < 0 || m.last < m.first {
		return fmt.Errorf("%w: bin range [%d, %d]", ErrInvalidParameter, m.first, m.last)
	}

	us, err := m.intParam("time", 0)
	if err != nil {
		return err
	}
	if us < 0 {
		return fmt.Errorf("%w: time must not be negative", ErrInvalidParameter)
	}
	m.spin = time.Duration(us) * time.Microsecond
	return nil
}

func (m *BinRange) Check(objects map[string]*models.MonitorObject) models.Quality {
	result := models.QualityNull

	for _, mo := range objects {
		if m.object != "" && mo.Name != m.object {
			continue
		}
		q := m.judge(mo.Bins)
		if result == models.QualityNull {
			result = q
		} else {
			result = result.Worse(q)
		}
	}

	spin(m.spin)
	return result
}

func (m *BinRange) judge(bins []float64) models.Quality {
	result := models.QualityGood
	for i, v := range bins {
		inRange := i >= m.first && i <= m.last
		if inRange && v == 0 {
			return models.QualityBad
		}
		if !inRange && v > 0 {
			result = models.QualityMedium
		}
	}
	if len(bins) <= m.last {
		return models.QualityBad
	}
	return result
}

func (m *BinRange) AcceptedType() string { return "TH1" }

func (m *BinRange) Beautify(mo *models.MonitorObject, q models.Quality) {
	if m.object != "" && mo.Name != m.object {
		return
	}
	colorize(mo, q)
}

// spin burns CPU rather than sleeping so that benchmark checks load the runner.
func spin(d time.Duration) {
	if d <= 0 {
		return
	}
	start := time.Now()
	for time.Since(start) < d {
	}
}
