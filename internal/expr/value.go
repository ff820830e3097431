package expr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"qcflow/internal/models"
)

// Kind tags the payload a Value compares on. Comparisons are only built
// between values of the same kind.
type Kind int

const (
	KindQuality Kind = iota + 1
)

func (k Kind) String() string {
	switch k {
	case KindQuality:
		return "quality"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value prefixes understood by the condition grammar.
const (
	QualityPrefix = "Quality"
	CheckPrefix   = "Check"
)

var (
	ErrUnknownPrefix  = errors.New("unknown value prefix")
	ErrMalformedValue = errors.New("value is not in form Prefix:Name")
	ErrUnexpectedData = errors.New("unexpected payload for binding")
)

// Binding describes one external input a Value needs. Name is the opaque
// key the transport layer publishes under.
type Binding struct {
	Name string
	// Source is what the binding resolves to, e.g. the producing check.
	Source string
}

// DataRef is one payload delivered for a binding in the current cycle.
type DataRef struct {
	Binding  string
	Payload  any
	Received time.Time
}

// Value is a leaf of a comparison node.
//
// Compare must only be called when both sides are ready and valid and share
// the same Kind; calling it across kinds panics.
type Value interface {
	Name() string
	IsValid() bool
	IsReady() bool
	Kind() Kind
	// Compare returns <0, 0 or >0 following the kind's ordinal scale.
	Compare(other Value) int
	// Inputs is queried once at setup time.
	Inputs() []Binding
	// Update absorbs the freshest data for one of the value's bindings.
	Update(ref DataRef) error
}

// Timestamped is implemented by values that know when they were last updated.
// Comparison nodes with a lifetime use it to detect stale data.
type Timestamped interface {
	UpdatedAt() time.Time
}

// qualityComparable is the capability shared by quality-kind values.
type qualityComparable interface {
	quality() models.Quality
}

func compareQuality(self models.Quality, other Value) int {
	if other.Kind() != KindQuality {
		panic(fmt.Sprintf("expr: compare %s value with %s value", KindQuality, other.Kind()))
	}
	oq, ok := other.(qualityComparable)
	if !ok {
		panic(fmt.Sprintf("expr: value %q claims kind %s but exposes no quality", other.Name(), KindQuality))
	}
	return self.Level() - oq.quality().Level()
}

// QualityValue is a literal quality. It is always ready and valid.
type QualityValue struct {
	name string
	q    models.Quality
}

// NewQualityValue parses a quality literal (Good, Medium, Bad, Null; any case).
func NewQualityValue(name string) (*QualityValue, error) {
	q, err := models.ParseQuality(name)
	if err != nil {
		return nil, fmt.Errorf("quality value: %w", err)
	}
	return &QualityValue{name: name, q: q}, nil
}

func (v *QualityValue) Name() string            { return v.name }
func (v *QualityValue) IsValid() bool           { return true }
func (v *QualityValue) IsReady() bool           { return true }
func (v *QualityValue) Kind() Kind              { return KindQuality }
func (v *QualityValue) Inputs() []Binding       { return nil }
func (v *QualityValue) Update(DataRef) error    { return nil }
func (v *QualityValue) Compare(other Value) int { return compareQuality(v.q, other) }
func (v *QualityValue) quality() models.Quality { return v.q }
func (v *QualityValue) String() string          { return QualityPrefix + ":" + v.q.String() }

// CheckValue follows the verdict published by another check.
type CheckValue struct {
	name      string
	last      models.Quality
	updatedAt time.Time
	updates   int
}

// NewCheckValue references the check with the given name.
func NewCheckValue(name string) *CheckValue {
	return &CheckValue{name: name, last: models.QualityNull}
}

// BindingName is the binding verdicts of check name are published under.
func BindingName(checkName string) string {
	return "check-" + checkName
}

func (v *CheckValue) Name() string { return v.name }

// IsValid is true once data is present; staleness is judged by the
// comparison node's lifetime.
func (v *CheckValue) IsValid() bool { return v.updates > 0 }

// IsReady is false until the first update has been observed.
func (v *CheckValue) IsReady() bool { return v.updates > 0 }

func (v *CheckValue) Kind() Kind { return KindQuality }

func (v *CheckValue) Compare(other Value) int { return compareQuality(v.last, other) }

func (v *CheckValue) quality() models.Quality { return v.last }

func (v *CheckValue) UpdatedAt() time.Time { return v.updatedAt }

func (v *CheckValue) Inputs() []Binding {
	return []Binding{{Name: BindingName(v.name), Source: v.name}}
}

// Update accepts a *models.QualityObject or a models.Quality payload.
func (v *CheckValue) Update(ref DataRef) error {
	var q models.Quality
	switch p := ref.Payload.(type) {
	case *models.QualityObject:
		if p == nil {
			return fmt.Errorf("%w %s: nil quality object", ErrUnexpectedData, ref.Binding)
		}
		q = p.Quality
	case models.Quality:
		q = p
	default:
		return fmt.Errorf("%w %s: %T", ErrUnexpectedData, ref.Binding, ref.Payload)
	}

	v.last = q
	v.updates++
	v.updatedAt = ref.Received
	if v.updatedAt.IsZero() {
		v.updatedAt = time.Now()
	}
	return nil
}

func (v *CheckValue) String() string { return CheckPrefix + ":" + v.name }

// ParseValue builds a Value from "Prefix:Name". The "Prefix::Name" spelling
// is accepted as well.
func ParseValue(s string) (Value, error) {
	prefix, name, ok := strings.Cut(s, ":")
	if ok {
		name = strings.TrimPrefix(name, ":")
	}
	if !ok || prefix == "" || name == "" || strings.Contains(name, ":") {
		return nil, fmt.Errorf("%w: %q", ErrMalformedValue, s)
	}

	switch prefix {
	case QualityPrefix:
		v, err := NewQualityValue(name)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", s, err)
		}
		return v, nil
	case CheckPrefix:
		return NewCheckValue(name), nil
	default:
		return nil, fmt.Errorf("%w %q in %q", ErrUnknownPrefix, prefix, s)
	}
}
