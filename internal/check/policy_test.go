package check

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicies(t *testing.T) {
	names := []string{"t/a", "t/b"}

	tests := []struct {
		policy    string
		revision  uint32
		revisions map[string]uint32
		want      bool
	}{
		{PolicyOnAny, 0, map[string]uint32{}, false},
		{PolicyOnAny, 0, map[string]uint32{"t/a": 1}, true},
		{PolicyOnAny, 2, map[string]uint32{"t/a": 2, "t/b": 1}, false},
		{PolicyOnAny, 2, map[string]uint32{"t/a": 2, "t/b": 3}, true},

		{PolicyOnAnyNonZero, 0, map[string]uint32{"t/a": 1}, false},
		{PolicyOnAnyNonZero, 0, map[string]uint32{"t/a": 1, "t/b": 1}, true},
		{PolicyOnAnyNonZero, 1, map[string]uint32{"t/a": 1, "t/b": 1}, false},
		{PolicyOnAnyNonZero, 1, map[string]uint32{"t/a": 2, "t/b": 1}, true},

		{PolicyOnAll, 0, map[string]uint32{"t/a": 1}, false},
		{PolicyOnAll, 0, map[string]uint32{"t/a": 1, "t/b": 1}, true},
		{PolicyOnAll, 1, map[string]uint32{"t/a": 2, "t/b": 1}, false},
		{PolicyOnAll, 1, map[string]uint32{"t/a": 2, "t/b": 2}, true},

		{PolicyOnEachSeparately, 0, map[string]uint32{"t/b": 1}, true},
		{PolicyOnEachSeparately, 1, map[string]uint32{"t/b": 1}, false},

		{PolicyOnGlobalAny, 5, nil, true},
	}

	for _, tt := range tests {
		p, err := LookupPolicy(tt.policy)
		require.NoError(t, err)
		assert.Equal(t, tt.want, p(names, tt.revision, tt.revisions), "%s at %d with %v", tt.policy, tt.revision, tt.revisions)
	}
}

func TestOnAllWithoutInputsNeverRuns(t *testing.T) {
	p, err := LookupPolicy(PolicyOnAll)
	require.NoError(t, err)
	assert.False(t, p(nil, 0, map[string]uint32{"x": 1}))
}

func TestLookupPolicy(t *testing.T) {
	p, err := LookupPolicy("")
	require.NoError(t, err)
	assert.True(t, p([]string{"a"}, 0, map[string]uint32{"a": 1}))

	_, err = LookupPolicy("OnSometimes")
	assert.ErrorIs(t, err, ErrUnknownPolicy)
	assert.Contains(t, err.Error(), "OnSometimes")

	assert.Equal(t, []string{"OnAll", "OnAny", "OnAnyNonZero", "OnEachSeparately", "_OnGlobalAny"}, Policies())
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	reg.Register("b", func() Module { return &countingModule{} })
	reg.Register("a", func() Module { return &countingModule{} })

	assert.Equal(t, []string{"a", "b"}, reg.Modules())

	m1, err := reg.New("a")
	require.NoError(t, err)
	m2, err := reg.New("a")
	require.NoError(t, err)
	assert.NotSame(t, m1, m2, "each check gets its own module instance")

	_, err = reg.New("c")
	assert.ErrorIs(t, err, ErrUnknownModule)
}
