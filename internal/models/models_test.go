package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityOrdering(t *testing.T) {
	assert.Less(t, QualityNull.Level(), QualityBad.Level())
	assert.Less(t, QualityBad.Level(), QualityMedium.Level())
	assert.Less(t, QualityMedium.Level(), QualityGood.Level())
	assert.Equal(t, QualityBad, QualityGood.Worse(QualityBad))
	assert.Equal(t, QualityMedium, QualityMedium.Worse(QualityGood))
}

func TestParseQuality(t *testing.T) {
	for name, want := range map[string]Quality{"Good": QualityGood, "medium": QualityMedium, " BAD ": QualityBad, "null": QualityNull} {
		q, err := ParseQuality(name)
		require.NoError(t, err, name)
		assert.Equal(t, want, q)
	}

	_, err := ParseQuality("Great")
	assert.ErrorIs(t, err, ErrUnknownQuality)
	assert.Equal(t, "Quality(9)", Quality(9).String())
}

func TestQualityJSON(t *testing.T) {
	qo := NewQualityObject("mean", QualityMedium, []string{"tpc/clusters"})
	data, err := json.Marshal(qo)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"quality":"Medium"`)

	var q Quality
	assert.Error(t, json.Unmarshal([]byte(`"Superb"`), &q))
	assert.Error(t, json.Unmarshal([]byte(`2`), &q))
}

func TestValidate(t *testing.T) {
	valid := func() *MonitorObject {
		return &MonitorObject{Name: "a", TaskName: "t", ObjectType: "TH1F", Timestamp: time.Now()}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		modify func(*MonitorObject)
		want   error
	}{
		{func(m *MonitorObject) { m.Name = "" }, ErrEmptyName},
		{func(m *MonitorObject) { m.TaskName = "" }, ErrEmptyTaskName},
		{func(m *MonitorObject) { m.ObjectType = "" }, ErrEmptyObjectType},
		{func(m *MonitorObject) { m.Timestamp = time.Time{} }, ErrZeroTimestamp},
		{func(m *MonitorObject) { m.Entries = -1 }, ErrNegativeEntries},
		{func(m *MonitorObject) { m.Bins = make([]float64, MaxBins+1) }, ErrTooManyBins},
	}
	for _, tt := range tests {
		mo := valid()
		tt.modify(mo)
		assert.ErrorIs(t, mo.Validate(), tt.want)
	}
}

func TestMeanAndClone(t *testing.T) {
	mo := &MonitorObject{Name: "a", Bins: []float64{0, 2, 2}, Metadata: map[string]string{"k": "v"}}
	assert.InDelta(t, 1.5, mo.Mean(), 1e-9)
	assert.Zero(t, (&MonitorObject{}).Mean())

	c := mo.Clone()
	c.Bins[0] = 7
	c.Metadata["k"] = "changed"
	c.Annotate("color", "red")
	assert.Equal(t, 0.0, mo.Bins[0])
	assert.Equal(t, "v", mo.Metadata["k"])
	assert.Nil(t, mo.Annotations)
}

func TestSplitFullName(t *testing.T) {
	task, name, err := SplitFullName("tpc/clusters/a")
	require.NoError(t, err)
	assert.Equal(t, "tpc", task)
	assert.Equal(t, "clusters/a", name)

	for _, bad := range []string{"clusters", "/clusters", "tpc/"} {
		_, _, err := SplitFullName(bad)
		assert.ErrorIs(t, err, ErrInvalidFullName, bad)
	}
}

func TestEnvelope(t *testing.T) {
	qo := NewQualityObject("mean", QualityGood, nil)
	env := NewEnvelope(qo, "node-1").WithMonitorObject(&MonitorObject{Name: "a"})
	assert.Equal(t, "mean", env.PartitionKey)
	assert.Equal(t, "node-1", env.Node)
	assert.NotNil(t, env.MonitorObject)
	assert.NotEmpty(t, qo.ID)
}
