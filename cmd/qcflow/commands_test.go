package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestEval(t *testing.T) {
	out, err := execute(t, "eval", "Check:a == Quality:Good & Check:b > Quality:Bad", "--set", "a=Good", "--set", "b=medium")
	require.NoError(t, err)
	assert.Equal(t, "((Check:a == Quality:Good) & (Check:b > Quality:Bad))\nTrue\n", out)
}

func TestEvalWithoutData(t *testing.T) {
	out, err := execute(t, "eval", "Check:a == Quality:Good")
	require.NoError(t, err)
	assert.Contains(t, out, "Undefined")

	out, err = execute(t, "eval", "Quality:Good > Quality:Medium")
	require.NoError(t, err)
	assert.Contains(t, out, "True")
}

func TestEvalErrors(t *testing.T) {
	_, err := execute(t, "eval", "Check:a === Quality:Good")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "===")

	_, err = execute(t, "eval", "Check:a == Quality:Good", "--set", "a")
	assert.ErrorContains(t, err, "CHECK=QUALITY")

	_, err = execute(t, "eval", "Check:a == Quality:Good", "--set", "a=Great")
	assert.ErrorContains(t, err, "Great")

	_, err = execute(t, "eval")
	assert.Error(t, err)
}

func TestValidateExampleConfig(t *testing.T) {
	out, err := execute(t, "validate", "--config", filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Contains(t, out, "4 checks, 2 alarms: OK")
	assert.Contains(t, out, "check EverythingFromITS (NonEmpty, _OnGlobalAny)")
}

func TestValidateJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
checks:
  - name: filled
    module: NonEmpty
    data_source:
      - name: tpc
        mos: [clusters]
alarms:
  - name: tpc
    condition: "Check:filled == Quality:Good"
`), 0o644))

	out, err := execute(t, "validate", "--config", path, "--json")
	require.NoError(t, err)

	var report validateReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.Len(t, report.Checks, 1)
	assert.Equal(t, "OnAny", report.Checks[0].Policy)
	assert.Equal(t, []string{"tpc/clusters"}, report.Checks[0].Objects)
	assert.Equal(t, []string{"tpc: Check:filled == Quality:Good"}, report.Alarms)
	assert.Contains(t, report.Modules, "BinRange")
	assert.Contains(t, report.Policies, "OnEachSeparately")
}

func TestValidateRejectsBrokenAlarm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
alarms:
  - name: broken
    condition: "Check:filled == "
`), 0o644))

	_, err := execute(t, "validate", "--config", path)
	assert.Error(t, err)
}
