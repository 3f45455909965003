package pdal

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCLI_BinPath(t *testing.T) {
	assert.Equal(t, "pdal", NewCLI("").binPath)
	assert.Equal(t, "/opt/pdal/bin/pdal", NewCLI("/opt/pdal/bin/pdal").binPath)
}

func TestCLI_Execute_PipesPlan(t *testing.T) {
	tmpDir := t.TempDir()
	captured := filepath.Join(tmpDir, "stdin.json")
	args := filepath.Join(tmpDir, "args.txt")
	fakeBin := filepath.Join(tmpDir, "pdal")
	script := "#!/bin/sh\necho \"$@\" > " + args + "\ncat > " + captured + "\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	plan := Plan{Stages: []Stage{Reader("las", "a.laz", ""), Writer("las", "b.laz")}}
	require.NoError(t, NewCLI(fakeBin).Execute(context.Background(), plan))

	gotArgs, err := os.ReadFile(args)
	require.NoError(t, err)
	assert.Equal(t, "pipeline --stdin\n", string(gotArgs))

	gotPlan, err := os.ReadFile(captured)
	require.NoError(t, err)
	want, err := json.Marshal(plan)
	require.NoError(t, err)
	assert.JSONEq(t, string(want), string(gotPlan))
}

func TestCLI_Execute_Failure(t *testing.T) {
	tmpDir := t.TempDir()
	fakeBin := filepath.Join(tmpDir, "pdal")
	script := "#!/bin/sh\necho 'Unable to open stream' >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(fakeBin, []byte(script), 0755))

	err := NewCLI(fakeBin).Execute(context.Background(), Plan{Stages: []Stage{Writer("las", "out.laz")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unable to open stream")
	assert.Contains(t, err.Error(), "out.laz")
}

func TestCLI_Execute_BinaryNotFound(t *testing.T) {
	err := NewCLI("/nonexistent/pdal").Execute(context.Background(), Plan{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline failed")
}
