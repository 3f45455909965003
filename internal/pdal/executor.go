package pdal

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Executor runs a pipeline plan.
type Executor interface {
	Execute(ctx context.Context, plan Plan) error
}

// CLI runs plans with the pdal command line tool.
type CLI struct {
	binPath string
}

// NewCLI creates a CLI executor. If binPath is empty, "pdal" is used.
func NewCLI(binPath string) *CLI {
	if binPath == "" {
		binPath = "pdal"
	}
	return &CLI{binPath: binPath}
}

// Execute pipes the plan JSON into "pdal pipeline --stdin".
func (c *CLI) Execute(ctx context.Context, plan Plan) error {
	doc, err := json.Marshal(plan)
	if err != nil {
		return eris.Wrap(err, "pdal: marshal pipeline")
	}

	cmd := exec.CommandContext(ctx, c.binPath, "pipeline", "--stdin")
	cmd.Stdin = bytes.NewReader(doc)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	zap.L().Info("pdal: running pipeline",
		zap.Int("readers", plan.Count(StageRead)),
		zap.String("output", plan.Output()),
	)
	if err := cmd.Run(); err != nil {
		return eris.Wrapf(err, "pdal: pipeline failed for %s: %s", plan.Output(), stderr.String())
	}
	return nil
}
