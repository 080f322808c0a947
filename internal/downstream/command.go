package downstream

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/FaroukSoufary/AI-Based-Technical-Programming-Newsletter-Generator/internal/models"
)

// CommandStep runs an external transformation, e.g. `dbt run`.
// The cycle is passed in HARVEST_CYCLE_ID, HARVEST_TAG_KEY and HARVEST_CURSOR.
type CommandStep struct {
	args   []string
	dir    string
	logger *slog.Logger
}

func NewCommandStep(args []string, dir string, logger *slog.Logger) *CommandStep {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandStep{args: args, dir: dir, logger: logger}
}

func (c *CommandStep) Name() string { return "command" }

func (c *CommandStep) Run(ctx context.Context, report models.CycleReport) error {
	if len(c.args) == 0 {
		return fmt.Errorf("no command configured")
	}

	cmd := exec.CommandContext(ctx, c.args[0], c.args[1:]...)
	cmd.Dir = c.dir
	cmd.Env = append(os.Environ(),
		"HARVEST_CYCLE_ID="+report.CycleID,
		"HARVEST_TAG_KEY="+report.TagKey,
		"HARVEST_CURSOR="+strconv.FormatInt(report.Cursor, 10),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", c.args[0], err, strings.TrimSpace(stderr.String()))
	}
	c.logger.Debug("command output", "command", c.args[0], "stdout", strings.TrimSpace(string(out)))
	return nil
}
