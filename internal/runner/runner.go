package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	execute "github.com/alexellis/go-execute/v2"

	"filetoolsgo/internal/logging"
	"filetoolsgo/internal/models"
)

// Runner invokes an external transform binary. The contract is "writes its
// output file(s) on exit code 0, otherwise failure".
type Runner interface {
	Run(ctx context.Context, command string, args []string, workingDir string) (stdout string, stderr string, err error)
}

// ExecRunner shells out via go-execute with an enforced deadline. A timeout
// surfaces as models.ErrTransformTimeout, distinct from a non-zero exit.
type ExecRunner struct {
	Timeout time.Duration
}

func (r *ExecRunner) Run(ctx context.Context, command string, args []string, workingDir string) (string, string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	logging.Debug("executing", "command", command, "args", args, "dir", workingDir)
	task := execute.ExecTask{
		Command: command,
		Args:    args,
		Cwd:     workingDir,
	}

	result, err := task.Execute(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return result.Stdout, result.Stderr, fmt.Errorf("%s: %w", command, models.ErrTransformTimeout)
		}
		return result.Stdout, result.Stderr, fmt.Errorf("run %s: %w", command, err)
	}
	if result.ExitCode != 0 {
		return result.Stdout, result.Stderr,
			fmt.Errorf("%s exited with code %d: %s", command, result.ExitCode, strings.TrimSpace(result.Stderr))
	}
	return result.Stdout, result.Stderr, nil
}
