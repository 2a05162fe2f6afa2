package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes programs directly, without a shell, and waits for them.
type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Run returns an error only when the program could not be started. A
// non-zero exit status is reported through Result.ExitCode.
func (r *Runner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	if strings.TrimSpace(name) == "" {
		return Result{}, errors.New("command name is required")
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
		ExitCode: 0,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, fmt.Errorf("run %s: %w", name, err)
	}
	return result, nil
}
