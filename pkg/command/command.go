package command

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Spec is a single operator-defined command from the release manifest.
type Spec struct {
	// Command is passed to the shell verbatim.
	Command string `json:"command"`

	// Cwd is an optional directory suffix resolved against the target
	// base directory.
	Cwd string `json:"cwd,omitempty"`
}

// Transcript is the ordered execution log handed back to the client.
// Entries are prefixed with "CWD:" and "$" for context, ">" for stdout
// and "!" for stderr and failures.
type Transcript []string

func (t Transcript) String() string {
	return strings.Join(t, "\n")
}

// Runner executes hook commands through the shell.
type Runner struct {
	// Timeout bounds each individual command. Zero means no limit.
	Timeout time.Duration

	// Policy optionally restricts which binaries may be invoked.
	Policy *Policy
}

// Run executes commands sequentially, stopping at the first failure.
// The returned transcript covers everything that ran, including the
// output of the failing command.
func (r *Runner) Run(ctx context.Context, baseDir string, commands []Spec) (Transcript, error) {
	transcript := make(Transcript, 0)
	for _, spec := range commands {
		lines, err := r.runSingle(ctx, baseDir, spec)
		transcript = append(transcript, lines...)
		if err != nil {
			return transcript, err
		}
	}
	return transcript, nil
}

func (r *Runner) runSingle(ctx context.Context, baseDir string, spec Spec) (Transcript, error) {
	dir := baseDir
	if len(spec.Cwd) > 0 {
		dir = filepath.Join(baseDir, spec.Cwd)
	}

	lines := Transcript{
		"CWD: " + dir,
		"$ " + spec.Command,
	}

	if err := r.Policy.Check(spec.Command); err != nil {
		lines = append(lines, "! "+err.Error())
		return lines, err
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", spec.Command)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	lines = append(lines, prefixLines("> ", stdout.String())...)
	lines = append(lines, prefixLines("! ", stderr.String())...)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("command timed out after %s", r.Timeout)
		}
		lines = append(lines, "! "+err.Error())
		return lines, fmt.Errorf("command %q: %w", spec.Command, err)
	}

	return lines, nil
}

func prefixLines(prefix, output string) []string {
	output = strings.TrimRight(output, "\n")
	if len(output) == 0 {
		return nil
	}
	split := strings.Split(output, "\n")
	lines := make([]string, len(split))
	for i, line := range split {
		lines[i] = prefix + line
	}
	return lines
}
