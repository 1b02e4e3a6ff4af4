// Package execx runs external tools (ffmpeg, yt-dlp, whisper.cpp) behind an
// interface so adapters can be tested without the binaries installed.
package execx

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// Result captures one command invocation.
type Result struct {
	Command  string
	Args     []string
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes commands. Stream additionally calls onLine for every line
// written to stdout while the command runs.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Result, error)
	Stream(ctx context.Context, onLine func(line string), name string, args ...string) (Result, error)
}

// CommandError carries the captured output of a failed command.
type CommandError struct {
	Result Result
	Err    error
}

func (e *CommandError) Error() string {
	stderr := strings.TrimSpace(e.Result.Stderr)
	if len(stderr) > 300 {
		stderr = stderr[len(stderr)-300:]
	}
	if stderr == "" {
		return fmt.Sprintf("%s exited with code %d: %v", e.Result.Command, e.Result.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d: %s", e.Result.Command, e.Result.ExitCode, stderr)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

type OSRunner struct{}

func (OSRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return finish(ctx, name, args, stdout.String(), stderr.String(), err)
}

func (OSRunner) Stream(ctx context.Context, onLine func(line string), name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stderr = &stderr

	pipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{Command: name, Args: args, ExitCode: -1}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{Command: name, Args: args, ExitCode: -1}, err
	}

	// stdout must be drained before Wait closes the pipe.
	scanner := bufio.NewScanner(io.TeeReader(pipe, &stdout))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if onLine != nil {
			onLine(scanner.Text())
		}
	}
	_, _ = io.Copy(&stdout, pipe)

	err = cmd.Wait()
	return finish(ctx, name, args, stdout.String(), stderr.String(), err)
}

func finish(ctx context.Context, name string, args []string, stdout, stderr string, err error) (Result, error) {
	res := Result{Command: name, Args: args, Stdout: stdout, Stderr: stderr}
	if err == nil {
		return res, nil
	}
	res.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = errors.Join(ctxErr, err)
	}
	return res, &CommandError{Result: res, Err: err}
}
