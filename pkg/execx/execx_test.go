package execx

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestOSRunnerCapturesOutput(t *testing.T) {
	requireShell(t)
	res, err := OSRunner{}.Run(context.Background(), "sh", "-c", "echo out; echo err 1>&2")
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Zero(t, res.ExitCode)
}

func TestOSRunnerReportsExitCode(t *testing.T) {
	requireShell(t)
	res, err := OSRunner{}.Run(context.Background(), "sh", "-c", "echo broken 1>&2; exit 3")
	require.Error(t, err)

	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, err.Error(), "broken")
}

func TestOSRunnerStreamsLines(t *testing.T) {
	requireShell(t)
	var lines []string
	res, err := OSRunner{}.Stream(context.Background(), func(line string) {
		lines = append(lines, line)
	}, "sh", "-c", "printf 'a\\nb\\nc\\n'")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, lines)
	assert.Equal(t, "a\nb\nc\n", res.Stdout)
}

func TestOSRunnerDeadlineIsVisible(t *testing.T) {
	requireShell(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := OSRunner{}.Run(ctx, "sh", "-c", "sleep 5")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFakeRecordsCallsAndReplaysLines(t *testing.T) {
	f := &Fake{Handle: func(_ context.Context, call Call) (Result, error) {
		if call.Name == "broken" {
			return Result{Stderr: "bad input", ExitCode: 1}, errors.New("exit status 1")
		}
		return Result{Stdout: "one\ntwo\n"}, nil
	}}

	var lines []string
	_, err := f.Stream(context.Background(), func(line string) { lines = append(lines, line) }, "tool", "-o", "out.mp4", "src")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, lines)

	_, err = f.Run(context.Background(), "broken")
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "bad input", cmdErr.Result.Stderr)

	calls := f.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "out.mp4", calls[0].Arg("-o"))
	assert.Equal(t, "src", calls[0].Last())
	assert.Empty(t, calls[0].Arg("-x"))
}
