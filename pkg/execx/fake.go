package execx

import (
	"context"
	"strings"
	"sync"
)

// Call is one command seen by a Fake.
type Call struct {
	Name string
	Args []string
}

// Arg returns the value following flag, or "" when flag is absent.
func (c Call) Arg(flag string) string {
	for i := 0; i < len(c.Args)-1; i++ {
		if c.Args[i] == flag {
			return c.Args[i+1]
		}
	}
	return ""
}

// Last returns the final argument.
func (c Call) Last() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[len(c.Args)-1]
}

// Fake is a Runner for tests. Handle decides the outcome of every call; Stream
// replays the returned stdout line by line before returning.
type Fake struct {
	Handle func(ctx context.Context, call Call) (Result, error)

	mu    sync.Mutex
	calls []Call
}

func (f *Fake) Run(ctx context.Context, name string, args ...string) (Result, error) {
	return f.do(ctx, name, args)
}

func (f *Fake) Stream(ctx context.Context, onLine func(line string), name string, args ...string) (Result, error) {
	res, err := f.do(ctx, name, args)
	if onLine != nil && res.Stdout != "" {
		for _, line := range strings.Split(strings.TrimRight(res.Stdout, "\n"), "\n") {
			onLine(line)
		}
	}
	return res, err
}

func (f *Fake) do(ctx context.Context, name string, args []string) (Result, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()

	res := Result{Command: name, Args: call.Args}
	if f.Handle == nil {
		return res, nil
	}
	out, err := f.Handle(ctx, call)
	out.Command, out.Args = name, call.Args
	if err != nil {
		return out, &CommandError{Result: out, Err: err}
	}
	return out, nil
}

// Calls returns a copy of every call made so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}
