// Package runnertest provides a scripted runner.Runner for tests.
package runnertest

import (
	"context"
	"strings"

	"github.com/sigreer/ssm/internal/runner"
)

// Response is what the fake returns for a matching command.
type Response struct {
	Stdout   string
	ExitCode int
	Err      error
}

// Fake answers commands from a table keyed by the space-joined command
// line. A key ending in "*" matches any command with that prefix; the
// longest matching key wins. Unmatched commands succeed with no output.
type Fake struct {
	responses map[string]Response
	missing   map[string]bool
	Calls     [][]string
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{
		responses: make(map[string]Response),
		missing:   make(map[string]bool),
	}
}

// On registers a response for cmd.
func (f *Fake) On(cmd string, r Response) *Fake {
	f.responses[cmd] = r
	return f
}

// Stdout registers a successful response printing out.
func (f *Fake) Stdout(cmd, out string) *Fake {
	return f.On(cmd, Response{Stdout: out})
}

// Missing marks tools as not installed.
func (f *Fake) Missing(names ...string) *Fake {
	for _, n := range names {
		f.missing[n] = true
	}
	return f
}

func (f *Fake) Available(name string) bool {
	return !f.missing[name]
}

// Run answers from the table. Like exec.CommandContext, nothing runs
// once ctx is done.
func (f *Fake) Run(ctx context.Context, args []string, opts ...runner.Option) (*runner.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.Calls = append(f.Calls, append([]string(nil), args...))
	o := runner.Apply(opts...)

	line := strings.Join(args, " ")
	resp, ok := f.responses[line]
	if !ok {
		best := -1
		for key, r := range f.responses {
			prefix, isGlob := strings.CutSuffix(key, "*")
			if isGlob && strings.HasPrefix(line, prefix) && len(prefix) > best {
				best = len(prefix)
				resp = r
			}
		}
	}
	if resp.Err != nil {
		return nil, resp.Err
	}
	res := &runner.Result{ExitCode: resp.ExitCode, Stdout: resp.Stdout}
	if o.Tee != nil {
		_, _ = o.Tee.Write([]byte(resp.Stdout))
	}
	if resp.ExitCode != 0 && !o.CanFail {
		return res, &runner.CommandError{Args: args, ExitCode: resp.ExitCode}
	}
	return res, nil
}

// Commands returns every command run so far, space-joined.
func (f *Fake) Commands() []string {
	out := make([]string, 0, len(f.Calls))
	for _, c := range f.Calls {
		out = append(out, strings.Join(c, " "))
	}
	return out
}

// Ran reports whether a command starting with prefix was run.
func (f *Fake) Ran(prefix string) bool {
	for _, c := range f.Commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}
