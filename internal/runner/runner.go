// Package runner executes the external storage tools ssm drives.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Result is the outcome of one command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs external commands. Implementations must be safe to call
// sequentially from a single goroutine; ssm never runs commands in parallel.
type Runner interface {
	Run(ctx context.Context, args []string, opts ...Option) (*Result, error)
	// Available reports whether the named tool can be found.
	Available(name string) bool
}

// Options controls a single Run.
type Options struct {
	CanFail bool
	Tee     io.Writer
	Stdin   io.Reader
}

// Option mutates Options.
type Option func(*Options)

// CanFail makes a non-zero exit status a normal result instead of an error.
func CanFail() Option {
	return func(o *Options) { o.CanFail = true }
}

// Tee copies the command's stdout to w while it runs.
func Tee(w io.Writer) Option {
	return func(o *Options) { o.Tee = w }
}

// LogTo copies the command's stdout, line by line, to log at debug level.
func LogTo(log *logrus.Entry) Option {
	return Tee(logWriter{log: log})
}

// Stdin feeds r to the command.
func Stdin(r io.Reader) Option {
	return func(o *Options) { o.Stdin = r }
}

// Apply folds opts into an Options value.
func Apply(opts ...Option) Options {
	var o Options
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Exec runs commands on the host.
type Exec struct {
	log *logrus.Entry
}

// NewExec returns a host runner logging through log.
func NewExec(log *logrus.Entry) *Exec {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Exec{log: log.WithField("component", "runner")}
}

func (e *Exec) Available(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

func (e *Exec) Run(ctx context.Context, args []string, opts ...Option) (*Result, error) {
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	o := Apply(opts...)

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	// Parsed output must not depend on the caller's locale.
	cmd.Env = append(os.Environ(), "LC_ALL=C", "LANG=C")
	var stdout, stderr bytes.Buffer
	if o.Tee != nil {
		cmd.Stdout = io.MultiWriter(&stdout, o.Tee)
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr
	if o.Stdin != nil {
		cmd.Stdin = o.Stdin
	}

	e.log.WithField("cmd", strings.Join(args, " ")).Debug("running command")
	err := cmd.Run()
	res := &Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, errors.Wrapf(err, "%s", args[0])
		}
		res.ExitCode = exitErr.ExitCode()
		e.log.WithFields(logrus.Fields{
			"cmd":  strings.Join(args, " "),
			"exit": res.ExitCode,
		}).Debug("command failed")
		if !o.CanFail {
			return res, &CommandError{Args: args, ExitCode: res.ExitCode, Stderr: strings.TrimSpace(res.Stderr)}
		}
	}
	return res, nil
}

// CommandError is returned when a command exits non-zero without CanFail.
type CommandError struct {
	Args     []string
	ExitCode int
	Stderr   string
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s failed with exit code %d", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

type logWriter struct {
	log *logrus.Entry
}

func (w logWriter) Write(b []byte) (int, error) {
	for _, line := range strings.Split(strings.TrimRight(string(b), "\n"), "\n") {
		if line != "" {
			w.log.Debug(line)
		}
	}
	return len(b), nil
}
