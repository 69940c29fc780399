package runner

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecRun(t *testing.T) {
	r := NewExec(nil)
	ctx := context.Background()

	res, err := r.Run(ctx, []string{"sh", "-c", "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "hello\n", res.Stdout)
}

func TestExecCanFail(t *testing.T) {
	r := NewExec(nil)
	ctx := context.Background()

	res, err := r.Run(ctx, []string{"sh", "-c", "echo out; echo bad >&2; exit 3"}, CanFail())
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "out\n", res.Stdout)

	_, err = r.Run(ctx, []string{"sh", "-c", "echo bad >&2; exit 3"})
	var cmdErr *CommandError
	require.True(t, errors.As(err, &cmdErr))
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "bad", cmdErr.Stderr)
	assert.Contains(t, err.Error(), "exit code 3")
}

func TestExecTee(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewExec(nil).Run(context.Background(), []string{"sh", "-c", "echo tee"}, Tee(&buf))
	require.NoError(t, err)
	assert.Equal(t, "tee\n", buf.String())
}

func TestExecMissingBinary(t *testing.T) {
	r := NewExec(nil)
	assert.False(t, r.Available("ssm-no-such-tool"))
	_, err := r.Run(context.Background(), []string{"ssm-no-such-tool"})
	assert.Error(t, err)
}
