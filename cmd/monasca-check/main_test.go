package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/checks"
)

type countingCheck struct {
	*checks.Base
	runs    int32
	stopped int32
}

func (c *countingCheck) Run(ctx context.Context) error {
	n := atomic.AddInt32(&c.runs, 1)
	return c.RunInstances(ctx, func(ctx context.Context, instance monagent.Instance) error {
		return c.Gauge("test.runs", float64(n), checks.WithDimensions(c.SetDimensions(nil, instance)))
	})
}

func (c *countingCheck) Stop() {
	atomic.StoreInt32(&c.stopped, 1)
}

func testRegistry(created **countingCheck) *checks.Registry {
	r := checks.NewRegistry()
	r.Register("counting", func(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
		c := &countingCheck{Base: checks.NewBase(logger, cfg)}
		*created = c
		return c, nil
	})
	return r
}

func writeConfD(t *testing.T) string {
	dir := t.TempDir()
	conf := "init_config: {}\ninstances:\n  - name: first\n    dimensions:\n      service: test\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "counting.yaml"), []byte(conf), 0o600))
	return dir
}

func TestRunPrintsEveryRun(t *testing.T) {
	t.Parallel()

	var created *countingCheck
	opts := commandOptions{ConfD: writeConfD(t), Repeat: 2}
	opts.Args.Check = "counting"
	var out bytes.Buffer

	require.NoError(t, run(context.Background(), fixtures.NewTestLogger(t), testRegistry(&created), opts, &out))

	dec := json.NewDecoder(&out)
	for i := uint(1); i <= 2; i++ {
		var result runResult
		require.NoError(t, dec.Decode(&result))
		assert.Equal(t, i, result.Run)
		assert.Empty(t, result.Error)
		require.Len(t, result.Measurements, 1)
		assert.Equal(t, "test.runs", result.Measurements[0].Name)
		assert.EqualValues(t, i, result.Measurements[0].Value)
		assert.Equal(t, "test", result.Measurements[0].Dimensions["service"])
	}
	assert.EqualValues(t, 1, atomic.LoadInt32(&created.stopped))
}

func TestRunUnknownCheck(t *testing.T) {
	t.Parallel()

	var created *countingCheck
	opts := commandOptions{ConfD: writeConfD(t), Repeat: 1}
	opts.Args.Check = "missing"
	err := run(context.Background(), fixtures.NewTestLogger(t), testRegistry(&created), opts, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestParseArgs(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	opts, _, ok := parseArgs([]string{"-r", "3", "--delay", "5s", "cpu"}, &stdout, &stderr)
	require.True(t, ok)
	assert.EqualValues(t, 3, opts.Repeat)
	assert.Equal(t, "5s", opts.Delay.String())
	assert.Equal(t, "cpu", opts.Args.Check)
	assert.Equal(t, "/etc/monasca/agent/conf.d", opts.ConfD)

	_, code, ok := parseArgs([]string{"--help"}, &stdout, &stderr)
	assert.False(t, ok)
	assert.Zero(t, code)
	assert.True(t, strings.Contains(stdout.String(), "confd-path"))

	_, code, ok = parseArgs(nil, &stdout, &stderr)
	assert.False(t, ok)
	assert.Equal(t, 1, code)

	_, code, ok = parseArgs([]string{"-r", "0", "cpu"}, &stdout, &stderr)
	assert.False(t, ok)
	assert.Equal(t, 1, code)
}
