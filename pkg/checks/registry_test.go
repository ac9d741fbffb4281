package checks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
)

type nopCheck struct {
	*Base
}

func (c *nopCheck) Run(ctx context.Context) error {
	return c.RunInstances(ctx, func(context.Context, monagent.Instance) error { return nil })
}

func newNopCheck(logger logrus.FieldLogger, cfg Config) (Check, error) {
	return &nopCheck{Base: NewBase(logger, cfg)}, nil
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.Register("zeta", newNopCheck)
	r.Register("alpha", newNopCheck)
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	c, err := r.New(fixtures.NewTestLogger(t), Config{Name: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", c.Name())

	_, err = r.New(fixtures.NewTestLogger(t), Config{Name: "missing"})
	require.Error(t, err)
}

func writeFile(t *testing.T, dir, name, content string) {
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadConfD(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "http_check.yaml", `
init_config:
  threads_count: 4
instances:
  - name: api
    url: http://localhost:8080/healthcheck
    dimensions:
      service: api
  - name: web
    url: http://localhost:80
`)
	writeFile(t, dir, "cpu.yaml", `
init_config:
instances:
  - {}
`)
	writeFile(t, dir, "notes.txt", "ignored")

	configs, err := LoadConfD(dir)
	require.NoError(t, err)
	require.Len(t, configs, 2)

	assert.Equal(t, "cpu", configs[0].Name)
	assert.Len(t, configs[0].Instances, 1)

	hc := configs[1]
	assert.Equal(t, "http_check", hc.Name)
	assert.EqualValues(t, 4, monagent.Instance(hc.InitConfig).GetInt("threads_count", 0))
	require.Len(t, hc.Instances, 2)
	name, ok := hc.Instances[0].Name()
	require.True(t, ok)
	assert.Equal(t, "api", name)
	assert.Equal(t, monagent.Dimensions{"service": "api"}, hc.Instances[0].Dimensions())
}

func TestLoadConfDInvalidFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "instances: [\n")
	_, err := LoadConfD(dir)
	require.Error(t, err)
}

func TestLoad(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, dir, "nop.yaml", "instances:\n  - name: a\n")
	writeFile(t, dir, "empty.yaml", "init_config: {}\n")
	writeFile(t, dir, "unknown.yaml", "instances:\n  - name: a\n")

	r := NewRegistry()
	r.Register("nop", newNopCheck)
	r.Register("empty", newNopCheck)

	loaded, err := Load(fixtures.NewTestLogger(t), r, dir, monagent.AgentConfig{Hostname: "h"})
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "nop", loaded[0].Name())
}
