package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/checks"
)

func createDB(t *testing.T, path string, tables ...string) {
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, table := range tables {
		_, err := db.Exec("CREATE TABLE " + table + " (id INTEGER PRIMARY KEY, v TEXT)")
		require.NoError(t, err)
	}
}

func TestSQLite(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	main := filepath.Join(dir, "main.db")
	other := filepath.Join(dir, "other.db")
	createDB(t, main, "a", "b")
	createDB(t, other, "c")

	instance := monagent.Instance{
		"path":       main,
		"attach":     []interface{}{other},
		"dimensions": map[string]interface{}{"db": "configured", "service": "store"},
	}
	c, err := New(fixtures.NewTestLogger(t), checks.Config{
		Name:      Name,
		Agent:     monagent.AgentConfig{Hostname: "h"},
		Instances: []monagent.Instance{instance},
	})
	require.NoError(t, err)
	check := c.(*Check)
	defer check.Stop()

	require.NoError(t, check.Run(context.Background()))
	ms := check.GetMetrics()

	tables := map[string]float64{}
	for _, m := range ms {
		assert.Equal(t, main, m.Dimensions["path"])
		assert.Equal(t, "store", m.Dimensions["service"])
		assert.NotEqual(t, "configured", m.Dimensions["db"])
		if m.Name == "sqlite.tables" {
			tables[m.Dimensions["db"]] = m.Value
		}
		if m.Name == "sqlite.size_bytes" {
			assert.Positive(t, m.Value)
		}
	}
	assert.Equal(t, map[string]float64{"main": 2, "attached0": 1}, tables)

	// the second run reuses the handle and detached the previous attachment
	require.NoError(t, check.Run(context.Background()))
	assert.Len(t, check.GetMetrics(), len(ms))
}

func TestSQLiteMissingPath(t *testing.T) {
	t.Parallel()
	c, err := New(fixtures.NewTestLogger(t), checks.Config{Name: Name})
	require.NoError(t, err)
	err = c.(*Check).check(context.Background(), monagent.Instance{})
	require.ErrorIs(t, err, checks.ErrMissingConfig)
}
