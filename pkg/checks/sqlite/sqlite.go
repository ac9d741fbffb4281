// Package sqlite reports the size and layout of SQLite database files and
// of the databases attached to them.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // database/sql driver

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
)

// Name of the check.
const Name = "sqlite"

type instanceConfig struct {
	Path   string   `mapstructure:"path" validate:"required"`
	Attach []string `mapstructure:"attach"`
}

// Check is the sqlite check.
type Check struct {
	*checks.Base
	dbs map[string]*sql.DB
}

// New is the checks.Factory of the sqlite check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	return &Check{
		Base: checks.NewBase(logger, cfg),
		dbs:  map[string]*sql.DB{},
	}, nil
}

func (c *Check) Run(ctx context.Context) error {
	return c.RunInstances(ctx, c.check)
}

// Stop closes the database handles.
func (c *Check) Stop() {
	for path, db := range c.dbs {
		if err := db.Close(); err != nil {
			c.Logger().WithError(err).WithField("path", path).Warn("Failed to close database")
		}
		delete(c.dbs, path)
	}
}

func (c *Check) open(path string) (*sql.DB, error) {
	if db, ok := c.dbs[path]; ok {
		return db, nil
	}
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(500)", path))
	if err != nil {
		return nil, err
	}
	// Attached databases are per connection.
	db.SetMaxOpenConns(1)
	c.dbs[path] = db
	return db, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type database struct {
	name string
	file string
}

func (c *Check) check(ctx context.Context, instance monagent.Instance) error {
	var cfg instanceConfig
	if err := checks.DecodeInstance(instance, &cfg); err != nil {
		return err
	}
	db, err := c.open(cfg.Path)
	if err != nil {
		return err
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", cfg.Path, err)
	}
	defer conn.Close()

	for i, file := range cfg.Attach {
		schema := fmt.Sprintf("attached%d", i)
		if _, err := conn.ExecContext(ctx, "ATTACH DATABASE ? AS "+quote(schema), "file:"+file+"?mode=ro"); err != nil {
			return fmt.Errorf("attaching %s: %w", file, err)
		}
		defer func() {
			if _, err := conn.ExecContext(context.WithoutCancel(ctx), "DETACH DATABASE "+quote(schema)); err != nil {
				c.Logger().WithError(err).WithField("schema", schema).Warn("Failed to detach database")
			}
		}()
	}

	databases, err := listDatabases(ctx, conn)
	if err != nil {
		return err
	}
	for _, d := range databases {
		if err := c.collect(ctx, conn, cfg.Path, d, instance); err != nil {
			return fmt.Errorf("database %s: %w", d.name, err)
		}
	}
	return nil
}

func listDatabases(ctx context.Context, conn *sql.Conn) ([]database, error) {
	rows, err := conn.QueryContext(ctx, "PRAGMA database_list")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []database
	for rows.Next() {
		var (
			seq int
			d   database
		)
		if err := rows.Scan(&seq, &d.name, &d.file); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (c *Check) collect(ctx context.Context, conn *sql.Conn, path string, d database, instance monagent.Instance) error {
	schema := quote(d.name)
	var pageCount, pageSize, freelist, tables float64
	for _, q := range []struct {
		query string
		dest  *float64
	}{
		{"PRAGMA " + schema + ".page_count", &pageCount},
		{"PRAGMA " + schema + ".page_size", &pageSize},
		{"PRAGMA " + schema + ".freelist_count", &freelist},
		{"SELECT count(*) FROM " + schema + ".sqlite_master WHERE type = 'table'", &tables},
	} {
		if err := conn.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return err
		}
	}
	extra := monagent.Dimensions{"path": path}
	if d.file != "" && d.file != path {
		extra["file"] = d.file
	}
	dims := checks.WithDimensions(c.SetDBDimensions(extra, instance, d.name))
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"sqlite.page_count", pageCount},
		{"sqlite.freelist_count", freelist},
		{"sqlite.size_bytes", pageCount * pageSize},
		{"sqlite.tables", tables},
	} {
		if err := c.Gauge(p.name, p.value, dims); err != nil {
			return err
		}
	}
	return nil
}
