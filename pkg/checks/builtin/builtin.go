// Package builtin registers the checks shipped with the agent.
package builtin

import (
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/checks/cpu"
	"github.com/monasca/monagent/pkg/checks/hostalive"
	"github.com/monasca/monagent/pkg/checks/httpcheck"
	"github.com/monasca/monagent/pkg/checks/jenkins"
	"github.com/monasca/monagent/pkg/checks/load"
	"github.com/monasca/monagent/pkg/checks/memory"
	"github.com/monasca/monagent/pkg/checks/redisdb"
	"github.com/monasca/monagent/pkg/checks/sqlite"
)

// Register adds every built-in check to r.
func Register(r *checks.Registry) {
	r.Register(cpu.Name, cpu.New)
	r.Register(memory.Name, memory.New)
	r.Register(load.Name, load.New)
	r.Register(httpcheck.Name, httpcheck.New)
	r.Register(hostalive.Name, hostalive.New)
	r.Register(redisdb.Name, redisdb.New)
	r.Register(sqlite.Name, sqlite.New)
	r.Register(jenkins.Name, jenkins.New)
}

// NewRegistry returns a registry holding the built-in checks.
func NewRegistry() *checks.Registry {
	r := checks.NewRegistry()
	Register(r)
	return r
}
