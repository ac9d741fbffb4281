package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ash2k/stager/wait"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/util"
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/checks/builtin"
	"github.com/monasca/monagent/pkg/collector"
	"github.com/monasca/monagent/pkg/emitter"
	"github.com/monasca/monagent/pkg/healthcheck"
	"github.com/monasca/monagent/pkg/stats"
	"github.com/monasca/monagent/pkg/web"
)

var (
	// BuildDate is the date when the binary was built.
	BuildDate string
	// GitCommit is the commit hash that built the binary.
	GitCommit string
	// Version is the version.
	Version string
)

const (
	// ParamConfD is the directory holding one yaml file per check.
	ParamConfD = "confd-path"
	// DefaultConfD is the default check configuration directory.
	DefaultConfD = "/etc/monasca/agent/conf.d"

	// exitRestart asks the service manager to start the collector again.
	exitRestart = 3
)

func main() {
	fs := util.NewFlagSet()
	fs.String(ParamConfD, DefaultConfD, "Directory of the check configuration files")
	monagent.AddFlags(fs)

	v, err := util.ParseConfiguration(fs, os.Args[1:])
	if err != nil {
		if util.IsHelp(err) {
			return
		}
		logrus.Fatalf("Error while parsing configuration: %v", err)
	}
	if v.GetBool(util.ParamVersion) {
		fmt.Printf("Version: %s - Commit: %s - Date: %s\n", Version, GitCommit, BuildDate)
		return
	}
	closer, err := util.SetupLogger(logrus.StandardLogger(), v)
	if err != nil {
		logrus.Fatalf("Error while setting up logging: %v", err)
	}
	defer closer.Close()

	err = run(v)
	switch {
	case errors.Is(err, collector.ErrRestart):
		closer.Close()
		os.Exit(exitRestart)
	case err != nil:
		logrus.Fatalf("%v", err)
	}
}

func run(v *viper.Viper) error {
	logger := logrus.StandardLogger()
	agent := monagent.NewAgentConfig(v)

	checkList, err := checks.Load(logger, builtin.NewRegistry(), v.GetString(ParamConfD), agent)
	if err != nil {
		return fmt.Errorf("loading checks: %w", err)
	}
	httpEmitter, err := emitter.NewHTTPEmitterFromViper(logger, util.GetSubViper(v, "emitter"))
	if err != nil {
		return err
	}

	c := collector.NewCollector(logger, agent, checkList, httpEmitter)
	daemon := collector.NewDaemon(logger, agent, c)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	statser := stats.NewPrometheusStatser("monasca_collector", registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = stats.NewContext(ctx, statser)

	var runnables []monagent.Runnable
	if agent.WebAddr != "" {
		hc, dc := healthcheck.Collect(daemon)
		httpServer, err := web.NewHttpServerFromViper(logger, v, agent.WebAddr, registry, hc, dc)
		if err != nil {
			return err
		}
		runnables = append(runnables, httpServer.Run)
	}

	var wg wait.Group
	defer wg.Wait()
	ctx, cancel, err := util.StartRunnables(ctx, &wg, runnables...)
	defer cancel(nil)
	if err != nil || ctx.Err() != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"checks":  len(checkList),
	}).Info("Starting collector")
	if err := daemon.Run(ctx); err != nil {
		return err
	}
	return util.StopCause(ctx)
}
