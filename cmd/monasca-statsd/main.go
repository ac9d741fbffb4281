package main

import (
	"context"
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
	"github.com/monasca/monagent/pkg/aggregator"
	"github.com/monasca/monagent/pkg/emitter"
	"github.com/monasca/monagent/pkg/healthcheck"
	"github.com/monasca/monagent/pkg/stats"
	"github.com/monasca/monagent/pkg/statsd"
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

func main() {
	fs := util.NewFlagSet()
	monagent.AddFlags(fs)
	statsd.AddFlags(fs)

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

	if err := run(v); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func run(v *viper.Viper) error {
	logger := logrus.StandardLogger()
	agent := monagent.NewAgentConfig(v)
	cfg := statsd.NewConfig(v)

	ev := util.GetSubViper(v, "emitter")
	// flushed metrics go out in the series envelope unless configured otherwise
	ev.SetDefault(emitter.ParamPayloadFormat, emitter.PayloadSeries)
	httpEmitter, err := emitter.NewHTTPEmitterFromViper(logger, ev)
	if err != nil {
		return err
	}

	agg := aggregator.NewMetricsAggregator(logger, agent.Hostname, cfg.RecentPointThreshold, nil)
	server := statsd.NewServer(logger, agg, statsd.ListenAddr(cfg.Port, agent.NonLocalTraffic), cfg)
	reporter := statsd.NewReporter(logger, agg, httpEmitter, agent.ForwarderURL, cfg)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	statser := stats.NewPrometheusStatser("monasca_statsd", registry, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = stats.NewContext(ctx, statser)

	runnables := []monagent.Runnable{
		func(ctx context.Context) {
			if err := server.Run(ctx); err != nil {
				logger.WithError(err).Error("Statsd server failed")
			}
		},
	}
	if agent.WebAddr != "" {
		hc, dc := healthcheck.Collect(server, reporter)
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

	heartBeater := stats.NewHeartBeater("heartbeat", monagent.Dimensions{"version": Version, "commit": GitCommit})
	background := monagent.MaybeAppendRunnable([]monagent.Runnable{server.RunMetrics}, heartBeater)
	for _, r := range background {
		wg.StartWithContext(ctx, r)
	}

	logger.WithFields(logrus.Fields{
		"version":   Version,
		"forwarder": agent.ForwarderURL,
	}).Info("Starting statsd")
	// the reporter flushes what is left once ctx is done
	reporter.Run(ctx)
	return util.StopCause(ctx)
}
