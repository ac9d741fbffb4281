package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/util"
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/checks/builtin"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type runResult struct {
	Run          uint                     `json:"run"`
	Error        string                   `json:"error,omitempty"`
	Measurements []monagent.Measurement   `json:"measurements"`
	Events       []map[string]interface{} `json:"events,omitempty"`
}

func main() {
	opts, code, ok := parseArgs(os.Args[1:], os.Stdout, os.Stderr)
	if !ok {
		os.Exit(code)
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, builtin.NewRegistry(), opts, os.Stdout); err != nil {
		logger.WithError(err).Error("Check failed")
		os.Exit(1)
	}
}

func agentConfig(configPath string) (monagent.AgentConfig, error) {
	v := viper.New()
	util.InitViper(v, "")
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return monagent.AgentConfig{}, err
		}
		if err := util.MergeSections(v, "main"); err != nil {
			return monagent.AgentConfig{}, err
		}
	}
	return monagent.NewAgentConfig(v), nil
}

func run(ctx context.Context, logger logrus.FieldLogger, registry *checks.Registry, opts commandOptions, out io.Writer) error {
	agent, err := agentConfig(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("reading agent configuration: %w", err)
	}
	fc, err := checks.LoadCheckFile(filepath.Join(opts.ConfD, opts.Args.Check+".yaml"))
	if err != nil {
		return err
	}
	check, err := registry.New(logger, checks.Config{
		Name:       fc.Name,
		InitConfig: fc.InitConfig,
		Agent:      agent,
		Instances:  fc.Instances,
	})
	if err != nil {
		return err
	}
	if stopper, ok := check.(checks.Stopper); ok {
		defer stopper.Stop()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	for i := uint(1); i <= opts.Repeat; i++ {
		result := runResult{Run: i}
		if err := check.Run(ctx); err != nil {
			result.Error = err.Error()
		}
		result.Measurements = check.GetMetrics()
		if source, ok := check.(checks.EventSource); ok {
			result.Events = source.GetEvents()
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
		if i == opts.Repeat {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Delay):
		}
	}
	return nil
}
