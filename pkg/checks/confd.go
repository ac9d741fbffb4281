package checks

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/monasca/monagent"
)

const (
	keyInitConfig = "init_config"
	keyInstances  = "instances"
)

// FileConfig is the content of one conf.d file.
type FileConfig struct {
	Name       string
	InitConfig map[string]interface{}
	Instances  []monagent.Instance
}

// LoadConfD reads every <dir>/*.yaml file. The check name is the file name
// without its extension.
func LoadConfD(dir string) ([]FileConfig, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	configs := make([]FileConfig, 0, len(paths))
	for _, path := range paths {
		fc, err := LoadCheckFile(path)
		if err != nil {
			return nil, err
		}
		configs = append(configs, fc)
	}
	return configs, nil
}

// LoadCheckFile reads the configuration of a single check.
func LoadCheckFile(path string) (FileConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return FileConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}
	fc := FileConfig{
		Name:       strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		InitConfig: v.GetStringMap(keyInitConfig),
	}
	raw, err := cast.ToSliceE(v.Get(keyInstances))
	if err != nil {
		return FileConfig{}, fmt.Errorf("%s: instances must be a list: %w", path, err)
	}
	for i, item := range raw {
		m, err := cast.ToStringMapE(item)
		if err != nil {
			return FileConfig{}, fmt.Errorf("%s: instance #%d: %w", path, i, err)
		}
		fc.Instances = append(fc.Instances, monagent.Instance(m))
	}
	return fc, nil
}

// Load creates a check for every conf.d file known to registry. Files with
// no instances, unknown checks and checks failing to initialise are logged
// and skipped.
func Load(logger logrus.FieldLogger, registry *Registry, dir string, agent monagent.AgentConfig) ([]Check, error) {
	configs, err := LoadConfD(dir)
	if err != nil {
		return nil, err
	}
	var loaded []Check
	for _, fc := range configs {
		log := logger.WithField("check", fc.Name)
		if len(fc.Instances) == 0 {
			log.Warn("No instances configured, skipping")
			continue
		}
		c, err := registry.New(logger, Config{
			Name:       fc.Name,
			InitConfig: fc.InitConfig,
			Agent:      agent,
			Instances:  fc.Instances,
		})
		if err != nil {
			log.WithError(err).Error("Unable to initialize check")
			continue
		}
		log.WithField("instances", len(fc.Instances)).Info("Loaded check")
		loaded = append(loaded, c)
	}
	return loaded, nil
}
