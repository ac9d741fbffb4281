package util

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of the inspected environment variables.
const EnvPrefix = "MON"

// GetSubViper returns the section key of v, or an empty viper if there is
// none. Environment variables of the section are MON_<KEY>_<PARAM>.
func GetSubViper(v *viper.Viper, key string) *viper.Viper {
	n := v.Sub(key)
	if n == nil {
		n = viper.New()
	}
	InitViper(n, key)
	return n
}

// InitViper sets up env var handling for a viper. This must be run on every created sub viper as these settings
// are not persisted to nested viper instances.
func InitViper(v *viper.Viper, subViperName string) {
	prefix := EnvPrefix
	if subViperName != "" {
		prefix = EnvPrefix + "_" + strings.ToUpper(subViperName)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.SetEnvPrefix(prefix)
	v.SetTypeByDefaultValue(true)
	v.AutomaticEnv()
}

// MergeSections lifts the keys of the named sections of the configuration
// file to the top level of v, so that they share the precedence of flags,
// environment and defaults with top level keys. Later sections win.
func MergeSections(v *viper.Viper, sections ...string) error {
	for _, section := range sections {
		m := v.GetStringMap(section)
		if len(m) == 0 {
			continue
		}
		if err := v.MergeConfigMap(m); err != nil {
			return err
		}
	}
	return nil
}
