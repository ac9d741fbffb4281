package util

import (
	"errors"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// ParamConfigPath provides file with configuration.
	ParamConfigPath = "config-path"
	// ParamVersion makes program output its version.
	ParamVersion = "version"
)

// Configuration sections lifted to the top level of the viper.
var configSections = []string{"main", "logging", "statsd"}

// ParseConfiguration binds fs to a new viper, parses args and reads the
// configuration file given by --config-path, if any. It returns
// pflag.ErrHelp when help was requested.
func ParseConfiguration(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	v := viper.New()
	InitViper(v, "")

	fs.Bool(ParamVersion, false, "Print the version and exit")
	fs.String(ParamConfigPath, "", "Path to the configuration file")
	AddLoggingFlags(fs)

	fs.VisitAll(func(flag *pflag.Flag) {
		if err := v.BindPFlag(flag.Name, flag); err != nil {
			panic(err) // Should never happen
		}
	})

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	configPath := v.GetString(ParamConfigPath)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
		if err := MergeSections(v, configSections...); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// NewFlagSet returns a FlagSet for the running program that reports errors
// instead of exiting.
func NewFlagSet() *pflag.FlagSet {
	return pflag.NewFlagSet(os.Args[0], pflag.ContinueOnError)
}

// IsHelp reports whether err means help was printed.
func IsHelp(err error) bool {
	return errors.Is(err, pflag.ErrHelp)
}
