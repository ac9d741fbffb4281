package monagent

import (
	"os"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// DefaultCheckFreq is the default interval between collector runs.
	DefaultCheckFreq = 15 * time.Second
	// DefaultForwarderURL is the default forwarder endpoint.
	DefaultForwarderURL = "http://localhost:17123"
	// DefaultSubCollectionWarn is how long a single check may run before a warning is logged.
	DefaultSubCollectionWarn = 6 * time.Second
	// DefaultRestartInterval is the default collector auto-restart interval.
	DefaultRestartInterval = 24 * time.Hour
	// MinRestartInterval and MaxRestartInterval bound collector_restart_interval.
	MinRestartInterval = 1 * time.Hour
	MaxRestartInterval = 48 * time.Hour
	// DefaultServiceCheckTimeout bounds how long a service check job may run before its pool is restarted.
	DefaultServiceCheckTimeout = 180 * time.Second
	// DefaultWebAddr is the default address of the health and metrics endpoint.
	DefaultWebAddr = ""
)

const (
	// ParamCheckFreq is the name of parameter with the collector interval.
	ParamCheckFreq = "check_freq"
	// ParamForwarderURL is the name of parameter with the forwarder url.
	ParamForwarderURL = "forwarder_url"
	// ParamHostname is the name of parameter with the hostname of this agent.
	ParamHostname = "hostname"
	// ParamDimensions is the name of parameter with the default dimensions.
	ParamDimensions = "dimensions"
	// ParamSubCollectionWarn is the name of parameter with the per check warning threshold.
	ParamSubCollectionWarn = "sub_collection_warn"
	// ParamAutoRestart is the name of parameter enabling collector auto-restart.
	ParamAutoRestart = "autorestart"
	// ParamRestartInterval is the name of parameter with the auto-restart interval in hours.
	ParamRestartInterval = "collector_restart_interval"
	// ParamTimeout is the name of parameter with the service check job timeout.
	ParamTimeout = "timeout"
	// ParamNonLocalTraffic is the name of parameter allowing statsd to listen on all interfaces.
	ParamNonLocalTraffic = "non_local_traffic"
	// ParamWebAddr is the name of parameter with the address of the health and metrics endpoint.
	ParamWebAddr = "web_addr"
)

// AgentConfig is the main section of the agent configuration, shared by the
// collector, the statsd daemon and every check.
type AgentConfig struct {
	CheckFreq         time.Duration
	ForwarderURL      string
	Hostname          string
	Dimensions        Dimensions
	SubCollectionWarn time.Duration
	AutoRestart       bool
	RestartInterval   time.Duration
	Timeout           time.Duration
	NonLocalTraffic   bool
	WebAddr           string
}

// DefaultHostname returns the OS hostname, or localhost if it cannot be read.
func DefaultHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}

// SetDefaults registers the defaults of the main section on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(ParamCheckFreq, int(DefaultCheckFreq/time.Second))
	v.SetDefault(ParamForwarderURL, DefaultForwarderURL)
	v.SetDefault(ParamHostname, "")
	v.SetDefault(ParamSubCollectionWarn, int(DefaultSubCollectionWarn/time.Second))
	v.SetDefault(ParamAutoRestart, false)
	v.SetDefault(ParamRestartInterval, int(DefaultRestartInterval/time.Hour))
	v.SetDefault(ParamTimeout, int(DefaultServiceCheckTimeout/time.Second))
	v.SetDefault(ParamNonLocalTraffic, false)
	v.SetDefault(ParamWebAddr, DefaultWebAddr)
}

// NewAgentConfig reads the main section. Durations are configured in seconds,
// the restart interval in hours; out of range restart intervals fall back to
// the default.
func NewAgentConfig(v *viper.Viper) AgentConfig {
	SetDefaults(v)
	cfg := AgentConfig{
		CheckFreq:         time.Duration(v.GetInt(ParamCheckFreq)) * time.Second,
		ForwarderURL:      v.GetString(ParamForwarderURL),
		Hostname:          v.GetString(ParamHostname),
		Dimensions:        Dimensions(v.GetStringMapString(ParamDimensions)),
		SubCollectionWarn: time.Duration(v.GetInt(ParamSubCollectionWarn)) * time.Second,
		AutoRestart:       v.GetBool(ParamAutoRestart),
		RestartInterval:   time.Duration(v.GetInt(ParamRestartInterval)) * time.Hour,
		Timeout:           time.Duration(v.GetInt(ParamTimeout)) * time.Second,
		NonLocalTraffic:   v.GetBool(ParamNonLocalTraffic),
		WebAddr:           v.GetString(ParamWebAddr),
	}
	if cfg.Hostname == "" {
		cfg.Hostname = DefaultHostname()
	}
	if cfg.CheckFreq <= 0 {
		cfg.CheckFreq = DefaultCheckFreq
	}
	if cfg.RestartInterval < MinRestartInterval || cfg.RestartInterval > MaxRestartInterval {
		cfg.RestartInterval = DefaultRestartInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultServiceCheckTimeout
	}
	return cfg
}

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.Int(ParamCheckFreq, int(DefaultCheckFreq/time.Second), "Seconds between collector runs")
	fs.String(ParamForwarderURL, DefaultForwarderURL, "URL of the forwarder measurements are posted to")
	fs.String(ParamHostname, "", "Hostname dimension added to every measurement, defaults to the OS hostname")
	fs.Int(ParamSubCollectionWarn, int(DefaultSubCollectionWarn/time.Second), "Seconds a single check may run before a warning is logged")
	fs.Bool(ParamAutoRestart, false, "Restart the collector periodically")
	fs.Int(ParamRestartInterval, int(DefaultRestartInterval/time.Hour), "Hours between collector restarts (1-48)")
	fs.Int(ParamTimeout, int(DefaultServiceCheckTimeout/time.Second), "Seconds a service check job may run before its pool is restarted")
	fs.Bool(ParamNonLocalTraffic, false, "Listen for statsd traffic on all interfaces")
	fs.String(ParamWebAddr, DefaultWebAddr, "If set, serve health and metrics on this address")
}
