package statsd

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
)

const (
	// DefaultPort is the default port the statsd server listens on.
	DefaultPort = 8125
	// DefaultForwardPort is the default port of the relay target.
	DefaultForwardPort = 8125
	// DefaultInterval is the default interval between reporter flushes.
	DefaultInterval = 20 * time.Second
	// DefaultReadTimeout is how long a single socket read may block.
	DefaultReadTimeout = 5 * time.Second
	// DefaultBufferSize is the size of the datagram read buffer.
	DefaultBufferSize = 8 * 1024
	// DefaultEventChunkSize is the number of events per log line when events are dropped.
	DefaultEventChunkSize = 50
	// DefaultRecentPointThreshold is how old a sample may be before it is discarded.
	DefaultRecentPointThreshold = time.Hour
	// DefaultBadLineRateLimit is how many bad lines per second are logged at warning level.
	DefaultBadLineRateLimit = rate.Limit(1)
)

const (
	// ParamInterval is the name of parameter with the reporter flush interval in seconds.
	ParamInterval = "monasca_statsd_interval"
	// ParamPort is the name of parameter with the port to listen on.
	ParamPort = "monasca_statsd_port"
	// ParamForwardHost is the name of parameter with the host every datagram is relayed to.
	ParamForwardHost = "monasca_statsd_forward_host"
	// ParamForwardPort is the name of parameter with the port every datagram is relayed to.
	ParamForwardPort = "monasca_statsd_forward_port"
	// ParamEventChunkSize is the name of parameter with the number of events per log line.
	ParamEventChunkSize = "event_chunk_size"
	// ParamRecentPointThreshold is the name of parameter with the maximum sample age in seconds.
	ParamRecentPointThreshold = "recent_point_threshold"
)

// Config is the statsd section of the agent configuration.
type Config struct {
	Interval             time.Duration
	Port                 int
	ForwardHost          string
	ForwardPort          int
	EventChunkSize       int
	RecentPointThreshold time.Duration
}

// NewConfig reads the statsd section from v.
func NewConfig(v *viper.Viper) Config {
	v.SetDefault(ParamInterval, int(DefaultInterval/time.Second))
	v.SetDefault(ParamPort, DefaultPort)
	v.SetDefault(ParamForwardHost, "")
	v.SetDefault(ParamForwardPort, DefaultForwardPort)
	v.SetDefault(ParamEventChunkSize, DefaultEventChunkSize)
	v.SetDefault(ParamRecentPointThreshold, int(DefaultRecentPointThreshold/time.Second))

	cfg := Config{
		Interval:             time.Duration(v.GetInt(ParamInterval)) * time.Second,
		Port:                 v.GetInt(ParamPort),
		ForwardHost:          v.GetString(ParamForwardHost),
		ForwardPort:          v.GetInt(ParamForwardPort),
		EventChunkSize:       v.GetInt(ParamEventChunkSize),
		RecentPointThreshold: time.Duration(v.GetInt(ParamRecentPointThreshold)) * time.Second,
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.EventChunkSize <= 0 {
		cfg.EventChunkSize = DefaultEventChunkSize
	}
	if cfg.ForwardPort <= 0 {
		cfg.ForwardPort = DefaultForwardPort
	}
	return cfg
}

// AddFlags adds flags to the specified FlagSet.
func AddFlags(fs *pflag.FlagSet) {
	fs.Int(ParamInterval, int(DefaultInterval/time.Second), "Seconds between flushes to the forwarder")
	fs.Int(ParamPort, DefaultPort, "UDP port to listen on")
	fs.String(ParamForwardHost, "", "If set, relay every datagram to this host")
	fs.Int(ParamForwardPort, DefaultForwardPort, "Port of the relay target")
	fs.Int(ParamEventChunkSize, DefaultEventChunkSize, "Events per log line when events are dropped")
	fs.Int(ParamRecentPointThreshold, int(DefaultRecentPointThreshold/time.Second), "Seconds a sample may be old before it is discarded")
}
