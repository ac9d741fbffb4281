// Package redisdb reports statistics from the INFO command of redis servers.
package redisdb

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
)

// Name of the check.
const Name = "redisdb"

var gaugeKeys = map[string]string{
	// Append-only metrics
	"aof_last_rewrite_time_sec": "redis.aof.last_rewrite_time",
	"aof_rewrite_in_progress":   "redis.aof.rewrite",
	"aof_current_size":          "redis.aof.size",
	"aof_buffer_length":         "redis.aof.buffer_length",

	"connected_clients":    "redis.net.clients",
	"connected_slaves":     "redis.net.slaves",
	"rejected_connections": "redis.net.rejected",

	"blocked_clients":            "redis.clients.blocked",
	"client_biggest_input_buf":   "redis.clients.biggest_input_buf",
	"client_longest_output_list": "redis.clients.longest_output_list",

	"evicted_keys": "redis.keys.evicted",
	"expired_keys": "redis.keys.expired",

	"keyspace_hits":    "redis.stats.keyspace_hits",
	"keyspace_misses":  "redis.stats.keyspace_misses",
	"latest_fork_usec": "redis.perf.latest_fork_usec",

	"pubsub_channels": "redis.pubsub.channels",
	"pubsub_patterns": "redis.pubsub.patterns",

	"rdb_bgsave_in_progress":      "redis.rdb.bgsave",
	"rdb_changes_since_last_save": "redis.rdb.changes_since_last",
	"rdb_last_bgsave_time_sec":    "redis.rdb.last_bgsave_time",

	"mem_fragmentation_ratio": "redis.mem.fragmentation_ratio",
	"used_memory":             "redis.mem.used",
	"used_memory_lua":         "redis.mem.lua",
	"used_memory_peak":        "redis.mem.peak",
	"used_memory_rss":         "redis.mem.rss",

	"master_last_io_seconds_ago": "redis.replication.last_io_seconds_ago",
	"master_sync_in_progress":    "redis.replication.sync",
	"master_sync_left_bytes":     "redis.replication.sync_left_bytes",
}

var rateKeys = map[string]string{
	"used_cpu_sys":           "redis.cpu.sys",
	"used_cpu_sys_children":  "redis.cpu.sys_children",
	"used_cpu_user":          "redis.cpu.user",
	"used_cpu_user_children": "redis.cpu.user_children",
}

var (
	dbKeyPattern = regexp.MustCompile(`^db\d+$`)
	dbSubkeys    = []string{"keys", "expires"}
)

type instanceConfig struct {
	Host           string `mapstructure:"host" validate:"required_without=UnixSocketPath"`
	Port           int    `mapstructure:"port" validate:"required_without=UnixSocketPath"`
	UnixSocketPath string `mapstructure:"unix_socket_path"`
	DB             *int   `mapstructure:"db"`
	Password       string `mapstructure:"password"`
	SocketTimeout  int    `mapstructure:"socket_timeout"`
}

func (c *instanceConfig) key() string {
	db := "-"
	if c.DB != nil {
		db = strconv.Itoa(*c.DB)
	}
	if c.UnixSocketPath != "" {
		return c.UnixSocketPath + "/" + db
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) + "/" + db
}

// infoFunc returns the raw output of the INFO command.
type infoFunc func(ctx context.Context) (string, error)

// Check is the redisdb check.
type Check struct {
	*checks.Base
	clients map[string]*redis.Client
	connect func(cfg *instanceConfig) infoFunc
}

// New is the checks.Factory of the redisdb check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	c := &Check{
		Base:    checks.NewBase(logger, cfg),
		clients: map[string]*redis.Client{},
	}
	c.connect = c.client
	return c, nil
}

func (c *Check) client(cfg *instanceConfig) infoFunc {
	key := cfg.key()
	client, ok := c.clients[key]
	if !ok {
		opts := &redis.Options{
			Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
			Password: cfg.Password,
		}
		if cfg.UnixSocketPath != "" {
			opts.Network = "unix"
			opts.Addr = cfg.UnixSocketPath
		}
		if cfg.DB != nil {
			opts.DB = *cfg.DB
		}
		if cfg.SocketTimeout > 0 {
			opts.ReadTimeout = time.Duration(cfg.SocketTimeout) * time.Second
			opts.WriteTimeout = opts.ReadTimeout
		}
		client = redis.NewClient(opts)
		c.clients[key] = client
	}
	return func(ctx context.Context) (string, error) {
		return client.WithContext(ctx).Info().Result()
	}
}

func (c *Check) Run(ctx context.Context) error {
	return c.RunInstances(ctx, c.check)
}

// Stop closes the redis connections.
func (c *Check) Stop() {
	for key, client := range c.clients {
		if err := client.Close(); err != nil {
			c.Logger().WithError(err).WithField("redis", key).Warn("Failed to close redis client")
		}
		delete(c.clients, key)
	}
}

func (c *Check) check(ctx context.Context, instance monagent.Instance) error {
	var cfg instanceConfig
	if err := checks.DecodeInstance(instance, &cfg); err != nil {
		return fmt.Errorf("you must specify a host/port couple or a unix_socket_path: %w", err)
	}
	extra := monagent.Dimensions{}
	if cfg.UnixSocketPath != "" {
		extra["unix_socket_path"] = cfg.UnixSocketPath
	} else {
		extra["redis_host"] = cfg.Host
		extra["redis_port"] = strconv.Itoa(cfg.Port)
	}
	if cfg.DB != nil {
		extra[monagent.DimensionDB] = strconv.Itoa(*cfg.DB)
	}
	dims := c.SetDimensions(extra, instance)

	start := time.Now()
	raw, err := c.connect(&cfg)(ctx)
	if err != nil {
		return fmt.Errorf("redis INFO: %w", err)
	}
	latency := math.Round(float64(time.Since(start).Microseconds())/10) / 100
	if err := c.Gauge("redis.info.latency_ms", latency, checks.WithDimensions(dims)); err != nil {
		return err
	}

	info := parseInfo(raw)
	for key, value := range info {
		if !dbKeyPattern.MatchString(key) {
			continue
		}
		dbDims := dims.Copy()
		dbDims["redis_db"] = key
		fields := parseDictString(value)
		for _, sub := range dbSubkeys {
			v, ok := fields[sub]
			if !ok {
				v = -1
			}
			if err := c.Gauge("redis."+sub, v, checks.WithDimensions(dbDims)); err != nil {
				return err
			}
		}
	}
	for key, name := range gaugeKeys {
		if v, ok := number(info, key); ok {
			if err := c.Gauge(name, v, checks.WithDimensions(dims)); err != nil {
				return err
			}
		}
	}
	for key, name := range rateKeys {
		if v, ok := number(info, key); ok {
			if err := c.Rate(name, v, checks.WithDimensions(dims)); err != nil {
				return err
			}
		}
	}
	if v, ok := number(info, "total_commands_processed"); ok {
		return c.Rate("redis.net.commands", v, checks.WithDimensions(dims))
	}
	return nil
}

func number(info map[string]string, key string) (float64, bool) {
	s, ok := info[key]
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseInfo splits the output of INFO into its key:value pairs.
func parseInfo(raw string) map[string]string {
	info := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(raw))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		info[k] = v
	}
	return info
}

// parseDictString parses the numeric fields of a keyspace line such as
// keys=3,expires=0,avg_ttl=0.
func parseDictString(s string) map[string]float64 {
	out := map[string]float64{}
	for _, item := range strings.Split(s, ",") {
		idx := strings.LastIndex(item, "=")
		if idx < 0 {
			continue
		}
		v, err := strconv.ParseFloat(item[idx+1:], 64)
		if err != nil {
			continue
		}
		out[item[:idx]] = v
	}
	return out
}
