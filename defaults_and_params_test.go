package monagent

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddFlags(t *testing.T) {
	require.NotPanics(t, func() {
		fs := &pflag.FlagSet{}
		AddFlags(fs)
	})
}

func TestNewAgentConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := NewAgentConfig(viper.New())
	assert.Equal(t, DefaultCheckFreq, cfg.CheckFreq)
	assert.Equal(t, DefaultForwarderURL, cfg.ForwarderURL)
	assert.Equal(t, DefaultSubCollectionWarn, cfg.SubCollectionWarn)
	assert.Equal(t, DefaultRestartInterval, cfg.RestartInterval)
	assert.Equal(t, DefaultServiceCheckTimeout, cfg.Timeout)
	assert.NotEmpty(t, cfg.Hostname)
	assert.False(t, cfg.AutoRestart)
}

func TestNewAgentConfigRestartInterval(t *testing.T) {
	t.Parallel()
	tests := map[string]struct {
		hours    int
		expected time.Duration
	}{
		"in range": {hours: 2, expected: 2 * time.Hour},
		"too low":  {hours: 0, expected: DefaultRestartInterval},
		"too high": {hours: 49, expected: DefaultRestartInterval},
		"max":      {hours: 48, expected: 48 * time.Hour},
	}
	for name, tc := range tests {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			v := viper.New()
			v.Set(ParamRestartInterval, tc.hours)
			assert.Equal(t, tc.expected, NewAgentConfig(v).RestartInterval)
		})
	}
}

func TestNewAgentConfigDimensions(t *testing.T) {
	t.Parallel()
	v := viper.New()
	v.Set(ParamDimensions, map[string]interface{}{"service": "monitoring", "env": "prod"})
	v.Set(ParamHostname, "web01")
	cfg := NewAgentConfig(v)
	assert.Equal(t, Dimensions{"service": "monitoring", "env": "prod"}, cfg.Dimensions)
	assert.Equal(t, "web01", cfg.Hostname)
}
