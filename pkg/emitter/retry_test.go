package emitter

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func retryByViper(policy string, interval, maxTime time.Duration, maxCount int64) (BackoffFactory, error) {
	v := viper.New()
	v.Set(ParamRetryPolicy, policy)
	v.Set(ParamRetryInterval, interval)
	v.Set(ParamRetryMaxCount, maxCount)
	v.Set(ParamMaxRequestElapsedTime, maxTime)
	return RetryFromViper(v)
}

func TestRetryDisabled(t *testing.T) {
	t.Parallel()

	f, err := retryByViper(RetryDisabled, time.Second, time.Second, 10)
	require.NoError(t, err)
	assert.Equal(t, backoff.Stop, f().NextBackOff())
}

func TestRetryConstant(t *testing.T) {
	t.Parallel()

	f, err := retryByViper(RetryConstant, time.Second, time.Minute, 5)
	require.NoError(t, err)
	bo := f()
	for i := 0; i < 5; i++ {
		d := bo.NextBackOff()
		// randomised around the interval, never growing
		require.GreaterOrEqual(t, d, time.Second/2)
		require.LessOrEqual(t, d, 2*time.Second)
	}
	assert.Equal(t, backoff.Stop, bo.NextBackOff())
}

func TestRetryExponential(t *testing.T) {
	t.Parallel()

	f, err := retryByViper(RetryExponential, time.Second, time.Minute, 0)
	require.NoError(t, err)
	bo := f()
	prev := time.Duration(0)
	for i := 0; i < 8; i++ {
		d := bo.NextBackOff()
		require.NotEqual(t, backoff.Stop, d)
		// allow for the randomisation
		require.GreaterOrEqual(t, d, prev/2)
		prev = d
	}
}

func TestRetryDefaults(t *testing.T) {
	t.Parallel()

	f, err := RetryFromViper(viper.New())
	require.NoError(t, err)
	bo, ok := f().(*backoff.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, DefaultMaxRequestElapsedTime, bo.MaxElapsedTime)
}

func TestRetryInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		policy   string
		interval time.Duration
		maxTime  time.Duration
		maxCount int64
		failure  string
	}{
		{"negative interval", RetryConstant, -time.Second, time.Second, 0, ParamRetryInterval},
		{"zero interval", RetryConstant, 0, time.Second, 0, ParamRetryInterval},
		{"negative count", RetryConstant, time.Second, time.Second, -1, ParamRetryMaxCount},
		{"zero max time", RetryConstant, time.Second, 0, 0, ParamMaxRequestElapsedTime},
		{"unknown policy", "sometimes", time.Second, time.Second, 0, ParamRetryPolicy},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f, err := retryByViper(tt.policy, tt.interval, tt.maxTime, tt.maxCount)
			assert.Nil(t, f)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.failure)
		})
	}
}
