package emitter

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/viper"
)

const (
	// ParamRetryPolicy is the name of parameter selecting how failed posts are retried.
	ParamRetryPolicy = "retry_policy"
	// ParamRetryInterval is the name of parameter with the interval of the constant policy.
	ParamRetryInterval = "retry_interval"
	// ParamRetryMaxCount is the name of parameter with the maximum number of retries, 0 for no limit.
	ParamRetryMaxCount = "retry_max_count"

	// RetryExponential doubles the pause between retries.
	RetryExponential = "exponential"
	// RetryConstant retries every retry_interval.
	RetryConstant = "constant"
	// RetryDisabled posts every batch once.
	RetryDisabled = "disabled"

	// DefaultRetryInterval is the default interval of the constant policy.
	DefaultRetryInterval = 1 * time.Second
	// DefaultRetryPolicy is the default retry policy.
	DefaultRetryPolicy = RetryExponential
)

// BackoffFactory returns a fresh backoff for every batch.
type BackoffFactory func() backoff.BackOff

// NewBackoffFactory creates a BackoffFactory based on a backoff.ExponentialBackOff.
// A multiplier of 1 gives a constant interval, with the randomisation and the
// elapsed time limit backoff.ConstantBackOff lacks.
func NewBackoffFactory(multiplier float64, maxElapsedTime, interval time.Duration, maxRetries uint64) BackoffFactory {
	return func() backoff.BackOff {
		bo := backoff.NewExponentialBackOff()
		bo.Multiplier = multiplier
		bo.MaxElapsedTime = maxElapsedTime
		bo.InitialInterval = interval
		bo.Reset() // Reset is required to make the InitialInterval change take effect.
		if maxRetries == 0 {
			return bo
		}
		return backoff.WithMaxRetries(bo, maxRetries)
	}
}

// RetryFromViper reads the retry policy of the emitter section. Retries of a
// batch stop after max_request_elapsed_time whatever the policy.
func RetryFromViper(v *viper.Viper) (BackoffFactory, error) {
	v.SetDefault(ParamRetryPolicy, DefaultRetryPolicy)
	v.SetDefault(ParamRetryInterval, DefaultRetryInterval)
	v.SetDefault(ParamRetryMaxCount, 0)
	v.SetDefault(ParamMaxRequestElapsedTime, DefaultMaxRequestElapsedTime)

	policy := v.GetString(ParamRetryPolicy)
	interval := v.GetDuration(ParamRetryInterval)
	maxCount := v.GetInt64(ParamRetryMaxCount)
	maxTime := v.GetDuration(ParamMaxRequestElapsedTime)

	if interval <= 0 {
		return nil, errors.New(ParamRetryInterval + " must be positive")
	}
	if maxCount < 0 {
		return nil, errors.New(ParamRetryMaxCount + " must be zero or positive")
	}
	if maxTime <= 0 {
		return nil, errors.New(ParamMaxRequestElapsedTime + " must be positive")
	}

	switch policy {
	case RetryDisabled:
		return func() backoff.BackOff { return &backoff.StopBackOff{} }, nil
	case RetryExponential:
		return NewBackoffFactory(backoff.DefaultMultiplier, maxTime, backoff.DefaultInitialInterval, uint64(maxCount)), nil
	case RetryConstant:
		return NewBackoffFactory(1.0, maxTime, interval, uint64(maxCount)), nil
	default:
		return nil, fmt.Errorf("%s (%s) not one of %s, %s, or %s", ParamRetryPolicy, policy, RetryDisabled, RetryConstant, RetryExponential)
	}
}
