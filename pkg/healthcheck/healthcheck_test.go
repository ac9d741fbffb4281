package healthcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type provider struct{}

func (provider) HealthChecks() []HealthcheckFunc {
	return []HealthcheckFunc{func() (string, HealthyStatus) { return "up", Healthy }}
}

func (provider) DeepChecks() []HealthcheckFunc {
	return []HealthcheckFunc{func() (string, HealthyStatus) { return "down", Unhealthy }}
}

func TestCollect(t *testing.T) {
	t.Parallel()

	hc, dc := Collect(provider{}, "not a provider", provider{})
	assert.Len(t, hc, 2)
	assert.Len(t, dc, 2)
	msg, status := dc[0]()
	assert.Equal(t, "down", msg)
	assert.Equal(t, Unhealthy, status)
}
