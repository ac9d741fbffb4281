package healthcheck

// HealthcheckFunc is a function that returns a status message, and if the check if healthy or not (false).
// healthchecks must not block, and downstream dependencies should be reported on via a watchdog style, and not by
// making a roundtrip.
type HealthcheckFunc func() (string, HealthyStatus)

type HealthyStatus bool

const (
	Healthy   = HealthyStatus(true)
	Unhealthy = HealthyStatus(false)
)

// HealthCheckProvider reports if a component is ready to process traffic.
type HealthCheckProvider interface {
	HealthChecks() []HealthcheckFunc
}

// DeepCheckProvider reports on the downstream dependencies of a component.
type DeepCheckProvider interface {
	DeepChecks() []HealthcheckFunc
}

// Collect gathers the checks of every provider among components.
func Collect(components ...interface{}) (healthChecks []HealthcheckFunc, deepChecks []HealthcheckFunc) {
	for _, c := range components {
		if hcp, ok := c.(HealthCheckProvider); ok {
			healthChecks = append(healthChecks, hcp.HealthChecks()...)
		}
		if dcp, ok := c.(DeepCheckProvider); ok {
			deepChecks = append(deepChecks, dcp.DeepChecks()...)
		}
	}
	return healthChecks, deepChecks
}
