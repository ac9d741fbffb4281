package web

import (
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent/pkg/healthcheck"
)

type healthChecker struct {
	logger       logrus.FieldLogger
	healthChecks []healthcheck.HealthcheckFunc
	deepChecks   []healthcheck.HealthcheckFunc
}

type healthReport struct {
	OK     []string `json:"ok"`
	Failed []string `json:"failed"`
}

func runHealthChecks(checks []healthcheck.HealthcheckFunc) healthReport {
	// Force it render as an array, not null
	report := healthReport{OK: []string{}, Failed: []string{}}
	for _, check := range checks {
		msg, status := check()
		if status == healthcheck.Healthy {
			report.OK = append(report.OK, msg)
		} else {
			report.Failed = append(report.Failed, msg)
		}
	}
	return report
}

func (hc *healthChecker) respond(resp http.ResponseWriter, checks []healthcheck.HealthcheckFunc) {
	report := runHealthChecks(checks)
	resp.Header().Set("content-type", "application/json")
	if len(report.Failed) > 0 {
		hc.logger.WithField("failed", report.Failed).Warn("Health check failed")
		resp.WriteHeader(http.StatusInternalServerError)
	} else {
		resp.WriteHeader(http.StatusOK)
	}
	if err := jsoniter.NewEncoder(resp).Encode(report); err != nil {
		hc.logger.WithError(err).Debug("failed to write health report")
	}
}

// healthCheck reports if the daemon is ready to process traffic.
func (hc *healthChecker) healthCheck(resp http.ResponseWriter, req *http.Request) {
	hc.respond(resp, hc.healthChecks)
}

// deepCheck reports on the status of the forwarder and the collection loops.
func (hc *healthChecker) deepCheck(resp http.ResponseWriter, req *http.Request) {
	hc.respond(resp, hc.deepChecks)
}
