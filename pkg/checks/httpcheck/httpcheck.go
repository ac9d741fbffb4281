// Package httpcheck probes HTTP endpoints and reports whether they are up.
package httpcheck

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/servicecheck"
)

const (
	// Name of the check.
	Name = "http_check"

	defaultTimeout = 10 * time.Second
	userAgent      = "monasca-collector"
	maxBodySize    = 1 << 20
	maxErrorMeta   = 512
)

type instanceConfig struct {
	Name                 string            `mapstructure:"name" validate:"required"`
	URL                  string            `mapstructure:"url" validate:"required,url"`
	Username             string            `mapstructure:"username"`
	Password             string            `mapstructure:"password"`
	Timeout              int               `mapstructure:"timeout" validate:"gte=0"`
	Headers              map[string]string `mapstructure:"headers"`
	CollectResponseTime  bool              `mapstructure:"collect_response_time"`
	DisableSSLValidation *bool             `mapstructure:"disable_ssl_validation"`
	MatchPattern         string            `mapstructure:"match_pattern"`
}

func (c *instanceConfig) timeout() time.Duration {
	if c.Timeout <= 0 {
		return defaultTimeout
	}
	return time.Duration(c.Timeout) * time.Second
}

func (c *instanceConfig) skipVerify() bool {
	return c.DisableSSLValidation == nil || *c.DisableSSLValidation
}

// Check is the http_check check.
type Check struct {
	*checks.ServiceBase
	verifying *http.Client
	insecure  *http.Client
}

// New is the checks.Factory of the http_check check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	c := &Check{
		verifying: &http.Client{Transport: newTransport(false)},
		insecure:  &http.Client{Transport: newTransport(true)},
	}
	c.ServiceBase = checks.NewServiceBase(logger, cfg, c.CheckService, checks.NoStatusEvents)
	return c, nil
}

func newTransport(skipVerify bool) *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{InsecureSkipVerify: skipVerify} // #nosec G402
	return t
}

// CheckService requests the instance url and reports http_status, 0 when
// the endpoint is up and 1 otherwise.
func (c *Check) CheckService(ctx context.Context, instance monagent.Instance) (servicecheck.Status, string, error) {
	var cfg instanceConfig
	if err := checks.DecodeInstance(instance, &cfg); err != nil {
		return servicecheck.StatusNone, "", err
	}
	dims := checks.WithDimensions(c.SetDimensions(monagent.Dimensions{"url": cfg.URL}, instance))

	body, msg := c.request(ctx, &cfg, dims)
	if msg != "" {
		c.down(msg, dims)
		return servicecheck.StatusDown, msg, nil
	}
	if cfg.MatchPattern != "" {
		re, err := regexp.Compile("(?s)" + cfg.MatchPattern)
		if err != nil {
			return servicecheck.StatusNone, "", fmt.Errorf("invalid match_pattern: %w", err)
		}
		if !re.Match(body) {
			msg = fmt.Sprintf("Pattern match failed! %q not in %q", cfg.MatchPattern, body)
			c.Logger().Info(msg)
			c.down(msg, dims)
			return servicecheck.StatusDown, msg, nil
		}
		c.Logger().Debug("Pattern match successful")
	}
	msg = fmt.Sprintf("%s is UP", cfg.URL)
	c.Logger().Debug(msg)
	if err := c.Gauge("http_status", 0, dims); err != nil {
		return servicecheck.StatusNone, "", err
	}
	return servicecheck.StatusUp, msg, nil
}

func (c *Check) down(msg string, dims checks.SubmitOpt) {
	if len(msg) > maxErrorMeta {
		msg = msg[:maxErrorMeta]
	}
	if err := c.Gauge("http_status", 1, dims, checks.WithValueMeta(map[string]string{"error": msg})); err != nil {
		c.Logger().WithError(err).Warn("Unable to report http_status")
	}
}

// request returns the response body, or a message describing why the
// endpoint is down.
func (c *Check) request(ctx context.Context, cfg *instanceConfig, dims checks.SubmitOpt) ([]byte, string) {
	ctx, cancel := context.WithTimeout(ctx, cfg.timeout())
	defer cancel()

	client := c.verifying
	if cfg.skipVerify() {
		c.Logger().Debugf("Skipping SSL certificate validation for %s based on configuration", cfg.URL)
		client = c.insecure
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Sprintf("%s is DOWN, error: %v", cfg.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.Username != "" && cfg.Password != "" {
		req.SetBasicAuth(cfg.Username, cfg.Password)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		msg := fmt.Sprintf("%s is DOWN, error: %v. Connection failed after %d ms", cfg.URL, err, time.Since(start).Milliseconds())
		c.Logger().Warn(msg)
		return nil, msg
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if cfg.CollectResponseTime {
		if err := c.Gauge("http_response_time", time.Since(start).Seconds(), dims); err != nil {
			c.Logger().WithError(err).Warn("Unable to report http_response_time")
		}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := fmt.Sprintf("%s is DOWN, error code: %d", cfg.URL, resp.StatusCode)
		c.Logger().Warn(msg)
		return nil, msg
	}
	if err != nil {
		msg := fmt.Sprintf("%s is DOWN, error: %v", cfg.URL, err)
		c.Logger().Warn(msg)
		return nil, msg
	}
	return body, ""
}
