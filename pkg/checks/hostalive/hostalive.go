// Package hostalive checks that remote hosts are reachable, either by
// reading their SSH banner, by opening a TCP connection or by pinging them.
package hostalive

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os/exec"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/servicecheck"
)

const (
	// Name of the check.
	Name = "host_alive"

	TestSSH  = "ssh"
	TestTCP  = "tcp"
	TestPing = "ping"

	defaultSSHPort = 22
	defaultTimeout = 10 * time.Second
)

type initConfig struct {
	SSHPort     int `mapstructure:"ssh_port"`
	SSHTimeout  int `mapstructure:"ssh_timeout"`
	PingTimeout int `mapstructure:"ping_timeout"`
}

type instanceConfig struct {
	Name      string `mapstructure:"name" validate:"required"`
	HostName  string `mapstructure:"host_name" validate:"required"`
	AliveTest string `mapstructure:"alive_test" validate:"required"`
	Port      int    `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Check is the host_alive check.
type Check struct {
	*checks.ServiceBase
	init     initConfig
	observer string
	dialer   net.Dialer
	ping     func(ctx context.Context, host string, timeout int) error
}

// New is the checks.Factory of the host_alive check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	c := &Check{
		observer: cfg.Agent.Hostname,
		ping:     ping,
	}
	if err := checks.DecodeInstance(cfg.InitConfig, &c.init); err != nil {
		return nil, err
	}
	if c.init.SSHPort == 0 {
		c.init.SSHPort = defaultSSHPort
	}
	c.ServiceBase = checks.NewServiceBase(logger, cfg, c.CheckService, nil)
	return c, nil
}

// CheckService reports host_alive_status, 0 when the host answered.
func (c *Check) CheckService(ctx context.Context, instance monagent.Instance) (servicecheck.Status, string, error) {
	var cfg instanceConfig
	if err := checks.DecodeInstance(instance, &cfg); err != nil {
		return servicecheck.StatusNone, "", err
	}
	dims := c.SetDimensions(monagent.Dimensions{
		monagent.DimensionHostname: cfg.HostName,
		"observer_host":            c.observer,
		"test_type":                cfg.AliveTest,
	}, instance)

	var err error
	switch cfg.AliveTest {
	case TestSSH:
		err = c.testSSH(ctx, cfg.HostName)
	case TestTCP:
		err = c.testTCP(ctx, cfg.HostName, cfg.Port)
	case TestPing:
		err = c.ping(ctx, cfg.HostName, c.init.PingTimeout)
	default:
		err = fmt.Errorf("unrecognized alive_test: %s", cfg.AliveTest)
	}
	if err != nil {
		c.Logger().WithField("host", cfg.HostName).WithError(err).Info("Host is not alive")
		if gerr := c.Gauge("host_alive_status", 1, checks.WithDimensions(dims), checks.WithValueMeta(map[string]string{"error": err.Error()})); gerr != nil {
			return servicecheck.StatusNone, "", gerr
		}
		return servicecheck.StatusDown, "DOWN", nil
	}
	if gerr := c.Gauge("host_alive_status", 0, checks.WithDimensions(dims)); gerr != nil {
		return servicecheck.StatusNone, "", gerr
	}
	return servicecheck.StatusUp, "UP", nil
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return defaultTimeout
	}
	return time.Duration(n) * time.Second
}

func (c *Check) dial(ctx context.Context, host string, port int, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := c.dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("unable to open socket to host %s: %w", host, err)
	}
	return conn, nil
}

// testSSH connects to the SSH port and expects an SSH banner.
func (c *Check) testSSH(ctx context.Context, host string) error {
	timeout := seconds(c.init.SSHTimeout)
	conn, err := c.dial(ctx, host, c.init.SSHPort, timeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}
	banner := make([]byte, 1024)
	n, err := conn.Read(banner)
	if err != nil {
		return fmt.Errorf("unable to read banner from host %s: %w", host, err)
	}
	if !bytes.HasPrefix(banner[:n], []byte("SSH")) {
		return fmt.Errorf("unexpected response %q from host %s", banner[:n], host)
	}
	return nil
}

func (c *Check) testTCP(ctx context.Context, host string, port int) error {
	if port == 0 {
		return fmt.Errorf("must provide `port` value in instance config for alive_test %s", TestTCP)
	}
	conn, err := c.dial(ctx, host, port, defaultTimeout)
	if err != nil {
		return err
	}
	return conn.Close()
}

func ping(ctx context.Context, host string, timeout int) error {
	args := []string{"-c", "1", "-q"}
	if timeout > 0 {
		args = append(args, "-W", strconv.Itoa(timeout))
	}
	args = append(args, host)
	out, err := exec.CommandContext(ctx, "ping", args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("host not accessible, ping test failed: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}
