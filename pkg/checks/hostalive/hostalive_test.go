package hostalive

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/checks"
	"github.com/monasca/monagent/pkg/servicecheck"
)

// listen serves banner to every connection on a random local port.
func listen(t *testing.T, banner string) int {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			_, _ = conn.Write([]byte(banner))
			_ = conn.Close()
		}
	}()
	return l.Addr().(*net.TCPAddr).Port
}

func newTestCheck(t *testing.T, init map[string]interface{}, instance monagent.Instance) *Check {
	c, err := New(fixtures.NewTestLogger(t), checks.Config{
		Name:       Name,
		InitConfig: init,
		Agent:      monagent.AgentConfig{Hostname: "observer"},
		Instances:  []monagent.Instance{instance},
	})
	require.NoError(t, err)
	t.Cleanup(c.(*Check).Stop)
	return c.(*Check)
}

func TestHostAlive(t *testing.T) {
	t.Parallel()
	sshPort := listen(t, "SSH-2.0-OpenSSH_9.6\r\n")
	httpPort := listen(t, "HTTP/1.1 400 Bad Request\r\n")

	tests := []struct {
		name   string
		init   map[string]interface{}
		inst   monagent.Instance
		status servicecheck.Status
	}{
		{
			name:   "ssh banner",
			init:   map[string]interface{}{"ssh_port": sshPort, "ssh_timeout": 2},
			inst:   monagent.Instance{"name": "a", "host_name": "127.0.0.1", "alive_test": "ssh"},
			status: servicecheck.StatusUp,
		},
		{
			name:   "unexpected banner",
			init:   map[string]interface{}{"ssh_port": httpPort, "ssh_timeout": 2},
			inst:   monagent.Instance{"name": "a", "host_name": "127.0.0.1", "alive_test": "ssh"},
			status: servicecheck.StatusDown,
		},
		{
			name:   "tcp",
			inst:   monagent.Instance{"name": "a", "host_name": "127.0.0.1", "alive_test": "tcp", "port": strconv.Itoa(httpPort)},
			status: servicecheck.StatusUp,
		},
		{
			name:   "tcp without port",
			inst:   monagent.Instance{"name": "a", "host_name": "127.0.0.1", "alive_test": "tcp"},
			status: servicecheck.StatusDown,
		},
		{
			name:   "unknown test",
			inst:   monagent.Instance{"name": "a", "host_name": "127.0.0.1", "alive_test": "smoke"},
			status: servicecheck.StatusDown,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newTestCheck(t, tt.init, tt.inst)
			status, _, err := c.CheckService(context.Background(), tt.inst)
			require.NoError(t, err)
			assert.Equal(t, tt.status, status)

			ms := c.GetMetrics()
			require.Len(t, ms, 1)
			m := ms[0]
			assert.Equal(t, "host_alive_status", m.Name)
			assert.Equal(t, "127.0.0.1", m.Dimensions["hostname"])
			assert.Equal(t, "observer", m.Dimensions["observer_host"])
			assert.Equal(t, tt.inst["alive_test"], m.Dimensions["test_type"])
			if tt.status == servicecheck.StatusUp {
				assert.EqualValues(t, 0, m.Value)
			} else {
				assert.EqualValues(t, 1, m.Value)
				assert.NotEmpty(t, m.ValueMeta["error"])
			}
		})
	}
}

func TestHostAlivePing(t *testing.T) {
	t.Parallel()
	inst := monagent.Instance{"name": "a", "host_name": "10.0.0.1", "alive_test": "ping"}
	c := newTestCheck(t, map[string]interface{}{"ping_timeout": 3}, inst)
	var gotHost string
	var gotTimeout int
	c.ping = func(_ context.Context, host string, timeout int) error {
		gotHost, gotTimeout = host, timeout
		return errors.New("100% packet loss")
	}
	status, _, err := c.CheckService(context.Background(), inst)
	require.NoError(t, err)
	assert.Equal(t, servicecheck.StatusDown, status)
	assert.Equal(t, "10.0.0.1", gotHost)
	assert.Equal(t, 3, gotTimeout)
}

func TestHostAliveMissingHost(t *testing.T) {
	t.Parallel()
	inst := monagent.Instance{"name": "a", "alive_test": "ssh"}
	c := newTestCheck(t, nil, inst)
	_, _, err := c.CheckService(context.Background(), inst)
	require.ErrorIs(t, err, checks.ErrMissingConfig)
}
