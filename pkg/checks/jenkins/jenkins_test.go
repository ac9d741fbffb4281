package jenkins

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/internal/fixtures"
	"github.com/monasca/monagent/pkg/checks"
)

const buildXML = `<?xml version='1.0' encoding='UTF-8'?>
<build>
  <actions>
    <hudson.plugins.git.util.BuildData>
      <buildsByBranchName>
        <entry>
          <string>origin/main</string>
          <hudson.plugins.git.util.Build>
            <revision>
              <branches>
                <hudson.plugins.git.Branch>
                  <name>origin/main</name>
                </hudson.plugins.git.Branch>
              </branches>
            </revision>
          </hudson.plugins.git.util.Build>
        </entry>
      </buildsByBranchName>
    </hudson.plugins.git.util.BuildData>
  </actions>
  <number>%s</number>
  <result>%s</result>
  <duration>%s</duration>
</build>`

func addBuild(t *testing.T, home, job, dir, content string) {
	path := filepath.Join(home, "jobs", job, "builds", dir)
	require.NoError(t, os.MkdirAll(path, 0o755))
	if content != "" {
		require.NoError(t, os.WriteFile(filepath.Join(path, buildFileName), []byte(content), 0o600))
	}
}

func build(number, result, duration string) string {
	return fmt.Sprintf(buildXML, number, result, duration)
}

func TestReadBuild(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	addBuild(t, home, "job", "2024-03-01_10-00-00", build("7", "SUCCESS", "1500"))
	addBuild(t, home, "job", "2024-03-01_11-00-00", build("8", "FAILURE", "x"))
	addBuild(t, home, "job", "2024-03-01_12-00-00", "")
	addBuild(t, home, "job", "not_a-date", "")
	require.NoError(t, os.WriteFile(filepath.Join(home, "jobs", "job", "builds", "2024-03-01_13-00-00"), nil, 0o600))
	addBuild(t, home, "job", "2024-03-01_14-00-00", build("9", "SUCCESS", "1"))
	require.NoError(t, os.WriteFile(filepath.Join(home, "jobs", "job", "builds", "2024-03-01_14-00-00", archiveName), nil, 0o600))

	builds := filepath.Join(home, "jobs", "job", "builds")
	r := readBuild(filepath.Join(builds, "2024-03-01_10-00-00"))
	require.Equal(t, kindValid, r.kind, r.err)
	assert.Equal(t, "SUCCESS", r.result)
	assert.Equal(t, "7", r.number)
	assert.EqualValues(t, 1500, r.duration)
	assert.Equal(t, "origin/main", r.branch)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.Local), r.timestamp)

	assert.Equal(t, kindError, readBuild(filepath.Join(builds, "2024-03-01_11-00-00")).kind)
	assert.Equal(t, kindError, readBuild(filepath.Join(builds, "2024-03-01_12-00-00")).kind)
	assert.Equal(t, kindError, readBuild(filepath.Join(builds, "not_a-date")).kind)
	assert.Equal(t, kindSkip, readBuild(filepath.Join(builds, "2024-03-01_13-00-00")).kind)
	assert.Equal(t, kindSkip, readBuild(filepath.Join(builds, "2024-03-01_14-00-00")).kind)
}

func TestJenkinsReportsNewBuilds(t *testing.T) {
	t.Parallel()
	home := t.TempDir()
	addBuild(t, home, "deploy", "2024-03-01_10-00-00", build("1", "SUCCESS", "1000"))
	addBuild(t, home, "tests", "2024-03-01_10-00-00", build("1", "SUCCESS", "1000"))

	instance := monagent.Instance{"name": "ci", "jenkins_home": home}
	c, err := New(fixtures.NewTestLogger(t), checks.Config{
		Name:      Name,
		Agent:     monagent.AgentConfig{Hostname: "h"},
		Instances: []monagent.Instance{instance},
	})
	require.NoError(t, err)
	check := c.(*Check)
	ctx := context.Background()

	// builds finished before the first run are not reported
	require.NoError(t, check.Run(ctx))
	assert.Empty(t, check.GetMetrics())
	assert.Empty(t, check.GetEvents())

	addBuild(t, home, "deploy", "2024-03-01_11-00-00", build("2", "FAILURE", "2500"))
	addBuild(t, home, "deploy", "2024-03-01_12-00-00", "<build><result>")
	addBuild(t, home, "tests", "2024-03-01_11-00-00", build("2", "SUCCESS", "500"))
	require.NoError(t, check.Run(ctx))

	ms := check.GetMetrics()
	byJob := map[string]map[string]float64{}
	for _, m := range ms {
		job := m.Dimensions["job_name"]
		if byJob[job] == nil {
			byJob[job] = map[string]float64{}
		}
		byJob[job][m.Name] = m.Value
		assert.Equal(t, "origin/main", m.Dimensions["branch"])
	}
	assert.Equal(t, map[string]map[string]float64{
		"deploy": {"jenkins.job.duration": 2.5, "jenkins.job.failure": 1},
		"tests":  {"jenkins.job.duration": 0.5, "jenkins.job.success": 1},
	}, byJob)

	events := check.GetEvents()
	require.Len(t, events, 2)
	for _, e := range events {
		assert.Equal(t, eventTitle, e["msg_title"])
		assert.Equal(t, "h", e["host"])
		assert.Equal(t, sourceTypeName, e["source_type_name"])
	}

	// nothing new
	require.NoError(t, check.Run(ctx))
	for _, m := range check.GetMetrics() {
		if m.Name == "jenkins.job.duration" {
			t.Errorf("unexpected duration for %s", m.Dimensions["job_name"])
		}
	}
	assert.Empty(t, check.GetEvents())
}

func TestJenkinsNoJobs(t *testing.T) {
	t.Parallel()
	instance := monagent.Instance{"name": "ci", "jenkins_home": t.TempDir()}
	c, err := New(fixtures.NewTestLogger(t), checks.Config{Name: Name, Instances: []monagent.Instance{instance}})
	require.NoError(t, err)
	err = c.(*Check).check(context.Background(), instance)
	require.Error(t, err)

	err = c.(*Check).check(context.Background(), monagent.Instance{"name": "ci"})
	require.ErrorIs(t, err, checks.ErrMissingConfig)
}
