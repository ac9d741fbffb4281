// Package jenkins reports the results of Jenkins builds found under a
// jenkins_home directory, only counting builds finished since the agent
// started.
package jenkins

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/monasca/monagent"
	"github.com/monasca/monagent/pkg/checks"
)

const (
	// Name of the check.
	Name = "jenkins"

	dirTimeFormat  = "2006-01-02_15-04-05"
	archiveName    = "jenkins_build.tar.gz"
	buildFileName  = "build.xml"
	sourceTypeName = "jenkins"
	eventTitle     = "build result"
)

type instanceConfig struct {
	Name        string `mapstructure:"name"`
	JenkinsHome string `mapstructure:"jenkins_home" validate:"required"`
}

type resultKind int

const (
	kindValid resultKind = iota
	// kindSkip marks directories which are not builds, or archived builds.
	kindSkip
	kindError
)

// buildResult is what was found in one build directory.
type buildResult struct {
	kind      resultKind
	dir       string
	reason    string
	err       error
	timestamp time.Time
	result    string
	number    string
	duration  float64
	branch    string
}

type buildFile struct {
	Result   string `xml:"result"`
	Number   string `xml:"number"`
	Duration string `xml:"duration"`
	Branch   string `xml:"actions>hudson.plugins.git.util.BuildData>buildsByBranchName>entry>hudson.plugins.git.util.Build>revision>branches>hudson.plugins.git.Branch>name"`
}

// Check is the jenkins check.
type Check struct {
	*checks.Base
	// highWatermarks holds per instance the timestamp of the last build seen for each job.
	highWatermarks map[string]map[string]time.Time
}

// New is the checks.Factory of the jenkins check.
func New(logger logrus.FieldLogger, cfg checks.Config) (checks.Check, error) {
	return &Check{
		Base:           checks.NewBase(logger, cfg),
		highWatermarks: map[string]map[string]time.Time{},
	}, nil
}

func (c *Check) Run(ctx context.Context) error {
	return c.RunInstances(ctx, c.check)
}

func (c *Check) check(ctx context.Context, instance monagent.Instance) error {
	var cfg instanceConfig
	if err := checks.DecodeInstance(instance, &cfg); err != nil {
		return err
	}
	jobsGlob := filepath.Join(cfg.JenkinsHome, "jobs", "*")
	jobDirs, err := filepath.Glob(jobsGlob)
	if err != nil {
		return err
	}
	if len(jobDirs) == 0 {
		return fmt.Errorf("no jobs found in `%s`, check `jenkins_home` in the config", jobsGlob)
	}

	watermarks, seen := c.highWatermarks[cfg.Name]
	if !seen {
		// The first run only records the latest builds so builds finished
		// before the agent started are not reported.
		watermarks = map[string]time.Time{}
		c.highWatermarks[cfg.Name] = watermarks
	}
	for _, jobDir := range jobDirs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		job := filepath.Base(jobDir)
		for _, r := range c.newBuilds(job, jobDir, watermarks) {
			if seen {
				c.report(job, r, instance)
			}
		}
	}
	return nil
}

// newBuilds returns the builds of job newer than its high watermark, newest
// first, and advances the watermark.
func (c *Check) newBuilds(job, jobDir string, watermarks map[string]time.Time) []buildResult {
	log := c.Logger().WithField("job", job)
	dirs, err := filepath.Glob(filepath.Join(jobDir, "builds", "*_*"))
	if err != nil {
		log.WithError(err).Error("Error while working on job")
		return nil
	}
	sort.Sort(sort.Reverse(sort.StringSlice(dirs)))

	var out []buildResult
	mark := watermarks[job]
	for _, dir := range dirs {
		r := readBuild(dir)
		switch r.kind {
		case kindSkip:
			log.Debugf("skipping build or job at %s because %s", dir, r.reason)
			continue
		case kindError:
			if r.timestamp.IsZero() {
				log.WithError(r.err).Error("Error while working on job")
				return out
			}
			if !r.timestamp.After(mark) {
				return out
			}
			// Try the previous build.
			log.WithError(r.err).Debug("Unable to read build metadata")
			continue
		}
		if !r.timestamp.After(mark) {
			break
		}
		if r.timestamp.After(watermarks[job]) {
			watermarks[job] = r.timestamp
		}
		out = append(out, r)
	}
	return out
}

func (c *Check) report(job string, r buildResult, instance monagent.Instance) {
	extra := monagent.Dimensions{"job_name": job}
	if r.branch != "" {
		extra["branch"] = r.branch
	}
	dims := checks.WithDimensions(c.SetDimensions(extra, instance))

	alert := monagent.AlertSuccess
	if r.result != "SUCCESS" {
		alert = monagent.AlertError
	}
	eventDims := []string{"job_name:" + job, "result:" + r.result}
	if r.branch != "" {
		eventDims = append(eventDims, "branch:"+r.branch)
	}
	sort.Strings(eventDims)
	c.Logger().WithField("job", job).Debug("Creating event for job")
	c.Event(&monagent.Event{
		Title:          eventTitle,
		Text:           fmt.Sprintf("%s #%s: %s", job, r.number, r.result),
		DateHappened:   r.timestamp.Unix(),
		AggregationKey: job,
		SourceTypeName: sourceTypeName,
		Hostname:       c.Agent().Hostname,
		Dimensions:     eventDims,
		AlertType:      alert,
		HasAlertType:   true,
	})

	if err := c.Gauge("jenkins.job.duration", r.duration/1000, dims); err != nil {
		c.Logger().WithError(err).Warn("Unable to report build duration")
	}
	name := "jenkins.job.success"
	if r.result != "SUCCESS" {
		name = "jenkins.job.failure"
	}
	if err := c.Increment(name, 1, dims); err != nil {
		c.Logger().WithError(err).Warn("Unable to report build result")
	}
}

// readBuild inspects one build directory named after the build start time.
func readBuild(dir string) buildResult {
	r := buildResult{dir: dir}
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		r.kind, r.reason = kindSkip, "its not a build directory"
		return r
	}
	ts, err := time.ParseInLocation(dirTimeFormat, filepath.Base(dir), time.Local)
	if err != nil {
		r.kind = kindError
		r.err = fmt.Errorf("error with build directory name, not a parsable date: %s", dir)
		return r
	}
	r.timestamp = ts
	if _, err := os.Stat(filepath.Join(dir, archiveName)); err == nil {
		r.kind, r.reason = kindSkip, "the build has already been archived"
		return r
	}
	data, err := os.ReadFile(filepath.Join(dir, buildFileName))
	if err != nil {
		r.kind, r.err = kindError, fmt.Errorf("can't access %s at %s: %w", buildFileName, dir, err)
		return r
	}
	var bf buildFile
	if err := xml.Unmarshal(data, &bf); err != nil {
		r.kind, r.err = kindError, fmt.Errorf("parsing %s at %s: %w", buildFileName, dir, err)
		return r
	}
	if bf.Duration != "" {
		if r.duration, err = strconv.ParseFloat(bf.Duration, 64); err != nil {
			r.kind, r.err = kindError, errors.New("invalid duration "+bf.Duration)
			return r
		}
	}
	r.kind = kindValid
	r.result = bf.Result
	r.number = bf.Number
	r.branch = bf.Branch
	return r
}
