// Package metrics exports a provisioning report in the Prometheus text
// format, for the node_exporter textfile collector.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mmr-tortoise/uhd-provision/internal/model"
)

const namespace = "uhd_provision"

// Collectors holds the gauges describing one run.
type Collectors struct {
	registry *prometheus.Registry

	stepDuration *prometheus.GaugeVec
	stepStatus   *prometheus.GaugeVec
	runSuccess   prometheus.Gauge
	runDuration  prometheus.Gauge
	lastRun      prometheus.Gauge
	buildJobs    prometheus.Gauge
	runInfo      *prometheus.GaugeVec
}

// NewCollectors registers the run gauges on a fresh registry.
func NewCollectors() *Collectors {
	c := &Collectors{
		registry: prometheus.NewRegistry(),
		stepDuration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall-clock duration of each provisioning step in the last run.",
		}, []string{"step"}),
		stepStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "step_status",
			Help:      "1 for the status each step ended in during the last run, 0 otherwise.",
		}, []string{"step", "status"}),
		runSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success",
			Help:      "1 if the last run completed every step, 0 otherwise.",
		}),
		runDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_duration_seconds",
			Help:      "Wall-clock duration of the last run.",
		}),
		lastRun: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
		buildJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_jobs",
			Help:      "Parallel make jobs used by the compile step.",
		}),
		runInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_info",
			Help:      "Labels describing the last run. Always 1.",
		}, []string{"run_id", "runner", "policy", "revision", "description"}),
	}

	c.registry.MustRegister(
		c.stepDuration, c.stepStatus, c.runSuccess, c.runDuration,
		c.lastRun, c.buildJobs, c.runInfo,
	)
	return c
}

// Registry returns the registry holding the gauges.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Observe sets every gauge from report.
func (c *Collectors) Observe(report *model.Report) {
	statuses := []model.StepStatus{model.StatusSucceeded, model.StatusFailed, model.StatusSkipped, model.StatusNotRun}
	for _, s := range report.Steps {
		c.stepDuration.WithLabelValues(s.Name.String()).Set(s.Duration.Seconds())
		for _, st := range statuses {
			v := 0.0
			if s.Status == st {
				v = 1
			}
			c.stepStatus.WithLabelValues(s.Name.String(), st.String()).Set(v)
		}
	}

	if report.Succeeded() {
		c.runSuccess.Set(1)
	} else {
		c.runSuccess.Set(0)
	}
	c.runDuration.Set(report.Duration().Seconds())
	if !report.FinishedAt.IsZero() {
		c.lastRun.Set(float64(report.FinishedAt.Unix()))
	}
	c.buildJobs.Set(float64(report.Jobs))
	c.runInfo.WithLabelValues(report.RunID, string(report.Runner), string(report.Policy),
		report.SourceRevision, report.SourceDescription).Set(1)
}

// WriteTextfile writes report to path in the Prometheus text format. The
// file is written atomically, as the textfile collector requires.
func WriteTextfile(path string, report *model.Report) error {
	c := NewCollectors()
	c.Observe(report)
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
