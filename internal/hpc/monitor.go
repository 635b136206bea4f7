package hpc

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"polaris/internal/config"
	"polaris/internal/logging"
)

// JobStatus is the verdict of one monitoring pass.
type JobStatus string

const (
	StatusRunning    JobStatus = "running"
	StatusQueued     JobStatus = "queued"
	StatusNotFound   JobStatus = "not_found"
	StatusStale      JobStatus = "stale"
	StatusMFAExpired JobStatus = "mfa_expired"
	StatusError      JobStatus = "error"
)

// staleAfter is how long an untouched OUTCAR may sit before the job
// counts as possibly stuck.
const staleAfter = 10 * time.Minute

// JobReport is the combined result of the queue, file-age, and
// convergence checks.
type JobReport struct {
	JobID    string    `json:"job_id"`
	Cluster  string    `json:"cluster"`
	Status   JobStatus `json:"status"`
	Message  string    `json:"message"`
	Step     int       `json:"step,omitempty"`
	Energy   float64   `json:"energy,omitempty"`
	FileAgeS int64     `json:"outcar_age_seconds,omitempty"`
}

// Monitor checks job state on one cluster. The check hierarchy is
// scheduler queue first, then output-file age, then the convergence
// tail; each later step only refines a still-running verdict.
type Monitor struct {
	profile config.ClusterProfile
	runner  Runner
	now     func() time.Time
}

// NewMonitor creates a monitor for the cluster profile.
func NewMonitor(profile config.ClusterProfile, runner Runner) *Monitor {
	return &Monitor{profile: profile, runner: runner, now: time.Now}
}

// ZombieGuard probes the connection with a short echo round-trip.
func (m *Monitor) ZombieGuard(ctx context.Context) bool {
	stdout, _, err := m.runner.Run(ctx, "echo heartbeat", 10*time.Second)
	alive := err == nil && strings.Contains(stdout, "heartbeat")
	if !alive {
		logging.Get(logging.CategoryHPC).Warnf("zombie guard: connection to %s failed: %v", m.profile.Name, err)
	}
	return alive
}

// MonitorJob runs the full check hierarchy for one job.
func (m *Monitor) MonitorJob(ctx context.Context, jobID, path string) JobReport {
	report := JobReport{JobID: jobID, Cluster: m.profile.Name}

	status, message := m.checkQueue(ctx, jobID)
	report.Status, report.Message = status, message
	if status != StatusRunning && status != StatusQueued {
		return report
	}

	if path != "" {
		m.checkOutputAge(ctx, path, &report)
		m.checkConvergence(ctx, path, &report)
	}
	return report
}

// queueCommand builds the scheduler-specific queue listing.
func (m *Monitor) queueCommand() string {
	if m.profile.Scheduler == "slurm" {
		return fmt.Sprintf("squeue -u %s", m.profile.Username)
	}
	return fmt.Sprintf("qstat -u %s", m.profile.Username)
}

func (m *Monitor) checkQueue(ctx context.Context, jobID string) (JobStatus, string) {
	stdout, stderr, err := m.runner.Run(ctx, m.queueCommand(), 30*time.Second)
	if err != nil {
		if MFAExpired(stderr) {
			return StatusMFAExpired, "MFA session expired"
		}
		return StatusError, fmt.Sprintf("queue check failed: %v", err)
	}

	for _, line := range strings.Split(stdout, "\n") {
		if !strings.Contains(line, jobID) {
			continue
		}
		state := m.parseState(line)
		if state == "R" {
			return StatusRunning, fmt.Sprintf("job running (state %s)", state)
		}
		return StatusQueued, fmt.Sprintf("job in queue (state %s)", state)
	}
	return StatusNotFound, "job not in queue"
}

// parseState extracts the state column of a queue listing line. PBS
// puts it in column 10, Slurm in column 5.
func (m *Monitor) parseState(line string) string {
	parts := strings.Fields(line)
	idx := 9
	if m.profile.Scheduler == "slurm" {
		idx = 4
	}
	if len(parts) > idx {
		return parts[idx]
	}
	return "?"
}

func (m *Monitor) checkOutputAge(ctx context.Context, path string, report *JobReport) {
	stdout, stderr, err := m.runner.Run(ctx,
		fmt.Sprintf("stat -c %%Y %s/OUTCAR", path), 30*time.Second)
	if err != nil {
		if MFAExpired(stderr) {
			report.Status, report.Message = StatusMFAExpired, "MFA session expired"
		}
		return
	}
	mtime, err := strconv.ParseInt(strings.TrimSpace(stdout), 10, 64)
	if err != nil {
		return
	}
	age := m.now().Unix() - mtime
	report.FileAgeS = age
	if time.Duration(age)*time.Second >= staleAfter {
		report.Status = StatusStale
		report.Message = fmt.Sprintf("output untouched for %dm, job may be stuck", age/60)
	}
}

func (m *Monitor) checkConvergence(ctx context.Context, path string, report *JobReport) {
	stdout, _, err := m.runner.Run(ctx,
		fmt.Sprintf("tail -1 %s/OSZICAR", path), 30*time.Second)
	if err != nil {
		return
	}
	// OSZICAR tail: "  12 F= -.12345678E+02 E0= ..."
	parts := strings.Fields(stdout)
	if len(parts) < 3 {
		return
	}
	step, err := strconv.Atoi(parts[0])
	if err != nil {
		return
	}
	energy, err := strconv.ParseFloat(strings.ReplaceAll(parts[2], "E", "e"), 64)
	if err != nil {
		return
	}
	report.Step = step
	report.Energy = energy
}
