// Package health derives netsyncd's three-level health status from the
// event source, error counters, and dependency liveness.
package health

import (
	"fmt"
	"time"
)

// Status is a health level.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// severity orders levels for worst-wins aggregation.
func (s Status) severity() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Sample is one reading of the monitored signals. Counters are cumulative.
type Sample struct {
	Now         time.Time
	LastEvent   time.Time
	Processed   uint64
	Errors      uint64
	SocketAlive bool
	DBAlive     bool
}

// Window is what checks evaluate: the current sample plus the counter
// deltas since the previous one.
type Window struct {
	Sample
	Started        time.Time
	ProcessedDelta uint64
	ErrorsDelta    uint64
}

// Result represents the result of a health check
type Result struct {
	Check   string      `json:"check"`
	Status  Status      `json:"status"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Report contains all check results
type Report struct {
	Timestamp time.Time `json:"timestamp"`
	Overall   Status    `json:"overall"`
	Reasons   []string  `json:"reasons,omitempty"`
	Results   []Result  `json:"results"`
}

// Check defines the interface for health checks
type Check interface {
	Name() string
	Run(w Window) Result
}

// evaluate runs checks and aggregates them. The worst result wins, except
// that a stall combined with a high error rate is unhealthy.
func evaluate(checks []Check, w Window) Report {
	report := Report{
		Timestamp: w.Now,
		Overall:   StatusHealthy,
		Results:   make([]Result, 0, len(checks)),
	}

	soft := 0
	for _, check := range checks {
		result := check.Run(w)
		report.Results = append(report.Results, result)
		if result.Status == StatusHealthy {
			continue
		}
		report.Reasons = append(report.Reasons, result.Check+": "+result.Message)
		if result.Status == StatusDegraded {
			soft++
		}
		if result.Status.severity() > report.Overall.severity() {
			report.Overall = result.Status
		}
	}
	if soft >= 2 {
		report.Overall = StatusUnhealthy
	}
	return report
}

// SocketCheck verifies the kernel event socket is open
type SocketCheck struct{}

// Name returns the check name
func (c *SocketCheck) Name() string { return "socket" }

// Run executes the socket check
func (c *SocketCheck) Run(w Window) Result {
	if !w.SocketAlive {
		return Result{Check: c.Name(), Status: StatusUnhealthy, Message: "kernel event socket is closed"}
	}
	return Result{Check: c.Name(), Status: StatusHealthy, Message: "kernel event socket open"}
}

// DatabaseCheck verifies APPL_DB is reachable
type DatabaseCheck struct{}

// Name returns the check name
func (c *DatabaseCheck) Name() string { return "database" }

// Run executes the database check
func (c *DatabaseCheck) Run(w Window) Result {
	if !w.DBAlive {
		return Result{Check: c.Name(), Status: StatusUnhealthy, Message: "APPL_DB unreachable"}
	}
	return Result{Check: c.Name(), Status: StatusHealthy, Message: "APPL_DB reachable"}
}

// StallCheck flags a source that has not produced an event for too long
type StallCheck struct {
	Threshold time.Duration
}

// Name returns the check name
func (c *StallCheck) Name() string { return "stall" }

// Run executes the stall check. Before the first event, the monitor's
// start time stands in for the last event.
func (c *StallCheck) Run(w Window) Result {
	last := w.LastEvent
	if last.IsZero() {
		last = w.Started
	}
	idle := w.Now.Sub(last)
	result := Result{
		Check:   c.Name(),
		Details: map[string]string{"idle": idle.Round(time.Second).String()},
	}
	if idle > c.Threshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("no event processed for %s (threshold %s)", idle.Round(time.Second), c.Threshold)
		return result
	}
	result.Status = StatusHealthy
	result.Message = "events flowing"
	return result
}

// ErrorRateCheck flags a high share of errors in the last window
type ErrorRateCheck struct {
	Threshold float64
}

// Name returns the check name
func (c *ErrorRateCheck) Name() string { return "error_rate" }

// Run executes the error rate check
func (c *ErrorRateCheck) Run(w Window) Result {
	total := w.ErrorsDelta + w.ProcessedDelta
	var rate float64
	if total > 0 {
		rate = float64(w.ErrorsDelta) / float64(total)
	}
	result := Result{
		Check: c.Name(),
		Details: map[string]uint64{
			"errors":    w.ErrorsDelta,
			"processed": w.ProcessedDelta,
		},
	}
	if rate > c.Threshold {
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("error rate %.1f%% above %.1f%%", rate*100, c.Threshold*100)
		return result
	}
	result.Status = StatusHealthy
	result.Message = fmt.Sprintf("error rate %.1f%%", rate*100)
	return result
}
