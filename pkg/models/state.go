package models

import "time"

// Scheduler run states.
const (
	StateStopped  = "stopped"
	StateStarting = "starting"
	StateRunning  = "running"
	StateStopping = "stopping"
)

// Health classifications reported by the lifecycle monitor.
const (
	HealthHealthy  = "healthy"
	HealthDegraded = "degraded"
	HealthWarning  = "warning"
	HealthCritical = "critical"
	HealthUnknown  = "unknown"
)

// MaxHistorySize caps the execution history ring. Oldest entries are
// discarded first.
const MaxHistorySize = 100

// ExecutionEvent is one entry in the execution history ring.
type ExecutionEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Success   bool      `json:"success"`
	Message   string    `json:"message,omitempty"`
}

// HealthStatus is the lifecycle monitor's last observation.
type HealthStatus struct {
	Overall     string          `json:"overall"`
	Components  map[string]bool `json:"components"`
	LastCheck   time.Time       `json:"last_check"`
	FailureRate float64         `json:"failure_rate"`
}

// SchedulerStats aggregates job execution counters.
type SchedulerStats struct {
	TotalExecutions      int `json:"total_executions"`
	SuccessfulExecutions int `json:"successful_executions"`
	FailedExecutions     int `json:"failed_executions"`
}

// SchedulerState is the persisted snapshot used for crash recovery.
// Writes go through the lifecycle manager, which serializes access
// and persists atomically.
type SchedulerState struct {
	State            string           `json:"state"`
	IsRunning        bool             `json:"is_running"`
	StartTime        time.Time        `json:"start_time,omitempty"`
	ProcessID        int              `json:"process_id,omitempty"`
	ErrorCount       int              `json:"error_count"`
	LastErrorTime    time.Time        `json:"last_error_time,omitempty"`
	ExecutionHistory []ExecutionEvent `json:"execution_history"`
	HealthStatus     HealthStatus     `json:"health_status"`
	Stats            SchedulerStats   `json:"stats"`
	SavedAt          time.Time        `json:"saved_at"`
}
