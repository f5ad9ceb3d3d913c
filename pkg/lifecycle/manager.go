// Package lifecycle supervises the scheduler: durable state snapshots,
// event history, health monitoring, and critical-state auto-recovery.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/finbrief/finbrief/pkg/config"
	"github.com/finbrief/finbrief/pkg/models"
	"github.com/finbrief/finbrief/pkg/scheduler"
)

// Event types recorded in the execution history.
const (
	EventSchedulerStarted     = "scheduler_started"
	EventSchedulerStopped     = "scheduler_stopped"
	EventSchedulerRestarted   = "scheduler_restarted"
	EventAutoRecoveryDisabled = "auto_recovery_disabled"
	EventSignalReceived       = "signal_received"
	EventHealthCheck          = "health_check"
)

// Health classification thresholds on the job failure rate.
const (
	criticalFailureRate = 0.5
	warningFailureRate  = 0.2
)

// maxRestartsPerHour bounds auto-recovery; beyond it the manager stops
// restarting and records that recovery is disabled.
const maxRestartsPerHour = 3

// stopTimeout bounds the scheduler join-wait during restart and stop.
const stopTimeout = 30 * time.Second

// Probe reports whether a component is usable, for health checks.
type Probe func() bool

// Manager owns the scheduler and its persisted state.
type Manager struct {
	sched     *scheduler.Scheduler
	statePath string
	interval  time.Duration
	probes    map[string]Probe

	mu    sync.Mutex
	state models.SchedulerState

	cancel context.CancelFunc
	done   chan struct{}

	// restartWait is swappable in tests.
	restartWait time.Duration
}

// NewManager creates a manager and its scheduler. probes are extra
// component checks folded into the health report; the scheduler itself
// is always probed.
func NewManager(cfg config.SchedulerConfig, probes map[string]Probe) *Manager {
	m := &Manager{
		statePath:   cfg.StateFile,
		interval:    cfg.MonitorTick(),
		probes:      probes,
		restartWait: 2 * time.Second,
	}
	m.state.State = models.StateStopped
	m.state.HealthStatus.Overall = models.HealthUnknown
	m.sched = scheduler.New(m.onJobEvent)
	return m
}

// Scheduler exposes the managed scheduler for job registration.
func (m *Manager) Scheduler() *scheduler.Scheduler {
	return m.sched
}

// Start restores persisted state, starts the scheduler, and launches
// the monitor loop.
func (m *Manager) Start() error {
	m.mu.Lock()
	if prev, err := loadStateFile(m.statePath); err == nil {
		m.state.ErrorCount = prev.ErrorCount
		m.state.LastErrorTime = prev.LastErrorTime
		m.state.ExecutionHistory = prev.ExecutionHistory
		m.state.HealthStatus = prev.HealthStatus
		m.state.Stats = prev.Stats
		slog.Info("Restored scheduler state",
			"events", len(prev.ExecutionHistory),
			"error_count", prev.ErrorCount,
			"saved_at", prev.SavedAt)
	} else {
		slog.Info("No previous scheduler state, starting fresh", "reason", err)
	}
	m.state.State = models.StateStarting
	m.state.IsRunning = true
	m.state.StartTime = time.Now()
	m.state.ProcessID = os.Getpid()
	m.mu.Unlock()

	if err := m.sched.Start(); err != nil {
		m.mu.Lock()
		m.state.State = models.StateStopped
		m.state.IsRunning = false
		m.mu.Unlock()
		m.RecordEvent("scheduler_start_failed", false, err.Error())
		return fmt.Errorf("start scheduler: %w", err)
	}

	m.mu.Lock()
	m.state.State = models.StateRunning
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.monitorLoop(ctx)

	m.RecordEvent(EventSchedulerStarted, true, "调度器启动成功")
	return nil
}

// Stop halts monitoring and the scheduler, then persists final state.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	m.state.State = models.StateStopping
	m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
		<-m.done
	}

	err := m.sched.Stop(ctx)

	m.mu.Lock()
	m.state.State = models.StateStopped
	m.state.IsRunning = false
	m.mu.Unlock()

	m.RecordEvent(EventSchedulerStopped, err == nil, "调度器正常停止")
	return err
}

// NotifySignal records an inbound shutdown signal before Stop runs.
func (m *Manager) NotifySignal(sig os.Signal) {
	m.RecordEvent(EventSignalReceived, true, fmt.Sprintf("收到信号: %v", sig))
}

// Restart bounces the scheduler with a short settle wait, keeping the
// registered job set.
func (m *Manager) Restart() error {
	slog.Info("Restarting scheduler")

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := m.sched.Stop(ctx); err != nil {
		slog.Warn("Scheduler stop during restart timed out", "error", err)
	}

	time.Sleep(m.restartWait)

	if err := m.sched.Start(); err != nil {
		return fmt.Errorf("restart scheduler: %w", err)
	}
	return nil
}

// RecordEvent appends to the execution history (capped) and persists.
func (m *Manager) RecordEvent(eventType string, success bool, message string) {
	m.mu.Lock()
	m.appendEventLocked(eventType, success, message)
	m.persistLocked()
	m.mu.Unlock()
}

// State returns a copy of the current state for status surfaces.
func (m *Manager) State() models.SchedulerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := m.state
	copied.ExecutionHistory = append([]models.ExecutionEvent(nil), m.state.ExecutionHistory...)
	if m.state.HealthStatus.Components != nil {
		copied.HealthStatus.Components = make(map[string]bool, len(m.state.HealthStatus.Components))
		for k, v := range m.state.HealthStatus.Components {
			copied.HealthStatus.Components[k] = v
		}
	}
	return copied
}

// onJobEvent is the scheduler's listener: it folds job outcomes into
// the counters and history.
func (m *Manager) onJobEvent(ev scheduler.JobEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state.Stats.TotalExecutions++
	if ev.Success {
		m.state.Stats.SuccessfulExecutions++
	} else {
		m.state.Stats.FailedExecutions++
		m.state.ErrorCount++
		m.state.LastErrorTime = time.Now()
	}

	message := "执行成功"
	if ev.Err != nil {
		message = ev.Err.Error()
	}
	m.appendEventLocked(ev.JobID, ev.Success, message)
	m.persistLocked()
}

func (m *Manager) monitorLoop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkHealth()
			m.maybeRecover()

			m.mu.Lock()
			m.persistLocked()
			m.mu.Unlock()
		}
	}
}

// checkHealth computes the failure rate and component flags, and
// classifies the overall state.
func (m *Manager) checkHealth() {
	components := map[string]bool{"scheduler": m.sched.IsRunning()}
	for name, probe := range m.probes {
		components[name] = probe()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	total := m.state.Stats.TotalExecutions
	if total < 1 {
		total = 1
	}
	failureRate := float64(m.state.Stats.FailedExecutions) / float64(total)

	overall := models.HealthDegraded
	switch {
	case failureRate > criticalFailureRate:
		overall = models.HealthCritical
	case failureRate > warningFailureRate:
		overall = models.HealthWarning
	case allTrue(components):
		overall = models.HealthHealthy
	}

	m.state.HealthStatus = models.HealthStatus{
		Overall:     overall,
		Components:  components,
		LastCheck:   time.Now(),
		FailureRate: failureRate,
	}

	if overall != models.HealthHealthy {
		m.appendEventLocked(EventHealthCheck, false,
			fmt.Sprintf("健康状态: %s, 失败率: %.0f%%", overall, failureRate*100))
	}

	slog.Debug("Health check complete", "overall", overall, "failure_rate", failureRate)
}

// maybeRecover restarts the scheduler when health is critical, at most
// maxRestartsPerHour times per hour.
func (m *Manager) maybeRecover() {
	m.mu.Lock()
	critical := m.state.HealthStatus.Overall == models.HealthCritical
	recent := m.recentRestartsLocked(time.Hour)
	m.mu.Unlock()

	if !critical {
		return
	}

	if recent >= maxRestartsPerHour {
		slog.Error("Auto-recovery disabled, restart budget exhausted", "restarts_last_hour", recent)
		m.RecordEvent(EventAutoRecoveryDisabled, false, "重启次数超限")
		return
	}

	slog.Warn("Health critical, attempting scheduler restart", "restarts_last_hour", recent)
	if err := m.Restart(); err != nil {
		m.RecordEvent(EventSchedulerRestarted, false, err.Error())
		return
	}
	m.RecordEvent(EventSchedulerRestarted, true, "自动恢复重启")
}

func (m *Manager) recentRestartsLocked(window time.Duration) int {
	cutoff := time.Now().Add(-window)
	count := 0
	for _, ev := range m.state.ExecutionHistory {
		if ev.Type == EventSchedulerRestarted && ev.Timestamp.After(cutoff) {
			count++
		}
	}
	return count
}

func (m *Manager) appendEventLocked(eventType string, success bool, message string) {
	m.state.ExecutionHistory = append(m.state.ExecutionHistory, models.ExecutionEvent{
		Timestamp: time.Now(),
		Type:      eventType,
		Success:   success,
		Message:   message,
	})
	if excess := len(m.state.ExecutionHistory) - models.MaxHistorySize; excess > 0 {
		m.state.ExecutionHistory = m.state.ExecutionHistory[excess:]
	}
}

func (m *Manager) persistLocked() {
	m.state.SavedAt = time.Now()
	if err := saveStateFile(m.statePath, &m.state); err != nil {
		slog.Error("Failed to persist scheduler state", "path", m.statePath, "error", err)
	}
}

func allTrue(flags map[string]bool) bool {
	for _, ok := range flags {
		if !ok {
			return false
		}
	}
	return true
}
