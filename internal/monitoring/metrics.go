// Package monitoring tracks in-process engine health: tick throughput,
// correlation/detector activity, persistence reachability, and system
// resource use, read back through GetSnapshot and CheckHealth. The CLI and
// the HTTP endpoints of `engine serve` do not read these; /health and
// /status report the correlation engine's own Stats.
package monitoring

import (
	"sync"
	"time"
)

// Metrics tracks system health and performance for one engine process.
type Metrics struct {
	mu sync.RWMutex

	// Tick metrics
	TotalTicks       int64
	FailedTicks      int64
	AvgTickMs        float64
	TickSoftCapBreaches int64

	// Correlation metrics
	EventsIngested        int64
	CorrelationsAccepted  int64
	CorrelationsRejected  int64
	InvariantViolations   int64

	// Pattern library metrics
	PatternsStored    int64
	PatternsEvolved   int64
	PatternsRetired   int64
	EmergenceEvents    int64

	// Adaptive threshold metrics
	ThresholdUpdates  int64
	AdaptationStalls  int64

	// Persistence
	StoreCircuitState string // closed, open, half-open
	StoreQueryCount   int64
	StoreSlowQueries  int64

	// System metrics
	StartTime       time.Time
	LastHealthCheck time.Time
	MemoryUsageMB   float64
	GoroutineCount  int

	// Extended system metrics (caller-supplied via UpdateExtendedSystemMetrics)
	CPUPercent      float64
	RAMTotalGB      float64
	RAMUsedGB       float64
	RAMUsedPercent  float64
	DiskTotalGB     float64
	DiskUsedGB      float64
	DiskUsedPercent float64

	// Error tracking
	Errors    []ErrorEntry
	MaxErrors int
}

// ErrorEntry represents a logged failure, tagged with the error kind from
// internal/merrorkind so the status query can bucket by category.
type ErrorEntry struct {
	Timestamp time.Time
	Component string
	Kind      string
	Error     string
}

// NewMetrics creates a new metrics collector.
func NewMetrics() *Metrics {
	return &Metrics{
		StartTime:         time.Now(),
		MaxErrors:         1000,
		Errors:            make([]ErrorEntry, 0, 1000),
		StoreCircuitState: "closed",
	}
}

// RecordTick records one correlation-engine tick.
func (m *Metrics) RecordTick(durationMs float64, success bool, softCapBreached bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalTicks++
	if !success {
		m.FailedTicks++
	}
	if softCapBreached {
		m.TickSoftCapBreaches++
	}

	if m.TotalTicks == 1 {
		m.AvgTickMs = durationMs
	} else {
		m.AvgTickMs = (m.AvgTickMs*float64(m.TotalTicks-1) + durationMs) / float64(m.TotalTicks)
	}
}

// RecordCorrelation records the outcome of one candidate correlation.
func (m *Metrics) RecordCorrelation(accepted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accepted {
		m.CorrelationsAccepted++
	} else {
		m.CorrelationsRejected++
	}
}

// RecordEventIngested counts one Event admitted into the window.
func (m *Metrics) RecordEventIngested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EventsIngested++
}

// RecordInvariantViolation counts one discarded malformed item.
func (m *Metrics) RecordInvariantViolation() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InvariantViolations++
}

// RecordPatternStored counts one pattern admitted to the library.
func (m *Metrics) RecordPatternStored() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PatternsStored++
}

// RecordPatternEvolved counts one evolution-event application.
func (m *Metrics) RecordPatternEvolved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PatternsEvolved++
}

// RecordPatternRetired counts one pattern transitioning to dormant/extinct.
func (m *Metrics) RecordPatternRetired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PatternsRetired++
}

// RecordEmergence counts one emergence event of any kind.
func (m *Metrics) RecordEmergence() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EmergenceEvents++
}

// RecordThresholdUpdate counts one accepted feedback-driven threshold
// adjustment, or one stall when insufficient has insufficient data.
func (m *Metrics) RecordThresholdUpdate(stalled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if stalled {
		m.AdaptationStalls++
	} else {
		m.ThresholdUpdates++
	}
}

// UpdateStoreCircuit reflects the Secured Collection Store's circuit breaker
// state (closed/open/half-open) into the snapshot.
func (m *Metrics) UpdateStoreCircuit(state string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.StoreCircuitState = state
}

// RecordError logs a failure, tagged with its merrorkind category.
func (m *Metrics) RecordError(component, kind, errorMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := ErrorEntry{
		Timestamp: time.Now(),
		Component: component,
		Kind:      kind,
		Error:     errorMsg,
	}

	m.Errors = append(m.Errors, entry)
	if len(m.Errors) > m.MaxErrors {
		m.Errors = m.Errors[len(m.Errors)-m.MaxErrors:]
	}
}

// UpdateSystemMetrics updates process-level resource usage.
func (m *Metrics) UpdateSystemMetrics(memoryMB float64, goroutines int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MemoryUsageMB = memoryMB
	m.GoroutineCount = goroutines
	m.LastHealthCheck = time.Now()
}

// UpdateExtendedSystemMetrics stores host-level metrics supplied by the
// caller; this package does not sample them itself.
func (m *Metrics) UpdateExtendedSystemMetrics(cpuPercent, ramTotalGB, ramUsedGB, ramUsedPercent, diskTotalGB, diskUsedGB, diskUsedPercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CPUPercent = cpuPercent
	m.RAMTotalGB = ramTotalGB
	m.RAMUsedGB = ramUsedGB
	m.RAMUsedPercent = ramUsedPercent
	m.DiskTotalGB = diskTotalGB
	m.DiskUsedGB = diskUsedGB
	m.DiskUsedPercent = diskUsedPercent
}

// MetricsSnapshot is a point-in-time copy of Metrics safe to serialize.
type MetricsSnapshot struct {
	StartTime           time.Time
	Uptime              string
	TotalTicks          int64
	FailedTicks         int64
	TickSuccessRate     float64
	AvgTickMs           float64
	TickSoftCapBreaches int64

	EventsIngested       int64
	CorrelationsAccepted int64
	CorrelationsRejected int64
	InvariantViolations  int64

	PatternsStored  int64
	PatternsEvolved int64
	PatternsRetired int64
	EmergenceEvents int64

	ThresholdUpdates int64
	AdaptationStalls int64

	StoreCircuitState string
	StoreQueryCount   int64
	StoreSlowQueries  int64

	MemoryUsageMB   float64
	GoroutineCount  int
	LastHealthCheck time.Time

	CPUPercent      float64
	RAMTotalGB      float64
	RAMUsedGB       float64
	RAMUsedPercent  float64
	DiskTotalGB     float64
	DiskUsedGB      float64
	DiskUsedPercent float64

	RecentErrors []ErrorEntry
}

// GetSnapshot returns a snapshot of current metrics.
func (m *Metrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MetricsSnapshot{
		StartTime:            m.StartTime,
		Uptime:                time.Since(m.StartTime).String(),
		TotalTicks:            m.TotalTicks,
		FailedTicks:           m.FailedTicks,
		TickSuccessRate:       m.calculateTickSuccessRate(),
		AvgTickMs:             m.AvgTickMs,
		TickSoftCapBreaches:   m.TickSoftCapBreaches,
		EventsIngested:        m.EventsIngested,
		CorrelationsAccepted:  m.CorrelationsAccepted,
		CorrelationsRejected:  m.CorrelationsRejected,
		InvariantViolations:   m.InvariantViolations,
		PatternsStored:        m.PatternsStored,
		PatternsEvolved:       m.PatternsEvolved,
		PatternsRetired:       m.PatternsRetired,
		EmergenceEvents:       m.EmergenceEvents,
		ThresholdUpdates:      m.ThresholdUpdates,
		AdaptationStalls:      m.AdaptationStalls,
		StoreCircuitState:     m.StoreCircuitState,
		StoreQueryCount:       m.StoreQueryCount,
		StoreSlowQueries:      m.StoreSlowQueries,
		MemoryUsageMB:         m.MemoryUsageMB,
		GoroutineCount:        m.GoroutineCount,
		LastHealthCheck:       m.LastHealthCheck,
		CPUPercent:            m.CPUPercent,
		RAMTotalGB:            m.RAMTotalGB,
		RAMUsedGB:             m.RAMUsedGB,
		RAMUsedPercent:        m.RAMUsedPercent,
		DiskTotalGB:           m.DiskTotalGB,
		DiskUsedGB:            m.DiskUsedGB,
		DiskUsedPercent:       m.DiskUsedPercent,
		RecentErrors:          m.getRecentErrors(10),
	}
}

func (m *Metrics) calculateTickSuccessRate() float64 {
	if m.TotalTicks == 0 {
		return 100.0
	}
	return float64(m.TotalTicks-m.FailedTicks) / float64(m.TotalTicks) * 100.0
}

func (m *Metrics) getRecentErrors(count int) []ErrorEntry {
	if len(m.Errors) == 0 {
		return []ErrorEntry{}
	}
	start := len(m.Errors) - count
	if start < 0 {
		start = 0
	}
	return m.Errors[start:]
}

// HealthStatus represents overall engine health.
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy, degraded, unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]HealthCheck `json:"checks"`
}

// HealthCheck represents a single health check.
type HealthCheck struct {
	Status  string `json:"status"` // pass, warn, fail
	Message string `json:"message,omitempty"`
}

// CheckHealth evaluates the persistence boundary, tick success rate, and
// adaptation progress into an overall HealthStatus.
func (m *Metrics) CheckHealth() HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	checks := make(map[string]HealthCheck)
	overallHealthy := true

	switch m.StoreCircuitState {
	case "open":
		checks["store"] = HealthCheck{Status: "fail", Message: "persistence circuit open, serving from memory only"}
		overallHealthy = false
	case "half-open":
		checks["store"] = HealthCheck{Status: "warn", Message: "persistence circuit half-open, testing recovery"}
	default:
		checks["store"] = HealthCheck{Status: "pass", Message: "persistence reachable"}
	}

	successRate := m.calculateTickSuccessRate()
	if successRate < 90 {
		checks["ticks"] = HealthCheck{Status: "fail", Message: "high tick failure rate"}
		overallHealthy = false
	} else if successRate < 98 {
		checks["ticks"] = HealthCheck{Status: "warn", Message: "elevated tick failure rate"}
	} else {
		checks["ticks"] = HealthCheck{Status: "pass", Message: "ticks healthy"}
	}

	if m.TickSoftCapBreaches > 0 && m.TotalTicks > 0 && float64(m.TickSoftCapBreaches)/float64(m.TotalTicks) > 0.1 {
		checks["tick_latency"] = HealthCheck{Status: "warn", Message: "tick soft cap breached in over 10% of ticks"}
	} else {
		checks["tick_latency"] = HealthCheck{Status: "pass", Message: "tick latency within soft cap"}
	}

	if m.AdaptationStalls > 0 && m.ThresholdUpdates == 0 {
		checks["adaptation"] = HealthCheck{Status: "warn", Message: "threshold adaptation has not progressed past its first stall"}
	} else {
		checks["adaptation"] = HealthCheck{Status: "pass", Message: "adaptation progressing"}
	}

	status := "healthy"
	if !overallHealthy {
		status = "unhealthy"
	} else {
		for _, check := range checks {
			if check.Status == "warn" {
				status = "degraded"
				break
			}
		}
	}

	return HealthStatus{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}
