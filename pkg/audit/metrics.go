package audit

import (
	"fmt"
	"sync"
	"time"
)

// Metrics tracks audit event counters
type Metrics struct {
	mu sync.RWMutex

	// Volume operation metrics
	MountRequests   int64 `json:"mount_requests"`
	MountSuccesses  int64 `json:"mount_successes"`
	MountFailures   int64 `json:"mount_failures"`
	UnmountRequests int64 `json:"unmount_requests"`
	FormatRequests  int64 `json:"format_requests"`
	FormatSuccesses int64 `json:"format_successes"`
	FormatFailures  int64 `json:"format_failures"`
	FormatDenials   int64 `json:"format_denials"`
	BridgeSpawns    int64 `json:"bridge_spawns"`
	BridgeFailures  int64 `json:"bridge_failures"`
	TriggerClaims   int64 `json:"trigger_claims"`

	// Untrusted media metrics
	MetadataSanitizations int64 `json:"metadata_sanitizations"`

	// Security violation metrics
	UnsafeVolumeNames  int64 `json:"unsafe_volume_names"`
	ValidationFailures int64 `json:"validation_failures"`

	// Severity counters
	InfoEvents     int64 `json:"info_events"`
	WarningEvents  int64 `json:"warning_events"`
	ErrorEvents    int64 `json:"error_events"`
	CriticalEvents int64 `json:"critical_events"`

	// Timing metrics
	LastVolumeOperation      time.Time     `json:"last_volume_operation"`
	LastSecurityViolation    time.Time     `json:"last_security_violation"`
	AverageOperationDuration time.Duration `json:"average_operation_duration_ms"`
	totalOperationTime       time.Duration
	totalOperations          int64
}

// globalMetrics is the global audit metrics instance
var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global audit metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = &Metrics{}
	})
	return globalMetrics
}

// RecordEvent records an audit event in metrics
func (m *Metrics) RecordEvent(event *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch event.Severity {
	case SeverityInfo:
		m.InfoEvents++
	case SeverityWarning:
		m.WarningEvents++
	case SeverityError:
		m.ErrorEvents++
	case SeverityCritical:
		m.CriticalEvents++
	}

	switch event.EventType {
	case EventMountRequest:
		m.MountRequests++
		m.LastVolumeOperation = event.Timestamp
	case EventMountSuccess:
		m.MountSuccesses++
		m.recordOperationDuration(event.Duration)
	case EventMountFailure:
		m.MountFailures++
	case EventUnmountRequest:
		m.UnmountRequests++
		m.LastVolumeOperation = event.Timestamp
		m.recordOperationDuration(event.Duration)
	case EventFormatRequest:
		m.FormatRequests++
		m.LastVolumeOperation = event.Timestamp
	case EventFormatSuccess:
		m.FormatSuccesses++
		m.recordOperationDuration(event.Duration)
	case EventFormatFailure:
		m.FormatFailures++
	case EventFormatDenied:
		m.FormatDenials++
	case EventBridgeSpawn:
		m.BridgeSpawns++
	case EventBridgeFailure:
		m.BridgeFailures++
	case EventTriggerClaimed:
		m.TriggerClaims++

	case EventMetadataSanitized:
		m.MetadataSanitizations++

	case EventUnsafeVolumeName:
		m.UnsafeVolumeNames++
		m.LastSecurityViolation = event.Timestamp
	case EventValidationFailure:
		m.ValidationFailures++
		m.LastSecurityViolation = event.Timestamp
	}
}

// recordOperationDuration records the duration of an operation for averaging
func (m *Metrics) recordOperationDuration(duration time.Duration) {
	if duration > 0 {
		m.totalOperationTime += duration
		m.totalOperations++
		m.AverageOperationDuration = m.totalOperationTime / time.Duration(m.totalOperations)
	}
}

// Reset resets all metrics to zero
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.MountRequests = 0
	m.MountSuccesses = 0
	m.MountFailures = 0
	m.UnmountRequests = 0
	m.FormatRequests = 0
	m.FormatSuccesses = 0
	m.FormatFailures = 0
	m.FormatDenials = 0
	m.BridgeSpawns = 0
	m.BridgeFailures = 0
	m.TriggerClaims = 0

	m.MetadataSanitizations = 0

	m.UnsafeVolumeNames = 0
	m.ValidationFailures = 0

	m.InfoEvents = 0
	m.WarningEvents = 0
	m.ErrorEvents = 0
	m.CriticalEvents = 0

	m.LastVolumeOperation = time.Time{}
	m.LastSecurityViolation = time.Time{}
	m.AverageOperationDuration = 0
	m.totalOperationTime = 0
	m.totalOperations = 0
}

// String returns a human-readable representation of the metrics
func (m *Metrics) String() string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return fmt.Sprintf("AuditMetrics{"+
		"Mount(requests=%d, success=%d, failures=%d), "+
		"Unmount(requests=%d), "+
		"Format(requests=%d, success=%d, failures=%d, denials=%d), "+
		"Bridge(spawns=%d, failures=%d), "+
		"Triggers(claims=%d), "+
		"UntrustedMedia(sanitizations=%d), "+
		"Violations(unsafe_names=%d, validation=%d), "+
		"Severity(info=%d, warning=%d, error=%d, critical=%d), "+
		"AvgOpDuration=%dms}",
		m.MountRequests, m.MountSuccesses, m.MountFailures,
		m.UnmountRequests,
		m.FormatRequests, m.FormatSuccesses, m.FormatFailures, m.FormatDenials,
		m.BridgeSpawns, m.BridgeFailures,
		m.TriggerClaims,
		m.MetadataSanitizations,
		m.UnsafeVolumeNames, m.ValidationFailures,
		m.InfoEvents, m.WarningEvents, m.ErrorEvents, m.CriticalEvents,
		m.AverageOperationDuration.Milliseconds())
}

// Snapshot returns a copy of the current metrics
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := *m
	return snapshot
}
