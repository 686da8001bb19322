// Package audit provides centralized logging of audit-relevant events.
// Removable media is attacker-controlled input: filesystem metadata, trigger
// files and helper process behavior all come off the card, so the operations
// that consume them leave a structured audit trail.
package audit

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"k8s.io/klog/v2"
)

// Logger provides centralized audit event logging
type Logger struct {
	metrics *Metrics
}

// globalLogger is the global audit logger instance
var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global audit logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{
			metrics: GetMetrics(),
		}
	})
	return globalLogger
}

// NewLogger creates a new audit logger
func NewLogger() *Logger {
	return &Logger{
		metrics: &Metrics{},
	}
}

// severityMapping defines how a severity level maps to klog behavior
type severityMapping struct {
	logFunc func(args ...interface{})
}

var severityMap = map[EventSeverity]severityMapping{
	SeverityInfo:     {logFunc: func(args ...interface{}) { klog.V(2).Info(args...) }},
	SeverityWarning:  {logFunc: klog.Warning},
	SeverityError:    {logFunc: klog.Error},
	SeverityCritical: {logFunc: klog.Error},
}

// LogEvent logs an audit event with structured logging
func (l *Logger) LogEvent(event *Event) {
	l.metrics.RecordEvent(event)

	mapping, ok := severityMap[event.Severity]
	if !ok {
		mapping = severityMap[SeverityInfo]
	}
	mapping.logFunc(l.formatLogMessage(event))

	// Critical events also go out as JSON for easy parsing
	if event.Severity == SeverityCritical {
		if jsonBytes, err := json.Marshal(event); err == nil {
			klog.Errorf("CRITICAL_AUDIT_EVENT: %s", string(jsonBytes))
		}
	}
}

// formatLogMessage formats an audit event as a structured log message
func (l *Logger) formatLogMessage(event *Event) string {
	msg := fmt.Sprintf("[AUDIT] category=%s type=%s severity=%s outcome=%s msg=\"%s\"",
		event.Category, event.EventType, event.Severity, event.Outcome, event.Message)

	if event.VolumeID != "" {
		msg += fmt.Sprintf(" volume_id=%s", event.VolumeID)
	}
	if event.StableName != "" {
		msg += fmt.Sprintf(" stable_name=%q", event.StableName)
	}
	if event.DevicePath != "" {
		msg += fmt.Sprintf(" device_path=%s", event.DevicePath)
	}
	if event.MountPath != "" {
		msg += fmt.Sprintf(" mount_path=%s", event.MountPath)
	}

	if event.Operation != "" {
		msg += fmt.Sprintf(" operation=%s", event.Operation)
	}
	if event.Duration > 0 {
		msg += fmt.Sprintf(" duration_ms=%d", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		msg += fmt.Sprintf(" error=\"%s\"", event.Error)
	}

	for key, value := range event.Details {
		msg += fmt.Sprintf(" %s=\"%s\"", key, value)
	}

	msg += fmt.Sprintf(" timestamp=%s", event.Timestamp.Format("2006-01-02T15:04:05.000Z"))

	return msg
}

// Helper methods for common audit events

// LogMount logs a volume mount outcome
func (l *Logger) LogMount(volumeID, devicePath, mountPath string, err error, duration time.Duration) {
	if err != nil {
		event := NewEvent(EventMountFailure, CategoryVolumeOperation, SeverityError, "Volume mount failed").
			WithVolume(volumeID, "").
			WithPaths(devicePath, mountPath).
			WithOperation("Mount", duration).
			WithOutcome(OutcomeFailure).
			WithError(err)
		l.LogEvent(event)
		return
	}
	event := NewEvent(EventMountSuccess, CategoryVolumeOperation, SeverityInfo, "Volume mounted").
		WithVolume(volumeID, "").
		WithPaths(devicePath, mountPath).
		WithOperation("Mount", duration).
		WithOutcome(OutcomeSuccess)
	l.LogEvent(event)
}

// LogUnmount logs a volume unmount
func (l *Logger) LogUnmount(volumeID, devicePath string, duration time.Duration) {
	event := NewEvent(EventUnmountRequest, CategoryVolumeOperation, SeverityInfo, "Volume unmounted").
		WithVolume(volumeID, "").
		WithPaths(devicePath, "").
		WithOperation("Unmount", duration).
		WithOutcome(OutcomeSuccess)
	l.LogEvent(event)
}

// LogFormat logs a format outcome; a rejected filesystem type counts as a
// denial rather than a failure
func (l *Logger) LogFormat(volumeID, devicePath, fsType string, outcome EventOutcome, err error, duration time.Duration) {
	eventType := EventFormatSuccess
	severity := SeverityInfo
	message := "Volume formatted"
	switch outcome {
	case OutcomeFailure:
		eventType = EventFormatFailure
		severity = SeverityError
		message = "Volume format failed"
	case OutcomeDenied:
		eventType = EventFormatDenied
		severity = SeverityWarning
		message = "Volume format denied"
	}

	event := NewEvent(eventType, CategoryVolumeOperation, severity, message).
		WithVolume(volumeID, "").
		WithPaths(devicePath, "").
		WithOperation("Format", duration).
		WithOutcome(outcome).
		WithDetail("fs_type", fsType).
		WithError(err)
	l.LogEvent(event)
}

// LogBridgeSpawn logs a bridge process start
func (l *Logger) LogBridgeSpawn(volumeID, stableName string, pid int, err error) {
	if err != nil {
		event := NewEvent(EventBridgeFailure, CategoryVolumeOperation, SeverityError, "Bridge process failed to start").
			WithVolume(volumeID, stableName).
			WithOutcome(OutcomeFailure).
			WithError(err)
		l.LogEvent(event)
		return
	}
	event := NewEvent(EventBridgeSpawn, CategoryVolumeOperation, SeverityInfo, "Bridge process started").
		WithVolume(volumeID, stableName).
		WithOutcome(OutcomeSuccess).
		WithDetail("pid", fmt.Sprintf("%d", pid))
	l.LogEvent(event)
}

// LogTriggerClaimed logs a post-mount trigger claim. Trigger files come off
// the card, so every claim is audit-relevant.
func (l *Logger) LogTriggerClaimed(volumeID, hookKey, triggerPath string) {
	event := NewEvent(EventTriggerClaimed, CategoryUntrustedMedia, SeverityWarning, "On-card trigger file claimed").
		WithVolume(volumeID, "").
		WithOutcome(OutcomeSuccess).
		WithDetail("hook", hookKey).
		WithDetail("trigger_path", triggerPath)
	l.LogEvent(event)
}

// LogMetadataSanitized logs that an on-card metadata field was altered
// before use
func (l *Logger) LogMetadataSanitized(volumeID, field, raw, clean string) {
	event := NewEvent(EventMetadataSanitized, CategoryUntrustedMedia, SeverityWarning, "On-card metadata sanitized").
		WithVolume(volumeID, "").
		WithOutcome(OutcomeSuccess).
		WithDetail("field", field).
		WithDetail("raw", fmt.Sprintf("%q", raw)).
		WithDetail("clean", fmt.Sprintf("%q", clean))
	l.LogEvent(event)
}

// LogUnsafeVolumeName logs a rejected on-card volume identifier (critical:
// an unsafe name reaching the path layer would be a traversal primitive)
func (l *Logger) LogUnsafeVolumeName(volumeID, rejected string) {
	event := NewEvent(EventUnsafeVolumeName, CategorySecurityViolation, SeverityCritical,
		"On-card filesystem UUID rejected as unsafe for path construction").
		WithVolume(volumeID, "").
		WithOutcome(OutcomeDenied).
		WithDetail("rejected", fmt.Sprintf("%q", rejected))
	l.LogEvent(event)
}

// LogValidationFailure logs a generic validation failure
func (l *Logger) LogValidationFailure(parameter, value, reason string) {
	event := NewEvent(EventValidationFailure, CategorySecurityViolation, SeverityCritical, "Validation failure").
		WithOutcome(OutcomeDenied).
		WithDetail("parameter", parameter).
		WithDetail("value", value).
		WithDetail("reason", reason)
	l.LogEvent(event)
}

// GetMetrics returns the logger's metrics
func (l *Logger) GetMetrics() *Metrics {
	return l.metrics
}
