package audit

import "time"

// EventCategory represents the category of an audit event
type EventCategory string

const (
	// CategoryVolumeOperation represents volume lifecycle operations
	CategoryVolumeOperation EventCategory = "volume_operation"

	// CategoryUntrustedMedia represents events derived from on-card data
	CategoryUntrustedMedia EventCategory = "untrusted_media"

	// CategorySecurityViolation represents potential security violations
	CategorySecurityViolation EventCategory = "security_violation"
)

// EventSeverity represents the severity level of an audit event
type EventSeverity string

const (
	// SeverityInfo represents informational events
	SeverityInfo EventSeverity = "info"

	// SeverityWarning represents warning events
	SeverityWarning EventSeverity = "warning"

	// SeverityError represents error events
	SeverityError EventSeverity = "error"

	// SeverityCritical represents critical security events
	SeverityCritical EventSeverity = "critical"
)

// EventOutcome represents the outcome of an audited operation
type EventOutcome string

const (
	// OutcomeSuccess indicates the operation succeeded
	OutcomeSuccess EventOutcome = "success"

	// OutcomeFailure indicates the operation failed
	OutcomeFailure EventOutcome = "failure"

	// OutcomeDenied indicates the operation was denied
	OutcomeDenied EventOutcome = "denied"

	// OutcomeUnknown indicates the outcome is unknown
	OutcomeUnknown EventOutcome = "unknown"
)

// EventType represents specific types of audit events
type EventType string

const (
	// Volume operation events
	EventMountRequest   EventType = "mount_request"
	EventMountSuccess   EventType = "mount_success"
	EventMountFailure   EventType = "mount_failure"
	EventUnmountRequest EventType = "unmount_request"
	EventUnmountSuccess EventType = "unmount_success"
	EventFormatRequest  EventType = "format_request"
	EventFormatSuccess  EventType = "format_success"
	EventFormatFailure  EventType = "format_failure"
	EventFormatDenied   EventType = "format_denied"
	EventBridgeSpawn    EventType = "bridge_spawn"
	EventBridgeFailure  EventType = "bridge_failure"
	EventTriggerClaimed EventType = "trigger_claimed"

	// Untrusted media events
	EventMetadataSanitized EventType = "metadata_sanitized"

	// Security violation events
	EventUnsafeVolumeName  EventType = "unsafe_volume_name"
	EventValidationFailure EventType = "validation_failure"
)

// Event represents one audit-relevant event in the daemon
type Event struct {
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Category  EventCategory `json:"category"`
	Severity  EventSeverity `json:"severity"`
	Outcome   EventOutcome  `json:"outcome"`
	Message   string        `json:"message"`

	// Resource fields
	VolumeID   string `json:"volume_id,omitempty"`
	StableName string `json:"stable_name,omitempty"`
	DevicePath string `json:"device_path,omitempty"`
	MountPath  string `json:"mount_path,omitempty"`

	// Operation details
	Operation string            `json:"operation,omitempty"`
	Duration  time.Duration     `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewEvent creates a new audit event with timestamp
func NewEvent(eventType EventType, category EventCategory, severity EventSeverity, message string) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Category:  category,
		Severity:  severity,
		Message:   message,
		Details:   make(map[string]string),
	}
}

// WithOutcome sets the outcome for the event
func (e *Event) WithOutcome(outcome EventOutcome) *Event {
	e.Outcome = outcome
	return e
}

// WithVolume sets volume identity for the event
func (e *Event) WithVolume(volumeID, stableName string) *Event {
	e.VolumeID = volumeID
	e.StableName = stableName
	return e
}

// WithPaths sets device and mount path information
func (e *Event) WithPaths(devicePath, mountPath string) *Event {
	e.DevicePath = devicePath
	e.MountPath = mountPath
	return e
}

// WithOperation sets operation details
func (e *Event) WithOperation(operation string, duration time.Duration) *Event {
	e.Operation = operation
	e.Duration = duration
	return e
}

// WithError sets error information
func (e *Event) WithError(err error) *Event {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDetail adds a custom detail field
func (e *Event) WithDetail(key, value string) *Event {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
