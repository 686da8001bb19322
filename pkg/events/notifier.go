// Package events defines the notification surface for filesystem metadata
// changes. The transport to the client framework lives outside this daemon;
// consumers here only see the Notifier interface.
package events

import (
	"sync"

	"k8s.io/klog/v2"
)

// Event identifies a volume metadata change.
type Event int

const (
	// FsTypeChanged reports the detected filesystem type.
	FsTypeChanged Event = iota

	// FsUuidChanged reports the filesystem UUID.
	FsUuidChanged

	// FsLabelChanged reports the filesystem label.
	FsLabelChanged
)

// String returns the event name used in logs.
func (e Event) String() string {
	switch e {
	case FsTypeChanged:
		return "FsTypeChanged"
	case FsUuidChanged:
		return "FsUuidChanged"
	case FsLabelChanged:
		return "FsLabelChanged"
	default:
		return "Unknown"
	}
}

// Notifier receives volume metadata change notifications. Notifications are
// emitted unconditionally on every mount attempt, so implementations must be
// idempotent to repeated identical values.
type Notifier interface {
	Notify(volumeID string, event Event, value string)
}

// LogNotifier writes notifications to the daemon log. It stands in for the
// client-framework transport when none is attached.
type LogNotifier struct{}

// Notify implements Notifier.
func (LogNotifier) Notify(volumeID string, event Event, value string) {
	klog.V(2).Infof("%s %s %q", volumeID, event, value)
}

// Recorder captures notifications for inspection in tests.
type Recorder struct {
	mu       sync.Mutex
	Recorded []Notification
}

// Notification is one captured Notify call.
type Notification struct {
	VolumeID string
	Event    Event
	Value    string
}

// Notify implements Notifier.
func (r *Recorder) Notify(volumeID string, event Event, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Recorded = append(r.Recorded, Notification{VolumeID: volumeID, Event: event, Value: value})
}

// ByEvent returns all captured values for the given event.
func (r *Recorder) ByEvent(event Event) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var values []string
	for _, n := range r.Recorded {
		if n.Event == event {
			values = append(values, n.Value)
		}
	}
	return values
}
