package volume

import (
	"path/filepath"
	"regexp"
	"strings"
)

// StableName picks the name that keys every mount-session path: the
// filesystem UUID when the media has one, else the volume id. Mount and
// unmount must compute this identically so teardown can find trigger state
// claimed under the same name.
func StableName(id, fsUUID string) string {
	if fsUUID != "" {
		return fsUUID
	}
	return id
}

// safeNamePattern restricts stable names to a single path component.
var safeNamePattern = regexp.MustCompile(`^[A-Za-z0-9:._-]+$`)

// SafeStableName reports whether a candidate stable name is safe to join
// into mount paths. The name comes from on-card metadata, so anything that
// could escape its directory is rejected.
func SafeStableName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return safeNamePattern.MatchString(name)
}

// Namespace holds the filesystem roots a volume's paths hang off. All
// fields are absolute paths.
type Namespace struct {
	DevRoot         string
	RawRoot         string
	FuseDefaultRoot string
	FuseReadRoot    string
	FuseWriteRoot   string
	VisibleRoot     string
}

// SessionPaths are the four mount points of one mount session.
type SessionPaths struct {
	Raw         string
	FuseDefault string
	FuseRead    string
	FuseWrite   string
}

// All returns the session paths in preparation order: raw first, then the
// three bridged views.
func (p SessionPaths) All() []string {
	return []string{p.Raw, p.FuseDefault, p.FuseRead, p.FuseWrite}
}

// DevicePath returns where the volume's device node lives.
func (n Namespace) DevicePath(id string) string {
	return filepath.Join(n.DevRoot, id)
}

// Build computes the session paths for a stable name.
func (n Namespace) Build(stableName string) SessionPaths {
	return SessionPaths{
		Raw:         filepath.Join(n.RawRoot, stableName),
		FuseDefault: filepath.Join(n.FuseDefaultRoot, stableName),
		FuseRead:    filepath.Join(n.FuseReadRoot, stableName),
		FuseWrite:   filepath.Join(n.FuseWriteRoot, stableName),
	}
}

// VisiblePath returns the user-facing path for a browsable volume.
func (n Namespace) VisiblePath(stableName string) string {
	return filepath.Join(n.VisibleRoot, stableName)
}
