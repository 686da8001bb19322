package volume

import (
	"fmt"
	"regexp"
	"strconv"
)

// Volume ID format: "public:<major>:<minor>". The strict pattern keeps ids
// safe to splice into paths and translator argv.
var volumeIDPattern = regexp.MustCompile(`^public:([0-9]+):([0-9]+)$`)

// Device identifies the backing block device.
type Device struct {
	Major uint32
	Minor uint32
}

// ID returns the volume id for this device.
func (d Device) ID() string {
	return fmt.Sprintf("public:%d:%d", d.Major, d.Minor)
}

// ParseID parses a volume id back into its device numbers.
func ParseID(id string) (Device, error) {
	m := volumeIDPattern.FindStringSubmatch(id)
	if m == nil {
		return Device{}, fmt.Errorf("invalid volume id %q (expected public:<major>:<minor>)", id)
	}

	major, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return Device{}, fmt.Errorf("invalid major in volume id %q: %w", id, err)
	}
	minor, err := strconv.ParseUint(m[2], 10, 32)
	if err != nil {
		return Device{}, fmt.Errorf("invalid minor in volume id %q: %w", id, err)
	}

	return Device{Major: uint32(major), Minor: uint32(minor)}, nil
}

// Flags select how a volume is exposed.
type Flags uint32

const (
	// FlagVisible marks the volume browsable by applications; visible
	// volumes get a bridge process.
	FlagVisible Flags = 1 << iota

	// FlagPrimary marks the primary external volume; it gets secure
	// app-storage staging and a writable bridge.
	FlagPrimary
)

// Visible reports whether FlagVisible is set.
func (f Flags) Visible() bool { return f&FlagVisible != 0 }

// Primary reports whether FlagPrimary is set.
func (f Flags) Primary() bool { return f&FlagPrimary != 0 }
