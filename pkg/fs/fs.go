// Package fs provides the per-filesystem-family capabilities (check, mount,
// format) used by the volume lifecycle, plus the blkid-based metadata reader
// for untrusted media. Families are registered in probe order.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"

	"k8s.io/klog/v2"
)

// ErrNoUsableFilesystem is returned by Probe when every registered family's
// check fails on the device.
var ErrNoUsableFilesystem = errors.New("no usable filesystem on device")

// MountOpts carries the access policy applied at mount time.
type MountOpts struct {
	// OwnerUID/OwnerGID own all files on the mounted filesystem.
	OwnerUID int
	OwnerGID int

	// PermMask is subtracted from file permissions (fmask/dmask).
	PermMask os.FileMode
}

// Filesystem is one supported on-disk format.
type Filesystem interface {
	// Name is the canonical family name ("vfat", "ntfs").
	Name() string

	// Check runs a repairing filesystem check against the device. A nil
	// return means the device holds a usable filesystem of this family.
	Check(ctx context.Context, device string) error

	// Mount mounts the device read-write at target with the given
	// access policy.
	Mount(ctx context.Context, device, target string, opts MountOpts) error

	// Format creates a fresh filesystem of this family on the device.
	Format(ctx context.Context, device string) error
}

// Registry holds the supported families in probe precedence order. The first
// entry is the primary family: it is checked first, and it is the only
// family Format accepts.
type Registry struct {
	families []Filesystem
}

// NewRegistry builds a registry; at least one family is required.
func NewRegistry(families ...Filesystem) *Registry {
	if len(families) == 0 {
		panic("fs: registry needs at least one filesystem family")
	}
	return &Registry{families: families}
}

// Default returns the stock registry: vfat primary, ntfs fallback.
func Default() *Registry {
	return NewRegistry(NewVfat(), NewNtfs())
}

// Primary returns the first registered family.
func (r *Registry) Primary() Filesystem {
	return r.families[0]
}

// Supports reports whether name is a registered family.
func (r *Registry) Supports(name string) bool {
	for _, f := range r.families {
		if f.Name() == name {
			return true
		}
	}
	return false
}

// Probe finds the family actually present on the device. The primary family
// is checked first; later families are tried only after every earlier check
// failed. Returns ErrNoUsableFilesystem when all checks fail.
func (r *Registry) Probe(ctx context.Context, device string) (Filesystem, error) {
	for _, f := range r.families {
		if err := f.Check(ctx, device); err != nil {
			klog.V(2).Infof("%s check failed on %s: %v", f.Name(), device, err)
			continue
		}
		klog.V(2).Infof("Probed %s on %s", f.Name(), device)
		return f, nil
	}
	return nil, fmt.Errorf("%s: %w", device, ErrNoUsableFilesystem)
}
