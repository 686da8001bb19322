// Package devnode manages the block device nodes backing public volumes and
// the block-level wipe used before a format.
package devnode

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// wipeChunkSize is how much zeroed data each write pushes to the device.
const wipeChunkSize = 1 << 20

// Ops manipulates device nodes and raw block devices.
type Ops interface {
	// Create materializes a block device node at path for the given
	// major/minor numbers. An existing node at the path is tolerated.
	Create(path string, major, minor uint32) error

	// Destroy removes the device node. An absent node is tolerated.
	Destroy(path string) error

	// Wipe zero-fills the whole block device.
	Wipe(path string) error
}

// unixOps implements Ops with raw syscalls.
type unixOps struct {
	mknod   func(path string, mode uint32, dev int) error
	unlink  func(path string) error
	devSize func(fd int) (int, error)
}

// New creates the syscall-backed Ops.
func New() Ops {
	return &unixOps{
		mknod:  unix.Mknod,
		unlink: unix.Unlink,
		devSize: func(fd int) (int, error) {
			return unix.IoctlGetInt(fd, unix.BLKGETSIZE64)
		},
	}
}

// Create makes the block node with mode 0600; only the daemon touches it.
func (o *unixOps) Create(path string, major, minor uint32) error {
	dev := unix.Mkdev(major, minor)
	if err := o.mknod(path, unix.S_IFBLK|0600, int(dev)); err != nil {
		if err == unix.EEXIST {
			klog.V(3).Infof("Device node %s already exists", path)
			return nil
		}
		return fmt.Errorf("failed to create device node %s: %w", path, err)
	}

	klog.V(2).Infof("Created device node %s (%d:%d)", path, major, minor)
	return nil
}

// Destroy unlinks the node.
func (o *unixOps) Destroy(path string) error {
	if err := o.unlink(path); err != nil {
		if err == unix.ENOENT {
			return nil
		}
		return fmt.Errorf("failed to remove device node %s: %w", path, err)
	}

	klog.V(2).Infof("Removed device node %s", path)
	return nil
}

// Wipe writes zeros across the entire device. Used before format so stale
// superblocks from a previous filesystem cannot confuse later probes.
func (o *unixOps) Wipe(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s for wipe: %w", path, err)
	}
	defer f.Close()

	size, err := o.devSize(int(f.Fd()))
	if err != nil {
		return fmt.Errorf("failed to read size of %s: %w", path, err)
	}

	klog.V(2).Infof("Wiping %s (%d bytes)", path, size)

	zeros := make([]byte, wipeChunkSize)
	remaining := int64(size)
	for remaining > 0 {
		chunk := zeros
		if remaining < wipeChunkSize {
			chunk = zeros[:remaining]
		}
		n, err := f.Write(chunk)
		if err != nil {
			return fmt.Errorf("wipe of %s failed with %d bytes left: %w", path, remaining, err)
		}
		remaining -= int64(n)
	}

	if err := f.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s after wipe: %w", path, err)
	}

	klog.V(2).Infof("Wiped %s", path)
	return nil
}
