// Package mountutil wraps the mount(2) family of syscalls used by the volume
// lifecycle: mount-point directory preparation, bind mounts, forced unmounts
// and directory removal. All operations are best-effort friendly so teardown
// can call them on paths that may already be gone.
package mountutil

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/moby/sys/mountinfo"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

const (
	// unmountRetries bounds the clean-unmount attempts before escalating
	// to a lazy detach.
	unmountRetries = 3

	// unmountRetryInterval is the initial backoff between clean-unmount
	// attempts.
	unmountRetryInterval = 100 * time.Millisecond
)

// Ops performs mount-related filesystem operations.
type Ops interface {
	// PrepareDir ensures path exists with exactly the given mode and
	// ownership, whether or not it already existed.
	PrepareDir(path string, mode os.FileMode, uid, gid int) error

	// BindMount bind-mounts source onto target.
	BindMount(source, target string) error

	// ForceUnmount unmounts target, escalating to a lazy forced detach
	// if a clean unmount keeps failing. A path that is not mounted (or
	// does not exist) is success.
	ForceUnmount(target string) error

	// RemoveDir removes the (presumably empty) directory at path.
	// Absent directories are success.
	RemoveDir(path string) error
}

// unixOps implements Ops with raw syscalls.
type unixOps struct {
	mount   func(source, target, fstype string, flags uintptr, data string) error
	unmount func(target string, flags int) error
	mounted func(path string) (bool, error)
}

// New creates the syscall-backed Ops.
func New() Ops {
	return &unixOps{
		mount:   unix.Mount,
		unmount: unix.Unmount,
		mounted: mountinfo.Mounted,
	}
}

// PrepareDir mirrors fs_prepare_dir: create if missing, then force the
// expected mode and ownership even on a pre-existing directory.
func (o *unixOps) PrepareDir(path string, mode os.FileMode, uid, gid int) error {
	if err := os.MkdirAll(path, mode); err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", path, err)
	}
	if err := os.Chown(path, uid, gid); err != nil {
		return fmt.Errorf("failed to chown %s: %w", path, err)
	}

	klog.V(4).Infof("Prepared %s (mode %o, owner %d:%d)", path, mode, uid, gid)
	return nil
}

// BindMount bind-mounts source onto target.
func (o *unixOps) BindMount(source, target string) error {
	if err := o.mount(source, target, "", unix.MS_BIND, ""); err != nil {
		return fmt.Errorf("failed to bind %s onto %s: %w", source, target, err)
	}

	klog.V(2).Infof("Bound %s onto %s", source, target)
	return nil
}

// ForceUnmount tries a clean unmount with bounded retries, then falls back
// to MNT_DETACH|MNT_FORCE so teardown always makes forward progress.
func (o *unixOps) ForceUnmount(target string) error {
	isMounted, err := o.mounted(target)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		// Can't tell; attempt the unmount anyway.
		klog.V(3).Infof("Mount check for %s failed: %v", target, err)
	} else if !isMounted {
		klog.V(4).Infof("%s is not mounted, nothing to unmount", target)
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(unmountRetryInterval),
	), unmountRetries)

	err = backoff.Retry(func() error {
		if err := o.unmount(target, 0); err != nil {
			if err == unix.EINVAL || err == unix.ENOENT {
				// Already gone between the check and the call.
				return nil
			}
			klog.V(3).Infof("Clean unmount of %s failed: %v", target, err)
			return err
		}
		return nil
	}, policy)
	if err == nil {
		klog.V(2).Infof("Unmounted %s", target)
		return nil
	}

	klog.Warningf("Clean unmount of %s kept failing (%v), detaching lazily", target, err)
	if err := o.unmount(target, unix.MNT_DETACH|unix.MNT_FORCE); err != nil {
		if err == unix.EINVAL || err == unix.ENOENT {
			return nil
		}
		return fmt.Errorf("failed to detach %s: %w", target, err)
	}

	klog.V(2).Infof("Detached %s", target)
	return nil
}

// RemoveDir removes path, tolerating its absence.
func (o *unixOps) RemoveDir(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	return nil
}
