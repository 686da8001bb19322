package fs

import (
	"context"
	"fmt"
	"os/exec"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// vfat is the FAT family, mounted in-kernel.
type vfat struct {
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
	mount       func(source, target, fstype string, flags uintptr, data string) error
}

// NewVfat creates the vfat capability.
func NewVfat() Filesystem {
	return &vfat{
		execCommand: exec.CommandContext,
		mount:       unix.Mount,
	}
}

func (v *vfat) Name() string { return "vfat" }

// Check runs fsck.fat in preen mode. Exit status 1 means errors were found
// and corrected, which still leaves a usable filesystem.
func (v *vfat) Check(ctx context.Context, device string) error {
	cmd := v.execCommand(ctx, "fsck.fat", "-p", device)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
			klog.V(2).Infof("fsck.fat repaired %s: %s", device, string(output))
			return nil
		}
		return fmt.Errorf("fsck.fat failed on %s: %w, output: %s", device, err, string(output))
	}

	klog.V(4).Infof("fsck.fat clean on %s", device)
	return nil
}

// Mount mounts the device with the kernel vfat driver.
func (v *vfat) Mount(ctx context.Context, device, target string, opts MountOpts) error {
	flags := uintptr(unix.MS_NODEV | unix.MS_NOSUID | unix.MS_DIRSYNC | unix.MS_NOATIME)
	data := fmt.Sprintf("utf8,uid=%d,gid=%d,fmask=%o,dmask=%o,shortname=mixed",
		opts.OwnerUID, opts.OwnerGID, opts.PermMask, opts.PermMask)

	if err := v.mount(device, target, "vfat", flags, data); err != nil {
		return fmt.Errorf("failed to mount %s at %s: %w", device, target, err)
	}

	klog.V(2).Infof("Mounted vfat %s at %s", device, target)
	return nil
}

// Format creates a FAT32 filesystem.
func (v *vfat) Format(ctx context.Context, device string) error {
	cmd := v.execCommand(ctx, "mkfs.fat", "-F", "32", device)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mkfs.fat failed on %s: %w, output: %s", device, err, string(output))
	}

	klog.V(2).Infof("Formatted %s as vfat", device)
	return nil
}
