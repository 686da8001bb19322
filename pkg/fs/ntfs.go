package fs

import (
	"context"
	"fmt"
	"os/exec"

	"k8s.io/klog/v2"
)

// ntfs is the NTFS family, mounted through the ntfs-3g userspace driver.
type ntfs struct {
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewNtfs creates the ntfs capability.
func NewNtfs() Filesystem {
	return &ntfs{execCommand: exec.CommandContext}
}

func (n *ntfs) Name() string { return "ntfs" }

// Check runs ntfsfix in dry-run mode to verify the volume is consistent.
func (n *ntfs) Check(ctx context.Context, device string) error {
	cmd := n.execCommand(ctx, "ntfsfix", "-n", device)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ntfsfix failed on %s: %w, output: %s", device, err, string(output))
	}

	klog.V(4).Infof("ntfsfix clean on %s", device)
	return nil
}

// Mount mounts the device via ntfs-3g.
func (n *ntfs) Mount(ctx context.Context, device, target string, opts MountOpts) error {
	data := fmt.Sprintf("utf8,uid=%d,gid=%d,fmask=%o,dmask=%o,nodev,nosuid,noatime,big_writes",
		opts.OwnerUID, opts.OwnerGID, opts.PermMask, opts.PermMask)

	cmd := n.execCommand(ctx, "ntfs-3g", device, target, "-o", data)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ntfs-3g failed to mount %s at %s: %w, output: %s",
			device, target, err, string(output))
	}

	klog.V(2).Infof("Mounted ntfs %s at %s", device, target)
	return nil
}

// Format creates an NTFS filesystem with fast formatting.
func (n *ntfs) Format(ctx context.Context, device string) error {
	cmd := n.execCommand(ctx, "mkfs.ntfs", "-f", device)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("mkfs.ntfs failed on %s: %w, output: %s", device, err, string(output))
	}

	klog.V(2).Infof("Formatted %s as ntfs", device)
	return nil
}
