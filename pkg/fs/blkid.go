package fs

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"k8s.io/klog/v2"
)

// Metadata is the filesystem identity read off a device.
type Metadata struct {
	Type  string
	UUID  string
	Label string
}

// BlkidReader reads filesystem metadata with blkid. Safe to point at
// untrusted removable media: blkid only parses superblocks, and the probe
// cache is disabled so stale entries from a previous card never leak in.
type BlkidReader struct {
	execCommand func(ctx context.Context, name string, args ...string) *exec.Cmd
}

// NewBlkidReader creates the blkid-backed metadata reader.
func NewBlkidReader() *BlkidReader {
	return &BlkidReader{execCommand: exec.CommandContext}
}

// Read probes the device. A device with no recognizable filesystem yields
// empty metadata and no error; only probe execution failures are errors.
func (r *BlkidReader) Read(ctx context.Context, device string) (Metadata, error) {
	cmd := r.execCommand(ctx, "blkid", "-c", "/dev/null",
		"-s", "TYPE", "-s", "UUID", "-s", "LABEL", "-o", "export", device)
	output, err := cmd.Output()
	if err != nil {
		// blkid exits 2 when nothing was found on the device
		if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 2 {
			klog.V(2).Infof("No filesystem metadata on %s", device)
			return Metadata{}, nil
		}
		return Metadata{}, fmt.Errorf("blkid failed on %s: %w", device, err)
	}

	md := parseBlkidExport(string(output))
	klog.V(2).Infof("Metadata for %s: type=%q uuid=%q label=%q",
		device, md.Type, md.UUID, md.Label)
	return md, nil
}

// parseBlkidExport parses `blkid -o export` KEY=VALUE lines.
func parseBlkidExport(output string) Metadata {
	var md Metadata
	for _, line := range strings.Split(output, "\n") {
		key, value, found := strings.Cut(strings.TrimSpace(line), "=")
		if !found {
			continue
		}
		switch key {
		case "TYPE":
			md.Type = value
		case "UUID":
			md.UUID = value
		case "LABEL":
			md.Label = value
		}
	}
	return md
}
