// Package volume implements the lifecycle of publicly-visible removable
// volumes: device-node bracketing, the mount/unmount state machine, format,
// post-mount trigger hooks, and supervision of the bridge process that
// exposes the mounted filesystem to applications.
package volume

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/volumed/pkg/audit"
	"git.srvlab.io/whiskey/volumed/pkg/bridge"
	"git.srvlab.io/whiskey/volumed/pkg/devnode"
	"git.srvlab.io/whiskey/volumed/pkg/events"
	"git.srvlab.io/whiskey/volumed/pkg/fs"
	"git.srvlab.io/whiskey/volumed/pkg/mountutil"
	"git.srvlab.io/whiskey/volumed/pkg/observability"
)

const (
	// appPermMask is subtracted from file permissions on the native
	// mount so "other" gets nothing.
	appPermMask = 0007

	// secureDirName is the per-volume secure app-storage directory.
	secureDirName = ".app_secure"

	// legacySecureDirName is the pre-rename spelling, migrated on mount.
	legacySecureDirName = "app_secure"
)

// MetadataReader reads filesystem identity off untrusted media.
type MetadataReader interface {
	Read(ctx context.Context, device string) (fs.Metadata, error)
}

// Deps are the collaborators a PublicVolume drives. All fields except
// Metrics and Audit are required.
type Deps struct {
	Namespace   Namespace
	Filesystems *fs.Registry
	Metadata    MetadataReader
	Mounts      mountutil.Ops
	Nodes       devnode.Ops
	Bridge      bridge.Spawner
	Slots       *SlotRegistry
	Hooks       []Hook
	Notifier    events.Notifier
	Metrics     *observability.Metrics
	Audit       *audit.Logger

	// MediaUID/MediaGID own files on the native mount.
	MediaUID int
	MediaGID int

	// BridgeReadyTimeout bounds the wait for the bridge process.
	BridgeReadyTimeout time.Duration

	// SecureStagePath is the system-wide secure app-storage bind target.
	SecureStagePath string
}

// PublicVolume is the lifecycle controller for one removable volume. It is
// not safe for concurrent use: the owning manager serializes create, mount,
// unmount and format per volume.
type PublicVolume struct {
	id      string
	device  Device
	devPath string
	flags   Flags
	userID  int

	fsType  string
	fsUUID  string
	fsLabel string

	rawPath     string
	fuseDefault string
	fuseRead    string
	fuseWrite   string

	internalPath string
	path         string

	bridgeProc bridge.Process

	deps Deps
}

// New creates the controller for a discovered device. Identity is fixed at
// creation; flags select visibility and primary status, userID is the
// owning user passed to the bridge process.
func New(device Device, flags Flags, userID int, deps Deps) *PublicVolume {
	id := device.ID()
	return &PublicVolume{
		id:      id,
		device:  device,
		devPath: deps.Namespace.DevicePath(id),
		flags:   flags,
		userID:  userID,
		deps:    deps,
	}
}

// ID returns the volume id.
func (v *PublicVolume) ID() string { return v.id }

// DevicePath returns the backing device node path.
func (v *PublicVolume) DevicePath() string { return v.devPath }

// Path returns the user-facing path, empty while unmounted.
func (v *PublicVolume) Path() string { return v.path }

// InternalPath returns the raw (non-user-facing) path, empty while
// unmounted.
func (v *PublicVolume) InternalPath() string { return v.internalPath }

// FsType returns the filesystem type from the last metadata refresh.
func (v *PublicVolume) FsType() string { return v.fsType }

// FsUUID returns the filesystem UUID from the last metadata refresh.
func (v *PublicVolume) FsUUID() string { return v.fsUUID }

// FsLabel returns the filesystem label from the last metadata refresh.
func (v *PublicVolume) FsLabel() string { return v.fsLabel }

// BridgePid returns the bridge process id, or 0 when no bridge is running.
func (v *PublicVolume) BridgePid() int {
	if v.bridgeProc == nil {
		return 0
	}
	return v.bridgeProc.Pid()
}

// Create materializes the backing device node.
func (v *PublicVolume) Create(ctx context.Context) error {
	start := time.Now()
	err := v.deps.Nodes.Create(v.devPath, v.device.Major, v.device.Minor)
	v.recordOp("create", err, start)
	return err
}

// Destroy removes the backing device node.
func (v *PublicVolume) Destroy(ctx context.Context) error {
	start := time.Now()
	err := v.deps.Nodes.Destroy(v.devPath)
	v.recordOp("destroy", err, start)
	return err
}

// Mount brings the volume up: metadata refresh, format probe, directory
// preparation, native mount, post-mount hooks, secure staging and, for
// visible volumes, the bridge process. A failed mount leaves any
// partially-created state in place; the caller cleans it up with Unmount.
func (v *PublicVolume) Mount(ctx context.Context) error {
	start := time.Now()
	err := v.mount(ctx)
	v.recordOp("mount", err, start)
	if v.deps.Audit != nil {
		v.deps.Audit.LogMount(v.id, v.devPath, v.path, err, time.Since(start))
	}
	return err
}

func (v *PublicVolume) mount(ctx context.Context) error {
	v.refreshMetadata(ctx)

	if !v.deps.Filesystems.Supports(v.fsType) {
		return fmt.Errorf("%s: unsupported filesystem %q: %w", v.id, v.fsType, unix.EIO)
	}

	probed, err := v.deps.Filesystems.Probe(ctx, v.devPath)
	if err != nil {
		return fmt.Errorf("%s: filesystem check failed: %v: %w", v.id, err, unix.EIO)
	}

	stableName := StableName(v.id, v.fsUUID)
	paths := v.deps.Namespace.Build(stableName)
	v.rawPath = paths.Raw
	v.fuseDefault = paths.FuseDefault
	v.fuseRead = paths.FuseRead
	v.fuseWrite = paths.FuseWrite

	v.internalPath = v.rawPath
	if v.flags.Visible() {
		v.path = v.deps.Namespace.VisiblePath(stableName)
	} else {
		// Not meant to be browsed directly, but still needs a
		// reportable location
		v.path = v.rawPath
	}

	for _, dir := range paths.All() {
		if err := v.deps.Mounts.PrepareDir(dir, 0700, 0, 0); err != nil {
			return fmt.Errorf("%s: failed to create mount points: %w", v.id, err)
		}
	}

	opts := fs.MountOpts{
		OwnerUID: v.deps.MediaUID,
		OwnerGID: v.deps.MediaGID,
		PermMask: appPermMask,
	}
	if err := probed.Mount(ctx, v.devPath, v.rawPath, opts); err != nil {
		return fmt.Errorf("%s: failed to mount %s: %v: %w", v.id, v.devPath, err, unix.EIO)
	}

	v.evaluateHooks(stableName)

	if v.flags.Primary() {
		v.stageSecureStorage()
	}

	if !v.flags.Visible() {
		// Not visible to apps, so no bridge process needed
		return nil
	}

	if err := v.spawnBridge(ctx, stableName); err != nil {
		return err
	}

	return nil
}

// refreshMetadata re-reads the on-disk identity and notifies listeners.
// The three notifications fire on every mount attempt whether or not the
// values changed; consumers are idempotent.
func (v *PublicVolume) refreshMetadata(ctx context.Context) {
	md, err := v.deps.Metadata.Read(ctx, v.devPath)
	if err != nil {
		klog.Warningf("%s metadata refresh failed: %v", v.id, err)
	}
	v.fsType, v.fsUUID, v.fsLabel = md.Type, md.UUID, md.Label

	// The UUID feeds path construction, so an unsafe one is discarded
	// and the volume falls back to its id for naming.
	if v.fsUUID != "" && !SafeStableName(v.fsUUID) {
		klog.Warningf("%s rejecting unsafe filesystem UUID %q", v.id, v.fsUUID)
		if v.deps.Audit != nil {
			v.deps.Audit.LogUnsafeVolumeName(v.id, v.fsUUID)
		}
		v.fsUUID = ""
	}

	if clean := sanitizeLabel(v.fsLabel); clean != v.fsLabel {
		if v.deps.Audit != nil {
			v.deps.Audit.LogMetadataSanitized(v.id, "label", v.fsLabel, clean)
		}
		v.fsLabel = clean
	}

	v.deps.Notifier.Notify(v.id, events.FsTypeChanged, v.fsType)
	v.deps.Notifier.Notify(v.id, events.FsUuidChanged, v.fsUUID)
	v.deps.Notifier.Notify(v.id, events.FsLabelChanged, v.fsLabel)
}

// sanitizeLabel strips control bytes from an on-card volume label before it
// reaches logs or clients.
func sanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, label)
}

// evaluateHooks walks the hook list in order and stops at the first hook
// that fires. Hook and slot failures never abort a mount.
func (v *PublicVolume) evaluateHooks(stableName string) {
	for _, h := range v.deps.Hooks {
		claimed, err := v.deps.Slots.Claimed(h.Key)
		if err != nil {
			klog.Warningf("%s hook %s: slot check failed: %v", v.id, h.Key, err)
			continue
		}
		if claimed {
			klog.V(2).Infof("%s hook %s: another %s process is in flight, skipping",
				v.id, h.Key, h.Key)
			continue
		}

		trigger := filepath.Join(v.rawPath, h.Trigger)
		if _, err := os.Stat(trigger); err != nil {
			klog.V(3).Infof("%s hook %s: no trigger at %s", v.id, h.Key, trigger)
			continue
		}

		ok, err := v.deps.Slots.Claim(h.Key, trigger, stableName)
		if err != nil {
			klog.Warningf("%s hook %s: claim failed: %v", v.id, h.Key, err)
			continue
		}
		if !ok {
			klog.V(2).Infof("%s hook %s: lost claim race, skipping", v.id, h.Key)
			continue
		}

		klog.V(2).Infof("%s hook %s: claimed trigger %s", v.id, h.Key, trigger)
		if v.deps.Metrics != nil {
			v.deps.Metrics.RecordHookClaim(h.Key)
		}
		if v.deps.Audit != nil {
			v.deps.Audit.LogTriggerClaimed(v.id, h.Key, trigger)
		}
		return
	}
}

// stageSecureStorage prepares the secure app-storage directory on the
// primary volume and binds it to the system-wide path. Entirely
// best-effort: a broken card must not stop the mount.
func (v *PublicVolume) stageSecureStorage() {
	legacyPath := filepath.Join(v.rawPath, legacySecureDirName)
	securePath := filepath.Join(v.rawPath, secureDirName)

	// Recover the legacy directory name
	if accessible(legacyPath) && !accessible(securePath) {
		if err := os.Rename(legacyPath, securePath); err != nil {
			klog.Warningf("%s failed to rename legacy secure dir: %v", v.id, err)
		}
	}

	if err := os.Mkdir(securePath, 0700); err != nil && !os.IsExist(err) {
		klog.Warningf("%s creating secure stage failed: %v", v.id, err)
		return
	}

	if err := v.deps.Mounts.BindMount(securePath, v.deps.SecureStagePath); err != nil {
		klog.Warningf("%s failed to bind secure stage: %v", v.id, err)
	}
}

// accessible reports whether path can be read and traversed.
func accessible(path string) bool {
	return unix.Access(path, unix.R_OK|unix.X_OK) == nil
}

// spawnBridge starts the translator and waits (bounded) for its mount to
// appear on the write view.
func (v *PublicVolume) spawnBridge(ctx context.Context, stableName string) error {
	spawnCtx := ctx
	if v.deps.BridgeReadyTimeout > 0 {
		var cancel context.CancelFunc
		spawnCtx, cancel = context.WithTimeout(ctx, v.deps.BridgeReadyTimeout)
		defer cancel()
	}

	start := time.Now()
	proc, err := v.deps.Bridge.Spawn(spawnCtx, bridge.Config{
		RawPath:    v.rawPath,
		StableName: stableName,
		UserID:     v.userID,
		Writable:   v.flags.Primary(),
		ReadyPath:  v.fuseWrite,
	})
	if v.deps.Metrics != nil {
		v.deps.Metrics.RecordBridgeSpawn(err, time.Since(start))
	}
	if err != nil {
		if v.deps.Audit != nil {
			v.deps.Audit.LogBridgeSpawn(v.id, stableName, 0, err)
		}
		return fmt.Errorf("%s: bridge spawn failed: %v: %w", v.id, err, unix.EIO)
	}

	v.bridgeProc = proc
	if v.deps.Audit != nil {
		v.deps.Audit.LogBridgeSpawn(v.id, stableName, proc.Pid(), nil)
	}
	return nil
}

// Unmount tears the volume down. Every step is best-effort and the
// sequence never short-circuits, so it is safe to call on a
// partially-mounted volume and safe to call twice.
func (v *PublicVolume) Unmount(ctx context.Context) error {
	start := time.Now()
	v.unmount(ctx)
	v.recordOp("unmount", nil, start)
	if v.deps.Audit != nil {
		v.deps.Audit.LogUnmount(v.id, v.devPath, time.Since(start))
	}
	return nil
}

func (v *PublicVolume) unmount(ctx context.Context) {
	if v.bridgeProc != nil {
		if err := v.bridgeProc.Terminate(ctx); err != nil {
			klog.Warningf("%s bridge teardown failed: %v", v.id, err)
			v.recordTeardownFailure("bridge")
		}
		if v.deps.Metrics != nil {
			v.deps.Metrics.RecordBridgeExit()
		}
		v.bridgeProc = nil
	}

	// A fresh controller has no session state; recover the on-disk
	// identity so the stable-name paths resolve the same way mount
	// resolved them.
	if v.rawPath == "" && v.fsUUID == "" {
		if md, err := v.deps.Metadata.Read(ctx, v.devPath); err == nil {
			v.fsType, v.fsUUID, v.fsLabel = md.Type, md.UUID, md.Label
		}
	}

	// Recomputed rather than read from the session fields so a repeat
	// call still targets the right paths
	stableName := StableName(v.id, v.fsUUID)
	paths := v.deps.Namespace.Build(stableName)

	if err := v.deps.Mounts.ForceUnmount(v.deps.SecureStagePath); err != nil {
		klog.Warningf("%s failed to unmount secure stage: %v", v.id, err)
		v.recordTeardownFailure("secure_stage")
	}

	for _, p := range []string{paths.FuseDefault, paths.FuseRead, paths.FuseWrite} {
		if err := v.deps.Mounts.ForceUnmount(p); err != nil {
			klog.Warningf("%s failed to unmount %s: %v", v.id, p, err)
			v.recordTeardownFailure("fuse_views")
		}
	}
	if err := v.deps.Mounts.ForceUnmount(paths.Raw); err != nil {
		klog.Warningf("%s failed to unmount %s: %v", v.id, paths.Raw, err)
		v.recordTeardownFailure("raw")
	}

	for _, p := range []string{paths.FuseDefault, paths.FuseRead, paths.FuseWrite, paths.Raw} {
		if err := v.deps.Mounts.RemoveDir(p); err != nil {
			klog.V(3).Infof("%s failed to remove %s: %v", v.id, p, err)
		}
	}

	v.rawPath = ""
	v.fuseDefault = ""
	v.fuseRead = ""
	v.fuseWrite = ""
	v.internalPath = ""
	v.path = ""

	for _, h := range v.deps.Hooks {
		released, err := v.deps.Slots.Release(h.Key, stableName)
		if err != nil {
			klog.Warningf("%s hook %s: release failed: %v", v.id, h.Key, err)
			v.recordTeardownFailure("slots")
			continue
		}
		if released {
			klog.V(2).Infof("%s hook %s: cleared trigger slot", v.id, h.Key)
		}
	}
}

// Format re-creates the primary filesystem on the device. Only the primary
// family name or "auto" is accepted; the volume is assumed unmounted.
func (v *PublicVolume) Format(ctx context.Context, fsType string) error {
	start := time.Now()
	err := v.format(ctx, fsType)
	v.recordOp("format", err, start)
	if v.deps.Audit != nil {
		outcome := audit.OutcomeSuccess
		switch {
		case errors.Is(err, unix.EINVAL):
			outcome = audit.OutcomeDenied
		case err != nil:
			outcome = audit.OutcomeFailure
		}
		v.deps.Audit.LogFormat(v.id, v.devPath, fsType, outcome, err, time.Since(start))
	}
	return err
}

func (v *PublicVolume) format(ctx context.Context, fsType string) error {
	primary := v.deps.Filesystems.Primary()
	if fsType != "auto" && fsType != primary.Name() {
		return fmt.Errorf("%s: unsupported format type %q: %w", v.id, fsType, unix.EINVAL)
	}

	if err := v.deps.Nodes.Wipe(v.devPath); err != nil {
		klog.Warningf("%s failed to wipe: %v", v.id, err)
	}

	if err := primary.Format(ctx, v.devPath); err != nil {
		return fmt.Errorf("%s: failed to format: %v: %w", v.id, err, unix.EIO)
	}

	return nil
}

func (v *PublicVolume) recordOp(op string, err error, start time.Time) {
	if v.deps.Metrics != nil {
		v.deps.Metrics.RecordVolumeOp(op, err, time.Since(start))
	}
}

func (v *PublicVolume) recordTeardownFailure(step string) {
	if v.deps.Metrics != nil {
		v.deps.Metrics.RecordTeardownStepFailure(step)
	}
}
