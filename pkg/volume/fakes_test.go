package volume

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"git.srvlab.io/whiskey/volumed/pkg/audit"
	"git.srvlab.io/whiskey/volumed/pkg/bridge"
	"git.srvlab.io/whiskey/volumed/pkg/events"
	"git.srvlab.io/whiskey/volumed/pkg/fs"
	"git.srvlab.io/whiskey/volumed/pkg/props"
)

// stubFS is a scriptable filesystem family
type stubFS struct {
	name      string
	checkErr  error
	mountErr  error
	formatErr error

	checks  int
	mounts  int
	formats int

	lastMountTarget string
	lastMountOpts   fs.MountOpts
}

func (s *stubFS) Name() string { return s.name }

func (s *stubFS) Check(ctx context.Context, device string) error {
	s.checks++
	return s.checkErr
}

func (s *stubFS) Mount(ctx context.Context, device, target string, opts fs.MountOpts) error {
	s.mounts++
	s.lastMountTarget = target
	s.lastMountOpts = opts
	return s.mountErr
}

func (s *stubFS) Format(ctx context.Context, device string) error {
	s.formats++
	return s.formatErr
}

// fakeMounts records mount operations; PrepareDir really creates the
// directory so hook trigger files and secure staging work against it.
type fakeMounts struct {
	calls []string

	prepareFailOn string
	bindErr       error
	unmountErr    map[string]error
}

func (m *fakeMounts) PrepareDir(path string, mode os.FileMode, uid, gid int) error {
	m.calls = append(m.calls, fmt.Sprintf("prepare:%s:%o", path, mode))
	if m.prepareFailOn != "" && strings.Contains(path, m.prepareFailOn) {
		return fmt.Errorf("failed to create %s: %w", path, os.ErrPermission)
	}
	return os.MkdirAll(path, 0755)
}

func (m *fakeMounts) BindMount(source, target string) error {
	m.calls = append(m.calls, fmt.Sprintf("bind:%s->%s", source, target))
	return m.bindErr
}

func (m *fakeMounts) ForceUnmount(target string) error {
	m.calls = append(m.calls, "unmount:"+target)
	return m.unmountErr[target]
}

func (m *fakeMounts) RemoveDir(path string) error {
	m.calls = append(m.calls, "rmdir:"+path)
	return nil
}

func (m *fakeMounts) reset() { m.calls = nil }

// fakeNodes records device node operations
type fakeNodes struct {
	created   []string
	destroyed []string
	wiped     []string

	createErr  error
	destroyErr error
	wipeErr    error
}

func (n *fakeNodes) Create(path string, major, minor uint32) error {
	n.created = append(n.created, path)
	return n.createErr
}

func (n *fakeNodes) Destroy(path string) error {
	n.destroyed = append(n.destroyed, path)
	return n.destroyErr
}

func (n *fakeNodes) Wipe(path string) error {
	n.wiped = append(n.wiped, path)
	return n.wipeErr
}

// fakeProcess is a spawned bridge
type fakeProcess struct {
	pid        int
	terminated int
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Terminate(ctx context.Context) error {
	p.terminated++
	return nil
}

// fakeBridge records spawn configs
type fakeBridge struct {
	spawns   []bridge.Config
	spawnErr error
	proc     *fakeProcess
}

func (b *fakeBridge) Spawn(ctx context.Context, cfg bridge.Config) (bridge.Process, error) {
	b.spawns = append(b.spawns, cfg)
	if b.spawnErr != nil {
		return nil, b.spawnErr
	}
	b.proc = &fakeProcess{pid: 4242}
	return b.proc, nil
}

// fakeMetadata returns scripted metadata
type fakeMetadata struct {
	md  fs.Metadata
	err error
}

func (m *fakeMetadata) Read(ctx context.Context, device string) (fs.Metadata, error) {
	return m.md, m.err
}

// env wires a controller against fakes, with all roots under a temp dir so
// file checks run against the real filesystem.
type env struct {
	ns       Namespace
	vfat     *stubFS
	ntfs     *stubFS
	mounts   *fakeMounts
	nodes    *fakeNodes
	bridgeSp *fakeBridge
	slots    *SlotRegistry
	notifier *events.Recorder
	meta     *fakeMetadata
	auditLog *audit.Logger
	hooks    []Hook
	secure   string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()

	return &env{
		ns: Namespace{
			DevRoot:         filepath.Join(root, "dev"),
			RawRoot:         filepath.Join(root, "media_rw"),
			FuseDefaultRoot: filepath.Join(root, "runtime", "default"),
			FuseReadRoot:    filepath.Join(root, "runtime", "read"),
			FuseWriteRoot:   filepath.Join(root, "runtime", "write"),
			VisibleRoot:     filepath.Join(root, "storage"),
		},
		vfat:     &stubFS{name: "vfat"},
		ntfs:     &stubFS{name: "ntfs"},
		mounts:   &fakeMounts{unmountErr: map[string]error{}},
		nodes:    &fakeNodes{},
		bridgeSp: &fakeBridge{},
		slots:    NewSlotRegistry(props.NewMemStore()),
		notifier: &events.Recorder{},
		meta:     &fakeMetadata{md: fs.Metadata{Type: "vfat", UUID: "ABCD-1234", Label: "SDCARD"}},
		auditLog: audit.NewLogger(),
		hooks: []Hook{
			{Key: "update", Trigger: "OTA/update.zip"},
			{Key: "startup", Trigger: "startup/start_up.sh"},
			{Key: "cust", Trigger: "cust/cust_update.zip"},
		},
		secure: filepath.Join(root, "secure", "asec"),
	}
}

func (e *env) volume(flags Flags) *PublicVolume {
	return New(Device{Major: 179, Minor: 1}, flags, 0, Deps{
		Namespace:          e.ns,
		Filesystems:        fs.NewRegistry(e.vfat, e.ntfs),
		Metadata:           e.meta,
		Mounts:             e.mounts,
		Nodes:              e.nodes,
		Bridge:             e.bridgeSp,
		Slots:              e.slots,
		Hooks:              e.hooks,
		Notifier:           e.notifier,
		Audit:              e.auditLog,
		MediaUID:           1023,
		MediaGID:           1023,
		BridgeReadyTimeout: time.Second,
		SecureStagePath:    e.secure,
	})
}

// placeTrigger creates a hook trigger file under the raw path the volume
// will mount at.
func (e *env) placeTrigger(t *testing.T, stableName, trigger string) {
	t.Helper()
	path := filepath.Join(e.ns.RawRoot, stableName, trigger)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("payload"), 0644); err != nil {
		t.Fatal(err)
	}
}
