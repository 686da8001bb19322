// Package bridge supervises the external translator process that exposes a
// mounted volume to applications through permissioned views. The translator
// gives no explicit readiness signal; readiness is observed by watching the
// device identity of the write view flip once the translator completes its
// internal mount.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"
)

// DefaultPollInterval is how often the ready path's device identity is
// re-sampled while waiting for the translator.
const DefaultPollInterval = 50 * time.Millisecond

// Config describes one translator invocation.
type Config struct {
	// RawPath is the backing mount the translator re-exports.
	RawPath string

	// StableName keys the translator's own mount points.
	StableName string

	// UserID is the volume's owning user, passed through to the
	// translator.
	UserID int

	// Writable enables the write view (set for the primary volume).
	Writable bool

	// ReadyPath is the path whose device identity changes once the
	// translator has mounted (normally the write view).
	ReadyPath string
}

// Process is a running translator.
type Process interface {
	// Pid returns the translator's process id.
	Pid() int

	// Terminate signals the translator and waits for it to exit. If ctx
	// expires first, the translator is killed and reaped.
	Terminate(ctx context.Context) error
}

// Spawner starts translator processes.
type Spawner interface {
	// Spawn starts the translator and blocks until it is ready, ctx is
	// done, or the translator exits prematurely.
	Spawn(ctx context.Context, cfg Config) (Process, error)
}

// Translator is the production Spawner wrapping the platform sdcard binary.
type Translator struct {
	binary   string
	uid, gid int

	interval   time.Duration
	clock      clockwork.Clock
	statDev    func(path string) (uint64, error)
	newCommand func(binary string, args []string) *exec.Cmd
}

// Option adjusts a Translator.
type Option func(*Translator)

// WithPollInterval overrides the readiness poll interval.
func WithPollInterval(d time.Duration) Option {
	return func(t *Translator) { t.interval = d }
}

// WithClock overrides the poll clock.
func WithClock(c clockwork.Clock) Option {
	return func(t *Translator) { t.clock = c }
}

// NewTranslator creates a Spawner running binary with the given media
// credentials.
func NewTranslator(binary string, uid, gid int, opts ...Option) *Translator {
	t := &Translator{
		binary:   binary,
		uid:      uid,
		gid:      gid,
		interval: DefaultPollInterval,
		clock:    clockwork.NewRealClock(),
		statDev:  statDevice,
	}
	t.newCommand = t.defaultCommand
	for _, o := range opts {
		o(t)
	}
	return t
}

// statDevice returns the device identity of path.
func statDevice(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}

// defaultCommand builds the translator command, dropping to the media
// credentials when they differ from the daemon's own.
func (t *Translator) defaultCommand(binary string, args []string) *exec.Cmd {
	cmd := exec.Command(binary, args...)
	if t.uid > 0 || t.gid > 0 {
		cmd.SysProcAttr = &syscall.SysProcAttr{
			Credential: &syscall.Credential{Uid: uint32(t.uid), Gid: uint32(t.gid)},
		}
	}
	return cmd
}

// args builds the translator argv. Order is fixed: credentials, owning
// user, optional write flag, raw path, stable name.
func (t *Translator) args(cfg Config) []string {
	args := []string{
		"-u", strconv.Itoa(t.uid),
		"-g", strconv.Itoa(t.gid),
		"-U", strconv.Itoa(cfg.UserID),
	}
	if cfg.Writable {
		args = append(args, "-w")
	}
	return append(args, cfg.RawPath, cfg.StableName)
}

// Spawn implements Spawner.
func (t *Translator) Spawn(ctx context.Context, cfg Config) (Process, error) {
	before, err := t.statDev(cfg.ReadyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to sample %s before spawn: %w", cfg.ReadyPath, err)
	}

	cmd := t.newCommand(t.binary, t.args(cfg))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start translator %s: %w", t.binary, err)
	}

	proc := &process{cmd: cmd, exited: make(chan struct{})}
	go func() {
		proc.exitErr = cmd.Wait()
		close(proc.exited)
	}()

	klog.V(2).Infof("Translator pid %d started for %s", proc.Pid(), cfg.StableName)

	if err := t.waitReady(ctx, proc, cfg.ReadyPath, before); err != nil {
		// Don't leave a half-started translator behind
		killCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if termErr := proc.Terminate(killCtx); termErr != nil {
			klog.Warningf("Failed to clean up translator pid %d: %v", proc.Pid(), termErr)
		}
		return nil, err
	}

	klog.V(2).Infof("Translator pid %d ready for %s", proc.Pid(), cfg.StableName)
	return proc, nil
}

// waitReady polls the ready path until its device identity differs from the
// pre-spawn sample. The first sample happens immediately; a translator that
// mounts fast never costs a poll interval.
func (t *Translator) waitReady(ctx context.Context, proc *process, readyPath string, before uint64) error {
	for {
		now, err := t.statDev(readyPath)
		switch {
		case err != nil:
			klog.V(3).Infof("Ready sample of %s failed: %v", readyPath, err)
		case now != before:
			return nil
		default:
			klog.V(4).Infof("Waiting for translator to mount %s", readyPath)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("gave up waiting for translator on %s: %w", readyPath, ctx.Err())
		case <-proc.exited:
			return fmt.Errorf("translator exited before becoming ready: %v", proc.exitErr)
		case <-t.clock.After(t.interval):
		}
	}
}

// process is a started translator. exited is closed by the wait goroutine
// after the child is reaped, with exitErr holding the wait result, so exit
// stays observable to any number of readers.
type process struct {
	cmd     *exec.Cmd
	exited  chan struct{}
	exitErr error
}

// Pid implements Process.
func (p *process) Pid() int {
	return p.cmd.Process.Pid
}

// Terminate implements Process. SIGTERM first; if ctx expires before the
// translator exits, escalate to SIGKILL and reap. Safe to call on a
// translator that already exited.
func (p *process) Terminate(ctx context.Context) error {
	select {
	case <-p.exited:
		logExit(p.Pid(), p.exitErr)
		return nil
	default:
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// Already gone is fine; the wait goroutine reaps it
		klog.V(3).Infof("SIGTERM to pid %d failed: %v", p.Pid(), err)
	}

	select {
	case <-p.exited:
		logExit(p.Pid(), p.exitErr)
		return nil
	case <-ctx.Done():
	}

	klog.Warningf("Translator pid %d ignored SIGTERM, killing", p.Pid())
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("failed to kill translator pid %d: %w", p.Pid(), err)
	}

	<-p.exited
	logExit(p.Pid(), p.exitErr)
	return nil
}

func logExit(pid int, err error) {
	if err != nil {
		klog.V(2).Infof("Translator pid %d exited: %v", pid, err)
	} else {
		klog.V(2).Infof("Translator pid %d exited cleanly", pid)
	}
}
