// volumed manages the lifecycle of public removable volumes: device node
// creation, filesystem probe and mount, the bridge process that exposes the
// mount to applications, post-mount trigger hooks, unmount and format.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/volumed/pkg/audit"
	"git.srvlab.io/whiskey/volumed/pkg/bridge"
	"git.srvlab.io/whiskey/volumed/pkg/config"
	"git.srvlab.io/whiskey/volumed/pkg/devnode"
	"git.srvlab.io/whiskey/volumed/pkg/events"
	"git.srvlab.io/whiskey/volumed/pkg/fs"
	"git.srvlab.io/whiskey/volumed/pkg/mountutil"
	"git.srvlab.io/whiskey/volumed/pkg/observability"
	"git.srvlab.io/whiskey/volumed/pkg/props"
	"git.srvlab.io/whiskey/volumed/pkg/volume"
)

const unmountTimeout = 30 * time.Second

type app struct {
	configPath    string
	metricsListen string

	visible bool
	primary bool
	userID  int

	cfg     config.Config
	metrics *observability.Metrics
	store   props.Store
	closers []func() error
}

func main() {
	a := &app{}
	root := a.rootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "volumed",
		Short:         "Public removable volume lifecycle daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.metrics = observability.NewMetrics()
			return a.openStore()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			var first error
			for _, c := range a.closers {
				if err := c(); err != nil && first == nil {
					first = err
				}
			}
			return first
		},
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	cmd.PersistentFlags().AddGoFlagSet(klogFlags)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to YAML config (defaults apply when empty)")
	cmd.PersistentFlags().StringVar(&a.metricsListen, "metrics-listen", "", "Address for the Prometheus /metrics endpoint (disabled when empty)")

	cmd.AddCommand(a.createCmd(), a.destroyCmd(), a.mountCmd(), a.unmountCmd(), a.formatCmd())
	return cmd
}

func (a *app) openStore() error {
	if a.cfg.PropertiesPath == "" {
		klog.V(2).Info("No properties path configured, trigger state will not survive restarts")
		a.store = props.NewMemStore()
		return nil
	}
	bs, err := props.OpenBolt(a.cfg.PropertiesPath)
	if err != nil {
		return fmt.Errorf("failed to open property store: %w", err)
	}
	a.store = bs
	a.closers = append(a.closers, bs.Close)
	return nil
}

// buildVolume assembles a controller for the device named by id.
func (a *app) buildVolume(id string) (*volume.PublicVolume, error) {
	dev, err := volume.ParseID(id)
	if err != nil {
		audit.GetLogger().LogValidationFailure("volume-id", id, err.Error())
		return nil, err
	}

	var flags volume.Flags
	if a.visible {
		flags |= volume.FlagVisible
	}
	if a.primary {
		flags |= volume.FlagPrimary
	}

	hooks := make([]volume.Hook, 0, len(a.cfg.Hooks))
	for _, h := range a.cfg.Hooks {
		hooks = append(hooks, volume.Hook{Key: h.Key, Trigger: h.Trigger})
	}

	deps := volume.Deps{
		Namespace: volume.Namespace{
			DevRoot:         a.cfg.DevRoot,
			RawRoot:         a.cfg.RawRoot,
			FuseDefaultRoot: a.cfg.FuseDefaultRoot,
			FuseReadRoot:    a.cfg.FuseReadRoot,
			FuseWriteRoot:   a.cfg.FuseWriteRoot,
			VisibleRoot:     a.cfg.VisibleRoot,
		},
		Filesystems:        fs.Default(),
		Metadata:           fs.NewBlkidReader(),
		Mounts:             mountutil.New(),
		Nodes:              devnode.New(),
		Bridge:             bridge.NewTranslator(a.cfg.TranslatorPath, a.cfg.MediaUID, a.cfg.MediaGID),
		Slots:              volume.NewSlotRegistry(a.store),
		Hooks:              hooks,
		Notifier:           events.LogNotifier{},
		Metrics:            a.metrics,
		Audit:              audit.GetLogger(),
		MediaUID:           a.cfg.MediaUID,
		MediaGID:           a.cfg.MediaGID,
		BridgeReadyTimeout: a.cfg.BridgeReadyTimeout,
		SecureStagePath:    a.cfg.SecureStagePath,
	}
	return volume.New(dev, flags, a.userID, deps), nil
}

func (a *app) serveMetrics() {
	if a.metricsListen == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	go func() {
		klog.Infof("Serving metrics on %s", a.metricsListen)
		if err := http.ListenAndServe(a.metricsListen, mux); err != nil {
			klog.Errorf("Metrics server failed: %v", err)
		}
	}()
}

func (a *app) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <volume-id>",
		Short: "Create the backing device node for a volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.buildVolume(args[0])
			if err != nil {
				return err
			}
			if err := v.Create(cmd.Context()); err != nil {
				return err
			}
			klog.Infof("Created %s at %s", v.ID(), v.DevicePath())
			return nil
		},
	}
}

func (a *app) destroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <volume-id>",
		Short: "Remove the backing device node for a volume",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.buildVolume(args[0])
			if err != nil {
				return err
			}
			return v.Destroy(cmd.Context())
		},
	}
}

func (a *app) mountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <volume-id>",
		Short: "Mount a volume and, for visible volumes, supervise its bridge process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.buildVolume(args[0])
			if err != nil {
				return err
			}
			a.serveMetrics()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := v.Mount(ctx); err != nil {
				return err
			}
			klog.Infof("Mounted %s at %s", v.ID(), v.Path())

			if v.BridgePid() == 0 {
				return nil
			}

			// The bridge is our child. Stay up until told to stop,
			// then take the whole volume down with it.
			klog.Infof("Supervising bridge pid %d for %s", v.BridgePid(), v.ID())
			<-ctx.Done()
			stop()

			downCtx, cancel := context.WithTimeout(context.Background(), unmountTimeout)
			defer cancel()
			return v.Unmount(downCtx)
		},
	}
	cmd.Flags().BoolVar(&a.visible, "visible", false, "Expose the volume to applications through the bridge")
	cmd.Flags().BoolVar(&a.primary, "primary", false, "Treat the volume as the primary external storage")
	cmd.Flags().IntVar(&a.userID, "user", 0, "Owning user id passed to the bridge")
	return cmd
}

func (a *app) unmountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unmount <volume-id>",
		Short: "Tear down a volume's mounts and release its trigger slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := a.buildVolume(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), unmountTimeout)
			defer cancel()
			return v.Unmount(ctx)
		},
	}
	cmd.Flags().BoolVar(&a.visible, "visible", false, "Match the flags the volume was mounted with")
	cmd.Flags().BoolVar(&a.primary, "primary", false, "Match the flags the volume was mounted with")
	return cmd
}

func (a *app) formatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "format <volume-id> [fs-type]",
		Short: "Re-create the filesystem on an unmounted volume",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			fsType := "auto"
			if len(args) == 2 {
				fsType = args[1]
			}
			v, err := a.buildVolume(args[0])
			if err != nil {
				return err
			}
			if err := v.Format(cmd.Context(), fsType); err != nil {
				return err
			}
			klog.Infof("Formatted %s as %s", v.ID(), fsType)
			return nil
		},
	}
}
