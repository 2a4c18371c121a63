package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/edgeconnect/internal/assetwatch"
	"github.com/psantana5/edgeconnect/internal/connector"
	"github.com/psantana5/edgeconnect/internal/devhttp"
	"github.com/psantana5/edgeconnect/internal/devserver"
	"github.com/psantana5/edgeconnect/pkg/logging"
	"github.com/psantana5/edgeconnect/pkg/shutdown"
)

var (
	devPort    int
	devTimeout time.Duration
	devListen  string
	devBundle  bool
	devDir     string
	devNoWatch bool
)

var devCmd = &cobra.Command{
	Use:   "dev <connector>",
	Short: "Run a framework dev server behind the local entry point",
	Long: `Start the framework's own dev server on a free port (or --port), wait for
its ready banner, then serve it through the entry point on --listen.

The connector's service worker, if it declares one, is rebuilt whenever its
source changes. Ctrl+C stops the dev server and everything it started.

Example:
  edgeconnect dev next
  edgeconnect dev gatsby --port 8000 --timeout 5m
  edgeconnect dev nuxt --bundle --listen 127.0.0.1:4000`,
	Args: cobra.ExactArgs(1),
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)

	devCmd.Flags().IntVar(&devPort, "port", 0, "pin the dev server port (0 = pick a free one)")
	devCmd.Flags().DurationVar(&devTimeout, "timeout", 0, "readiness timeout (overrides the connector's)")
	devCmd.Flags().StringVar(&devListen, "listen", "", "entry point address (default from config, 127.0.0.1:3000)")
	devCmd.Flags().BoolVar(&devBundle, "bundle", false, "stage the connector's resources before starting")
	devCmd.Flags().StringVar(&devDir, "dir", ".", "project root")
	devCmd.Flags().BoolVar(&devNoWatch, "no-watch", false, "do not rebuild the service worker on change")
}

func runDev(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Close()
	reg, err := loadRegistry()
	if err != nil {
		return err
	}
	c, err := reg.Get(args[0])
	if err != nil {
		return err
	}
	dir, err := filepath.Abs(devDir)
	if err != nil {
		return err
	}

	if devBundle {
		if _, err := applyResources(c, dir, "", "", logger); err != nil {
			return err
		}
	}

	cfg, err := devConfig(c, dir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr := shutdown.New(cfg.GracePeriod+10*time.Second, logger)

	sv := devserver.New(devserver.WithLogger(logger), devserver.WithOutput(cmd.OutOrStdout()))
	mgr.Register("dev servers", shutdown.Stopper(sv))

	if !devNoWatch {
		w, err := watchServiceWorker(ctx, c, dir, logger)
		if err != nil {
			_ = mgr.Shutdown()
			return err
		}
		if w != nil {
			mgr.Register("service worker watch", func(context.Context) error { return w.Stop() })
		}
	}

	h, err := sv.Start(ctx, cfg)
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}

	listen := devListen
	if listen == "" {
		listen = viper.GetString("listen")
	}
	entry := devhttp.New(listen, sv, devhttp.WithLogger(logger))
	if err := entry.Start(); err != nil {
		_ = mgr.Shutdown()
		return err
	}
	mgr.Register("entry point", shutdown.StopHTTPServer(entry))

	table := tablewriter.NewWriter(os.Stderr)
	table.Header("Connector", "Dev Server", "PID", "Entry Point")
	table.Append(c.Label, h.Upstream(), fmt.Sprintf("%d", h.PID()), "http://"+entry.Addr())
	table.Render()

	exited := make(chan struct{})
	go func() {
		select {
		case <-h.Done():
			select {
			case <-mgr.Done():
				// Stopped by our own shutdown.
				return
			default:
			}
			close(exited)
			mgr.Trigger()
		case <-mgr.Done():
		}
	}()

	if err := mgr.WaitWithContext(ctx); err != nil {
		return err
	}
	select {
	case <-exited:
		code, _ := h.ExitCode()
		return fmt.Errorf("%s dev server exited with code %d", c.Label, code)
	default:
		return nil
	}
}

// devConfig applies flag and config-file overrides to the connector's config.
func devConfig(c *connector.Connector, dir string) (devserver.Config, error) {
	cfg, err := c.DevServerConfig(dir)
	if err != nil {
		return cfg, err
	}
	if devPort > 0 {
		cfg.Port = devPort
	}

	if devTimeout > 0 {
		cfg.Timeout = devTimeout
	} else if s := viper.GetString("timeout"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return cfg, fmt.Errorf("invalid timeout %q: %w", s, err)
		}
		cfg.Timeout = d
	}

	if s := viper.GetString("grace_period"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return cfg, fmt.Errorf("invalid grace_period %q: %w", s, err)
		}
		cfg.GracePeriod = d
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = devserver.DefaultGracePeriod
	}
	return cfg, nil
}

func watchServiceWorker(ctx context.Context, c *connector.Connector, dir string, logger *logging.Logger) (*assetwatch.Handle, error) {
	rebuild, err := c.Rebuild()
	if err != nil || rebuild == nil {
		return nil, err
	}
	src := filepath.Join(dir, c.ServiceWorker.Source)
	if _, err := os.Stat(src); err != nil {
		logger.Warn("Service worker source missing, not watching it (run bundle first)", map[string]interface{}{"source": src})
		return nil, nil
	}
	return assetwatch.Watch(ctx, src, filepath.Join(dir, c.ServiceWorker.Dest), rebuild, assetwatch.WithLogger(logger))
}
