package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/n6x/watchdog/internal/config"
	"github.com/n6x/watchdog/internal/console"
	"github.com/n6x/watchdog/internal/mdns"
	"github.com/n6x/watchdog/internal/metrics"
	"github.com/n6x/watchdog/internal/semver"
	"github.com/n6x/watchdog/internal/transport"
	"github.com/n6x/watchdog/internal/watchdog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func Run(version string) *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Discover peers on the local network and exchange messages with them",
		Long: "The run command announces this peer over mDNS, accepts connections from other peers " +
			"and reads commands from stdin. Type /peers to list peers and @<peer> <message> to send.",
		Args: cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			for key, flag := range map[string]string{
				"listen":         "listen",
				"service":        "service",
				"inbox_capacity": "inbox-capacity",
			} {
				if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return fmt.Errorf("binding %s flag: %w", flag, err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ver, err := semver.Parse(version)
			if err != nil {
				return fmt.Errorf("watchdog requires version to be set: %w", err)
			}
			cfg, err := config.FromViper()
			if err != nil {
				return err
			}
			if err := validateListenAddress(cfg.Listen); err != nil {
				return fmt.Errorf("%q: %w", cfg.Listen, err)
			}
			lgr, err := setupLogging(cfg.Verbose)
			if err != nil {
				return err
			}
			defer lgr.Sync() //nolint:errcheck
			return run(cmd, cfg, ver, lgr)
		},
	}
	runCmd.Flags().StringP("listen", "l", "", listenFlagDesc)
	runCmd.Flags().String("service", "", "mDNS service name to announce and browse")
	runCmd.Flags().Int("inbox-capacity", 0, "maximum pending messages per peer, 0 for unbounded")
	return runCmd
}

func run(cmd *cobra.Command, cfg config.Config, ver semver.Version, lgr *zap.Logger) error {
	self, err := ensureID(cfg)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	wd := watchdog.New(
		watchdog.WithLogger(lgr),
		watchdog.WithMetrics(metrics.New(registry)),
		watchdog.WithInboxCapacity(cfg.InboxCapacity),
	)
	tr, err := transport.New(self, ver, wd,
		transport.WithLogger(lgr),
		transport.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	)
	if err != nil {
		return err
	}
	wd.AttachTransport(tr)
	defer wd.DetachTransport()

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	disc := mdns.New(mdns.Config{
		Service:       cfg.Service,
		Domain:        cfg.Domain,
		Port:          l.Addr().(*net.TCPAddr).Port,
		Version:       ver.String(),
		QueryInterval: cfg.QueryInterval,
		TTL:           cfg.PeerTTL,
	}, self, wd, mdns.WithLogger(lgr), mdns.WithAddrBook(tr))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "watchdog %s as %s on %s\n", ver, self, l.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return tr.Serve(ctx, l)
	})
	g.Go(func() error {
		return disc.Run(ctx)
	})
	g.Go(func() error {
		defer stop()
		return console.New(wd, cmd.InOrStdin(), cmd.OutOrStdout(), lgr).Run(ctx)
	})
	return multierr.Combine(g.Wait(), tr.Close())
}
