// Command tftpd serves a single directory read-only over TFTP, for
// PXE/network boot bring-up.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/pxeboot/tftpd/internal/config"
	"github.com/pxeboot/tftpd/internal/fsroot"
	"github.com/pxeboot/tftpd/internal/logging"
	"github.com/pxeboot/tftpd/internal/metrics"
	"github.com/pxeboot/tftpd/internal/tftpd"
)

var cfgFile string

func main() {
	cfg := config.Default()

	root := &cobra.Command{
		Use:   "tftpd ROOT",
		Short: "A read-only TFTP server for PXE bring-up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				fileCfg := config.Default()
				if err := config.LoadFile(cfgFile, &fileCfg); err != nil {
					return err
				}
				applyFileDefaults(cmd.Flags(), &cfg, fileCfg)
			}
			cfg.Root = args[0]
			return run(cfg)
		},
		SilenceUsage: true,
	}

	registerFlags(root.Flags(), &cfg, &cfgFile)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// registerFlags binds cfg's fields to root's flag set. Pulled out of
// main so tests can build the same flag set without going through
// cobra's Execute.
func registerFlags(flags *pflag.FlagSet, cfg *config.Config, cfgFile *string) {
	flags.StringVarP(&cfg.ListenAddr, "listen", "l", cfg.ListenAddr, "address to bind the TFTP listener on")
	flags.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "address to serve Prometheus metrics on (empty disables)")
	flags.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "enable debug logging")
	flags.IntVar(&cfg.BlksizeCeiling, "blksize-ceiling", cfg.BlksizeCeiling, "largest blksize this server will negotiate")
	flags.IntVar(&cfg.RetryBudget, "retry-budget", cfg.RetryBudget, "retransmissions allowed before a session gives up")
	flags.BoolVar(&cfg.SendFinalErrorOnTimeout, "send-final-error-on-timeout", cfg.SendFinalErrorOnTimeout, "send an ERROR packet when a session times out instead of dropping silently")
	flags.StringVar(cfgFile, "config", "", "optional YAML config file; CLI flags override its values")
}

// applyFileDefaults copies file into cfg one field at a time, but only
// for flags the user did not pass on the command line. flags.Changed
// reports the flags actually present on argv, so a CLI value always
// wins over the same setting in --config regardless of call order.
func applyFileDefaults(flags *pflag.FlagSet, cfg *config.Config, file config.Config) {
	if !flags.Changed("listen") {
		cfg.ListenAddr = file.ListenAddr
	}
	if !flags.Changed("metrics") {
		cfg.MetricsAddr = file.MetricsAddr
	}
	if !flags.Changed("verbose") {
		cfg.Verbose = file.Verbose
	}
	if !flags.Changed("blksize-ceiling") {
		cfg.BlksizeCeiling = file.BlksizeCeiling
	}
	if !flags.Changed("retry-budget") {
		cfg.RetryBudget = file.RetryBudget
	}
	if !flags.Changed("send-final-error-on-timeout") {
		cfg.SendFinalErrorOnTimeout = file.SendFinalErrorOnTimeout
	}
}

func run(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logging.New(cfg.Verbose)

	servedRoot, err := fsroot.Open(cfg.Root)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	listener, err := tftpd.NewListener(tftpd.ListenerParams{
		Addr:                    cfg.ListenAddr,
		Root:                    servedRoot,
		BlksizeCeiling:          cfg.BlksizeCeiling,
		RetryBudget:             cfg.RetryBudget,
		SendFinalErrorOnTimeout: cfg.SendFinalErrorOnTimeout,
		Log:                     log,
		Metrics:                 m,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Warn("tftpd: metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			metricsSrv.Close()
		}()
		log.WithField("addr", cfg.MetricsAddr).Info("tftpd: serving metrics")
	}

	log.WithFields(logrus.Fields{
		"root":   servedRoot.Base(),
		"listen": listener.LocalAddr().String(),
	}).Info("tftpd: ready")

	return listener.Run(ctx)
}
