// Command catalystd is the control-plane binary: it serves the agent
// gateway, the SFTP surface, and the Prometheus metrics endpoint out of one
// process, backed by a local BoltDB store. Structure and flag/signal
// conventions follow cmd/warren's cobra root command.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/catalystlabs/catalyst/pkg/access"
	"github.com/catalystlabs/catalyst/pkg/config"
	"github.com/catalystlabs/catalyst/pkg/events"
	"github.com/catalystlabs/catalyst/pkg/gateway"
	"github.com/catalystlabs/catalyst/pkg/lifecycle"
	"github.com/catalystlabs/catalyst/pkg/logging"
	"github.com/catalystlabs/catalyst/pkg/metrics"
	"github.com/catalystlabs/catalyst/pkg/reconciler"
	"github.com/catalystlabs/catalyst/pkg/security"
	"github.com/catalystlabs/catalyst/pkg/sftpsrv"
	"github.com/catalystlabs/catalyst/pkg/storage"
	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "catalystd",
	Short:   "Catalyst control plane: agent gateway, SFTP surface, and lifecycle engine",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("catalystd version %s (%s)\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(keygenCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	logging.Init(logging.Config{
		Level:      logging.Level(level),
		JSONOutput: jsonOut,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane: gateway, lifecycle engine, SFTP surface, and metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		log := logging.WithComponent("main")

		store, err := storage.NewBoltStore(cfg.ServerDataPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		broker := events.NewBroker()
		broker.Start()
		defer broker.Stop()

		gw := gateway.New(store, broker, cfg.GatewaySendTimeoutSeconds)

		lc := lifecycle.New(store, gw, broker, cfg)
		lc.Start()
		defer lc.Stop()

		tokens := security.NewTokenManager()
		evaluator := access.New(store, cfg)

		sftpSrv, err := sftpsrv.New(cfg, store, tokens, evaluator)
		if err != nil {
			return fmt.Errorf("init sftp server: %w", err)
		}

		recon := reconciler.New(store, broker, tokens, cfg.NodeLivenessWindowSeconds)
		recon.Start()
		defer recon.Stop()

		collector := metrics.NewCollector(store)
		collector.Start()
		defer collector.Stop()

		metrics.SetVersion(Version)
		metrics.RegisterComponent("gateway", false, "starting")
		metrics.RegisterComponent("sftp", false, "starting")

		metricsAddr := fmt.Sprintf(":%d", cfg.MetricsPort)
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		metricsMux.HandleFunc("/health", metrics.HealthHandler())
		metricsMux.HandleFunc("/ready", metrics.ReadyHandler())
		metricsMux.HandleFunc("/live", metrics.LivenessHandler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics server exited")
			}
		}()
		defer metricsSrv.Close()
		log.Info().Str("addr", metricsAddr).Msg("metrics endpoint listening")

		gatewayAddr := fmt.Sprintf(":%d", cfg.GatewayPort)
		gwErrCh := make(chan error, 1)
		go func() {
			if err := gw.Serve(gatewayAddr); err != nil {
				gwErrCh <- fmt.Errorf("gateway: %w", err)
			}
		}()
		defer gw.Stop()
		metrics.RegisterComponent("gateway", true, "listening on "+gatewayAddr)
		log.Info().Str("addr", gatewayAddr).Msg("agent gateway listening")

		sftpAddr := fmt.Sprintf(":%d", cfg.SFTPPort)
		sftpErrCh := make(chan error, 1)
		go func() {
			if err := sftpSrv.Serve(sftpAddr); err != nil {
				sftpErrCh <- fmt.Errorf("sftp: %w", err)
			}
		}()
		defer sftpSrv.Stop()
		metrics.RegisterComponent("sftp", true, "listening on "+sftpAddr)
		log.Info().Str("addr", sftpAddr).Msg("sftp surface listening")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			log.Info().Msg("shutdown signal received")
		case err := <-gwErrCh:
			log.Error().Err(err).Msg("gateway failed")
		case err := <-sftpErrCh:
			log.Error().Err(err).Msg("sftp server failed")
		}

		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate (or load) the SFTP host key and print its type",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("out")
		signer, err := security.LoadOrGenerateSSHHostKey(path)
		if err != nil {
			return fmt.Errorf("generate host key: %w", err)
		}
		fmt.Printf("SFTP host key ready at %s\n", path)
		fmt.Printf("  type: %s\n", signer.PublicKey().Type())
		return nil
	},
}

func init() {
	keygenCmd.Flags().String("out", "/tmp/catalyst-servers/.sftp_host_key", "Path to persist the generated host key")
}
