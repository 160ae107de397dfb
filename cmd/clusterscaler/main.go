package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/clusterscaler/pkg/commandrunner"
	"github.com/cuemby/clusterscaler/pkg/config"
	"github.com/cuemby/clusterscaler/pkg/log"
	"github.com/cuemby/clusterscaler/pkg/metrics"
	"github.com/cuemby/clusterscaler/pkg/provider"
	"github.com/cuemby/clusterscaler/pkg/reconciler"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "clusterscaler",
	Short: "clusterscaler - standalone cluster autoscaling control loop",
	Long: `clusterscaler observes a node provider's fleet against a YAML
cluster configuration and launches, updates, or terminates nodes to keep
the fleet matched to configured minimums and observed resource demand.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"clusterscaler version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(runCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	metrics.SetVersion(Version)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the reconciliation loop against a cluster configuration file",
	RunE:  runReconciler,
}

func init() {
	runCmd.Flags().String("config", "", "Path to the cluster configuration YAML file (required)")
	runCmd.Flags().String("listen-addr", ":8080", "Address to serve /metrics, /health, /ready and /live on")
	_ = runCmd.MarkFlagRequired("config")
}

func runReconciler(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen-addr")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load cluster config: %w", err)
	}

	prov := provider.NewInMemory()
	runner := commandrunner.NewLocal()

	r := reconciler.New(configPath, prov, runner, cfg)
	metrics.RegisterComponent("provider", true, "")
	metrics.RegisterComponent("reconciler", true, "")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	httpServer := &http.Server{Addr: listenAddr, Handler: mux}

	go func() {
		log.Logger.Info().Str("addr", listenAddr).Msg("serving metrics and health endpoints")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("metrics/health server exited")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r.Start(ctx)
	log.Logger.Info().Str("config", configPath).Msg("clusterscaler running")

	<-ctx.Done()
	log.Logger.Info().Msg("shutting down")

	r.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)

	return nil
}
