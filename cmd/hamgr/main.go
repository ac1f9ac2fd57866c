package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuemby/hamgr/pkg/api"
	"github.com/cuemby/hamgr/pkg/auth"
	"github.com/cuemby/hamgr/pkg/config"
	"github.com/cuemby/hamgr/pkg/controller"
	"github.com/cuemby/hamgr/pkg/hostdown"
	"github.com/cuemby/hamgr/pkg/inventory"
	"github.com/cuemby/hamgr/pkg/log"
	"github.com/cuemby/hamgr/pkg/metrics"
	"github.com/cuemby/hamgr/pkg/reconciler"
	"github.com/cuemby/hamgr/pkg/role"
	"github.com/cuemby/hamgr/pkg/schedule"
	"github.com/cuemby/hamgr/pkg/segment"
	"github.com/cuemby/hamgr/pkg/store"
	"github.com/cuemby/hamgr/pkg/storeha"
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
	Use:     "hamgr",
	Short:   "hamgr - High-Availability Manager for compute host aggregates",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("hamgr version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HAMgr reconciliation engine and HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("data-dir", "", "override DataDir from config")
	serveCmd.Flags().String("listen-addr", "", "override ListenAddr from config")
	serveCmd.Flags().String("ha-node-id", "", "enable Raft-replicated cluster storage under this node id")
	serveCmd.Flags().String("ha-bind-addr", "", "Raft transport bind address, required with --ha-node-id")
	serveCmd.Flags().Bool("ha-bootstrap", false, "bootstrap a new Raft group instead of joining an existing one")
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
		cfg.DataDir = v
	}
	if v, _ := cmd.Flags().GetString("listen-addr"); v != "" {
		cfg.ListenAddr = v
	}

	boltStore, err := store.NewBoltStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open cluster store: %w", err)
	}

	var st store.Store = boltStore
	haNodeID, _ := cmd.Flags().GetString("ha-node-id")
	if haNodeID != "" {
		haBindAddr, _ := cmd.Flags().GetString("ha-bind-addr")
		if haBindAddr == "" {
			return fmt.Errorf("--ha-bind-addr is required with --ha-node-id")
		}
		node := storeha.NewNode(storeha.Config{NodeID: haNodeID, BindAddr: haBindAddr, DataDir: cfg.DataDir}, boltStore)

		bootstrap, _ := cmd.Flags().GetBool("ha-bootstrap")
		if bootstrap {
			if err := node.Bootstrap(); err != nil {
				return fmt.Errorf("failed to bootstrap raft group: %w", err)
			}
		} else {
			if err := node.Join(); err != nil {
				return fmt.Errorf("failed to start raft transport: %w", err)
			}
		}
		defer node.Shutdown()
		st = node
		log.Logger.Info().Str("node_id", haNodeID).Str("bind_addr", haBindAddr).Msg("cluster store replicated via raft")
	}

	fetcher := auth.NewKeystoneFetcher(cfg.AuthURI, cfg.AdminUser, cfg.AdminPassword, cfg.AdminTenantName)
	tokens := auth.NewSource(fetcher, cfg.TokenRefreshSkew)

	invClient := inventory.NewHTTPClient(cfg.InventoryBaseURL, tokens, cfg.InventoryServiceBinary, nil)
	segClient := segment.NewHTTPClient(cfg.SegmentBaseURL, tokens, nil)
	roleClient := role.NewHTTPClient(cfg.RoleServiceBaseURL, tokens, cfg.RoleConflictRetryBudget, cfg.RoleRemovalPollBudget, nil)

	ctrl := controller.New(st, invClient, roleClient, segClient)
	sched := schedule.New(cfg.SchedulerWorkers)
	coordinator := hostdown.New(st, invClient, segClient, ctrl, sched)
	recon := reconciler.New(st, invClient, segClient, ctrl, cfg.ReconcileInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recon.Start(ctx)
	log.Info("drift reconciler started")

	metrics.SetVersion(Version)
	metrics.RegisterComponent("store", true, "open")
	metrics.RegisterComponent("api", false, "starting")
	collector := metrics.NewCollector(st)
	collector.Start()

	server := api.NewServer(ctrl, st).WithHostEvents(coordinator)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.ListenAddr); err != nil {
			errCh <- fmt.Errorf("api server error: %w", err)
		}
	}()
	log.Logger.Info().Str("addr", cfg.ListenAddr).Msg("api server started")
	metrics.RegisterComponent("api", true, "ready")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Logger.Error().Err(err).Msg("api server failed")
	}

	recon.Stop()
	sched.Stop()
	collector.Stop()
	cancel()
	if err := st.Close(); err != nil {
		return fmt.Errorf("failed to close cluster store: %w", err)
	}

	log.Info("shutdown complete")
	return nil
}
