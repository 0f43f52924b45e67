package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/phase-controller/internal/basis"
	"github.com/danielpatrickdp/phase-controller/internal/clock"
	"github.com/danielpatrickdp/phase-controller/internal/codec"
	"github.com/danielpatrickdp/phase-controller/internal/config"
	"github.com/danielpatrickdp/phase-controller/internal/logging"
	"github.com/danielpatrickdp/phase-controller/internal/metrics"
	"github.com/danielpatrickdp/phase-controller/internal/mode"
	"github.com/danielpatrickdp/phase-controller/internal/session"
	"github.com/danielpatrickdp/phase-controller/internal/signals"
	"github.com/danielpatrickdp/phase-controller/internal/state"
)

var configPath string

// #region main
func main() {
	root := &cobra.Command{
		Use:           "controller",
		Short:         "Phase dissonance mode controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", envOr("VSP_CONFIG", "phase.yaml"), "path to YAML config")
	root.AddCommand(runCmd(), basisCmd(), rollbackCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
// #endregion main

// #region run
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Read vectors or text from stdin and drive the mode controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err := logging.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, logger)
		},
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := state.NewStore(cfg.Storage.StateDB)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	engine, err := signals.NewEngine(cfg.EngineConfig(), clock.Real{})
	if err != nil {
		return err
	}
	ctrl, err := mode.NewController(cfg.ControllerConfig(), clock.Real{})
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	deps := session.Deps{
		AgentID:    cfg.Agent.ID,
		Engine:     engine,
		Controller: ctrl,
		Store:      store,
		Metrics:    m,
		Logger:     logger,
	}
	if cfg.Codec.Addr != "" {
		client, err := codec.NewCodecClient(cfg.Codec.Addr, cfg.Codec.Timeout)
		if err != nil {
			return fmt.Errorf("failed to connect to embedding service at %s: %w", cfg.Codec.Addr, err)
		}
		defer client.Close()
		deps.Embedder = client
	}

	sess, err := session.New(deps)
	if err != nil {
		return err
	}
	if err := loadInitialBasis(cfg, sess, logger); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logger.Info("metrics listening", zap.String("addr", cfg.Metrics.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if cfg.Storage.BasisFile != "" {
		opts := basis.DefaultWatcherOptions()
		opts.Logger = logger
		w, err := basis.NewWatcher(cfg.Storage.BasisFile, func(v [][]float32) error {
			_, err := sess.UpdateBasis(v)
			return err
		}, &opts)
		if err != nil {
			return err
		}
		if err := w.Start(gctx); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			w.Stop()
			return nil
		})
	}

	// Stdin cannot be interrupted, so the REPL runs outside the group and
	// the group only waits for its result or for cancellation.
	replDone := make(chan error, 1)
	go func() { replDone <- repl(gctx, sess, os.Stdin, os.Stdout) }()
	g.Go(func() error {
		select {
		case err := <-replDone:
			if err != nil {
				return err
			}
			return errREPLClosed
		case <-gctx.Done():
			return nil
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errREPLClosed) {
		return err
	}
	return nil
}

var errREPLClosed = errors.New("repl closed")

// loadInitialBasis prefers the watched basis file, then the store's active basis.
func loadInitialBasis(cfg config.Config, sess *session.Session, logger *zap.Logger) error {
	if cfg.Storage.BasisFile != "" {
		vectors, err := basis.LoadFile(cfg.Storage.BasisFile)
		if err != nil {
			return err
		}
		_, err = sess.UpdateBasis(vectors)
		return err
	}
	if cfg.Storage.BasisDir == "" {
		return nil
	}

	bs, err := basis.OpenStore(basis.StoreOptions{Dir: cfg.Storage.BasisDir, Logger: logger})
	if err != nil {
		return err
	}
	defer bs.Close()

	vectors, entry, err := bs.LoadActive()
	if errors.Is(err, basis.ErrNotFound) {
		logger.Warn("no active basis; every reading will be maximal until one is loaded")
		return nil
	}
	if err != nil {
		return err
	}
	if _, err := sess.UpdateBasis(vectors); err != nil {
		return fmt.Errorf("basis %s: %w", entry.Name, err)
	}
	return nil
}
// #endregion run

// #region basis
func basisCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "basis",
		Short: "Manage stored schema bases",
	}

	var use bool
	importCmd := &cobra.Command{
		Use:   "import NAME FILE",
		Short: "Store the vectors in FILE under NAME",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBasisStore(func(cfg config.Config, bs *basis.Store) error {
				vectors, err := basis.LoadFile(args[1])
				if err != nil {
					return err
				}
				if n := len(vectors); n > 0 && len(vectors[0]) != cfg.Signal.Dimension {
					return fmt.Errorf("%w: basis has %d, config wants %d",
						signals.ErrDimensionMismatch, len(vectors[0]), cfg.Signal.Dimension)
				}
				entry, err := bs.Save(args[0], vectors)
				if err != nil {
					return err
				}
				fmt.Printf("stored %s: %d vectors x %d\n", entry.Name, entry.Count, entry.Dimension)
				if use {
					return bs.SetActive(entry.Name)
				}
				return nil
			})
		},
	}
	importCmd.Flags().BoolVar(&use, "use", false, "also make NAME the active basis")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List stored bases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBasisStore(func(_ config.Config, bs *basis.Store) error {
				entries, err := bs.List()
				if err != nil {
					return err
				}
				active, _ := bs.Active()
				fmt.Printf("%-1s %-24s  %6s  %9s  %s\n", "", "NAME", "COUNT", "DIMENSION", "SAVED")
				for _, e := range entries {
					marker := ""
					if e.Name == active {
						marker = "*"
					}
					fmt.Printf("%-1s %-24s  %6d  %9d  %s\n", marker, e.Name, e.Count, e.Dimension, e.SavedAt.Format(time.RFC3339))
				}
				return nil
			})
		},
	}

	useCmd := &cobra.Command{
		Use:   "use NAME",
		Short: "Make NAME the active basis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBasisStore(func(_ config.Config, bs *basis.Store) error {
				return bs.SetActive(args[0])
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Remove a stored basis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBasisStore(func(_ config.Config, bs *basis.Store) error {
				return bs.Delete(args[0])
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export NAME FILE",
		Short: "Write the stored basis NAME to FILE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBasisStore(func(_ config.Config, bs *basis.Store) error {
				vectors, entry, err := bs.Load(args[0])
				if err != nil {
					return err
				}
				if err := basis.WriteFile(args[1], vectors); err != nil {
					return err
				}
				fmt.Printf("wrote %s: %d vectors x %d\n", args[1], entry.Count, entry.Dimension)
				return nil
			})
		},
	}

	cmd.AddCommand(importCmd, listCmd, useCmd, deleteCmd, exportCmd)
	return cmd
}

func withBasisStore(fn func(config.Config, *basis.Store) error) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	bs, err := basis.OpenStore(basis.StoreOptions{Dir: cfg.Storage.BasisDir})
	if err != nil {
		return err
	}
	defer bs.Close()
	return fn(cfg, bs)
}
// #endregion basis

// #region rollback
func rollbackCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollback VERSION",
		Short: "Point the agent's active state back at an earlier version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			store, err := state.NewStore(cfg.Storage.StateDB)
			if err != nil {
				return fmt.Errorf("failed to open store: %w", err)
			}
			defer store.Close()

			if err := store.Rollback(cfg.Agent.ID, args[0]); err != nil {
				return err
			}
			rec, err := store.GetCurrent(cfg.Agent.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%s now at %s: mode=%s trend=%.4f\n", cfg.Agent.ID, rec.VersionID, rec.Mode, rec.Trend)
			return nil
		},
	}
}
// #endregion rollback

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
// #endregion helpers
