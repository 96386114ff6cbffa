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

	"github.com/spf13/cobra"

	"medipos/m/internal/api"
	"medipos/m/internal/backup"
	"medipos/m/internal/notify"
	"medipos/m/internal/seed"
)

const shutdownTimeout = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:   "medipos",
		Short: "Pharmacy point of sale and clinic server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

func runServer(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	guard, closeGuard := a.idempotencyGuard(ctx)
	defer closeGuard()

	runner := backup.NewRunner(a.backups, a.cfg.BackupWorkers, a.cfg.BackupQueueDepth)
	handler := api.New(api.Deps{
		Store:       a.store,
		Ledger:      a.ledger,
		Backups:     a.backups,
		Runner:      runner,
		Idempotency: guard,
		Telegram:    notify.NewTelegram(a.log, notify.WithBaseURL(a.cfg.TelegramAPIURL)),
		Metrics:     a.metrics,
		Logger:      a.log,
		Secret:      a.cfg.Secret,
		TokenTTL:    a.cfg.TokenTTL,
		Version:     a.cfg.AppVersion,
		CORSOrigins: a.cfg.CORSOrigins,
	})

	if _, created, err := handler.EnsureAdmin(ctx, a.cfg.AdminUsername, a.cfg.AdminPassword); err != nil {
		return fmt.Errorf("ensure admin: %w", err)
	} else if created && a.cfg.AdminPassword == "" {
		a.log.Warn().Str("username", a.cfg.AdminUsername).Msg("admin created with the default password, change it after first login")
	}

	if a.cfg.SeedCatalog != "" {
		res, err := seed.NewLoader(a.store, a.ledger, a.log).LoadFile(ctx, a.cfg.SeedCatalog)
		if err != nil {
			a.log.Warn().Err(err).Str("file", a.cfg.SeedCatalog).Msg("catalog seed failed")
		} else {
			a.log.Info().Int("inserted", res.Inserted).Int("skipped", res.Skipped).Msg("catalog seeded")
		}
	}

	srv := &http.Server{
		Addr:              ":" + a.cfg.HTTPPort,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", srv.Addr).Str("store", a.cfg.StoreDriver).Msg("medipos server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case sig := <-quit:
		a.log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("http shutdown")
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		a.log.Error().Err(err).Msg("backup runner did not drain")
	}
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the schema or indexes of the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			// opening the store applies migrations
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			fmt.Printf("Store %s is up to date.\n", a.cfg.StoreDriver)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load a medicine catalog CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			ctx := context.Background()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.close(ctx)
			if file == "" {
				file = a.cfg.SeedCatalog
			}
			if file == "" {
				return errors.New("--file or SEED_CATALOG is required")
			}
			res, err := seed.NewLoader(a.store, a.ledger, a.log).LoadFile(ctx, file)
			if err != nil {
				return err
			}
			fmt.Printf("Inserted %d, skipped %d, failed %d.\n", res.Inserted, res.Skipped, res.Failed)
			return nil
		},
	}
	cmd.Flags().String("file", "", "Path to the catalog CSV")
	return cmd
}
