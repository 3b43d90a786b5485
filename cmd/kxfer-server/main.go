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

	"kxfer.org/internal/auth"
	"kxfer.org/internal/config"
	"kxfer.org/internal/httpapi"
	"kxfer.org/internal/knowledge"
	"kxfer.org/internal/migrate"
	"kxfer.org/internal/obs"
	"kxfer.org/internal/store/sqlstore"
)

var (
	version = "dev"
	commit  = "none"
	cfgFile string
	addr    string
)

func main() {
	cobra.CheckErr(rootCmd.Execute())
}

var rootCmd = &cobra.Command{
	Use:           "kxfer-server",
	Short:         "Knowledge Transfer Platform reference API",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	Long: `kxfer-server serves the /api/v1 REST boundary with server-side
access-level enforcement.

Without a database driver it runs on the in-memory demo directory and
artifacts. With KXFER_DB_DRIVER and KXFER_DB_DSN set it applies the embedded
migrations, seeds the demo data and serves from SQL.

KXFER_AUTH_SECRET must be set.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if addr != "" {
			cfg.Server.Addr = addr
		}
		return serve(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "Path to JSON config file")
	rootCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
}

func serve(ctx context.Context, cfg config.Config) error {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	secret := cfg.Server.AuthSecret
	if secret == "" {
		return fmt.Errorf("auth secret is not configured: set %s", auth.SecretEnvVariable)
	}
	issuer, err := auth.NewTokenIssuer(secret, auth.WithTTL(cfg.Server.TokenTTL.Std()))
	if err != nil {
		return err
	}

	var (
		users     auth.Directory
		artifacts knowledge.Store
		opts      = []httpapi.Option{httpapi.WithRateLimit(cfg.Server.RatePerSecond, cfg.Server.RateBurst)}
	)
	if cfg.Server.UsesDatabase() {
		store, err := openStore(ctx, cfg.Server)
		if err != nil {
			return err
		}
		defer store.Close()
		users, artifacts = store, store
		opts = append(opts,
			httpapi.WithReadyProbe(httpapi.ReadyProbe{DB: store.DB()}),
			httpapi.WithAccessLog(store),
		)
	} else {
		dir, err := auth.NewMemoryDirectory(auth.DemoAccounts)
		if err != nil {
			return err
		}
		users, artifacts = dir, knowledge.NewInMemory(knowledge.DemoArtifacts)
	}

	api := httpapi.New(issuer, users, artifacts, knowledge.NewOracle(artifacts), version, opts...)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.Log("info", "starting kxfer-server", map[string]any{
		"version": version,
		"addr":    srv.Addr,
		"storage": storageName(cfg.Server),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	stop, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-stop.Done():
	}

	obs.Log("info", "shutting down", nil)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	obs.Log("info", "stopped", nil)
	return nil
}

// openStore connects, migrates and seeds the SQL backend.
func openStore(ctx context.Context, cfg config.ServerConfig) (*sqlstore.Store, error) {
	dialect, err := sqlstore.ParseDialect(cfg.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	store, err := sqlstore.Open(dialect, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	setupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	mgr := migrate.NewManager(store.DB(), dialect)
	applied, err := mgr.Up(setupCtx)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := mgr.Seed(setupCtx); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed: %w", err)
	}
	if err := store.SeedAccounts(setupCtx, auth.DemoAccounts); err != nil {
		store.Close()
		return nil, fmt.Errorf("seed accounts: %w", err)
	}
	obs.Log("info", "database ready", map[string]any{"dialect": string(dialect), "applied": applied})
	return store, nil
}

func storageName(cfg config.ServerConfig) string {
	if cfg.UsesDatabase() {
		return cfg.DatabaseDriver
	}
	return "memory"
}
