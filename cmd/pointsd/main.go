package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/points/internal/observability"
	"github.com/MarkoPoloResearchLab/points/internal/pointsapi"
	"github.com/MarkoPoloResearchLab/points/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/points/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/points/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/points/pkg/points"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	flagDatabaseURL          = "database-url"
	flagListenAddr           = "listen-addr"
	flagStore                = "store"
	flagAllowedOrigins       = "allowed-origins"
	flagLogDevelopment       = "log-development"
	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeyStore           = "store"
	configKeyAllowedOrigins  = "allowed_origins"
	configKeyLogDevelopment  = "log_development"
	envPrefix                = "POINTSD"
	defaultDatabaseURL       = "sqlite:///tmp/points.db"
	defaultHTTPListenAddr    = ":8080"
	defaultAllowedOrigins    = "http://localhost:8000"
	storeMemory              = "memory"
	storeGorm                = "gorm"
	storePgx                 = "pgx"
	driverPostgres           = "postgres"
	driverSQLite             = "sqlite"
	defaultSQLiteFileName    = "points.db"
	databaseOperationTimeout = 10 * time.Second
)

type runtimeConfig struct {
	DatabaseURL    string
	ListenAddr     string
	Store          string
	AllowedOrigins []string
	LogDevelopment bool
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "pointsd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "pointsd",
		Short:         "User point balance HTTP server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, viper.New(), cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "Database connection string (sqlite:// path or postgres:// URL)")
	cmd.Flags().String(flagListenAddr, defaultHTTPListenAddr, "HTTP listen address")
	cmd.Flags().String(flagStore, storeGorm, "Persistence backend: memory, gorm or pgx")
	cmd.Flags().String(flagAllowedOrigins, defaultAllowedOrigins, "Comma-separated CORS origins")
	cmd.Flags().Bool(flagLogDevelopment, false, "Use human-readable development logging")

	return cmd
}

func loadConfig(cmd *cobra.Command, settings *viper.Viper, cfg *runtimeConfig) error {
	settings.SetEnvPrefix(envPrefix)
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:    flagDatabaseURL,
		configKeyListenAddr:     flagListenAddr,
		configKeyStore:          flagStore,
		configKeyAllowedOrigins: flagAllowedOrigins,
		configKeyLogDevelopment: flagLogDevelopment,
	}
	for key, flag := range bindings {
		if err := settings.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(settings.GetString(configKeyDatabaseURL))
	cfg.ListenAddr = strings.TrimSpace(settings.GetString(configKeyListenAddr))
	cfg.Store = strings.ToLower(strings.TrimSpace(settings.GetString(configKeyStore)))
	cfg.AllowedOrigins = pointsapi.ParseAllowedOrigins(settings.GetString(configKeyAllowedOrigins))
	cfg.LogDevelopment = settings.GetBool(configKeyLogDevelopment)

	if cfg.Store == "" {
		cfg.Store = storeGorm
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen addr is required")
	}
	switch cfg.Store {
	case storeMemory:
	case storeGorm, storePgx:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("database url is required for store %q", cfg.Store)
		}
	default:
		return fmt.Errorf("unsupported store %q", cfg.Store)
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store open: %w", err)
	}
	defer func() {
		if closeErr := cleanup(); closeErr != nil {
			logger.Warn("store close", zap.Error(closeErr))
		}
	}()

	registry := prometheus.NewRegistry()
	if err := registry.Register(collectors.NewGoCollector()); err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}
	locks := points.NewLockManager()
	metrics, err := observability.NewMetrics(registry, locks)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}

	clock := func() time.Time { return time.Now().UTC() }
	pointService, err := points.NewService(store, clock,
		points.WithLockManager(locks),
		points.WithOperationLogger(observability.NewZapOperationLogger(logger)),
		points.WithOperationLogger(metrics),
	)
	if err != nil {
		return fmt.Errorf("points service init: %w", err)
	}

	logger.Info("points store ready", zap.String("store", cfg.Store))
	return pointsapi.Run(ctx, pointsapi.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, pointService, logger, registry)
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(ctx context.Context, cfg *runtimeConfig) (points.Store, func() error, error) {
	migrateCtx, cancel := context.WithTimeout(ctx, databaseOperationTimeout)
	defer cancel()

	switch cfg.Store {
	case storeMemory:
		return memstore.New(), func() error { return nil }, nil
	case storePgx:
		driver, _, err := resolveDriver(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if driver != driverPostgres {
			return nil, nil, fmt.Errorf("store %q requires a postgres:// database url", storePgx)
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := pgstore.New(pool)
		if err := store.Migrate(migrateCtx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func() error { pool.Close(); return nil }, nil
	default:
		gormDB, cleanup, err := openDatabase(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store := gormstore.New(gormDB)
		if err := store.Migrate(migrateCtx); err != nil {
			_ = cleanup()
			return nil, nil, fmt.Errorf("auto migrate: %w", err)
		}
		return store, cleanup, nil
	}
}

func openDatabase(dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	if driver == driverSQLite {
		// SQLite allows one writer; a single connection keeps transactions from failing with SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	}
	cleanup := func() error { return sqlDB.Close() }
	return db, cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = defaultSQLiteFileName
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
