// Command keyshop runs the digital key fulfillment service and its operator
// tooling.
//
//	@title						Keyshop Fulfillment API
//	@version					1.0
//	@description				Provider webhooks, checkout and operator endpoints of the digital key fulfillment pipeline.
//	@BasePath					/
//	@securityDefinitions.apikey	AdminToken
//	@in							header
//	@name						X-Admin-Token
//	@description				Static operator token
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/tbourn/keyshop-fulfillment/internal/app"
	"github.com/tbourn/keyshop-fulfillment/internal/config"
	"github.com/tbourn/keyshop-fulfillment/internal/repo"
	"github.com/tbourn/keyshop-fulfillment/internal/sysutil"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:           "keyshop",
		Short:         "Keyshop - digital key order fulfillment",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadEnvFile(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment (missing file is ignored)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(replayCmd())
	return root
}

// loadEnvFile loads path into the process environment without overriding
// variables that are already set.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// bootstrap loads configuration, sets up logging and opens the store.
func bootstrap() (config.Config, *gorm.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("config: %w", err)
	}
	sysutil.ConfigureLogger(cfg.LogLevel, cfg.LogPretty, sysutil.FirstNonEmpty(cfg.OTEL.ServiceName, "keyshop"), nil)
	db, err := repo.Open(cfg)
	if err != nil {
		return cfg, nil, fmt.Errorf("open store: %w", err)
	}
	return cfg, db, nil
}

// wire bootstraps and assembles the pipeline.
func wire() (*app.App, func(), error) {
	cfg, db, err := bootstrap()
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(cfg, db)
	if err != nil {
		closeDB(db)
		return nil, nil, err
	}
	cleanup := func() {
		_ = a.Close()
		closeDB(db)
	}
	return a, cleanup, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
