package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fraudwatch/internal/config"
	"fraudwatch/internal/constants"
	"fraudwatch/internal/fraud"
	"fraudwatch/internal/logger"
	"fraudwatch/internal/storage"
	"fraudwatch/pkg/bootstrap"
	"fraudwatch/pkg/logging"
)

var (
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "fraudwatch",
		Short:        "Chat message fraud screening service",
		Long:         "fraudwatch screens chat messages and images for fraud patterns and alerts moderators",
		RunE:         serveCmd().RunE,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (defaults to CONFIG_FILE)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(rulesCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the config file from the flag or CONFIG_FILE and
// builds the logger. Without either, only the environment and defaults apply.
func loadConfig() (*config.Config, logger.Logger, error) {
	earlyLog := logging.NewEarlyLog()

	if configFile == "" {
		configFile = os.Getenv("CONFIG_FILE")
		if configFile == "" {
			earlyLog.Warn("No config file given; using environment and defaults")
		}
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		earlyLog.Error("Failed to load config: %v", err)
		return nil, nil, err
	}

	log, err := logger.New(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		earlyLog.Error("Failed to init logger: %v", err)
		return nil, nil, err
	}
	return cfg, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the screening service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting fraudwatch")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				if shutdownErr := app.Shutdown(context.Background()); shutdownErr != nil {
					log.ErrorwCtx(ctx, "Cleanup after failed start", "error", shutdownErr)
				}
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if cfg.Database.Driver != constants.DriverPostgres {
				return fmt.Errorf("migrate requires database.driver=%s, got %q", constants.DriverPostgres, cfg.Database.Driver)
			}

			dbConnector := bootstrap.NewDatabaseConnector(cfg, log)
			db, err := dbConnector.InitPostgreSQL(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			return storage.Migrate(db, log)
		},
	}
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect fraud rules",
	}

	var file string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Compile the configured rule set and report errors",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer log.Sync()

			if file != "" {
				cfg.Fraud.RulesFile = file
			}

			ctx := cmd.Context()
			var source fraud.RuleSource
			if cfg.Fraud.LoadFromDatabase {
				db, err := bootstrap.NewDatabaseConnector(cfg, log).InitPostgreSQL(ctx)
				if err != nil {
					return err
				}
				if db != nil {
					defer db.Close()
					source = storage.NewPostgresStore(db)
				}
			}

			matcher, err := buildMatcher(ctx, cfg, source, log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d rules compiled, threshold %d\n", len(matcher.Rules()), matcher.Threshold())
			return nil
		},
	}
	validate.Flags().StringVar(&file, "file", "", "Rules file to validate instead of fraud.rules_file")

	cmd.AddCommand(validate)
	return cmd
}
