package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"propval/config"
	"propval/internal/database"
	"propval/internal/store"
	"propval/internal/valuation"
)

var (
	envFile      string
	dbPath       string
	outputFormat string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "valuectl",
	Short: "Train valuation models and evaluate properties from the command line",
	Long: `valuectl works directly on the property database used by the server.

Examples:
  valuectl ingest --file listings.json
  valuectl train --kind random_forest --city-filter utrecht
  valuectl predict --kind linear --sqft 120 --bedrooms 3
  valuectl invest --price 350000 --assumptions invest.yaml
  valuectl areas --out areas.geojson`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Optional .env file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "json", "Output format (json|yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// env is what every subcommand needs to reach the feed and the models
type env struct {
	cfg     *config.Config
	logger  *logrus.Logger
	db      *database.Database
	trainer *valuation.Trainer
}

func openEnv() (*env, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{})
	logger.SetLevel(logrus.WarnLevel)
	if verbose {
		logger.SetLevel(logrus.InfoLevel)
	}

	db, err := database.NewDatabase(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	modelStore, err := store.NewGormStore(db.GetDB())
	if err != nil {
		db.Close()
		return nil, err
	}

	return &env{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		trainer: valuation.NewTrainer(logger, modelStore, valuation.NewCache(), nil),
	}, nil
}

func (e *env) Close() {
	e.db.Close()
}

// render writes v to w in the selected output format
func render(w io.Writer, v interface{}) error {
	switch outputFormat {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unknown output format %q", outputFormat)
	}
}
