package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/whbench/whbench/cmd/cli/format"
	"github.com/whbench/whbench/internal/config"
	"github.com/whbench/whbench/internal/database"
	"github.com/whbench/whbench/internal/engine"
	"github.com/whbench/whbench/internal/export"
	"github.com/whbench/whbench/internal/logging"
	"github.com/whbench/whbench/internal/secrets"
	"github.com/whbench/whbench/internal/warehouse"
)

var (
	cfgFile      string
	outputFormat string

	v      = config.New()
	logger = zap.NewNop()
)

// Seams replaced in tests.
var (
	openSession engine.Opener = engine.OpenSQL
	openStore                 = openPgStore
	fetchToken                = fetchSecretToken
	newS3Client               = defaultS3Client
	clientOpts  []warehouse.Option
)

// RootCmd is the top-level CLI command.
var RootCmd = &cobra.Command{
	Use:           "whbench",
	Short:         "whbench benchmarks Databricks SQL warehouses",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			return err
		}
		l, err := logging.New(v.GetString(config.KeyLogLevel), v.GetString(config.KeyLogFormat))
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	pf := RootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "Config file (default: ./whbench.yaml or $HOME/.whbench/whbench.yaml)")
	pf.StringVarP(&outputFormat, "output", "o", "table", "Output format: table, json, csv, yaml")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "console", "Log format: console, json")
	pf.String("host", "", "Workspace host (env DATABRICKS_HOST)")
	pf.String("store-dsn", "", "Postgres DSN for storing runs")
	_ = v.BindPFlag(config.KeyLogLevel, pf.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogFormat, pf.Lookup("log-format"))
	_ = v.BindPFlag(config.KeyHost, pf.Lookup("host"))
	_ = v.BindPFlag(config.KeyStoreDSN, pf.Lookup("store-dsn"))
}

// initConfig reads the config file if one is present. A missing default
// file is not an error; a missing explicit one is.
func initConfig() error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("whbench")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".whbench"))
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func getFormat() format.OutputFormat {
	return format.Parse(outputFormat)
}

// loadBenchmark builds the immutable configuration, resolving the token
// from Secrets Manager when only a secret id is configured.
func loadBenchmark(ctx context.Context) (config.Benchmark, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return config.Benchmark{}, err
	}
	if cfg.Token == "" && cfg.TokenSecretID != "" {
		token, err := fetchToken(ctx, cfg.AWSRegion, cfg.TokenSecretID)
		if err != nil {
			return config.Benchmark{}, err
		}
		cfg = cfg.WithToken(token)
	}
	return cfg, nil
}

func fetchSecretToken(ctx context.Context, region, secretID string) (string, error) {
	client, err := secrets.NewClient(ctx, region)
	if err != nil {
		return "", err
	}
	return secrets.FetchToken(ctx, client, secretID)
}

func defaultS3Client(ctx context.Context, region string) (export.PutObjectAPI, error) {
	return export.NewS3Client(ctx, region)
}

func newWarehouseClient(cfg config.Benchmark) *warehouse.Client {
	return warehouse.New(cfg.BaseURL(), cfg.Token, clientOpts...)
}

func openPgStore(ctx context.Context, dsn string) (database.Repo, func(), error) {
	repo, err := database.NewRepository(ctx, dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := repo.EnsureSchema(ctx); err != nil {
		repo.Close()
		return nil, nil, err
	}
	return repo, repo.Close, nil
}

// requireStore opens the results store or explains how to configure one.
func requireStore(ctx context.Context) (database.Repo, func(), error) {
	dsn := v.GetString(config.KeyStoreDSN)
	if dsn == "" {
		return nil, nil, fmt.Errorf("no results store configured: set --store-dsn or WHBENCH_STORE_DSN")
	}
	return openStore(ctx, dsn)
}
