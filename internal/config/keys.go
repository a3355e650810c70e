package config

import "github.com/spf13/viper"

// Configuration keys. Each is also readable from the environment as
// WHBENCH_<KEY>.
const (
	KeyHost            = "host"
	KeyToken           = "token"
	KeyTokenSecretID   = "token_secret_id"
	KeyAWSRegion       = "aws_region"
	KeyBenchmarkChoice = "benchmark_choice"
	KeyWarehousePrefix = "warehouse_prefix"
	KeyWarehouseType   = "warehouse_type"
	KeyWarehouseSize   = "warehouse_size"
	KeyCatalog         = "catalog"
	KeySchema          = "schema"
	KeyQueryPath       = "query_path"
	KeyRepetitions     = "query_repetition_count"
	KeyConcurrency     = "concurrency"
	KeyMaxClusters     = "max_clusters"
	KeyResultsCache    = "results_cache_enabled"
	KeyOnLookupError   = "on_lookup_error"
	KeyChartFile       = "chart_file"
	KeyStoreDSN        = "store_dsn"
	KeyS3URI           = "s3_uri"
	KeyPromTextfile    = "prom_textfile"
	KeyLogLevel        = "log_level"
	KeyLogFormat       = "log_format"

	EnvPrefix = "WHBENCH"

	envDatabricksHost  = "databricks_host"
	envDatabricksToken = "databricks_token"
)

// New returns a viper instance with defaults applied and environment
// lookup enabled. DATABRICKS_HOST and DATABRICKS_TOKEN are honoured as
// fallbacks for host and token.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	_ = v.BindEnv(envDatabricksHost, "DATABRICKS_HOST")
	_ = v.BindEnv(envDatabricksToken, "DATABRICKS_TOKEN")
	SetDefaults(v)
	return v
}

// SetDefaults registers the default value of every benchmark key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyBenchmarkChoice, string(OneWarehouse))
	v.SetDefault(KeyWarehousePrefix, "whbench")
	v.SetDefault(KeyWarehouseType, string(Serverless))
	v.SetDefault(KeyWarehouseSize, string(SizeSmall))
	v.SetDefault(KeyCatalog, "samples")
	v.SetDefault(KeySchema, "tpch")
	v.SetDefault(KeyQueryPath, "queries")
	v.SetDefault(KeyRepetitions, 1)
	v.SetDefault(KeyConcurrency, 1)
	v.SetDefault(KeyMaxClusters, 1)
	v.SetDefault(KeyResultsCache, false)
	v.SetDefault(KeyOnLookupError, string(LookupFail))
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}
