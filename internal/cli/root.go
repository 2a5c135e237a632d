package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/tikcluster/tikwatch/internal/logging"
	"github.com/tikcluster/tikwatch/internal/monitor"
	"github.com/tikcluster/tikwatch/internal/provider"
	"github.com/tikcluster/tikwatch/internal/redis_client"
	"github.com/tikcluster/tikwatch/internal/types"
	"github.com/tikcluster/tikwatch/internal/utils"
)

var (
	config     *types.Config
	logger     *logrus.Logger
	configFile string
	rootCmd    = &cobra.Command{
		Use:   "tikwatch",
		Short: "Usage and reservation monitoring for the TIK compute cluster",
		Long: `tikwatch reports how much of the cluster each supervisor's group is using,
decodes the reservation calendar into hard reservations and announcements,
and flags users whose usage is not covered by a reservation.`,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default is $HOME/.tikwatch.yaml)")
	rootCmd.PersistentFlags().String("redis-host", "localhost", "Redis host")
	rootCmd.PersistentFlags().Int("redis-port", 6379, "Redis port")
	rootCmd.PersistentFlags().Int("redis-db", 0, "Redis database")
	rootCmd.PersistentFlags().String("source", types.SourceRedis, "Data source: redis or file")
	rootCmd.PersistentFlags().String("data-file", "", "YAML dataset used when --source=file")
	rootCmd.PersistentFlags().String("refresh", "1m", "Dashboard refresh interval (e.g., 30s, 1m, 5m)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", logging.FormatText, "Log format: text or json")
	rootCmd.PersistentFlags().Bool("no-color", false, "Disable colored output")

	persistent := map[string]string{
		"redis.host": "redis-host",
		"redis.port": "redis-port",
		"redis.db":   "redis-db",
		"source":     "source",
		"data.file":  "data-file",
		"refresh":    "refresh",
		"log.level":  "log-level",
		"log.format": "log-format",
		"no_color":   "no-color",
	}
	for key, flag := range persistent {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(fmt.Sprintf("Failed to bind %s flag: %v", flag, err))
		}
	}

	// Set defaults
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("source", types.SourceRedis)
	viper.SetDefault("refresh", "1m")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", logging.FormatText)
	viper.SetDefault("resources.pattern", "")
	viper.SetDefault("thresholds.gpu_hours", types.DefaultGPUHoursThreshold)
	viper.SetDefault("thresholds.io_ops", types.DefaultIOOpsThreshold)
	viper.SetDefault("thresholds.utilization", types.DefaultUtilizationTolerance)
	viper.SetDefault("thresholds.activity", types.DefaultActivityThreshold)
}

func initConfig() {
	if configFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(configFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Could not find home directory: %v\n", err)
		} else {
			// Search config in home directory with name ".tikwatch" (without extension)
			viper.AddConfigPath(home)
			viper.AddConfigPath(".")
			viper.SetConfigType("yaml")
			viper.SetConfigName(".tikwatch")
		}
	}

	// Enable reading from environment variables, e.g. TIKWATCH_REDIS_HOST
	viper.SetEnvPrefix("TIKWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}

	// Bind all flags to viper for automatic config file support
	bindAllFlags()

	config = loadConfig()
	if viper.GetBool("no_color") {
		SetNoColor(true)
	}

	var err error
	logger, err = logging.New(config.LogLevel, config.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using defaults\n", err)
		logger, _ = logging.New("info", logging.FormatText)
	}
}

// loadConfig reads the current viper state into a Config
func loadConfig() *types.Config {
	refresh, err := utils.ParseDuration(viper.GetString("refresh"))
	if err != nil || refresh <= 0 {
		fmt.Fprintf(os.Stderr, "Warning: invalid refresh interval %q, using %s\n",
			viper.GetString("refresh"), types.DefaultRefreshInterval)
		refresh = types.DefaultRefreshInterval
	}

	return &types.Config{
		RedisHost:       viper.GetString("redis.host"),
		RedisPort:       viper.GetInt("redis.port"),
		RedisDB:         viper.GetInt("redis.db"),
		Source:          viper.GetString("source"),
		DataFile:        viper.GetString("data.file"),
		RefreshInterval: refresh,
		ResourcePattern: viper.GetString("resources.pattern"),
		LogLevel:        viper.GetString("log.level"),
		LogFormat:       viper.GetString("log.format"),
		Thresholds: types.Thresholds{
			GPUHours:    viper.GetFloat64("thresholds.gpu_hours"),
			IOOps:       viper.GetInt64("thresholds.io_ops"),
			Utilization: viper.GetFloat64("thresholds.utilization"),
			Activity:    viper.GetFloat64("thresholds.activity"),
		},
	}
}

func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func SetVersion(v string) {
	rootCmd.Version = v
}

func getConfig() *types.Config {
	if config == nil {
		initConfig()
	}
	return config
}

func getLogger() *logrus.Logger {
	if logger == nil {
		initConfig()
	}
	return logger
}

// openSource opens the configured data source and checks that it is reachable
func openSource(ctx context.Context, config *types.Config) (provider.Source, error) {
	source, err := provider.NewSource(config)
	if err != nil {
		return nil, err
	}

	if rs, ok := source.(*provider.RedisSource); ok {
		rs.Client().WithLogger(getLogger())
		if err := rs.Client().Ping(ctx); err != nil {
			_ = source.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
	}
	return source, nil
}

// openStore connects to Redis directly, for commands that write to the store
func openStore(ctx context.Context, config *types.Config) (*redis_client.Client, error) {
	client := redis_client.NewClient(config).WithLogger(getLogger())
	if err := client.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

func closeSource(source provider.Source) {
	if err := source.Close(); err != nil {
		getLogger().WithError(err).Warn("Failed to close data source")
	}
}

func monitorOptions(config *types.Config, strict bool) monitor.Options {
	return monitor.Options{
		Strict:          strict,
		ResourcePattern: config.ResourcePattern,
		Thresholds:      config.Thresholds,
	}
}

// bindAllFlags automatically binds all command flags to viper
// This allows config files to override default values for any flag
func bindAllFlags() {
	// Walk through all commands and bind their flags
	walkCommands(rootCmd, func(cmd *cobra.Command) {
		cmd.Flags().VisitAll(func(flag *pflag.Flag) {
			// Create viper key from command and flag name
			viperKey := flag.Name
			if cmd.Name() != "tikwatch" { // Don't prefix root command flags
				viperKey = cmd.Name() + "." + flag.Name
			}

			// Bind flag to viper
			if err := viper.BindPFlag(viperKey, flag); err != nil {
				panic(fmt.Sprintf("Failed to bind flag %s: %v", viperKey, err))
			}
		})
	})
}

// walkCommands recursively walks through all commands
func walkCommands(cmd *cobra.Command, fn func(*cobra.Command)) {
	fn(cmd)
	for _, child := range cmd.Commands() {
		walkCommands(child, fn)
	}
}

func getCurrentUser() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}
	return "unknown"
}
