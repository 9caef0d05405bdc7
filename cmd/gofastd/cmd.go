package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gofastd/internal/config"
	"gofastd/internal/server"
)

var version = "dev" // set during build with -ldflags

var rootCmd = &cobra.Command{
	Use:     "gofastd",
	Short:   "gofastd - a bounded in-memory LRU cache server",
	Version: version,
	Long: `gofastd is an in-memory key/value cache server speaking a
memcached-family text protocol over TCP. Storage is a byte-bounded LRU:
once the configured memory budget is full, the least recently used keys
are evicted to make room for new writes.`,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log := newLogger(cfg.LogLevel, cfg.LogFormat)
	config.WatchLogLevel(func(level string) {
		if lvl, err := zerolog.ParseLevel(level); err == nil {
			zerolog.SetGlobalLevel(lvl)
			log.Info().Str("log_level", level).Msg("log level reloaded")
		}
	})

	srv, err := server.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	waitForShutdown(log)
	srv.Stop()
	log.Info().Msg("gofastd stopped")
	return nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		fmt.Println("gofastd configuration:")
		fmt.Println(strings.Repeat("=", 31))
		fmt.Printf("Host: %s\n", cfg.Host)
		fmt.Printf("Port: %d\n", cfg.Port)
		fmt.Printf("Cache Max Memory: %s\n", cfg.CacheMaxMemory)
		fmt.Printf("Pool Watermarks: [%d, %d]\n", cfg.PoolLowWatermark, cfg.PoolHighWatermark)
		fmt.Printf("Pool Max Queue: %d\n", cfg.PoolMaxQueue)
		fmt.Printf("Pool Idle Timeout: %v\n", cfg.PoolIdleTimeout)
		fmt.Printf("Pool Disabled: %t\n", cfg.PoolDisabled)
		fmt.Printf("Log Level: %s\n", cfg.LogLevel)
		fmt.Printf("Log Format: %s\n", cfg.LogFormat)
		fmt.Printf("Metrics Addr: %s\n", cfg.MetricsAddr)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("gofastd %s\n", version)
		fmt.Printf("Built with Go %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("host", "H", "0.0.0.0", "Host to bind to")
	flags.IntP("port", "p", 11311, "Port to listen on")
	flags.String("cache-max-memory", "64MB", "Cache byte budget (e.g. 512MB, 2GB)")
	flags.Int("pool-low-watermark", 2, "Resident worker pool size")
	flags.Int("pool-high-watermark", 16, "Maximum worker pool size under load")
	flags.Int("pool-max-queue", 256, "Maximum queued tasks before backpressure")
	flags.Duration("pool-idle-timeout", 30*time.Second, "Idle duration before a worker above the low watermark exits")
	flags.Bool("pool-disabled", false, "Execute every command inline on the reactor goroutine instead of offloading")
	flags.String("log-level", "info", "Log level (trace, debug, info, warn, error, fatal)")
	flags.String("log-format", "text", "Log format (text, json)")
	flags.String("metrics-addr", "127.0.0.1:9090", "Prometheus /metrics listen address (empty disables it)")

	viper.BindPFlag("host", flags.Lookup("host"))
	viper.BindPFlag("port", flags.Lookup("port"))
	viper.BindPFlag("cache_max_memory", flags.Lookup("cache-max-memory"))
	viper.BindPFlag("pool_low_watermark", flags.Lookup("pool-low-watermark"))
	viper.BindPFlag("pool_high_watermark", flags.Lookup("pool-high-watermark"))
	viper.BindPFlag("pool_max_queue", flags.Lookup("pool-max-queue"))
	viper.BindPFlag("pool_idle_timeout", flags.Lookup("pool-idle-timeout"))
	viper.BindPFlag("pool_disabled", flags.Lookup("pool-disabled"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
	viper.BindPFlag("log_format", flags.Lookup("log-format"))
	viper.BindPFlag("metrics_addr", flags.Lookup("metrics-addr"))

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute is the CLI entry point.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
