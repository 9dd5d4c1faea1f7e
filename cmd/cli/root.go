// Package cli provides the command-line interface for iotaudit.
// This package implements the Cobra-based command tree: the long running
// service, one-shot device scans, subnet discovery and database migrations.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/anstrom/iotaudit/internal/api/handlers"
	"github.com/anstrom/iotaudit/internal/config"
	"github.com/anstrom/iotaudit/internal/logging"
)

const envPrefix = "IOTAUDIT"

var (
	cfgFile string
	verbose bool
)

// Build information - these will be set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "iotaudit",
	Short: "IoT device security auditing",
	Long: `iotaudit registers IoT devices, runs phased security scans against them
(real nmap probes or a simulated walkthrough), flags known vulnerabilities
and streams progress to API and WebSocket clients.`,
	Version:       getVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("store", "", "store backend: memory, bolt or postgres")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, info, warn or error")

	bindFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	bindFlag("store.backend", rootCmd.PersistentFlags().Lookup("store"))
	bindFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig points viper at the config file and the environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(envKeyReplacer())
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// envKeyReplacer maps nested keys such as store.backend to
// IOTAUDIT_STORE_BACKEND.
func envKeyReplacer() *strings.Replacer {
	return strings.NewReplacer(".", "_")
}

// loadConfig reads the config file and applies flag and IOTAUDIT_*
// environment overrides on top of it.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = v.ConfigFileUsed()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(v, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyOverrides(v *viper.Viper, cfg *config.Config) {
	setString := func(key string, dst *string) {
		if v.IsSet(key) && v.GetString(key) != "" {
			*dst = v.GetString(key)
		}
	}
	setString("store.backend", &cfg.Store.Backend)
	setString("store.bolt_path", &cfg.Store.BoltPath)
	setString("engine.nmap_path", &cfg.Engine.NmapPath)
	setString("database.host", &cfg.Database.Host)
	setString("database.database", &cfg.Database.Database)
	setString("database.username", &cfg.Database.Username)
	setString("database.password", &cfg.Database.Password)
	setString("database.ssl_mode", &cfg.Database.SSLMode)
	setString("api.listen_addr", &cfg.API.ListenAddr)

	if v.IsSet("database.port") && v.GetInt("database.port") > 0 {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("api.port") && v.GetInt("api.port") > 0 {
		cfg.API.Port = v.GetInt("api.port")
	}
	if level := v.GetString("logging.level"); level != "" {
		cfg.Logging.Level = logging.LogLevel(level)
	}
	if format := v.GetString("logging.format"); format != "" {
		cfg.Logging.Format = logging.LogFormat(format)
	}
	if v.GetBool("verbose") {
		cfg.Logging.Level = logging.LevelDebug
	}
}

// initLogging installs the configured logger as the process default.
func initLogging(cfg *config.Config) *logging.Logger {
	logCfg := cfg.Logging
	logCfg.AddSource = logCfg.Level == logging.LevelDebug

	logger, err := logging.New(logCfg)
	if err != nil {
		logger = logging.NewDefault()
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize logging: %v\n", err)
	}
	logging.SetDefault(logger)
	return logger
}

func bindFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", key, err)
	}
}

// getVersion returns the version string.
func getVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildTime)
}

// SetVersion sets the version information (called from main).
func SetVersion(v, c, bt string) {
	version = v
	commit = c
	buildTime = bt
	rootCmd.Version = getVersion()
	handlers.SetBuildInfo(v, c, bt)
}
