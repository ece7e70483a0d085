// Package main is the entry point for the API gateway.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vyrodovalexey/apimlgw/internal/config"
	"github.com/vyrodovalexey/apimlgw/internal/observability"
)

// Version information (set at build time).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// cliFlags holds command line flags.
type cliFlags struct {
	configPath  string
	logLevel    string
	logFormat   string
	showVersion bool
}

func main() {
	flags := parseFlags(flag.CommandLine, os.Args[1:])

	if flags.showVersion {
		printVersion()
		return
	}

	logger := initLogger(flags)
	defer func() { _ = logger.Sync() }()

	cfg := loadAndValidateConfig(flags.configPath, logger)
	logger = reconfigureLogger(flags, cfg, logger)

	ctx := context.Background()
	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		fatalWithSync(logger, "failed to initialize gateway", observability.Error(err))
		return
	}

	runGateway(ctx, app, logger)
}

// parseFlags parses command line flags. Environment variables provide
// the defaults.
func parseFlags(fs *flag.FlagSet, args []string) cliFlags {
	var f cliFlags
	fs.StringVar(&f.configPath, "config", getEnvOrDefault("GATEWAY_CONFIG_PATH", "configs/gateway.yaml"),
		"Path to configuration file")
	fs.StringVar(&f.logLevel, "log-level", getEnvOrDefault("GATEWAY_LOG_LEVEL", ""),
		"Log level (debug, info, warn, error); overrides the configuration")
	fs.StringVar(&f.logFormat, "log-format", getEnvOrDefault("GATEWAY_LOG_FORMAT", ""),
		"Log format (json, console); overrides the configuration")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	_ = fs.Parse(args)
	return f
}

// printVersion prints version information.
func printVersion() {
	fmt.Printf("apimlgw version %s\n", version)
	fmt.Printf("  Build time: %s\n", buildTime)
	fmt.Printf("  Git commit: %s\n", gitCommit)
}

// initLogger creates the bootstrap logger from the flags. The
// configuration may refine it once loaded.
func initLogger(flags cliFlags) observability.Logger {
	logger, err := observability.NewLogger(logConfig(flags, nil))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

// reconfigureLogger replaces the bootstrap logger when the configuration
// sets logging options. The bootstrap logger is kept on failure.
func reconfigureLogger(flags cliFlags, cfg *config.GatewayConfig, bootstrap observability.Logger) observability.Logger {
	if cfg.Spec.Observability == nil || cfg.Spec.Observability.Logging == nil {
		return bootstrap
	}
	logger, err := observability.NewLogger(logConfig(flags, cfg))
	if err != nil {
		bootstrap.Warn("invalid logging configuration, keeping defaults", observability.Error(err))
		return bootstrap
	}
	_ = bootstrap.Sync()
	return logger
}

// logConfig merges defaults, the configuration file and the flags, in
// that order of precedence.
func logConfig(flags cliFlags, cfg *config.GatewayConfig) observability.LogConfig {
	lc := observability.DefaultLogConfig()
	if cfg != nil && cfg.Spec.Observability != nil && cfg.Spec.Observability.Logging != nil {
		l := cfg.Spec.Observability.Logging
		if l.Level != "" {
			lc.Level = l.Level
		}
		if l.Format != "" {
			lc.Format = l.Format
		}
		if l.Output != "" {
			lc.Output = l.Output
		}
	}
	if flags.logLevel != "" {
		lc.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		lc.Format = flags.logFormat
	}
	return lc
}

// loadAndValidateConfig loads and validates the configuration.
func loadAndValidateConfig(configPath string, logger observability.Logger) *config.GatewayConfig {
	logger.Info("starting apimlgw",
		observability.String("version", version),
		observability.String("config", configPath),
	)

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		fatalWithSync(logger, "failed to load configuration", observability.Error(err))
		return nil
	}

	if err := config.ValidateConfig(cfg); err != nil {
		fatalWithSync(logger, "invalid configuration", observability.Error(err))
		return nil
	}

	logger.Info("configuration loaded",
		observability.String("name", cfg.Metadata.Name),
		observability.String("topology", cfg.Spec.Topology),
		observability.Int("custom_rules", len(cfg.Spec.Rules)),
		observability.Int("local_users", len(cfg.Spec.Auth.LocalUsers)),
		observability.Bool("forwarding", cfg.Spec.Certificates.ForwardingEnabled),
	)
	return cfg
}

// fatalWithSync flushes the logger before exiting.
func fatalWithSync(logger observability.Logger, msg string, fields ...observability.Field) {
	_ = logger.Sync()
	logger.Fatal(msg, fields...)
}
