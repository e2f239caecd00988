package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/san-kum/octgrav/internal/config"
	"github.com/san-kum/octgrav/internal/logging"
)

var (
	dataDir    string
	configFile string
	logLevel   string
	preset     string

	log = logging.New("info", os.Stderr)
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "octgrav",
		Short:         "distributed octree gravity simulator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			log = logging.New(logLevel, os.Stderr)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".octgrav", "data directory")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(
		newRunCmd(),
		newListCmd(),
		newPlotCmd(),
		newAnalyzeCmd(),
		newBenchCmd(),
		newDecomposeCmd(),
		newPresetsCmd(),
		newScenarioCmd(),
		newSweepCmd(),
		newEnsembleCmd(),
		newTuneCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

// loadConfig resolves the configuration of a command: the named preset (or
// defaults) under the config file, OCTGRAV_* variables and changed flags.
func loadConfig(cmd *cobra.Command, model string, bindings map[string]string) (*config.Config, error) {
	base := config.DefaultConfig()
	if preset != "" {
		p := config.GetPreset(model, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset %q for model %q", preset, model)
		}
		cp := *p
		base = &cp
	}
	if model != "" {
		base.Model = model
	}

	v := viper.New()
	for key, name := range bindings {
		f := cmd.Flags().Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	cfg, err := config.FromViper(v, base, configFile)
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Model = model
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	log.WithFields(logrus.Fields{
		"model":  cfg.Model,
		"preset": preset,
		"file":   configFile,
	}).Debug("configuration resolved")
	return cfg, cfg.Validate()
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case <-sigChan:
			log.Info("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// buildVersion is the module version stamped by go install, "dev" for
// local builds.
func buildVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info.Main.Version == "" || info.Main.Version == "(devel)" {
		return "dev"
	}
	return info.Main.Version
}
