package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/openmined/fswatch/internal/cache"
	"github.com/openmined/fswatch/internal/capability"
	"github.com/openmined/fswatch/internal/config"
	"github.com/openmined/fswatch/internal/version"
	"github.com/openmined/fswatch/internal/watcher"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	envPrefix      = "FSWATCH"
	configFileName = "config"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fswatch [root]",
		Short:   "Report every change below a directory",
		Version: version.Detailed(),
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			cmd.SilenceUsage = true

			closeLog, err := setupLogging(cfg.LogFile, cfg.Verbose)
			if err != nil {
				return err
			}
			defer closeLog()

			asJSON, _ := cmd.Flags().GetBool("json")
			return runWatch(cmd.Context(), cfg, newPrinter(cmd.OutOrStdout(), cmd.ErrOrStderr(), asJSON))
		},
	}

	cmd.Flags().SortFlags = false
	cmd.Flags().StringSliceP("ext", "e", nil, "Only report files with these extensions")
	cmd.Flags().StringSliceP("ignore", "i", nil, "Gitignore style patterns to skip")
	cmd.Flags().StringSliceP("kinds", "k", nil, "Only report these change kinds")
	cmd.Flags().Duration("ignore-window", config.DefaultIgnoreWindow, "Suppress repeat reports of a file for this long")
	cmd.Flags().Duration("poll-frequency", 0, "Fixed poll frequency (default adapts to the tree size)")
	cmd.Flags().String("settings", config.DefaultSettingsPath, "Capability probe cache file, empty to always probe")
	cmd.Flags().Bool("reprobe", false, "Ignore the probe cache and probe again")
	cmd.Flags().Duration("probe-timeout", capability.DefaultProbeTimeout, "How long the capability probe waits for events")
	cmd.Flags().Duration("stop-timeout", config.DefaultStopTimeout, "How long to wait for shutdown")
	cmd.Flags().String("log-file", "", "Also write logs to this file")
	cmd.Flags().Lookup("log-file").NoOptDefVal = config.DefaultLogFilePath
	cmd.Flags().BoolP("verbose", "v", false, "Debug logging")
	cmd.Flags().Bool("json", false, "Print changes as JSON lines")
	cmd.PersistentFlags().StringP("config", "c", "", "Config file (default "+filepath.Join(config.DefaultConfigDir, configFileName+".{json,yaml}")+")")

	cmd.AddCommand(newProbeCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// loadConfig merges, from lowest to highest priority: flag defaults, the config file,
// a .env file in the working directory, FSWATCH_* env vars, explicit flags and the root
// argument.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	v := viper.New()

	if f := cmd.Flag("config"); f != nil && f.Changed {
		v.SetConfigFile(f.Value.String())
	} else {
		v.AddConfigPath(config.DefaultConfigDir)
		v.SetConfigName(configFileName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config read '%s': %w", v.ConfigFileUsed(), err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	flags := map[string]string{
		"extensions":     "ext",
		"ignore":         "ignore",
		"kinds":          "kinds",
		"ignore_window":  "ignore-window",
		"poll_frequency": "poll-frequency",
		"settings":       "settings",
		"reprobe":        "reprobe",
		"probe_timeout":  "probe-timeout",
		"stop_timeout":   "stop-timeout",
		"log_file":       "log-file",
		"verbose":        "verbose",
	}
	for key, name := range flags {
		if f := cmd.Flag(name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	_ = v.BindEnv("root")

	if len(args) > 0 {
		v.Set("root", args[0])
	}

	var cfg config.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config decode: %w", err)
	}
	cfg.Path = v.ConfigFileUsed()
	return &cfg, nil
}

func runWatch(ctx context.Context, cfg *config.Config, out *printer) error {
	kinds, err := cfg.KindSet()
	if err != nil {
		return err
	}

	settings, err := resolveSettings(ctx, cfg)
	if err != nil {
		return err
	}

	w, err := watcher.New(ctx, watcher.Options{
		Root:         cfg.Root,
		IgnoreWindow: cfg.IgnoreWindow,
		Extensions:   cfg.Extensions,
		Ignore:       cfg.Ignore,
		Settings:     &settings,
		Handler:      cache.Filter(out, kinds),
		ErrorHandler: out.Error,
		StopTimeout:  cfg.StopTimeout,
	})
	if err != nil {
		return err
	}

	if err := w.Watch(ctx); err != nil {
		return err
	}
	defer slog.Info("Bye!")
	defer w.Stop()

	select {
	case <-ctx.Done():
		return nil
	case <-w.Ready():
	}

	if cfg.PollFrequency > 0 {
		w.SetPollFrequency(cfg.PollFrequency)
	}
	s := w.Settings()
	slog.Info("watching",
		"root", w.Root(),
		"poll_frequency", s.PollFrequency,
		"continuous_polling", s.ContinuousPolling(),
	)

	select {
	case <-ctx.Done():
	case <-w.Done():
	}
	return nil
}

// resolveSettings loads cached probe results, probing and caching them when missing.
func resolveSettings(ctx context.Context, cfg *config.Config) (capability.Settings, error) {
	if cfg.SettingsPath != "" && !cfg.Reprobe {
		s, err := capability.Load(cfg.SettingsPath)
		if err == nil {
			slog.Debug("capability settings loaded", "path", cfg.SettingsPath)
			return s, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("capability settings unreadable, probing again", "path", cfg.SettingsPath, "error", err)
		}
	}

	start := time.Now()
	s, err := capability.Detect(ctx, capability.Options{Timeout: cfg.ProbeTimeout})
	if err != nil {
		return capability.Settings{}, fmt.Errorf("capability probe: %w", err)
	}
	slog.Debug("capability probe done", "elapsed", time.Since(start))

	if cfg.SettingsPath != "" {
		if err := capability.Save(cfg.SettingsPath, s); err != nil {
			slog.Warn("capability settings not saved", "path", cfg.SettingsPath, "error", err)
		}
	}
	return s, nil
}
