package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MarchanoGG/Watchdog/internal/backup"
	"github.com/MarchanoGG/Watchdog/internal/checksum"
	"github.com/MarchanoGG/Watchdog/internal/config"
	"github.com/MarchanoGG/Watchdog/internal/inspect"
	"github.com/MarchanoGG/Watchdog/internal/lock"
	"github.com/MarchanoGG/Watchdog/internal/logging"
	"github.com/MarchanoGG/Watchdog/internal/notify"
	"github.com/MarchanoGG/Watchdog/internal/pulse"
	"github.com/MarchanoGG/Watchdog/internal/storage"
	"github.com/MarchanoGG/Watchdog/internal/transport"
	"github.com/MarchanoGG/Watchdog/internal/util"
	"github.com/MarchanoGG/Watchdog/internal/verify"
	"github.com/MarchanoGG/Watchdog/internal/version"
)

type rootFlags struct {
	ConfigPath string
	LogLevel   string
	LogFormat  string
}

func main() {
	root := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:          "watchdog",
		Short:        "Back up servers over SSH and verify every artifact",
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ConfigPath, "config", "", "Path to config file (yaml/toml/json or .enc)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.AddCommand(newPulseCmd(root))
	rootCmd.AddCommand(newBackupCmd(root))
	rootCmd.AddCommand(newVerifyCmd(root))
	rootCmd.AddCommand(newDaemonCmd(root))
	rootCmd.AddCommand(newNotifyCmd(root))
	rootCmd.AddCommand(newValidateCmd(root))
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newPulseCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "pulse",
		Short: "Run one backup, verify and report cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := runPulse(ctx, cfg, logger)
			if out.Failed() {
				return fmt.Errorf("pulse %s failed", out.RunID)
			}
			return nil
		},
	}
}

func newBackupCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Back up every configured server without verifying",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			guard, err := lock.Acquire(lockPath(cfg))
			if err != nil {
				return err
			}
			defer guard.Release()

			ctx, cancel := operationContext(cfg)
			defer cancel()

			runID := util.RunID(time.Now())
			producer := newProducer(cfg, runID, logger)
			paths, err := producer.Run(ctx, cfg.Servers)
			for _, p := range paths {
				fmt.Println(p)
			}
			return err
		},
	}
}

func newVerifyCmd(root *rootFlags) *cobra.Command {
	var runDir string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify a run against its manifests (default: latest run)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			if runDir == "" {
				if runDir, err = util.LatestRun(cfg.Backup.Root); err != nil {
					return err
				}
			}
			ctx, cancel := operationContext(cfg)
			defer cancel()

			res := newVerifier(cfg, logger).VerifyRun(ctx, runDir)
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(res); err != nil {
					return err
				}
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d servers, %d artifacts)\n", runDir, res.Overall, res.Metrics.Servers, res.Metrics.Artifacts)
				for _, e := range res.Errors {
					fmt.Fprintln(cmd.OutOrStdout(), "ERR ", e)
				}
				for _, w := range res.Warnings {
					fmt.Fprintln(cmd.OutOrStdout(), "WARN", w)
				}
			}
			return res.Err()
		},
	}
	cmd.Flags().StringVar(&runDir, "run-dir", "", "Run directory to verify")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func newDaemonCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run the pulse every day at schedule.at",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger.Info().Str("version", version.Version).Str("at", cfg.Schedule.At).Msg("watchdog daemon started")
			for {
				next, err := util.NextRun(time.Now(), cfg.Schedule.At, cfg.Schedule.Timezone)
				if err != nil {
					return err
				}
				logger.Info().Time("next_run", next).Msg("waiting for next pulse")
				timer := time.NewTimer(time.Until(next))
				select {
				case <-ctx.Done():
					timer.Stop()
					logger.Info().Msg("watchdog daemon stopped")
					return nil
				case <-timer.C:
				}
				runPulse(ctx, cfg, logger)
			}
		},
	}
}

func newNotifyCmd(root *rootFlags) *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "notify",
		Short: "Send a test message to every configured sink",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			sinks := notify.FromConfig(cfg.Notifications)
			if sinks.Empty() {
				return fmt.Errorf("no notification sinks configured (set DISCORD_WEBHOOK_URL or notifications.*)")
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			return sinks.Send(ctx, notify.Message{Content: message})
		},
	}
	cmd.Flags().StringVar(&message, "message", "🐶 WatchDog test notification", "Message to send")
	return cmd
}

func newValidateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(root)
			if err != nil {
				return err
			}
			logger.Info().Int("servers", len(cfg.Servers)).Str("root", cfg.Backup.Root).Msg("configuration valid")
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || output == "" || key == "" {
				return fmt.Errorf("--input, --output, and --key are required")
			}
			return config.EncryptConfigFile(input, output, key)
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64:, hex: or pass:)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("watchdog %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func loadConfig(root *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(root.ConfigPath)
	if err != nil {
		return nil, err
	}
	if root.LogLevel != "" {
		cfg.Global.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.Global.LogFormat = root.LogFormat
	}
	return cfg, nil
}

// setup loads and validates config and builds the logger.
func setup(root *rootFlags) (*config.Config, zerolog.Logger, error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, zerolog.Nop(), err
	}
	if err := cfg.Validate(); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.Configure(cfg.Global.LogLevel, cfg.Global.LogFormat), nil
}

func operationContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, cfg.Global.OperationTimeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func lockPath(cfg *config.Config) string {
	if cfg.Global.LockFile != "" {
		return cfg.Global.LockFile
	}
	return lock.DefaultPath(cfg.Backup.Root)
}

func newProducer(cfg *config.Config, runID string, logger zerolog.Logger) *backup.Producer {
	dialer := transport.ConfigDialer{Backup: cfg.Backup, Log: logging.Component(logger, "transport")}
	runDir := util.RunDir(cfg.Backup.Root, runID)
	return backup.New(dialer, checksum.New(), runDir, runID, cfg.Backup, logging.Component(logger, "backup"))
}

func newVerifier(cfg *config.Config, logger zerolog.Logger) *verify.Service {
	return verify.New(checksum.New(), inspect.Default(), cfg.Verify.Workers, logging.Component(logger, "verify"))
}

// runPulse wires one orchestrated run from config.
func runPulse(ctx context.Context, cfg *config.Config, logger zerolog.Logger) pulse.Outcome {
	ctx, cancel := context.WithTimeout(ctx, cfg.Global.OperationTimeout)
	defer cancel()

	runID := util.RunID(time.Now())
	log := logging.Component(logger, "pulse")
	o := &pulse.Orchestrator{
		Backup:      newProducer(cfg, runID, logger),
		Verify:      newVerifier(cfg, logger),
		Sink:        notify.FromConfig(cfg.Notifications),
		Servers:     cfg.Servers,
		RunID:       runID,
		RunDir:      util.RunDir(cfg.Backup.Root, runID),
		LockPath:    lockPath(cfg),
		MetricsPath: cfg.Metrics.Textfile,
		Log:         log,
	}
	if cfg.Mirror.Enabled {
		store, err := storage.New(cfg.Mirror)
		if err != nil {
			log.Error().Err(err).Msg("mirror disabled for this run")
		} else {
			mirrorLog := logging.Component(logger, "mirror")
			o.Mirror = func(ctx context.Context, runDir string) error {
				_, err := storage.Mirror(ctx, store, runDir, cfg.Mirror.Prefix, mirrorLog)
				return err
			}
		}
	}
	return o.Run(ctx)
}
