package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"jarvis/internal/channel"
	"jarvis/internal/config"
	"jarvis/internal/provider"

	"github.com/spf13/cobra"
)

var (
	version    = "1.0.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
	verbose    bool
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "jarvis",
		Short: "Jarvis: WhatsApp assistant for small businesses",
		Long:  "Jarvis answers WhatsApp messages with an LLM, handles slash commands, voice notes and documents, and gives admins remote control over the bot.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := config.LoadDotEnv(); err != nil {
				logger.Warn("dotenv not loaded", "err", err)
			}
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.jarvis/config.json)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(loginCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(daemonCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// setupLogger replaces the bootstrap logger with one honouring the
// configured level and log file. The returned closer releases the file.
func setupLogger(cfg *config.Config) (io.Closer, error) {
	level := parseLevel(cfg.General.LogLevel)
	if verbose {
		level = slog.LevelDebug
	}

	var out io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if cfg.General.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stderr, f)
		closer = f
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return closer, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to WhatsApp and serve messages",
		Long:  "Starts the WhatsApp transport, the dispatcher, the scheduler and the optional metrics and event forwarding. Press Ctrl+C to stop.",
		RunE:  runWhatsApp,
	}
}

func runWhatsApp(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	closer, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closer.Close()

	if !cfg.WhatsApp.Enabled {
		return fmt.Errorf("whatsapp is disabled in %s (whatsapp.enabled)", resolveConfigPath())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	wa, err := channel.NewWhatsApp(ctx, channel.WhatsAppChannelConfig{Config: cfg.WhatsApp, Logger: logger})
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, wa)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := wa.Start(ctx, a.bus); err != nil {
		return fmt.Errorf("start whatsapp: %w", err)
	}
	defer wa.Stop()

	go a.Serve(ctx)

	logger.Info("jarvis running. Press Ctrl+C to stop.", "version", version, "bot", wa.BotID())
	<-ctx.Done()
	logger.Info("shutting down...")

	return a.Shutdown(10 * time.Second)
}

func chatCmd() *cobra.Command {
	var as string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to Jarvis in the terminal",
		Long:  "Runs the full dispatch pipeline against a console transport. Use --as with an admin number to try admin commands.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
				cfg = config.Defaults()
			}
			// Quieter logs while the console owns the terminal.
			if cfg.General.LogLevel == "" || cfg.General.LogLevel == "info" {
				cfg.General.LogLevel = "warn"
			}
			closer, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cli := channel.NewCLI(channel.CLIConfig{Logger: logger, UserID: as})
			a, err := newApp(ctx, cfg, cli)
			if err != nil {
				return err
			}
			defer a.Close()

			go a.Serve(ctx)
			err = cli.Start(ctx, a.bus)
			stop()
			if shutdownErr := a.Shutdown(5 * time.Second); err == nil {
				err = shutdownErr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&as, "as", "", "sender id of console messages (default: console)")
	return cmd
}

func loginCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Pair Jarvis with a WhatsApp account",
		Long:  "Prints a QR code to scan from WhatsApp > Linked devices. The session is stored in whatsapp.sessionDb.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				logger.Warn("config not found, using defaults", "err", err)
				cfg = config.Defaults()
				cfg.WhatsApp.SessionDB = config.ExpandPath(cfg.WhatsApp.SessionDB)
			}
			if err := os.MkdirAll(filepath.Dir(cfg.WhatsApp.SessionDB), 0o755); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			wa, err := channel.NewWhatsApp(ctx, channel.WhatsAppChannelConfig{Config: cfg.WhatsApp, Logger: logger})
			if err != nil {
				return err
			}
			defer wa.Stop()

			if wa.LoggedIn() {
				fmt.Printf("Already paired as %s\n", wa.BotID())
				return nil
			}
			if err := wa.Login(ctx); err != nil {
				return err
			}
			fmt.Printf("Paired as %s\n", wa.BotID())
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configuration, provider and session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			factory := provider.NewFactory(cfg, logger)
			if prov := factory.HealthyProvider(ctx); prov != nil {
				logger.Info("provider", "name", prov.Name(), "healthy", true)
			} else {
				logger.Info("provider", "healthy", false)
			}

			_, err = os.Stat(config.ExpandPath(cfg.WhatsApp.SessionDB))
			logger.Info("whatsapp", "enabled", cfg.WhatsApp.Enabled, "session", err == nil)

			_, err = os.Stat(config.ExpandPath(cfg.Memory.DBPath))
			logger.Info("database", "path", cfg.Memory.DBPath, "exists", err == nil)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("jarvis " + version)
		},
	}
}
