package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"jarvis/internal/config"
	"jarvis/internal/provider"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// checkReport tallies doctor results.
type checkReport struct {
	passed, warned, failed int
}

func (r *checkReport) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *checkReport) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *checkReport) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func doctorCmd() *cobra.Command {
	var skipProvider bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your Jarvis installation",
		Long: `Verifies that the configuration, database, WhatsApp session, providers
and optional integrations are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("Jarvis Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r checkReport
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'jarvis init' to create a configuration.\n")
				return fmt.Errorf("no config")
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return summarize(&r)
			}
			r.pass("Config validation", "valid")

			if err := checkDatabase(cfg.Memory.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", cfg.Memory.DBPath)
			}

			if cfg.WhatsApp.Enabled {
				if _, err := os.Stat(cfg.WhatsApp.SessionDB); err != nil {
					r.warn("WhatsApp session", "not paired yet, run 'jarvis login'")
				} else {
					r.pass("WhatsApp session", cfg.WhatsApp.SessionDB)
				}
			}

			if len(cfg.Admin.Numbers) == 0 {
				r.warn("Admins", "no admin.numbers configured")
			} else {
				r.pass("Admins", fmt.Sprintf("%d configured", len(cfg.Admin.Numbers)))
			}

			if err := checkWritableDir(cfg.Admin.BackupDir); err != nil {
				r.warn("Backup dir", err.Error())
			} else {
				r.pass("Backup dir", cfg.Admin.BackupDir)
			}

			enabled := 0
			for name, p := range cfg.Providers {
				if !p.Enabled {
					continue
				}
				enabled++
				if p.APIKey == "" && name != "ollama" {
					r.warn("Provider: "+name, "enabled but no API key configured")
				} else {
					r.pass("Provider: "+name, "configured")
				}
			}
			if enabled == 0 {
				r.fail("Providers", "no providers enabled")
			} else if !skipProvider {
				ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
				prov := provider.NewFactory(cfg, logger).HealthyProvider(ctx)
				cancel()
				if prov == nil {
					r.fail("Provider health", "no provider answered")
				} else {
					r.pass("Provider health", prov.Name())
				}
			}

			if cfg.Interaction.Voice.Enabled {
				if _, err := provider.NewFactory(cfg, logger).Transcriber(); err != nil {
					r.warn("Voice", err.Error())
				} else {
					r.pass("Voice", "whisper via "+cfg.Interaction.Voice.Provider)
				}
			}

			if cfg.General.MetricsAddr != "" {
				if err := checkListen(cfg.General.MetricsAddr); err != nil {
					r.warn("Metrics", fmt.Sprintf("%s may be in use: %v", cfg.General.MetricsAddr, err))
				} else {
					r.pass("Metrics", cfg.General.MetricsAddr+" available")
				}
			}

			if cfg.Events.AMQPURL != "" {
				if uri, err := amqp.ParseURI(cfg.Events.AMQPURL); err != nil {
					r.fail("Events", err.Error())
				} else {
					r.pass("Events", fmt.Sprintf("%s:%d vhost %q", uri.Host, uri.Port, uri.Vhost))
				}
			}

			if cfg.General.LogFile != "" {
				if err := checkWritableDir(filepath.Dir(cfg.General.LogFile)); err != nil {
					r.warn("Log file", err.Error())
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return summarize(&r)
		},
	}
	cmd.Flags().BoolVar(&skipProvider, "offline", false, "skip the provider health request")
	return cmd
}

func summarize(r *checkReport) error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	switch {
	case r.failed > 0:
		fmt.Printf("\nPlease fix the failed checks before running Jarvis.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	case r.warned > 0:
		fmt.Printf("\nJarvis should work but consider fixing the warnings.\n")
	default:
		fmt.Printf("\nAll checks passed! Jarvis is ready to run.\n")
	}
	return nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_probe (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_probe")
	return nil
}

func checkWritableDir(dir string) error {
	if dir == "" {
		return fmt.Errorf("not configured")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create %s: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
