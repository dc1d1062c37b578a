package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"jarvis/internal/config"

	"github.com/spf13/cobra"
)

// serviceUnit describes the service file installed for one OS.
type serviceUnit struct {
	Path     string
	Template string
	Hints    []string
}

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the background service (launchd/systemd)",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install Jarvis as a user service running 'jarvis run'",
		RunE: func(cmd *cobra.Command, args []string) error {
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			unit, err := serviceFor(runtime.GOOS)
			if err != nil {
				return err
			}
			logDir := filepath.Join(config.DefaultConfigDir(), "logs")
			if err := os.MkdirAll(logDir, 0o755); err != nil {
				return err
			}
			body := strings.NewReplacer(
				"{{EXEC}}", execPath,
				"{{CONFIG}}", config.ExpandPath(resolveConfigPath()),
				"{{LABEL}}", launchdLabel,
				"{{LOG}}", filepath.Join(logDir, "jarvis.log"),
			).Replace(unit.Template)

			if err := os.MkdirAll(filepath.Dir(unit.Path), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(unit.Path, []byte(body), 0o644); err != nil {
				return err
			}
			fmt.Printf("Daemon installed: %s\n", unit.Path)
			for _, h := range unit.Hints {
				fmt.Println(h)
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the user service file",
		RunE: func(cmd *cobra.Command, args []string) error {
			unit, err := serviceFor(runtime.GOOS)
			if err != nil {
				return err
			}
			if err := os.Remove(unit.Path); err != nil {
				return fmt.Errorf("remove service file: %w", err)
			}
			fmt.Printf("Daemon uninstalled: %s\n", unit.Path)
			return nil
		},
	})
	return cmd
}

const launchdLabel = "ci.nourx.jarvis"

func serviceFor(goos string) (serviceUnit, error) {
	home, _ := os.UserHomeDir()
	switch goos {
	case "darwin":
		path := filepath.Join(home, "Library", "LaunchAgents", launchdLabel+".plist")
		return serviceUnit{
			Path:     path,
			Template: launchdTemplate,
			Hints: []string{
				"To start: launchctl load " + path,
				"To stop:  launchctl unload " + path,
			},
		}, nil
	case "linux":
		return serviceUnit{
			Path:     filepath.Join(home, ".config", "systemd", "user", "jarvis.service"),
			Template: systemdTemplate,
			Hints: []string{
				"To start:  systemctl --user start jarvis",
				"To enable: systemctl --user enable jarvis",
				"Logs:      journalctl --user -u jarvis -f",
			},
		}, nil
	default:
		return serviceUnit{}, fmt.Errorf("unsupported OS: %s (supported: darwin, linux)", goos)
	}
}

const launchdTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>{{LABEL}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{EXEC}}</string>
        <string>run</string>
        <string>--config</string>
        <string>{{CONFIG}}</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
    <key>KeepAlive</key>
    <true/>
    <key>StandardOutPath</key>
    <string>{{LOG}}</string>
    <key>StandardErrorPath</key>
    <string>{{LOG}}</string>
</dict>
</plist>`

const systemdTemplate = `[Unit]
Description=Jarvis WhatsApp assistant
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart={{EXEC}} run --config {{CONFIG}}
Restart=on-failure
RestartSec=10

[Install]
WantedBy=default.target`
