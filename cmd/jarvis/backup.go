package main

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"jarvis/internal/config"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// archiveEntry maps a fixed name inside a backup archive to a file on disk.
type archiveEntry struct {
	Name string
	Path string
}

// backupEntries lists what a backup holds: the conversation store, the
// WhatsApp session and the config file, plus SQLite sidecar files.
func backupEntries(cfgPath string, cfg *config.Config) []archiveEntry {
	entries := []archiveEntry{{Name: "config.json", Path: cfgPath}}
	for _, db := range []struct{ name, path string }{
		{"jarvis.db", config.ExpandPath(cfg.Memory.DBPath)},
		{"whatsapp.db", config.ExpandPath(cfg.WhatsApp.SessionDB)},
	} {
		entries = append(entries, archiveEntry{Name: db.name, Path: db.path})
		for _, suffix := range []string{"-wal", "-shm"} {
			entries = append(entries, archiveEntry{Name: db.name + suffix, Path: db.path + suffix})
		}
	}
	return entries
}

func loadConfigOrDefaults(cfgPath string) *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not loaded, using default paths", "path", cfgPath, "err", err)
		return config.Defaults()
	}
	return cfg
}

func backupCmd() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Archive the database, WhatsApp session and config",
		Long: `Creates a compressed .tar.gz archive containing the Jarvis database,
the WhatsApp session store and the configuration file. Stop the bot first for
a consistent copy, or use "/admin backup" from WhatsApp for a live database copy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			cfg := loadConfigOrDefaults(cfgPath)

			if outputPath == "" {
				backupDir := config.ExpandPath(cfg.Admin.BackupDir)
				if backupDir == "" {
					backupDir = filepath.Join(config.DefaultConfigDir(), "backups")
				}
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				ts := time.Now().Format("20060102-150405")
				outputPath = filepath.Join(backupDir, fmt.Sprintf("jarvis-backup-%s.tar.gz", ts))
			}

			var present []archiveEntry
			for _, e := range backupEntries(cfgPath, cfg) {
				if _, err := os.Stat(e.Path); err == nil {
					present = append(present, e)
				}
			}
			if len(present) == 0 {
				return fmt.Errorf("nothing to back up (db: %s, config: %s)", cfg.Memory.DBPath, cfgPath)
			}

			if err := createTarGz(outputPath, present); err != nil {
				return fmt.Errorf("backup failed: %w", err)
			}

			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Files included: %d\n", len(present))
			for _, e := range present {
				var size uint64
				if info, err := os.Stat(e.Path); err == nil {
					size = uint64(info.Size())
				}
				fmt.Printf("  - %s (%s)\n", e.Name, humanize.Bytes(size))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file (default: <admin.backupDir>/jarvis-backup-<timestamp>.tar.gz)")
	return cmd
}

func restoreCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <file.tar.gz>",
		Short: "Restore data from a backup archive",
		Long:  `Restores the files of an archive created by "jarvis backup" to the paths of the current config.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			entries := backupEntries(cfgPath, loadConfigOrDefaults(cfgPath))

			if !force {
				var existing []string
				for _, e := range entries {
					if _, err := os.Stat(e.Path); err == nil {
						existing = append(existing, e.Path)
					}
				}
				if len(existing) > 0 {
					fmt.Println("WARNING: this will overwrite existing data:")
					for _, p := range existing {
						fmt.Printf("  %s\n", p)
					}
					return errors.New("restore aborted (use --force to proceed)")
				}
			}

			restored, err := extractTarGz(args[0], entries)
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			fmt.Printf("Restore completed from: %s\n", args[0])
			fmt.Printf("Files restored: %d\n", len(restored))
			for _, f := range restored {
				fmt.Printf("  - %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing data without warning")
	return cmd
}

func createTarGz(outputPath string, entries []archiveEntry) (err error) {
	outFile, err := os.Create(outputPath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := outFile.Close(); err == nil {
			err = cerr
		}
	}()

	gzWriter := gzip.NewWriter(outFile)
	tarWriter := tar.NewWriter(gzWriter)
	for _, e := range entries {
		if err := addFileToTar(tarWriter, e); err != nil {
			return fmt.Errorf("add %s: %w", e.Path, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func addFileToTar(tw *tar.Writer, e archiveEntry) error {
	file, err := os.Open(e.Path)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	header.Name = e.Name

	if err := tw.WriteHeader(header); err != nil {
		return err
	}
	_, err = io.Copy(tw, file)
	return err
}

// extractTarGz writes the archive members named in entries to their paths.
// Unknown members are skipped.
func extractTarGz(archivePath string, entries []archiveEntry) ([]string, error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	gzReader, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	targets := make(map[string]string, len(entries))
	for _, e := range entries {
		targets[e.Name] = e.Path
	}

	tarReader := tar.NewReader(gzReader)
	var restored []string
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		target, ok := targets[filepath.Base(header.Name)]
		if !ok || strings.Contains(header.Name, "..") {
			logger.Warn("skipping unknown archive member", "name", header.Name)
			continue
		}
		if err := writeFile(target, tarReader); err != nil {
			return nil, err
		}
		restored = append(restored, target)
	}
	return restored, nil
}

func writeFile(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", path, err)
	}
	return out.Close()
}
