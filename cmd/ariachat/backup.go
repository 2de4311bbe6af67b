package main

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"ariachat/internal/config"
	"ariachat/internal/domain"

	"github.com/spf13/cobra"
)

// Archive layout: the config file as config.<ext>, one chats/<id>.json per
// saved chat and, when asked for, the log file as logs/<name>.
const chatsDir = "chats/"

// archiveEntry is one file of a backup archive.
type archiveEntry struct {
	Name string
	Data []byte
}

func backupCmd() *cobra.Command {
	var outputPath string
	var withLog bool

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Export saved chats and the config into a .tar.gz archive",
		Long: `Exports every saved chat of the configured user through the configured
storage backend (local database or remote artifact service), together with
the configuration file. The archive is timestamped by default.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			entries, err := exportChats(ctx, store)
			if err != nil {
				return err
			}
			if data, err := os.ReadFile(cfgPath); err == nil {
				entries = append(entries, archiveEntry{Name: "config" + filepath.Ext(cfgPath), Data: data})
			}
			if withLog && cfg.General.LogFile != "" {
				data, err := os.ReadFile(cfg.General.LogFile)
				if err != nil {
					return fmt.Errorf("read log file: %w", err)
				}
				entries = append(entries, archiveEntry{Name: "logs/" + filepath.Base(cfg.General.LogFile), Data: data})
			}
			if len(entries) == 0 {
				return fmt.Errorf("nothing to back up (no saved chats, no config at %s)", cfgPath)
			}

			if outputPath == "" {
				backupDir := filepath.Join(config.DefaultConfigDir(), "backups")
				if err := os.MkdirAll(backupDir, 0o755); err != nil {
					return fmt.Errorf("cannot create backup directory: %w", err)
				}
				outputPath = filepath.Join(backupDir,
					fmt.Sprintf("ariachat-backup-%s.tar.gz", time.Now().Format("20060102-150405")))
			}
			f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
			if err != nil {
				return err
			}
			if err := writeArchive(f, entries); err != nil {
				f.Close()
				return fmt.Errorf("backup failed: %w", err)
			}
			if err := f.Close(); err != nil {
				return err
			}

			var total int64
			chats := 0
			for _, e := range entries {
				total += int64(len(e.Data))
				if strings.HasPrefix(e.Name, chatsDir) {
					chats++
				}
			}
			fmt.Printf("Backup created: %s\n", outputPath)
			fmt.Printf("Chats: %d from %s storage, %d files, %s\n", chats, cfg.Storage.Backend, len(entries), humanSize(total))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "output file path (default: ~/.ariachat/backups/ariachat-backup-<timestamp>.tar.gz)")
	cmd.Flags().BoolVar(&withLog, "with-log", false, "include the configured log file")
	return cmd
}

func restoreCmd() *cobra.Command {
	var inputPath string
	var force bool

	cmd := &cobra.Command{
		Use:   "restore [file.tar.gz]",
		Short: "Import saved chats (and the config) from a backup archive",
		Long: `Saves every chat of an archive created by 'ariachat backup' into the
configured storage backend. Chats that already exist and an existing config
file are kept unless --force is given.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if inputPath == "" && len(args) > 0 {
				inputPath = args[0]
			}
			if inputPath == "" {
				return fmt.Errorf("specify a backup file: ariachat restore <file.tar.gz>")
			}

			f, err := os.Open(inputPath)
			if err != nil {
				return err
			}
			entries, err := readArchive(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("restore failed: %w", err)
			}

			cfgPath := resolveConfigPath()
			for _, e := range entries {
				if !strings.HasPrefix(e.Name, "config.") {
					continue
				}
				if _, err := os.Stat(cfgPath); err == nil && !force {
					fmt.Printf("Keeping existing config %s (use --force to replace it)\n", cfgPath)
					break
				}
				if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
					return err
				}
				if err := os.WriteFile(cfgPath, e.Data, 0o600); err != nil {
					return fmt.Errorf("write config: %w", err)
				}
				fmt.Printf("Config restored to %s\n", cfgPath)
				break
			}

			cfg, _, err := loadConfig(true)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			store, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			restored, skipped, err := importChats(ctx, store, entries, force)
			if err != nil {
				return err
			}
			fmt.Printf("Restore completed from: %s\n", inputPath)
			fmt.Printf("Chats restored: %d, kept existing: %d\n", restored, skipped)
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputPath, "input", "i", "", "backup file to restore from")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing chats and config")
	return cmd
}

// exportChats reads every chat the store lists for its user.
func exportChats(ctx context.Context, store domain.ChatStore) ([]archiveEntry, error) {
	manifests, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	entries := make([]archiveEntry, 0, len(manifests))
	for _, m := range manifests {
		data, err := json.MarshalIndent(m, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode chat %s: %w", m.ID, err)
		}
		entries = append(entries, archiveEntry{Name: chatsDir + m.ID + ".json", Data: data})
	}
	return entries, nil
}

// importChats saves the archived chats into store. Existing chats are skipped
// unless force is set; stored permissions are left as they are.
func importChats(ctx context.Context, store domain.ChatStore, entries []archiveEntry, force bool) (restored, skipped int, err error) {
	for _, e := range entries {
		if !strings.HasPrefix(e.Name, chatsDir) || path.Ext(e.Name) != ".json" {
			continue
		}
		var m domain.Manifest
		if err := json.Unmarshal(e.Data, &m); err != nil {
			return restored, skipped, fmt.Errorf("decode %s: %w", e.Name, err)
		}
		if m.ID == "" {
			m.ID = strings.TrimSuffix(path.Base(e.Name), ".json")
		}

		if !force {
			_, err := store.Read(ctx, "", m.ID)
			if err == nil {
				skipped++
				continue
			}
			if !errors.Is(err, domain.ErrNotFound) {
				return restored, skipped, fmt.Errorf("check chat %s: %w", m.ID, err)
			}
		}
		if err := store.Save(ctx, m, nil); err != nil {
			return restored, skipped, fmt.Errorf("restore chat %s: %w", m.ID, err)
		}
		restored++
	}
	return restored, skipped, nil
}

func writeArchive(w io.Writer, entries []archiveEntry) error {
	gzWriter := gzip.NewWriter(w)
	tarWriter := tar.NewWriter(gzWriter)

	now := time.Now()
	for _, e := range entries {
		header := &tar.Header{
			Name:    e.Name,
			Mode:    0o600,
			Size:    int64(len(e.Data)),
			ModTime: now,
		}
		if err := tarWriter.WriteHeader(header); err != nil {
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
		if _, err := tarWriter.Write(e.Data); err != nil {
			return fmt.Errorf("add %s: %w", e.Name, err)
		}
	}
	if err := tarWriter.Close(); err != nil {
		return err
	}
	return gzWriter.Close()
}

func readArchive(r io.Reader) ([]archiveEntry, error) {
	gzReader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("not a valid gzip file: %w", err)
	}
	defer gzReader.Close()

	tarReader := tar.NewReader(gzReader)
	var entries []archiveEntry
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		data, err := io.ReadAll(tarReader)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", header.Name, err)
		}
		entries = append(entries, archiveEntry{Name: path.Clean(header.Name), Data: data})
	}
	return entries, nil
}

func humanSize(bytes int64) string {
	const (
		kb = 1024
		mb = 1024 * kb
		gb = 1024 * mb
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
