package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"ariachat/internal/config"
	"ariachat/internal/memory"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your ariachat installation",
		Long: `Verifies that the configuration, chat storage and the chat service
are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("ariachat doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'ariachat init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			if cfg.Service.Token == "" {
				printWarn("Service token", "not set (anonymous access only)")
				warned++
			} else {
				printPass("Service token", "configured")
				passed++
			}

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			client, err := connectService(ctx, cfg)
			if err != nil {
				printFail("Chat service", err.Error())
				failed++
			} else {
				if err := client.Ping(ctx); err != nil {
					printFail("Chat service", fmt.Sprintf("connected but ping failed: %v", err))
					failed++
				} else {
					printPass("Chat service", cfg.Service.URL)
					passed++
				}
				client.Close()
			}

			switch cfg.Storage.Backend {
			case "remote":
				if _, closeStore, err := openStore(ctx, cfg); err != nil {
					printFail("Artifact store", err.Error())
					failed++
				} else {
					closeStore()
					printPass("Artifact store", cfg.Storage.ArtifactURL)
					passed++
				}
			default:
				if detail, err := checkDatabase(ctx, cfg); err != nil {
					printFail("Database", err.Error())
					failed++
				} else {
					printPass("Database", detail)
					passed++
				}
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before chatting.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nariachat should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! Run 'ariachat chat' to start.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the local chat store, which runs pending migrations.
func checkDatabase(ctx context.Context, cfg *config.Config) (string, error) {
	store, err := memory.NewSQLiteStore(cfg.Storage.DBPath, cfg.Service.UserID, logger)
	if err != nil {
		return "", err
	}
	defer store.Close()

	schema, err := memory.GetSchemaVersion(store.DB())
	if err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	stats, err := store.Stats(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s (schema v%d, %d chats for %s, %d users)",
		cfg.Storage.DBPath, schema, stats[cfg.Service.UserID], cfg.Service.UserID, len(stats)), nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
