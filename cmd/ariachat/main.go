package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ariachat/internal/bus"
	"ariachat/internal/channel"
	"ariachat/internal/chat"
	"ariachat/internal/config"
	"ariachat/internal/render"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:          "ariachat",
		Short:        "ariachat: terminal client for the Aria Agents chat service",
		Long:         "ariachat streams Aria Agents conversations to the terminal and keeps a library of saved chats.",
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json or config.yaml (default: ~/.ariachat/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(configCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(backupCmd())
	root.AddCommand(restoreCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultConfigPath()
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "db", config.ExpandPath(cfg.Storage.DBPath))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	return cmd
}

func chatCmd() *cobra.Command {
	var loadID, owner string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(loadID, owner)
		},
	}
	cmd.Flags().StringVar(&loadID, "load", "", "open a saved chat by id")
	cmd.Flags().StringVar(&owner, "owner", "", "owner of a shared chat opened with --load")
	return cmd
}

func runChat(loadID, owner string) error {
	cfg, _, err := loadConfig(true)
	if err != nil {
		return err
	}
	closeLog, err := setupLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lib, closeStore, err := openLibrary(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	client, err := connectService(ctx, cfg)
	if err != nil {
		return err
	}
	defer client.Close()

	serveMetrics(ctx, cfg)

	renderer := render.New(logger)
	opts := chat.Options{
		Service:      client,
		Renderer:     renderer,
		Bus:          bus.NewEventBus(logger),
		Logger:       logger,
		UserID:       cfg.Service.UserID,
		UserToken:    cfg.Service.Token,
		Extensions:   extensions(cfg),
		ArtifactTool: cfg.Chat.ArtifactTool,
	}
	if cfg.Chat.Autosave {
		opts.Library = lib
	}
	orch := chat.NewOrchestrator(opts)

	if loadID != "" {
		conv, err := lib.Load(ctx, owner, loadID)
		if err != nil {
			return err
		}
		orch.Load(conv)
		if owner != "" && owner != cfg.Service.UserID {
			orch.SetExternalSession(conv.ID)
		}
	}

	cli := channel.NewCLI(channel.CLIConfig{
		Orchestrator: orch,
		Library:      lib,
		Renderer:     renderer,
		Logger:       logger,
	})
	return cli.Start(ctx)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show service and storage status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(true)
			if err != nil {
				return err
			}
			logger.Info("config", "path", cfgPath, "user", cfg.Service.UserID, "backend", cfg.Storage.Backend)

			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()

			client, err := connectService(ctx, cfg)
			if err != nil {
				logger.Info("service", "url", cfg.Service.URL, "reachable", false, "err", err)
			} else {
				pingErr := client.Ping(ctx)
				logger.Info("service", "url", cfg.Service.URL, "reachable", pingErr == nil, "err", pingErr)
				client.Close()
			}

			lib, closeStore, err := openLibrary(ctx, cfg)
			if err != nil {
				logger.Info("storage", "backend", cfg.Storage.Backend, "ok", false, "err", err)
				return nil
			}
			defer closeStore()
			chats, err := lib.List(ctx)
			if err != nil {
				logger.Info("storage", "backend", cfg.Storage.Backend, "ok", false, "err", err)
				return nil
			}
			logger.Info("storage", "backend", cfg.Storage.Backend, "ok", true, "chats", len(chats))
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. service.url)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(false)
			if err != nil {
				return err
			}
			val, err := config.GetByPath(config.Sanitize(cfg), args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. storage.backend remote)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig(false)
			if err != nil {
				return err
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(false)
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
