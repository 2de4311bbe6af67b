package main

import (
	"context"
	"fmt"
	"time"

	"ariachat/internal/chat"
	"ariachat/internal/config"
	"ariachat/internal/conversation"
	"ariachat/internal/domain"
	"ariachat/internal/render"

	"github.com/spf13/cobra"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage saved chats",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved chats, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(func(ctx context.Context, cfg *config.Config, lib *chat.Library) error {
				chats, err := lib.List(ctx)
				if err != nil {
					return err
				}
				if len(chats) == 0 {
					fmt.Println("No saved chats.")
					return nil
				}
				for _, m := range chats {
					fmt.Printf("%-20s %-40s %s\n", m.ID, m.Name, m.Timestamp)
				}
				return nil
			})
		},
	})

	var owner string
	show := &cobra.Command{
		Use:   "show [id]",
		Short: "Print a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(func(ctx context.Context, cfg *config.Config, lib *chat.Library) error {
				conv, err := lib.Load(ctx, owner, args[0])
				if err != nil {
					return err
				}
				printConversation(render.New(logger), conv)
				return nil
			})
		},
	}
	show.Flags().StringVar(&owner, "owner", "", "owner of a shared chat")
	cmd.AddCommand(show)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a saved chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(func(ctx context.Context, cfg *config.Config, lib *chat.Library) error {
				if err := lib.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted %s\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "share [id]",
		Short: "Make a saved chat readable by anyone and print its alias",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLibrary(func(ctx context.Context, cfg *config.Config, lib *chat.Library) error {
				conv, err := lib.Load(ctx, "", args[0])
				if err != nil {
					return err
				}
				alias, err := lib.Share(ctx, conv)
				if err != nil {
					return err
				}
				fmt.Printf("Shared read-only as %s\n", alias)
				fmt.Printf("Open with: ariachat chat --load %s --owner %s\n", conv.ID, cfg.Service.UserID)
				return nil
			})
		},
	})

	return cmd
}

// withLibrary loads the config and opens the chat library for one command.
func withLibrary(fn func(ctx context.Context, cfg *config.Config, lib *chat.Library) error) error {
	cfg, _, err := loadConfig(true)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Storage.TimeoutSec+5)*time.Second)
	defer cancel()

	lib, closeStore, err := openLibrary(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	return fn(ctx, cfg, lib)
}

func printConversation(r *render.Renderer, conv *conversation.Conversation) {
	if conv.Title != "" {
		fmt.Printf("== %s ==\n\n", conv.Title)
	}
	for _, id := range conv.History.Keys() {
		msg, _ := conv.History.Get(id)
		if msg.Role == domain.RoleUser {
			fmt.Printf("You> %s\n\n", r.Plain(msg.Content))
			continue
		}
		fmt.Printf("--- %s %s ---\n", msg.Icon, r.Plain(msg.Title))
		if content := r.Plain(msg.Content); content != "" {
			fmt.Println(content)
		}
		if msg.ArtifactIndex != nil {
			if a, ok := conv.Artifact(*msg.ArtifactIndex); ok {
				fmt.Printf("Summary website: %s\n", a.URL)
			}
		}
		fmt.Println()
	}
}
