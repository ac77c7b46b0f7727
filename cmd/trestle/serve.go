package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/zulandar/trestle/internal/agent"
	"github.com/zulandar/trestle/internal/bot"
	"github.com/zulandar/trestle/internal/config"
	"github.com/zulandar/trestle/internal/db"
	"github.com/zulandar/trestle/internal/gateway/discord"
	"github.com/zulandar/trestle/internal/project"
	"github.com/zulandar/trestle/internal/session"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Trestle daemon",
		Long:  "Connects to Discord, discovers projects, and bridges channel messages to Claude Code.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trestle.yaml", "path to Trestle config file")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	// .env is optional; environment variables win over the config file.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: load .env: %v\n", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	store, err := session.NewStore(gormDB)
	if err != nil {
		return err
	}

	registry, err := project.NewRegistry(cfg.ProjectsRoot)
	if err != nil {
		return err
	}
	n, err := registry.Discover()
	if err != nil {
		return fmt.Errorf("discover projects in %s: %w", cfg.ProjectsRoot, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d project(s) in %s\n", n, cfg.ProjectsRoot)

	gw, err := discord.New(discord.AdapterOpts{
		BotToken:      cfg.Discord.Token,
		ApplicationID: cfg.Discord.ApplicationID,
	})
	if err != nil {
		return err
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		Config:   cfg,
		Gateway:  gw,
		Backend:  &agent.CLIBackend{Binary: cfg.ClaudeBinary},
		Store:    store,
		Registry: registry,
		Out:      cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return daemon.Run(ctx)
}
