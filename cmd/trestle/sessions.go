package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/trestle/internal/config"
	"github.com/zulandar/trestle/internal/db"
	"github.com/zulandar/trestle/internal/session"
)

func newSessionsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect stored sessions",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "trestle.yaml", "path to Trestle config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active sessions across all channels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessionsList(cmd, configPath)
		},
	})
	return cmd
}

func runSessionsList(cmd *cobra.Command, configPath string) error {
	store, err := openStore(configPath)
	if err != nil {
		return err
	}

	sessions, err := store.GetAll()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(sessions) == 0 {
		fmt.Fprintln(out, "No active sessions.")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(out, "%-20s  %-16s  %s  (updated %s)\n",
			s.ChannelID, s.ProjectName, s.SessionID, s.UpdatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func openStore(configPath string) (*session.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	return session.NewStore(gormDB)
}
