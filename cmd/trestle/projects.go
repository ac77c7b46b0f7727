package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/trestle/internal/config"
	"github.com/zulandar/trestle/internal/project"
)

func newProjectsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "projects",
		Short: "Inspect discovered projects",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "trestle.yaml", "path to Trestle config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List projects with channel bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectsList(cmd, configPath)
		},
	})
	return cmd
}

func runProjectsList(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	registry, err := project.NewRegistry(cfg.ProjectsRoot)
	if err != nil {
		return err
	}
	if _, err := registry.Discover(); err != nil {
		return fmt.Errorf("discover projects in %s: %w", cfg.ProjectsRoot, err)
	}

	out := cmd.OutOrStdout()
	projects := registry.All()
	if len(projects) == 0 {
		fmt.Fprintf(out, "No projects with a discord.json binding under %s.\n", cfg.ProjectsRoot)
		return nil
	}
	for _, p := range projects {
		model := p.Model
		if model == "" {
			model = "(backend default)"
		}
		fmt.Fprintf(out, "%-16s  channel %-20s  model %-28s  mode %s\n",
			p.Name, p.ChannelID, model, p.PermissionMode)
	}
	return nil
}
