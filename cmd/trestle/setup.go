package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/zulandar/trestle/internal/config"
)

func newSetupCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Interactively write a trestle.yaml",
		Long:  "Prompts for Discord credentials (token input is hidden) and writes the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetup(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "trestle.yaml", "path to write the config file")
	return cmd
}

func runSetup(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	reader := bufio.NewReader(cmd.InOrStdin())

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("%s already exists; remove it first or pass a different --config", configPath)
	}

	fmt.Fprint(out, "Discord bot token: ")
	token, err := readSecret(reader)
	if err != nil {
		return fmt.Errorf("read token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("a bot token is required")
	}

	fmt.Fprint(out, "Discord application ID: ")
	appID, err := readLine(reader)
	if err != nil {
		return fmt.Errorf("read application ID: %w", err)
	}
	if appID == "" {
		return fmt.Errorf("an application ID is required")
	}

	fmt.Fprint(out, "Projects root (empty for ~/projects): ")
	projectsRoot, err := readLine(reader)
	if err != nil {
		return fmt.Errorf("read projects root: %w", err)
	}

	cfg := config.Config{
		Discord: config.DiscordConfig{
			Token:         token,
			ApplicationID: appID,
		},
		ProjectsRoot: projectsRoot,
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	// The token lives in this file; keep it owner-readable only.
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}

	fmt.Fprintf(out, "Wrote %s. Start the daemon with: trestle serve -c %s\n", configPath, configPath)
	return nil
}

// readSecret reads a line without echo when stdin is a terminal, and
// falls back to a plain read otherwise (pipes, tests).
func readSecret(reader *bufio.Reader) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		data, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	return readLine(reader)
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
