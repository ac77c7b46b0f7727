// Package project discovers per-project configuration binding Discord
// channels to working directories for the agent backend.
package project

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// PermissionMode controls how the agent backend handles tool permission
// checks for a project.
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionBypass      PermissionMode = "bypassPermissions"
	PermissionPlan        PermissionMode = "plan"
)

// ValidPermissionMode reports whether mode is one of the supported values.
func ValidPermissionMode(mode string) bool {
	switch PermissionMode(mode) {
	case PermissionDefault, PermissionAcceptEdits, PermissionBypass, PermissionPlan:
		return true
	}
	return false
}

// Config is a single project's effective configuration.
type Config struct {
	Name            string
	Path            string
	ChannelID       string
	Model           string // optional; empty means backend default
	PermissionMode  PermissionMode
	MaxBudgetUSD    float64 // optional; 0 means no ceiling
	AllowedTools    []string
	DisallowedTools []string
}

// bindingFile is the per-project JSON file that binds a directory to a
// Discord channel.
const bindingFile = "discord.json"

type bindingJSON struct {
	ChannelID       string   `json:"channelId"`
	Model           string   `json:"model"`
	PermissionMode  string   `json:"permissionMode"`
	MaxBudgetUSD    float64  `json:"maxBudgetUsd"`
	AllowedTools    []string `json:"allowedTools"`
	DisallowedTools []string `json:"disallowedTools"`
}

// Registry maps channel IDs to project configurations, populated by
// scanning a projects root directory.
type Registry struct {
	root string

	mu       sync.RWMutex
	channels map[string]*Config
}

// NewRegistry creates a Registry rooted at the given directory. Call
// Discover to populate it.
func NewRegistry(root string) (*Registry, error) {
	if root == "" {
		return nil, fmt.Errorf("project: registry: root is required")
	}
	return &Registry{
		root:     root,
		channels: make(map[string]*Config),
	}, nil
}

// Discover rescans the projects root. Each immediate subdirectory with
// a discord.json file becomes a project; entries with a missing
// channelId or a channel already claimed by another project are skipped
// with a logged error. Returns the number of registered projects.
func (r *Registry) Discover() (int, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return 0, fmt.Errorf("project: read root %s: %w", r.root, err)
	}

	channels := make(map[string]*Config)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		projectPath := filepath.Join(r.root, entry.Name())
		bindingPath := filepath.Join(projectPath, bindingFile)

		raw, err := os.ReadFile(bindingPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			log.Printf("project: read %s: %v", bindingPath, err)
			continue
		}

		var binding bindingJSON
		if err := json.Unmarshal(raw, &binding); err != nil {
			log.Printf("project: parse %s: %v", bindingPath, err)
			continue
		}
		if binding.ChannelID == "" {
			log.Printf("project: %s: missing channelId", bindingPath)
			continue
		}
		if _, dup := channels[binding.ChannelID]; dup {
			log.Printf("project: duplicate channel %s in %s, skipping", binding.ChannelID, entry.Name())
			continue
		}

		mode := PermissionMode(binding.PermissionMode)
		if binding.PermissionMode == "" {
			mode = PermissionDefault
		} else if !ValidPermissionMode(binding.PermissionMode) {
			log.Printf("project: %s: invalid permissionMode %q, using default", bindingPath, binding.PermissionMode)
			mode = PermissionDefault
		}

		channels[binding.ChannelID] = &Config{
			Name:            entry.Name(),
			Path:            projectPath,
			ChannelID:       binding.ChannelID,
			Model:           binding.Model,
			PermissionMode:  mode,
			MaxBudgetUSD:    binding.MaxBudgetUSD,
			AllowedTools:    binding.AllowedTools,
			DisallowedTools: binding.DisallowedTools,
		}
	}

	r.mu.Lock()
	r.channels = channels
	r.mu.Unlock()
	return len(channels), nil
}

// ByChannel returns the project bound to a channel, or nil.
func (r *Registry) ByChannel(channelID string) *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.channels[channelID]
	if !ok {
		return nil
	}
	cp := *cfg
	return &cp
}

// All returns every registered project.
func (r *Registry) All() []*Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Config, 0, len(r.channels))
	for _, cfg := range r.channels {
		cp := *cfg
		out = append(out, &cp)
	}
	return out
}

// Count returns the number of registered projects.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels)
}
