// Package command declares the slash-command surface and routes
// structured intents to orchestrator and session-store operations.
package command

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/trestle/internal/format"
	"github.com/zulandar/trestle/internal/gateway"
	"github.com/zulandar/trestle/internal/orchestrator"
	"github.com/zulandar/trestle/internal/project"
	"github.com/zulandar/trestle/internal/session"
)

// Router dispatches slash commands and backend-native passthroughs.
type Router struct {
	gw       gateway.Gateway
	orch     *orchestrator.Orchestrator
	store    *session.Store
	registry *project.Registry
}

// Opts holds parameters for creating a Router.
type Opts struct {
	Gateway      gateway.Gateway
	Orchestrator *orchestrator.Orchestrator
	Store        *session.Store
	Registry     *project.Registry
}

// New creates a Router.
func New(opts Opts) (*Router, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("command: gateway is required")
	}
	if opts.Orchestrator == nil {
		return nil, fmt.Errorf("command: orchestrator is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("command: session store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("command: project registry is required")
	}
	return &Router{
		gw:       opts.Gateway,
		orch:     opts.Orchestrator,
		store:    opts.Store,
		registry: opts.Registry,
	}, nil
}

// modelChoices are the models offered by the switch-model command.
var modelChoices = []gateway.CommandChoice{
	{Name: "Default (project setting)", Value: "default"},
	{Name: "Sonnet", Value: "claude-sonnet-4-5-20250929"},
	{Name: "Opus", Value: "claude-opus-4-6"},
	{Name: "Haiku", Value: "claude-haiku-4-5-20251001"},
}

var permissionChoices = []gateway.CommandChoice{
	{Name: "Default (prompt for approval)", Value: string(project.PermissionDefault)},
	{Name: "Accept edits automatically", Value: string(project.PermissionAcceptEdits)},
	{Name: "Bypass all permissions", Value: string(project.PermissionBypass)},
	{Name: "Plan only, no execution", Value: string(project.PermissionPlan)},
}

// Declarations returns the slash commands to register with the gateway.
func Declarations() []gateway.Command {
	return []gateway.Command{
		{Name: "new", Description: "Start a fresh session", Options: []gateway.CommandOption{
			{Name: "save-as", Description: "Save the current session under this label first"},
		}},
		{Name: "resume", Description: "List saved sessions, or restore one by label", Options: []gateway.CommandOption{
			{Name: "label", Description: "Label of the saved session to restore"},
		}},
		{Name: "status", Description: "Show what this channel is doing"},
		{Name: "cost", Description: "Show the last query's cost and usage"},
		{Name: "config", Description: "Show the effective configuration for this channel"},
		{Name: "projects", Description: "List registered projects"},
		{Name: "rescan", Description: "Rescan the projects directory"},
		{Name: "model", Description: "Override the model for this channel", Options: []gateway.CommandOption{
			{Name: "name", Description: "Model to use", Required: true, Choices: modelChoices},
		}},
		{Name: "permission-mode", Description: "Override the permission mode for this channel", Options: []gateway.CommandOption{
			{Name: "mode", Description: "Permission mode", Required: true, Choices: permissionChoices},
		}},
		{Name: "abort", Description: "Interrupt the running query"},
		{Name: "help", Description: "Show available commands"},
	}
}

// Handle executes one slash command and replies via the interaction.
func (r *Router) Handle(ctx context.Context, ev gateway.CommandEvent) {
	var reply string
	switch ev.Name {
	case "new":
		reply = r.handleNew(ev)
	case "resume":
		reply = r.handleResume(ev)
	case "status":
		reply = r.handleStatus(ev)
	case "cost":
		reply = r.handleCost(ev)
	case "config":
		reply = r.handleConfig(ev)
	case "projects":
		reply = r.handleProjects()
	case "rescan":
		reply = r.handleRescan()
	case "model":
		reply = r.handleModel(ev)
	case "permission-mode":
		reply = r.handlePermissionMode(ev)
	case "abort":
		reply = r.handleAbort(ev)
	case "help":
		reply = helpText()
	default:
		reply = fmt.Sprintf("Unknown command: /%s", ev.Name)
	}

	if err := r.gw.RespondCommand(ctx, ev.ID, reply); err != nil {
		log.Printf("command: respond to /%s: %v", ev.Name, err)
	}
}

// Passthrough handles a plain message beginning with "/". Returns true
// when the message was consumed. Backend-native commands discovered at
// session init are forwarded verbatim as prompts.
func (r *Router) Passthrough(ctx context.Context, ev gateway.MessageEvent) bool {
	if !strings.HasPrefix(ev.Text, "/") {
		return false
	}
	name := strings.TrimPrefix(strings.Fields(ev.Text)[0], "/")
	if name == "" {
		return false
	}

	if r.orch.Capabilities().SupportsCommand(ev.ChannelID, name) {
		r.orch.Submit(ctx, orchestrator.Work{
			ChannelID: ev.ChannelID,
			MessageID: ev.MessageID,
			Prompt:    ev.Text,
		})
		return true
	}

	if _, err := r.gw.SendMessage(ctx, ev.ChannelID, fmt.Sprintf("Unknown command: /%s", name)); err != nil {
		log.Printf("command: unknown-command notice: %v", err)
	}
	return true
}

func (r *Router) handleNew(ev gateway.CommandEvent) string {
	var note string
	if label := ev.Options["save-as"]; label != "" {
		saved, err := r.store.Save(ev.ChannelID, label)
		if err != nil {
			return fmt.Sprintf("Could not save the session: %v", err)
		}
		if !saved {
			return "No active session to save."
		}
		note = fmt.Sprintf("Saved current session as `%s`. ", label)
	}
	if err := r.store.Clear(ev.ChannelID); err != nil {
		return fmt.Sprintf("Could not clear the session: %v", err)
	}
	return note + "Started a fresh session."
}

func (r *Router) handleResume(ev gateway.CommandEvent) string {
	label := ev.Options["label"]
	if label == "" {
		saved, err := r.store.ListSaved(ev.ChannelID)
		if err != nil {
			return fmt.Sprintf("Could not list saved sessions: %v", err)
		}
		if len(saved) == 0 {
			return "No saved sessions for this channel."
		}
		var b strings.Builder
		b.WriteString("Saved sessions:\n")
		for _, s := range saved {
			fmt.Fprintf(&b, "- `%s` (%s, saved %s)\n", s.Label, s.ProjectName, s.SavedAt.Format("2006-01-02 15:04"))
		}
		b.WriteString("Use `/resume label:<name>` to restore one.")
		return b.String()
	}

	restored, err := r.store.Restore(ev.ChannelID, label)
	if err != nil {
		return fmt.Sprintf("Could not restore: %v", err)
	}
	if !restored {
		return fmt.Sprintf("No saved session named `%s`.", label)
	}
	return fmt.Sprintf("Restored session `%s`. The label has been consumed.", label)
}

func (r *Router) handleStatus(ev gateway.CommandEvent) string {
	var b strings.Builder
	if r.orch.Busy(ev.ChannelID) {
		fmt.Fprintf(&b, "Working on a query (%d queued).", r.orch.QueueLen(ev.ChannelID))
	} else {
		b.WriteString("Idle.")
	}
	if sid := r.store.Get(ev.ChannelID); sid != "" {
		fmt.Fprintf(&b, " Active session: `%s`.", sid)
	} else {
		b.WriteString(" No active session.")
	}
	return b.String()
}

func (r *Router) handleCost(ev gateway.CommandEvent) string {
	res, ok := r.orch.LastCost(ev.ChannelID)
	if !ok {
		return "No completed query in this channel yet."
	}
	return format.CostFooter(res.CostUSD, res.DurationMs, res.NumTurns, res.ContextUsed, res.ContextWindow)
}

func (r *Router) handleConfig(ev gateway.CommandEvent) string {
	eff := r.orch.EffectiveConfig(ev.ChannelID)
	if eff == nil {
		return "No project is bound to this channel."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** (`%s`)\n", eff.Project.Name, eff.Project.Path)
	model := eff.Model
	if model == "" {
		model = "(backend default)"
	}
	fmt.Fprintf(&b, "- Model: %s\n", model)
	fmt.Fprintf(&b, "- Permission mode: %s\n", eff.PermissionMode)
	if eff.Project.MaxBudgetUSD > 0 {
		fmt.Fprintf(&b, "- Budget ceiling: $%.2f\n", eff.Project.MaxBudgetUSD)
	}
	if len(eff.Project.AllowedTools) > 0 {
		fmt.Fprintf(&b, "- Allowed tools: %s\n", strings.Join(eff.Project.AllowedTools, ", "))
	}
	if len(eff.Project.DisallowedTools) > 0 {
		fmt.Fprintf(&b, "- Disallowed tools: %s\n", strings.Join(eff.Project.DisallowedTools, ", "))
	}
	return b.String()
}

func (r *Router) handleProjects() string {
	projects := r.registry.All()
	if len(projects) == 0 {
		return "No projects registered."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d project(s):\n", len(projects))
	for _, p := range projects {
		fmt.Fprintf(&b, "- **%s** → channel %s\n", p.Name, p.ChannelID)
	}
	return b.String()
}

func (r *Router) handleRescan() string {
	n, err := r.registry.Discover()
	if err != nil {
		return fmt.Sprintf("Rescan failed: %v", err)
	}
	return fmt.Sprintf("Rescan complete: %d project(s) registered.", n)
}

func (r *Router) handleModel(ev gateway.CommandEvent) string {
	name := ev.Options["name"]
	if name == "" || name == "default" {
		r.orch.SetModelOverride(ev.ChannelID, "")
		return "Model override cleared; using the project default."
	}
	r.orch.SetModelOverride(ev.ChannelID, name)
	return fmt.Sprintf("Model for this channel set to `%s` until restart.", name)
}

func (r *Router) handlePermissionMode(ev gateway.CommandEvent) string {
	mode := ev.Options["mode"]
	if !project.ValidPermissionMode(mode) {
		return fmt.Sprintf("Invalid permission mode: `%s`.", mode)
	}
	if mode == string(project.PermissionDefault) {
		r.orch.SetPermissionOverride(ev.ChannelID, "")
		return "Permission mode override cleared; using the project default."
	}
	r.orch.SetPermissionOverride(ev.ChannelID, mode)
	return fmt.Sprintf("Permission mode for this channel set to `%s` until restart.", mode)
}

func (r *Router) handleAbort(ev gateway.CommandEvent) string {
	if !r.orch.Abort(ev.ChannelID) {
		return "Nothing running in this channel."
	}
	return "Interrupt requested; the query will stop shortly."
}

func helpText() string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, c := range Declarations() {
		fmt.Fprintf(&b, "- `/%s` — %s\n", c.Name, c.Description)
	}
	b.WriteString("Anything else you type is sent to the agent as a prompt.")
	return b.String()
}
