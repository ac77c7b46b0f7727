// Package agent defines the conversational-agent backend boundary and a
// CLI-based implementation that speaks the stream-json protocol.
package agent

import (
	"context"
	"sync"
)

// Request describes one unit of work for the backend.
type Request struct {
	Prompt  string
	WorkDir string
	// SessionID, when set, resumes a prior conversation. The backend may
	// rotate identifiers; callers must store the ID from the Result.
	SessionID       string
	Model           string
	PermissionMode  string
	MaxBudgetUSD    float64 // 0 means no ceiling
	AllowedTools    []string
	DisallowedTools []string
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed      bool
	UpdatedInput map[string]interface{}
	Reason       string
}

// Allow permits the tool call, optionally with modified input.
func Allow(updatedInput map[string]interface{}) Decision {
	return Decision{Allowed: true, UpdatedInput: updatedInput}
}

// Deny rejects the tool call with a reason the agent can reason about.
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Capabilities describes what the backend reported at session start.
type Capabilities struct {
	Model         string
	SlashCommands []string
}

// Hooks are callbacks invoked during a streaming invocation. All fields
// are optional. Callbacks are invoked from the backend's reader
// goroutine and must not block for long, except CanUseTool which may
// block while the user decides.
type Hooks struct {
	// OnInit fires once when the backend announces the session.
	OnInit func(caps Capabilities)
	// OnStreamText fires for each incremental text delta.
	OnStreamText func(delta string)
	// OnToolActivity fires when the agent starts a tool call.
	OnToolActivity func(toolName string, input map[string]interface{})
	// CanUseTool mediates side-effecting tool calls. A nil hook denies.
	CanUseTool func(toolName string, input map[string]interface{}) Decision
}

// Result is the final outcome of an invocation.
type Result struct {
	Text          string
	SessionID     string
	CostUSD       float64
	DurationMs    int64
	NumTurns      int
	IsError       bool
	Errors        []string
	ContextUsed   int
	ContextWindow int
	Interrupted   bool
}

// Query is a handle to an in-flight invocation.
type Query interface {
	// Wait blocks until the invocation finishes and returns its result.
	// A non-nil error means the backend failed without producing a
	// result (e.g. the process died).
	Wait() (*Result, error)
	// Interrupt requests cooperative cancellation. The invocation still
	// completes through Wait, with Result.Interrupted set.
	Interrupt() error
}

// Backend starts agent invocations.
type Backend interface {
	Start(ctx context.Context, req Request, hooks Hooks) (Query, error)
}

// CapabilityCache remembers per-channel backend capabilities discovered
// from init events, used to pass through backend-native slash commands.
type CapabilityCache struct {
	mu       sync.RWMutex
	channels map[string]Capabilities
}

// NewCapabilityCache creates an empty cache.
func NewCapabilityCache() *CapabilityCache {
	return &CapabilityCache{channels: make(map[string]Capabilities)}
}

// Update records the capabilities last reported for a channel.
func (c *CapabilityCache) Update(channelID string, caps Capabilities) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channelID] = caps
}

// SupportsCommand reports whether the backend announced the named slash
// command for this channel.
func (c *CapabilityCache) SupportsCommand(channelID, name string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cmd := range c.channels[channelID].SlashCommands {
		if cmd == name {
			return true
		}
	}
	return false
}

// Model returns the model last reported for a channel, or "".
func (c *CapabilityCache) Model(channelID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels[channelID].Model
}
