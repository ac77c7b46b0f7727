// Package orchestrator serializes agent queries per channel: one
// in-flight invocation, a FIFO queue behind it, cooperative abort, and
// throttled streaming of partial output back to the gateway.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/trestle/internal/agent"
	"github.com/zulandar/trestle/internal/approval"
	"github.com/zulandar/trestle/internal/format"
	"github.com/zulandar/trestle/internal/gateway"
	"github.com/zulandar/trestle/internal/project"
	"github.com/zulandar/trestle/internal/session"
)

const (
	// placeholder is shown while the agent works on a query.
	placeholder = "-# ⏳"
	// progressPrefix marks the continuously edited tool-activity line.
	progressPrefix = "-# ⏵ "
	// queuedEmoji acknowledges a message that had to wait in line.
	queuedEmoji = "🕐"

	defaultEditThrottle   = time.Second
	defaultTypingInterval = 8 * time.Second
	// defaultQueueCap is a soft bound on per-channel queue growth.
	defaultQueueCap = 25
)

// sessionExpiredMsg replaces raw backend errors when the stored session
// turned out to be unusable.
const sessionExpiredMsg = "Session expired or corrupted. Starting fresh — please resend your message."

// Work is one unit of user-submitted work for a channel.
type Work struct {
	ChannelID string
	// MessageID is the triggering message, used for backpressure
	// acknowledgement when the work has to queue.
	MessageID string
	Prompt    string
	// Attachments are local file paths already downloaded from the
	// gateway; they are surfaced to the agent inside the prompt.
	Attachments []string
}

// Effective is the configuration a dispatch actually runs with, after
// runtime overrides are applied on top of the project defaults.
type Effective struct {
	Project        *project.Config
	Model          string
	PermissionMode string
}

// invocation tracks one outstanding agent call.
type invocation struct {
	cancel context.CancelFunc

	mu    sync.Mutex
	query agent.Query
}

// interrupt requests cooperative cancellation, falling back to context
// cancellation when the backend query has not started yet.
func (inv *invocation) interrupt() {
	inv.mu.Lock()
	q := inv.query
	inv.mu.Unlock()
	if q != nil {
		if err := q.Interrupt(); err != nil {
			log.Printf("orchestrator: interrupt: %v", err)
		}
		return
	}
	inv.cancel()
}

// Orchestrator is the per-channel query state machine.
type Orchestrator struct {
	gw       gateway.Gateway
	backend  agent.Backend
	store    *session.Store
	registry *project.Registry
	mediator *approval.Mediator
	caps     *agent.CapabilityCache

	editThrottle   time.Duration
	typingInterval time.Duration
	queueCap       int

	mu            sync.Mutex
	active        map[string]*invocation
	queues        map[string][]Work
	lastCosts     map[string]*agent.Result
	modelOverride map[string]string
	permOverride  map[string]string
}

// Opts holds parameters for creating an Orchestrator.
type Opts struct {
	Gateway  gateway.Gateway
	Backend  agent.Backend
	Store    *session.Store
	Registry *project.Registry
	Mediator *approval.Mediator
	Caps     *agent.CapabilityCache

	// EditThrottle, TypingInterval and QueueCap override the defaults,
	// mainly for tests.
	EditThrottle   time.Duration
	TypingInterval time.Duration
	QueueCap       int
}

// New creates an Orchestrator.
func New(opts Opts) (*Orchestrator, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("orchestrator: gateway is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("orchestrator: backend is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("orchestrator: session store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("orchestrator: project registry is required")
	}
	if opts.Mediator == nil {
		return nil, fmt.Errorf("orchestrator: approval mediator is required")
	}

	o := &Orchestrator{
		gw:             opts.Gateway,
		backend:        opts.Backend,
		store:          opts.Store,
		registry:       opts.Registry,
		mediator:       opts.Mediator,
		caps:           opts.Caps,
		editThrottle:   opts.EditThrottle,
		typingInterval: opts.TypingInterval,
		queueCap:       opts.QueueCap,
		active:         make(map[string]*invocation),
		queues:         make(map[string][]Work),
		lastCosts:      make(map[string]*agent.Result),
		modelOverride:  make(map[string]string),
		permOverride:   make(map[string]string),
	}
	if o.caps == nil {
		o.caps = agent.NewCapabilityCache()
	}
	if o.editThrottle == 0 {
		o.editThrottle = defaultEditThrottle
	}
	if o.typingInterval == 0 {
		o.typingInterval = defaultTypingInterval
	}
	if o.queueCap == 0 {
		o.queueCap = defaultQueueCap
	}
	return o, nil
}

// Submit dispatches work immediately when the channel is idle,
// otherwise appends it to the channel's queue. Queued work is
// acknowledged with a reaction so the user knows it was accepted.
func (o *Orchestrator) Submit(ctx context.Context, work Work) {
	o.mu.Lock()
	if _, busy := o.active[work.ChannelID]; busy {
		if len(o.queues[work.ChannelID]) >= o.queueCap {
			o.mu.Unlock()
			o.try("queue full notice", o.sendf(ctx, work.ChannelID,
				"Queue is full (%d pending). Try again after the current work drains.", o.queueCap))
			return
		}
		o.queues[work.ChannelID] = append(o.queues[work.ChannelID], work)
		o.mu.Unlock()
		if work.MessageID != "" {
			o.try("queued reaction", o.gw.React(ctx, work.ChannelID, work.MessageID, queuedEmoji))
		}
		return
	}

	invCtx, cancel := context.WithCancel(ctx)
	inv := &invocation{cancel: cancel}
	o.active[work.ChannelID] = inv
	o.mu.Unlock()

	go o.run(invCtx, inv, work)
}

// Abort interrupts the channel's active invocation. Returns false when
// nothing is running.
func (o *Orchestrator) Abort(channelID string) bool {
	o.mu.Lock()
	inv := o.active[channelID]
	o.mu.Unlock()
	if inv == nil {
		return false
	}
	inv.interrupt()
	return true
}

// Busy reports whether the channel has an active invocation.
func (o *Orchestrator) Busy(channelID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active[channelID] != nil
}

// QueueLen returns the number of queued (not yet dispatched) items.
func (o *Orchestrator) QueueLen(channelID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queues[channelID])
}

// LastCost returns the metrics of the channel's most recent completed
// query, if any.
func (o *Orchestrator) LastCost(channelID string) (*agent.Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	res, ok := o.lastCosts[channelID]
	return res, ok
}

// SetModelOverride sets a runtime model override for the channel. An
// empty model clears the override. Overrides are not persisted.
func (o *Orchestrator) SetModelOverride(channelID, model string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if model == "" {
		delete(o.modelOverride, channelID)
		return
	}
	o.modelOverride[channelID] = model
}

// SetPermissionOverride sets a runtime permission-mode override for the
// channel. An empty mode clears the override.
func (o *Orchestrator) SetPermissionOverride(channelID, mode string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if mode == "" {
		delete(o.permOverride, channelID)
		return
	}
	o.permOverride[channelID] = mode
}

// EffectiveConfig resolves the configuration a dispatch for this
// channel would run with right now. Returns nil when no project is
// bound to the channel.
func (o *Orchestrator) EffectiveConfig(channelID string) *Effective {
	cfg := o.registry.ByChannel(channelID)
	if cfg == nil {
		return nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	eff := &Effective{
		Project:        cfg,
		Model:          cfg.Model,
		PermissionMode: string(cfg.PermissionMode),
	}
	if m, ok := o.modelOverride[channelID]; ok {
		eff.Model = m
	}
	if p, ok := o.permOverride[channelID]; ok {
		eff.PermissionMode = p
	}
	return eff
}

// Capabilities exposes the backend capability cache for command routing.
func (o *Orchestrator) Capabilities() *agent.CapabilityCache {
	return o.caps
}

// run executes one invocation and then drains the channel's queue.
// Effective configuration is resolved here, at dispatch time, so
// overrides changed while work was queued apply to it.
func (o *Orchestrator) run(ctx context.Context, inv *invocation, work Work) {
	defer inv.cancel()
	channelID := work.ChannelID

	eff := o.EffectiveConfig(channelID)
	if eff == nil {
		o.try("unbound channel notice", o.sendf(ctx, channelID,
			"No project is bound to this channel."))
		o.finish(ctx, channelID)
		return
	}

	msgID, err := o.gw.SendMessage(ctx, channelID, placeholder)
	if err != nil {
		log.Printf("orchestrator: placeholder for %s: %v", channelID, err)
		o.finish(ctx, channelID)
		return
	}

	st := newStreamer(o.gw, channelID, msgID, o.editThrottle, o.typingInterval)
	st.start(ctx)

	resumeSession := o.store.Get(channelID)
	req := agent.Request{
		Prompt:          buildPrompt(work),
		WorkDir:         eff.Project.Path,
		SessionID:       resumeSession,
		Model:           eff.Model,
		PermissionMode:  eff.PermissionMode,
		MaxBudgetUSD:    eff.Project.MaxBudgetUSD,
		AllowedTools:    eff.Project.AllowedTools,
		DisallowedTools: eff.Project.DisallowedTools,
	}
	hooks := agent.Hooks{
		OnInit: func(caps agent.Capabilities) {
			o.caps.Update(channelID, caps)
		},
		OnStreamText: st.append,
		OnToolActivity: func(name string, input map[string]interface{}) {
			st.toolActivity(ctx, toolLabel(name, input))
		},
		CanUseTool: func(name string, input map[string]interface{}) agent.Decision {
			return o.mediator.Request(ctx, channelID, name, input)
		},
	}

	query, err := o.backend.Start(ctx, req, hooks)
	if err != nil {
		st.stop()
		o.try("start failure notice", o.gw.EditMessage(ctx, channelID, msgID,
			fmt.Sprintf("Failed to start agent: %v", err)))
		o.finish(ctx, channelID)
		return
	}
	inv.mu.Lock()
	inv.query = query
	inv.mu.Unlock()

	result, err := query.Wait()
	st.stop()

	switch {
	case err != nil:
		o.reportFailure(ctx, channelID, msgID, resumeSession, err.Error())
	case result.Interrupted:
		o.try("abort notice", o.gw.EditMessage(ctx, channelID, msgID, "⏹ Query aborted."))
	case result.IsError:
		o.reportFailure(ctx, channelID, msgID, resumeSession, errorText(result))
	default:
		o.deliver(ctx, channelID, msgID, eff.Project.Name, result)
	}

	o.finish(ctx, channelID)
}

// deliver persists the session, records cost metrics, and sends the
// chunked final text with a usage footer on the last fragment.
func (o *Orchestrator) deliver(ctx context.Context, channelID, msgID, projectName string, result *agent.Result) {
	if result.SessionID != "" {
		if err := o.store.Set(channelID, result.SessionID, projectName); err != nil {
			log.Printf("orchestrator: persist session for %s: %v", channelID, err)
		}
	}
	o.mu.Lock()
	o.lastCosts[channelID] = result
	o.mu.Unlock()

	text := result.Text
	if strings.TrimSpace(text) == "" {
		text = "(no output)"
	}

	footer := format.CostFooter(result.CostUSD, result.DurationMs, result.NumTurns,
		result.ContextUsed, result.ContextWindow)
	fragments := format.Chunk(text, format.MaxMessageLength)
	fragments[len(fragments)-1] += "\n" + footer

	for i, frag := range fragments {
		if i == 0 {
			o.try("final edit", o.gw.EditMessage(ctx, channelID, msgID, frag))
			continue
		}
		if _, err := o.gw.SendMessage(ctx, channelID, frag); err != nil {
			log.Printf("orchestrator: send fragment %d for %s: %v", i+1, channelID, err)
		}
	}
}

// reportFailure classifies a failure per the session-error heuristic:
// if a resume was attempted and the error smells like a dead session,
// the stored session is cleared and the user is asked to resend instead
// of seeing the raw backend error.
func (o *Orchestrator) reportFailure(ctx context.Context, channelID, msgID, resumeSession, errMsg string) {
	if resumeSession != "" && isSessionError(errMsg) {
		if err := o.store.Clear(channelID); err != nil {
			log.Printf("orchestrator: clear session for %s: %v", channelID, err)
		}
		o.try("session expiry notice", o.gw.EditMessage(ctx, channelID, msgID, sessionExpiredMsg))
		return
	}
	o.try("error notice", o.gw.EditMessage(ctx, channelID, msgID,
		format.Truncate("❌ "+errMsg, format.MaxMessageLength)))
}

// finish releases the channel and dispatches the next queued item, if
// any, under a fresh invocation context.
func (o *Orchestrator) finish(ctx context.Context, channelID string) {
	o.mu.Lock()
	queue := o.queues[channelID]
	if len(queue) == 0 {
		delete(o.active, channelID)
		delete(o.queues, channelID)
		o.mu.Unlock()
		return
	}
	next := queue[0]
	o.queues[channelID] = queue[1:]

	invCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	inv := &invocation{cancel: cancel}
	o.active[channelID] = inv
	o.mu.Unlock()

	go o.run(invCtx, inv, next)
}

// try logs a failed non-critical side effect and moves on. A missing
// status update is not fatal to the invocation.
func (o *Orchestrator) try(op string, err error) {
	if err != nil {
		log.Printf("orchestrator: %s: %v", op, err)
	}
}

func (o *Orchestrator) sendf(ctx context.Context, channelID, f string, args ...interface{}) error {
	_, err := o.gw.SendMessage(ctx, channelID, fmt.Sprintf(f, args...))
	return err
}

// buildPrompt prefixes uploaded file paths so the agent can find them
// in the project workspace.
func buildPrompt(w Work) string {
	if len(w.Attachments) == 0 {
		return w.Prompt
	}
	var b strings.Builder
	b.WriteString("[User uploaded files:\n")
	for _, p := range w.Attachments {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	b.WriteString("]\n\n")
	if w.Prompt == "" {
		b.WriteString("Analyze the uploaded file(s).")
	} else {
		b.WriteString(w.Prompt)
	}
	return b.String()
}

// errorText flattens a backend error result into displayable text.
func errorText(result *agent.Result) string {
	if len(result.Errors) > 0 {
		return strings.Join(result.Errors, "\n")
	}
	if result.Text != "" {
		return result.Text
	}
	return "The agent reported an error with no details."
}

// isSessionError reports whether an error message looks like a dead or
// unusable session. String matching is fragile but the backend offers
// no structured error kind for this today.
func isSessionError(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range []string{"session", "resume", "not found", "expired", "exited with code"} {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// toolLabel renders one line of tool activity for the progress message.
func toolLabel(name string, input map[string]interface{}) string {
	switch name {
	case "Bash":
		if cmd, ok := input["command"].(string); ok && cmd != "" {
			return "Bash: " + format.Truncate(cmd, 100)
		}
	case "Write", "Edit", "Read":
		if path, ok := input["file_path"].(string); ok && path != "" {
			return name + ": " + path
		}
	case "Task":
		if desc, ok := input["description"].(string); ok && desc != "" {
			return "Task: " + format.Truncate(desc, 100)
		}
	}
	return name
}
