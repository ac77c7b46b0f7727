package command

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/trestle/internal/agent"
	"github.com/zulandar/trestle/internal/approval"
	"github.com/zulandar/trestle/internal/gateway"
	"github.com/zulandar/trestle/internal/models"
	"github.com/zulandar/trestle/internal/orchestrator"
	"github.com/zulandar/trestle/internal/project"
	"github.com/zulandar/trestle/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// idleBackend finishes every query immediately.
type idleBackend struct{}

type idleQuery struct{ result *agent.Result }

func (q idleQuery) Wait() (*agent.Result, error) { return q.result, nil }
func (q idleQuery) Interrupt() error             { return nil }

func (idleBackend) Start(ctx context.Context, req agent.Request, hooks agent.Hooks) (agent.Query, error) {
	return idleQuery{result: &agent.Result{SessionID: "s-idle", Text: "ok"}}, nil
}

type fixture struct {
	router *Router
	gw     *gateway.Mock
	orch   *orchestrator.Orchestrator
	store  *session.Store
	reg    *project.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := gdb.AutoMigrate(&models.Session{}, &models.SavedSession{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store, _ := session.NewStore(gdb)

	root := t.TempDir()
	dir := filepath.Join(root, "demo")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, "discord.json"),
		[]byte(`{"channelId":"100","model":"claude-sonnet-4-5","maxBudgetUsd":5}`), 0o644)
	reg, _ := project.NewRegistry(root)
	reg.Discover()

	gw := gateway.NewMock()
	mediator, _ := approval.New(approval.Opts{Gateway: gw})
	orch, err := orchestrator.New(orchestrator.Opts{
		Gateway:        gw,
		Backend:        idleBackend{},
		Store:          store,
		Registry:       reg,
		Mediator:       mediator,
		EditThrottle:   5 * time.Millisecond,
		TypingInterval: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}

	router, err := New(Opts{Gateway: gw, Orchestrator: orch, Store: store, Registry: reg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{router: router, gw: gw, orch: orch, store: store, reg: reg}
}

func (f *fixture) run(t *testing.T, name string, options map[string]string) string {
	t.Helper()
	ev := gateway.CommandEvent{ID: "ev-" + name, ChannelID: "100", Name: name, Options: options}
	f.router.Handle(context.Background(), ev)
	return f.gw.Response(ev.ID)
}

func TestDeclarations_CoverCommandSurface(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range Declarations() {
		names[c.Name] = true
	}
	for _, want := range []string{"new", "resume", "status", "cost", "config",
		"projects", "rescan", "model", "permission-mode", "abort", "help"} {
		if !names[want] {
			t.Errorf("missing command %q", want)
		}
	}
}

func TestHandleNew_ClearsSession(t *testing.T) {
	f := newFixture(t)
	f.store.Set("100", "s1", "demo")

	reply := f.run(t, "new", nil)
	if !strings.Contains(reply, "fresh session") {
		t.Errorf("reply = %q", reply)
	}
	if f.store.Get("100") != "" {
		t.Error("session should be cleared")
	}
}

func TestHandleNew_SaveAsFirst(t *testing.T) {
	f := newFixture(t)
	f.store.Set("100", "s1", "demo")

	reply := f.run(t, "new", map[string]string{"save-as": "checkpoint"})
	if !strings.Contains(reply, "checkpoint") {
		t.Errorf("reply = %q", reply)
	}
	saved, _ := f.store.ListSaved("100")
	if len(saved) != 1 || saved[0].Label != "checkpoint" {
		t.Errorf("saved = %+v", saved)
	}
	if f.store.Get("100") != "" {
		t.Error("active session should be cleared after save")
	}
}

func TestHandleNew_SaveAsWithoutSession(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "new", map[string]string{"save-as": "x"})
	if reply != "No active session to save." {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleResume_ListAndRestore(t *testing.T) {
	f := newFixture(t)
	f.store.Set("100", "s1", "demo")
	f.store.Save("100", "before-refactor")
	f.store.Clear("100")

	list := f.run(t, "resume", nil)
	if !strings.Contains(list, "before-refactor") {
		t.Errorf("list = %q", list)
	}

	reply := f.run(t, "resume", map[string]string{"label": "before-refactor"})
	if !strings.Contains(reply, "Restored") {
		t.Errorf("reply = %q", reply)
	}
	if f.store.Get("100") != "s1" {
		t.Error("session should be restored")
	}

	again := f.run(t, "resume", map[string]string{"label": "before-refactor"})
	if !strings.Contains(again, "No saved session") {
		t.Errorf("restore should be one-shot, got %q", again)
	}
}

func TestHandleStatus(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "status", nil)
	if !strings.Contains(reply, "Idle") || !strings.Contains(reply, "No active session") {
		t.Errorf("reply = %q", reply)
	}

	f.store.Set("100", "s9", "demo")
	reply = f.run(t, "status", nil)
	if !strings.Contains(reply, "s9") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleCost(t *testing.T) {
	f := newFixture(t)
	if reply := f.run(t, "cost", nil); !strings.Contains(reply, "No completed query") {
		t.Errorf("reply = %q", reply)
	}

	// Run one query so a cost is recorded.
	f.orch.Submit(context.Background(), orchestrator.Work{ChannelID: "100", Prompt: "hi"})
	deadline := time.Now().Add(2 * time.Second)
	for f.orch.Busy("100") && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	reply := f.run(t, "cost", nil)
	if !strings.Contains(reply, "<$0.01") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleConfig(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "config", nil)
	for _, want := range []string{"demo", "claude-sonnet-4-5", "default", "$5.00"} {
		if !strings.Contains(reply, want) {
			t.Errorf("reply missing %q: %q", want, reply)
		}
	}
}

func TestHandleProjectsAndRescan(t *testing.T) {
	f := newFixture(t)
	if reply := f.run(t, "projects", nil); !strings.Contains(reply, "demo") {
		t.Errorf("reply = %q", reply)
	}
	if reply := f.run(t, "rescan", nil); !strings.Contains(reply, "1 project(s)") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleModel(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "model", map[string]string{"name": "claude-opus-4-6"})
	if !strings.Contains(reply, "claude-opus-4-6") {
		t.Errorf("reply = %q", reply)
	}
	if f.orch.EffectiveConfig("100").Model != "claude-opus-4-6" {
		t.Error("override not applied")
	}

	reply = f.run(t, "model", map[string]string{"name": "default"})
	if !strings.Contains(reply, "cleared") {
		t.Errorf("reply = %q", reply)
	}
	if f.orch.EffectiveConfig("100").Model != "claude-sonnet-4-5" {
		t.Error("override not cleared")
	}
}

func TestHandlePermissionMode(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "permission-mode", map[string]string{"mode": "acceptEdits"})
	if !strings.Contains(reply, "acceptEdits") {
		t.Errorf("reply = %q", reply)
	}
	if f.orch.EffectiveConfig("100").PermissionMode != "acceptEdits" {
		t.Error("override not applied")
	}

	if reply := f.run(t, "permission-mode", map[string]string{"mode": "yolo"}); !strings.Contains(reply, "Invalid") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleAbort_Idle(t *testing.T) {
	f := newFixture(t)
	if reply := f.run(t, "abort", nil); reply != "Nothing running in this channel." {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleHelp(t *testing.T) {
	f := newFixture(t)
	reply := f.run(t, "help", nil)
	if !strings.Contains(reply, "/resume") || !strings.Contains(reply, "/abort") {
		t.Errorf("reply = %q", reply)
	}
}

func TestHandleUnknown(t *testing.T) {
	f := newFixture(t)
	if reply := f.run(t, "bogus", nil); !strings.Contains(reply, "Unknown command") {
		t.Errorf("reply = %q", reply)
	}
}

func TestPassthrough(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// Not a command at all.
	if f.router.Passthrough(ctx, gateway.MessageEvent{ChannelID: "100", Text: "plain text"}) {
		t.Error("plain text should not be consumed")
	}

	// Unknown native command reports rather than dispatching.
	if !f.router.Passthrough(ctx, gateway.MessageEvent{ChannelID: "100", Text: "/deploy now"}) {
		t.Error("slash message should be consumed")
	}
	found := false
	for _, m := range f.gw.Messages() {
		if strings.Contains(m.Text, "Unknown command: /deploy") {
			found = true
		}
	}
	if !found {
		t.Error("expected unknown-command notice")
	}

	// Discovered backend-native command goes through as a prompt.
	f.orch.Capabilities().Update("100", agent.Capabilities{SlashCommands: []string{"compact"}})
	if !f.router.Passthrough(ctx, gateway.MessageEvent{ChannelID: "100", Text: "/compact"}) {
		t.Error("native command should be consumed")
	}
	deadline := time.Now().Add(2 * time.Second)
	for f.orch.Busy("100") && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if _, ok := f.orch.LastCost("100"); !ok {
		t.Error("native command should have dispatched a query")
	}
}
