package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// writeStub writes an executable shell script standing in for the
// claude binary. Scripts read the prompt line first, then play their
// scripted stdout.
func writeStub(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claude-stub")
	content := "#!/bin/sh\n" + script
	if err := os.WriteFile(path, []byte(content), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCLIBackend_StreamsAndResult(t *testing.T) {
	stub := writeStub(t, `
read prompt
echo '{"type":"system","subtype":"init","session_id":"s1","model":"claude-sonnet-4-5","slash_commands":["compact"]}'
echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}}'
echo '{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}}'
echo '{"type":"result","result":"hello","session_id":"s1","total_cost_usd":0.002,"duration_ms":500,"num_turns":1}'
`)

	var mu sync.Mutex
	var deltas []string
	var caps Capabilities

	b := &CLIBackend{Binary: stub}
	q, err := b.Start(context.Background(), Request{Prompt: "hi"}, Hooks{
		OnInit: func(c Capabilities) {
			mu.Lock()
			caps = c
			mu.Unlock()
		},
		OnStreamText: func(d string) {
			mu.Lock()
			deltas = append(deltas, d)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := q.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Text != "hello" || res.SessionID != "s1" {
		t.Errorf("result = %+v", res)
	}
	if res.CostUSD != 0.002 || res.NumTurns != 1 {
		t.Errorf("metrics = %+v", res)
	}
	if res.Interrupted {
		t.Error("result should not be interrupted")
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(deltas, "") != "hello" {
		t.Errorf("deltas = %v", deltas)
	}
	if caps.Model != "claude-sonnet-4-5" || len(caps.SlashCommands) != 1 {
		t.Errorf("capabilities = %+v", caps)
	}
}

func TestCLIBackend_PermissionRoundTrip(t *testing.T) {
	// The stub asks for permission, reads the control response, and
	// succeeds only when the response allows.
	stub := writeStub(t, `
read prompt
echo '{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"ls"}}}'
read response
case "$response" in
  *'"behavior":"allow"'*) echo '{"type":"result","result":"allowed","session_id":"s1"}' ;;
  *) echo '{"type":"result","result":"denied","session_id":"s1","is_error":true}' ;;
esac
`)

	var mu sync.Mutex
	var askedTool string

	b := &CLIBackend{Binary: stub}
	q, err := b.Start(context.Background(), Request{Prompt: "hi"}, Hooks{
		CanUseTool: func(name string, input map[string]interface{}) Decision {
			mu.Lock()
			askedTool = name
			mu.Unlock()
			return Allow(nil)
		},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	res, err := q.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Text != "allowed" {
		t.Errorf("result = %q, want allowed (stub saw: %+v)", res.Text, res)
	}
	mu.Lock()
	defer mu.Unlock()
	if askedTool != "Bash" {
		t.Errorf("asked tool = %q", askedTool)
	}
}

func TestCLIBackend_DenyByDefault(t *testing.T) {
	// No CanUseTool hook configured: the request must resolve to deny.
	stub := writeStub(t, `
read prompt
echo '{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{}}}'
read response
case "$response" in
  *'"behavior":"deny"'*) echo '{"type":"result","result":"denied","session_id":"s1"}' ;;
  *) echo '{"type":"result","result":"wrong","session_id":"s1"}' ;;
esac
`)

	b := &CLIBackend{Binary: stub}
	q, err := b.Start(context.Background(), Request{Prompt: "hi"}, Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	res, err := q.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if res.Text != "denied" {
		t.Errorf("result = %q, want denied", res.Text)
	}
}

func TestCLIBackend_Interrupt(t *testing.T) {
	// The stub exits when it receives the interrupt control request,
	// without emitting a result.
	stub := writeStub(t, `
read prompt
echo '{"type":"system","subtype":"init","session_id":"s1"}'
read interrupt
exit 0
`)

	b := &CLIBackend{Binary: stub}
	q, err := b.Start(context.Background(), Request{Prompt: "hi"}, Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the stub a moment to emit init before interrupting.
	time.Sleep(50 * time.Millisecond)
	if err := q.Interrupt(); err != nil {
		t.Fatalf("Interrupt: %v", err)
	}

	res, err := q.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !res.Interrupted {
		t.Error("result should be marked interrupted")
	}
	if res.SessionID != "s1" {
		t.Errorf("session = %q, want s1", res.SessionID)
	}
}

func TestCLIBackend_AbnormalExit(t *testing.T) {
	stub := writeStub(t, `
read prompt
exit 3
`)

	b := &CLIBackend{Binary: stub}
	q, err := b.Start(context.Background(), Request{Prompt: "hi"}, Hooks{})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, err = q.Wait()
	if err == nil {
		t.Fatal("expected error for abnormal exit")
	}
	if !strings.Contains(err.Error(), "exited with code 3") {
		t.Errorf("err = %v, want exit code mention", err)
	}
}

func TestCLIBackend_MissingBinary(t *testing.T) {
	b := &CLIBackend{Binary: filepath.Join(t.TempDir(), "no-such-binary")}
	if _, err := b.Start(context.Background(), Request{Prompt: "hi"}, Hooks{}); err == nil {
		t.Fatal("expected error for missing binary")
	}
}
