package agent

import (
	"reflect"
	"testing"
)

func TestParseEvent_Init(t *testing.T) {
	line := `{"type":"system","subtype":"init","session_id":"s1","model":"claude-sonnet-4-5","slash_commands":["compact","review"]}`
	ev, err := ParseEvent([]byte(line))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	init, ok := ev.(InitEvent)
	if !ok {
		t.Fatalf("event type = %T, want InitEvent", ev)
	}
	if init.SessionID != "s1" || init.Model != "claude-sonnet-4-5" {
		t.Errorf("init = %+v", init)
	}
	if !reflect.DeepEqual(init.SlashCommands, []string{"compact", "review"}) {
		t.Errorf("slash commands = %v", init.SlashCommands)
	}
}

func TestParseEvent_TextDelta(t *testing.T) {
	line := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"text_delta","text":"hel"}}}`
	ev, err := ParseEvent([]byte(line))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	delta, ok := ev.(TextDeltaEvent)
	if !ok {
		t.Fatalf("event type = %T, want TextDeltaEvent", ev)
	}
	if delta.Text != "hel" {
		t.Errorf("text = %q", delta.Text)
	}
}

func TestParseEvent_NonTextDeltaSkipped(t *testing.T) {
	line := `{"type":"stream_event","event":{"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}}`
	ev, err := ParseEvent([]byte(line))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev != nil {
		t.Errorf("event = %v, want nil", ev)
	}
}

func TestParseEvent_ToolUse(t *testing.T) {
	line := `{"type":"assistant","message":{"content":[{"type":"text","text":"running"},{"type":"tool_use","name":"Bash","input":{"command":"ls"}}]}}`
	ev, err := ParseEvent([]byte(line))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	tool, ok := ev.(ToolUseEvent)
	if !ok {
		t.Fatalf("event type = %T, want ToolUseEvent", ev)
	}
	if tool.Name != "Bash" || tool.Input["command"] != "ls" {
		t.Errorf("tool = %+v", tool)
	}
}

func TestParseEvent_Result(t *testing.T) {
	line := `{"type":"result","subtype":"success","result":"done","session_id":"s2","total_cost_usd":0.034,"duration_ms":4200,"num_turns":3,"is_error":false,"usage":{"input_tokens":100,"output_tokens":50,"cache_read_input_tokens":40000,"cache_creation_input_tokens":500},"modelUsage":{"claude-sonnet-4-5":{"contextWindow":200000}}}`
	ev, err := ParseEvent([]byte(line))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	res, ok := ev.(ResultEvent)
	if !ok {
		t.Fatalf("event type = %T, want ResultEvent", ev)
	}
	if res.Text != "done" || res.SessionID != "s2" {
		t.Errorf("result = %+v", res)
	}
	if res.CostUSD != 0.034 || res.DurationMs != 4200 || res.NumTurns != 3 {
		t.Errorf("metrics = %+v", res)
	}
	if res.ContextUsed != 40650 {
		t.Errorf("context used = %d, want 40650", res.ContextUsed)
	}
	if res.ContextWindow != 200000 {
		t.Errorf("context window = %d", res.ContextWindow)
	}
}

func TestParseEvent_ResultDefaultContextWindow(t *testing.T) {
	line := `{"type":"result","result":"x","session_id":"s"}`
	ev, err := ParseEvent([]byte(line))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	res := ev.(ResultEvent)
	if res.ContextWindow != defaultContextWindow {
		t.Errorf("context window = %d, want default", res.ContextWindow)
	}
}

func TestParseEvent_ControlRequest(t *testing.T) {
	line := `{"type":"control_request","request_id":"r1","request":{"subtype":"can_use_tool","tool_name":"Write","input":{"file_path":"/tmp/x"}}}`
	ev, err := ParseEvent([]byte(line))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	req, ok := ev.(ControlRequestEvent)
	if !ok {
		t.Fatalf("event type = %T, want ControlRequestEvent", ev)
	}
	if req.RequestID != "r1" || req.Subtype != "can_use_tool" || req.ToolName != "Write" {
		t.Errorf("request = %+v", req)
	}
}

func TestParseEvent_UnknownTypeSkipped(t *testing.T) {
	ev, err := ParseEvent([]byte(`{"type":"user"}`))
	if err != nil {
		t.Fatalf("ParseEvent: %v", err)
	}
	if ev != nil {
		t.Errorf("event = %v, want nil", ev)
	}
}

func TestParseEvent_MalformedJSON(t *testing.T) {
	if _, err := ParseEvent([]byte(`{nope`)); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestCapabilityCache(t *testing.T) {
	c := NewCapabilityCache()
	if c.SupportsCommand("chan", "compact") {
		t.Error("empty cache should not report support")
	}

	c.Update("chan", Capabilities{Model: "claude-sonnet-4-5", SlashCommands: []string{"compact", "review"}})
	if !c.SupportsCommand("chan", "compact") {
		t.Error("compact should be supported")
	}
	if c.SupportsCommand("chan", "deploy") {
		t.Error("deploy should not be supported")
	}
	if c.SupportsCommand("other", "compact") {
		t.Error("capabilities are per channel")
	}
	if got := c.Model("chan"); got != "claude-sonnet-4-5" {
		t.Errorf("model = %q", got)
	}
}
