package agent

import (
	"encoding/json"
	"fmt"
)

// Event is one parsed line of the backend's stream-json output. Exactly
// one of the concrete types below.
type Event interface {
	isEvent()
}

// InitEvent announces the session at invocation start.
type InitEvent struct {
	SessionID     string
	Model         string
	SlashCommands []string
}

func (InitEvent) isEvent() {}

// TextDeltaEvent carries an incremental piece of assistant text.
type TextDeltaEvent struct {
	Text string
}

func (TextDeltaEvent) isEvent() {}

// ToolUseEvent signals the agent starting a tool call.
type ToolUseEvent struct {
	Name  string
	Input map[string]interface{}
}

func (ToolUseEvent) isEvent() {}

// ResultEvent is the invocation's terminal event.
type ResultEvent struct {
	Text          string
	SessionID     string
	CostUSD       float64
	DurationMs    int64
	NumTurns      int
	IsError       bool
	Errors        []string
	ContextUsed   int
	ContextWindow int
}

func (ResultEvent) isEvent() {}

// ControlRequestEvent is a backend-initiated request requiring a
// control_response on stdin, e.g. a permission check.
type ControlRequestEvent struct {
	RequestID string
	Subtype   string
	ToolName  string
	Input     map[string]interface{}
}

func (ControlRequestEvent) isEvent() {}

// ControlResponseEvent acknowledges a control_request we sent.
type ControlResponseEvent struct {
	RequestID string
}

func (ControlResponseEvent) isEvent() {}

// defaultContextWindow is assumed when the backend does not report one.
const defaultContextWindow = 200000

// Wire shapes for the stream-json protocol. Only the fields we consume
// are declared; unknown fields are ignored.

type wireEnvelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

type wireInit struct {
	SessionID     string   `json:"session_id"`
	Model         string   `json:"model"`
	SlashCommands []string `json:"slash_commands"`
}

type wireStreamEvent struct {
	Event struct {
		Type  string `json:"type"`
		Delta struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"delta"`
	} `json:"event"`
}

type wireAssistant struct {
	Message struct {
		Content []struct {
			Type  string                 `json:"type"`
			Name  string                 `json:"name"`
			Input map[string]interface{} `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

type wireResult struct {
	Result     string   `json:"result"`
	SessionID  string   `json:"session_id"`
	CostUSD    float64  `json:"total_cost_usd"`
	DurationMs int64    `json:"duration_ms"`
	NumTurns   int      `json:"num_turns"`
	IsError    bool     `json:"is_error"`
	Errors     []string `json:"errors"`
	Usage      struct {
		InputTokens              int `json:"input_tokens"`
		OutputTokens             int `json:"output_tokens"`
		CacheReadInputTokens     int `json:"cache_read_input_tokens"`
		CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
	} `json:"usage"`
	ModelUsage map[string]struct {
		ContextWindow int `json:"contextWindow"`
	} `json:"modelUsage"`
}

type wireControlRequest struct {
	RequestID string `json:"request_id"`
	Request   struct {
		Subtype  string                 `json:"subtype"`
		ToolName string                 `json:"tool_name"`
		Input    map[string]interface{} `json:"input"`
	} `json:"request"`
}

type wireControlResponse struct {
	Response struct {
		RequestID string `json:"request_id"`
	} `json:"response"`
}

// ParseEvent decodes one stream-json line. Lines of unknown or
// irrelevant type return (nil, nil) and should be skipped.
func ParseEvent(line []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("agent: parse event: %w", err)
	}

	switch env.Type {
	case "system":
		if env.Subtype != "init" {
			return nil, nil
		}
		var w wireInit
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("agent: parse init: %w", err)
		}
		return InitEvent{SessionID: w.SessionID, Model: w.Model, SlashCommands: w.SlashCommands}, nil

	case "stream_event":
		var w wireStreamEvent
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("agent: parse stream event: %w", err)
		}
		if w.Event.Type == "content_block_delta" && w.Event.Delta.Type == "text_delta" {
			return TextDeltaEvent{Text: w.Event.Delta.Text}, nil
		}
		return nil, nil

	case "assistant":
		var w wireAssistant
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("agent: parse assistant: %w", err)
		}
		for _, block := range w.Message.Content {
			if block.Type == "tool_use" {
				return ToolUseEvent{Name: block.Name, Input: block.Input}, nil
			}
		}
		return nil, nil

	case "result":
		var w wireResult
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("agent: parse result: %w", err)
		}
		ev := ResultEvent{
			Text:       w.Result,
			SessionID:  w.SessionID,
			CostUSD:    w.CostUSD,
			DurationMs: w.DurationMs,
			NumTurns:   w.NumTurns,
			IsError:    w.IsError,
			Errors:     w.Errors,
		}
		ev.ContextUsed = w.Usage.InputTokens + w.Usage.OutputTokens +
			w.Usage.CacheReadInputTokens + w.Usage.CacheCreationInputTokens
		ev.ContextWindow = defaultContextWindow
		for _, mu := range w.ModelUsage {
			if mu.ContextWindow > 0 {
				ev.ContextWindow = mu.ContextWindow
				break
			}
		}
		return ev, nil

	case "control_request":
		var w wireControlRequest
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("agent: parse control request: %w", err)
		}
		return ControlRequestEvent{
			RequestID: w.RequestID,
			Subtype:   w.Request.Subtype,
			ToolName:  w.Request.ToolName,
			Input:     w.Request.Input,
		}, nil

	case "control_response":
		var w wireControlResponse
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("agent: parse control response: %w", err)
		}
		return ControlResponseEvent{RequestID: w.Response.RequestID}, nil
	}

	return nil, nil
}
