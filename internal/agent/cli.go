package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// CLIBackend implements Backend by launching claude CLI subprocesses in
// stream-json mode. Each invocation is one process: the prompt goes in
// on stdin, events come back on stdout, and permission checks round-trip
// as control requests over the same pipes.
type CLIBackend struct {
	// Binary is the path to the claude binary; defaults to "claude".
	Binary string
}

// Start launches a subprocess for the request and begins streaming.
func (b *CLIBackend) Start(ctx context.Context, req Request, hooks Hooks) (Query, error) {
	binary := b.Binary
	if binary == "" {
		binary = "claude"
	}

	args := []string{
		"-p",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--include-partial-messages",
		"--permission-prompt-tool", "stdio",
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.PermissionMode != "" {
		args = append(args, "--permission-mode", req.PermissionMode)
	}
	if req.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(req.MaxBudgetUSD, 'f', -1, 64))
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(req.AllowedTools, ","))
	}
	if len(req.DisallowedTools) > 0 {
		args = append(args, "--disallowed-tools", strings.Join(req.DisallowedTools, ","))
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(ctx, binary, args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	// Use a process group so SIGTERM kills the entire tree (shell + children).
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = 10 * time.Second

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdout pipe: %w", err)
	}
	stdinPipe, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("agent: stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("agent: start %s: %w", binary, err)
	}

	q := &cliQuery{
		cmd:    cmd,
		cancel: cancel,
		stdin:  stdinPipe,
		hooks:  hooks,
		doneCh: make(chan struct{}),
	}

	if err := q.writeUserMessage(req.Prompt); err != nil {
		cancel()
		cmd.Wait()
		return nil, err
	}

	go q.readLoop(stdoutPipe)
	return q, nil
}

// cliQuery is a running claude subprocess.
type cliQuery struct {
	cmd    *exec.Cmd
	cancel context.CancelFunc
	hooks  Hooks
	doneCh chan struct{}

	stdinMu sync.Mutex
	stdin   io.WriteCloser

	mu          sync.Mutex
	result      *Result
	runErr      error
	sessionID   string
	interrupted bool
	nextReqID   int
}

// writeUserMessage sends the prompt as a stream-json user message.
// stdin stays open afterwards for control responses.
func (q *cliQuery) writeUserMessage(prompt string) error {
	msg := map[string]interface{}{
		"type": "user",
		"message": map[string]interface{}{
			"role":    "user",
			"content": prompt,
		},
	}
	return q.writeLine(msg)
}

func (q *cliQuery) writeLine(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("agent: marshal stdin message: %w", err)
	}
	q.stdinMu.Lock()
	defer q.stdinMu.Unlock()
	if _, err := q.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("agent: write stdin: %w", err)
	}
	return nil
}

// readLoop consumes stdout lines until the process exits, dispatching
// parsed events to the hooks.
func (q *cliQuery) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024) // 1MB buffer

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		ev, err := ParseEvent(line)
		if err != nil {
			log.Printf("agent: skipping malformed event: %v", err)
			continue
		}
		if ev != nil {
			q.dispatch(ev)
		}
	}

	waitErr := q.cmd.Wait()

	q.mu.Lock()
	if q.result != nil {
		q.result.Interrupted = q.interrupted
	} else if q.interrupted {
		// SIGTERM before any result event still counts as a clean abort.
		q.result = &Result{SessionID: q.sessionID, Interrupted: true}
	} else if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			q.runErr = fmt.Errorf("agent: claude exited with code %d", exitErr.ExitCode())
		} else {
			q.runErr = fmt.Errorf("agent: claude: %w", waitErr)
		}
	} else {
		q.runErr = fmt.Errorf("agent: claude exited without a result")
	}
	q.mu.Unlock()

	close(q.doneCh)
}

func (q *cliQuery) dispatch(ev Event) {
	switch e := ev.(type) {
	case InitEvent:
		q.mu.Lock()
		q.sessionID = e.SessionID
		q.mu.Unlock()
		if q.hooks.OnInit != nil {
			q.hooks.OnInit(Capabilities{Model: e.Model, SlashCommands: e.SlashCommands})
		}

	case TextDeltaEvent:
		if q.hooks.OnStreamText != nil {
			q.hooks.OnStreamText(e.Text)
		}

	case ToolUseEvent:
		if q.hooks.OnToolActivity != nil {
			q.hooks.OnToolActivity(e.Name, e.Input)
		}

	case ResultEvent:
		q.mu.Lock()
		if e.SessionID == "" {
			e.SessionID = q.sessionID
		}
		q.result = &Result{
			Text:          e.Text,
			SessionID:     e.SessionID,
			CostUSD:       e.CostUSD,
			DurationMs:    e.DurationMs,
			NumTurns:      e.NumTurns,
			IsError:       e.IsError,
			Errors:        e.Errors,
			ContextUsed:   e.ContextUsed,
			ContextWindow: e.ContextWindow,
		}
		q.mu.Unlock()

	case ControlRequestEvent:
		// Answered on a separate goroutine so a pending approval does
		// not stall the event stream.
		go q.answerControlRequest(e)
	}
}

// answerControlRequest resolves a backend control request. Permission
// checks go through the CanUseTool hook; anything else is acknowledged
// so the backend does not hang.
func (q *cliQuery) answerControlRequest(e ControlRequestEvent) {
	var response map[string]interface{}

	if e.Subtype == "can_use_tool" {
		var decision Decision
		if q.hooks.CanUseTool != nil {
			decision = q.hooks.CanUseTool(e.ToolName, e.Input)
		} else {
			decision = Deny("no permission handler configured")
		}
		if decision.Allowed {
			updated := decision.UpdatedInput
			if updated == nil {
				updated = e.Input
			}
			response = map[string]interface{}{
				"behavior":     "allow",
				"updatedInput": updated,
			}
		} else {
			response = map[string]interface{}{
				"behavior": "deny",
				"message":  decision.Reason,
			}
		}
	} else {
		response = map[string]interface{}{}
	}

	msg := map[string]interface{}{
		"type": "control_response",
		"response": map[string]interface{}{
			"subtype":    "success",
			"request_id": e.RequestID,
			"response":   response,
		},
	}
	if err := q.writeLine(msg); err != nil {
		log.Printf("agent: control response for %s: %v", e.RequestID, err)
	}
}

// Wait blocks until the subprocess exits.
func (q *cliQuery) Wait() (*Result, error) {
	<-q.doneCh
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.result, q.runErr
}

// Interrupt asks the backend to stop via a control request. If the
// write fails (e.g. the process is already gone) it falls back to
// SIGTERM through context cancellation.
func (q *cliQuery) Interrupt() error {
	q.mu.Lock()
	q.interrupted = true
	q.nextReqID++
	reqID := fmt.Sprintf("req_%d", q.nextReqID)
	q.mu.Unlock()

	msg := map[string]interface{}{
		"type":       "control_request",
		"request_id": reqID,
		"request":    map[string]interface{}{"subtype": "interrupt"},
	}
	if err := q.writeLine(msg); err != nil {
		q.cancel()
		return nil
	}
	return nil
}
