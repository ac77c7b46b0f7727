// Package approval turns agent-initiated permission requests into
// interactive button round-trips with the end user. Timeouts always
// resolve to denial.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/trestle/internal/agent"
	"github.com/zulandar/trestle/internal/gateway"
)

const (
	// defaultApproveTimeout is the wait budget for a binary
	// approve/deny request.
	defaultApproveTimeout = 10 * time.Minute
	// defaultQuestionTimeout is the wait budget per question round of a
	// multi-question prompt.
	defaultQuestionTimeout = 2 * time.Minute
	// maxOptionButtons caps question options at the platform's row limit.
	maxOptionButtons = 5
)

// questionTool is the structured multi-question prompt tool, rendered
// as sequential single-question rounds instead of a binary choice.
const questionTool = "AskUserQuestion"

// Mediator presents tool requests in a channel and collects decisions.
type Mediator struct {
	gw              gateway.Gateway
	approveTimeout  time.Duration
	questionTimeout time.Duration
}

// Opts holds parameters for creating a Mediator.
type Opts struct {
	Gateway gateway.Gateway
	// ApproveTimeout and QuestionTimeout override the default wait
	// budgets, mainly for tests.
	ApproveTimeout  time.Duration
	QuestionTimeout time.Duration
}

// New creates a Mediator.
func New(opts Opts) (*Mediator, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("approval: gateway is required")
	}
	m := &Mediator{
		gw:              opts.Gateway,
		approveTimeout:  opts.ApproveTimeout,
		questionTimeout: opts.QuestionTimeout,
	}
	if m.approveTimeout == 0 {
		m.approveTimeout = defaultApproveTimeout
	}
	if m.questionTimeout == 0 {
		m.questionTimeout = defaultQuestionTimeout
	}
	return m, nil
}

// Request presents a tool request in the channel and blocks until the
// user decides or the wait budget runs out. Fail-closed: any timeout or
// delivery failure resolves to deny.
func (m *Mediator) Request(ctx context.Context, channelID, toolName string, input map[string]interface{}) agent.Decision {
	if toolName == questionTool {
		return m.askQuestions(ctx, channelID, input)
	}
	return m.askApproval(ctx, channelID, toolName, input)
}

func (m *Mediator) askApproval(ctx context.Context, channelID, toolName string, input map[string]interface{}) agent.Decision {
	approveID := uuid.NewString()
	denyID := uuid.NewString()

	embed := gateway.Embed{
		Title:       fmt.Sprintf("Permission required: %s", toolName),
		Description: Describe(toolName, input),
		Color:       gateway.ColorPending,
	}
	buttons := []gateway.Button{
		{ID: approveID, Label: "Approve", Style: gateway.ButtonSuccess},
		{ID: denyID, Label: "Deny", Style: gateway.ButtonDanger},
	}

	msgID, err := m.gw.SendEmbed(ctx, channelID, embed, buttons)
	if err != nil {
		log.Printf("approval: send request for %s: %v", toolName, err)
		return agent.Deny("Permission request could not be delivered")
	}

	choice, err := m.gw.AwaitButton(ctx, msgID, m.approveTimeout)
	switch {
	case errors.Is(err, gateway.ErrPromptTimeout):
		m.finalize(ctx, channelID, msgID, embed, "Timed out", gateway.ColorTimedOut)
		return agent.Deny("Permission request timed out")
	case err != nil:
		log.Printf("approval: await decision for %s: %v", toolName, err)
		return agent.Deny("Permission request was not answered")
	case choice == approveID:
		m.finalize(ctx, channelID, msgID, embed, "Approved", gateway.ColorApproved)
		return agent.Allow(input)
	default:
		m.finalize(ctx, channelID, msgID, embed, "Denied", gateway.ColorDenied)
		return agent.Deny("Denied by user")
	}
}

// askQuestions runs the multi-question flow: one embed per question,
// answered in order. A timeout on any round discards partial answers
// and denies the whole request.
func (m *Mediator) askQuestions(ctx context.Context, channelID string, input map[string]interface{}) agent.Decision {
	questions := parseQuestions(input)
	if len(questions) == 0 {
		return agent.Deny("Question prompt had no questions")
	}

	answers := make(map[string]interface{}, len(questions))
	for i, q := range questions {
		answer, ok := m.askOne(ctx, channelID, i, len(questions), q)
		if !ok {
			return agent.Deny("Question timed out")
		}
		answers[strconv.Itoa(i)] = answer
	}

	updated := make(map[string]interface{}, len(input)+1)
	for k, v := range input {
		updated[k] = v
	}
	updated["answers"] = answers
	return agent.Allow(updated)
}

func (m *Mediator) askOne(ctx context.Context, channelID string, index, total int, q question) (string, bool) {
	title := q.Header
	if title == "" {
		title = fmt.Sprintf("Question %d of %d", index+1, total)
	}

	options := q.Options
	if len(options) > maxOptionButtons {
		log.Printf("approval: question %d has %d options, showing first %d", index+1, len(options), maxOptionButtons)
		options = options[:maxOptionButtons]
	}

	buttons := make([]gateway.Button, 0, len(options))
	byID := make(map[string]string, len(options))
	for _, label := range options {
		id := uuid.NewString()
		byID[id] = label
		buttons = append(buttons, gateway.Button{ID: id, Label: label, Style: gateway.ButtonPrimary})
	}

	embed := gateway.Embed{
		Title:       title,
		Description: q.Text,
		Color:       gateway.ColorQuestion,
	}
	msgID, err := m.gw.SendEmbed(ctx, channelID, embed, buttons)
	if err != nil {
		log.Printf("approval: send question %d: %v", index+1, err)
		return "", false
	}

	choice, err := m.gw.AwaitButton(ctx, msgID, m.questionTimeout)
	if err != nil {
		m.finalize(ctx, channelID, msgID, embed, "Timed out", gateway.ColorTimedOut)
		return "", false
	}

	answer := byID[choice]
	m.finalize(ctx, channelID, msgID, embed, answer, gateway.ColorApproved)
	return answer, true
}

// finalize rewrites the request embed with its outcome and strips the
// buttons. Best-effort: a failed edit is logged and ignored.
func (m *Mediator) finalize(ctx context.Context, channelID, msgID string, embed gateway.Embed, outcome string, color int) {
	embed.Description = embed.Description + "\n\n**" + outcome + "**"
	embed.Color = color
	if err := m.gw.EditEmbed(ctx, channelID, msgID, embed); err != nil {
		log.Printf("approval: finalize embed: %v", err)
	}
}

// question is one round of a multi-question prompt.
type question struct {
	Text        string
	Header      string
	Options     []string
	MultiSelect bool
}

// parseQuestions extracts the question list from the tool input. The
// input arrives as loosely-typed JSON; malformed entries are skipped.
func parseQuestions(input map[string]interface{}) []question {
	raw, ok := input["questions"].([]interface{})
	if !ok {
		return nil
	}

	var out []question
	for _, item := range raw {
		obj, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		q := question{
			Text:   stringField(obj, "question"),
			Header: stringField(obj, "header"),
		}
		if ms, ok := obj["multiSelect"].(bool); ok {
			q.MultiSelect = ms
		}
		if opts, ok := obj["options"].([]interface{}); ok {
			for _, o := range opts {
				switch v := o.(type) {
				case string:
					q.Options = append(q.Options, v)
				case map[string]interface{}:
					if label := stringField(v, "label"); label != "" {
						q.Options = append(q.Options, label)
					}
				}
			}
		}
		if q.Text == "" && q.Header == "" {
			continue
		}
		if len(q.Options) == 0 {
			q.Options = []string{"Yes", "No"}
		}
		out = append(out, q)
	}
	return out
}

func stringField(obj map[string]interface{}, key string) string {
	v, _ := obj[key].(string)
	return strings.TrimSpace(v)
}
