package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// SentMessage records one SendMessage or EditMessage call on the mock.
type SentMessage struct {
	ChannelID string
	MessageID string
	Text      string
	Edited    bool
}

// SentEmbed records one SendEmbed call on the mock.
type SentEmbed struct {
	ChannelID string
	MessageID string
	Embed     Embed
	Buttons   []Button
}

// Mock implements Gateway for testing. It records all outbound calls
// and lets tests script button clicks and inbound events.
type Mock struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan Event
	nextID    int

	messages  []SentMessage
	embeds    []SentEmbed
	edits     map[string]string // messageID → latest text
	reactions map[string][]string
	typing    int
	responses map[string]string // command event ID → reply text
	commands  []Command

	clicks map[string]chan string // messageID → scripted clicks
	// ClickAny, when set, answers every AwaitButton immediately.
	ClickAny string
}

// NewMock creates a Mock with a buffered inbound channel.
func NewMock() *Mock {
	return &Mock{
		inbound:   make(chan Event, 100),
		edits:     make(map[string]string),
		reactions: make(map[string][]string),
		responses: make(map[string]string),
		clicks:    make(map[string]chan string),
	}
}

func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock gateway: already closed")
	}
	m.connected = true
	return nil
}

func (m *Mock) RegisterCommands(ctx context.Context, cmds []Command) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commands = append([]Command(nil), cmds...)
	return nil
}

func (m *Mock) Listen(ctx context.Context) (<-chan Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock gateway: not connected")
	}
	return m.inbound, nil
}

// SimulateInbound delivers an event as if it came from the platform.
func (m *Mock) SimulateInbound(ev Event) {
	m.inbound <- ev
}

func (m *Mock) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("msg-%d", m.nextID)
	m.messages = append(m.messages, SentMessage{ChannelID: channelID, MessageID: id, Text: text})
	m.edits[id] = text
	return id, nil
}

func (m *Mock) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, SentMessage{ChannelID: channelID, MessageID: messageID, Text: text, Edited: true})
	m.edits[messageID] = text
	return nil
}

func (m *Mock) React(ctx context.Context, channelID, messageID, emoji string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reactions[messageID] = append(m.reactions[messageID], emoji)
	return nil
}

func (m *Mock) Typing(ctx context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.typing++
	return nil
}

func (m *Mock) SendEmbed(ctx context.Context, channelID string, embed Embed, buttons []Button) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("msg-%d", m.nextID)
	m.embeds = append(m.embeds, SentEmbed{ChannelID: channelID, MessageID: id, Embed: embed, Buttons: buttons})
	if len(buttons) > 0 {
		m.clicks[id] = make(chan string, 1)
	}
	return id, nil
}

// Click scripts a button click for the most recently sent embed.
func (m *Mock) Click(buttonID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.embeds) == 0 {
		return fmt.Errorf("mock gateway: no embed to click")
	}
	last := m.embeds[len(m.embeds)-1]
	ch, ok := m.clicks[last.MessageID]
	if !ok {
		return fmt.Errorf("mock gateway: embed %s has no buttons", last.MessageID)
	}
	ch <- buttonID
	return nil
}

func (m *Mock) AwaitButton(ctx context.Context, messageID string, timeout time.Duration) (string, error) {
	m.mu.Lock()
	if m.ClickAny != "" {
		choice := m.ClickAny
		m.mu.Unlock()
		return choice, nil
	}
	ch := m.clicks[messageID]
	m.mu.Unlock()
	if ch == nil {
		return "", fmt.Errorf("mock gateway: message %s has no buttons", messageID)
	}

	select {
	case choice := <-ch:
		return choice, nil
	case <-time.After(timeout):
		return "", ErrPromptTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (m *Mock) EditEmbed(ctx context.Context, channelID, messageID string, embed Embed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.embeds {
		if m.embeds[i].MessageID == messageID {
			m.embeds[i].Embed = embed
			m.embeds[i].Buttons = nil
		}
	}
	return nil
}

func (m *Mock) RespondCommand(ctx context.Context, eventID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[eventID] = text
	return nil
}

func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// Messages returns a copy of all recorded send/edit calls.
func (m *Mock) Messages() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.messages...)
}

// Embeds returns a copy of all recorded embed sends.
func (m *Mock) Embeds() []SentEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmbed(nil), m.embeds...)
}

// MessageText returns the latest text of a message after edits.
func (m *Mock) MessageText(messageID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.edits[messageID]
}

// Reactions returns the emoji reactions added to a message.
func (m *Mock) Reactions(messageID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.reactions[messageID]...)
}

// Response returns the recorded reply for a command event.
func (m *Mock) Response(eventID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.responses[eventID]
}

// TypingCount returns the number of Typing calls.
func (m *Mock) TypingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.typing
}

// RegisteredCommands returns the commands passed to RegisterCommands.
func (m *Mock) RegisteredCommands() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.commands...)
}
