// Package gateway defines the chat-platform boundary: inbound events,
// outbound primitives, and the interactive button round-trip used by
// the approval flow.
package gateway

import (
	"context"
	"errors"
	"time"
)

// ErrPromptTimeout is returned by AwaitButton when no interaction
// arrives within the wait budget.
var ErrPromptTimeout = errors.New("gateway: prompt timed out")

// Event is an inbound event from the chat platform. Exactly one of the
// concrete types below.
type Event interface {
	isEvent()
}

// MessageEvent is a plain user message in a channel.
type MessageEvent struct {
	ChannelID   string
	MessageID   string
	UserID      string
	UserName    string
	Text        string
	Bot         bool
	Attachments []Attachment
}

func (MessageEvent) isEvent() {}

// CommandEvent is a structured intent from a registered slash command.
// ID identifies the interaction for RespondCommand.
type CommandEvent struct {
	ID        string
	ChannelID string
	UserID    string
	Name      string
	Options   map[string]string
}

func (CommandEvent) isEvent() {}

// Attachment is a file uploaded alongside a message.
type Attachment struct {
	Name string
	URL  string
}

// Embed is a rich message block.
type Embed struct {
	Title       string
	Description string
	Color       int
}

// Embed colors used across the approval flow.
const (
	ColorPending  = 0xffa500
	ColorApproved = 0x00ff00
	ColorDenied   = 0xff0000
	ColorTimedOut = 0x808080
	ColorQuestion = 0x5865f2
)

// ButtonStyle selects the platform rendering for a button.
type ButtonStyle int

const (
	ButtonPrimary ButtonStyle = iota
	ButtonSecondary
	ButtonSuccess
	ButtonDanger
)

// Button is an interactive component attached to an embed.
type Button struct {
	ID    string
	Label string
	Style ButtonStyle
}

// Command declares a slash command to register with the platform.
type Command struct {
	Name        string
	Description string
	Options     []CommandOption
}

// CommandOption is a single string parameter of a Command.
type CommandOption struct {
	Name        string
	Description string
	Required    bool
	Choices     []CommandChoice
}

// CommandChoice is a fixed value offered for a CommandOption.
type CommandChoice struct {
	Name  string
	Value string
}

// Gateway is the interface platform adapters implement. All send/edit
// operations are best-effort from the caller's perspective; callers that
// can tolerate a lost update log and continue.
type Gateway interface {
	// Connect establishes the platform connection.
	Connect(ctx context.Context) error

	// RegisterCommands registers the slash command surface. Must be
	// called after Connect.
	RegisterCommands(ctx context.Context, cmds []Command) error

	// Listen returns a channel of inbound events. The channel is closed
	// when the adapter is closed.
	Listen(ctx context.Context) (<-chan Event, error)

	// SendMessage posts text to a channel, returning the new message ID.
	SendMessage(ctx context.Context, channelID, text string) (string, error)

	// EditMessage replaces the text of an existing message.
	EditMessage(ctx context.Context, channelID, messageID, text string) error

	// React adds an emoji reaction to a message.
	React(ctx context.Context, channelID, messageID, emoji string) error

	// Typing triggers the platform's typing indicator for the channel.
	Typing(ctx context.Context, channelID string) error

	// SendEmbed posts an embed with optional buttons, returning the
	// message ID. When buttons are present the adapter starts collecting
	// component interactions for AwaitButton.
	SendEmbed(ctx context.Context, channelID string, embed Embed, buttons []Button) (string, error)

	// AwaitButton blocks until a button on the given message is clicked
	// or the timeout elapses, returning the clicked button ID or
	// ErrPromptTimeout.
	AwaitButton(ctx context.Context, messageID string, timeout time.Duration) (string, error)

	// EditEmbed replaces a message's embed and removes its buttons.
	EditEmbed(ctx context.Context, channelID, messageID string, embed Embed) error

	// RespondCommand replies to a CommandEvent by interaction ID.
	RespondCommand(ctx context.Context, eventID, text string) error

	// Close shuts down the adapter.
	Close() error
}
