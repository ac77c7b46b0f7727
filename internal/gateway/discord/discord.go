// Package discord implements the gateway.Gateway interface for Discord
// using the Gateway WebSocket.
package discord

import (
	"context"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/trestle/internal/gateway"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelTyping(channelID string, options ...discordgo.RequestOption) error
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}
func (r *realSession) ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSend(channelID, content, options...)
}
func (r *realSession) ChannelMessageEdit(channelID, messageID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEdit(channelID, messageID, content, options...)
}
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageEditComplex(m, options...)
}
func (r *realSession) ChannelTyping(channelID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelTyping(channelID, options...)
}
func (r *realSession) MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error {
	return r.s.MessageReactionAdd(channelID, messageID, emojiID, options...)
}
func (r *realSession) ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	return r.s.ApplicationCommandBulkOverwrite(appID, guildID, commands, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}

// Adapter implements gateway.Gateway for Discord.
type Adapter struct {
	sess          session
	botToken      string
	applicationID string

	mu           sync.Mutex
	connected    bool
	closed       bool
	botUserID    string
	inbound      chan gateway.Event
	clicks       map[string]chan string             // messageID → pending button clicks
	interactions map[string]*discordgo.Interaction  // command event ID → interaction
	removeFns    []func()
	baseBackoff  time.Duration
	maxBackoff   time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken      string
	ApplicationID string
	// For testing: inject a mock session instead of the real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	if opts.ApplicationID == "" {
		return nil, fmt.Errorf("discord: application ID is required")
	}

	a := &Adapter{
		botToken:      opts.BotToken,
		applicationID: opts.ApplicationID,
		inbound:       make(chan gateway.Event, 100),
		clicks:        make(map[string]chan string),
		interactions:  make(map[string]*discordgo.Interaction),
		baseBackoff:   baseBackoff,
		maxBackoff:    maxBackoff,
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuilds |
			discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// RegisterCommands bulk-overwrites the application's global slash commands.
func (a *Adapter) RegisterCommands(ctx context.Context, cmds []gateway.Command) error {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	appCmds := make([]*discordgo.ApplicationCommand, 0, len(cmds))
	for _, c := range cmds {
		appCmds = append(appCmds, toApplicationCommand(c))
	}

	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ApplicationCommandBulkOverwrite(a.applicationID, "", appCmds)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: register commands: %w", err)
	}
	return nil
}

// Listen registers message and interaction handlers and returns the
// inbound event channel. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan gateway.Event, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	removeMsg := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	removeInt := a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(i)
	})

	a.mu.Lock()
	a.removeFns = append(a.removeFns, removeMsg, removeInt)
	a.mu.Unlock()

	return a.inbound, nil
}

// SendMessage posts text to a channel.
func (a *Adapter) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	var msg *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msg, apiErr = a.sess.ChannelMessageSend(channelID, text)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	return msg.ID, nil
}

// EditMessage replaces a message's content.
func (a *Adapter) EditMessage(ctx context.Context, channelID, messageID, text string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelMessageEdit(channelID, messageID, text)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit message: %w", err)
	}
	return nil
}

// React adds an emoji reaction to a message.
func (a *Adapter) React(ctx context.Context, channelID, messageID, emoji string) error {
	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.MessageReactionAdd(channelID, messageID, emoji)
	})
	if err != nil {
		return fmt.Errorf("discord: react: %w", err)
	}
	return nil
}

// Typing triggers the typing indicator for a channel.
func (a *Adapter) Typing(ctx context.Context, channelID string) error {
	if err := a.sess.ChannelTyping(channelID); err != nil {
		return fmt.Errorf("discord: typing: %w", err)
	}
	return nil
}

// SendEmbed posts an embed with optional buttons.
func (a *Adapter) SendEmbed(ctx context.Context, channelID string, embed gateway.Embed, buttons []gateway.Button) (string, error) {
	data := &discordgo.MessageSend{
		Embeds: []*discordgo.MessageEmbed{toMessageEmbed(embed)},
	}
	if len(buttons) > 0 {
		data.Components = []discordgo.MessageComponent{buttonRow(buttons)}
	}

	var msg *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		msg, apiErr = a.sess.ChannelMessageSendComplex(channelID, data)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send embed: %w", err)
	}

	if len(buttons) > 0 {
		a.mu.Lock()
		a.clicks[msg.ID] = make(chan string, 1)
		a.mu.Unlock()
	}
	return msg.ID, nil
}

// AwaitButton blocks until a button on the message is clicked or the
// timeout elapses.
func (a *Adapter) AwaitButton(ctx context.Context, messageID string, timeout time.Duration) (string, error) {
	a.mu.Lock()
	ch := a.clicks[messageID]
	a.mu.Unlock()
	if ch == nil {
		return "", fmt.Errorf("discord: message %s is not awaiting buttons", messageID)
	}

	defer func() {
		a.mu.Lock()
		delete(a.clicks, messageID)
		a.mu.Unlock()
	}()

	select {
	case choice := <-ch:
		return choice, nil
	case <-time.After(timeout):
		return "", gateway.ErrPromptTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// EditEmbed replaces a message's embed and strips its buttons.
func (a *Adapter) EditEmbed(ctx context.Context, channelID, messageID string, embed gateway.Embed) error {
	edit := discordgo.NewMessageEdit(channelID, messageID)
	edit.Embeds = &[]*discordgo.MessageEmbed{toMessageEmbed(embed)}
	empty := []discordgo.MessageComponent{}
	edit.Components = &empty

	err := a.retryOnRateLimit(ctx, func() error {
		_, apiErr := a.sess.ChannelMessageEditComplex(edit)
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("discord: edit embed: %w", err)
	}
	return nil
}

// RespondCommand replies to a slash-command interaction. Each
// interaction can be responded to once.
func (a *Adapter) RespondCommand(ctx context.Context, eventID, text string) error {
	a.mu.Lock()
	interaction := a.interactions[eventID]
	delete(a.interactions, eventID)
	a.mu.Unlock()
	if interaction == nil {
		return fmt.Errorf("discord: unknown interaction %s", eventID)
	}

	err := a.sess.InteractionRespond(interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	})
	if err != nil {
		return fmt.Errorf("discord: respond to command: %w", err)
	}
	return nil
}

// Close shuts down the adapter.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removeFns {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// handleMessage converts a Discord message event to a gateway event.
// The bot's own messages are filtered here; other bots are flagged and
// filtered upstream.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	a.mu.Lock()
	botID := a.botUserID
	closed := a.closed
	a.mu.Unlock()
	if closed || m.Author.ID == botID {
		return
	}

	ev := gateway.MessageEvent{
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    m.Author.ID,
		UserName:  m.Author.Username,
		Text:      m.Content,
		Bot:       m.Author.Bot,
	}
	for _, att := range m.Attachments {
		ev.Attachments = append(ev.Attachments, gateway.Attachment{
			Name: att.Filename,
			URL:  att.URL,
		})
	}
	a.inbound <- ev
}

// handleInteraction routes slash commands to the inbound channel and
// button clicks to their awaiting collector.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		options := make(map[string]string, len(data.Options))
		for _, opt := range data.Options {
			options[opt.Name] = opt.StringValue()
		}

		a.mu.Lock()
		if a.closed {
			a.mu.Unlock()
			return
		}
		a.interactions[i.ID] = i.Interaction
		a.mu.Unlock()

		a.inbound <- gateway.CommandEvent{
			ID:        i.ID,
			ChannelID: i.ChannelID,
			UserID:    interactionUserID(i),
			Name:      data.Name,
			Options:   options,
		}

	case discordgo.InteractionMessageComponent:
		if i.Message == nil {
			return
		}
		a.mu.Lock()
		ch := a.clicks[i.Message.ID]
		a.mu.Unlock()
		if ch == nil {
			return
		}

		// Ack the click; the approval flow edits the embed afterwards.
		if err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		}); err != nil {
			log.Printf("discord: ack component: %v", err)
		}

		select {
		case ch <- i.MessageComponentData().CustomID:
		default:
			// Collector already satisfied; drop the duplicate click.
		}
	}
}

// interactionUserID resolves the user behind an interaction, which
// Discord places differently for guild and DM contexts.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// toMessageEmbed converts a gateway.Embed to a Discord embed.
func toMessageEmbed(e gateway.Embed) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       e.Title,
		Description: e.Description,
		Color:       e.Color,
	}
}

// buttonRow converts gateway buttons to a Discord action row.
func buttonRow(buttons []gateway.Button) discordgo.MessageComponent {
	row := discordgo.ActionsRow{}
	for _, b := range buttons {
		row.Components = append(row.Components, discordgo.Button{
			CustomID: b.ID,
			Label:    b.Label,
			Style:    toButtonStyle(b.Style),
		})
	}
	return row
}

func toButtonStyle(s gateway.ButtonStyle) discordgo.ButtonStyle {
	switch s {
	case gateway.ButtonSuccess:
		return discordgo.SuccessButton
	case gateway.ButtonDanger:
		return discordgo.DangerButton
	case gateway.ButtonSecondary:
		return discordgo.SecondaryButton
	default:
		return discordgo.PrimaryButton
	}
}

// toApplicationCommand converts a gateway.Command declaration to a
// Discord application command.
func toApplicationCommand(c gateway.Command) *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Name:        c.Name,
		Description: c.Description,
	}
	for _, opt := range c.Options {
		appOpt := &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        opt.Name,
			Description: opt.Description,
			Required:    opt.Required,
		}
		for _, choice := range opt.Choices {
			appOpt.Choices = append(appOpt.Choices, &discordgo.ApplicationCommandOptionChoice{
				Name:  choice.Name,
				Value: choice.Value,
			})
		}
		cmd.Options = append(cmd.Options, appOpt)
	}
	return cmd
}

// retryOnRateLimit calls fn and retries with exponential backoff on
// Discord rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		restErr, ok := err.(*discordgo.RESTError)
		if !ok || restErr.Response == nil || restErr.Response.StatusCode != 429 {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
