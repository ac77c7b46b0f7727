package orchestrator

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/trestle/internal/format"
	"github.com/zulandar/trestle/internal/gateway"
)

// streamer mirrors a query's incremental output into the placeholder
// message, throttled to one edit per interval, and keeps the typing
// indicator alive on a slower cadence. Tool activity is shown in a
// single continuously edited progress message below the placeholder.
type streamer struct {
	gw             gateway.Gateway
	channelID      string
	messageID      string
	editThrottle   time.Duration
	typingInterval time.Duration

	mu         sync.Mutex
	buf        strings.Builder
	dirty      bool
	rendered   string
	progressID string

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func newStreamer(gw gateway.Gateway, channelID, messageID string, editThrottle, typingInterval time.Duration) *streamer {
	return &streamer{
		gw:             gw,
		channelID:      channelID,
		messageID:      messageID,
		editThrottle:   editThrottle,
		typingInterval: typingInterval,
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// start launches the edit and typing loops.
func (s *streamer) start(ctx context.Context) {
	go s.loop(ctx)
}

// append adds streamed text; the next throttle tick picks it up.
func (s *streamer) append(delta string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.WriteString(delta)
	s.dirty = true
}

// toolActivity updates the single progress line. The first event sends
// the message, later ones edit it in place to avoid rate limits.
func (s *streamer) toolActivity(ctx context.Context, label string) {
	text := progressPrefix + label

	s.mu.Lock()
	progressID := s.progressID
	s.mu.Unlock()

	if progressID == "" {
		id, err := s.gw.SendMessage(ctx, s.channelID, text)
		if err != nil {
			log.Printf("orchestrator: tool progress send: %v", err)
			return
		}
		s.mu.Lock()
		s.progressID = id
		s.mu.Unlock()
		return
	}
	if err := s.gw.EditMessage(ctx, s.channelID, progressID, text); err != nil {
		log.Printf("orchestrator: tool progress edit: %v", err)
	}
}

// stop halts the loops. The final result edit happens after stop so a
// stale throttle tick can never overwrite it.
func (s *streamer) stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	<-s.doneCh
}

func (s *streamer) loop(ctx context.Context) {
	defer close(s.doneCh)

	edit := time.NewTicker(s.editThrottle)
	defer edit.Stop()
	typing := time.NewTicker(s.typingInterval)
	defer typing.Stop()

	// Kick the typing indicator immediately so the channel shows
	// activity before the first streamed token arrives.
	if err := s.gw.Typing(ctx, s.channelID); err != nil {
		log.Printf("orchestrator: typing: %v", err)
	}

	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case <-typing.C:
			if err := s.gw.Typing(ctx, s.channelID); err != nil {
				log.Printf("orchestrator: typing: %v", err)
			}
		case <-edit.C:
			s.flush(ctx)
		}
	}
}

// flush edits the placeholder with the accumulated text when it changed
// since the last tick.
func (s *streamer) flush(ctx context.Context) {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return
	}
	s.dirty = false
	text := format.Truncate(s.buf.String(), format.MaxMessageLength)
	if text == s.rendered {
		s.mu.Unlock()
		return
	}
	s.rendered = text
	s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return
	}
	if err := s.gw.EditMessage(ctx, s.channelID, s.messageID, text); err != nil {
		log.Printf("orchestrator: stream edit: %v", err)
	}
}
