package agent

import (
	"context"
	"fmt"
	"sync"
)

// Probe learns the backend's capabilities for a working directory by
// starting a minimal plan-mode invocation and interrupting it as soon as
// the init event arrives. No real work is performed.
func Probe(ctx context.Context, backend Backend, workDir string) (Capabilities, error) {
	var (
		mu   sync.Mutex
		caps Capabilities
		got  bool
	)
	initSeen := make(chan struct{})

	q, err := backend.Start(ctx, Request{
		Prompt:         "ping",
		WorkDir:        workDir,
		PermissionMode: "plan",
	}, Hooks{
		OnInit: func(c Capabilities) {
			mu.Lock()
			if !got {
				caps, got = c, true
				close(initSeen)
			}
			mu.Unlock()
		},
	})
	if err != nil {
		return Capabilities{}, fmt.Errorf("agent: probe: %w", err)
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-initSeen:
			q.Interrupt()
		case <-ctx.Done():
			q.Interrupt()
		case <-done:
		}
	}()

	_, waitErr := q.Wait()
	close(done)

	mu.Lock()
	defer mu.Unlock()
	if !got {
		if waitErr != nil {
			return Capabilities{}, fmt.Errorf("agent: probe: %w", waitErr)
		}
		return Capabilities{}, fmt.Errorf("agent: probe ended without an init event")
	}
	return caps, nil
}
