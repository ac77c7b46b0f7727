// Package bot is the main Trestle process: it connects the gateway,
// registers the command surface, and pumps inbound events into the
// command router and query orchestrator.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/zulandar/trestle/internal/agent"
	"github.com/zulandar/trestle/internal/approval"
	"github.com/zulandar/trestle/internal/command"
	"github.com/zulandar/trestle/internal/config"
	"github.com/zulandar/trestle/internal/dashboard"
	"github.com/zulandar/trestle/internal/gateway"
	"github.com/zulandar/trestle/internal/orchestrator"
	"github.com/zulandar/trestle/internal/project"
	"github.com/zulandar/trestle/internal/session"
)

// Daemon wires the gateway, orchestrator, and command router together
// and runs the inbound event loop.
type Daemon struct {
	cfg      *config.Config
	gw       gateway.Gateway
	backend  agent.Backend
	store    *session.Store
	registry *project.Registry
	out      io.Writer

	orch   *orchestrator.Orchestrator
	router *command.Router
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Config   *config.Config
	Gateway  gateway.Gateway
	Backend  agent.Backend
	Store    *session.Store
	Registry *project.Registry
	Out      io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("bot: gateway is required")
	}
	if opts.Backend == nil {
		return nil, fmt.Errorf("bot: backend is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: session store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("bot: project registry is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		cfg:      opts.Config,
		gw:       opts.Gateway,
		backend:  opts.Backend,
		store:    opts.Store,
		registry: opts.Registry,
		out:      out,
	}, nil
}

// Run starts the daemon. It connects the gateway, builds all
// subsystems, and blocks until the context is cancelled. On shutdown it
// closes the gateway gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	fmt.Fprintf(d.out, "Trestle connecting...\n")
	if err := d.gw.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	mediator, err := approval.New(approval.Opts{Gateway: d.gw})
	if err != nil {
		d.gw.Close()
		return fmt.Errorf("bot: build mediator: %w", err)
	}

	d.orch, err = orchestrator.New(orchestrator.Opts{
		Gateway:  d.gw,
		Backend:  d.backend,
		Store:    d.store,
		Registry: d.registry,
		Mediator: mediator,
	})
	if err != nil {
		d.gw.Close()
		return fmt.Errorf("bot: build orchestrator: %w", err)
	}

	d.router, err = command.New(command.Opts{
		Gateway:      d.gw,
		Orchestrator: d.orch,
		Store:        d.store,
		Registry:     d.registry,
	})
	if err != nil {
		d.gw.Close()
		return fmt.Errorf("bot: build command router: %w", err)
	}

	if err := d.gw.RegisterCommands(ctx, command.Declarations()); err != nil {
		d.gw.Close()
		return fmt.Errorf("bot: register commands: %w", err)
	}

	inbound, err := d.gw.Listen(ctx)
	if err != nil {
		d.gw.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	if d.cfg.Dashboard.Enabled {
		go func() {
			if err := dashboard.Start(ctx, dashboard.StartOpts{
				Store:    d.store,
				Registry: d.registry,
				Port:     d.cfg.Dashboard.Port,
				Out:      d.out,
			}); err != nil {
				log.Printf("bot: dashboard: %v", err)
			}
		}()
	}

	go d.runDigestScheduler(ctx)
	go d.probeCapabilities(ctx)

	fmt.Fprintf(d.out, "Trestle online (%d projects)\n", d.registry.Count())

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Trestle shutting down...\n")
			if err := d.gw.Close(); err != nil {
				log.Printf("bot: close gateway: %v", err)
			}
			fmt.Fprintf(d.out, "Trestle stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Trestle inbound channel closed\n")
				return nil
			}
			d.handleEvent(ctx, ev)
		}
	}
}

// probeCapabilities warms the capability cache for every bound channel
// so native slash-command passthrough works before the first query.
func (d *Daemon) probeCapabilities(ctx context.Context) {
	for _, p := range d.registry.All() {
		caps, err := agent.Probe(ctx, d.backend, p.Path)
		if err != nil {
			log.Printf("bot: probe capabilities for %s: %v", p.Name, err)
			continue
		}
		d.orch.Capabilities().Update(p.ChannelID, caps)
	}
}

// handleEvent routes one inbound gateway event.
func (d *Daemon) handleEvent(ctx context.Context, ev gateway.Event) {
	switch e := ev.(type) {
	case gateway.CommandEvent:
		d.router.Handle(ctx, e)

	case gateway.MessageEvent:
		if e.Bot {
			return
		}
		// Only channels bound to a project are listened to.
		cfg := d.registry.ByChannel(e.ChannelID)
		if cfg == nil {
			return
		}
		if d.router.Passthrough(ctx, e) {
			return
		}
		if e.Text == "" && len(e.Attachments) == 0 {
			return
		}

		paths := downloadAttachments(ctx, cfg.Path, e.Attachments)
		d.orch.Submit(ctx, orchestrator.Work{
			ChannelID:   e.ChannelID,
			MessageID:   e.MessageID,
			Prompt:      e.Text,
			Attachments: paths,
		})
	}
}
