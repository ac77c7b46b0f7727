package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextCronDuration parses a 5-field cron expression and returns the
// duration until the next fire time. Returns 0 on parse error.
func nextCronDuration(expr string) time.Duration {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return 0
	}
	next := sched.Next(time.Now())
	d := time.Until(next)
	if d < 0 {
		return 0
	}
	return d
}

// runDigestScheduler posts a periodic session digest to the configured
// channel. It returns immediately if the digest is disabled.
func (d *Daemon) runDigestScheduler(ctx context.Context) {
	digCfg := d.cfg.Digest
	if !digCfg.Enabled || digCfg.Cron == "" || digCfg.Channel == "" {
		return
	}

	var timer *time.Timer
	if wait := nextCronDuration(digCfg.Cron); wait > 0 {
		timer = time.NewTimer(wait)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timerChan(timer):
			d.fireDigest(ctx, digCfg.Channel)
			if wait := nextCronDuration(digCfg.Cron); wait > 0 {
				timer.Reset(wait)
			}
		}
	}
}

// fireDigest builds and sends one digest message. An empty store
// suppresses the digest entirely.
func (d *Daemon) fireDigest(ctx context.Context, channelID string) {
	text, err := d.buildDigest()
	if err != nil {
		log.Printf("bot: build digest: %v", err)
		return
	}
	if text == "" {
		// Nothing to report.
		return
	}
	if _, err := d.gw.SendMessage(ctx, channelID, text); err != nil {
		log.Printf("bot: send digest: %v", err)
	}
}

// buildDigest summarizes active sessions across all channels.
func (d *Daemon) buildDigest() (string, error) {
	sessions, err := d.store.GetAll()
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Session digest** — %d active session(s)\n", len(sessions))
	for _, s := range sessions {
		line := fmt.Sprintf("- **%s** (channel %s), last active %s",
			s.ProjectName, s.ChannelID, s.UpdatedAt.Format("2006-01-02 15:04"))
		if d.orch != nil {
			if cost, ok := d.orch.LastCost(s.ChannelID); ok {
				line += fmt.Sprintf(", last query $%.3f", cost.CostUSD)
			}
		}
		b.WriteString(line + "\n")
	}
	return b.String(), nil
}

// timerChan returns the timer's channel, or nil if the timer is nil.
// A nil channel blocks forever in select, which is the desired behavior
// when the digest is not scheduled.
func timerChan(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}
