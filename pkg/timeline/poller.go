package timeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"consultchat/pkg/domain"
)

// DefaultPollInterval is how often an open conversation refreshes.
const DefaultPollInterval = 15 * time.Second

// FetchFunc pulls the current message page from the conversation store.
type FetchFunc func(ctx context.Context) ([]domain.Message, error)

// MarkReadFunc acknowledges the counterparty's messages. It runs once per
// conversation open, not per poll.
type MarkReadFunc func(ctx context.Context) error

// PollerConfig wires the sync loop for one conversation view.
type PollerConfig struct {
	Fetch    FetchFunc
	MarkRead MarkReadFunc    // optional
	OnUpdate func(added int) // optional, called after a merge that added or refreshed messages
	Interval time.Duration   // defaults to DefaultPollInterval
}

// Poller owns the fetch cadence for an open conversation view. Run blocks
// until the view's context is cancelled; a tick is skipped while a prior
// fetch is still in flight and resumes on the next tick.
type Poller struct {
	timeline *Timeline
	fetch    FetchFunc
	markRead MarkReadFunc
	onUpdate func(int)
	interval time.Duration

	inFlight atomic.Bool
}

// NewPoller builds a poller over the given timeline.
func NewPoller(tl *Timeline, cfg PollerConfig) (*Poller, error) {
	if tl == nil {
		return nil, fmt.Errorf("poller requires a timeline")
	}
	if cfg.Fetch == nil {
		return nil, fmt.Errorf("poller requires a fetch function")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		timeline: tl,
		fetch:    cfg.Fetch,
		markRead: cfg.MarkRead,
		onUpdate: cfg.OnUpdate,
		interval: interval,
	}, nil
}

// Run performs the initial load, then polls on the fixed interval until
// ctx is cancelled. The initial load's failure is returned so the caller
// can surface an explicit retry control; later failures are logged and
// retried on the next scheduled tick.
func (p *Poller) Run(ctx context.Context) error {
	if err := p.poll(ctx); err != nil {
		return fmt.Errorf("initial load: %w", err)
	}
	if p.markRead != nil {
		if err := p.markRead(ctx); err != nil {
			slog.Warn("mark read failed", "err", err)
		}
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.inFlight.CompareAndSwap(false, true) {
				continue // prior poll still in flight, resume next tick
			}
			go func() {
				defer p.inFlight.Store(false)
				if err := p.poll(ctx); err != nil && ctx.Err() == nil {
					slog.Warn("poll failed, retrying next tick", "err", err)
				}
			}()
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	msgs, err := p.fetch(ctx)
	if err != nil {
		return err
	}
	// A fetch that completes after the view closed is discarded.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	added, refreshed := p.timeline.Merge(msgs)
	// A refresh-only merge (a read-receipt flip) still needs a redraw.
	if (added > 0 || refreshed > 0) && p.onUpdate != nil {
		p.onUpdate(added)
	}
	return nil
}
