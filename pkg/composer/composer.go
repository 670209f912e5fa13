package composer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"consultchat/pkg/chatapi"
	"consultchat/pkg/domain"
	"consultchat/pkg/timeline"
	"consultchat/pkg/upload"
)

// ErrNothingToSend means neither text nor attachments are staged; the
// send call is a no-op.
var ErrNothingToSend = errors.New("nothing to send")

// Sender issues the atomic message-create call. *chatapi.Client satisfies
// this.
type Sender interface {
	CreateMessage(ctx context.Context, token, bookingID, content string, attachments []domain.Attachment) (domain.Message, error)
}

// Pending is a staged attachment. Resolved is set once its upload has
// fully succeeded; a resolved file is not re-uploaded on retry.
type Pending struct {
	File     upload.File
	Resolved *domain.Attachment
	Err      error
}

// Composer stages free text plus pending attachments for one conversation
// and turns them into a single atomic send.
type Composer struct {
	sender    Sender
	pipeline  *upload.Pipeline
	timeline  *timeline.Timeline
	token     string
	bookingID string

	mu      sync.Mutex
	text    string
	pending []*Pending
	warning bool
}

// New constructs a composer bound to one booking's conversation.
func New(sender Sender, pipeline *upload.Pipeline, tl *timeline.Timeline, token, bookingID string) *Composer {
	return &Composer{
		sender:    sender,
		pipeline:  pipeline,
		timeline:  tl,
		token:     token,
		bookingID: bookingID,
	}
}

// SetText replaces the staged free text.
func (c *Composer) SetText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.text = text
}

// Stage validates a candidate file and adds it to the pending set.
// Validation happens entirely client-side; a rejected file never starts
// an upload.
func (c *Composer) Stage(f upload.File) error {
	if err := upload.Validate(f); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, &Pending{File: f})
	return nil
}

// Remove drops a staged file by name, e.g. after its upload failed.
func (c *Composer) Remove(fileName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.pending[:0]
	for _, p := range c.pending {
		if p.File.Name != fileName {
			kept = append(kept, p)
		}
	}
	c.pending = kept
}

// Pending returns the staged attachments.
func (c *Composer) Pending() []*Pending {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Pending, len(c.pending))
	copy(out, c.pending)
	return out
}

// Warning reports whether the last send was rejected by content safety.
// The staged text and attachments survive so the user can edit and resend.
func (c *Composer) Warning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warning
}

// Send uploads every pending attachment, then issues one message-create.
// If any upload fails the whole send aborts: no message is created and
// both failed and succeeded files stay staged for user retry. On success
// the new message is appended to the local timeline immediately rather
// than waiting for the next poll.
func (c *Composer) Send(ctx context.Context) (domain.Message, error) {
	c.mu.Lock()
	text := strings.TrimSpace(c.text)
	pending := make([]*Pending, len(c.pending))
	copy(pending, c.pending)
	c.mu.Unlock()

	if text == "" && len(pending) == 0 {
		return domain.Message{}, ErrNothingToSend
	}

	if err := c.uploadAll(ctx, pending); err != nil {
		return domain.Message{}, err
	}

	attachments := make([]domain.Attachment, 0, len(pending))
	for _, p := range pending {
		attachments = append(attachments, *p.Resolved)
	}

	msg, err := c.sender.CreateMessage(ctx, c.token, c.bookingID, text, attachments)
	if err != nil {
		if errors.Is(err, chatapi.ErrContentRejected) {
			c.mu.Lock()
			c.warning = true
			c.mu.Unlock()
		}
		return domain.Message{}, err
	}

	c.timeline.Merge([]domain.Message{msg})
	c.mu.Lock()
	c.text = ""
	c.pending = nil
	c.warning = false
	c.mu.Unlock()
	return msg, nil
}

// uploadAll runs the remaining uploads concurrently. Files whose earlier
// upload already succeeded keep their resolved reference.
func (c *Composer) uploadAll(ctx context.Context, pending []*Pending) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, p := range pending {
		if p.Resolved != nil {
			continue
		}
		g.Go(func() error {
			att, err := c.pipeline.Upload(ctx, c.token, c.bookingID, p.File)
			if err != nil {
				p.Err = err
				return err
			}
			p.Resolved = &att
			p.Err = nil
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("send aborted: %w", err)
	}
	return nil
}
