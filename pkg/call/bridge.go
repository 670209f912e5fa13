// Package call manages the local lifecycle of an in-conversation call
// overlay. It owns no media transport; it derives the room identifier,
// gates initiation on the booking, and hands the room to an external
// conferencing capability.
package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"consultchat/pkg/domain"
)

// State is the call overlay's lifecycle position.
type State string

const (
	StateIdle         State = "IDLE"
	StateConnecting   State = "CONNECTING"
	StateActive       State = "ACTIVE"
	StateConfirmClose State = "CONFIRM_CLOSE"
	StateEnded        State = "ENDED"
)

var (
	// ErrNotEligible means the booking does not qualify for a call.
	ErrNotEligible = errors.New("booking is not eligible for a call")
	// ErrBadTransition means the requested action is not valid in the
	// current state.
	ErrBadTransition = errors.New("invalid call state transition")
)

// RoomName derives the conferencing room for a booking. Both participants
// compute it independently, so no negotiation round-trip is needed.
func RoomName(bookingID string) string {
	return "consultation-" + bookingID
}

// Eligible reports whether a call may be initiated for the booking.
// Call-capable booking types qualify while CONFIRMED or IN_PROGRESS.
// Any CONFIRMED booking also qualifies regardless of type; that fallback
// is long-standing observed behavior and callers rely on it.
func Eligible(b domain.Booking) bool {
	switch b.BookingType {
	case domain.BookingVideoCall, domain.BookingPhoneCall:
		if b.Status == domain.BookingConfirmed || b.Status == domain.BookingInProgress {
			return true
		}
	}
	return b.Status == domain.BookingConfirmed
}

// Conferencer is the external media capability the bridge hands off to.
type Conferencer interface {
	Join(ctx context.Context, roomName, displayName string) error
	Leave(ctx context.Context, roomName string) error
}

// Bridge drives one call session for one booking. It is safe for use
// from UI callbacks on multiple goroutines.
type Bridge struct {
	conferencer Conferencer
	booking     domain.Booking
	displayName string

	mu    sync.Mutex
	state State
}

// NewBridge constructs an idle bridge for the booking. displayName is the
// local participant's identity shown to the peer.
func NewBridge(conferencer Conferencer, booking domain.Booking, displayName string) *Bridge {
	return &Bridge{
		conferencer: conferencer,
		booking:     booking,
		displayName: displayName,
		state:       StateIdle,
	}
}

// State returns the current lifecycle state.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RoomName returns the room this bridge joins.
func (b *Bridge) RoomName() string {
	return RoomName(b.booking.ID)
}

// Start checks eligibility and joins the room. On join failure the
// bridge returns to IDLE so the user can retry.
func (b *Bridge) Start(ctx context.Context) error {
	if !Eligible(b.booking) {
		return fmt.Errorf("%w: type=%s status=%s", ErrNotEligible, b.booking.BookingType, b.booking.Status)
	}
	b.mu.Lock()
	if b.state != StateIdle {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrBadTransition, state)
	}
	b.state = StateConnecting
	b.mu.Unlock()

	if err := b.conferencer.Join(ctx, b.RoomName(), b.displayName); err != nil {
		b.mu.Lock()
		b.state = StateIdle
		b.mu.Unlock()
		return fmt.Errorf("join room: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	// The user may have closed the overlay while the join was in flight.
	if b.state != StateConnecting {
		return nil
	}
	b.state = StateActive
	return nil
}

// RequestClose is the user's close action. An ACTIVE call routes through
// an explicit confirmation prompt; a call still CONNECTING ends
// immediately without one.
func (b *Bridge) RequestClose(ctx context.Context) error {
	b.mu.Lock()
	switch b.state {
	case StateActive:
		b.state = StateConfirmClose
		b.mu.Unlock()
		return nil
	case StateConnecting:
		b.state = StateEnded
		b.mu.Unlock()
		return b.conferencer.Leave(ctx, b.RoomName())
	default:
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: close from %s", ErrBadTransition, state)
	}
}

// ConfirmClose answers the "end call?" prompt. Declining returns the
// call to ACTIVE.
func (b *Bridge) ConfirmClose(ctx context.Context, confirmed bool) error {
	b.mu.Lock()
	if b.state != StateConfirmClose {
		state := b.state
		b.mu.Unlock()
		return fmt.Errorf("%w: confirm from %s", ErrBadTransition, state)
	}
	if !confirmed {
		b.state = StateActive
		b.mu.Unlock()
		return nil
	}
	b.state = StateEnded
	b.mu.Unlock()
	return b.conferencer.Leave(ctx, b.RoomName())
}
