package app

import "errors"

var (
	// ErrNotParticipant means the caller is neither the booking's client
	// nor its provider.
	ErrNotParticipant = errors.New("caller is not a booking participant")
	// ErrEmptyMessage means neither content nor attachments were supplied.
	ErrEmptyMessage = errors.New("message requires content or attachments")
	// ErrBadAttachment means an attachment reference is missing required
	// fields; only fully resolved uploads may be attached.
	ErrBadAttachment = errors.New("attachment reference is incomplete")
	// ErrContentPolicy means content-safety screening blocked the message.
	ErrContentPolicy = errors.New("message violates the content policy")
)
