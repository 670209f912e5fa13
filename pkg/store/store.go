package store

import (
	"consultchat/pkg/domain"
)

// Store defines persistence operations for the append-only conversation
// log. Messages are never deleted; only IsRead and Flagged mutate.
type Store interface {
	// AppendMessage records a message with its attachment references.
	// safetyMatches keeps the content-safety evidence for audit.
	AppendMessage(msg domain.Message, safetyMatches []string) error

	// ListMessages returns the ordered conversation page for a booking,
	// sorted by (createdAt, id) ascending.
	ListMessages(bookingID string, limit int) ([]domain.Message, error)

	// MarkRead flags every message in the booking not sent by readerID as
	// read. Idempotent; returns the number of newly read messages.
	MarkRead(bookingID, readerID string) (int64, error)

	// IsStorageIDReferenced reports whether any message references the
	// object-storage key. Used by the orphan sweep.
	IsStorageIDReferenced(storageID string) (bool, error)
}
