package store

import (
	"sort"
	"sync"

	"consultchat/pkg/domain"
)

// MemoryStore keeps the conversation log in-process. It backs tests and
// single-node development runs.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]domain.Message // key: booking ID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]domain.Message)}
}

// AppendMessage records a message for its booking.
func (m *MemoryStore) AppendMessage(msg domain.Message, _ []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.BookingID] = append(m.messages[msg.BookingID], msg)
	return nil
}

// ListMessages returns the booking's messages sorted by (createdAt, id).
func (m *MemoryStore) ListMessages(bookingID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := make([]domain.Message, len(m.messages[bookingID]))
	copy(msgs, m.messages[bookingID])
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	return msgs, nil
}

// MarkRead flags the counterparty's messages as read.
func (m *MemoryStore) MarkRead(bookingID, readerID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changed int64
	msgs := m.messages[bookingID]
	for i := range msgs {
		if msgs[i].SenderID != readerID && !msgs[i].IsRead {
			msgs[i].IsRead = true
			changed++
		}
	}
	return changed, nil
}

// IsStorageIDReferenced scans attachments for the storage key.
func (m *MemoryStore) IsStorageIDReferenced(storageID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			for _, att := range msg.Attachments {
				if att.StorageID == storageID {
					return true, nil
				}
			}
		}
	}
	return false, nil
}
