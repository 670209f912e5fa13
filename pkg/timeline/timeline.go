package timeline

import (
	"sort"
	"sync"

	"consultchat/pkg/domain"
)

// Timeline holds the display-ordered message sequence for one open
// conversation. Merging is idempotent: a message id is only inserted
// once, so optimistic local appends and later poll pages never duplicate.
type Timeline struct {
	mu      sync.RWMutex
	known   map[string]int // message id -> index in ordered
	ordered []domain.Message
}

// New returns an empty timeline.
func New() *Timeline {
	return &Timeline{known: make(map[string]int)}
}

// Merge folds a page of messages into the sequence. It returns how many
// were newly inserted and how many known messages had a server-mutable
// field (isRead, flagged) refreshed in place, which is how read receipts
// become visible to the sender across polls. Known ids are never
// reinserted or reordered, including an id repeated within the same page.
func (t *Timeline) Merge(msgs []domain.Message) (added, refreshed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, msg := range msgs {
		if msg.ID == "" {
			continue
		}
		if idx, ok := t.known[msg.ID]; ok {
			if t.ordered[idx].IsRead != msg.IsRead || t.ordered[idx].Flagged != msg.Flagged {
				t.ordered[idx].IsRead = msg.IsRead
				t.ordered[idx].Flagged = msg.Flagged
				refreshed++
			}
			continue
		}
		t.ordered = append(t.ordered, msg)
		// Record the id before moving on so a repeat later in this same
		// page takes the refresh branch instead of inserting twice.
		t.known[msg.ID] = len(t.ordered) - 1
		added++
	}
	if added > 0 {
		sort.SliceStable(t.ordered, func(i, j int) bool {
			return t.ordered[i].Before(t.ordered[j])
		})
		for i := range t.ordered {
			t.known[t.ordered[i].ID] = i
		}
	}
	return added, refreshed
}

// Messages returns a copy of the ordered sequence.
func (t *Timeline) Messages() []domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]domain.Message, len(t.ordered))
	copy(out, t.ordered)
	return out
}

// Len returns the number of distinct messages.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ordered)
}
