package store

import (
	"testing"
	"time"

	"consultchat/pkg/domain"
)

func TestMemoryStoreMarkReadIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	for i, sender := range []string{"client-1", "provider-1", "provider-1"} {
		err := s.AppendMessage(domain.Message{
			ID:        string(rune('a' + i)),
			BookingID: "b1",
			SenderID:  sender,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}, nil)
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	changed, err := s.MarkRead("b1", "client-1")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if changed != 2 {
		t.Fatalf("expected 2 newly read messages, got %d", changed)
	}

	changed, err = s.MarkRead("b1", "client-1")
	if err != nil {
		t.Fatalf("second mark read: %v", err)
	}
	if changed != 0 {
		t.Fatalf("second mark read should change nothing, got %d", changed)
	}

	msgs, err := s.ListMessages("b1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, msg := range msgs {
		wantRead := msg.SenderID != "client-1"
		if msg.IsRead != wantRead {
			t.Fatalf("message %s read=%v, want %v", msg.ID, msg.IsRead, wantRead)
		}
	}
}

func TestMemoryStoreListOrdersByCreatedAtThenID(t *testing.T) {
	s := NewMemoryStore()
	at := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	// Insert out of order, including a timestamp tie.
	for _, id := range []string{"m3", "m1", "m2"} {
		ts := at
		if id == "m3" {
			ts = at.Add(time.Minute)
		}
		if err := s.AppendMessage(domain.Message{ID: id, BookingID: "b1", CreatedAt: ts}, nil); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	msgs, err := s.ListMessages("b1", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{msgs[0].ID, msgs[1].ID, msgs[2].ID}
	want := []string{"m1", "m2", "m3"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order %v, want %v", got, want)
		}
	}
}

func TestMemoryStoreStorageReferenceLookup(t *testing.T) {
	s := NewMemoryStore()
	err := s.AppendMessage(domain.Message{
		ID:        "m1",
		BookingID: "b1",
		Attachments: []domain.Attachment{
			{FileName: "scan.pdf", StorageID: "bookings/b1/a1/scan.pdf"},
		},
		CreatedAt: time.Now().UTC(),
	}, nil)
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	ok, err := s.IsStorageIDReferenced("bookings/b1/a1/scan.pdf")
	if err != nil || !ok {
		t.Fatalf("expected referenced key, ok=%v err=%v", ok, err)
	}
	ok, err = s.IsStorageIDReferenced("bookings/b1/zz/orphan.pdf")
	if err != nil || ok {
		t.Fatalf("expected unreferenced key, ok=%v err=%v", ok, err)
	}
}
