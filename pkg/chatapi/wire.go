package chatapi

import (
	"encoding/json"
	"log/slog"
	"time"

	"consultchat/pkg/domain"
)

// WireMessage is the store's message representation. Attachments decode
// defensively: current servers emit a structured JSON array, but legacy
// records carry the array as a serialized string, sometimes with each
// element serialized again. A malformed element is dropped with a warning
// instead of failing the whole page.
type WireMessage struct {
	ID          string          `json:"id"`
	BookingID   string          `json:"bookingId"`
	SenderID    string          `json:"senderId"`
	SenderType  string          `json:"senderType"`
	Content     string          `json:"content"`
	MessageType string          `json:"messageType"`
	Attachments json.RawMessage `json:"attachments,omitempty"`
	IsRead      bool            `json:"isRead"`
	Flagged     bool            `json:"flagged"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Normalize converts the wire record into the in-memory message shape.
func (w WireMessage) Normalize() domain.Message {
	sender, ok := domain.ParseSenderType(w.SenderType)
	if !ok {
		sender = domain.SenderSystem
	}
	msg := domain.Message{
		ID:          w.ID,
		BookingID:   w.BookingID,
		SenderID:    w.SenderID,
		SenderType:  sender,
		Content:     w.Content,
		MessageType: domain.MessageType(w.MessageType),
		Attachments: DecodeWireAttachments(w.Attachments),
		IsRead:      w.IsRead,
		Flagged:     w.Flagged,
		CreatedAt:   w.CreatedAt,
	}
	if msg.MessageType == "" {
		msg.MessageType = domain.DeriveMessageType(sender, msg.Attachments)
	}
	return msg
}

// DecodeWireAttachments parses the attachment field in up to two passes:
// unwrap a string-encoded array first, then unwrap string-encoded elements.
func DecodeWireAttachments(raw json.RawMessage) []domain.Attachment {
	if len(raw) == 0 {
		return nil
	}
	// Pass one: the whole field may be a JSON string holding the array.
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		if wrapped == "" {
			return nil
		}
		raw = json.RawMessage(wrapped)
	}
	var elements []json.RawMessage
	if err := json.Unmarshal(raw, &elements); err != nil {
		slog.Warn("unparsable attachment array", "err", err)
		return nil
	}
	out := make([]domain.Attachment, 0, len(elements))
	for i, element := range elements {
		att, ok := decodeAttachmentElement(element)
		if !ok {
			slog.Warn("dropping malformed attachment record", "index", i)
			continue
		}
		out = append(out, att)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func decodeAttachmentElement(raw json.RawMessage) (domain.Attachment, bool) {
	// Pass two: the element itself may be serialized once more.
	var wrapped string
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		raw = json.RawMessage(wrapped)
	}
	var att domain.Attachment
	if err := json.Unmarshal(raw, &att); err != nil {
		return domain.Attachment{}, false
	}
	if att.URL == "" && att.FileName == "" {
		return domain.Attachment{}, false
	}
	return att, true
}
