package domain

import (
	"strings"
	"time"
)

// SenderType identifies who authored a message. It is a closed set:
// the two booking participants plus system-generated banners.
type SenderType string

const (
	SenderClient   SenderType = "CLIENT"
	SenderProvider SenderType = "PROVIDER"
	SenderSystem   SenderType = "SYSTEM"
)

// ParseSenderType maps a wire value onto the closed sender set.
func ParseSenderType(raw string) (SenderType, bool) {
	switch SenderType(strings.ToUpper(strings.TrimSpace(raw))) {
	case SenderClient:
		return SenderClient, true
	case SenderProvider:
		return SenderProvider, true
	case SenderSystem:
		return SenderSystem, true
	default:
		return "", false
	}
}

// MessageType classifies a message by its content shape.
type MessageType string

const (
	MessageText     MessageType = "TEXT"
	MessageImage    MessageType = "IMAGE"
	MessageDocument MessageType = "DOCUMENT"
	MessageSystem   MessageType = "SYSTEM"
)

// DeriveMessageType computes the type from sender and attachment shape:
// any image attachment wins over documents, no attachments means plain text.
func DeriveMessageType(sender SenderType, attachments []Attachment) MessageType {
	if sender == SenderSystem {
		return MessageSystem
	}
	if len(attachments) == 0 {
		return MessageText
	}
	for _, a := range attachments {
		if a.IsImage {
			return MessageImage
		}
	}
	return MessageDocument
}

// Attachment is a file reference resolved only after a successful upload.
// StorageID is the opaque object-storage key kept for deletion and audit.
type Attachment struct {
	FileName  string `json:"fileName"`
	FileSize  int64  `json:"fileSize"`
	MimeType  string `json:"mimeType"`
	URL       string `json:"url"`
	IsImage   bool   `json:"isImage"`
	StorageID string `json:"storageId,omitempty"`
}

// Message is one entry in a booking's conversation. Immutable after
// creation except for IsRead (recipient action) and Flagged (server-side
// content-safety evaluation).
type Message struct {
	ID          string       `json:"id"`
	BookingID   string       `json:"bookingId"`
	SenderID    string       `json:"senderId"`
	SenderType  SenderType   `json:"senderType"`
	Content     string       `json:"content"`
	MessageType MessageType  `json:"messageType"`
	Attachments []Attachment `json:"attachments,omitempty"`
	IsRead      bool         `json:"isRead"`
	Flagged     bool         `json:"flagged"`
	CreatedAt   time.Time    `json:"createdAt"`
}

// Before reports whether m sorts ahead of other in display order:
// createdAt ascending, ties broken by id for a stable total order.
func (m Message) Before(other Message) bool {
	if !m.CreatedAt.Equal(other.CreatedAt) {
		return m.CreatedAt.Before(other.CreatedAt)
	}
	return m.ID < other.ID
}

// BookingType is the service modality of the external booking.
type BookingType string

const (
	BookingVideoCall BookingType = "VIDEO_CALL"
	BookingPhoneCall BookingType = "PHONE_CALL"
	BookingInPerson  BookingType = "IN_PERSON"
	BookingMessaging BookingType = "MESSAGING"
)

// BookingStatus is the lifecycle state of the external booking.
type BookingStatus string

const (
	BookingPending    BookingStatus = "PENDING"
	BookingConfirmed  BookingStatus = "CONFIRMED"
	BookingInProgress BookingStatus = "IN_PROGRESS"
	BookingCompleted  BookingStatus = "COMPLETED"
	BookingCancelled  BookingStatus = "CANCELLED"
)

// Booking is the external unit of work a conversation is scoped to.
// The subsystem only reads it; booking CRUD lives in the host application.
type Booking struct {
	ID          string        `json:"id"`
	ClientID    string        `json:"clientId"`
	ProviderID  string        `json:"providerId"`
	BookingType BookingType   `json:"bookingType"`
	Status      BookingStatus `json:"status"`
}

// ParticipantRole returns the sender type a user holds within the booking.
func (b Booking) ParticipantRole(userID string) (SenderType, bool) {
	switch userID {
	case "":
		return "", false
	case b.ClientID:
		return SenderClient, true
	case b.ProviderID:
		return SenderProvider, true
	default:
		return "", false
	}
}
