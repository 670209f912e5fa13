package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence. Attachments are first-class rows
// rather than a serialized blob on the message, so the orphan sweep can
// resolve storage keys with an indexed lookup.
type MessageModel struct {
	ID            string `gorm:"primaryKey"`
	BookingID     string `gorm:"not null;index:idx_messages_booking_created,priority:1"`
	SenderID      string `gorm:"not null"`
	SenderType    string `gorm:"not null"`
	Content       string `gorm:"type:text;not null"`
	MessageType   string `gorm:"not null"`
	IsRead        bool   `gorm:"not null;default:false"`
	Flagged       bool   `gorm:"not null;default:false"`
	SafetyMatches datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_messages_booking_created,priority:2"`

	Attachments []AttachmentModel `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE"`
}

type AttachmentModel struct {
	ID         string `gorm:"primaryKey"`
	MessageID  string `gorm:"not null;index"`
	Position   int    `gorm:"not null"`
	FileName   string `gorm:"not null"`
	FileSize   int64  `gorm:"not null"`
	MimeType   string `gorm:"not null"`
	URL        string `gorm:"type:text;not null"`
	IsImage    bool   `gorm:"not null"`
	StorageKey string `gorm:"uniqueIndex;not null"`
}
