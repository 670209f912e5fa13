package store

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"consultchat/internal/util"
	"consultchat/pkg/domain"
)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&MessageModel{}, &AttachmentModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// AppendMessage records a message and its attachment rows atomically.
func (s *GormStore) AppendMessage(msg domain.Message, safetyMatches []string) error {
	model := messageToModel(msg, safetyMatches)
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Attachments").Create(&model).Error; err != nil {
			return err
		}
		if len(model.Attachments) == 0 {
			return nil
		}
		return tx.Create(&model.Attachments).Error
	})
}

// ListMessages returns the conversation ordered by (created_at, id).
func (s *GormStore) ListMessages(bookingID string, limit int) ([]domain.Message, error) {
	query := s.db.Where("booking_id = ?", bookingID).
		Order("created_at ASC").
		Order("id ASC").
		Preload("Attachments", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position ASC")
		})
	if limit > 0 {
		query = query.Limit(limit)
	}
	var models []MessageModel
	if err := query.Find(&models).Error; err != nil {
		return nil, err
	}
	msgs := make([]domain.Message, 0, len(models))
	for _, model := range models {
		msgs = append(msgs, messageFromModel(model))
	}
	return msgs, nil
}

// MarkRead flags the counterparty's messages as read. System messages are
// considered read by whoever opens the conversation.
func (s *GormStore) MarkRead(bookingID, readerID string) (int64, error) {
	res := s.db.Model(&MessageModel{}).
		Where("booking_id = ? AND sender_id <> ? AND is_read = ?", bookingID, readerID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}

// IsStorageIDReferenced checks attachment rows for the storage key.
func (s *GormStore) IsStorageIDReferenced(storageID string) (bool, error) {
	var count int64
	if err := s.db.Model(&AttachmentModel{}).Where("storage_key = ?", storageID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func messageToModel(msg domain.Message, safetyMatches []string) MessageModel {
	var matches datatypes.JSON
	if len(safetyMatches) > 0 {
		raw, _ := json.Marshal(safetyMatches)
		matches = raw
	}
	model := MessageModel{
		ID:            msg.ID,
		BookingID:     msg.BookingID,
		SenderID:      msg.SenderID,
		SenderType:    string(msg.SenderType),
		Content:       msg.Content,
		MessageType:   string(msg.MessageType),
		IsRead:        msg.IsRead,
		Flagged:       msg.Flagged,
		SafetyMatches: matches,
		CreatedAt:     msg.CreatedAt,
	}
	for i, att := range msg.Attachments {
		model.Attachments = append(model.Attachments, AttachmentModel{
			ID:         util.NewID(),
			MessageID:  msg.ID,
			Position:   i,
			FileName:   att.FileName,
			FileSize:   att.FileSize,
			MimeType:   att.MimeType,
			URL:        att.URL,
			IsImage:    att.IsImage,
			StorageKey: att.StorageID,
		})
	}
	return model
}

func messageFromModel(m MessageModel) domain.Message {
	sender, _ := domain.ParseSenderType(m.SenderType)
	msg := domain.Message{
		ID:          m.ID,
		BookingID:   m.BookingID,
		SenderID:    m.SenderID,
		SenderType:  sender,
		Content:     m.Content,
		MessageType: domain.MessageType(m.MessageType),
		IsRead:      m.IsRead,
		Flagged:     m.Flagged,
		CreatedAt:   m.CreatedAt,
	}
	for _, att := range m.Attachments {
		msg.Attachments = append(msg.Attachments, domain.Attachment{
			FileName:  att.FileName,
			FileSize:  att.FileSize,
			MimeType:  att.MimeType,
			URL:       att.URL,
			IsImage:   att.IsImage,
			StorageID: att.StorageKey,
		})
	}
	return msg
}
