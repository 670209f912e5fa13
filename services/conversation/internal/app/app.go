package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"consultchat/pkg/domain"
	"consultchat/pkg/storage"
	"consultchat/pkg/store"
	"consultchat/pkg/upload"
	"consultchat/services/conversation/internal/safety"
)

const defaultPresignExpiry = 24 * time.Hour

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL   string
	Store         store.Store
	Objects       storage.ObjectStore
	Publisher     safety.Publisher
	PresignExpiry time.Duration
}

// App is the core application service wiring storage, object storage and
// content safety together.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	publisher     safety.Publisher
	presignExpiry time.Duration
}

// New constructs the application with database-backed message storage.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = safety.NopPublisher{}
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = defaultPresignExpiry
	}
	return &App{
		store:         dataStore,
		objects:       cfg.Objects,
		publisher:     publisher,
		presignExpiry: presignExpiry,
	}, nil
}

// CreateMessage validates, screens and persists one message. The server
// assigns the id and timestamp; messageType derives from the sender and
// attachment shape. Blocked content returns ErrContentPolicy and leaves
// nothing behind; soft matches persist the message flagged and emit a
// moderation event best effort.
func (a *App) CreateMessage(ctx context.Context, booking domain.Booking, senderID, content string, attachments []domain.Attachment) (domain.Message, error) {
	role, ok := booking.ParticipantRole(senderID)
	if !ok {
		return domain.Message{}, ErrNotParticipant
	}
	content = strings.TrimSpace(content)
	if content == "" && len(attachments) == 0 {
		return domain.Message{}, ErrEmptyMessage
	}
	// Attachment rows key on the storage id, so a reference without one
	// is a client bug, not something to persist.
	for _, att := range attachments {
		if strings.TrimSpace(att.StorageID) == "" || strings.TrimSpace(att.FileName) == "" {
			return domain.Message{}, fmt.Errorf("%w: %s", ErrBadAttachment, att.FileName)
		}
	}

	screened := safety.Screen(content)
	if screened.Blocked {
		slog.Info("security_event", "event", "message_blocked", "bookingId", booking.ID, "senderId", senderID, "matches", screened.Matches)
		return domain.Message{}, fmt.Errorf("%w: %s", ErrContentPolicy, strings.Join(screened.Matches, ", "))
	}

	msg := domain.Message{
		ID:          uuid.NewString(),
		BookingID:   booking.ID,
		SenderID:    senderID,
		SenderType:  role,
		Content:     content,
		MessageType: domain.DeriveMessageType(role, attachments),
		Attachments: attachments,
		Flagged:     screened.Flagged,
		CreatedAt:   time.Now().UTC(),
	}
	if err := a.store.AppendMessage(msg, screened.Matches); err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}

	if msg.Flagged {
		event := safety.Event{
			MessageID: msg.ID,
			BookingID: msg.BookingID,
			SenderID:  msg.SenderID,
			Matches:   screened.Matches,
			CreatedAt: msg.CreatedAt,
		}
		if err := a.publisher.PublishFlagged(ctx, event); err != nil {
			slog.Warn("moderation event publish failed", "messageId", msg.ID, "err", err)
		}
	}
	return msg, nil
}

// ListMessages returns the booking's conversation in display order.
func (a *App) ListMessages(booking domain.Booking, userID string, limit int) ([]domain.Message, error) {
	if _, ok := booking.ParticipantRole(userID); !ok {
		return nil, ErrNotParticipant
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	msgs, err := a.store.ListMessages(booking.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkRead marks every message not sent by the reader as read. Calling
// it again without new messages changes nothing.
func (a *App) MarkRead(booking domain.Booking, readerID string) (int64, error) {
	if _, ok := booking.ParticipantRole(readerID); !ok {
		return 0, ErrNotParticipant
	}
	changed, err := a.store.MarkRead(booking.ID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read: %w", err)
	}
	return changed, nil
}

// UploadAttachment re-validates the file server-side, stores the object
// and returns the resolved attachment reference with a presigned URL.
func (a *App) UploadAttachment(ctx context.Context, booking domain.Booking, userID, fileName, mimeType string, size int64, r io.Reader) (domain.Attachment, error) {
	if _, ok := booking.ParticipantRole(userID); !ok {
		return domain.Attachment{}, ErrNotParticipant
	}
	if err := upload.Validate(upload.File{Name: fileName, Size: size, MimeType: mimeType}); err != nil {
		return domain.Attachment{}, err
	}

	key := storage.AttachmentKey(booking.ID, uuid.NewString(), fileName)
	if err := a.objects.Put(ctx, key, io.LimitReader(r, upload.MaxFileSize), size, mimeType); err != nil {
		return domain.Attachment{}, fmt.Errorf("store attachment: %w", err)
	}
	url, err := a.objects.PresignGet(ctx, key, fileName, a.presignExpiry)
	if err != nil {
		return domain.Attachment{}, fmt.Errorf("presign attachment: %w", err)
	}
	return domain.Attachment{
		FileName:  fileName,
		FileSize:  size,
		MimeType:  mimeType,
		URL:       url,
		IsImage:   upload.IsImageMime(mimeType),
		StorageID: key,
	}, nil
}

// SweepOrphans deletes stored objects older than minAge that no message
// references. An upload whose send was later abandoned leaks its object;
// the sweep reconciles those.
func (a *App) SweepOrphans(ctx context.Context, minAge time.Duration) (int, error) {
	objects, err := a.objects.List(ctx, "bookings/")
	if err != nil {
		return 0, fmt.Errorf("list objects: %w", err)
	}
	cutoff := time.Now().UTC().Add(-minAge)
	deleted := 0
	for _, obj := range objects {
		if obj.LastModified.After(cutoff) {
			continue
		}
		referenced, err := a.store.IsStorageIDReferenced(obj.Key)
		if err != nil {
			return deleted, fmt.Errorf("check reference %s: %w", obj.Key, err)
		}
		if referenced {
			continue
		}
		if err := a.objects.Delete(ctx, obj.Key); err != nil {
			slog.Warn("orphan delete failed", "key", obj.Key, "err", err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

// RunSweeper runs the orphan sweep on an interval until ctx is cancelled.
func (a *App) RunSweeper(ctx context.Context, interval, minAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := a.SweepOrphans(ctx, minAge)
			if err != nil {
				slog.Warn("orphan sweep failed", "err", err)
				continue
			}
			if deleted > 0 {
				slog.Info("orphan sweep completed", "deleted", deleted)
			}
		}
	}
}
