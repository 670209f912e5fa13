package render

import (
	"fmt"

	"consultchat/pkg/domain"
)

// Kind selects the chrome a message renders with.
type Kind string

const (
	KindText     Kind = "text"
	KindImage    Kind = "image"
	KindDocument Kind = "document"
	KindBanner   Kind = "banner" // centered informational system message
)

// Receipt is the read state shown on the sender's own messages.
type Receipt string

const (
	ReceiptNone Receipt = ""
	ReceiptSent Receipt = "sent"
	ReceiptRead Receipt = "read"
)

// AttachmentView is one attachment prepared for display.
type AttachmentView struct {
	FileName string
	MimeType string
	URL      string
	// Inline images render with click-to-expand; documents render as a
	// named, sized chip with an explicit download action.
	Inline    bool
	SizeLabel string
}

// RenderModel is the presentation of one message for one viewer.
type RenderModel struct {
	Kind        Kind
	IsOwn       bool
	Content     string
	Attachments []AttachmentView
	Receipt     Receipt
	// Flagged messages show their text plus a safety indicator; the flag
	// is informational, never a redaction.
	Flagged    bool
	FlagNotice string
}

const flagNotice = "Filtered for safety"

// Present maps a message and the viewer's role to presentation rules.
// It is a pure function of its inputs.
func Present(msg domain.Message, viewer domain.SenderType) RenderModel {
	if msg.SenderType == domain.SenderSystem {
		return RenderModel{
			Kind:    KindBanner,
			Content: msg.Content,
		}
	}

	model := RenderModel{
		Kind:    kindFor(msg),
		IsOwn:   msg.SenderType == viewer,
		Content: msg.Content,
		Flagged: msg.Flagged,
	}
	if msg.Flagged {
		model.FlagNotice = flagNotice
	}
	if model.IsOwn {
		model.Receipt = ReceiptSent
		if msg.IsRead {
			model.Receipt = ReceiptRead
		}
	}
	for _, att := range msg.Attachments {
		model.Attachments = append(model.Attachments, AttachmentView{
			FileName:  att.FileName,
			MimeType:  att.MimeType,
			URL:       att.URL,
			Inline:    att.IsImage,
			SizeLabel: sizeLabel(att.FileSize),
		})
	}
	return model
}

func kindFor(msg domain.Message) Kind {
	switch msg.MessageType {
	case domain.MessageImage:
		return KindImage
	case domain.MessageDocument:
		return KindDocument
	default:
		return KindText
	}
}

func sizeLabel(size int64) string {
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(size)/float64(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(size)/float64(1<<10))
	default:
		return fmt.Sprintf("%d B", size)
	}
}
