package render

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"consultchat/pkg/domain"
)

func textMsg(sender domain.SenderType) domain.Message {
	return domain.Message{
		ID:          "m1",
		BookingID:   "b1",
		SenderID:    "u1",
		SenderType:  sender,
		Content:     "hello",
		MessageType: domain.MessageText,
		CreatedAt:   time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestPresentOwnVersusOther(t *testing.T) {
	msg := textMsg(domain.SenderClient)

	asClient := Present(msg, domain.SenderClient)
	if !asClient.IsOwn {
		t.Fatalf("client viewing own message should be own")
	}
	asProvider := Present(msg, domain.SenderProvider)
	if asProvider.IsOwn {
		t.Fatalf("provider viewing client message should not be own")
	}
}

func TestPresentSystemMessageIsNeverOwn(t *testing.T) {
	msg := textMsg(domain.SenderSystem)
	msg.MessageType = domain.MessageSystem

	for _, viewer := range []domain.SenderType{domain.SenderClient, domain.SenderProvider} {
		model := Present(msg, viewer)
		if model.Kind != KindBanner {
			t.Fatalf("system message should render as banner, got %q", model.Kind)
		}
		if model.IsOwn {
			t.Fatalf("system message must never be own")
		}
		if model.Receipt != ReceiptNone {
			t.Fatalf("system message carries no receipt")
		}
	}
}

func TestPresentReceiptOnlyOnOwnMessages(t *testing.T) {
	msg := textMsg(domain.SenderProvider)

	model := Present(msg, domain.SenderProvider)
	if model.Receipt != ReceiptSent {
		t.Fatalf("unread own message should show sent, got %q", model.Receipt)
	}
	msg.IsRead = true
	model = Present(msg, domain.SenderProvider)
	if model.Receipt != ReceiptRead {
		t.Fatalf("read own message should show read, got %q", model.Receipt)
	}
	// The recipient never sees a receipt indicator.
	model = Present(msg, domain.SenderClient)
	if model.Receipt != ReceiptNone {
		t.Fatalf("recipient should see no receipt, got %q", model.Receipt)
	}
}

func TestPresentAttachmentChrome(t *testing.T) {
	msg := textMsg(domain.SenderClient)
	msg.MessageType = domain.MessageImage
	msg.Attachments = []domain.Attachment{
		{FileName: "photo.jpg", FileSize: 2 << 20, MimeType: "image/jpeg", URL: "https://cdn/p", IsImage: true},
		{FileName: "contract.pdf", FileSize: 800, MimeType: "application/pdf", URL: "https://cdn/c"},
	}

	model := Present(msg, domain.SenderProvider)
	if len(model.Attachments) != 2 {
		t.Fatalf("expected 2 attachment views, got %d", len(model.Attachments))
	}
	if !model.Attachments[0].Inline {
		t.Fatalf("image attachment should render inline")
	}
	if model.Attachments[1].Inline {
		t.Fatalf("document attachment should render as chip")
	}
	if model.Attachments[0].SizeLabel != "2.0 MB" {
		t.Fatalf("unexpected size label %q", model.Attachments[0].SizeLabel)
	}
	if model.Attachments[1].SizeLabel != "800 B" {
		t.Fatalf("unexpected size label %q", model.Attachments[1].SizeLabel)
	}
}

func TestPresentFlaggedShowsTextWithNotice(t *testing.T) {
	msg := textMsg(domain.SenderClient)
	msg.Flagged = true

	for _, viewer := range []domain.SenderType{domain.SenderClient, domain.SenderProvider} {
		model := Present(msg, viewer)
		if !model.Flagged || model.FlagNotice == "" {
			t.Fatalf("flagged message should carry the safety notice")
		}
		if model.Content != "hello" {
			t.Fatalf("flag is informational, text must remain visible")
		}
	}
}

func TestDownloaderSavesUnderOriginalName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pdf-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	att := domain.Attachment{FileName: "Tax Summary 2025.pdf", URL: srv.URL + "/objects/8f2c1a"}
	path, err := NewDownloader(srv.Client()).Save(context.Background(), att, dir)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if filepath.Base(path) != "Tax Summary 2025.pdf" {
		t.Fatalf("saved name should be the original file name, got %q", filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "pdf-bytes" {
		t.Fatalf("unexpected file contents %q err=%v", data, err)
	}
}

func TestDownloaderFallsBackToRawURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	att := domain.Attachment{FileName: "doc.pdf", URL: srv.URL + "/objects/x"}
	_, err := NewDownloader(srv.Client()).Save(context.Background(), att, t.TempDir())
	var fallback *FallbackError
	if !errors.As(err, &fallback) {
		t.Fatalf("expected FallbackError, got %v", err)
	}
	if fallback.URL != att.URL {
		t.Fatalf("fallback should carry the raw URL, got %q", fallback.URL)
	}
}
