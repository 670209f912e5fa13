package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"consultchat/internal/ratelimit"
	"consultchat/pkg/chatapi"
	"consultchat/pkg/domain"
	"consultchat/pkg/storage"
	"consultchat/pkg/store"
	"consultchat/services/conversation/internal/app"
	"consultchat/services/conversation/internal/bookingclient"
)

// staticVerifier resolves tokens to subjects from a fixed table.
type staticVerifier map[string]string

func (v staticVerifier) VerifySubject(token string) (string, error) {
	subject, ok := v[token]
	if !ok {
		return "", errors.New("unknown token")
	}
	return subject, nil
}

// memObjects is an in-process object store for tests.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Put(_ context.Context, key string, r io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) PresignGet(_ context.Context, key, _ string, _ time.Duration) (string, error) {
	return "https://storage.local/" + key, nil
}

func (m *memObjects) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	return out, nil
}

var testBooking = domain.Booking{
	ID:          "bk-1",
	ClientID:    "client-1",
	ProviderID:  "provider-1",
	BookingType: domain.BookingVideoCall,
	Status:      domain.BookingConfirmed,
}

func newBookingService(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bookings/"+testBooking.ID {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "booking not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(testBooking)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type testEnv struct {
	server  *httptest.Server
	objects *memObjects
	store   *store.MemoryStore
}

func newTestEnv(t *testing.T, limiter *ratelimit.FixedWindowLimiter) testEnv {
	t.Helper()
	memStore := store.NewMemoryStore()
	objects := newMemObjects()
	appCore, err := app.New(app.Config{Store: memStore, Objects: objects})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	bookings := newBookingService(t)
	httpServer := New(Config{
		App:      appCore,
		Bookings: bookingclient.NewClient(bookings.URL),
		TokenVerifier: staticVerifier{
			"client-token":   "client-1",
			"provider-token": "provider-1",
			"stranger-token": "stranger-1",
		},
		SendLimiter: limiter,
	})
	srv := httptest.NewServer(httpServer.Router())
	t.Cleanup(srv.Close)
	return testEnv{server: srv, objects: objects, store: memStore}
}

func TestMessageRoundTripWithReadReceipt(t *testing.T) {
	env := newTestEnv(t, nil)
	client := chatapi.NewClient(env.server.URL)
	ctx := context.Background()

	sent, err := client.CreateMessage(ctx, "client-token", testBooking.ID, "Hi", nil)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if sent.MessageType != domain.MessageText || sent.IsRead {
		t.Fatalf("expected unread TEXT message, got %+v", sent)
	}
	if sent.ID == "" || sent.CreatedAt.IsZero() {
		t.Fatalf("server must assign id and timestamp")
	}

	// Provider's poll includes it.
	msgs, err := client.Messages(ctx, "provider-token", testBooking.ID)
	if err != nil {
		t.Fatalf("provider poll: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Fatalf("expected the sent message, got %+v", msgs)
	}

	// Provider marks it read; a second call changes nothing.
	for i := 0; i < 2; i++ {
		if err := client.MarkRead(ctx, "provider-token", testBooking.ID); err != nil {
			t.Fatalf("mark read: %v", err)
		}
	}

	// The sender's next poll sees the flip.
	msgs, err = client.Messages(ctx, "client-token", testBooking.ID)
	if err != nil {
		t.Fatalf("client poll: %v", err)
	}
	if !msgs[0].IsRead {
		t.Fatalf("sender should see isRead after the recipient marks read")
	}
}

func TestNonParticipantIsForbidden(t *testing.T) {
	env := newTestEnv(t, nil)
	client := chatapi.NewClient(env.server.URL)

	_, err := client.Messages(context.Background(), "stranger-token", testBooking.ID)
	var apiErr *chatapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusForbidden {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestMissingTokenIsUnauthorized(t *testing.T) {
	env := newTestEnv(t, nil)
	resp, err := http.Get(env.server.URL + "/api/bookings/" + testBooking.ID + "/messages")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestBlockedContentReturnsPolicyReason(t *testing.T) {
	env := newTestEnv(t, nil)
	client := chatapi.NewClient(env.server.URL)

	_, err := client.CreateMessage(context.Background(), "client-token", testBooking.ID, "email me at me@example.com", nil)
	if !errors.Is(err, chatapi.ErrContentRejected) {
		t.Fatalf("expected content rejection, got %v", err)
	}
	// The blocked message leaves nothing behind.
	msgs, err := client.Messages(context.Background(), "client-token", testBooking.ID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("blocked content must not persist, got %d messages", len(msgs))
	}
}

func TestFlaggedContentIsStoredWithIndicator(t *testing.T) {
	env := newTestEnv(t, nil)
	client := chatapi.NewClient(env.server.URL)

	sent, err := client.CreateMessage(context.Background(), "client-token", testBooking.ID, "can we continue on whatsapp", nil)
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if !sent.Flagged {
		t.Fatalf("soft match should flag the stored message")
	}
	msgs, _ := client.Messages(context.Background(), "provider-token", testBooking.ID)
	if len(msgs) != 1 || !msgs[0].Flagged || msgs[0].Content == "" {
		t.Fatalf("flag is informational, text must remain visible: %+v", msgs)
	}
}

func TestUploadAttachmentRoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	client := chatapi.NewClient(env.server.URL)
	ctx := context.Background()

	content := strings.Repeat("x", 2048)
	att, err := client.UploadAttachment(ctx, "client-token", testBooking.ID, "photo.png", "image/png", int64(len(content)), strings.NewReader(content))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if att.StorageID == "" || !att.IsImage || att.FileName != "photo.png" {
		t.Fatalf("unexpected attachment %+v", att)
	}

	msg, err := client.CreateMessage(ctx, "client-token", testBooking.ID, "", []domain.Attachment{att})
	if err != nil {
		t.Fatalf("create message: %v", err)
	}
	if msg.MessageType != domain.MessageImage || len(msg.Attachments) != 1 {
		t.Fatalf("expected IMAGE message with the attachment, got %+v", msg)
	}
	referenced, err := env.store.IsStorageIDReferenced(att.StorageID)
	if err != nil || !referenced {
		t.Fatalf("stored object should be referenced, got %v %v", referenced, err)
	}
}

func TestCreateMessageRejectsUnresolvedAttachments(t *testing.T) {
	env := newTestEnv(t, nil)
	client := chatapi.NewClient(env.server.URL)
	ctx := context.Background()

	// References without a storage id never came from a completed upload.
	_, err := client.CreateMessage(ctx, "client-token", testBooking.ID, "see attached", []domain.Attachment{
		{FileName: "a.pdf", FileSize: 10, MimeType: "application/pdf", URL: "https://cdn/a"},
		{FileName: "b.pdf", FileSize: 10, MimeType: "application/pdf", URL: "https://cdn/b"},
	})
	var apiErr *chatapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest {
		t.Fatalf("expected 400 for unresolved attachments, got %v", err)
	}
	msgs, err := client.Messages(ctx, "client-token", testBooking.ID)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("rejected message must not persist, got %d", len(msgs))
	}
}

func TestUploadRejectsOversizeAndUnsupportedFiles(t *testing.T) {
	env := newTestEnv(t, nil)

	// The declared size alone rejects the upload before storage sees it.
	resp := postMultipart(t, env.server.URL, "client-token", "huge.png", "image/png", bytes.Repeat([]byte("x"), 11<<20))
	if resp.StatusCode != http.StatusBadRequest && resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected oversize rejection, got %d", resp.StatusCode)
	}
	resp = postMultipart(t, env.server.URL, "client-token", "tool.exe", "application/octet-stream", []byte("MZ"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected unsupported-type rejection, got %d", resp.StatusCode)
	}
	if objects, _ := env.objects.List(context.Background(), ""); len(objects) != 0 {
		t.Fatalf("rejected uploads must never reach storage, found %d objects", len(objects))
	}
}

func TestSendRateLimit(t *testing.T) {
	redisSrv := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redisSrv.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("init limiter: %v", err)
	}
	env := newTestEnv(t, limiter)
	client := chatapi.NewClient(env.server.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := client.CreateMessage(ctx, "client-token", testBooking.ID, fmt.Sprintf("message %d", i), nil); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	_, err = client.CreateMessage(ctx, "client-token", testBooking.ID, "one too many", nil)
	var apiErr *chatapi.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", err)
	}
	// The quota is per user; the provider still sends.
	if _, err := client.CreateMessage(ctx, "provider-token", testBooking.ID, "still fine", nil); err != nil {
		t.Fatalf("provider send: %v", err)
	}
}

func TestOrphanSweepDeletesOnlyUnreferencedObjects(t *testing.T) {
	memStore := store.NewMemoryStore()
	objects := newMemObjects()
	appCore, err := app.New(app.Config{Store: memStore, Objects: objects})
	if err != nil {
		t.Fatalf("init app: %v", err)
	}
	ctx := context.Background()

	attached, err := appCore.UploadAttachment(ctx, testBooking, "client-1", "kept.pdf", "application/pdf", 4, strings.NewReader("data"))
	if err != nil {
		t.Fatalf("upload kept: %v", err)
	}
	if _, err := appCore.CreateMessage(ctx, testBooking, "client-1", "", []domain.Attachment{attached}); err != nil {
		t.Fatalf("create message: %v", err)
	}
	orphan, err := appCore.UploadAttachment(ctx, testBooking, "client-1", "orphan.pdf", "application/pdf", 4, strings.NewReader("data"))
	if err != nil {
		t.Fatalf("upload orphan: %v", err)
	}

	deleted, err := appCore.SweepOrphans(ctx, 0)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted orphan, got %d", deleted)
	}
	remaining, _ := objects.List(ctx, "bookings/")
	if len(remaining) != 1 || remaining[0].Key != attached.StorageID {
		t.Fatalf("sweep must keep the referenced object, remaining %+v", remaining)
	}
	if gone, _ := memStore.IsStorageIDReferenced(orphan.StorageID); gone {
		t.Fatalf("orphan was never referenced")
	}
}

func postMultipart(t *testing.T, baseURL, token, fileName, mimeType string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	writeSimpleMultipart(t, &buf, fileName, mimeType, data)
	req, err := http.NewRequest(http.MethodPost, baseURL+"/api/bookings/"+testBooking.ID+"/attachments", &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary=testboundary")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func writeSimpleMultipart(t *testing.T, buf *bytes.Buffer, fileName, mimeType string, data []byte) {
	t.Helper()
	buf.WriteString("--testboundary\r\n")
	buf.WriteString(fmt.Sprintf("Content-Disposition: form-data; name=\"file\"; filename=%q\r\n", fileName))
	buf.WriteString("Content-Type: " + mimeType + "\r\n\r\n")
	buf.Write(data)
	buf.WriteString("\r\n--testboundary--\r\n")
}
