package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"consultchat/pkg/domain"
)

// ErrContentRejected marks a server-side content-safety rejection. It is
// recoverable: the caller keeps the composed text staged for editing.
var ErrContentRejected = errors.New("message rejected by content safety")

const policyReason = "content_policy"

// Client calls the conversation store over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a conversation store error response.
type APIError struct {
	Status  int
	Message string
	Reason  string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a conversation store client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Messages fetches the ordered message page for a booking.
func (c *Client) Messages(ctx context.Context, token, bookingID string) ([]domain.Message, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/bookings/"+bookingID+"/messages", nil)
	if err != nil {
		return nil, err
	}
	addAuthHeader(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, decodeAPIError(resp)
	}
	var payload struct {
		Messages []WireMessage `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]domain.Message, 0, len(payload.Messages))
	for _, wire := range payload.Messages {
		msgs = append(msgs, wire.Normalize())
	}
	return msgs, nil
}

// CreateMessage posts a new message. All attachment references must be
// fully resolved uploads; the store never sees partial attachments.
func (c *Client) CreateMessage(ctx context.Context, token, bookingID, content string, attachments []domain.Attachment) (domain.Message, error) {
	body, err := json.Marshal(map[string]any{
		"content":     content,
		"attachments": attachments,
	})
	if err != nil {
		return domain.Message{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/bookings/"+bookingID+"/messages", bytes.NewReader(body))
	if err != nil {
		return domain.Message{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	addAuthHeader(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Message{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		apiErr := decodeAPIError(resp)
		var typed *APIError
		if errors.As(apiErr, &typed) && typed.Reason == policyReason {
			return domain.Message{}, fmt.Errorf("%w: %s", ErrContentRejected, typed.Message)
		}
		return domain.Message{}, apiErr
	}
	var wire WireMessage
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return domain.Message{}, fmt.Errorf("decode created message: %w", err)
	}
	return wire.Normalize(), nil
}

// MarkRead marks the counterparty's messages in the booking as read.
func (c *Client) MarkRead(ctx context.Context, token, bookingID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/bookings/"+bookingID+"/messages/read", nil)
	if err != nil {
		return err
	}
	addAuthHeader(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	return nil
}

// UploadAttachment streams a file to durable storage and returns the
// resolved attachment reference.
func (c *Client) UploadAttachment(ctx context.Context, token, bookingID, fileName, mimeType string, size int64, r io.Reader) (domain.Attachment, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, fileName))
		header.Set("Content-Type", mimeType)
		part, err := form.CreatePart(header)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, r); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(form.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/bookings/"+bookingID+"/attachments", pr)
	if err != nil {
		return domain.Attachment{}, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	addAuthHeader(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Attachment{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.Attachment{}, decodeAPIError(resp)
	}
	var att domain.Attachment
	if err := json.NewDecoder(resp.Body).Decode(&att); err != nil {
		return domain.Attachment{}, fmt.Errorf("decode attachment: %w", err)
	}
	if att.FileSize == 0 {
		att.FileSize = size
	}
	return att, nil
}

func decodeAPIError(resp *http.Response) error {
	var errResp struct {
		Error  string `json:"error"`
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&errResp)
	msg := errResp.Error
	if msg == "" {
		msg = resp.Status
	}
	return &APIError{Status: resp.StatusCode, Message: msg, Reason: errResp.Reason}
}

func addAuthHeader(req *http.Request, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
