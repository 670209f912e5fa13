package bookingclient

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"consultchat/pkg/domain"
)

// Client calls the booking service over HTTP. Conversations are scoped
// to bookings the host application owns; this client only reads them.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// APIError represents a booking service error response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return e.Message
}

// NewClient constructs a booking service client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// GetBooking fetches a booking by id using the caller's bearer token.
func (c *Client) GetBooking(token, id string) (domain.Booking, error) {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+"/bookings/"+id, nil)
	if err != nil {
		return domain.Booking{}, err
	}
	addAuthHeader(req, token)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Booking{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return domain.Booking{}, &APIError{Status: resp.StatusCode, Message: msg}
	}
	var booking domain.Booking
	if err := json.NewDecoder(resp.Body).Decode(&booking); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}

func addAuthHeader(req *http.Request, token string) {
	if strings.TrimSpace(token) == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
