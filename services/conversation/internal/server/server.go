package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"consultchat/internal/ratelimit"
	"consultchat/internal/util"
	"consultchat/pkg/domain"
	"consultchat/pkg/upload"
	"consultchat/services/conversation/internal/app"
	"consultchat/services/conversation/internal/bookingclient"
)

const policyReason = "content_policy"

// TokenVerifier validates a bearer token and returns the subject user ID.
type TokenVerifier interface {
	VerifySubject(token string) (string, error)
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	Bookings      *bookingclient.Client
	TokenVerifier TokenVerifier
	SendLimiter   *ratelimit.FixedWindowLimiter
}

// Server exposes HTTP endpoints for the conversation service.
type Server struct {
	app           *app.App
	bookings      *bookingclient.Client
	tokenVerifier TokenVerifier
	sendLimiter   *ratelimit.FixedWindowLimiter
	mux           *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		app:           cfg.App,
		bookings:      cfg.Bookings,
		tokenVerifier: cfg.TokenVerifier,
		sendLimiter:   cfg.SendLimiter,
		mux:           http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(s.mux))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("GET /api/bookings/{id}/messages", s.withParticipant(s.handleListMessages))
	s.mux.Handle("POST /api/bookings/{id}/messages", s.withParticipant(s.handleCreateMessage))
	s.mux.Handle("POST /api/bookings/{id}/messages/read", s.withParticipant(s.handleMarkRead))
	s.mux.Handle("POST /api/bookings/{id}/attachments", s.withParticipant(s.handleUploadAttachment))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type participantHandler func(http.ResponseWriter, *http.Request, domain.Booking, string)

// withParticipant authenticates the caller and checks they belong to the
// booking named in the path. Everything behind it can trust both.
func (s *Server) withParticipant(next participantHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		userID, err := s.tokenVerifier.VerifySubject(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		bookingID := strings.TrimSpace(r.PathValue("id"))
		if bookingID == "" {
			writeError(w, http.StatusBadRequest, "booking id is required")
			return
		}
		booking, err := s.bookings.GetBooking(token, bookingID)
		if err != nil {
			writeBookingError(w, err)
			return
		}
		if _, ok := booking.ParticipantRole(userID); !ok {
			slog.Info("security_event", "event", "conversation_access_denied", "bookingId", bookingID, "userId", userID)
			writeError(w, http.StatusForbidden, "not a booking participant")
			return
		}
		next(w, r, booking, userID)
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request, booking domain.Booking, userID string) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}
	msgs, err := s.app.ListMessages(booking, userID, limit)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type createMessageRequest struct {
	Content     string              `json:"content"`
	Attachments []domain.Attachment `json:"attachments"`
}

func (s *Server) handleCreateMessage(w http.ResponseWriter, r *http.Request, booking domain.Booking, userID string) {
	if !s.allowSend(userID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	var req createMessageRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	msg, err := s.app.CreateMessage(r.Context(), booking, userID, req.Content, req.Attachments)
	if err != nil {
		if errors.Is(err, app.ErrContentPolicy) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  "message violates the content policy",
				"reason": policyReason,
			})
			return
		}
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request, booking domain.Booking, userID string) {
	updated, err := s.app.MarkRead(booking, userID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (s *Server) handleUploadAttachment(w http.ResponseWriter, r *http.Request, booking domain.Booking, userID string) {
	if !s.allowSend(userID) {
		writeError(w, http.StatusTooManyRequests, "too many requests")
		return
	}
	// Multipart framing adds overhead on top of the file ceiling.
	r.Body = http.MaxBytesReader(w, r.Body, upload.MaxFileSize+1<<20)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	att, err := s.app.UploadAttachment(r.Context(), booking, userID, header.Filename, mimeType, header.Size, file)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, att)
}

func (s *Server) allowSend(userID string) bool {
	if s.sendLimiter == nil {
		return true
	}
	allowed := s.sendLimiter.Allow(userID)
	if !allowed {
		slog.Info("security_event", "event", "rate_limited", "userId", userID)
	}
	return allowed
}

func writeAppError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrNotParticipant):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, app.ErrEmptyMessage),
		errors.Is(err, app.ErrBadAttachment),
		errors.Is(err, upload.ErrTooLarge),
		errors.Is(err, upload.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeBookingError(w http.ResponseWriter, err error) {
	var apiErr *bookingclient.APIError
	if errors.As(err, &apiErr) {
		writeError(w, apiErr.Status, apiErr.Message)
		return
	}
	writeError(w, http.StatusBadGateway, "booking service unavailable")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}
