// Package web serves the browser chat: a single page, a JSON message endpoint,
// a clear endpoint and a websocket for clients that keep a connection open.
package web

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/comigor/parley/internal/chat"
	"github.com/comigor/parley/internal/history"
	"github.com/comigor/parley/internal/llm"
	"github.com/comigor/parley/internal/logger"
)

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Handler serves the chat endpoints.
type Handler struct {
	sessions *Sessions
	upgrader websocket.Upgrader
}

// New creates the chat handler.
func New(sessions *Sessions) *Handler {
	return &Handler{sessions: sessions}
}

type messageRequest struct {
	Message string `json:"message"`
}

type messageResponse struct {
	Response  string `json:"response"`
	Timestamp string `json:"timestamp"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// RegisterRoutes registers the chat routes on r. Every route runs with the
// caller's session in its context.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.sessions.withSession)
		r.Get("/", h.handleIndex)
		r.Post("/message", h.handleMessage)
		r.Post("/clear", h.handleClear)
		r.Get("/history", h.handleHistory)
		r.Get("/ws", h.handleWebsocket)
	})
}

// NewRouter wires the chat handler behind the standard middleware stack.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	h.RegisterRoutes(r)
	return r
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, struct{ Conversation []history.Message }{sess.History()}); err != nil {
		logger.L.Error("render index", "error", err)
	}
}

func (h *Handler) handleMessage(w http.ResponseWriter, r *http.Request) {
	var payload messageRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := sessionFrom(r.Context()).Reply(r.Context(), payload.Message)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Response: msg.Content, Timestamp: msg.Timestamp})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r.Context()).Clear(); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, sessionFrom(r.Context()).History())
}

func (h *Handler) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())

	var header http.Header
	if cookies := w.Header().Values("Set-Cookie"); len(cookies) > 0 {
		header = http.Header{"Set-Cookie": cookies}
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		logger.L.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var payload messageRequest
		if err := conn.ReadJSON(&payload); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.L.Warn("websocket read failed", "session", sess.ID(), "error", err)
			}
			return
		}

		var out any
		msg, err := sess.Reply(r.Context(), payload.Message)
		if err != nil {
			out = errorResponse{Error: err.Error()}
		} else {
			out = messageResponse{Response: msg.Content, Timestamp: msg.Timestamp}
		}
		if err := conn.WriteJSON(out); err != nil {
			logger.L.Warn("websocket write failed", "session", sess.ID(), "error", err)
			return
		}
	}
}

// statusFor maps session errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, llm.ErrMissingCredential):
		return http.StatusServiceUnavailable
	}
	var gwErr *llm.GatewayError
	if errors.As(err, &gwErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.L.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}
