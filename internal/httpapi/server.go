package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/dmaretti/crewdeck/internal/config"
	"github.com/dmaretti/crewdeck/internal/hub"
	"github.com/dmaretti/crewdeck/internal/observability"
	"github.com/dmaretti/crewdeck/internal/protocol"
	"github.com/dmaretti/crewdeck/internal/queue"
	"github.com/dmaretti/crewdeck/internal/room"
	"github.com/dmaretti/crewdeck/internal/settings"
)

// ChatRunner forwards operator chat into an agent turn. The agent bridge
// implements it.
type ChatRunner interface {
	HandleChat(ctx context.Context, sender, text string) error
	ProviderName() string
}

type Server struct {
	cfg      config.Config
	store    *queue.Store
	gate     *queue.Gate
	hub      *hub.Hub
	chat     ChatRunner
	settings *settings.Store
	relay    *room.Relay
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, store *queue.Store, gate *queue.Gate, h *hub.Hub, chat ChatRunner, st *settings.Store, relay *room.Relay, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		store:    store,
		gate:     gate,
		hub:      h,
		chat:     chat,
		settings: st,
		relay:    relay,
		metrics:  metrics,
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the
				// same origin. This prevents other websites from approving
				// tasks if the dashboard is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/dashboard/ws", s.handleDashboardWS)
	r.Get("/v1/status", s.handleStatus)

	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/tasks/history", s.handleTaskHistory)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Post("/v1/tasks/{id}/approve", s.handleApproveTask)
	r.Post("/v1/tasks/{id}/reject", s.handleRejectTask)

	r.Get("/v1/settings", s.handleGetSettings)
	r.Post("/v1/settings", s.handleUpdateSettings)

	r.Get("/v1/files", s.handleFiles)
	r.Get("/v1/files/content", s.handleFileContent)

	r.Post("/v1/room/offer", s.handleRoomOffer)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"connected_clients": s.hub.ActiveCount(),
	})
}

func (s *Server) handleDashboardWS(w http.ResponseWriter, r *http.Request) {
	sender := strings.TrimSpace(r.URL.Query().Get("name"))
	if sender == "" {
		sender = "operator"
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sess := s.hub.Connect()
	s.metrics.ConnectedClients.Set(float64(s.hub.ActiveCount()))
	defer func() {
		s.hub.Disconnect(sess)
		s.metrics.ConnectedClients.Set(float64(s.hub.ActiveCount()))
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sess.Outbound():
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.hub.Notify(sess, protocol.ErrorEvent{
				Type:   protocol.TypeErrorEvent,
				Code:   "invalid_client_message",
				Detail: err.Error(),
			})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}

		switch m := parsed.(type) {
		case protocol.TaskDecision:
			s.hub.Decide(sess, m)
		case protocol.ChatSend:
			if s.chat == nil {
				s.hub.Notify(sess, protocol.ErrorEvent{
					Type:   protocol.TypeErrorEvent,
					Code:   "agent_unavailable",
					Detail: "no agent provider configured",
				})
				continue
			}
			// Agent turns block on approvals, so they must not occupy the
			// read loop that delivers those approvals.
			go func() {
				if err := s.chat.HandleChat(ctx, sender, m.Text); err != nil {
					s.hub.Notify(sess, protocol.ErrorEvent{
						Type:   protocol.TypeErrorEvent,
						Code:   "chat_failed",
						Detail: err.Error(),
					})
				}
			}()
		}
	}

	cancel()
	<-writerDone
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.TaskDecision:
		return m.Type, true
	case protocol.ChatSend:
		return m.Type, true
	case protocol.Snapshot:
		return m.Type, true
	case protocol.TaskEvent:
		return m.Type, true
	case protocol.RoomChat:
		return m.Type, true
	case protocol.AgentDelta:
		return m.Type, true
	case protocol.AgentDone:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}
