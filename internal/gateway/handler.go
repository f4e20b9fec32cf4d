// Package gateway accepts device websocket connections and runs one session
// per connection.
package gateway

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/device-gateway/internal/observability"
	"github.com/lexiqai/device-gateway/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Devices connect directly; origin is not checked
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Handler upgrades device connections and runs their sessions
type Handler struct {
	opts     session.Options
	deps     session.Deps
	registry *Registry
	logger   zerolog.Logger
}

// NewHandler creates a handler that builds sessions from opts and deps
func NewHandler(opts session.Options, deps session.Deps, registry *Registry) *Handler {
	return &Handler{
		opts:     opts,
		deps:     deps,
		registry: registry,
		logger:   observability.WithComponent("gateway"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	deviceID := deviceIDFrom(r)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	transport := newTransport(conn)

	s, err := session.New(transport, deviceID, h.opts, h.deps)
	if err != nil {
		h.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to create session")
		transport.Close()
		return
	}

	h.registry.Add(s)
	defer h.registry.Remove(s.ID())

	h.logger.Info().
		Str("session_id", s.ID()).
		Str("device_id", deviceID).
		Str("remote", r.RemoteAddr).
		Str("protocol_version", r.Header.Get("Protocol-Version")).
		Msg("Device connected")

	if err := s.Run(r.Context()); err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.Debug().Err(err).Str("session_id", s.ID()).Msg("Session ended with error")
	}
}

// deviceIDFrom reads the device id header, falling back to the query string
// for clients that cannot set headers
func deviceIDFrom(r *http.Request) string {
	if id := r.Header.Get("Device-Id"); id != "" {
		return id
	}
	if id := r.URL.Query().Get("device-id"); id != "" {
		return id
	}
	return "anonymous-" + uuid.NewString()[:8]
}
