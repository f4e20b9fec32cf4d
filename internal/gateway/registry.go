package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/device-gateway/internal/observability"
)

// Member is a live connection tracked by the registry
type Member interface {
	ID() string
	DeviceID() string
	Close()
	Done() <-chan struct{}
}

// Registry is the process-wide set of live sessions
type Registry struct {
	mu      sync.Mutex
	members map[string]Member
	logger  zerolog.Logger
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		members: make(map[string]Member),
		logger:  observability.WithComponent("registry"),
	}
}

// Add tracks m until Remove is called
func (r *Registry) Add(m Member) {
	r.mu.Lock()
	r.members[m.ID()] = m
	n := len(r.members)
	r.mu.Unlock()
	r.logger.Debug().Str("session_id", m.ID()).Str("device_id", m.DeviceID()).Int("sessions", n).Msg("Session registered")
}

// Remove stops tracking the session with id
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	delete(r.members, id)
	n := len(r.members)
	r.mu.Unlock()
	r.logger.Debug().Str("session_id", id).Int("sessions", n).Msg("Session removed")
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// CloseAll closes every live session and waits for them to finish or for
// ctx to end
func (r *Registry) CloseAll(ctx context.Context) error {
	r.mu.Lock()
	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	r.mu.Unlock()

	if len(members) > 0 {
		r.logger.Info().Int("sessions", len(members)).Msg("Closing live sessions")
	}
	for _, m := range members {
		m.Close()
	}
	for _, m := range members {
		select {
		case <-m.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
