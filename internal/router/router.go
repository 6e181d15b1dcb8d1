// Package router classifies inbound frames by declared type and invokes the
// registered handler. The dispatch table is built once at startup; a frame
// with an unknown type gets an error frame back, never a disconnect.
package router

import (
	"go.uber.org/zap"

	"collabhub/internal/metrics"
	"collabhub/internal/models"
	"collabhub/internal/session"
)

// HandlerFunc processes one inbound frame for a session. Handlers decode
// frame.Data themselves via models.DecodeData.
type HandlerFunc func(s *session.Session, frame models.Frame)

type Router struct {
	handlers map[string]HandlerFunc
	registry *session.Registry
	log      *zap.Logger
}

func New(registry *session.Registry, log *zap.Logger) *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
		registry: registry,
		log:      log,
	}
}

// Handle registers a frame type. Call during startup only; the table is not
// guarded for concurrent mutation.
func (r *Router) Handle(frameType string, fn HandlerFunc) {
	r.handlers[frameType] = fn
}

// Dispatch routes one frame. Called synchronously from the session's read
// loop, which is what preserves per-session inbound ordering.
func (r *Router) Dispatch(sessionID string, frame models.Frame) {
	s, ok := r.registry.Get(sessionID)
	if !ok {
		return
	}
	fn, ok := r.handlers[frame.Type]
	if !ok {
		metrics.FramesDispatched.WithLabelValues("unknown").Inc()
		r.log.Debug("unknown frame type",
			zap.String("sessionId", sessionID), zap.String("type", frame.Type))
		_ = r.registry.Send(sessionID, models.ErrorFrame("unknown_message_type", frame.Type))
		return
	}
	metrics.FramesDispatched.WithLabelValues(frame.Type).Inc()
	fn(s, frame)
}
