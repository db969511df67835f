package session

import (
	"fmt"

	"github.com/daviddao/skyclock/pkg/model"
	"github.com/daviddao/skyclock/pkg/queue"
	"github.com/daviddao/skyclock/pkg/remote"
)

// PropertyField returns the ref of a property.
func PropertyField(id string) model.EditRef {
	return model.EditRef{Kind: model.EditProperty, Field: id}
}

// SetProperty applies a property value locally and queues it. Every
// property id has its own queue.
func (s *Session) SetProperty(id, value string) bool {
	if id == "" {
		return false
	}
	s.mu.Lock()
	if cur, ok := s.props[id]; ok && cur == value {
		s.mu.Unlock()
		return false
	}
	s.props[id] = value
	q := s.propQueueLocked(id)
	s.force = true
	s.mu.Unlock()

	q.Enqueue(model.PropertyUpdate{ID: id, Value: value})
	s.render()
	return true
}

// Property returns the locally known value of a property.
func (s *Session) Property(id string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[id]
	return v, ok
}

// PropertyChangeID returns the change id to send with the next status poll.
// It is -2 until the server has answered one, which asks for every property.
func (s *Session) PropertyChangeID() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.propID
}

func (s *Session) propQueueLocked(id string) *queue.Queue[model.PropertyUpdate] {
	q, ok := s.propQ[id]
	if !ok {
		q = queue.New(remote.PropertySetEndpoint, s.cfg.Poster, s.queueConfig(), completion[model.PropertyUpdate](s))
		s.propQ[id] = q
	}
	return q
}

func (s *Session) propertyBusyLocked(id string) bool {
	if s.paused[PropertyField(id)] {
		return true
	}
	q, ok := s.propQ[id]
	return ok && q.Queued()
}

func formatProperty(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return formatNumber(v)
	default:
		return fmt.Sprint(v)
	}
}
