// Package session tracks the WhatsApp connection lifecycle as a single state
// record with an explicit transition function.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

// Status is a node of the connection state machine.
type Status string

const (
	Disconnected   Status = "disconnected"
	AwaitingScan   Status = "qr"
	Authenticating Status = "authenticating"
	Connected      Status = "connected"
)

// ErrInvalidTransition is returned when an event is not allowed from the current status.
var ErrInvalidTransition = errors.New("invalid session transition")

// Snapshot is a copy of the session record at one point in time.
type Snapshot struct {
	Status    Status    `json:"status"`
	QRCode    string    `json:"qrCode,omitempty"`
	Percent   int       `json:"percent,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Connected reports whether the session can send messages.
func (s Snapshot) Connected() bool {
	return s.Status == Connected
}

// Listener is notified after every successful transition.
type Listener func(prev, next Snapshot)

// State is the process-wide session record. The zero value is not usable; use New.
type State struct {
	mu        sync.RWMutex
	snap      Snapshot
	listeners []Listener
	now       func() time.Time
}

// New returns a state in Disconnected.
func New() *State {
	s := &State{now: time.Now}
	s.snap = Snapshot{Status: Disconnected, UpdatedAt: s.now()}
	return s
}

// Snapshot returns a copy of the current record.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// IsConnected is shorthand for Snapshot().Connected().
func (s *State) IsConnected() bool {
	return s.Snapshot().Connected()
}

// Subscribe registers l for transition notifications.
func (s *State) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Transition applies a gateway lifecycle event:
//
//	Disconnected -> AwaitingScan -> Authenticating -> Connected
//	Connected -> Disconnected
//
// A stored session skips the scan (Disconnected -> Authenticating or
// Disconnected -> Connected). Listeners run after the lock is released.
func (s *State) Transition(ev *models.SessionEvent) (Snapshot, error) {
	if err := ev.Validate(); err != nil {
		return s.Snapshot(), err
	}

	s.mu.Lock()
	prev := s.snap
	next, err := apply(prev, ev)
	if err != nil {
		s.mu.Unlock()
		slog.Debug("Session.Transition: rejected", "from", prev.Status, "event", ev.Type)
		return prev, err
	}
	next.UpdatedAt = s.now()
	s.snap = next
	listeners := append([]Listener(nil), s.listeners...)
	s.mu.Unlock()

	if prev.Status != next.Status {
		slog.Info("Session.Transition", "from", prev.Status, "to", next.Status)
	}
	for _, l := range listeners {
		l(prev, next)
	}
	return next, nil
}

func apply(cur Snapshot, ev *models.SessionEvent) (Snapshot, error) {
	next := cur
	switch ev.Type {
	case models.SessionQR:
		if cur.Status == Connected {
			return cur, invalid(cur.Status, ev.Type)
		}
		next = Snapshot{Status: AwaitingScan, QRCode: ev.QRCode}
	case models.SessionAuthenticated:
		if cur.Status == Connected {
			return cur, invalid(cur.Status, ev.Type)
		}
		next = Snapshot{Status: Authenticating}
	case models.SessionLoading:
		if cur.Status == Connected {
			return cur, invalid(cur.Status, ev.Type)
		}
		next = Snapshot{Status: Authenticating, Percent: ev.Percent}
	case models.SessionReady:
		next = Snapshot{Status: Connected, Percent: 100}
	case models.SessionDisconnected:
		next = Snapshot{Status: Disconnected, Reason: ev.Reason}
	default:
		return cur, invalid(cur.Status, ev.Type)
	}
	return next, nil
}

func invalid(from Status, ev models.SessionEventType) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, from)
}
