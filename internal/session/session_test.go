package session

import (
	"errors"
	"testing"

	"github.com/BTreeMap/ChatWarden/internal/models"
)

func TestPairingFlow(t *testing.T) {
	s := New()
	steps := []struct {
		ev   *models.SessionEvent
		want Status
	}{
		{&models.SessionEvent{Type: models.SessionQR, QRCode: "2@abc"}, AwaitingScan},
		{&models.SessionEvent{Type: models.SessionQR, QRCode: "2@def"}, AwaitingScan},
		{&models.SessionEvent{Type: models.SessionAuthenticated}, Authenticating},
		{&models.SessionEvent{Type: models.SessionLoading, Percent: 40}, Authenticating},
		{&models.SessionEvent{Type: models.SessionReady}, Connected},
		{&models.SessionEvent{Type: models.SessionDisconnected, Reason: "stream end"}, Disconnected},
	}
	for i, step := range steps {
		snap, err := s.Transition(step.ev)
		if err != nil {
			t.Fatalf("step %d: unexpected error %v", i, err)
		}
		if snap.Status != step.want {
			t.Fatalf("step %d: status = %s, want %s", i, snap.Status, step.want)
		}
	}
	if got := s.Snapshot(); got.Reason != "stream end" || got.QRCode != "" {
		t.Errorf("unexpected final snapshot: %+v", got)
	}
}

func TestQRKeptUntilAuthenticated(t *testing.T) {
	s := New()
	s.Transition(&models.SessionEvent{Type: models.SessionQR, QRCode: "2@abc"})
	if s.Snapshot().QRCode != "2@abc" {
		t.Fatal("QR code should be kept while awaiting a scan")
	}
	s.Transition(&models.SessionEvent{Type: models.SessionAuthenticated})
	if s.Snapshot().QRCode != "" {
		t.Error("QR code should be cleared once authenticated")
	}
}

func TestRejectedTransitions(t *testing.T) {
	s := New()
	s.Transition(&models.SessionEvent{Type: models.SessionReady})
	if !s.IsConnected() {
		t.Fatal("stored session should connect directly")
	}
	for _, ev := range []*models.SessionEvent{
		{Type: models.SessionQR, QRCode: "2@abc"},
		{Type: models.SessionAuthenticated},
		{Type: models.SessionLoading, Percent: 10},
	} {
		if _, err := s.Transition(ev); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s on connected: expected ErrInvalidTransition, got %v", ev.Type, err)
		}
	}
	if !s.IsConnected() {
		t.Error("rejected events must not change the state")
	}

	if _, err := s.Transition(&models.SessionEvent{Type: models.SessionQR}); !errors.Is(err, models.ErrInvalidEvent) {
		t.Errorf("QR without code should fail validation, got %v", err)
	}
}

func TestListeners(t *testing.T) {
	s := New()
	var seen []Status
	s.Subscribe(func(prev, next Snapshot) {
		seen = append(seen, next.Status)
	})
	s.Transition(&models.SessionEvent{Type: models.SessionQR, QRCode: "2@abc"})
	s.Transition(&models.SessionEvent{Type: models.SessionReady})
	s.Transition(&models.SessionEvent{Type: models.SessionQR, QRCode: "2@abc"}) // rejected

	if len(seen) != 2 || seen[0] != AwaitingScan || seen[1] != Connected {
		t.Errorf("unexpected notifications: %v", seen)
	}
}
