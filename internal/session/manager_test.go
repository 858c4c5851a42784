package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestManagerCreateGetTerminate(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "voice-a")
	if s.ID == "" {
		t.Fatalf("session ID should not be empty")
	}
	if s.Status != StatusInitializing {
		t.Fatalf("Status = %q, want %q", s.Status, StatusInitializing)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "u1" || got.VoiceID != "voice-a" {
		t.Fatalf("unexpected session state: %+v", got)
	}

	if _, err := m.Transition(s.ID, StatusActive); err != nil {
		t.Fatalf("Transition(active) error = %v", err)
	}
	if _, err := m.Transition(s.ID, StatusClosing); err != nil {
		t.Fatalf("Transition(closing) error = %v", err)
	}
	ended, err := m.Transition(s.ID, StatusTerminated)
	if err != nil {
		t.Fatalf("Transition(terminated) error = %v", err)
	}
	if ended.Status != StatusTerminated {
		t.Fatalf("Status = %q, want %q", ended.Status, StatusTerminated)
	}
}

func TestManagerRejectsBackwardTransition(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "")
	if _, err := m.End(s.ID); err != nil {
		t.Fatalf("End() error = %v", err)
	}

	if _, err := m.Transition(s.ID, StatusActive); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}

	// Ending twice stays terminated rather than failing.
	got, err := m.End(s.ID)
	if err != nil {
		t.Fatalf("second End() error = %v", err)
	}
	if got.Status != StatusTerminated {
		t.Fatalf("Status = %q, want %q", got.Status, StatusTerminated)
	}
}

func TestManagerStartTurnRequiresActive(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "")

	if err := m.StartTurn(s.ID, "turn-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("StartTurn before activation error = %v, want ErrInvalidTransition", err)
	}

	if _, err := m.Transition(s.ID, StatusActive); err != nil {
		t.Fatalf("Transition(active) error = %v", err)
	}
	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
}

func TestManagerInterruptClearsTurn(t *testing.T) {
	m := NewManager(time.Minute)
	s := m.Create("u1", "")
	if _, err := m.Transition(s.ID, StatusActive); err != nil {
		t.Fatalf("Transition(active) error = %v", err)
	}
	if err := m.StartTurn(s.ID, "turn-1"); err != nil {
		t.Fatalf("StartTurn() error = %v", err)
	}
	if err := m.Interrupt(s.ID); err != nil {
		t.Fatalf("Interrupt() error = %v", err)
	}

	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.ActiveTurnID != "" {
		t.Fatalf("ActiveTurnID = %q, want empty", got.ActiveTurnID)
	}
	if got.InterruptionCount != 1 {
		t.Fatalf("InterruptionCount = %d, want 1", got.InterruptionCount)
	}
}

func TestManagerJanitorExpiresInactive(t *testing.T) {
	m := NewManager(30 * time.Millisecond)
	s := m.Create("u1", "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.StartJanitor(ctx, 10*time.Millisecond)

	time.Sleep(90 * time.Millisecond)
	got, err := m.Get(s.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusTerminated {
		t.Fatalf("Status = %q, want %q", got.Status, StatusTerminated)
	}
}
