package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"liveclass/internal/protocol"
	"liveclass/internal/router"
	"liveclass/internal/session"
	"liveclass/pkg/types"
)

type recordingSender struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *recordingSender) Send(event types.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSender) Close() error { return nil }

func (r *recordingSender) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

// TestHub_StartStop tests hub lifecycle management
func TestHub_StartStop(t *testing.T) {
	hub := NewHub(session.NewRegistry(session.DefaultOptions()), router.NewRateLimiter(10, time.Minute), 10*time.Millisecond)
	ctx := context.Background()

	if err := hub.Start(ctx); err != nil {
		t.Errorf("Expected no error starting hub, got %v", err)
	}
	if err := hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("Expected ErrHubAlreadyRunning, got %v", err)
	}
	if !hub.IsRunning() {
		t.Error("hub should report running")
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping hub, got %v", err)
	}
	if err := hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("Expected ErrHubNotRunning, got %v", err)
	}

	// Restart after stop
	if err := hub.Start(ctx); err != nil {
		t.Errorf("Expected restart to succeed, got %v", err)
	}
	if err := hub.Stop(); err != nil {
		t.Errorf("Expected no error stopping restarted hub, got %v", err)
	}
}

// TestHub_ContextCancellation tests that a cancelled context ends the loop
func TestHub_ContextCancellation(t *testing.T) {
	hub := NewHub(nil, nil, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	if err := hub.Start(ctx); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	cancel()

	stopped := make(chan struct{})
	go func() {
		_ = hub.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after context cancellation")
	}
}

// TestHub_SweepExpiresTyping tests the typing TTL sweep
func TestHub_SweepExpiresTyping(t *testing.T) {
	opts := session.DefaultOptions()
	opts.TypingTTL = time.Second
	registry := session.NewRegistry(opts)
	presence := session.NewPresence(registry)

	teacherSend := &recordingSender{}
	teacher := session.NewParticipant("c-t", teacherSend)
	_ = teacher.SetIdentity(types.Identity{UserID: "t1", Name: "Teacher", Role: types.RoleTeacher})
	student := session.NewParticipant("c-s", &recordingSender{})
	_ = student.SetIdentity(types.Identity{UserID: "s1", Name: "Student", Role: types.RoleStudent})

	if _, err := presence.Join(teacher, "ABC-123"); err != nil {
		t.Fatalf("teacher join failed: %v", err)
	}
	if _, err := presence.Join(student, "ABC-123"); err != nil {
		t.Fatalf("student join failed: %v", err)
	}
	room, _ := registry.Room("ABC-123")
	_ = room.SetTyping(student, true)

	hub := NewHub(registry, router.NewRateLimiter(10, time.Minute), time.Hour)
	if result := hub.Sweep(); result.TypingExpired != 0 {
		t.Errorf("fresh flag should not expire, got %+v", result)
	}

	hub.now = func() time.Time { return time.Now().Add(2 * time.Second) }
	if result := hub.Sweep(); result.TypingExpired != 1 {
		t.Errorf("expected 1 expired flag, got %+v", result)
	}
	if teacherSend.count(protocol.EventUserStoppedTyping) != 1 {
		t.Error("teacher should be told the student stopped typing")
	}
}

// TestHub_LoopSweeps tests that the ticker drives sweeps
func TestHub_LoopSweeps(t *testing.T) {
	opts := session.DefaultOptions()
	opts.TypingTTL = 5 * time.Millisecond
	registry := session.NewRegistry(opts)
	presence := session.NewPresence(registry)

	teacherSend := &recordingSender{}
	teacher := session.NewParticipant("c-t", teacherSend)
	_ = teacher.SetIdentity(types.Identity{UserID: "t1", Name: "Teacher", Role: types.RoleTeacher})
	student := session.NewParticipant("c-s", &recordingSender{})
	_ = student.SetIdentity(types.Identity{UserID: "s1", Name: "Student", Role: types.RoleStudent})
	_, _ = presence.Join(teacher, "ABC-123")
	_, _ = presence.Join(student, "ABC-123")
	room, _ := registry.Room("ABC-123")
	_ = room.SetTyping(student, true)

	hub := NewHub(registry, nil, 10*time.Millisecond)
	if err := hub.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	defer hub.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if teacherSend.count(protocol.EventUserStoppedTyping) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("janitor loop never expired the typing flag")
}
