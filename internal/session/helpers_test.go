package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"liveclass/pkg/types"
)

// fakeSender records everything sent to a participant
type fakeSender struct {
	mu     sync.Mutex
	events []types.Event
	closed bool
	fail   bool
}

func (f *fakeSender) Send(event types.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail || f.closed {
		return errors.New("send buffer full")
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeSender) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// ofType returns the recorded events of one type
func (f *fakeSender) ofType(eventType string) []types.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Event
	for _, ev := range f.events {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}
	return out
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func (f *fakeSender) reset() {
	f.mu.Lock()
	f.events = nil
	f.mu.Unlock()
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock    *fakeClock
	registry *Registry
	presence *Presence
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := newFakeClock()
	opts := DefaultOptions()
	opts.Now = clock.Now
	opts.ChatHistoryLimit = 3
	opts.MaxChatLength = 50
	registry := NewRegistry(opts)
	return &fixture{clock: clock, registry: registry, presence: NewPresence(registry)}
}

func newTestParticipant(t *testing.T, connectionID, userID string, role types.Role) (*Participant, *fakeSender) {
	t.Helper()
	sender := &fakeSender{}
	p := NewParticipant(connectionID, sender)
	if err := p.SetIdentity(types.Identity{UserID: userID, Name: "Name " + userID, Role: role}); err != nil {
		t.Fatalf("SetIdentity(%s) failed: %v", userID, err)
	}
	return p, sender
}

// join admits p and fails the test on error
func (f *fixture) join(t *testing.T, p *Participant, code string) {
	t.Helper()
	if _, err := f.presence.Join(p, code); err != nil {
		t.Fatalf("Join(%s, %s) failed: %v", p.UserID(), code, err)
	}
}

func (f *fixture) room(t *testing.T, code string) *Room {
	t.Helper()
	room, ok := f.registry.Room(code)
	if !ok {
		t.Fatalf("room %s does not exist", code)
	}
	return room
}

// assertCallSubset checks that every call member is on the roster
func assertCallSubset(t *testing.T, room *Room) {
	t.Helper()
	room.mu.Lock()
	defer room.mu.Unlock()
	if room.call == nil {
		return
	}
	for userID, member := range room.call.members {
		p, ok := room.roster[member.ConnectionID]
		if !ok || p.UserID() != userID {
			t.Errorf("call member %s (connection %s) is not on the roster", userID, member.ConnectionID)
		}
	}
}
