package session

import (
	"errors"
	"log"

	"liveclass/internal/protocol"
)

const maxJoinAttempts = 3

// Presence owns the join, leave and disconnect transitions.
type Presence struct {
	registry *Registry
}

func NewPresence(registry *Registry) *Presence {
	return &Presence{registry: registry}
}

func (pr *Presence) Registry() *Registry {
	return pr.registry
}

// Join admits p into the room for code and returns the snapshot that was sent
// to it. A connection already in another room leaves it first; joining the
// same room again only re-sends the snapshot.
func (pr *Presence) Join(p *Participant, code string) (*protocol.SessionJoined, error) {
	if !p.IsAuthenticated() {
		return nil, ErrAuthInvalid
	}
	identity := p.Identity()

	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		room, err := pr.registry.GetOrCreateRoom(code, identity)
		if err != nil {
			return nil, err
		}

		if previous := p.SessionCode(); previous != "" && previous != room.Code() {
			pr.Leave(p)
		}

		snapshot, evicted, err := room.admit(p)
		if errors.Is(err, errRoomClosed) {
			log.Printf("Join raced room teardown, retrying: room=%s user=%s attempt=%d", room.Code(), identity.UserID, attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}

		if evicted != nil {
			if err := evicted.Close(); err != nil {
				log.Printf("Failed to close replaced connection: connection=%s: %v", evicted.ID(), err)
			}
		}
		return snapshot, nil
	}
	return nil, ErrRoomUnavailable
}

// Leave removes p from its room and tears the room down when it empties. It
// returns the code that was left and false when p was in no room, so repeated
// calls are harmless.
func (pr *Presence) Leave(p *Participant) (string, bool) {
	code := p.SessionCode()
	if code == "" {
		return "", false
	}

	room, ok := pr.registry.Room(code)
	if !ok {
		p.clearSession()
		return "", false
	}

	left := room.remove(p)
	pr.registry.RemoveRoomIfEmpty(code)
	if !left {
		return "", false
	}
	return code, true
}

// Disconnect is the transport-drop path. It is the same transition as Leave.
func (pr *Presence) Disconnect(p *Participant) (string, bool) {
	code, left := pr.Leave(p)
	if left {
		log.Printf("Disconnected participant cleaned up: room=%s user=%s connection=%s", code, p.UserID(), p.ID())
	}
	return code, left
}
