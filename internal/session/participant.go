package session

import (
	"sync"
	"time"

	"liveclass/pkg/interfaces"
	"liveclass/pkg/types"
)

// Participant is one live client connection as seen by the session layer.
// The connection ID is fixed for the lifetime of the transport; membership
// fields are only changed by the Room that owns the participant.
type Participant struct {
	id          string
	conn        interfaces.Sender
	connectedAt time.Time

	mu            sync.RWMutex
	identity      types.Identity
	authenticated bool
	sessionCode   string
	joinedAt      time.Time
	inCall        bool
	currentFileID string
}

// NewParticipant wraps a transport. The participant is anonymous until
// SetIdentity is called with a verified identity.
func NewParticipant(connectionID string, conn interfaces.Sender) *Participant {
	return &Participant{
		id:          connectionID,
		conn:        conn,
		connectedAt: time.Now(),
	}
}

func (p *Participant) ID() string {
	return p.id
}

// SetIdentity records the verified identity. Switching to a different user
// while joined to a session is refused; a client must leave first.
func (p *Participant) SetIdentity(identity types.Identity) error {
	if err := identity.Validate(); err != nil {
		return ErrAuthInvalid
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sessionCode != "" && p.identity.UserID != identity.UserID {
		return ErrIdentityLocked
	}
	p.identity = identity
	p.authenticated = true
	return nil
}

func (p *Participant) Identity() types.Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity
}

func (p *Participant) IsAuthenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.authenticated
}

func (p *Participant) UserID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identity.UserID
}

// SessionCode returns the room this connection belongs to, or "".
func (p *Participant) SessionCode() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sessionCode
}

func (p *Participant) InCall() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inCall
}

func (p *Participant) CurrentFileID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentFileID
}

// Info returns the public profile shared with other members.
func (p *Participant) Info() types.ParticipantInfo {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return types.ParticipantInfo{
		ConnectionID:  p.id,
		UserID:        p.identity.UserID,
		Name:          p.identity.Name,
		Role:          p.identity.Role,
		CurrentFileID: p.currentFileID,
		InCall:        p.inCall,
		JoinedAt:      p.joinedAt,
	}
}

// Send queues an event on the underlying transport.
func (p *Participant) Send(event types.Event) error {
	return p.conn.Send(event)
}

// Close closes the underlying transport.
func (p *Participant) Close() error {
	return p.conn.Close()
}

func (p *Participant) setSession(code string, at time.Time) {
	p.mu.Lock()
	p.sessionCode = code
	p.joinedAt = at
	p.mu.Unlock()
}

// clearSession resets everything that only makes sense inside a room.
func (p *Participant) clearSession() {
	p.mu.Lock()
	p.sessionCode = ""
	p.inCall = false
	p.currentFileID = ""
	p.mu.Unlock()
}

func (p *Participant) setInCall(inCall bool) {
	p.mu.Lock()
	p.inCall = inCall
	p.mu.Unlock()
}

func (p *Participant) setCurrentFile(fileID string) {
	p.mu.Lock()
	p.currentFileID = fileID
	p.mu.Unlock()
}
