package session

import (
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	"liveclass/internal/protocol"
	"liveclass/pkg/types"
)

// Options tunes per-room behaviour.
type Options struct {
	// ChatHistoryLimit bounds the in-memory chat log; older messages are
	// evicted and only survive in the chat archive.
	ChatHistoryLimit int
	MaxChatLength    int
	TypingTTL        time.Duration

	// Now is the clock used for timestamps and typing expiry.
	Now func() time.Time
}

// DefaultOptions returns classroom-scale defaults.
func DefaultOptions() Options {
	return Options{
		ChatHistoryLimit: 100,
		MaxChatLength:    2000,
		TypingTTL:        5 * time.Second,
		Now:              time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ChatHistoryLimit <= 0 {
		o.ChatHistoryLimit = d.ChatHistoryLimit
	}
	if o.MaxChatLength <= 0 {
		o.MaxChatLength = d.MaxChatLength
	}
	if o.TypingTTL <= 0 {
		o.TypingTTL = d.TypingTTL
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

type typingEntry struct {
	userName string
	expires  time.Time
}

// Room is the authoritative in-memory state of one session code.
// ARCHITECTURAL DISCOVERY: Every mutation and every fan-out for a room happens
// under r.mu, so recipients observe events in the same order state changed.
// Delivery itself never blocks (Sender.Send only enqueues).
type Room struct {
	code          string
	roomID        string // unique per incarnation; a reused code gets a new one
	teacherUserID string
	createdAt     time.Time
	opts          Options

	mu            sync.Mutex
	roster        map[string]*Participant // connectionID -> participant
	cursors       map[string]types.Cursor // userID -> last cursor
	chatLog       []types.ChatMessage
	lastMessageID int64
	typing        map[string]typingEntry // userID -> entry
	call          *CallRoster            // nil until the first call-join
	closed        atomic.Bool            // set under mu; read without it by the registry
}

func newRoom(code, teacherUserID string, opts Options) *Room {
	return &Room{
		code:          code,
		roomID:        ulid.Make().String(),
		teacherUserID: teacherUserID,
		createdAt:     opts.Now(),
		opts:          opts,
		roster:        make(map[string]*Participant),
		cursors:       make(map[string]types.Cursor),
		typing:        make(map[string]typingEntry),
	}
}

func (r *Room) Code() string {
	return r.code
}

// RoomID scopes durable data such as the chat archive to this incarnation of
// the code.
func (r *Room) RoomID() string {
	return r.roomID
}

// TeacherUserID is the user whose files are broadcast read-only to others.
func (r *Room) TeacherUserID() string {
	return r.teacherUserID
}

func (r *Room) CreatedAt() time.Time {
	return r.createdAt
}

// admit adds p to the roster, sends it the join snapshot and announces it to
// everyone else. A previous connection of the same user is evicted through the
// normal removal path and returned so the caller can close its transport.
func (r *Room) admit(p *Participant) (*protocol.SessionJoined, *Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed.Load() {
		return nil, nil, errRoomClosed
	}

	if existing, ok := r.roster[p.ID()]; ok && existing == p {
		snapshot := r.joinSnapshotLocked(p)
		deliver(p, protocol.NewEvent(protocol.EventSessionJoined, snapshot))
		return snapshot, nil, nil
	}

	var evicted *Participant
	userID := p.UserID()
	for _, member := range r.roster {
		if member.UserID() == userID {
			evicted = member
			break
		}
	}
	if evicted != nil {
		r.removeLocked(evicted)
		deliver(evicted, protocol.NewEvent(protocol.EventSessionLeft, protocol.SessionLeft{
			SessionCode: r.code,
			Reason:      "replaced by a newer connection",
		}))
		log.Printf("Connection replaced: room=%s user=%s old=%s new=%s", r.code, userID, evicted.ID(), p.ID())
	}

	p.setSession(r.code, r.opts.Now())
	r.roster[p.ID()] = p

	snapshot := r.joinSnapshotLocked(p)
	deliver(p, protocol.NewEvent(protocol.EventSessionJoined, snapshot))
	r.broadcastToRoom(p, protocol.NewEvent(protocol.EventUserJoined, protocol.PresenceChange{
		User:         p.Info(),
		Participants: r.participantsLocked(nil),
	}))

	log.Printf("Participant joined: room=%s user=%s role=%s connection=%s roster=%d",
		r.code, userID, p.Identity().Role, p.ID(), len(r.roster))
	return snapshot, evicted, nil
}

// remove runs the leave/disconnect path for p. It reports false when p was not
// a member, which makes repeated leaves a no-op.
func (r *Room) remove(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if member, ok := r.roster[p.ID()]; !ok || member != p {
		return false
	}
	r.removeLocked(p)
	log.Printf("Participant left: room=%s user=%s connection=%s roster=%d",
		r.code, p.UserID(), p.ID(), len(r.roster))
	return true
}

// removeLocked clears every trace of p in one critical section: roster,
// cursor, typing flag and call membership, then notifies the remaining members.
func (r *Room) removeLocked(p *Participant) {
	info := p.Info()
	delete(r.roster, p.ID())

	if !r.userPresentLocked(info.UserID) {
		delete(r.cursors, info.UserID)
		delete(r.typing, info.UserID)
	}

	if member := r.callMemberLocked(p); member != nil {
		r.dropCallMemberLocked(p, member)
	}

	p.clearSession()

	info.InCall = false
	r.broadcastToRoom(nil, protocol.NewEvent(protocol.EventUserLeft, protocol.PresenceChange{
		User:         info,
		Participants: r.participantsLocked(nil),
	}))
}

func (r *Room) userPresentLocked(userID string) bool {
	for _, member := range r.roster {
		if member.UserID() == userID {
			return true
		}
	}
	return false
}

func (r *Room) isEmptyLocked() bool {
	return len(r.roster) == 0 && (r.call == nil || r.call.Len() == 0)
}

// IsEmpty reports whether the room has neither roster nor call members.
func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isEmptyLocked()
}

// Contains reports whether p is currently on the roster.
func (r *Room) Contains(p *Participant) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roster[p.ID()] == p
}

// HasUser reports whether any connection of userID is on the roster.
func (r *Room) HasUser(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.userPresentLocked(userID)
}

// CanLoadWorkspace: everyone may read their own and the room teacher's
// workspace; the room teacher may read anyone's.
func (r *Room) CanLoadWorkspace(requester, target string) bool {
	return requester == target || target == r.teacherUserID || requester == r.teacherUserID
}

// requireMemberLocked is the NotInSession gate shared by every operation.
func (r *Room) requireMemberLocked(p *Participant) error {
	if r.closed.Load() {
		return ErrNotInSession
	}
	if member, ok := r.roster[p.ID()]; !ok || member != p {
		return ErrNotInSession
	}
	return nil
}

// ApplyCodeChange relays an edit to every other member. No copy of the file is
// kept; receivers apply the latest message they got per file.
func (r *Room) ApplyCodeChange(sender *Participant, change protocol.CodeChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}

	sender.setCurrentFile(change.FileID)
	identity := sender.Identity()
	r.broadcastToRoom(sender, protocol.NewEvent(protocol.EventCodeUpdate, protocol.CodeUpdate{
		FileID:         change.FileID,
		Content:        change.Content,
		UserID:         identity.UserID,
		UserName:       identity.Name,
		CursorPosition: change.CursorPosition,
	}))
	return nil
}

// UpdateCursor stores the sender's cursor and relays it to every other member.
// Cursors only disappear when their owner leaves.
func (r *Room) UpdateCursor(sender *Participant, move protocol.CursorMove) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}

	identity := sender.Identity()
	r.cursors[identity.UserID] = types.Cursor{
		UserID:    identity.UserID,
		UserName:  identity.Name,
		FileID:    move.FileID,
		Position:  move.Position,
		Selection: move.Selection,
		UpdatedAt: r.opts.Now(),
	}
	sender.setCurrentFile(move.FileID)

	r.broadcastToRoom(sender, protocol.NewEvent(protocol.EventCursorUpdate, protocol.CursorUpdate{
		UserID:    identity.UserID,
		UserName:  identity.Name,
		FileID:    move.FileID,
		Position:  move.Position,
		Selection: move.Selection,
	}))
	return nil
}

// PostChatMessage appends to the bounded log and echoes to every member,
// sender included; the echo is the sender's confirmation.
func (r *Room) PostChatMessage(sender *Participant, content string) (types.ChatMessage, error) {
	if strings.TrimSpace(content) == "" {
		return types.ChatMessage{}, ErrEmptyMessage
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return types.ChatMessage{}, err
	}
	if utf8.RuneCountInString(content) > r.opts.MaxChatLength {
		return types.ChatMessage{}, ErrMessageTooLong
	}

	identity := sender.Identity()
	r.lastMessageID++
	msg := types.ChatMessage{
		ID: r.lastMessageID,
		Sender: types.ChatSender{
			UserID: identity.UserID,
			Name:   identity.Name,
			Role:   identity.Role,
		},
		Content:   content,
		Timestamp: r.opts.Now(),
	}

	r.chatLog = append(r.chatLog, msg)
	if overflow := len(r.chatLog) - r.opts.ChatHistoryLimit; overflow > 0 {
		n := copy(r.chatLog, r.chatLog[overflow:])
		r.chatLog = r.chatLog[:n]
	}

	r.broadcastToRoom(nil, protocol.NewEvent(protocol.EventChatMessage, msg))
	return msg, nil
}

// SetTyping marks or clears the sender's typing flag. A start refreshes the
// TTL and is relayed every time; a stop is relayed only if the flag was set.
func (r *Room) SetTyping(sender *Participant, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}

	identity := sender.Identity()
	notice := protocol.TypingNotice{UserID: identity.UserID, UserName: identity.Name}

	if active {
		r.typing[identity.UserID] = typingEntry{
			userName: identity.Name,
			expires:  r.opts.Now().Add(r.opts.TypingTTL),
		}
		r.broadcastToRoom(sender, protocol.NewEvent(protocol.EventUserTyping, notice))
		return nil
	}

	// Relayed as received, like typing-start
	delete(r.typing, identity.UserID)
	r.broadcastToRoom(sender, protocol.NewEvent(protocol.EventUserStoppedTyping, notice))
	return nil
}

// ExpireTyping clears typing flags whose TTL passed and tells the other
// members. It returns the number of flags cleared.
func (r *Room) ExpireTyping(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	expired := 0
	for userID, entry := range r.typing {
		if now.Before(entry.expires) {
			continue
		}
		delete(r.typing, userID)
		expired++

		var typist *Participant
		for _, member := range r.roster {
			if member.UserID() == userID {
				typist = member
				break
			}
		}
		r.broadcastToRoom(typist, protocol.NewEvent(protocol.EventUserStoppedTyping, protocol.TypingNotice{
			UserID:   userID,
			UserName: entry.userName,
		}))
	}
	return expired
}

// NotifyFileOp relays a file-tree operation to every other member.
func (r *Room) NotifyFileOp(sender *Participant, op types.FileOp) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}

	identity := sender.Identity()
	eventType := protocol.FileOperation{Op: op}.MessageType()
	r.broadcastToRoom(sender, protocol.NewEvent(eventType, protocol.FileOpNotice{
		FileOp:   op,
		UserID:   identity.UserID,
		UserName: identity.Name,
	}))
	return nil
}

// SendToUser delivers an event to the connection currently holding userID in
// this room. It reports false when the user is not present.
func (r *Room) SendToUser(userID string, event types.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, member := range r.roster {
		if member.UserID() == userID {
			deliver(member, event)
			return true
		}
	}
	return false
}

// Participants returns the roster ordered by join time.
func (r *Room) Participants() []types.ParticipantInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantsLocked(nil)
}

// ChatHistory returns a copy of the bounded chat log.
func (r *Room) ChatHistory() []types.ChatMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.ChatMessage(nil), r.chatLog...)
}

// Cursors returns the last-known cursor of every member.
func (r *Room) Cursors() []types.Cursor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursorsLocked()
}

// TypingUsers returns the user IDs currently flagged as typing.
func (r *Room) TypingUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	users := make([]string, 0, len(r.typing))
	for userID := range r.typing {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Snapshot summarizes the room for the HTTP API.
func (r *Room) Snapshot() types.RoomInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	return types.RoomInfo{
		Code:             r.code,
		RoomID:           r.roomID,
		TeacherUserID:    r.teacherUserID,
		CreatedAt:        r.createdAt,
		Participants:     r.participantsLocked(nil),
		CallMembers:      r.callMembersLocked(nil),
		ChatMessageCount: len(r.chatLog),
	}
}

func (r *Room) joinSnapshotLocked(p *Participant) *protocol.SessionJoined {
	return &protocol.SessionJoined{
		SessionCode:   r.code,
		TeacherUserID: r.teacherUserID,
		Self:          p.Info(),
		Participants:  r.participantsLocked(p),
		ChatHistory:   append([]types.ChatMessage{}, r.chatLog...),
		Cursors:       r.cursorsLocked(),
		CallMembers:   r.callMembersLocked(nil),
	}
}

func (r *Room) participantsLocked(exclude *Participant) []types.ParticipantInfo {
	infos := make([]types.ParticipantInfo, 0, len(r.roster))
	for _, member := range r.roster {
		if member == exclude {
			continue
		}
		infos = append(infos, member.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].JoinedAt.Equal(infos[j].JoinedAt) {
			return infos[i].ConnectionID < infos[j].ConnectionID
		}
		return infos[i].JoinedAt.Before(infos[j].JoinedAt)
	})
	return infos
}

func (r *Room) cursorsLocked() []types.Cursor {
	cursors := make([]types.Cursor, 0, len(r.cursors))
	for _, c := range r.cursors {
		cursors = append(cursors, c)
	}
	sort.Slice(cursors, func(i, j int) bool { return cursors[i].UserID < cursors[j].UserID })
	return cursors
}

// broadcastToRoom delivers to every roster member except exclude (nil sends
// to all). Must be called with r.mu held.
func (r *Room) broadcastToRoom(exclude *Participant, event types.Event) {
	event = event.Shared()
	for _, member := range r.roster {
		if member == exclude {
			continue
		}
		deliver(member, event)
	}
}

// broadcastToCallMembers delivers to every call member except exclude. Must
// be called with r.mu held.
func (r *Room) broadcastToCallMembers(exclude *Participant, event types.Event) {
	if r.call == nil {
		return
	}
	event = event.Shared()
	for _, cm := range r.call.members {
		member, ok := r.roster[cm.ConnectionID]
		if !ok || member == exclude {
			continue
		}
		deliver(member, event)
	}
}

// deliver is fire-and-forget: a slow or closed receiver only loses its own copy.
func deliver(p *Participant, event types.Event) {
	if err := p.Send(event); err != nil {
		log.Printf("Dropped event: type=%s connection=%s user=%s: %v", event.Type, p.ID(), p.UserID(), err)
	}
}
