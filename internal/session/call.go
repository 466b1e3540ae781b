package session

import (
	"encoding/json"
	"log"
	"sort"

	"liveclass/internal/protocol"
	"liveclass/pkg/types"
)

// CallRoster is the subset of a room's roster that is in the audio/video
// call, keyed by userID. Every member is also on the room roster.
type CallRoster struct {
	members map[string]*types.CallMember
}

func newCallRoster() *CallRoster {
	return &CallRoster{members: make(map[string]*types.CallMember)}
}

func (c *CallRoster) Len() int {
	if c == nil {
		return 0
	}
	return len(c.members)
}

// callMemberLocked returns p's call entry, matching on connection so a stale
// connection of the same user never acts on the new one's membership.
func (r *Room) callMemberLocked(p *Participant) *types.CallMember {
	if r.call == nil {
		return nil
	}
	member, ok := r.call.members[p.UserID()]
	if !ok || member.ConnectionID != p.ID() {
		return nil
	}
	return member
}

// dropCallMemberLocked removes p from the call and tells the remaining call
// members. The roster is released once empty.
func (r *Room) dropCallMemberLocked(p *Participant, member *types.CallMember) {
	delete(r.call.members, member.UserID)
	p.setInCall(false)

	r.broadcastToCallMembers(p, protocol.NewEvent(protocol.EventCallUserLeft, protocol.CallUserLeft{
		ConnectionID: member.ConnectionID,
		UserID:       member.UserID,
	}))
	if len(r.call.members) == 0 {
		r.call = nil
	}
	log.Printf("Call member left: room=%s user=%s connection=%s", r.code, member.UserID, member.ConnectionID)
}

func (r *Room) callMembersLocked(exclude *Participant) []types.CallMember {
	if r.call == nil {
		return []types.CallMember{}
	}
	members := make([]types.CallMember, 0, len(r.call.members))
	for _, m := range r.call.members {
		if exclude != nil && m.ConnectionID == exclude.ID() {
			continue
		}
		members = append(members, *m)
	}
	sort.Slice(members, func(i, j int) bool {
		if members[i].JoinedAt.Equal(members[j].JoinedAt) {
			return members[i].UserID < members[j].UserID
		}
		return members[i].JoinedAt.Before(members[j].JoinedAt)
	})
	return members
}

// CallJoin adds sender to the call with audio and video on. The joiner gets
// call-joined with the existing members; only the other call members hear
// about it. Joining twice re-sends call-joined without touching media flags.
func (r *Room) CallJoin(sender *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}

	if r.callMemberLocked(sender) != nil {
		deliver(sender, protocol.NewEvent(protocol.EventCallJoined, protocol.CallJoined{
			Members: r.callMembersLocked(sender),
		}))
		return nil
	}

	if r.call == nil {
		r.call = newCallRoster()
	}
	identity := sender.Identity()
	r.call.members[identity.UserID] = &types.CallMember{
		UserID:       identity.UserID,
		UserName:     identity.Name,
		ConnectionID: sender.ID(),
		AudioEnabled: true,
		VideoEnabled: true,
		JoinedAt:     r.opts.Now(),
	}
	sender.setInCall(true)

	deliver(sender, protocol.NewEvent(protocol.EventCallJoined, protocol.CallJoined{
		Members: r.callMembersLocked(sender),
	}))
	r.broadcastToCallMembers(sender, protocol.NewEvent(protocol.EventCallUserJoined, protocol.CallUserJoined{
		UserID:       identity.UserID,
		UserName:     identity.Name,
		ConnectionID: sender.ID(),
	}))

	log.Printf("Call member joined: room=%s user=%s connection=%s members=%d",
		r.code, identity.UserID, sender.ID(), len(r.call.members))
	return nil
}

// CallLeave removes sender from the call. The sender gets call-left as its
// confirmation.
func (r *Room) CallLeave(sender *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}
	member := r.callMemberLocked(sender)
	if member == nil {
		return ErrNotInCall
	}

	r.dropCallMemberLocked(sender, member)
	deliver(sender, protocol.NewEvent(protocol.EventCallLeft, protocol.CallUserLeft{
		ConnectionID: member.ConnectionID,
		UserID:       member.UserID,
	}))
	return nil
}

// RelaySignal delivers an opaque offer/answer/candidate to exactly one call
// member. ErrRecipientGone means the target already left; callers drop it.
func (r *Room) RelaySignal(sender *Participant, kind protocol.SignalKind, targetConnectionID string, payload json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}
	if r.callMemberLocked(sender) == nil {
		return ErrNotInCall
	}
	if targetConnectionID == sender.ID() {
		return ErrSelfSignal
	}

	target, ok := r.roster[targetConnectionID]
	if !ok || r.callMemberLocked(target) == nil {
		return ErrRecipientGone
	}

	identity := sender.Identity()
	deliver(target, protocol.NewEvent(kind.EventType(), protocol.SignalRelay{
		FromUserID:       identity.UserID,
		FromUserName:     identity.Name,
		FromConnectionID: sender.ID(),
		Payload:          payload,
	}))
	return nil
}

// ToggleMedia records an audio or video flag and tells the other call members.
func (r *Room) ToggleMedia(sender *Participant, kind types.MediaKind, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}
	member := r.callMemberLocked(sender)
	if member == nil {
		return ErrNotInCall
	}

	switch kind {
	case types.MediaAudio:
		member.AudioEnabled = enabled
	case types.MediaVideo:
		member.VideoEnabled = enabled
	default:
		return types.ErrInvalidMediaKind
	}

	r.broadcastToCallMembers(sender, protocol.NewEvent(protocol.EventCallMediaToggle, protocol.MediaToggleNotice{
		ConnectionID: sender.ID(),
		UserID:       member.UserID,
		Kind:         kind,
		Enabled:      enabled,
	}))
	return nil
}

// ToggleScreenShare records the screen-share intent. Track replacement is up
// to the clients.
func (r *Room) ToggleScreenShare(sender *Participant, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.requireMemberLocked(sender); err != nil {
		return err
	}
	member := r.callMemberLocked(sender)
	if member == nil {
		return ErrNotInCall
	}

	member.IsScreenSharing = enabled
	r.broadcastToCallMembers(sender, protocol.NewEvent(protocol.EventCallScreenShare, protocol.ScreenShareNotice{
		ConnectionID: sender.ID(),
		UserID:       member.UserID,
		Enabled:      enabled,
	}))
	return nil
}

// CallMembers returns the current call roster.
func (r *Room) CallMembers() []types.CallMember {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.callMembersLocked(nil)
}
