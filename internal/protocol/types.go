package protocol

// Client-to-server message types.
const (
	TypeJoinSession     = "join-session"
	TypeLeaveSession    = "leave-session"
	TypeCodeChange      = "code-change"
	TypeCursorMove      = "cursor-move"
	TypeChatMessage     = "chat-message"
	TypeTypingStart     = "typing-start"
	TypeTypingStop      = "typing-stop"
	TypeFileCreated     = "file-created"
	TypeFileDeleted     = "file-deleted"
	TypeFileRenamed     = "file-renamed"
	TypeCallJoin        = "call-join"
	TypeCallLeave       = "call-leave"
	TypeWebRTCOffer     = "webrtc-offer"
	TypeWebRTCAnswer    = "webrtc-answer"
	TypeWebRTCICE       = "webrtc-ice-candidate"
	TypeCallMediaToggle = "call-media-toggle"
	TypeCallScreenShare = "call-screen-share"
	TypeWorkspaceSave   = "workspace-save"
	TypeWorkspaceLoad   = "workspace-load"
	TypeTerminalCreate  = "terminal-create"
	TypeTerminalInput   = "terminal-input"
	TypeTerminalResize  = "terminal-resize"
	TypeTerminalKill    = "terminal-kill"
	TypeTerminalExec    = "terminal-exec"
	TypeTerminalSync    = "terminal-sync"
)

// Server-to-client event types. Several share their name with the inbound
// message they answer (chat-message, file-*, webrtc-*, call-media-toggle,
// call-screen-share).
const (
	EventSessionJoined      = "session-joined"
	EventSessionLeft        = "session-left"
	EventUserJoined         = "user-joined"
	EventUserLeft           = "user-left"
	EventCodeUpdate         = "code-update"
	EventCursorUpdate       = "cursor-update"
	EventChatMessage        = TypeChatMessage
	EventUserTyping         = "user-typing"
	EventUserStoppedTyping  = "user-stopped-typing"
	EventCallJoined         = "call-joined"
	EventCallLeft           = "call-left"
	EventCallUserJoined     = "call-user-joined"
	EventCallUserLeft       = "call-user-left"
	EventCallMediaToggle    = TypeCallMediaToggle
	EventCallScreenShare    = TypeCallScreenShare
	EventWorkspaceSaved     = "workspace-saved"
	EventWorkspaceLoaded    = "workspace-loaded"
	EventTerminalCreated    = "terminal-created"
	EventTerminalOutput     = "terminal-output"
	EventTerminalExit       = "terminal-exit"
	EventTerminalExecResult = "terminal-exec-result"
	EventTerminalSynced     = "terminal-synced"
	EventError              = "error"
)

// SignalKind is the point-to-point call signaling message kind.
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
)

// EventType maps a signal kind to the wire type used in both directions.
func (k SignalKind) EventType() string {
	switch k {
	case SignalOffer:
		return TypeWebRTCOffer
	case SignalAnswer:
		return TypeWebRTCAnswer
	default:
		return TypeWebRTCICE
	}
}
