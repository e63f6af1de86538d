package core

// NoticeKind is a view-facing notification emitted by a session.
type NoticeKind int

const (
	// NoticeConnection reports a transport link change.
	NoticeConnection NoticeKind = iota
	// NoticeParticipants reports a registry change.
	NoticeParticipants
	// NoticeMessage reports a newly appended message.
	NoticeMessage
	// NoticeReactionAdded reports a reaction entering the active set.
	NoticeReactionAdded
	// NoticeReactionExpired reports a reaction leaving the active set.
	NoticeReactionExpired
	// NoticeEmergencyAlert carries an alert to show immediately.
	NoticeEmergencyAlert
	// NoticeMuteRejected reports a self toggle refused while host-muted.
	NoticeMuteRejected
	// NoticeKicked reports that the local participant was removed.
	NoticeKicked
	// NoticeSessionEnded reports that the sanctuary was closed.
	NoticeSessionEnded
)

// Notice is delivered on Session.Notices. Slow consumers miss notices; the session never blocks on them.
type Notice struct {
	Kind          NoticeKind
	Connection    ConnectionStatus
	ParticipantID string
	Message       *ChatMessage
	Reaction      *Reaction
	Alert         *Alert
	Reason        string
}
