package domain

// Event bus topics published on session lifecycle transitions. UI shells
// subscribe to these instead of polling the session manager.
const (
	TopicSessionEstablished = "session:established"
	TopicSessionExpired     = "session:expired"
)

// SessionEvent is the payload published on session topics. Identity is a
// snapshot; it is nil on expiry events triggered before a session existed.
type SessionEvent struct {
	Identity *IdentityRecord
	Reason   string
}
