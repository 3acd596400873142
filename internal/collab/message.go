package collab

// MessageType discriminates the protocol envelope exchanged over the
// transport. Client to server: join_file, leave_file, content_change.
// Server to client: joined, content_applied, version_conflict,
// participant_joined, participant_left, storage_warning, error.
type MessageType string

const (
	MessageJoinFile          MessageType = "join_file"
	MessageJoined            MessageType = "joined"
	MessageLeaveFile         MessageType = "leave_file"
	MessageContentChange     MessageType = "content_change"
	MessageContentApplied    MessageType = "content_applied"
	MessageVersionConflict   MessageType = "version_conflict"
	MessageParticipantJoined MessageType = "participant_joined"
	MessageParticipantLeft   MessageType = "participant_left"
	MessageStorageWarning    MessageType = "storage_warning"
	MessageError             MessageType = "error"
)

// Message is the single wire envelope. Which fields are meaningful depends
// on Type; unused fields are omitted on the wire. Content is never omitted
// because an empty document is a legal snapshot.
type Message struct {
	Type            MessageType `json:"type"`
	FileID          string      `json:"fileId,omitempty"`
	UserID          string      `json:"userId,omitempty"`
	ConnectionID    string      `json:"connectionId,omitempty"`
	BaseVersion     int64       `json:"baseVersion,omitempty"`
	Version         int64       `json:"version,omitempty"`
	ExpectedVersion int64       `json:"expectedVersion,omitempty"`
	Content         string      `json:"content"`
	Detail          string      `json:"detail,omitempty"`
}

// Transport delivers server messages to a single connection. Implementations
// must not block indefinitely; a failed send marks the connection dead and
// the engine drops it from its sessions.
type Transport interface {
	Send(connectionID string, msg Message) error
}
