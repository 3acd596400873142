package collab

import "errors"

// ErrResyncRequired blocks submissions after a version conflict until the
// client has re-synced through a join-equivalent snapshot.
var ErrResyncRequired = errors.New("resync required before editing")

// ClientState is the client-side half of the protocol contract. It mirrors
// what the browser editor must do: adopt every accepted broadcast
// unconditionally, track the base version for future submissions, and stop
// submitting after a conflict until re-synced.
//
// Uncommitted local keystrokes made during a broadcast's round trip are the
// one acknowledged data-loss window of snapshot-based sync; the stub counts
// those discards so UIs can surface them. Reapplying buffered deltas on top
// of the incoming snapshot would close the window but needs a merge policy,
// which is out of scope here.
type ClientState struct {
	FileID      string
	Content     string
	BaseVersion int64

	// DiscardedEdits counts local pending buffers lost to remote snapshots.
	DiscardedEdits int

	pending     bool
	needsResync bool
}

// NewClientState initializes local editor state from a join snapshot.
func NewClientState(fileID string, snap Snapshot) *ClientState {
	return &ClientState{
		FileID:      fileID,
		Content:     snap.Content,
		BaseVersion: snap.Version,
	}
}

// Edit records a local change and produces the content_change submission for
// it, based on the freshest version this client has seen.
func (c *ClientState) Edit(content string) (Message, error) {
	if c.needsResync {
		return Message{}, ErrResyncRequired
	}
	c.Content = content
	c.pending = true
	return Message{
		Type:        MessageContentChange,
		FileID:      c.FileID,
		BaseVersion: c.BaseVersion,
		Content:     content,
	}, nil
}

// AckAccepted applies the server's acceptance of this client's own
// submission: the new version becomes the base for future edits.
func (c *ClientState) AckAccepted(snap Snapshot) {
	c.Content = snap.Content
	c.BaseVersion = snap.Version
	c.pending = false
}

// ApplyRemote handles a server-to-client message for the open file.
// content_applied replaces local content unconditionally and adopts the new
// version; version_conflict flips the state to needs-resync.
func (c *ClientState) ApplyRemote(msg Message) {
	if msg.FileID != c.FileID {
		return
	}
	switch msg.Type {
	case MessageContentApplied:
		if c.pending {
			c.DiscardedEdits++
			c.pending = false
		}
		c.Content = msg.Content
		c.BaseVersion = msg.Version
	case MessageVersionConflict:
		c.pending = false
		c.needsResync = true
	}
}

// NeedsResync reports whether the client must re-fetch a snapshot before
// submitting again.
func (c *ClientState) NeedsResync() bool {
	return c.needsResync
}

// Resync applies a join-equivalent snapshot and re-enables editing.
func (c *ClientState) Resync(snap Snapshot) {
	c.Content = snap.Content
	c.BaseVersion = snap.Version
	c.pending = false
	c.needsResync = false
}
