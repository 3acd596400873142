package collab

import (
	"sync"
	"time"
)

type sessionState int

const (
	stateLoading sessionState = iota
	stateActive
	stateClosed
)

// Participant is one connection inside a session. A user with several tabs
// appears once per connection.
type Participant struct {
	ConnectionID string
	UserID       string
}

// session is the in-memory collaboration state for one open document. All
// fields are guarded by mu; the engine serializes every mutation for a given
// document through it.
type session struct {
	docID string

	mu           sync.Mutex
	state        sessionState
	loadErr      error
	loaded       chan struct{} // closed once the initial load settles

	content      string
	version      int64
	participants map[string]string // connectionID -> userID

	// persistence bookkeeping
	dirty         bool
	firstDirtyAt  time.Time
	lastPersisted int64
	flushTimer    *time.Timer
	graceTimer    *time.Timer
}

func (s *session) otherConns(exclude string) []string {
	conns := make([]string, 0, len(s.participants))
	for connID := range s.participants {
		if connID == exclude {
			continue
		}
		conns = append(conns, connID)
	}
	return conns
}

func (s *session) allConns() []string {
	return s.otherConns("")
}

// Registry is the authoritative map from document ID to session, plus the
// reverse map from connection ID to the documents it participates in. The
// reverse map is what makes abrupt-disconnect cleanup possible. Pure data
// structure; it performs no network or storage I/O.
type Registry struct {
	mu         sync.RWMutex
	sessions   map[string]*session
	docsByConn map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		sessions:   make(map[string]*session),
		docsByConn: make(map[string]map[string]struct{}),
	}
}

// getOrCreate returns the session for docID, creating it in Loading state
// when absent. The second return reports whether this call created it, in
// which case the caller owns the load.
func (r *Registry) getOrCreate(docID string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[docID]; ok {
		return sess, false
	}
	sess := &session{
		docID:        docID,
		state:        stateLoading,
		loaded:       make(chan struct{}),
		participants: make(map[string]string),
	}
	r.sessions[docID] = sess
	return sess, true
}

func (r *Registry) get(docID string) *session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[docID]
}

// removeIfEmpty drops the session unless a participant slipped in since the
// caller last looked. Returns true if the session was removed.
func (r *Registry) removeIfEmpty(docID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[docID]
	if !ok {
		return false
	}
	sess.mu.Lock()
	empty := len(sess.participants) == 0
	if empty {
		sess.state = stateClosed
		if sess.flushTimer != nil {
			sess.flushTimer.Stop()
			sess.flushTimer = nil
		}
		if sess.graceTimer != nil {
			sess.graceTimer.Stop()
			sess.graceTimer = nil
		}
	}
	sess.mu.Unlock()
	if !empty {
		return false
	}
	delete(r.sessions, docID)
	return true
}

// remove drops a session unconditionally (failed loads).
func (r *Registry) remove(docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[docID]; ok {
		sess.mu.Lock()
		sess.state = stateClosed
		sess.mu.Unlock()
		delete(r.sessions, docID)
	}
}

func (r *Registry) track(connID, docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, ok := r.docsByConn[connID]
	if !ok {
		docs = make(map[string]struct{})
		r.docsByConn[connID] = docs
	}
	docs[docID] = struct{}{}
}

func (r *Registry) untrack(connID, docID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	docs, ok := r.docsByConn[connID]
	if !ok {
		return
	}
	delete(docs, docID)
	if len(docs) == 0 {
		delete(r.docsByConn, connID)
	}
}

// DocsFor returns every document the connection currently participates in.
func (r *Registry) DocsFor(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]string, 0, len(r.docsByConn[connID]))
	for docID := range r.docsByConn[connID] {
		docs = append(docs, docID)
	}
	return docs
}

// ConnectionsFor returns the participants of a document's session, or nil
// when the document is not open.
func (r *Registry) ConnectionsFor(docID string) []Participant {
	sess := r.get(docID)
	if sess == nil {
		return nil
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	participants := make([]Participant, 0, len(sess.participants))
	for connID, userID := range sess.participants {
		participants = append(participants, Participant{ConnectionID: connID, UserID: userID})
	}
	return participants
}

// OpenDocs returns the IDs of every document with a live session.
func (r *Registry) OpenDocs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	docs := make([]string, 0, len(r.sessions))
	for docID := range r.sessions {
		docs = append(docs, docID)
	}
	return docs
}
