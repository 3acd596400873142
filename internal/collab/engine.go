package collab

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// Config tunes the engine. Zero values fall back to production defaults.
type Config struct {
	// GracePeriod delays session teardown after the last participant
	// leaves, so a quickly reconnecting client does not churn the
	// load/teardown cycle.
	GracePeriod time.Duration

	// FlushQuiet is the quiescence window after the most recent accepted
	// edit before the snapshot is persisted.
	FlushQuiet time.Duration

	// FlushMaxAge caps how long accepted edits may stay unpersisted while
	// the quiet window keeps being reset by a steady edit stream.
	FlushMaxAge time.Duration

	// EchoOrigin also delivers content_applied back to the submitting
	// connection. Off by default: the origin already holds that exact
	// content, and skipping it bounds message volume with many tabs.
	EchoOrigin bool

	// SaveAttempts and SaveBackoff bound retries on transient storage
	// errors. The session stays usable in memory throughout.
	SaveAttempts int
	SaveBackoff  time.Duration

	// SaveTimeout bounds a single gateway save call.
	SaveTimeout time.Duration

	// OnFlush, when set, runs after every successful flush with the
	// persisted snapshot. Used to feed edit history and search indexing.
	OnFlush func(docID string, snap Snapshot)
}

func (c Config) withDefaults() Config {
	if c.GracePeriod <= 0 {
		c.GracePeriod = 5 * time.Second
	}
	if c.FlushQuiet <= 0 {
		c.FlushQuiet = 5 * time.Second
	}
	if c.FlushMaxAge <= 0 {
		c.FlushMaxAge = 30 * time.Second
	}
	if c.SaveAttempts <= 0 {
		c.SaveAttempts = 3
	}
	if c.SaveBackoff <= 0 {
		c.SaveBackoff = 500 * time.Millisecond
	}
	if c.SaveTimeout <= 0 {
		c.SaveTimeout = 10 * time.Second
	}
	return c
}

// Engine accepts edit submissions, decides acceptance against the session
// version, assigns new versions, fans accepted edits out, and schedules
// debounced persistence. One engine owns all sessions of its process; this
// design assumes a single authoritative process per document.
type Engine struct {
	cfg       Config
	gateway   Gateway
	transport Transport
	registry  *Registry
}

func NewEngine(cfg Config, gateway Gateway, transport Transport) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		gateway:   gateway,
		transport: transport,
		registry:  NewRegistry(),
	}
}

// Registry exposes membership lookups (presence summaries, tests).
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Join adds a connection to the document's session, lazily loading the
// document through the gateway on first join. The returned snapshot
// initializes the participant's local editor state. Joiners racing the
// initial load wait for it to settle, so every participant sees the
// current (content, version), never the Loading zero state.
func (e *Engine) Join(ctx context.Context, docID, connID, userID string) (Snapshot, error) {
	for {
		sess, created := e.registry.getOrCreate(docID)

		if created {
			snap, err := e.gateway.LoadDocument(ctx, docID)
			sess.mu.Lock()
			if err != nil {
				sess.loadErr = err
				close(sess.loaded)
				sess.mu.Unlock()
				e.registry.remove(docID)
				return Snapshot{}, fmt.Errorf("load %s: %w", docID, err)
			}
			sess.content = snap.Content
			sess.version = snap.Version
			sess.lastPersisted = snap.Version
			sess.state = stateActive
			close(sess.loaded)
		} else {
			select {
			case <-sess.loaded:
			case <-ctx.Done():
				return Snapshot{}, ctx.Err()
			}
			sess.mu.Lock()
			if sess.loadErr != nil {
				// The creator's load failed; this session object is
				// already out of the registry.
				err := sess.loadErr
				sess.mu.Unlock()
				return Snapshot{}, fmt.Errorf("load %s: %w", docID, err)
			}
			if sess.state != stateActive {
				// Torn down between lookup and lock; start over against
				// a fresh session.
				sess.mu.Unlock()
				continue
			}
		}

		if sess.graceTimer != nil {
			sess.graceTimer.Stop()
			sess.graceTimer = nil
		}
		sess.participants[connID] = userID
		snap := Snapshot{Content: sess.content, Version: sess.version}
		targets := sess.otherConns(connID)
		sess.mu.Unlock()

		e.registry.track(connID, docID)

		e.deliver(targets, Message{
			Type:         MessageParticipantJoined,
			FileID:       docID,
			UserID:       userID,
			ConnectionID: connID,
		})
		return snap, nil
	}
}

// Leave removes a connection from the session and starts the grace-period
// teardown timer when the session drains empty. Abrupt disconnects go
// through the same path via Disconnect.
func (e *Engine) Leave(docID, connID string) {
	sess := e.registry.get(docID)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	userID, ok := sess.participants[connID]
	if !ok {
		sess.mu.Unlock()
		return
	}
	delete(sess.participants, connID)
	targets := sess.allConns()
	if len(sess.participants) == 0 && sess.graceTimer == nil {
		sess.graceTimer = time.AfterFunc(e.cfg.GracePeriod, func() {
			e.teardown(docID)
		})
	}
	sess.mu.Unlock()

	e.registry.untrack(connID, docID)

	e.deliver(targets, Message{
		Type:         MessageParticipantLeft,
		FileID:       docID,
		UserID:       userID,
		ConnectionID: connID,
	})
}

// Disconnect treats an abruptly dropped connection as a leave for every
// document it participates in.
func (e *Engine) Disconnect(connID string) {
	for _, docID := range e.registry.DocsFor(connID) {
		e.Leave(docID, connID)
	}
}

// SubmitEdit validates a submission against the session version, applies it,
// assigns the next version, fans the accepted edit out, and schedules a
// persistence flush. The in-memory transition happens under the session
// lock; delivery and persistence do not.
func (e *Engine) SubmitEdit(ctx context.Context, docID, connID string, baseVersion int64, content string) (Snapshot, error) {
	sess := e.registry.get(docID)
	if sess == nil {
		return Snapshot{}, ErrUnknownSession
	}

	sess.mu.Lock()
	if sess.state != stateActive {
		sess.mu.Unlock()
		return Snapshot{}, ErrUnknownSession
	}
	if baseVersion != sess.version {
		expected := sess.version
		sess.mu.Unlock()
		return Snapshot{}, &VersionConflictError{FileID: docID, Expected: expected, Got: baseVersion}
	}

	sess.version++
	sess.content = content
	snap := Snapshot{Content: content, Version: sess.version}

	now := time.Now()
	if !sess.dirty {
		sess.dirty = true
		sess.firstDirtyAt = now
	}
	overdue := now.Sub(sess.firstDirtyAt) >= e.cfg.FlushMaxAge
	switch {
	case overdue:
		if sess.flushTimer != nil {
			sess.flushTimer.Stop()
			sess.flushTimer = nil
		}
		go e.flush(docID)
	case sess.flushTimer == nil:
		sess.flushTimer = time.AfterFunc(e.cfg.FlushQuiet, func() {
			e.flush(docID)
		})
	default:
		sess.flushTimer.Reset(e.cfg.FlushQuiet)
	}

	targets := sess.otherConns(connID)
	if e.cfg.EchoOrigin {
		targets = sess.allConns()
	}
	sess.mu.Unlock()

	e.deliver(targets, Message{
		Type:         MessageContentApplied,
		FileID:       docID,
		Version:      snap.Version,
		Content:      snap.Content,
		ConnectionID: connID,
	})
	return snap, nil
}

// deliver fans a message out, dropping any connection whose send fails as if
// it had disconnected. One participant's failure never fails the broadcast
// for the rest.
func (e *Engine) deliver(connIDs []string, msg Message) {
	for _, connID := range connIDs {
		if err := e.transport.Send(connID, msg); err != nil {
			log.Printf("collab: send to %s failed, dropping connection: %v", connID, err)
			e.Disconnect(connID)
		}
	}
}

// flush persists the current session snapshot. Multiple rapid accepted edits
// coalesce into one save; the in-memory session is never rolled back, since
// it is the collaboration-visible truth.
func (e *Engine) flush(docID string) {
	sess := e.registry.get(docID)
	if sess == nil {
		return
	}

	sess.mu.Lock()
	if !sess.dirty {
		sess.mu.Unlock()
		return
	}
	snap := Snapshot{Content: sess.content, Version: sess.version}
	expected := sess.lastPersisted
	sess.dirty = false
	sess.firstDirtyAt = time.Time{}
	if sess.flushTimer != nil {
		sess.flushTimer.Stop()
		sess.flushTimer = nil
	}
	sess.mu.Unlock()

	saved, err := e.save(docID, sess, snap, expected)
	if err != nil {
		log.Printf("collab: persist %s at version %d failed: %v", docID, snap.Version, err)
		sess.mu.Lock()
		sess.dirty = true
		if sess.firstDirtyAt.IsZero() {
			sess.firstDirtyAt = time.Now()
		}
		if sess.flushTimer == nil {
			sess.flushTimer = time.AfterFunc(e.cfg.FlushQuiet, func() {
				e.flush(docID)
			})
		}
		targets := sess.allConns()
		sess.mu.Unlock()
		e.deliver(targets, Message{
			Type:   MessageStorageWarning,
			FileID: docID,
			Detail: "changes are not yet saved; retrying in the background",
		})
		return
	}

	sess.mu.Lock()
	if saved.Version > sess.lastPersisted {
		sess.lastPersisted = saved.Version
	}
	sess.mu.Unlock()

	if e.cfg.OnFlush != nil {
		e.cfg.OnFlush(docID, saved)
	}
}

// save writes a snapshot with bounded retries. A version conflict means the
// durable record advanced through a path outside this engine (for example a
// REST edit); the engine then re-reads the stored version and retries once
// with the freshest session content.
func (e *Engine) save(docID string, sess *session, snap Snapshot, expected int64) (Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < e.cfg.SaveAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(e.cfg.SaveBackoff * time.Duration(attempt))
		}

		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SaveTimeout)
		err := e.gateway.SaveDocument(ctx, docID, snap, expected)
		cancel()
		if err == nil {
			return snap, nil
		}
		if errors.Is(err, ErrConflict) {
			ctx, cancel := context.WithTimeout(context.Background(), e.cfg.SaveTimeout)
			stored, loadErr := e.gateway.LoadDocument(ctx, docID)
			cancel()
			if loadErr != nil {
				return Snapshot{}, fmt.Errorf("reload after conflict: %w", loadErr)
			}
			sess.mu.Lock()
			fresh := Snapshot{Content: sess.content, Version: sess.version}
			if fresh.Version <= stored.Version {
				// The outside writer is ahead; force the session past it so
				// the collaboration-visible version stays monotonic.
				sess.version = stored.Version + 1
				sess.content = fresh.Content
				fresh = Snapshot{Content: sess.content, Version: sess.version}
			}
			sess.mu.Unlock()

			ctx, cancel = context.WithTimeout(context.Background(), e.cfg.SaveTimeout)
			err = e.gateway.SaveDocument(ctx, docID, fresh, stored.Version)
			cancel()
			if err == nil {
				return fresh, nil
			}
			return Snapshot{}, fmt.Errorf("save after conflict retry: %w", err)
		}
		lastErr = err
	}
	return Snapshot{}, lastErr
}

// teardown runs when the grace period expires with the session still empty.
// Pending content is flushed best-effort before removal so a debounced edit
// is never dropped.
func (e *Engine) teardown(docID string) {
	sess := e.registry.get(docID)
	if sess == nil {
		return
	}
	sess.mu.Lock()
	if len(sess.participants) > 0 {
		sess.mu.Unlock()
		return
	}
	sess.graceTimer = nil
	sess.mu.Unlock()

	e.flush(docID)
	e.registry.removeIfEmpty(docID)
}

// Shutdown flushes every dirty session. Called on process exit after the
// transport has stopped accepting submissions.
func (e *Engine) Shutdown(ctx context.Context) {
	for _, docID := range e.registry.OpenDocs() {
		select {
		case <-ctx.Done():
			log.Printf("collab: shutdown flush interrupted: %v", ctx.Err())
			return
		default:
		}
		e.flush(docID)
		e.registry.removeIfEmpty(docID)
	}
}
