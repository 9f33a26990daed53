package services

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow/veriflow-backend/internal/models"
)

// State enumerates the conversation phases of the verification flow.
type State string

const (
	StateWaitingIdentity         State = "WAITING_IDENTITY"
	StateWaitingCodeVerification State = "WAITING_CODE_VERIFICATION"
	StateAuthenticated           State = "AUTHENTICATED"
	StateWaitingActionType       State = "WAITING_ACTION_TYPE"
	StateWaitingFinalAction      State = "WAITING_FINAL_ACTION"
	StateBlocked                 State = "BLOCKED"
	StateRateLimited             State = "RATE_LIMITED"
)

// Session is the ephemeral per-address conversation state. At most one live
// session exists per address; a new session supersedes (and traces the end
// of) the old one.
type Session struct {
	Address       string
	State         State
	CorrelationID string

	// Identity captured during the flow.
	IdentityID     string
	DocumentNumber string
	DocumentType   models.DocumentType
	DisplayName    string
	Email          string
	AccountNumber  string

	// PendingAction is set while an action flow waits for more input.
	PendingAction string

	ChallengeID  string
	CreatedAt    time.Time
	LastActivity time.Time

	// timer is the single pending inactivity timeout. Guarded by the
	// owning store's per-address lock.
	timer *time.Timer
}

// Sessions owns all live conversation sessions. Mutations for one address are
// serialized through a per-address lock shared with the inactivity timer, so
// a firing timer and an inbound message can never interleave.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex

	timeout  time.Duration
	recorder *Recorder

	// NotifyExpiry is called (best effort) when a session times out, to tell
	// the user the conversation ended. Failures are logged, never propagated.
	NotifyExpiry func(ctx context.Context, address string) error
}

func NewSessions(timeout time.Duration, recorder *Recorder) *Sessions {
	return &Sessions{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
		timeout:  timeout,
		recorder: recorder,
	}
}

// AddressLock returns the mutex serializing all work for one address.
// Callers (the orchestrator, the timer path) hold it across every mutation.
func (s *Sessions) AddressLock(address string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[address]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[address] = l
	return l
}

// GetOrNone returns the live session for the address, or nil. A session whose
// last activity exceeds the inactivity threshold is treated as absent even if
// its timer has not fired yet (read-your-expiry consistency).
func (s *Sessions) GetOrNone(address string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[address]
	if !ok {
		return nil
	}
	if time.Since(sess.LastActivity) > s.timeout {
		return nil
	}
	return sess
}

// Create allocates a new session for the address in WAITING_IDENTITY with a
// fresh correlation id and a scheduled inactivity timer. An existing session
// for the address is cleared first (supersession), producing exactly one
// "finished" trace entry for it.
//
// Callers must hold the address lock.
func (s *Sessions) Create(ctx context.Context, address string) *Session {
	s.Clear(ctx, address, "superseded by new session")

	now := time.Now().UTC()
	sess := &Session{
		Address:       address,
		State:         StateWaitingIdentity,
		CorrelationID: uuid.NewString(),
		CreatedAt:     now,
		LastActivity:  now,
	}
	sess.timer = time.AfterFunc(s.timeout, func() {
		s.expire(address, sess.CorrelationID)
	})

	s.mu.Lock()
	s.sessions[address] = sess
	s.mu.Unlock()

	if _, err := s.recorder.Append(ctx, address, sess.CorrelationID, models.TraceStatusStarted, "conversation started", nil); err != nil {
		log.Printf("session: failed to trace start for %s: %v", address, err)
	}
	return sess
}

// Touch resets last-activity and reschedules the inactivity timer. The
// previous timer is stopped before rescheduling so only one expiry can ever
// be pending.
//
// Callers must hold the address lock.
func (s *Sessions) Touch(address string) {
	s.mu.Lock()
	sess, ok := s.sessions[address]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.LastActivity = time.Now().UTC()
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer.Reset(s.timeout)
	}
}

// SetState transitions the session. Callers must hold the address lock.
func (s *Sessions) SetState(address string, state State) {
	s.mu.Lock()
	sess, ok := s.sessions[address]
	s.mu.Unlock()
	if !ok {
		return
	}
	sess.State = state
}

// Clear cancels the pending timer, removes the session and appends a
// "finished" trace entry with the supplied reason. Clearing an address with
// no session is a no-op, so calling Clear twice produces one trace entry.
//
// Callers must hold the address lock.
func (s *Sessions) Clear(ctx context.Context, address, reason string) {
	s.mu.Lock()
	sess, ok := s.sessions[address]
	if ok {
		delete(s.sessions, address)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if sess.timer != nil {
		sess.timer.Stop()
	}

	if _, err := s.recorder.Append(ctx, address, sess.CorrelationID, models.TraceStatusFinished, reason, nil); err != nil {
		log.Printf("session: failed to trace finish for %s: %v", address, err)
	}
}

// expire is the timer path. It re-checks staleness under the address lock so
// a timer that lost the race against Touch or Clear does nothing: only a
// session that is still present, still on the same correlation id and
// genuinely stale is torn down. This path must not call Clear, which would
// append a redundant second trace entry.
func (s *Sessions) expire(address, correlationID string) {
	lock := s.AddressLock(address)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	sess, ok := s.sessions[address]
	if ok && (sess.CorrelationID != correlationID || time.Since(sess.LastActivity) < s.timeout) {
		ok = false
		sess = nil
	}
	if ok {
		delete(s.sessions, address)
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := s.recorder.Append(ctx, address, sess.CorrelationID, models.TraceStatusExpired, "session expired after inactivity", nil); err != nil {
		log.Printf("session: failed to trace expiry for %s: %v", address, err)
	}

	if s.NotifyExpiry != nil {
		if err := s.NotifyExpiry(ctx, address); err != nil {
			log.Printf("session: expiry notice to %s failed: %v", address, err)
		}
	}
}

// Count returns the number of live sessions (admin/statistics surface).
func (s *Sessions) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
