package services

import (
	"context"
	"errors"
	"log"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veriflow/veriflow-backend/internal/models"
	"github.com/veriflow/veriflow-backend/internal/store"
)

const dedupKeyPrefix = "msg:"

var (
	documentPattern = regexp.MustCompile(`^[0-9]{8,10}$`)
	emailPattern    = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// terminationKeywords end the conversation from any state.
var terminationKeywords = map[string]bool{
	"exit":   true,
	"quit":   true,
	"cancel": true,
	"stop":   true,
}

// InboundMessage is one message received from the chat transport.
type InboundMessage struct {
	Address   string `json:"address"`
	Text      string `json:"text"`
	MessageID string `json:"message_id"`
	ChannelID string `json:"channel_id"`
}

// Orchestrator routes each inbound message to the correct phase of the
// verification flow. All mutations for one address are serialized through the
// session store's per-address lock; addresses are fully independent.
type Orchestrator struct {
	sessions   *Sessions
	limiter    *Limiter
	challenges *Challenges
	recorder   *Recorder
	directory  IdentityDirectory
	sender     Sender
	kv         store.KV
	dedupTTL   time.Duration
}

func NewOrchestrator(
	sessions *Sessions,
	limiter *Limiter,
	challenges *Challenges,
	recorder *Recorder,
	directory IdentityDirectory,
	sender Sender,
	kv store.KV,
	dedupTTL time.Duration,
) *Orchestrator {
	o := &Orchestrator{
		sessions:   sessions,
		limiter:    limiter,
		challenges: challenges,
		recorder:   recorder,
		directory:  directory,
		sender:     sender,
		kv:         kv,
		dedupTTL:   dedupTTL,
	}
	sessions.NotifyExpiry = func(ctx context.Context, address string) error {
		return sender.Send(ctx, address, replySessionExpired)
	}
	return o
}

// HandleMessage processes one inbound message end to end: dedup, abuse check,
// session lookup/create, state dispatch, trace and reply. It never returns an
// error for per-conversation failures; those are answered in-channel.
func (o *Orchestrator) HandleMessage(ctx context.Context, msg InboundMessage) error {
	address := strings.TrimSpace(msg.Address)
	if address == "" {
		return errors.New("inbound message without address")
	}
	text := strings.TrimSpace(msg.Text)

	// The transport does not guarantee at-most-once delivery; drop replays
	// before any state mutation.
	if msg.MessageID != "" {
		fresh, err := o.kv.SetNX(ctx, dedupKeyPrefix+msg.MessageID, "1", o.dedupTTL)
		if err != nil {
			// Fail open: a dedup-store hiccup must not drop real messages.
			log.Printf("orchestrator: dedup check failed for %s: %v", msg.MessageID, err)
		} else if !fresh {
			return nil
		}
	}

	lock := o.sessions.AddressLock(address)
	lock.Lock()
	defer lock.Unlock()

	// Blocked and rate-limited addresses get a fixed notice; nothing mutates.
	blocked, entry, err := o.limiter.IsBlocked(ctx, address)
	if err != nil {
		log.Printf("orchestrator: block check failed for %s: %v", address, err)
		o.reply(ctx, address, "", replyRetryLater)
		return nil
	}
	if blocked {
		o.reply(ctx, address, "", blockNotice(entry))
		return nil
	}

	firstContact := false
	sess := o.sessions.GetOrNone(address)
	if sess == nil {
		sess = o.sessions.Create(ctx, address)
		firstContact = true
	}

	if terminationKeywords[strings.ToLower(text)] {
		o.sessions.Clear(ctx, address, "user requested termination")
		o.reply(ctx, address, sess.CorrelationID, replyGoodbye)
		return nil
	}

	o.sessions.Touch(address)

	switch sess.State {
	case StateWaitingIdentity:
		o.handleWaitingIdentity(ctx, sess, text, firstContact)
	case StateWaitingCodeVerification:
		o.handleWaitingCode(ctx, sess, text)
	case StateAuthenticated:
		// A verified user asking for anything moves into action selection.
		o.sessions.SetState(sess.Address, StateWaitingActionType)
		o.trace(ctx, sess, models.TraceStatusInProgress, "action menu offered", nil)
		o.handleActionType(ctx, sess, text)
	case StateWaitingActionType:
		o.handleActionType(ctx, sess, text)
	case StateWaitingFinalAction:
		o.handleFinalAction(ctx, sess, text)
	default:
		// Defensive: unknown or stale absorbing state. Reset and treat the
		// message as a fresh first contact.
		o.sessions.Clear(ctx, address, "unexpected state, session reset")
		sess = o.sessions.Create(ctx, address)
		o.handleWaitingIdentity(ctx, sess, text, true)
	}
	return nil
}

// handleWaitingIdentity captures the document number. This phase carries no
// secret, so invalid input may be retried indefinitely.
func (o *Orchestrator) handleWaitingIdentity(ctx context.Context, sess *Session, text string, firstContact bool) {
	doc := normalizeDocument(text)
	if !documentPattern.MatchString(doc) {
		// A greeting on first contact gets the welcome prompt, not an error.
		if firstContact {
			o.reply(ctx, sess.Address, sess.CorrelationID, replyIdentityPrompt)
		} else {
			o.reply(ctx, sess.Address, sess.CorrelationID, replyIdentityInvalid)
		}
		return
	}

	identity, err := o.directory.FindByDocument(ctx, doc)
	if err != nil {
		log.Printf("orchestrator: identity lookup failed for %s: %v", sess.Address, err)
		o.reply(ctx, sess.Address, sess.CorrelationID, replyRetryLater)
		return
	}
	if identity == nil {
		o.reply(ctx, sess.Address, sess.CorrelationID, replyIdentityNotFound)
		return
	}

	// Issuing a code is the sensitive action the abuse window counts.
	if err := o.limiter.RecordAttempt(ctx, sess.Address); err != nil {
		if errors.Is(err, ErrRateLimited) {
			o.sessions.SetState(sess.Address, StateRateLimited)
			o.trace(ctx, sess, models.TraceStatusInProgress, "address blocked after repeated code requests", nil)
			blocked, entry, _ := o.limiter.IsBlocked(ctx, sess.Address)
			if blocked {
				o.reply(ctx, sess.Address, sess.CorrelationID, blockNotice(entry))
			}
			return
		}
		log.Printf("orchestrator: rate limiter failed for %s: %v", sess.Address, err)
		o.reply(ctx, sess.Address, sess.CorrelationID, replyRetryLater)
		return
	}

	target := identity.Email
	if target == "" {
		target = sess.Address
	}
	challenge, err := o.challenges.Issue(ctx, sess.Address, identity, target)
	if err != nil && challenge == nil {
		log.Printf("orchestrator: challenge issue failed for %s: %v", sess.Address, err)
		o.reply(ctx, sess.Address, sess.CorrelationID, replyRetryLater)
		return
	}
	if err != nil {
		// Challenge exists but delivery failed: the transition stands, the
		// user can restart if the code never arrives.
		log.Printf("orchestrator: code delivery failed for %s: %v", sess.Address, err)
		o.trace(ctx, sess, models.TraceStatusInProgress, "code delivery failed", map[string]string{"error": err.Error()})
	}

	sess.IdentityID = identity.ID
	sess.DocumentNumber = identity.DocumentNumber
	sess.DocumentType = identity.DocumentType
	sess.DisplayName = identity.DisplayName
	sess.Email = identity.Email
	sess.AccountNumber = identity.AccountNumber
	sess.ChallengeID = challenge.ID
	o.sessions.SetState(sess.Address, StateWaitingCodeVerification)
	o.trace(ctx, sess, models.TraceStatusInProgress, "identity matched, one-time code issued", map[string]string{
		"document_number": identity.DocumentNumber,
		"challenge_id":    challenge.ID,
	})

	ttlMinutes := int(challenge.ExpiresAt.Sub(challenge.CreatedAt) / time.Minute)
	o.reply(ctx, sess.Address, sess.CorrelationID, replyCodeSent(MaskTarget(target), ttlMinutes))
}

// handleWaitingCode verifies the one-time code against the active challenge.
func (o *Orchestrator) handleWaitingCode(ctx context.Context, sess *Session, text string) {
	code := strings.TrimSpace(text)
	if !codePattern.MatchString(code) {
		// Format rejection is not a wrong-code attempt.
		o.reply(ctx, sess.Address, sess.CorrelationID, replyCodeFormat)
		return
	}

	ok, remaining, err := o.challenges.Verify(ctx, sess.ChallengeID, code)
	switch {
	case ok:
		// A user who eventually verifies is not penalized for earlier
		// failures.
		if err := o.limiter.Unblock(ctx, sess.Address); err != nil {
			log.Printf("orchestrator: unblock failed for %s: %v", sess.Address, err)
		}
		sess.ChallengeID = ""
		o.sessions.SetState(sess.Address, StateAuthenticated)
		o.trace(ctx, sess, models.TraceStatusAuthenticated, "identity verified", map[string]string{
			"document_number": sess.DocumentNumber,
		})
		o.sessions.SetState(sess.Address, StateWaitingActionType)
		o.reply(ctx, sess.Address, sess.CorrelationID, replyVerified(sess.DisplayName))

	case errors.Is(err, ErrBadCodeFormat):
		o.reply(ctx, sess.Address, sess.CorrelationID, replyCodeFormat)

	case errors.Is(err, ErrAttemptsExhausted):
		o.restartIdentity(ctx, sess, "attempts exhausted, identity re-requested", replyRestartExhausted)

	case errors.Is(err, ErrChallengeNotFound):
		o.restartIdentity(ctx, sess, "challenge missing or expired, identity re-requested", replyRestartExpired)

	case err != nil:
		log.Printf("orchestrator: verification failed for %s: %v", sess.Address, err)
		o.reply(ctx, sess.Address, sess.CorrelationID, replyRetryLater)

	default:
		o.reply(ctx, sess.Address, sess.CorrelationID, replyWrongCode(remaining))
	}
}

// handleActionType runs the guarded actions available after verification.
func (o *Orchestrator) handleActionType(ctx context.Context, sess *Session, text string) {
	if sess.PendingAction == "update_email" {
		o.handleEmailUpdate(ctx, sess, text)
		return
	}

	switch strings.ToLower(strings.TrimSpace(text)) {
	case "1", "statement":
		ref := "ST-" + strings.ToUpper(uuid.NewString()[:8])
		o.trace(ctx, sess, models.TraceStatusProcessing, "account statement requested", map[string]string{
			"statement_ref":   ref,
			"document_number": sess.DocumentNumber,
		})
		o.sessions.SetState(sess.Address, StateWaitingFinalAction)
		o.trace(ctx, sess, models.TraceStatusInProgress, "action completed, awaiting final choice", map[string]string{
			"statement_ref": ref,
		})
		o.reply(ctx, sess.Address, sess.CorrelationID, replyStatementReady(ref))

	case "2", "email":
		sess.PendingAction = "update_email"
		o.reply(ctx, sess.Address, sess.CorrelationID, replyEmailPrompt)

	default:
		o.reply(ctx, sess.Address, sess.CorrelationID, replyActionMenu)
	}
}

func (o *Orchestrator) handleEmailUpdate(ctx context.Context, sess *Session, text string) {
	email := strings.TrimSpace(text)
	if !emailPattern.MatchString(email) {
		o.reply(ctx, sess.Address, sess.CorrelationID, replyEmailInvalid)
		return
	}

	if err := o.directory.UpdateContactEmail(ctx, sess.IdentityID, email); err != nil {
		log.Printf("orchestrator: email update failed for %s: %v", sess.Address, err)
		o.reply(ctx, sess.Address, sess.CorrelationID, replyRetryLater)
		return
	}

	sess.Email = email
	sess.PendingAction = ""
	o.trace(ctx, sess, models.TraceStatusProcessing, "contact email updated", map[string]string{
		"document_number": sess.DocumentNumber,
	})
	o.sessions.SetState(sess.Address, StateWaitingFinalAction)
	o.trace(ctx, sess, models.TraceStatusInProgress, "action completed, awaiting final choice", nil)
	o.reply(ctx, sess.Address, sess.CorrelationID, replyEmailUpdated(email))
}

func (o *Orchestrator) handleFinalAction(ctx context.Context, sess *Session, text string) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "menu", "more":
		o.sessions.SetState(sess.Address, StateWaitingActionType)
		o.trace(ctx, sess, models.TraceStatusInProgress, "action menu offered", nil)
		o.reply(ctx, sess.Address, sess.CorrelationID, replyActionMenu)
	default:
		o.reply(ctx, sess.Address, sess.CorrelationID, replyFinalPrompt)
	}
}

// restartIdentity reverts the session to identity capture after a challenge
// became unusable (expired, missing or exhausted).
func (o *Orchestrator) restartIdentity(ctx context.Context, sess *Session, step, replyText string) {
	sess.ChallengeID = ""
	o.sessions.SetState(sess.Address, StateWaitingIdentity)
	o.trace(ctx, sess, models.TraceStatusInProgress, step, nil)
	o.reply(ctx, sess.Address, sess.CorrelationID, replyText)
}

// reply sends an outbound message. Delivery failures are logged and annotated
// on the trace; they never roll back a committed state transition.
func (o *Orchestrator) reply(ctx context.Context, address, correlationID, text string) {
	if err := o.sender.Send(ctx, address, text); err != nil {
		log.Printf("orchestrator: reply to %s failed: %v", address, err)
		if correlationID != "" {
			if _, terr := o.recorder.Append(ctx, address, correlationID, models.TraceStatusInProgress, "outbound delivery failed", map[string]string{"error": err.Error()}); terr != nil {
				log.Printf("orchestrator: failed to trace delivery error for %s: %v", address, terr)
			}
		}
	}
}

func (o *Orchestrator) trace(ctx context.Context, sess *Session, status models.TraceStatus, step string, meta map[string]string) {
	if _, err := o.recorder.Append(ctx, sess.Address, sess.CorrelationID, status, step, meta); err != nil {
		log.Printf("orchestrator: trace append failed for %s: %v", sess.Address, err)
	}
}

// blockNotice renders the fixed reply for a blocked address.
func blockNotice(entry *BlockEntry) string {
	if entry == nil || entry.Permanent() {
		return replyBlockedPermanent
	}
	minutes := int(time.Until(*entry.ExpiresAt).Round(time.Minute) / time.Minute)
	return replyBlockedTemporary(minutes)
}

// normalizeDocument strips common separators from a document number.
func normalizeDocument(text string) string {
	replacer := strings.NewReplacer(" ", "", ".", "", "-", "")
	return replacer.Replace(strings.TrimSpace(text))
}
