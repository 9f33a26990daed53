package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/veriflow/veriflow-backend/internal/models"
	"github.com/veriflow/veriflow-backend/internal/store"
)

const (
	challengeKeyPrefix     = "challenge:"
	challengeAddrKeyPrefix = "challenge_addr:"
)

var (
	// ErrBadCodeFormat marks input that is not exactly six digits. Format
	// rejections never consume a verification attempt.
	ErrBadCodeFormat = errors.New("code must be exactly 6 digits")
	// ErrChallengeNotFound covers absent and TTL-expired challenges.
	ErrChallengeNotFound = errors.New("challenge not found or expired")
	// ErrAttemptsExhausted is terminal for a challenge.
	ErrAttemptsExhausted = errors.New("challenge attempts exhausted")
)

var codePattern = regexp.MustCompile(`^[0-9]{6}$`)

// Challenge binds a one-time code to a user address and a verified identity,
// with bounded verification attempts. Once verified, exhausted or expired it
// is removed from lookup and can never be reused.
type Challenge struct {
	ID             string    `json:"id"`
	Address        string    `json:"address"`
	DocumentNumber string    `json:"document_number"`
	DocumentType   string    `json:"document_type"`
	Secret         string    `json:"secret"` // base32 TOTP secret, never exposed outward
	Verified       bool      `json:"verified"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	DeliveryTarget string    `json:"delivery_target,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// CodeDelivery hands a freshly generated code to an out-of-band channel
// (SMS/email provider). The orchestrator never sees the raw code.
type CodeDelivery interface {
	Send(ctx context.Context, target, code, displayName string, ttlMinutes int) error
}

// ChallengeConfig carries the challenge tuning.
type ChallengeConfig struct {
	TTL         time.Duration // absolute challenge lifetime
	Period      uint          // TOTP time step, seconds
	MaxAttempts int
}

// Challenges issues and verifies one-time-code challenges backed by an
// expiring KV store.
type Challenges struct {
	kv       store.KV
	delivery CodeDelivery
	cfg      ChallengeConfig
}

func NewChallenges(kv store.KV, delivery CodeDelivery, cfg ChallengeConfig) *Challenges {
	return &Challenges{kv: kv, delivery: delivery, cfg: cfg}
}

func (s *Challenges) validateOpts() totp.ValidateOpts {
	return totp.ValidateOpts{
		Period:    s.cfg.Period,
		Skew:      1, // tolerate ±1 step of clock drift
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// Issue creates a challenge for the address bound to the given identity,
// derives the current code from a fresh random secret and hands it to the
// delivery channel. Any previous challenge for the address is invalidated
// first so the address index never points at two live challenges.
func (s *Challenges) Issue(ctx context.Context, address string, identity *models.Identity, target string) (*Challenge, error) {
	if prevID, ok, err := s.kv.Get(ctx, challengeAddrKeyPrefix+address); err == nil && ok {
		if err := s.Invalidate(ctx, prevID); err != nil {
			return nil, fmt.Errorf("invalidate previous challenge: %w", err)
		}
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      "veriflow",
		AccountName: address,
		Period:      s.cfg.Period,
		Digits:      otp.DigitsSix,
		SecretSize:  20,
	})
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	now := time.Now().UTC()
	ch := &Challenge{
		ID:             uuid.NewString(),
		Address:        address,
		DocumentNumber: identity.DocumentNumber,
		DocumentType:   string(identity.DocumentType),
		Secret:         key.Secret(),
		MaxAttempts:    s.cfg.MaxAttempts,
		DeliveryTarget: target,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.cfg.TTL),
	}

	code, err := totp.GenerateCodeCustom(ch.Secret, now, s.validateOpts())
	if err != nil {
		return nil, fmt.Errorf("derive code: %w", err)
	}

	if err := s.save(ctx, ch); err != nil {
		return nil, err
	}
	if err := s.kv.SetTTL(ctx, challengeAddrKeyPrefix+address, ch.ID, s.cfg.TTL); err != nil {
		return nil, err
	}

	ttlMinutes := int(s.cfg.TTL / time.Minute)
	if err := s.delivery.Send(ctx, target, code, identity.DisplayName, ttlMinutes); err != nil {
		// The challenge stays valid; the user can restart if the code
		// never arrives.
		return ch, fmt.Errorf("deliver code: %w", err)
	}
	return ch, nil
}

// Get loads a challenge by id. Expired or absent challenges yield (nil, nil).
func (s *Challenges) Get(ctx context.Context, id string) (*Challenge, error) {
	raw, ok, err := s.kv.Get(ctx, challengeKeyPrefix+id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var ch Challenge
	if err := json.Unmarshal([]byte(raw), &ch); err != nil {
		return nil, err
	}
	if time.Now().After(ch.ExpiresAt) {
		_ = s.Invalidate(ctx, id)
		return nil, nil
	}
	return &ch, nil
}

// Verify is the single state-mutating entry point of a challenge. It consumes
// exactly one attempt per call regardless of outcome, except for
// format-invalid input which is rejected before any state change. Returns the
// remaining attempts alongside the verdict.
func (s *Challenges) Verify(ctx context.Context, id, code string) (bool, int, error) {
	if !codePattern.MatchString(code) {
		return false, 0, ErrBadCodeFormat
	}

	ch, err := s.Get(ctx, id)
	if err != nil {
		return false, 0, err
	}
	if ch == nil {
		// Absent or expired: implicitly invalidated.
		_ = s.Invalidate(ctx, id)
		return false, 0, ErrChallengeNotFound
	}

	if ch.Attempts >= ch.MaxAttempts {
		_ = s.Invalidate(ctx, id)
		return false, 0, ErrAttemptsExhausted
	}

	// Consume the attempt before checking validity.
	ch.Attempts++
	now := time.Now().UTC()
	valid, err := totp.ValidateCustom(code, ch.Secret, now, s.validateOpts())
	if err != nil {
		valid = false
	}

	if valid {
		ch.Verified = true
		// Success destroys the challenge: it is single-use.
		if err := s.Invalidate(ctx, id); err != nil {
			return false, 0, err
		}
		return true, ch.MaxAttempts - ch.Attempts, nil
	}

	if ch.Attempts >= ch.MaxAttempts {
		if err := s.Invalidate(ctx, id); err != nil {
			return false, 0, err
		}
		return false, 0, ErrAttemptsExhausted
	}

	if err := s.save(ctx, ch); err != nil {
		return false, 0, err
	}
	return false, ch.MaxAttempts - ch.Attempts, nil
}

// Invalidate removes the challenge and its address index so a new Issue can
// proceed without collision. Idempotent.
func (s *Challenges) Invalidate(ctx context.Context, id string) error {
	raw, ok, err := s.kv.Get(ctx, challengeKeyPrefix+id)
	if err != nil {
		return err
	}
	keys := []string{challengeKeyPrefix + id}
	if ok {
		var ch Challenge
		if err := json.Unmarshal([]byte(raw), &ch); err == nil && ch.Address != "" {
			keys = append(keys, challengeAddrKeyPrefix+ch.Address)
		}
	}
	return s.kv.Del(ctx, keys...)
}

func (s *Challenges) save(ctx context.Context, ch *Challenge) error {
	data, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	ttl := time.Until(ch.ExpiresAt)
	if ttl <= 0 {
		return s.Invalidate(ctx, ch.ID)
	}
	return s.kv.SetTTL(ctx, challengeKeyPrefix+ch.ID, string(data), ttl)
}
