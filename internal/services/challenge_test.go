package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veriflow/veriflow-backend/internal/models"
	"github.com/veriflow/veriflow-backend/internal/store"
)

// captureDelivery records the last code handed to the delivery channel.
type captureDelivery struct {
	target string
	code   string
	name   string
	ttl    int
	sent   int
	err    error
}

func (d *captureDelivery) Send(_ context.Context, target, code, displayName string, ttlMinutes int) error {
	if d.err != nil {
		return d.err
	}
	d.target = target
	d.code = code
	d.name = displayName
	d.ttl = ttlMinutes
	d.sent++
	return nil
}

func testIdentity() *models.Identity {
	return &models.Identity{
		ID:             "id-1",
		DocumentType:   models.DocumentTypeNationalID,
		DocumentNumber: "12345678",
		DisplayName:    "Ada Quintero",
		Email:          "ada@example.com",
	}
}

func newTestChallenges(delivery CodeDelivery) *Challenges {
	return NewChallenges(store.NewMemoryKV(), delivery, ChallengeConfig{
		TTL:         10 * time.Minute,
		Period:      300,
		MaxAttempts: 3,
	})
}

// wrongCode returns a six-digit code that differs from the valid one.
func wrongCode(valid string) string {
	if valid == "000000" {
		return "111111"
	}
	return "000000"
}

func TestChallengeIssueAndVerify(t *testing.T) {
	delivery := &captureDelivery{}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)
	require.NotEmpty(t, ch.ID)
	require.Equal(t, 1, delivery.sent)
	require.Equal(t, "ada@example.com", delivery.target)
	require.Len(t, delivery.code, 6)
	require.Equal(t, 10, delivery.ttl)

	ok, remaining, err := svc.Verify(ctx, ch.ID, delivery.code)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, remaining)
}

func TestChallengeIsSingleUse(t *testing.T) {
	delivery := &captureDelivery{}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)

	ok, _, err := svc.Verify(ctx, ch.ID, delivery.code)
	require.NoError(t, err)
	require.True(t, ok)

	// The same code against the same challenge must never succeed twice.
	ok, _, err = svc.Verify(ctx, ch.ID, delivery.code)
	require.ErrorIs(t, err, ErrChallengeNotFound)
	require.False(t, ok)
}

func TestChallengeWrongCodeConsumesAttempt(t *testing.T) {
	delivery := &captureDelivery{}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)

	ok, remaining, err := svc.Verify(ctx, ch.ID, wrongCode(delivery.code))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 2, remaining)

	ok, remaining, err = svc.Verify(ctx, ch.ID, wrongCode(delivery.code))
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 1, remaining)

	// The valid code still works while attempts remain.
	ok, _, err = svc.Verify(ctx, ch.ID, delivery.code)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChallengeAttemptsExhausted(t *testing.T) {
	delivery := &captureDelivery{}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)

	bad := wrongCode(delivery.code)
	for i := 0; i < 2; i++ {
		ok, _, err := svc.Verify(ctx, ch.ID, bad)
		require.NoError(t, err)
		require.False(t, ok)
	}

	// Third wrong attempt exhausts and destroys the challenge.
	ok, _, err := svc.Verify(ctx, ch.ID, bad)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	require.False(t, ok)

	// Even the valid code is refused afterwards.
	ok, _, err = svc.Verify(ctx, ch.ID, delivery.code)
	require.ErrorIs(t, err, ErrChallengeNotFound)
	require.False(t, ok)
}

func TestChallengeFormatRejectionConsumesNoAttempt(t *testing.T) {
	delivery := &captureDelivery{}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)

	for _, input := range []string{"12345", "1234567", "abc123", ""} {
		ok, _, err := svc.Verify(ctx, ch.ID, input)
		require.ErrorIs(t, err, ErrBadCodeFormat)
		require.False(t, ok)
	}

	// All three attempts must still be available.
	loaded, err := svc.Get(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	require.Equal(t, 0, loaded.Attempts)
}

func TestChallengeReissueInvalidatesPrevious(t *testing.T) {
	delivery := &captureDelivery{}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	first, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)
	firstCode := delivery.code

	second, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	ok, _, err := svc.Verify(ctx, first.ID, firstCode)
	require.ErrorIs(t, err, ErrChallengeNotFound)
	require.False(t, ok)

	ok, _, err = svc.Verify(ctx, second.ID, delivery.code)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestChallengeExpiredReadsAsAbsent(t *testing.T) {
	delivery := &captureDelivery{}
	kv := store.NewMemoryKV()
	svc := NewChallenges(kv, delivery, ChallengeConfig{
		TTL:         10 * time.Minute,
		Period:      300,
		MaxAttempts: 3,
	})
	ctx := context.Background()

	now := time.Now()
	kv.Now = func() time.Time { return now }

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)

	now = now.Add(11 * time.Minute)

	loaded, err := svc.Get(ctx, ch.ID)
	require.NoError(t, err)
	require.Nil(t, loaded)

	ok, _, err := svc.Verify(ctx, ch.ID, delivery.code)
	require.ErrorIs(t, err, ErrChallengeNotFound)
	require.False(t, ok)
}

func TestChallengeDeliveryFailureKeepsChallenge(t *testing.T) {
	delivery := &captureDelivery{err: errors.New("provider down")}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.Error(t, err)
	require.NotNil(t, ch, "the challenge must survive a delivery failure")

	loaded, err := svc.Get(ctx, ch.ID)
	require.NoError(t, err)
	require.NotNil(t, loaded)
}

func TestChallengeInvalidateIsIdempotent(t *testing.T) {
	delivery := &captureDelivery{}
	svc := newTestChallenges(delivery)
	ctx := context.Background()

	ch, err := svc.Issue(ctx, "+5491122334455", testIdentity(), "ada@example.com")
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(ctx, ch.ID))
	require.NoError(t, svc.Invalidate(ctx, ch.ID))
	require.NoError(t, svc.Invalidate(ctx, "never-existed"))
}
