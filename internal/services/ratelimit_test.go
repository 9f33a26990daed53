package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/veriflow/veriflow-backend/internal/store"
)

func newTestLimiter(cfg LimiterConfig) (*Limiter, *store.MemoryKV) {
	kv := store.NewMemoryKV()
	if cfg.Window == 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.Ceiling == 0 {
		cfg.Ceiling = 3
	}
	if cfg.BlockDuration == 0 {
		cfg.BlockDuration = 30 * time.Minute
	}
	if cfg.Escalation == 0 {
		cfg.Escalation = 3
	}
	if cfg.HistoryTTL == 0 {
		cfg.HistoryTTL = 30 * 24 * time.Hour
	}
	return NewLimiter(kv, cfg), kv
}

func TestLimiterAllowsUpToCeiling(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.RecordAttempt(ctx, "+549111"))
	}

	blocked, _, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestLimiterBlocksAboveCeiling(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.RecordAttempt(ctx, "+549111"))
	}

	err := limiter.RecordAttempt(ctx, "+549111")
	require.ErrorIs(t, err, ErrRateLimited)

	blocked, entry, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.True(t, blocked)
	require.NotNil(t, entry)
	require.False(t, entry.Permanent())
	require.EqualValues(t, 1, entry.Count)
}

func TestLimiterAddressesAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.RecordAttempt(ctx, "+549111"))
	}
	require.ErrorIs(t, limiter.RecordAttempt(ctx, "+549111"), ErrRateLimited)

	require.NoError(t, limiter.RecordAttempt(ctx, "+549222"))
	blocked, _, err := limiter.IsBlocked(ctx, "+549222")
	require.NoError(t, err)
	require.False(t, blocked)
}

func TestLimiterTemporaryBlockExpires(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{BlockDuration: 20 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, limiter.Block(ctx, "+549111", "test", 20*time.Millisecond))

	blocked, _, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.True(t, blocked)

	time.Sleep(40 * time.Millisecond)

	blocked, _, err = limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.False(t, blocked, "an elapsed temporary block must lift on read")
}

func TestLimiterEscalatesToPermanent(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{Escalation: 3})
	ctx := context.Background()

	// Three temporary blocks build up history.
	for i := 1; i <= 3; i++ {
		require.NoError(t, limiter.Block(ctx, "+549111", "test", 30*time.Minute))
		_, entry, err := limiter.IsBlocked(ctx, "+549111")
		require.NoError(t, err)
		require.False(t, entry.Permanent())
		require.EqualValues(t, i, entry.Count)
		require.NoError(t, limiter.Unblock(ctx, "+549111"))
	}

	// The fourth block becomes permanent.
	require.NoError(t, limiter.Block(ctx, "+549111", "test", 30*time.Minute))
	blocked, entry, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.True(t, blocked)
	require.True(t, entry.Permanent())
}

func TestLimiterExplicitPermanentBlock(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{})
	ctx := context.Background()

	require.NoError(t, limiter.Block(ctx, "+549111", "manual", 0))

	blocked, entry, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.True(t, blocked)
	require.True(t, entry.Permanent())
}

func TestLimiterUnblockClearsBlockAndWindow(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.RecordAttempt(ctx, "+549111"))
	}
	require.ErrorIs(t, limiter.RecordAttempt(ctx, "+549111"), ErrRateLimited)

	require.NoError(t, limiter.Unblock(ctx, "+549111"))

	blocked, _, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.False(t, blocked)

	// The window restarts from zero after an unblock.
	require.NoError(t, limiter.RecordAttempt(ctx, "+549111"))
}

func TestLimiterUnblockKeepsHistoryByDefault(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{Escalation: 1})
	ctx := context.Background()

	require.NoError(t, limiter.Block(ctx, "+549111", "test", 30*time.Minute))
	require.NoError(t, limiter.Unblock(ctx, "+549111"))

	// History survived the unblock, so the next block escalates.
	require.NoError(t, limiter.Block(ctx, "+549111", "test", 30*time.Minute))
	_, entry, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.True(t, entry.Permanent())
}

func TestLimiterUnblockResetsHistoryWhenConfigured(t *testing.T) {
	limiter, _ := newTestLimiter(LimiterConfig{Escalation: 1, ResetOnUnblock: true})
	ctx := context.Background()

	require.NoError(t, limiter.Block(ctx, "+549111", "test", 30*time.Minute))
	require.NoError(t, limiter.Unblock(ctx, "+549111"))

	require.NoError(t, limiter.Block(ctx, "+549111", "test", 30*time.Minute))
	_, entry, err := limiter.IsBlocked(ctx, "+549111")
	require.NoError(t, err)
	require.False(t, entry.Permanent(), "a wiped history must not escalate")
}
