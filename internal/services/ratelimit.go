package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/veriflow/veriflow-backend/internal/store"
)

const (
	rateKeyPrefix       = "rate:"
	blockKeyPrefix      = "block:"
	blockCountKeyPrefix = "blockcount:"
)

// ErrRateLimited is returned when an attempt crosses the window ceiling and
// the address has just been blocked.
var ErrRateLimited = errors.New("rate limit exceeded, address blocked")

// BlockEntry records an active block for an address. ExpiresAt == nil means
// the block is permanent.
type BlockEntry struct {
	Address   string     `json:"address"`
	Reason    string     `json:"reason"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Count     int64      `json:"count"`
}

// Permanent reports whether the block has no expiry.
func (b *BlockEntry) Permanent() bool { return b.ExpiresAt == nil }

// LimiterConfig carries the abuse-control tuning.
type LimiterConfig struct {
	Window         time.Duration // sliding window for sensitive actions
	Ceiling        int64         // actions allowed inside the window
	BlockDuration  time.Duration // length of an automatic temporary block
	Escalation     int64         // temporary blocks before the next is permanent
	HistoryTTL     time.Duration // retention of the block counter
	ResetOnUnblock bool          // manual unblock also clears the counter
}

// Limiter counts sensitive actions (one-time code issuances) per address in a
// fixed sliding window and blocks addresses that exceed the ceiling, with
// escalation to a permanent block after repeated temporary ones.
type Limiter struct {
	kv  store.KV
	cfg LimiterConfig
}

func NewLimiter(kv store.KV, cfg LimiterConfig) *Limiter {
	return &Limiter{kv: kv, cfg: cfg}
}

// IsBlocked reports whether the address is currently blocked. Expired
// temporary blocks are removed eagerly so callers never observe a stale
// positive, even if the backing store has not evicted the key yet.
func (l *Limiter) IsBlocked(ctx context.Context, address string) (bool, *BlockEntry, error) {
	raw, ok, err := l.kv.Get(ctx, blockKeyPrefix+address)
	if err != nil {
		return false, nil, err
	}
	if !ok {
		return false, nil, nil
	}

	var entry BlockEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		// Unreadable entry: drop it rather than lock the address forever.
		_ = l.kv.Del(ctx, blockKeyPrefix+address)
		return false, nil, nil
	}

	if entry.ExpiresAt != nil && time.Now().After(*entry.ExpiresAt) {
		if err := l.kv.Del(ctx, blockKeyPrefix+address); err != nil {
			return false, nil, err
		}
		return false, nil, nil
	}

	return true, &entry, nil
}

// RecordAttempt counts one sensitive action for the address. The first
// attempt in a window starts the window's expiry. Crossing the ceiling blocks
// the address, clears the window counter and returns ErrRateLimited.
func (l *Limiter) RecordAttempt(ctx context.Context, address string) error {
	key := rateKeyPrefix + address
	n, err := l.kv.Incr(ctx, key)
	if err != nil {
		return err
	}
	if n == 1 {
		if err := l.kv.Expire(ctx, key, l.cfg.Window); err != nil {
			return err
		}
	}

	if n > l.cfg.Ceiling {
		if err := l.Block(ctx, address, "too many one-time code requests", l.cfg.BlockDuration); err != nil {
			return err
		}
		if err := l.kv.Del(ctx, key); err != nil {
			log.Printf("ratelimit: failed to clear window for %s: %v", address, err)
		}
		return ErrRateLimited
	}
	return nil
}

// Block blocks the address for the given duration (0 = permanent). Each block
// bumps a long-lived per-address counter; once the counter reaches the
// escalation threshold the current block is stored without an expiry.
func (l *Limiter) Block(ctx context.Context, address, reason string, duration time.Duration) error {
	countKey := blockCountKeyPrefix + address

	var prior int64
	if raw, ok, err := l.kv.Get(ctx, countKey); err == nil && ok {
		_ = json.Unmarshal([]byte(raw), &prior)
	}

	permanent := duration == 0 || prior >= l.cfg.Escalation

	var count int64 = prior
	if !permanent {
		n, err := l.kv.Incr(ctx, countKey)
		if err != nil {
			return err
		}
		if n == 1 {
			if err := l.kv.Expire(ctx, countKey, l.cfg.HistoryTTL); err != nil {
				return err
			}
		}
		count = n
	}

	now := time.Now().UTC()
	entry := BlockEntry{
		Address:   address,
		Reason:    reason,
		BlockedAt: now,
		Count:     count,
	}
	var ttl time.Duration
	if !permanent {
		exp := now.Add(duration)
		entry.ExpiresAt = &exp
		ttl = duration
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	// ttl == 0 keeps the key forever: that IS the permanent block.
	return l.kv.SetTTL(ctx, blockKeyPrefix+address, string(data), ttl)
}

// Unblock clears the block and any in-window counter for the address, so a
// user who eventually verifies successfully is not penalized for earlier
// failures. Clearing the long-lived block counter is configurable.
func (l *Limiter) Unblock(ctx context.Context, address string) error {
	keys := []string{blockKeyPrefix + address, rateKeyPrefix + address}
	if l.cfg.ResetOnUnblock {
		keys = append(keys, blockCountKeyPrefix+address)
	}
	return l.kv.Del(ctx, keys...)
}
