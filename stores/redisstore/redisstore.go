// Package redisstore keeps authcore's short-lived state in Redis: pending
// two-factor challenges and the revoked-token denylist. Both expire on
// their own; Redis TTLs do the cleanup.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harborsync/authcore"
)

const (
	challengePrefix = "authcore:challenge:"
	attemptsSuffix  = ":attempts"
	denyPrefix      = "authcore:deny:"
)

// deleteChallengeScript removes the challenge and its attempts counter in
// one round trip and reports whether the challenge existed, so exactly one
// of two racing completions sees 1.
const deleteChallengeScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("DEL", KEYS[2])
return existed
`

var deleteChallengeLua = redis.NewScript(deleteChallengeScript)

// incrAttemptsScript bumps the attempts counter only while the challenge
// itself is still alive, inheriting the challenge's remaining TTL.
const incrAttemptsScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local n = redis.call("INCR", KEYS[2])
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return n
`

var incrAttemptsLua = redis.NewScript(incrAttemptsScript)

// Store implements authcore.ChallengeStore and authcore.Denylist on one
// Redis client.
type Store struct {
	client redis.UniversalClient
}

var (
	_ authcore.ChallengeStore = (*Store)(nil)
	_ authcore.Denylist       = (*Store)(nil)
)

// New returns a Store over client. The caller owns the client's lifecycle.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// Save stores a pending challenge under its ID with the given TTL.
func (s *Store) Save(ctx context.Context, id string, challenge *authcore.TwoFactorChallenge, ttl time.Duration) error {
	blob, err := json.Marshal(challenge)
	if err != nil {
		return fmt.Errorf("encode challenge: %w", err)
	}
	if err := s.client.Set(ctx, challengePrefix+id, blob, ttl).Err(); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	return nil
}

// Get returns the challenge, or ErrChallengeNotFound once it has expired
// or been consumed.
func (s *Store) Get(ctx context.Context, id string) (*authcore.TwoFactorChallenge, error) {
	blob, err := s.client.Get(ctx, challengePrefix+id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, authcore.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get challenge: %w", err)
	}
	challenge := &authcore.TwoFactorChallenge{}
	if err := json.Unmarshal(blob, challenge); err != nil {
		return nil, fmt.Errorf("decode challenge: %w", err)
	}
	return challenge, nil
}

// IncrementAttempts bumps and returns the failed-attempt count for the
// challenge.
func (s *Store) IncrementAttempts(ctx context.Context, id string) (int, error) {
	keys := []string{challengePrefix + id, challengePrefix + id + attemptsSuffix}
	n, err := incrAttemptsLua.Run(ctx, s.client, keys).Int64()
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	if n < 0 {
		return 0, authcore.ErrChallengeNotFound
	}
	return int(n), nil
}

// Delete consumes the challenge. Reports whether it still existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	keys := []string{challengePrefix + id, challengePrefix + id + attemptsSuffix}
	existed, err := deleteChallengeLua.Run(ctx, s.client, keys).Int64()
	if err != nil {
		return false, fmt.Errorf("delete challenge: %w", err)
	}
	return existed == 1, nil
}

// Revoke marks a token ID revoked for ttl. Implements authcore.Denylist.
func (s *Store) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, denyPrefix+tokenID, "1", ttl).Err(); err != nil {
		return fmt.Errorf("denylist revoke: %w", err)
	}
	return nil
}

// IsRevoked reports whether a token ID is on the denylist.
func (s *Store) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.client.Exists(ctx, denyPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("denylist check: %w", err)
	}
	return n > 0, nil
}
