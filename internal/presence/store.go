// Package presence keeps the externally visible "creator is live" flag in
// Redis. The flag outlives a crashed process on purpose: recovery reads it at
// startup to find orphaned sessions.
package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "live:"

// Store reads and writes the live flag.
type Store struct {
	client *redis.Client
}

// NewStore creates a presence store.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

func key(creatorID uuid.UUID) string {
	return keyPrefix + creatorID.String()
}

// SetLive marks the creator live, pointing at the session.
func (s *Store) SetLive(ctx context.Context, creatorID, sessionID uuid.UUID) error {
	if err := s.client.Set(ctx, key(creatorID), sessionID.String(), 0).Err(); err != nil {
		return fmt.Errorf("set live flag: %w", err)
	}
	return nil
}

// ClearLive removes the creator's live flag. Clearing an absent flag is not
// an error.
func (s *Store) ClearLive(ctx context.Context, creatorID uuid.UUID) error {
	if err := s.client.Del(ctx, key(creatorID)).Err(); err != nil {
		return fmt.Errorf("clear live flag: %w", err)
	}
	return nil
}

// ScanLive walks every live flag and returns creator to session mappings.
// Corrupt entries are returned with a Nil session so the caller can clear
// them.
func (s *Store) ScanLive(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	out := make(map[uuid.UUID]uuid.UUID)
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		creatorID, err := uuid.Parse(k[len(keyPrefix):])
		if err != nil {
			continue
		}
		val, err := s.client.Get(ctx, k).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan live flags: %w", err)
		}
		sessionID, err := uuid.Parse(val)
		if err != nil {
			out[creatorID] = uuid.Nil
			continue
		}
		out[creatorID] = sessionID
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan live flags: %w", err)
	}
	return out, nil
}

// LiveSession returns the session the creator is flagged live on, if any.
func (s *Store) LiveSession(ctx context.Context, creatorID uuid.UUID) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, key(creatorID)).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("get live flag: %w", err)
	}
	id, err := uuid.Parse(val)
	if err != nil {
		// A corrupt flag is treated as absent; recovery will clear it.
		return uuid.Nil, false, nil
	}
	return id, true, nil
}
