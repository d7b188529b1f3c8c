package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"publish-pipeline/domain/model"
	"publish-pipeline/domain/repository"

	"github.com/redis/go-redis/v9"
)

const statePrefix = "publish:oauth:"

type redisStateStore struct {
	client redis.UniversalClient
}

func NewRedisStateStore(client redis.UniversalClient) repository.IOAuthStateStore {
	return &redisStateStore{client: client}
}

func (s *redisStateStore) SaveState(ctx context.Context, state string, data model.OAuthState, ttl time.Duration) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, statePrefix+state, payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// TakeState reads and deletes in one round trip so a state is used at most once.
func (s *redisStateStore) TakeState(ctx context.Context, state string) (*model.OAuthState, error) {
	raw, err := s.client.GetDel(ctx, statePrefix+state).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("load state: %w", err)
	}
	var out model.OAuthState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &out, nil
}
