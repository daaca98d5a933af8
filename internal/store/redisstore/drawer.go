package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"cafepos/backend/internal/domain"
	"cafepos/backend/internal/store"
)

const keyPrefix = "cafepos:drawer"

// DrawerStore keeps drawer snapshots in Redis, one key per register and
// business day. Records outlive the day by Retention so a late close report
// can still be read.
type DrawerStore struct {
	client    *redis.Client
	Retention time.Duration
}

func NewDrawerStore(client *redis.Client) *DrawerStore {
	return &DrawerStore{client: client, Retention: 7 * 24 * time.Hour}
}

func Key(registerID string, businessDay string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, registerID, businessDay)
}

func (s *DrawerStore) LoadDrawer(ctx context.Context, registerID string, businessDay string) (*domain.DrawerSnapshot, error) {
	raw, err := s.client.Get(ctx, Key(registerID, businessDay)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snap domain.DrawerSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode drawer %s/%s: %w", registerID, businessDay, err)
	}
	return &snap, nil
}

func (s *DrawerStore) SaveDrawer(ctx context.Context, snapshot domain.DrawerSnapshot) error {
	if snapshot.RegisterID == "" || snapshot.BusinessDay == "" {
		return fmt.Errorf("drawer snapshot needs register and business day")
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, Key(snapshot.RegisterID, snapshot.BusinessDay), payload, s.Retention).Err()
}
