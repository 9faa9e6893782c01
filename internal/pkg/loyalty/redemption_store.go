package loyalty

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/BeanCounter/app/models"
)

// RedemptionDecision applies the redemption policy to a loaded state. It may
// modify state; the store persists the modification only for granted results.
type RedemptionDecision func(state *models.RedemptionState) RedemptionResult

// RedemptionStore runs a redemption decision as one atomic unit per customer.
type RedemptionStore interface {
	Redeem(ctx context.Context, customerID string, decide RedemptionDecision) (RedemptionResult, error)
	Get(ctx context.Context, customerID string) (*models.RedemptionState, error)
}

// repositoryRedemptionStore serializes redemptions with a per-customer lock
// in process and the customer's row lock across processes.
type repositoryRedemptionStore struct {
	repo  Repository
	locks *keyLock
}

// NewRepositoryRedemptionStore keeps redemption state next to the rest of the
// loyalty data.
func NewRepositoryRedemptionStore(repo Repository) RedemptionStore {
	return &repositoryRedemptionStore{repo: repo, locks: newKeyLock()}
}

func (s *repositoryRedemptionStore) Redeem(ctx context.Context, customerID string, decide RedemptionDecision) (RedemptionResult, error) {
	unlock := s.locks.Lock(customerID)
	defer unlock()

	var result RedemptionResult
	err := s.repo.Transaction(ctx, func(tx Repository) error {
		if err := lockCustomerRow(ctx, tx, customerID); err != nil {
			return err
		}
		state, err := tx.GetRedemptionState(ctx, customerID)
		if err != nil {
			return err
		}
		result = decide(state)
		if !result.Granted() {
			return nil
		}
		return tx.SaveRedemptionState(ctx, state)
	})
	if err != nil {
		return RedemptionResult{}, err
	}
	return result, nil
}

func (s *repositoryRedemptionStore) Get(ctx context.Context, customerID string) (*models.RedemptionState, error) {
	return s.repo.GetRedemptionState(ctx, customerID)
}

const (
	RedemptionKeyPrefix = "loyalty:redemption:"
	RedemptionKeyTTL    = 48 * time.Hour

	fieldDayKey = "day"
	fieldCount  = "count"
	fieldLast   = "last"
)

// RedisRedemptionStore keeps redemption state in Redis hashes and applies
// decisions with WATCH/MULTI. Collisions are retried up to maxRetries times
// before ErrTransientConflict is returned. It lets several engine processes
// share one redemption counter per customer.
type RedisRedemptionStore struct {
	client     *redis.Client
	maxRetries int
}

// NewRedisRedemptionStore creates a Redis-backed store.
func NewRedisRedemptionStore(client *redis.Client, maxRetries int) *RedisRedemptionStore {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &RedisRedemptionStore{client: client, maxRetries: maxRetries}
}

func (s *RedisRedemptionStore) key(customerID string) string {
	return RedemptionKeyPrefix + customerID
}

func (s *RedisRedemptionStore) Redeem(ctx context.Context, customerID string, decide RedemptionDecision) (RedemptionResult, error) {
	key := s.key(customerID)
	var result RedemptionResult

	txf := func(tx *redis.Tx) error {
		values, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		state, err := decodeRedemptionState(customerID, values)
		if err != nil {
			return err
		}
		result = decide(state)
		if !result.Granted() {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, encodeRedemptionState(state))
			pipe.Expire(ctx, key, RedemptionKeyTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return RedemptionResult{}, err
	}
	return RedemptionResult{}, fmt.Errorf("redeem free item for %s after %d attempts: %w", customerID, s.maxRetries, ErrTransientConflict)
}

func (s *RedisRedemptionStore) Get(ctx context.Context, customerID string) (*models.RedemptionState, error) {
	values, err := s.client.HGetAll(ctx, s.key(customerID)).Result()
	if err != nil {
		return nil, err
	}
	return decodeRedemptionState(customerID, values)
}

func encodeRedemptionState(s *models.RedemptionState) map[string]interface{} {
	values := map[string]interface{}{
		fieldDayKey: s.DayKey,
		fieldCount:  s.CountUsedToday,
		fieldLast:   "",
	}
	if s.LastRedemptionAt != nil {
		values[fieldLast] = strconv.FormatInt(s.LastRedemptionAt.UnixNano(), 10)
	}
	return values
}

func decodeRedemptionState(customerID string, values map[string]string) (*models.RedemptionState, error) {
	state := &models.RedemptionState{CustomerID: customerID, DayKey: values[fieldDayKey]}
	if raw := values[fieldCount]; raw != "" {
		count, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("decode redemption count for %s: %w", customerID, err)
		}
		state.CountUsedToday = count
	}
	if raw := values[fieldLast]; raw != "" {
		nanos, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("decode last redemption for %s: %w", customerID, err)
		}
		last := time.Unix(0, nanos)
		state.LastRedemptionAt = &last
	}
	return state, nil
}
