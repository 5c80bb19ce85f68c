// Package redis provides a Redis-backed wake repository: a sorted set
// orders wakes by due time and a Lua script makes claiming atomic. It
// can replace the SQL wake store in deployments where timer volume
// dwarfs run volume.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agenciapixel/connectflow/pkg/models"
	"github.com/agenciapixel/connectflow/pkg/persistence"
)

const (
	dueSetKey     = "connectflow:wakes:due"
	wakeKeyPrefix = "connectflow:wake:"
	runKeyPrefix  = "connectflow:wakes:run:"
)

// WakeRepository implements persistence.WakeRepository on Redis.
type WakeRepository struct {
	client *redis.Client
}

func NewWakeRepository(client *redis.Client) *WakeRepository {
	return &WakeRepository{client: client}
}

// NewClient parses a redis:// URL into a client.
func NewClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return redis.NewClient(opts), nil
}

func wakeKey(id string) string { return wakeKeyPrefix + id }
func runKey(runID string) string { return runKeyPrefix + runID }

func (r *WakeRepository) Save(ctx context.Context, wake *models.ScheduledWake) error {
	if wake.CreatedAt.IsZero() {
		wake.CreatedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(wake)
	if err != nil {
		return fmt.Errorf("failed to marshal wake %s: %w", wake.ID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, wakeKey(wake.ID),
		"payload", payload,
		"run_id", wake.RunID,
		"claimed_by", wake.ClaimedBy,
		"claimed_until", unixOrZero(wake.ClaimedUntil),
		"consumed", boolField(wake.Consumed),
	)
	pipe.ZAdd(ctx, dueSetKey, redis.Z{Score: float64(wake.DueAt.Unix()), Member: wake.ID})
	pipe.SAdd(ctx, runKey(wake.RunID), wake.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save wake %s: %w", wake.ID, err)
	}

	return nil
}

func (r *WakeRepository) ByID(ctx context.Context, id string) (*models.ScheduledWake, error) {
	fields, err := r.client.HGetAll(ctx, wakeKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load wake %s: %w", id, err)
	}

	if len(fields) == 0 {
		return nil, persistence.ErrWakeNotFound
	}

	return decodeWake(fields)
}

func (r *WakeRepository) PendingByRun(ctx context.Context, runID string) ([]*models.ScheduledWake, error) {
	ids, err := r.client.SMembers(ctx, runKey(runID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list wakes of run %s: %w", runID, err)
	}

	var pending []*models.ScheduledWake

	for _, id := range ids {
		wake, err := r.ByID(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrWakeNotFound) {
				continue
			}

			return nil, err
		}

		if !wake.Consumed {
			pending = append(pending, wake)
		}
	}

	sortByDue(pending)

	return pending, nil
}

func (r *WakeRepository) CancelByRun(ctx context.Context, runID string) error {
	ids, err := r.client.SMembers(ctx, runKey(runID)).Result()
	if err != nil {
		return fmt.Errorf("failed to list wakes of run %s: %w", runID, err)
	}

	pipe := r.client.TxPipeline()

	for _, id := range ids {
		pipe.Del(ctx, wakeKey(id))
		pipe.ZRem(ctx, dueSetKey, id)
	}

	pipe.Del(ctx, runKey(runID))

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cancel wakes of run %s: %w", runID, err)
	}

	return nil
}

// claimScript walks due wake IDs and claims every one that is not
// consumed and not held under a live claim of another worker.
var claimScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[4])
local claimed = {}
for _, id in ipairs(due) do
	local key = ARGV[5] .. id
	if redis.call('HGET', key, 'consumed') ~= '1' then
		local owner = redis.call('HGET', key, 'claimed_by')
		local held_until = tonumber(redis.call('HGET', key, 'claimed_until') or '0')
		if not owner or owner == '' or owner == ARGV[2] or held_until < tonumber(ARGV[1]) then
			redis.call('HSET', key, 'claimed_by', ARGV[2], 'claimed_until', ARGV[3])
			claimed[#claimed + 1] = redis.call('HGET', key, 'payload')
		end
	end
end
return claimed
`)

func (r *WakeRepository) ClaimDue(ctx context.Context, now time.Time, owner string, leaseFor time.Duration, limit int) ([]*models.ScheduledWake, error) {
	result, err := claimScript.Run(ctx, r.client,
		[]string{dueSetKey},
		now.Unix(), owner, now.Add(leaseFor).Unix(), limit, wakeKeyPrefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due wakes: %w", err)
	}

	claimed := make([]*models.ScheduledWake, 0, len(result))

	for _, payload := range result {
		var wake models.ScheduledWake
		if err := json.Unmarshal([]byte(payload), &wake); err != nil {
			return nil, fmt.Errorf("failed to unmarshal claimed wake: %w", err)
		}

		wake.ClaimedBy = owner
		wake.ClaimedUntil = now.Add(leaseFor)
		claimed = append(claimed, &wake)
	}

	sortByDue(claimed)

	return claimed, nil
}

var consumeScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return 'not_found'
end
if redis.call('HGET', key, 'consumed') == '1' then
	return 'consumed'
end
local owner = redis.call('HGET', key, 'claimed_by')
if owner and owner ~= '' and owner ~= ARGV[1] then
	return 'held'
end
redis.call('HSET', key, 'consumed', '1')
redis.call('ZREM', KEYS[2], ARGV[2])
return 'ok'
`)

func (r *WakeRepository) Consume(ctx context.Context, wakeID, owner string) error {
	result, err := consumeScript.Run(ctx, r.client,
		[]string{wakeKey(wakeID), dueSetKey}, owner, wakeID).Text()
	if err != nil {
		return fmt.Errorf("failed to consume wake %s: %w", wakeID, err)
	}

	switch result {
	case "ok":
		return nil
	case "not_found":
		return persistence.ErrWakeNotFound
	case "consumed":
		return persistence.ErrWakeConsumed
	default:
		return persistence.ErrLeaseHeld
	}
}

func decodeWake(fields map[string]string) (*models.ScheduledWake, error) {
	var wake models.ScheduledWake
	if err := json.Unmarshal([]byte(fields["payload"]), &wake); err != nil {
		return nil, fmt.Errorf("failed to unmarshal wake payload: %w", err)
	}

	wake.ClaimedBy = fields["claimed_by"]
	wake.Consumed = fields["consumed"] == "1"

	if raw := fields["claimed_until"]; raw != "" && raw != "0" {
		if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
			wake.ClaimedUntil = time.Unix(unix, 0).UTC()
		}
	}

	return &wake, nil
}

func sortByDue(wakes []*models.ScheduledWake) {
	sort.Slice(wakes, func(i, j int) bool { return wakes[i].DueAt.Before(wakes[j].DueAt) })
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}

	return t.Unix()
}

func boolField(b bool) string {
	if b {
		return "1"
	}

	return "0"
}
