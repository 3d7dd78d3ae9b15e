package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/prudhvinik1/omnisync/internal/utils"
	"github.com/redis/go-redis/v9"
)

const syncKeyPrefix = "sync:"

// upsertScript writes one record hash and its owner index entry. It returns
// the new updatedAt, or -1 when the id belongs to another user.
var upsertScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if owner and owner ~= ARGV[1] then
	return -1
end
local prev = tonumber(redis.call('HGET', KEYS[1], 'updatedAt') or '0')
local ts = tonumber(ARGV[2])
if ts <= prev then
	ts = prev + 1
end
local stamp = string.format('%d', ts)
redis.call('HSET', KEYS[1], 'owner', ARGV[1], 'payload', ARGV[3], 'deleted', ARGV[4], 'updatedAt', stamp)
redis.call('ZADD', KEYS[2], stamp, ARGV[5])
return ts
`)

// RedisChangeStore keeps each record in a hash and indexes ids per owner in
// a sorted set scored by updatedAt.
type RedisChangeStore struct {
	client   *redis.Client
	resource string
	now      utils.Clock
}

func NewRedisChangeStore(client *redis.Client, resource string, clock utils.Clock) *RedisChangeStore {
	if clock == nil {
		clock = utils.NowMillis
	}
	return &RedisChangeStore{client: client, resource: resource, now: clock}
}

func (r *RedisChangeStore) Query(ctx context.Context, owner string, since int64) ([]*models.Record, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.ownerKey(owner), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since, 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query owner index: %w", err)
	}

	records := make([]*models.Record, 0, len(ids))
	if len(ids) == 0 {
		return records, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, r.recordKey(id), "owner", "payload", "deleted", "updatedAt")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to get records: %w", err)
	}

	for i, cmd := range cmds {
		record, err := decodeRedisRecord(ids[i], cmd.Val())
		if err != nil {
			return nil, err
		}
		// Hash gone or moved to another owner while the index lagged.
		if record == nil || record.Owner != owner || record.UpdatedAt <= since {
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

func (r *RedisChangeStore) UpsertBatch(ctx context.Context, owner string, entries []models.Entry) ([]models.Outcome, error) {
	outcomes := make([]models.Outcome, len(entries))
	if len(entries) == 0 {
		return outcomes, nil
	}

	now := r.now()
	pipe := r.client.Pipeline()
	cmds := make([]*redis.Cmd, len(entries))
	for i, entry := range entries {
		payload := entry.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		data, err := json.Marshal(payload)
		if err != nil {
			outcomes[i] = models.Rejected(fmt.Errorf("failed to marshal payload: %w", err))
			continue
		}

		deleted := "0"
		if entry.Deleted {
			deleted = "1"
		}

		cmds[i] = upsertScript.Eval(ctx, pipe,
			[]string{r.recordKey(entry.ID), r.ownerKey(owner)},
			owner, now, string(data), deleted, entry.ID,
		)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		var replyErr redis.Error
		if !errors.As(err, &replyErr) {
			return nil, fmt.Errorf("failed to upsert records: %w", err)
		}
	}

	for i, cmd := range cmds {
		if cmd == nil {
			continue
		}
		updatedAt, err := cmd.Int64()
		switch {
		case err != nil:
			outcomes[i] = models.Rejected(fmt.Errorf("failed to upsert record: %w", err))
		case updatedAt < 0:
			outcomes[i] = models.Rejected(ErrOwnerMismatch)
		default:
			outcomes[i] = models.Accepted(updatedAt)
		}
	}

	return outcomes, nil
}

func decodeRedisRecord(id string, fields []interface{}) (*models.Record, error) {
	if len(fields) != 4 || fields[0] == nil {
		return nil, nil
	}

	owner, _ := fields[0].(string)
	payloadData, _ := fields[1].(string)
	deleted, _ := fields[2].(string)
	stamp, _ := fields[3].(string)

	updatedAt, err := strconv.ParseInt(stamp, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse updatedAt of %s: %w", id, err)
	}

	payload := map[string]any{}
	if payloadData != "" {
		if err := json.Unmarshal([]byte(payloadData), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", id, err)
		}
	}

	return &models.Record{
		ID:        id,
		Owner:     owner,
		Payload:   payload,
		UpdatedAt: updatedAt,
		Deleted:   deleted == "1",
	}, nil
}

// Helper: build Redis keys for records and owner indexes
func (r *RedisChangeStore) recordKey(id string) string {
	return syncKeyPrefix + r.resource + ":record:" + id
}

func (r *RedisChangeStore) ownerKey(owner string) string {
	return syncKeyPrefix + r.resource + ":owner:" + owner
}
