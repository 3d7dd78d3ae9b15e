package repositories

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prudhvinik1/omnisync/internal/models"
	"github.com/redis/go-redis/v9"
)

const activityKeyPrefix = "activity:"

// RedisSyncActivityRepository keeps one hash per user and resource. Entries
// expire after ttl without traffic.
type RedisSyncActivityRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSyncActivityRepository(client *redis.Client, ttl time.Duration) *RedisSyncActivityRepository {
	return &RedisSyncActivityRepository{client: client, ttl: ttl}
}

// Touch updates the pull or push side of the activity and refreshes the TTL.
func (r *RedisSyncActivityRepository) Touch(ctx context.Context, owner, resource string, direction models.SyncDirection, watermark int64, pushed int) error {
	key := activityKey(owner, resource)
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		switch direction {
		case models.DirectionPull:
			pipe.HSet(ctx, key, "lastPullAt", now, "lastWatermark", watermark)
		case models.DirectionPush:
			pipe.HSet(ctx, key, "lastPushAt", now)
			pipe.HIncrBy(ctx, key, "pushedRecords", int64(pushed))
		default:
			return fmt.Errorf("unknown sync direction %q", direction)
		}
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to touch sync activity: %w", err)
	}

	return nil
}

func (r *RedisSyncActivityRepository) Get(ctx context.Context, owner, resource string) (*models.SyncActivity, error) {
	fields, err := r.client.HGetAll(ctx, activityKey(owner, resource)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get sync activity: %w", err)
	}
	return decodeActivity(owner, resource, fields), nil
}

// List returns one activity per resource in the given order. Resources
// without traffic come back empty rather than missing.
func (r *RedisSyncActivityRepository) List(ctx context.Context, owner string, resources []string) ([]*models.SyncActivity, error) {
	activities := make([]*models.SyncActivity, 0, len(resources))
	if len(resources) == 0 {
		return activities, nil
	}

	pipe := r.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(resources))
	for i, resource := range resources {
		cmds[i] = pipe.HGetAll(ctx, activityKey(owner, resource))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to list sync activity: %w", err)
	}

	for i, cmd := range cmds {
		activities = append(activities, decodeActivity(owner, resources[i], cmd.Val()))
	}
	return activities, nil
}

func decodeActivity(owner, resource string, fields map[string]string) *models.SyncActivity {
	activity := &models.SyncActivity{Owner: owner, Resource: resource}
	if v, ok := fields["lastPullAt"]; ok {
		activity.LastPullAt = parseMillis(v)
	}
	if v, ok := fields["lastPushAt"]; ok {
		activity.LastPushAt = parseMillis(v)
	}
	activity.LastWatermark, _ = strconv.ParseInt(fields["lastWatermark"], 10, 64)
	activity.PushedRecords, _ = strconv.ParseInt(fields["pushedRecords"], 10, 64)
	return activity
}

func parseMillis(v string) *time.Time {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil
	}
	t := time.UnixMilli(ms).UTC()
	return &t
}

// Helper: build Redis key for sync activity
func activityKey(owner, resource string) string {
	return activityKeyPrefix + resource + ":" + owner
}

// MemorySyncActivityRepository is the in-process counterpart used with the
// memory change store.
type MemorySyncActivityRepository struct {
	mu         sync.Mutex
	activities map[string]models.SyncActivity
}

func NewMemorySyncActivityRepository() *MemorySyncActivityRepository {
	return &MemorySyncActivityRepository{activities: make(map[string]models.SyncActivity)}
}

func (r *MemorySyncActivityRepository) Touch(ctx context.Context, owner, resource string, direction models.SyncDirection, watermark int64, pushed int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := activityKey(owner, resource)
	activity := r.activities[key]
	activity.Owner = owner
	activity.Resource = resource

	now := time.Now().UTC()
	switch direction {
	case models.DirectionPull:
		activity.LastPullAt = &now
		activity.LastWatermark = watermark
	case models.DirectionPush:
		activity.LastPushAt = &now
		activity.PushedRecords += int64(pushed)
	default:
		return fmt.Errorf("unknown sync direction %q", direction)
	}

	r.activities[key] = activity
	return nil
}

func (r *MemorySyncActivityRepository) Get(ctx context.Context, owner, resource string) (*models.SyncActivity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	activity, ok := r.activities[activityKey(owner, resource)]
	if !ok {
		return &models.SyncActivity{Owner: owner, Resource: resource}, nil
	}
	return &activity, nil
}

func (r *MemorySyncActivityRepository) List(ctx context.Context, owner string, resources []string) ([]*models.SyncActivity, error) {
	activities := make([]*models.SyncActivity, 0, len(resources))
	for _, resource := range resources {
		activity, err := r.Get(ctx, owner, resource)
		if err != nil {
			return nil, err
		}
		activities = append(activities, activity)
	}
	return activities, nil
}
