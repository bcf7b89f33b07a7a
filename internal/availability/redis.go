package availability

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepo keeps the availability index in Redis so multiple gateway
// instances see the same responder set.
//
// Layout:
//   - HASH availability:<org>:<user>  status/dept/skills/updated_at
//   - ZSET availability:<org>:online  userIDs scored by updated_at millis,
//     members present only while status=available
//
// Hashes carry a TTL so a responder that crashes without reporting offline
// eventually ages out of the index.
type RedisRepo struct {
	rdb   *redis.Client
	ttl   time.Duration
	clock func() time.Time
}

const defaultEntryTTL = 12 * time.Hour

func NewRedisRepo(rdb *redis.Client) *RedisRepo {
	return &RedisRepo{rdb: rdb, ttl: defaultEntryTTL, clock: time.Now}
}

func hashKey(orgID, userID string) string { return "availability:" + orgID + ":" + userID }
func onlineKey(orgID string) string       { return "availability:" + orgID + ":online" }

func (r *RedisRepo) Set(ctx context.Context, resp Responder) error {
	if resp.UserID == "" || resp.OrgID == "" {
		return fmt.Errorf("availability: user_id and org_id required")
	}
	if !resp.Status.Valid() {
		return fmt.Errorf("availability: invalid status %q", resp.Status)
	}
	if resp.UpdatedAt.IsZero() {
		resp.UpdatedAt = r.clock().UTC()
	}

	skills, err := json.Marshal(resp.Skills)
	if err != nil {
		return fmt.Errorf("availability: marshal skills: %w", err)
	}

	hk := hashKey(resp.OrgID, resp.UserID)
	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, hk, map[string]any{
		"status":     string(resp.Status),
		"dept":       resp.Dept,
		"skills":     string(skills),
		"updated_at": resp.UpdatedAt.UnixMilli(),
	})
	pipe.Expire(ctx, hk, r.ttl)
	if resp.Status == StatusAvailable {
		pipe.ZAdd(ctx, onlineKey(resp.OrgID), redis.Z{
			Score:  float64(resp.UpdatedAt.UnixMilli()),
			Member: resp.UserID,
		})
	} else {
		pipe.ZRem(ctx, onlineKey(resp.OrgID), resp.UserID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisRepo) FindAvailable(ctx context.Context, orgID string, skills []string) ([]Responder, error) {
	// Most-recently-active first.
	ids, err := r.rdb.ZRevRange(ctx, onlineKey(orgID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []Responder
	for _, id := range ids {
		resp, err := r.GetOne(ctx, id, orgID)
		if err != nil {
			// Hash expired but the set member lingered; drop it lazily.
			r.rdb.ZRem(ctx, onlineKey(orgID), id)
			continue
		}
		if resp.Status != StatusAvailable || !resp.HasSkills(skills) {
			continue
		}
		out = append(out, resp)
	}
	return out, nil
}

func (r *RedisRepo) GetOne(ctx context.Context, userID, orgID string) (Responder, error) {
	vals, err := r.rdb.HGetAll(ctx, hashKey(orgID, userID)).Result()
	if err != nil {
		return Responder{}, err
	}
	if len(vals) == 0 {
		return Responder{}, fmt.Errorf("availability %s/%s: %w", userID, orgID, ErrNotFound)
	}

	resp := Responder{
		UserID: userID,
		OrgID:  orgID,
		Status: Status(vals["status"]),
		Dept:   vals["dept"],
	}
	if raw := vals["skills"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &resp.Skills); err != nil {
			return Responder{}, fmt.Errorf("availability %s/%s: skills: %w", userID, orgID, err)
		}
	}
	var millis int64
	if _, err := fmt.Sscanf(vals["updated_at"], "%d", &millis); err == nil {
		resp.UpdatedAt = time.UnixMilli(millis).UTC()
	}
	return resp, nil
}

func (r *RedisRepo) Close() error { return nil }
