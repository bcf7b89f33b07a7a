package availability

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepo is an in-process availability index for single-instance
// deployments and tests.
type MemoryRepo struct {
	mu   sync.Mutex
	rows map[string]Responder // key: userID:orgID
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{rows: make(map[string]Responder)}
}

func key(userID, orgID string) string { return userID + ":" + orgID }

func (r *MemoryRepo) Set(ctx context.Context, resp Responder) error {
	if resp.UserID == "" || resp.OrgID == "" {
		return fmt.Errorf("availability: user_id and org_id required")
	}
	if !resp.Status.Valid() {
		return fmt.Errorf("availability: invalid status %q", resp.Status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[key(resp.UserID, resp.OrgID)] = resp
	return nil
}

func (r *MemoryRepo) FindAvailable(ctx context.Context, orgID string, skills []string) ([]Responder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Responder
	for _, resp := range r.rows {
		if resp.OrgID != orgID || resp.Status != StatusAvailable {
			continue
		}
		if !resp.HasSkills(skills) {
			continue
		}
		out = append(out, resp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (r *MemoryRepo) GetOne(ctx context.Context, userID, orgID string) (Responder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resp, ok := r.rows[key(userID, orgID)]
	if !ok {
		return Responder{}, fmt.Errorf("availability %s/%s: %w", userID, orgID, ErrNotFound)
	}
	return resp, nil
}

func (r *MemoryRepo) Close() error { return nil }
