package availability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSet_RejectsInvalidStatus(t *testing.T) {
	r := NewMemoryRepo()
	err := r.Set(context.Background(), Responder{UserID: "u", OrgID: "o", Status: "sleeping"})
	if err == nil {
		t.Fatalf("expected error for invalid status")
	}
}

func TestFindAvailable_SortsMostRecentFirst(t *testing.T) {
	r := NewMemoryRepo()
	base := time.Unix(1700000000, 0).UTC()

	for i, u := range []string{"s1", "s2", "s3"} {
		err := r.Set(context.Background(), Responder{
			UserID:    u,
			OrgID:     "o",
			Status:    StatusAvailable,
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("set: %v", err)
		}
	}
	// s2 goes busy; must not be returned.
	if err := r.Set(context.Background(), Responder{UserID: "s2", OrgID: "o", Status: StatusBusy, UpdatedAt: base}); err != nil {
		t.Fatalf("set busy: %v", err)
	}

	got, err := r.FindAvailable(context.Background(), "o", nil)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 available, got %d", len(got))
	}
	if got[0].UserID != "s3" || got[1].UserID != "s1" {
		t.Fatalf("wrong order: %s, %s", got[0].UserID, got[1].UserID)
	}
}

func TestFindAvailable_SkillFilter(t *testing.T) {
	r := NewMemoryRepo()
	_ = r.Set(context.Background(), Responder{UserID: "s1", OrgID: "o", Status: StatusAvailable, Skills: []string{"math", "physics"}})
	_ = r.Set(context.Background(), Responder{UserID: "s2", OrgID: "o", Status: StatusAvailable, Skills: []string{"math"}})

	got, err := r.FindAvailable(context.Background(), "o", []string{"math", "physics"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].UserID != "s1" {
		t.Fatalf("expected only s1, got %+v", got)
	}
}

func TestGetOne_MissingIsNotFound(t *testing.T) {
	r := NewMemoryRepo()
	if _, err := r.GetOne(context.Background(), "ghost", "o"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFindAvailable_OrgIsolation(t *testing.T) {
	r := NewMemoryRepo()
	_ = r.Set(context.Background(), Responder{UserID: "s1", OrgID: "a", Status: StatusAvailable})
	_ = r.Set(context.Background(), Responder{UserID: "s2", OrgID: "b", Status: StatusAvailable})

	got, _ := r.FindAvailable(context.Background(), "a", nil)
	if len(got) != 1 || got[0].UserID != "s1" {
		t.Fatalf("org isolation broken: %+v", got)
	}
}
