package service

import (
	"testing"

	"github.com/Sentinel-Gate/catalogguard/internal/domain/policy"
)

func TestResultCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := NewResultCache(2)
	c.Put(1, policy.Decision{RuleID: "one"})
	c.Put(2, policy.Decision{RuleID: "two"})

	// Touch 1 so 2 becomes the eviction candidate.
	if d, ok := c.Get(1); !ok || d.RuleID != "one" {
		t.Fatalf("Get(1) = %+v, %v", d, ok)
	}
	c.Put(3, policy.Decision{RuleID: "three"})

	if _, ok := c.Get(2); ok {
		t.Error("Get(2) hit after eviction")
	}
	for _, key := range []uint64{1, 3} {
		if _, ok := c.Get(key); !ok {
			t.Errorf("Get(%d) missed", key)
		}
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestResultCache_PutUpdatesExisting(t *testing.T) {
	t.Parallel()

	c := NewResultCache(2)
	c.Put(1, policy.Decision{Allowed: false})
	c.Put(1, policy.Decision{Allowed: true})

	if d, _ := c.Get(1); !d.Allowed {
		t.Error("Put did not overwrite the cached decision")
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestResultCache_ClearAndMinimumSize(t *testing.T) {
	t.Parallel()

	c := NewResultCache(0)
	c.Put(1, policy.Decision{})
	c.Put(2, policy.Decision{})
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1 for zero capacity", c.Size())
	}

	c.Clear()
	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", c.Size())
	}
	if _, ok := c.Get(2); ok {
		t.Error("Get hit after Clear")
	}
}
