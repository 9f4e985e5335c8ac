package common

import (
	"testing"

	"github.com/google/uuid"
)

func TestRollingSet(t *testing.T) {
	size := 10
	set := NewRollingSet(size)

	ids := make([]uuid.UUID, 3*size)
	for i := range ids {
		ids[i] = uuid.New()
	}

	for i := 0; i < 2*size; i++ {
		if !set.Add(ids[i]) {
			t.Fatalf("item %d should be new", i)
		}
	}
	if set.Add(ids[0]) {
		t.Fatalf("duplicate should not be added")
	}
	if set.Len() != 2*size {
		t.Fatalf("Len should be %d, not %d", 2*size, set.Len())
	}

	// the next insertion drops the oldest half
	set.Add(ids[2*size])
	if set.Len() != size+1 {
		t.Fatalf("Len should be %d after roll, not %d", size+1, set.Len())
	}
	for i := 0; i < size; i++ {
		if set.Contains(ids[i]) {
			t.Fatalf("item %d should have been rolled out", i)
		}
	}
	for i := size; i <= 2*size; i++ {
		if !set.Contains(ids[i]) {
			t.Fatalf("item %d should still be present", i)
		}
	}
}
