package id

import (
	"sort"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewULIDsAreSortedAndUnique(t *testing.T) {
	ids := NewULIDs(100)

	assert.True(t, sort.StringsAreSorted(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, s := range ids {
		assert.True(t, IsULID(s))
		seen[s] = struct{}{}
	}
	assert.Len(t, seen, 100)
}

func TestNewULIDMonotonic(t *testing.T) {
	a, b := NewULID(), NewULID()
	assert.Less(t, a, b)
}

func TestNewUUID(t *testing.T) {
	_, err := uuid.Parse(NewUUID())
	assert.NoError(t, err)
	assert.False(t, IsULID("not-a-ulid"))
}
