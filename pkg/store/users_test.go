package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/model"
)

func TestDiffIdentityNoChanges(t *testing.T) {
	u := model.User{Username: "alice", FirstName: "Alice", LastName: "A", Phone: "+1555"}
	assert.Empty(t, diffIdentity(u, u))
}

func TestDiffIdentityDetectsEachField(t *testing.T) {
	old := model.User{Username: "alice", FirstName: "Alice", LastName: "A", Phone: "+1555"}
	next := model.User{Username: "alice2", FirstName: "Alicia", LastName: "A", Phone: "+1777"}

	diffs := diffIdentity(old, next)
	assert.Len(t, diffs, 3)

	byField := make(map[model.IdentityField]identityDiff, len(diffs))
	for _, d := range diffs {
		byField[d.field] = d
	}

	assert.Equal(t, "alice", byField[model.FieldUsername].oldValue)
	assert.Equal(t, "alice2", byField[model.FieldUsername].newValue)
	assert.Equal(t, "Alice", byField[model.FieldFirstName].oldValue)
	assert.Equal(t, "Alicia", byField[model.FieldFirstName].newValue)
	assert.Equal(t, "+1555", byField[model.FieldPhone].oldValue)
	assert.Equal(t, "+1777", byField[model.FieldPhone].newValue)
	_, sawLastName := byField[model.FieldLastName]
	assert.False(t, sawLastName)
}
