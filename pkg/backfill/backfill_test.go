package backfill

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/rpc"
)

func TestLowestMessageIDPicksMinimumRegardlessOfOrder(t *testing.T) {
	messages := []rpc.Message{{ID: 40}, {ID: 12}, {ID: 99}, {ID: 13}}
	assert.EqualValues(t, 12, lowestMessageID(messages))
}

func TestLowestMessageIDSingleMessage(t *testing.T) {
	messages := []rpc.Message{{ID: 7}}
	assert.EqualValues(t, 7, lowestMessageID(messages))
}

func TestMediaTypeFallsBackToDocumentForUnknownKind(t *testing.T) {
	assert.Equal(t, model.MediaDocument, mediaType(&rpc.MediaRef{Type: "poll"}))
	assert.Equal(t, model.MediaNone, mediaType(nil))
}
