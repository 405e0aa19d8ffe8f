package listener

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/model"
	"github.com/ingestlab/telecorpus/pkg/rpc"
)

func TestMediaTypeNil(t *testing.T) {
	assert.Equal(t, model.MediaNone, mediaType(nil))
}

func TestMediaTypeKnownKind(t *testing.T) {
	assert.Equal(t, model.MediaVoice, mediaType(&rpc.MediaRef{Type: "voice"}))
	assert.Equal(t, model.MediaVideoNote, mediaType(&rpc.MediaRef{Type: "video_note"}))
}

func TestMediaTypeUnknownKindFallsBackToDocument(t *testing.T) {
	assert.Equal(t, model.MediaDocument, mediaType(&rpc.MediaRef{Type: "webpage"}))
}
