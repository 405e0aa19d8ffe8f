package media

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ingestlab/telecorpus/pkg/model"
)

func TestHammingDistanceIdenticalHashesIsZero(t *testing.T) {
	assert.Equal(t, 0, hammingDistance(0xABCDEF, 0xABCDEF))
}

func TestHammingDistanceCountsDifferingBits(t *testing.T) {
	assert.Equal(t, 1, hammingDistance(0b0001, 0b0000))
	assert.Equal(t, 64, hammingDistance(0, ^uint64(0)))
}

func TestExtensionForKnownKinds(t *testing.T) {
	assert.Equal(t, ".jpg", extensionFor(model.MediaPhoto, ""))
	assert.Equal(t, ".mp4", extensionFor(model.MediaVideo, ""))
	assert.Equal(t, ".gif", extensionFor(model.MediaGIF, ""))
	assert.Equal(t, ".ogg", extensionFor(model.MediaVoice, ""))
	assert.Equal(t, ".webp", extensionFor(model.MediaSticker, ""))
}

func TestExtensionForDocumentFallsBackToMIME(t *testing.T) {
	assert.Equal(t, ".pdf", extensionFor(model.MediaDocument, "application/pdf"))
}

func TestExtensionForUnknownMIMEFallsBackToBin(t *testing.T) {
	assert.Equal(t, ".bin", extensionFor(model.MediaDocument, "application/x-nonexistent-type"))
}

func TestContentAddressedPathIncludesHashAndExtension(t *testing.T) {
	path := contentAddressedPath("/data/media", []byte{0xde, 0xad, 0xbe, 0xef}, ".jpg")
	assert.Contains(t, path, "deadbeef.jpg")
	assert.Contains(t, path, "/data/media")
}

func TestIsImageOnlyTrueForPhoto(t *testing.T) {
	assert.True(t, isImage(model.MediaPhoto))
	assert.False(t, isImage(model.MediaVideo))
	assert.False(t, isImage(model.MediaDocument))
}
