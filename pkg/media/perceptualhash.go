package media

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"mime"
	"os"

	"github.com/ingestlab/telecorpus/pkg/model"
)

// averageHash implements the average-hash (aHash) perceptual hashing
// algorithm spec.md §4.G step 7 calls for: shrink to 8x8 grayscale,
// compare each pixel to the mean, and pack the 64 bits into a uint64.
// No library in the example pack wires a different perceptual-hash
// implementation, so this is hand-rolled against the stdlib image
// decoders already registered for format validation below.
func averageHash(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return 0, fmt.Errorf("decoding image: %w", err)
	}

	const side = 8
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return 0, fmt.Errorf("image has zero dimension")
	}

	var grays [side * side]float64
	var sum float64
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			sx := bounds.Min.X + x*w/side
			sy := bounds.Min.Y + y*h/side
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Rec. 601 luma, operating on the 16-bit-scaled channels
			// RGBA() returns.
			gray := 0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)
			grays[y*side+x] = gray
			sum += gray
		}
	}
	mean := sum / float64(side*side)

	var hash uint64
	for i, v := range grays {
		if v >= mean {
			hash |= 1 << uint(i)
		}
	}
	return hash, nil
}

// hammingDistance counts differing bits between two perceptual hashes.
func hammingDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}

// validate implements spec.md §4.G step 6: a lightweight structural
// check appropriate to the media kind, not a full codec conformance
// suite. Photo/GIF get a real format probe via the stdlib decoders
// registered above; other kinds only get a non-empty-file check since
// the stdlib has no equivalently cheap probe for audio/video containers
// and no library in the example pack is wired for that purpose either.
func validate(path string, fileType model.MediaType) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return fmt.Errorf("downloaded file is empty")
	}

	switch fileType {
	case model.MediaPhoto, model.MediaGIF:
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		cfg, _, err := image.DecodeConfig(f)
		if err != nil {
			return fmt.Errorf("not a decodable image: %w", err)
		}
		if cfg.Width == 0 || cfg.Height == 0 {
			return fmt.Errorf("decoded image has zero dimension")
		}
		return nil
	default:
		return nil
	}
}

// extensionFromMIME is used for the document/unknown fallback path in
// extensionFor, when the media kind alone doesn't imply a container.
func extensionFromMIME(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ""
	}
	return exts[0]
}
