package media

import (
	"bytes"
	"image"
	"image/jpeg"
	_ "image/png" // register PNG decoder

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultMaxDimension bounds photos sent for quality checks.
const DefaultMaxDimension = 1024

// Downscale decodes a JPEG or PNG, shrinks it so neither side exceeds
// maxDimension, and re-encodes it as JPEG. Undecodable input (HEIC, corrupt
// bytes) is returned unchanged with its original MIME type so the caller can
// still send it and let the model judge it.
func Downscale(data []byte, mimeType string, maxDimension int) ([]byte, string) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		log.Debug().Err(err).Str("mimeType", mimeType).Msg("Image not decodable, sending original")
		return data, mimeType
	}

	bounds := img.Bounds()
	newWidth, newHeight := calculateDimensions(bounds.Dx(), bounds.Dy(), maxDimension)
	if newWidth == bounds.Dx() && newHeight == bounds.Dy() {
		return data, mimeType
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		log.Warn().Err(err).Msg("Failed to encode downscaled image, sending original")
		return data, mimeType
	}

	log.Debug().
		Int("origWidth", bounds.Dx()).
		Int("origHeight", bounds.Dy()).
		Int("newWidth", newWidth).
		Int("newHeight", newHeight).
		Int("outputSize", buf.Len()).
		Msg("Image downscaled")

	return buf.Bytes(), "image/jpeg"
}

// calculateDimensions keeps the aspect ratio while fitting within maxDimension.
func calculateDimensions(width, height, maxDimension int) (int, int) {
	if maxDimension <= 0 || (width <= maxDimension && height <= maxDimension) {
		return width, height
	}

	if width > height {
		return maxDimension, max(1, int(float64(height)*float64(maxDimension)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxDimension)/float64(height))), maxDimension
}
