package chat

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/scholarship-verification/internal/assets"
	"github.com/fpang/scholarship-verification/internal/jsonutil"
	"github.com/fpang/scholarship-verification/internal/media"
)

// Quality statuses for evidence photos.
const (
	QualityGood = "GOOD"
	QualityBad  = "BAD"
)

// QualityVerdict says whether one photo is usable evidence.
type QualityVerdict struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// QualityChecker screens photos before they are accepted as evidence.
type QualityChecker struct {
	backend      Multimodal
	maxDimension int
}

// NewQualityChecker creates a checker on the multimodal backend.
func NewQualityChecker(backend Multimodal) *QualityChecker {
	return &QualityChecker{backend: backend, maxDimension: media.DefaultMaxDimension}
}

// Check never fails: backend or parse errors yield BAD with reason "AI Error".
func (q *QualityChecker) Check(ctx context.Context, image []byte, mimeType string) QualityVerdict {
	if len(image) == 0 {
		return QualityVerdict{Status: QualityBad, Reason: "Empty file"}
	}
	if q.backend == nil {
		return QualityVerdict{Status: QualityBad, Reason: "AI Error"}
	}
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	data, mimeType := media.Downscale(image, mimeType, q.maxDimension)
	raw, err := q.backend.Generate(ctx, GenerateRequest{
		Prompt: assets.QualityCheckPrompt,
		Parts:  []*genai.Part{genai.NewPartFromBytes(data, mimeType)},
		JSON:   true,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Quality check failed")
		return QualityVerdict{Status: QualityBad, Reason: "AI Error"}
	}

	v, err := jsonutil.ParseJSON[QualityVerdict](raw)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse quality check response")
		return QualityVerdict{Status: QualityBad, Reason: "AI Error"}
	}
	v.Status = strings.ToUpper(strings.TrimSpace(v.Status))
	if v.Status != QualityGood {
		v.Status = QualityBad
	}
	return v
}
