package chat

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/fpang/scholarship-verification/internal/assets"
	"github.com/fpang/scholarship-verification/internal/media"
	"github.com/fpang/scholarship-verification/internal/metrics"
)

// Sentinel points for the visual stage.
const (
	NoImagesPoint         = "No images available"
	NoImagesUploadedPoint = "No images could be processed"
	HouseParseErrorPoint  = "Error parsing house analysis"
)

// HouseAnalyzer rates a house from its photographs.
type HouseAnalyzer struct {
	backend Multimodal
}

// NewHouseAnalyzer creates an analyzer on the multimodal backend.
func NewHouseAnalyzer(backend Multimodal) *HouseAnalyzer {
	return &HouseAnalyzer{backend: backend}
}

// Analyze uploads each photo and asks for one collective report. Photos that
// fail to upload are skipped; the rest still produce a report.
func (h *HouseAnalyzer) Analyze(ctx context.Context, imagePaths []string) (HouseReport, error) {
	if len(imagePaths) == 0 {
		return HouseReport{Points: []string{NoImagesPoint}, Condition: ConditionUnknown}, nil
	}
	if h.backend == nil {
		return NeutralHouseReport(), fmt.Errorf("house analysis: %w", ErrUnavailable)
	}

	log.Info().Int("images", len(imagePaths)).Msg("Analyzing house photos")

	parts := make([]*genai.Part, 0, len(imagePaths))
	infos := make([]*media.PhotoInfo, 0, len(imagePaths))
	skipped := 0
	for _, p := range imagePaths {
		mimeType, err := media.MIMETypeForPath(p)
		if err != nil {
			mimeType = "image/jpeg"
		}
		part, cleanup, err := h.backend.Upload(ctx, p, mimeType)
		if err != nil {
			skipped++
			log.Warn().Err(err).Str("image", filepath.Base(p)).Msg("Skipping image that failed to upload")
			continue
		}
		defer cleanup()
		parts = append(parts, part)

		if info, err := media.ExtractPhotoInfo(p); err == nil {
			infos = append(infos, info)
		}
	}

	metrics.New().
		Dimension("Stage", "visual").
		Metric("ImagesUploaded", float64(len(parts)), metrics.UnitCount).
		Metric("ImagesSkipped", float64(skipped), metrics.UnitCount).
		Flush()

	if len(parts) == 0 {
		return HouseReport{Points: []string{NoImagesUploadedPoint}, Condition: ConditionUnknown}, nil
	}

	prompt := assets.HouseAnalysisPrompt
	if photoContext := media.FormatPhotoContext(infos); photoContext != "" {
		prompt += "\n" + photoContext
	}

	raw, err := h.backend.Generate(ctx, GenerateRequest{
		Prompt: prompt,
		Parts:  parts,
		JSON:   true,
	})
	if err != nil {
		return NeutralHouseReport(), fmt.Errorf("house analysis: %w", err)
	}

	report, err := decodeHouseReport(raw)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to parse house analysis response")
		return HouseReport{Points: []string{HouseParseErrorPoint}, Condition: ConditionUnknown}, nil
	}
	return report, nil
}
