package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// PhotoInfo is the EXIF provenance of one house photo.
type PhotoInfo struct {
	Name      string
	Latitude  float64
	Longitude float64
	HasGPS    bool
	DateTaken time.Time
	HasDate   bool
	Camera    string
}

// ExtractPhotoInfo reads EXIF metadata from an image file. Only the metadata
// block is read, not the whole image.
func ExtractPhotoInfo(filePath string) (*PhotoInfo, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	info := &PhotoInfo{Name: filepath.Base(filePath)}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		info.Latitude = gps.Latitude()
		info.Longitude = gps.Longitude()
		info.HasGPS = true
	}

	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		info.DateTaken, info.HasDate = exifData.DateTimeOriginal(), true
	case !exifData.CreateDate().IsZero():
		info.DateTaken, info.HasDate = exifData.CreateDate(), true
	case !exifData.ModifyDate().IsZero():
		info.DateTaken, info.HasDate = exifData.ModifyDate(), true
	}

	info.Camera = strings.TrimSpace(strings.TrimSpace(exifData.Make) + " " + strings.TrimSpace(exifData.Model))

	log.Debug().
		Str("path", filePath).
		Bool("hasGps", info.HasGPS).
		Bool("hasDate", info.HasDate).
		Msg("Photo metadata extracted")

	return info, nil
}

// FormatPhotoContext renders the provenance of a photo set as a prompt block.
// Photos without any metadata are omitted; an empty string means nothing to say.
func FormatPhotoContext(infos []*PhotoInfo) string {
	var sb strings.Builder
	for _, info := range infos {
		if info == nil || (!info.HasGPS && !info.HasDate) {
			continue
		}
		if sb.Len() == 0 {
			sb.WriteString("PHOTO METADATA:\n")
		}
		sb.WriteString("- " + info.Name + ":")
		if info.HasDate {
			sb.WriteString(" taken " + info.DateTaken.Format("January 2, 2006 3:04 PM"))
		}
		if info.HasGPS {
			sb.WriteString(fmt.Sprintf(" at %.6f, %.6f", info.Latitude, info.Longitude))
		}
		if info.Camera != "" {
			sb.WriteString(" (" + info.Camera + ")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
