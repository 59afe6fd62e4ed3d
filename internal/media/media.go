// Package media handles the evidence files attached to a verification:
// MIME detection, photo metadata, downscaling, and voice data URLs.
package media

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SupportedImageExtensions maps house photo extensions to MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// SupportedAudioExtensions maps voice note extensions to MIME types.
var SupportedAudioExtensions = map[string]string{
	".wav":  "audio/wav",
	".mp3":  "audio/mp3",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".flac": "audio/flac",
	".webm": "audio/webm",
	".aiff": "audio/aiff",
}

// GetMIMEType returns the MIME type for a file extension.
func GetMIMEType(ext string) (string, error) {
	ext = strings.ToLower(ext)

	if mimeType, ok := SupportedImageExtensions[ext]; ok {
		return mimeType, nil
	}

	if mimeType, ok := SupportedAudioExtensions[ext]; ok {
		return mimeType, nil
	}

	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// MIMETypeForPath is GetMIMEType on the path's extension.
func MIMETypeForPath(path string) (string, error) {
	return GetMIMEType(filepath.Ext(path))
}

// IsImage returns true if the file extension corresponds to an image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsAudio returns true if the file extension corresponds to an audio recording.
func IsAudio(ext string) bool {
	_, ok := SupportedAudioExtensions[strings.ToLower(ext)]
	return ok
}

// ExtensionForMIME returns a file extension for a MIME type, or "" when unknown.
// Parameters such as "; codecs=opus" are ignored.
func ExtensionForMIME(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "audio/wav", "audio/x-wav", "audio/wave":
		return ".wav"
	case "audio/mpeg", "audio/mp3":
		return ".mp3"
	case "audio/mp4", "audio/x-m4a":
		return ".m4a"
	case "audio/webm":
		return ".webm"
	case "audio/ogg":
		return ".ogg"
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	}
	return ""
}
