package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrNotDataURL is returned for strings that are not base64 data URLs.
var ErrNotDataURL = errors.New("not a base64 data URL")

// DecodeDataURL decodes "data:<mime>;base64,<payload>" as sent by browser
// voice recorders. A bare base64 payload without the prefix is accepted and
// reported as audio/wav.
func DecodeDataURL(s string) (data []byte, mimeType string, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, "", ErrNotDataURL
	}

	payload := s
	mimeType = "audio/wav"
	if strings.HasPrefix(s, "data:") {
		header, body, ok := strings.Cut(s, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, "", ErrNotDataURL
		}
		if mt := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64"); mt != "" {
			mimeType = mt
		}
		payload = body
	}

	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrNotDataURL, err)
	}
	return data, mimeType, nil
}
