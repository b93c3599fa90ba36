package chat

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const maxMediaBytes = 10 << 20

var audioExtensions = map[string]string{
	"audio/webm": "webm",
	"audio/ogg":  "ogg",
	"audio/mpeg": "mp3",
	"audio/mp4":  "m4a",
	"audio/wav":  "wav",
	"audio/aac":  "aac",
}

var imageExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",
}

// decodeMedia accepts raw base64 or a data URL ("data:audio/webm;base64,...").
func decodeMedia(raw, defaultType string) ([]byte, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, "", fmt.Errorf("%w: media data is required", ErrValidation)
	}
	contentType := defaultType
	if strings.HasPrefix(raw, "data:") {
		header, payload, ok := strings.Cut(raw, ",")
		if !ok || !strings.HasSuffix(header, ";base64") {
			return nil, "", fmt.Errorf("%w: media must be base64 encoded", ErrValidation)
		}
		if mediaType := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64"); mediaType != "" {
			contentType, _, _ = strings.Cut(mediaType, ";")
		}
		raw = payload
	}

	data, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return nil, "", fmt.Errorf("%w: media is not valid base64", ErrValidation)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: media is empty", ErrValidation)
	}
	if len(data) > maxMediaBytes {
		return nil, "", fmt.Errorf("%w: media exceeds %d bytes", ErrValidation, maxMediaBytes)
	}
	return data, strings.ToLower(contentType), nil
}

func extensionFor(contentType string, known map[string]string, fallback string) string {
	if ext, ok := known[contentType]; ok {
		return ext
	}
	return fallback
}
