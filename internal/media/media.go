// Package media turns inbound images into references the assistant can read.
package media

import (
	"encoding/base64"
	"strings"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
)

// Image sources.
const (
	SourceBase64 = "base64"
	SourceURL    = "url"
)

// Source is an inbound image. Exactly one field must be set.
type Source struct {
	Base64 string
	URL    string
}

// Reference is a materialized image.
type Reference struct {
	// URL is either a data URI or a public URL served from the upload store.
	URL      string
	MimeType string
	Size     int
	Data     []byte
	// Filename is set when the image was written to the upload store.
	Filename string
	Source   string
}

// Inline reports whether the reference carries its bytes in the URL.
func (r *Reference) Inline() bool {
	return strings.HasPrefix(r.URL, "data:")
}

// DataURI encodes data as a base64 data URI.
func DataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes an inline image. A leading "data:<mime>;base64," prefix
// is stripped and its MIME type returned. Whitespace and missing padding are
// tolerated.
func DecodeBase64(s string) (data []byte, declaredMime string, err error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		header, payload, ok := strings.Cut(s, ",")
		if !ok {
			return nil, "", apperr.Validation("imageBase64 has a data URI prefix but no payload")
		}
		declaredMime, _, _ = strings.Cut(strings.TrimPrefix(header, "data:"), ";")
		s = payload
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
	s = strings.TrimRight(s, "=")
	if s == "" {
		return nil, "", apperr.Validation("imageBase64 is empty")
	}

	enc := base64.RawStdEncoding
	if strings.ContainsAny(s, "-_") {
		enc = base64.RawURLEncoding
	}
	data, err = enc.DecodeString(s)
	if err != nil {
		return nil, "", apperr.Validation("imageBase64 is not valid base64: %v", err)
	}
	return data, declaredMime, nil
}
