package media

import (
	"context"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
	"github.com/capitalize-ai/assistant-relay/pkg/metrics"
)

// Policies.
const (
	PolicyInline = "inline"
	PolicyRehost = "rehost"
)

// MaterializerOptions configure a Materializer.
type MaterializerOptions struct {
	Policy        string
	PublicBaseURL string
	MaxBytes      int64
}

// Materializer normalizes inbound images into References.
type Materializer struct {
	fetcher       *Fetcher
	store         *Store
	policy        string
	publicBaseURL string
	maxBytes      int64
	logger        *logger.Logger
}

// NewMaterializer creates a new materializer. store may be nil under the
// inline policy.
func NewMaterializer(opts MaterializerOptions, fetcher *Fetcher, store *Store, log *logger.Logger) *Materializer {
	policy := opts.Policy
	if policy == "" {
		policy = PolicyInline
	}
	return &Materializer{
		fetcher:       fetcher,
		store:         store,
		policy:        policy,
		publicBaseURL: strings.TrimRight(opts.PublicBaseURL, "/"),
		maxBytes:      opts.MaxBytes,
		logger:        log,
	}
}

// Policy returns the configured policy.
func (m *Materializer) Policy() string {
	return m.policy
}

// Materialize decodes or downloads src and returns a reference according to
// the configured policy.
func (m *Materializer) Materialize(ctx context.Context, src Source) (*Reference, error) {
	var (
		data     []byte
		declared string
		source   string
	)

	switch {
	case src.Base64 != "" && src.URL != "":
		return nil, apperr.Validation("provide either imageUrl or imageBase64, not both")
	case src.Base64 != "":
		var err error
		data, declared, err = DecodeBase64(src.Base64)
		if err != nil {
			return nil, err
		}
		source = SourceBase64
	case src.URL != "":
		fetched, err := m.fetcher.Fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		data = fetched.Data
		declared, _, _ = strings.Cut(fetched.ContentType, ";")
		source = SourceURL
	default:
		return nil, apperr.Validation("imageUrl or imageBase64 is required")
	}

	if m.maxBytes > 0 && int64(len(data)) > m.maxBytes {
		return nil, apperr.Validation("image exceeds %d bytes", m.maxBytes)
	}

	mimeType, ext, err := sniff(data, strings.TrimSpace(declared))
	if err != nil {
		return nil, err
	}

	ref := &Reference{
		MimeType: mimeType,
		Size:     len(data),
		Data:     data,
		Source:   source,
	}

	switch m.policy {
	case PolicyRehost:
		name, err := m.store.Save(data, ext)
		if err != nil {
			return nil, err
		}
		ref.Filename = name
		ref.URL = m.publicBaseURL + "/uploads/" + name
	default:
		ref.URL = DataURI(mimeType, data)
	}

	metrics.RecordImage(source, m.policy, len(data))
	m.logger.Debug("Image materialized",
		zap.String("source", source),
		zap.String("policy", m.policy),
		zap.String("mime", mimeType),
		zap.Int("bytes", len(data)),
		zap.String("filename", ref.Filename),
	)

	return ref, nil
}

// sniff returns the detected image MIME type and extension. The declared
// type is only used when detection is inconclusive.
func sniff(data []byte, declared string) (string, string, error) {
	detected := mimetype.Detect(data)
	mimeType, _, _ := strings.Cut(detected.String(), ";")

	if strings.HasPrefix(mimeType, "image/") {
		return mimeType, detected.Extension(), nil
	}
	if detected.Is("application/octet-stream") && strings.HasPrefix(declared, "image/") {
		ext := ""
		if m := mimetype.Lookup(declared); m != nil {
			ext = m.Extension()
		}
		return declared, ext, nil
	}
	return "", "", apperr.Validation("payload is not an image (detected %s)", mimeType)
}
