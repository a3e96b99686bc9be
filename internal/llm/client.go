// Package llm provides vision completion clients used to turn an image into
// text the assistant thread can consume.
package llm

import (
	"context"
	"fmt"
)

// VisionRequest asks a model to look at one image.
type VisionRequest struct {
	Model    string
	Prompt   string
	ImageURL string // public URL or data URI
	MimeType string
	Data     []byte // raw image bytes, required by providers without URL input

	// MaxTokens caps the description length; zero uses the provider default.
	MaxTokens int
}

// VisionResponse is the model's answer.
type VisionResponse struct {
	Content    string
	Model      string
	TokensIn   int
	TokensOut  int
	StopReason string
	LatencyMs  int64
}

// Describer is the interface for vision providers.
type Describer interface {
	// Describe returns a text description of the image in req.
	Describe(ctx context.Context, req *VisionRequest) (*VisionResponse, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []string
}

// Provider is the type of vision provider.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// Options configure a describer.
type Options struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewDescriber creates a vision describer for provider.
func NewDescriber(provider Provider, opts Options) (Describer, error) {
	switch provider {
	case ProviderAnthropic:
		return NewAnthropicClient(opts)
	case ProviderOpenAI, "":
		return NewOpenAIClient(opts)
	default:
		return nil, fmt.Errorf("unknown vision provider %q", provider)
	}
}
