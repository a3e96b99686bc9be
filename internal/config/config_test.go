package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "OPENAI_API_KEY", "IMAGE_POLICY", "CONVERSATION_SCOPE", "RUN_POLL_MAX_ATTEMPTS", "OPENAI_BETA_HEADER"} {
		t.Setenv(key, "")
	}
	t.Setenv("RUN_POLL_INTERVAL", "")
	t.Setenv("IMAGE_FETCH_FALLBACKS", "")
	t.Setenv("VISION_MAX_TOKENS", "")

	cfg := Load()

	assert.Equal(t, "3000", cfg.ServerPort)
	assert.Equal(t, time.Second, cfg.RunPollInterval)
	assert.Equal(t, 60, cfg.RunPollMaxAttempts)
	assert.Equal(t, ImagePolicyInline, cfg.ImagePolicy)
	assert.Equal(t, ScopeRequest, cfg.ConversationScope)
	assert.Equal(t, "assistants=v2", cfg.OpenAIBetaHeader)
	assert.Empty(t, cfg.ImageFetchFallbacks)
	assert.Equal(t, 1024, cfg.VisionMaxTokens)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RUN_POLL_INTERVAL", "1500ms")
	t.Setenv("RUN_POLL_MAX_ATTEMPTS", "90")
	t.Setenv("IMAGE_POLICY", "REHOST")
	t.Setenv("PUBLIC_BASE_URL", "https://relay.example.com/")
	t.Setenv("IMAGE_FETCH_FALLBACKS", " https://cdn.example.com/{name} , ,https://mirror.example.com/?u={url}")
	t.Setenv("MAX_IMAGE_BYTES", "not-a-number")
	t.Setenv("VISION_MAX_TOKENS", "300")

	cfg := Load()

	assert.Equal(t, 1500*time.Millisecond, cfg.RunPollInterval)
	assert.Equal(t, 90, cfg.RunPollMaxAttempts)
	assert.Equal(t, ImagePolicyRehost, cfg.ImagePolicy)
	assert.Equal(t, "https://relay.example.com", cfg.PublicBaseURL)
	assert.Equal(t, []string{"https://cdn.example.com/{name}", "https://mirror.example.com/?u={url}"}, cfg.ImageFetchFallbacks)
	assert.Equal(t, int64(15<<20), cfg.MaxImageBytes)
	assert.Equal(t, 300, cfg.VisionMaxTokens)
}

func TestValidateWarnsOnMissingCredentials(t *testing.T) {
	cfg := &Config{
		ConversationScope:  ScopeRequest,
		SessionStore:       SessionStoreMemory,
		ImagePolicy:        ImagePolicyInline,
		RunPollMaxAttempts: 60,
		RunPollInterval:    time.Second,
		RunPollTimeout:     time.Minute,
	}

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.Len(t, warnings, 2)
}

func TestValidateRejectsUnknownSettings(t *testing.T) {
	cfg := &Config{
		OpenAIAPIKey:       "sk-test",
		OpenAIAssistantID:  "asst_1",
		ConversationScope:  "global",
		SessionStore:       SessionStoreNATS,
		ImagePolicy:        "s3",
		RunPollMaxAttempts: 0,
		RunPollInterval:    time.Second,
		RunPollTimeout:     time.Minute,
	}

	warnings, err := cfg.Validate()
	assert.Empty(t, warnings)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CONVERSATION_SCOPE")
	assert.Contains(t, err.Error(), "NATS_ENABLED")
	assert.Contains(t, err.Error(), "IMAGE_POLICY")
	assert.Contains(t, err.Error(), "RUN_POLL_MAX_ATTEMPTS")
}
