package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/internal/model"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, subject string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestAuth(t *testing.T) {
	var subject string
	handler := Auth(testSecret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = GetSubject(r.Context())
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantSub    string
	}{
		{name: "valid", header: "Bearer " + signToken(t, testSecret, "user-1"), wantStatus: http.StatusOK, wantSub: "user-1"},
		{name: "missing", header: "", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized},
		{name: "wrong secret", header: "Bearer " + signToken(t, "other", "user-1"), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject = ""
			req := httptest.NewRequest(http.MethodPost, "/chat", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantSub, subject)
		})
	}
}

func TestLoggingAssignsCorrelationID(t *testing.T) {
	var seen string
	handler := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "corr-123", seen)
}

func TestLoggingWriterFlushes(t *testing.T) {
	handler := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)
		_, _ = w.Write([]byte("data: x\n\n"))
		flusher.Flush()
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/chat/stream", nil))
	assert.True(t, rec.Flushed)
}

func TestRecoverer(t *testing.T) {
	handler := Recoverer(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	require.NotPanics(t, func() {
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"Internal Server Error"}`, rec.Body.String())
}

func TestRateLimit(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RateLimit(2, time.Minute))
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {})

	codes := make([]int, 3)
	for i := range codes {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		codes[i] = rec.Code
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestValidateStruct(t *testing.T) {
	tests := []struct {
		name    string
		req     any
		wantErr string
	}{
		{name: "chat ok", req: &model.ChatRequest{Message: "hi"}},
		{name: "chat missing message", req: &model.ChatRequest{}, wantErr: "message is required"},
		{name: "image url ok", req: &model.AnalyzeImageRequest{ImageURL: "https://example.com/a.png"}},
		{name: "image base64 ok", req: &model.AnalyzeImageRequest{ImageBase64: "aGVsbG8="}},
		{name: "image missing", req: &model.AnalyzeImageRequest{Message: "what"}, wantErr: "imageUrl or imageBase64 is required"},
		{name: "image both", req: &model.AnalyzeImageRequest{ImageURL: "https://example.com/a.png", ImageBase64: "aGVsbG8="}, wantErr: "not both"},
		{name: "image bad url", req: &model.AnalyzeImageRequest{ImageURL: "not a url"}, wantErr: "imageUrl must be a valid URL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStruct(tt.req)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var validation *apperr.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Contains(t, validation.Reason, tt.wantErr)
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("user-42"))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("has space"))
	assert.Error(t, ValidateSessionID(string(make([]byte, 129))))
}
