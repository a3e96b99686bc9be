package media

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecodeBase64RoundTrip(t *testing.T) {
	original := pngBytes(t)
	encoded := base64.StdEncoding.EncodeToString(original)

	tests := []struct {
		name  string
		input string
		mime  string
	}{
		{name: "bare", input: encoded},
		{name: "data uri", input: "data:image/png;base64," + encoded, mime: "image/png"},
		{name: "no padding", input: strings.TrimRight(encoded, "=")},
		{name: "wrapped lines", input: encoded[:10] + "\n" + encoded[10:20] + "\r\n " + encoded[20:]},
		{name: "url safe", input: base64.RawURLEncoding.EncodeToString(original)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, mime, err := DecodeBase64(tt.input)
			require.NoError(t, err)
			assert.Equal(t, original, data)
			assert.Equal(t, tt.mime, mime)
		})
	}
}

func TestDecodeBase64Invalid(t *testing.T) {
	for _, input := range []string{"", "data:image/png;base64", "data:image/png;base64,", "not*base64!"} {
		_, _, err := DecodeBase64(input)
		var validation *apperr.ValidationError
		assert.ErrorAs(t, err, &validation, "input %q", input)
	}
}

func TestMaterializeInline(t *testing.T) {
	original := pngBytes(t)
	m := NewMaterializer(MaterializerOptions{Policy: PolicyInline}, nil, nil, logger.NewNop())

	ref, err := m.Materialize(context.Background(), Source{
		Base64: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(original),
	})
	require.NoError(t, err)

	assert.Equal(t, "image/png", ref.MimeType)
	assert.Equal(t, len(original), ref.Size)
	assert.Equal(t, original, ref.Data)
	assert.True(t, ref.Inline())
	assert.Equal(t, DataURI("image/png", original), ref.URL)
	assert.Empty(t, ref.Filename)
}

func TestMaterializeRehost(t *testing.T) {
	original := pngBytes(t)
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	m := NewMaterializer(MaterializerOptions{Policy: PolicyRehost, PublicBaseURL: "https://relay.example.com/"}, nil, store, logger.NewNop())

	ref, err := m.Materialize(context.Background(), Source{Base64: base64.StdEncoding.EncodeToString(original)})
	require.NoError(t, err)

	require.NotEmpty(t, ref.Filename)
	assert.True(t, strings.HasSuffix(ref.Filename, ".png"))
	assert.Equal(t, "https://relay.example.com/uploads/"+ref.Filename, ref.URL)

	stored, err := os.ReadFile(filepath.Join(store.Dir(), ref.Filename))
	require.NoError(t, err)
	assert.Equal(t, original, stored)
}

func TestMaterializeRejects(t *testing.T) {
	m := NewMaterializer(MaterializerOptions{MaxBytes: 64}, nil, nil, logger.NewNop())

	tests := []struct {
		name string
		src  Source
	}{
		{name: "no source", src: Source{}},
		{name: "both sources", src: Source{Base64: "aGVsbG8=", URL: "https://example.com/a.png"}},
		{name: "not an image", src: Source{Base64: base64.StdEncoding.EncodeToString([]byte("hello world"))}},
		{name: "too large", src: Source{Base64: base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{0x89}, 65))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Materialize(context.Background(), tt.src)
			var validation *apperr.ValidationError
			assert.ErrorAs(t, err, &validation)
		})
	}
}

func TestMaterializeFromURL(t *testing.T) {
	original := pngBytes(t)
	var userAgent, referer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent = r.Header.Get("User-Agent")
		referer = r.Header.Get("Referer")
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(original)
	}))
	defer srv.Close()

	fetcher := NewFetcher(FetcherOptions{UserAgent: "relay-test", Referer: "https://ref.example.com/", Timeout: time.Second}, logger.NewNop())
	m := NewMaterializer(MaterializerOptions{Policy: PolicyInline}, fetcher, nil, logger.NewNop())

	ref, err := m.Materialize(context.Background(), Source{URL: srv.URL + "/photo.png"})
	require.NoError(t, err)

	assert.Equal(t, original, ref.Data)
	assert.Equal(t, SourceURL, ref.Source)
	assert.Equal(t, "relay-test", userAgent)
	assert.Equal(t, "https://ref.example.com/", referer)
}

func TestFetchNonSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	fetcher := NewFetcher(FetcherOptions{Timeout: time.Second}, logger.NewNop())
	_, err := fetcher.Fetch(context.Background(), srv.URL+"/photo.png")

	var fetchErr *apperr.ImageFetchFailed
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, http.StatusForbidden, fetchErr.Status)
	assert.Equal(t, "forbidden", fetchErr.Detail)
}

func TestFetchFallsBackInOrder(t *testing.T) {
	original := pngBytes(t)
	var hits []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits = append(hits, r.URL.Path)
		if r.URL.Path != "/mirror/photo.png" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(original)
	}))
	defer srv.Close()

	fetcher := NewFetcher(FetcherOptions{
		Timeout:   time.Second,
		Fallbacks: []string{srv.URL + "/cdn/{name}", srv.URL + "/mirror/{name}", srv.URL + "/never/{name}"},
	}, logger.NewNop())

	fetched, err := fetcher.Fetch(context.Background(), srv.URL+"/gallery/photo.png")
	require.NoError(t, err)

	assert.Equal(t, original, fetched.Data)
	assert.Equal(t, "fallback-2", fetched.Resolver)
	assert.Equal(t, []string{"/gallery/photo.png", "/cdn/photo.png", "/mirror/photo.png"}, hits)
}

func TestFetchSharedDownloadOutlivesCancelledCaller(t *testing.T) {
	data := pngBytes(t)
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	var once sync.Once
	unblock := func() { once.Do(func() { close(release) }) }

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(data)
	}))
	defer srv.Close()
	defer unblock()

	f := NewFetcher(FetcherOptions{Timeout: 5 * time.Second}, logger.NewNop())
	url := srv.URL + "/a.png"

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, url)
		first <- err
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("download did not start")
	}

	type result struct {
		fetched *Fetched
		err     error
	}
	second := make(chan result, 1)
	go func() {
		fetched, err := f.Fetch(context.Background(), url)
		second <- result{fetched, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	unblock()
	res := <-second
	require.NoError(t, res.err)
	assert.Equal(t, data, res.fetched.Data)
}

func TestFetchRejectsBadURL(t *testing.T) {
	fetcher := NewFetcher(FetcherOptions{}, logger.NewNop())

	for _, raw := range []string{"ftp://example.com/a.png", "/relative.png", "https://"} {
		_, err := fetcher.Fetch(context.Background(), raw)
		var validation *apperr.ValidationError
		assert.ErrorAs(t, err, &validation, raw)
	}
}

func TestResolverTemplate(t *testing.T) {
	fetcher := NewFetcher(FetcherOptions{Fallbacks: []string{"https://proxy.example.com/?u={url}"}}, logger.NewNop())
	resolvers := fetcher.Resolvers()
	require.Len(t, resolvers, 2)
	assert.Equal(t, DirectResolver, resolvers[0].Name)

	u := mustParse(t, "https://img.example.com/a.png?x=1")
	assert.Equal(t, "https://proxy.example.com/?u=https%3A%2F%2Fimg.example.com%2Fa.png%3Fx%3D1", resolvers[1].Resolve(u))
}
