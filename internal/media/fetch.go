package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/capitalize-ai/assistant-relay/internal/apperr"
	"github.com/capitalize-ai/assistant-relay/pkg/logger"
)

// DirectResolver fetches the URL as given.
const DirectResolver = "direct"

const defaultFetchTimeout = 30 * time.Second

// Resolver maps a requested image URL onto a candidate download URL.
// Templates may use {url} (query escaped original URL) and {name} (last
// path segment of the original URL).
type Resolver struct {
	Name     string
	Template string
}

// Resolve returns the candidate URL for raw.
func (r Resolver) Resolve(raw *url.URL) string {
	if r.Template == "" {
		return raw.String()
	}
	return strings.NewReplacer(
		"{url}", url.QueryEscape(raw.String()),
		"{name}", path.Base(raw.Path),
	).Replace(r.Template)
}

// Fetched is the body of a successful image download.
type Fetched struct {
	Data        []byte
	ContentType string
	Resolver    string
	URL         string
}

// FetcherOptions configure a Fetcher.
type FetcherOptions struct {
	Timeout   time.Duration
	UserAgent string
	Referer   string
	// Fallbacks are URL templates tried in order after the direct fetch.
	Fallbacks []string
	MaxBytes  int64
	Client    *http.Client
}

// Fetcher downloads remote images through an ordered list of resolvers.
type Fetcher struct {
	client    *http.Client
	resolvers []Resolver
	userAgent string
	referer   string
	maxBytes  int64
	timeout   time.Duration
	group     singleflight.Group
	logger    *logger.Logger
}

// NewFetcher creates a new image fetcher.
func NewFetcher(opts FetcherOptions, log *logger.Logger) *Fetcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	resolvers := []Resolver{{Name: DirectResolver}}
	for i, tmpl := range opts.Fallbacks {
		resolvers = append(resolvers, Resolver{Name: fmt.Sprintf("fallback-%d", i+1), Template: tmpl})
	}

	return &Fetcher{
		client:    client,
		resolvers: resolvers,
		userAgent: opts.UserAgent,
		referer:   opts.Referer,
		maxBytes:  opts.MaxBytes,
		timeout:   timeout,
		logger:    log,
	}
}

// Resolvers returns the configured resolver chain.
func (f *Fetcher) Resolvers() []Resolver {
	return f.resolvers
}

// Fetch downloads rawURL. Concurrent fetches of the same URL share one
// download, which runs detached from any single caller's cancellation;
// each caller stops waiting when its own ctx is done.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Fetched, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Validation("imageUrl must be an absolute http(s) URL")
	}

	ch := f.group.DoChan(u.String(), func() (interface{}, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()
		return f.fetch(fetchCtx, u)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			f.logger.Debug("Image fetch shared with concurrent request", zap.String("url", rawURL))
		}
		return res.Val.(*Fetched), nil
	}
}

func (f *Fetcher) fetch(ctx context.Context, u *url.URL) (*Fetched, error) {
	var lastErr error
	for _, r := range f.resolvers {
		candidate := r.Resolve(u)

		fetched, err := f.get(ctx, candidate)
		if err == nil {
			fetched.Resolver = r.Name
			f.logger.Info("Image fetched",
				zap.String("url", u.String()),
				zap.String("resolver", r.Name),
				zap.Int("bytes", len(fetched.Data)),
			)
			return fetched, nil
		}

		var validation *apperr.ValidationError
		if errors.As(err, &validation) || ctx.Err() != nil {
			return nil, err
		}

		f.logger.Warn("Image resolver failed",
			zap.String("url", u.String()),
			zap.String("resolver", r.Name),
			zap.Error(err),
		)
		lastErr = err
	}
	return nil, lastErr
}

func (f *Fetcher) get(ctx context.Context, target string) (*Fetched, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &apperr.ImageFetchFailed{URL: target, Detail: err.Error()}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	if f.referer != "" {
		req.Header.Set("Referer", f.referer)
	}
	req.Header.Set("Accept", "image/*,*/*;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &apperr.ImageFetchFailed{URL: target, Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &apperr.ImageFetchFailed{URL: target, Status: resp.StatusCode, Detail: strings.TrimSpace(string(body))}
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &apperr.ImageFetchFailed{URL: target, Detail: err.Error()}
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, apperr.Validation("image exceeds %d bytes", f.maxBytes)
	}

	return &Fetched{
		Data:        data,
		ContentType: resp.Header.Get("Content-Type"),
		URL:         target,
	}, nil
}
