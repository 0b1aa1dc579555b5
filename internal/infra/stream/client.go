// Package stream opens media URLs for decoding.
package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/osa030/adfspeaker/internal/infra/decoder"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
	ErrHTTPStatus        = errors.New("unexpected http status")
)

// Config represents stream client configuration.
type Config struct {
	Timeout   time.Duration // Time allowed until response headers arrive
	UserAgent string
	Auth      AuthConfig
}

// AuthConfig holds OAuth2 client credentials. Auth is disabled when TokenURL is empty.
type AuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scopes       []string
}

// Stream is an open media body.
type Stream struct {
	Body        io.ReadCloser
	URL         string
	ContentType string
	Hint        decoder.Format // Format suggested by content type or extension
}

// Client fetches media over http(s) or from the local filesystem.
type Client struct {
	httpClient *http.Client
	userAgent  string
	maxRetries int
	retryDelay time.Duration
}

// New creates a stream client.
func New(ctx context.Context, cfg Config) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	httpClient := &http.Client{Transport: transport}

	if cfg.Auth.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.Auth.ClientID,
			ClientSecret: cfg.Auth.ClientSecret,
			TokenURL:     cfg.Auth.TokenURL,
			Scopes:       cfg.Auth.Scopes,
		}
		httpClient = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, httpClient))
		zlog.Info().Msgf("stream: using client credentials from %s", cfg.Auth.TokenURL)
	}

	return &Client{
		httpClient: httpClient,
		userAgent:  cfg.UserAgent,
		maxRetries: 3,
		retryDelay: 500 * time.Millisecond,
	}
}

// Open opens rawURL. http and https URLs are fetched; file URLs and plain
// paths are opened from disk.
func (c *Client) Open(ctx context.Context, rawURL string) (*Stream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse url")
	}

	switch u.Scheme {
	case "http", "https":
		return c.openHTTP(ctx, rawURL, u)
	case "file":
		return openFile(u.Path)
	case "":
		return openFile(rawURL)
	default:
		return nil, errors.Wrapf(ErrUnsupportedScheme, "scheme=%s", u.Scheme)
	}
}

func (c *Client) openHTTP(ctx context.Context, rawURL string, u *url.URL) (*Stream, error) {
	var resp *http.Response
	err := c.retry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return errors.Wrap(err, "failed to create request")
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}
		req.Header.Set("Accept", "audio/*")

		r, err := c.httpClient.Do(req)
		if err != nil {
			return errors.Wrap(err, "failed to send request")
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4096))
			r.Body.Close()
			return &statusError{code: r.StatusCode}
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	hint := decoder.FromContentType(contentType)
	if hint == decoder.FormatUnknown {
		hint = decoder.FromName(u.Path)
	}
	zlog.Debug().Msgf("stream: opened %s content_type=%q hint=%s", rawURL, contentType, hint)

	return &Stream{
		Body:        resp.Body,
		URL:         rawURL,
		ContentType: contentType,
		Hint:        hint,
	}, nil
}

func openFile(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open media file")
	}
	return &Stream{
		Body: f,
		URL:  path,
		Hint: decoder.FromName(path),
	}, nil
}

// retry runs fn until it succeeds, fails permanently or retries run out.
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			return err
		}

		if i < c.maxRetries-1 {
			zlog.Debug().Msgf("stream: retrying after error: attempt=%d err=%v", i+1, err)
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "request cancelled")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}
	return errors.Wrap(lastErr, "max retries exceeded")
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s: %d %s", ErrHTTPStatus, e.code, http.StatusText(e.code))
}

func (e *statusError) Is(target error) bool {
	return target == ErrHTTPStatus
}

// isRetryable reports whether err is a rate limit or server error.
func isRetryable(err error) bool {
	var se *statusError
	if !errors.As(err, &se) {
		return false
	}
	return se.code == http.StatusTooManyRequests || se.code >= 500
}
