package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/lexiqai/voice-cheer/internal/config"
)

const (
	// DefaultMaxRedirects is the number of redirect hops a download may follow.
	DefaultMaxRedirects = 5
	// DefaultUserAgent identifies downloads to the audio host.
	DefaultUserAgent = "voice-cheer/1.0"
)

var (
	// ErrTooManyRedirects is wrapped by RedirectError when the hop budget is exceeded.
	ErrTooManyRedirects = errors.New("too many redirects")
	// ErrMissingLocation is wrapped by RedirectError when a redirect has no Location header.
	ErrMissingLocation = errors.New("redirect without location")
	// ErrEmptyBody is returned when the final response has no content.
	ErrEmptyBody = errors.New("downloaded audio is empty")
)

// RedirectError reports a redirect chain that could not be followed.
type RedirectError struct {
	URL  string // URL whose response triggered the failure
	Hops int    // redirects followed before the failure
	Err  error
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("%v after %d hops (last URL: %s)", e.Err, e.Hops, e.URL)
}

func (e *RedirectError) Unwrap() error { return e.Err }

// StatusError reports a terminal non-200, non-redirect response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("download failed: status %d from %s", e.StatusCode, e.URL)
}

// Download is the fetched audio plus how it was reached.
type Download struct {
	Body      []byte
	FinalURL  string
	Redirects int
}

// Fetcher downloads audio, following redirects manually so that each hop
// is counted and relative locations resolve against the current URL.
type Fetcher struct {
	client       *http.Client
	maxRedirects int
	timeout      time.Duration
	userAgent    string
}

// NewFetcher creates a Fetcher from configuration. hc may be nil.
func NewFetcher(cfg *config.Config, hc *http.Client) *Fetcher {
	if hc == nil {
		hc = &http.Client{}
	}
	// Copy so the caller's client keeps its own redirect policy.
	client := *hc
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	return &Fetcher{
		client:       &client,
		maxRedirects: cfg.DownloadMaxRedirects,
		timeout:      cfg.DownloadTimeout,
		userAgent:    DefaultUserAgent,
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// Fetch downloads rawURL. The whole chain, body included, is bounded by
// the configured download timeout.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Download, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid audio URL: %w", err)
	}

	for hops := 0; ; hops++ {
		resp, err := f.get(ctx, current.String())
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", current, err)
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			drain(resp)

			if location == "" {
				return nil, &RedirectError{URL: current.String(), Hops: hops, Err: ErrMissingLocation}
			}
			if hops >= f.maxRedirects {
				return nil, &RedirectError{URL: current.String(), Hops: hops, Err: ErrTooManyRedirects}
			}

			next, err := current.Parse(location)
			if err != nil {
				return nil, &RedirectError{URL: current.String(), Hops: hops, Err: fmt.Errorf("invalid location %q: %w", location, err)}
			}
			current = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			drain(resp)
			return nil, &StatusError{URL: current.String(), StatusCode: resp.StatusCode}
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read audio body: %w", err)
		}
		if len(body) == 0 {
			return nil, ErrEmptyBody
		}

		return &Download{Body: body, FinalURL: current.String(), Redirects: hops}, nil
	}
}

func (f *Fetcher) get(ctx context.Context, u string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)
	return f.client.Do(req)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}
