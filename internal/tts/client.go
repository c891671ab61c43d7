package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-cheer/internal/config"
	"github.com/lexiqai/voice-cheer/internal/observability"
	"github.com/lexiqai/voice-cheer/internal/resilience"
)

// Client implements Synthesizer against the tts.quest VOICEVOX endpoint.
type Client struct {
	endpoint     string
	httpClient   *http.Client
	retry        *resilience.RetryConfig
	readyDelay   time.Duration
	probeTimeout time.Duration
	sleep        resilience.Sleeper
	breaker      *resilience.CircuitBreaker
	logger       zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client used for requests and probes.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithSleeper replaces the backoff and settle-delay wait.
func WithSleeper(s resilience.Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

// WithBreaker guards every Synthesize call with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithRetry overrides the attempt budget and backoff schedule.
func WithRetry(rc *resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = rc }
}

// WithReadyDelay sets the settle delay before each readiness probe.
func WithReadyDelay(d time.Duration) Option {
	return func(c *Client) { c.readyDelay = d }
}

// NewClient creates a synthesis client from configuration.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		endpoint:     cfg.SynthesisURL,
		httpClient:   &http.Client{Timeout: cfg.SynthesisTimeout},
		retry:        &resilience.RetryConfig{MaxAttempts: cfg.SynthesisMaxAttempts, Backoffs: cfg.SynthesisBackoff},
		readyDelay:   cfg.SynthesisReadyDelay,
		probeTimeout: cfg.ProbeTimeout,
		sleep:        resilience.SleepContext,
		logger:       observability.Component("tts"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Synthesize requests audio for req and waits until the audio URL answers
// the readiness probe. Once a candidate URL is known, later attempts only
// re-probe it; the attempt budget is shared between requests and probes.
func (c *Client) Synthesize(ctx context.Context, req Request) Result {
	if err := req.Validate(); err != nil {
		return Result{Err: err}
	}

	var (
		candidate string
		attempts  int
	)

	run := func() error {
		var err error
		attempts, err = resilience.RetryWithSleeper(ctx, func(ctx context.Context, attempt int) error {
			logger := c.logger.With().Int("attempt", attempt).Int("speaker_id", req.SpeakerID).Logger()

			if candidate == "" {
				u, err := c.request(ctx, req)
				if err != nil {
					observability.RecordSynthesisAttempt("request_failed")
					logger.Warn().Err(err).Msg("Synthesis request failed")
					return err
				}
				candidate = u
				logger.Debug().Str("url", candidate).Msg("Synthesis URL obtained")
			}

			if err := c.sleep(ctx, c.readyDelay); err != nil {
				return err
			}

			if err := c.probe(ctx, candidate); err != nil {
				observability.RecordSynthesisAttempt("not_ready")
				logger.Warn().Err(err).Str("url", candidate).Msg("Audio URL not ready")
				return err
			}

			observability.RecordSynthesisAttempt("ready")
			return nil
		}, c.retry, nil, c.sleep)
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(run)
		if errors.Is(err, resilience.ErrCircuitOpen) && attempts == 0 {
			err = ErrCircuitOpen
		}
	} else {
		err = run()
	}

	if err != nil {
		return Result{Attempts: attempts, Err: unwrapRetryable(err)}
	}
	return Result{URL: candidate, Attempts: attempts}
}

// request POSTs the synthesis call and returns the wav download URL.
func (c *Client) request(ctx context.Context, req Request) (string, error) {
	q := url.Values{}
	q.Set("text", req.Text)
	q.Set("speaker", strconv.Itoa(req.SpeakerID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", resilience.NewRetryableError(fmt.Errorf("%w: %v", ErrRequestFailed, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", resilience.NewRetryableError(fmt.Errorf("%w: endpoint returned status %d", ErrRequestFailed, resp.StatusCode))
	}

	var body synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", resilience.NewRetryableError(fmt.Errorf("%w: %v", ErrMalformedResponse, err))
	}

	if !body.Success {
		reason := body.ErrorMessage
		if reason == "" {
			reason = "success=false"
		}
		return "", resilience.NewRetryableError(fmt.Errorf("%w: %s", ErrMalformedResponse, reason))
	}

	if body.WavDownloadURL == "" {
		return "", resilience.NewRetryableError(fmt.Errorf("%w: missing wavDownloadUrl", ErrMalformedResponse))
	}

	return body.WavDownloadURL, nil
}

// probe issues a HEAD request; the audio is ready iff it answers 200.
func (c *Client) probe(ctx context.Context, audioURL string) error {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, audioURL, nil)
	if err != nil {
		// An unparseable URL will never become ready.
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if parent := context.Cause(ctx); errors.Is(parent, context.Canceled) {
			return parent
		}
		return resilience.NewRetryableError(fmt.Errorf("%w: %v", ErrNotReady, err))
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return resilience.NewRetryableError(fmt.Errorf("%w: probe returned status %d", ErrNotReady, resp.StatusCode))
	}
	return nil
}

// Check is a readiness hook reporting whether the circuit is accepting calls.
func (c *Client) Check(ctx context.Context) (bool, error) {
	if c.breaker == nil {
		return true, nil
	}
	if c.breaker.GetState() == resilience.StateOpen {
		return false, ErrCircuitOpen
	}
	return true, nil
}

func unwrapRetryable(err error) error {
	var re *resilience.RetryableError
	if errors.As(err, &re) {
		return re.Err
	}
	return err
}
