package lims

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"autocopy/internal/lifecycle"
)

const (
	userAgent              = "autocopy/1.0"
	defaultHTTPTimeout     = 30 * time.Second
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxElapsed = 5 * time.Second

	// FlagSequencingFailed marks a run whose sequencing was abandoned.
	FlagSequencingFailed = "sequencing_failed"
	// FlagAnalysisStarted marks sequencing finished and analysis started.
	FlagAnalysisStarted = "sequencing_finished_analysis_started"

	statusFailed    = "sequencing failed"
	statusException = "sequencing exception"
)

var (
	// ErrNotFound reports that the LIMS has no record for the run.
	ErrNotFound = errors.New("lims: run not found")
	// ErrUnavailable reports a transport failure or server error.
	ErrUnavailable = errors.New("lims: unavailable")
)

// Config captures the connection settings for the LIMS API.
type Config struct {
	URL        string
	Token      string
	APIVersion string
	Timeout    time.Duration
}

// Record is the LIMS view of a sequencing run.
type Record struct {
	RunName              string `json:"run_name"`
	SequencingInstrument string `json:"sequencing_instrument"`
	SequencerSoftware    string `json:"sequencer_software"`
	PairedEnd            bool   `json:"paired_end"`
	Read1Cycles          int    `json:"read1_cycles"`
	Read2Cycles          int    `json:"read2_cycles"`
	IndexRead            bool   `json:"index_read"`
	SequencingStatus     string `json:"sequencing_status"`
}

// Status maps the free-text sequencing status onto the classifier's states.
func (r *Record) Status() lifecycle.OracleStatus {
	if r == nil {
		return lifecycle.OracleAbsent
	}
	switch strings.ToLower(strings.TrimSpace(r.SequencingStatus)) {
	case statusFailed:
		return lifecycle.OracleFailed
	case statusException:
		return lifecycle.OracleException
	default:
		return lifecycle.OracleNormal
	}
}

// StatusError carries a non-success HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("lims request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

// Client talks to the LIMS run_info endpoint.
type Client struct {
	baseURL    string
	token      string
	version    string
	httpClient *http.Client

	retryBaseDelay  time.Duration
	retryMaxElapsed time.Duration
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryBackoff overrides the retry delays. A zero maxElapsed disables retries.
func WithRetryBackoff(baseDelay, maxElapsed time.Duration) Option {
	return func(c *Client) {
		c.retryBaseDelay = baseDelay
		c.retryMaxElapsed = maxElapsed
	}
}

// NewClient constructs a LIMS client using the supplied configuration.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	version := strings.Trim(strings.TrimSpace(cfg.APIVersion), "/")
	if version == "" {
		version = "v1"
	}
	client := &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		token:           strings.TrimSpace(cfg.Token),
		version:         version,
		httpClient:      &http.Client{Timeout: timeout},
		retryBaseDelay:  defaultRetryBaseDelay,
		retryMaxElapsed: defaultRetryMaxElapsed,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// RunInfo fetches the record for runName.
func (c *Client) RunInfo(ctx context.Context, runName string) (*Record, error) {
	var record Record
	err := c.do(ctx, http.MethodGet, runName, nil, &record)
	if err != nil {
		return nil, err
	}
	if record.RunName == "" {
		record.RunName = runName
	}
	return &record, nil
}

// SetFlags updates the status flags on the run record.
func (c *Client) SetFlags(ctx context.Context, runName string, flags ...string) error {
	body, err := json.Marshal(map[string]string{"flags": strings.Join(flags, ",")})
	if err != nil {
		return fmt.Errorf("encode lims flags: %w", err)
	}
	return c.do(ctx, http.MethodPatch, runName, body, nil)
}

// MarkSequencingFailed records that the run was aborted.
func (c *Client) MarkSequencingFailed(ctx context.Context, runName string) error {
	return c.SetFlags(ctx, runName, FlagSequencingFailed)
}

// MarkAnalysisStarted records that sequencing finished and the copy has begun.
func (c *Client) MarkAnalysisStarted(ctx context.Context, runName string) error {
	return c.SetFlags(ctx, runName, FlagAnalysisStarted)
}

func (c *Client) endpoint(runName string) string {
	return fmt.Sprintf("%s/api/%s/run_info/%s", c.baseURL, c.version, url.PathEscape(runName))
}

func (c *Client) do(ctx context.Context, method, runName string, body []byte, out any) error {
	if c.baseURL == "" {
		return fmt.Errorf("%w: no url configured", ErrUnavailable)
	}

	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.endpoint(runName), reader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build lims request: %w", err))
		}
		req.Header.Set("User-Agent", userAgent)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Token "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(fmt.Errorf("%w: %w", ErrUnavailable, err))
			}
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			_, _ = io.Copy(io.Discard, resp.Body)
			return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, runName))
		case resp.StatusCode >= 500:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return fmt.Errorf("%w: %w", ErrUnavailable, &StatusError{StatusCode: resp.StatusCode, Body: string(snippet)})
		case resp.StatusCode >= 300:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return backoff.Permanent(&StatusError{StatusCode: resp.StatusCode, Body: string(snippet)})
		}

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(fmt.Errorf("decode lims response: %w", err))
		}
		return nil
	}

	if c.retryMaxElapsed <= 0 {
		err := attempt()
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return permanent.Err
		}
		return err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryBaseDelay
	bo.MaxElapsedTime = c.retryMaxElapsed
	return backoff.Retry(attempt, backoff.WithContext(bo, ctx))
}
