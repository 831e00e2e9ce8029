package lookup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 10 << 20

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	MaxRetries uint64
	BaseDelay  time.Duration
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.BaseDelay
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	b := retry.NewExponential(base)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(p.MaxRetries, b)
}

// jsonClient posts JSON to a collaborator and decodes the JSON reply.
type jsonClient struct {
	http     *http.Client
	resolver Resolver
	retry    RetryPolicy
}

func newJSONClient(resolver Resolver, policy RetryPolicy, httpClient *http.Client) *jsonClient {
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &jsonClient{http: httpClient, resolver: resolver, retry: policy}
}

// StatusError is a non-2xx reply from a collaborator.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Status, e.Body)
}

func (c *jsonClient) post(ctx context.Context, path string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(ctx, c.retry.backoff(), func(ctx context.Context) error {
		base, err := c.resolver.Resolve(ctx)
		if err != nil {
			return retry.RetryableError(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(fmt.Errorf("%w: %w", ErrUnavailable, err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: read body: %w", ErrUnavailable, err))
		}

		switch {
		case resp.StatusCode >= 500, resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(fmt.Errorf("%w: %w", ErrUnavailable, &StatusError{Status: resp.StatusCode, Body: string(body)}))
		case resp.StatusCode >= 300:
			return &StatusError{Status: resp.StatusCode, Body: string(body)}
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("%w: %w", ErrBadResponse, err)
		}
		return nil
	})
}
