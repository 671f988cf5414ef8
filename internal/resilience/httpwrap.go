package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// StatusError reports a response the client treated as a failure.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: unexpected status %d", e.StatusCode)
}

// Retryable reports whether another attempt may succeed.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// HTTPClient wraps an http.Client with per-attempt timeouts, retries with
// backoff and a circuit breaker.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      *zerolog.Logger
}

// Do sends req until it gets a non-retryable answer or runs out of attempts.
// A 2xx response is returned to the caller, who must close its body. Any other
// final outcome is returned as an error.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	attempts := cl.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			cl.observe("rejected")
			return nil, ErrOpenCircuit
		}
		resp, err := cl.attempt(ctx, req, body)
		retry := false
		switch {
		case err != nil:
			lastErr = err
			retry = ctx.Err() == nil
			cl.report(ctx, false)
			cl.observe("error")
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			cl.report(ctx, true)
			cl.observe("success")
			return resp, nil
		default:
			drain(resp)
			statusErr := &StatusError{StatusCode: resp.StatusCode}
			lastErr = statusErr
			retry = statusErr.Retryable()
			// Client errors say nothing about the health of the target.
			cl.report(ctx, !retry)
			cl.observe(fmt.Sprintf("status_%dxx", resp.StatusCode/100))
		}
		if !retry || attempt == attempts {
			break
		}
		wait := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
		if cl.Logger != nil {
			cl.Logger.Debug().Err(lastErr).Str("target", cl.Target).Int("attempt", attempt).Dur("backoff", wait).Msg("retrying outbound request")
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) attempt(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		resp, err := cl.Client.Do(cloneWithBody(callCtx, req, body))
		if err != nil {
			cancel()
			return nil, err
		}
		resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return cl.Client.Do(cloneWithBody(callCtx, req, body))
}

func (cl HTTPClient) report(ctx context.Context, success bool) {
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, success)
	}
}

func (cl HTTPClient) observe(outcome string) {
	target := cl.Target
	if target == "" {
		target = "default"
	}
	OutboundRequests.WithLabelValues(target, outcome).Inc()
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, err
	}
	_ = req.Body.Close()
	return data, nil
}

func cloneWithBody(ctx context.Context, req *http.Request, body []byte) *http.Request {
	clone := req.Clone(ctx)
	if body != nil {
		clone.Body = io.NopCloser(bytes.NewReader(body))
		clone.ContentLength = int64(len(body))
		clone.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}
	return clone
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
