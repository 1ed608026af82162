package action

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hamicek/ruleengine/internal/model"
)

// callWebhook runs the retry-with-backoff loop. A final failure is
// recorded in the Result but never returned as an error — §7's
// propagation policy keeps action-execution failures out of the
// dispatch's error path.
func (e *Executor) callWebhook(ctx context.Context, a model.Action) Result {
	method := a.Method
	if method == "" {
		method = http.MethodPost
	}

	var bodyBytes []byte
	if a.Body != nil {
		b, err := json.Marshal(a.Body)
		if err != nil {
			return fail(a.Kind, fmt.Errorf("encoding webhook body: %w", err))
		}
		bodyBytes = b
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt < e.Retry.MaxAttempts; attempt++ {
		attempts++
		if attempt > 0 {
			delay := e.backoffDelay(attempt)
			select {
			case <-ctx.Done():
				return Result{Kind: a.Kind, Success: false, Error: ctx.Err().Error(), Attempts: attempts}
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, a.URL, bytes.NewReader(bodyBytes))
		if err != nil {
			lastErr = err
			continue
		}
		for k, v := range a.Headers {
			req.Header.Set(k, v)
		}
		if bodyBytes != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := e.Webhook.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return Result{Kind: a.Kind, Success: true, Attempts: attempts}
		}
		lastErr = fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	return Result{Kind: a.Kind, Success: false, Error: lastErr.Error(), Attempts: attempts}
}

// backoffDelay computes attempt N's delay as BaseDelay * Factor^(N-1),
// jittered by ±JitterFrac.
func (e *Executor) backoffDelay(attempt int) time.Duration {
	base := float64(e.Retry.BaseDelay)
	for i := 1; i < attempt; i++ {
		base *= e.Retry.Factor
	}
	if e.Retry.JitterFrac > 0 {
		jitter := (e.Rand.Float64()*2 - 1) * e.Retry.JitterFrac
		base += base * jitter
	}
	if base < 0 {
		base = 0
	}
	return time.Duration(base)
}
