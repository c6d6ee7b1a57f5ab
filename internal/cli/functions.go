package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"jobq/internal/resolver"
)

// builtinRegistry registers the job functions the standalone worker
// understands. Applications embedding the queue as a library register
// their own functions instead.
func builtinRegistry() *resolver.Registry {
	r := resolver.NewRegistry()
	r.Register("echo", echoJob)
	r.Register("sleep", sleepJob)
	r.Register("webhook", webhookJob)
	return r
}

// echoJob returns its parameters unchanged. Useful for smoke tests.
func echoJob(_ context.Context, params map[string]any) (any, error) {
	return params, nil
}

// sleepJob sleeps for params["seconds"] seconds.
func sleepJob(ctx context.Context, params map[string]any) (any, error) {
	secs, ok := params["seconds"].(float64)
	if !ok {
		return nil, errors.New("sleep: missing numeric parameter \"seconds\"")
	}
	select {
	case <-time.After(time.Duration(secs * float64(time.Second))):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return map[string]any{"slept_for": secs}, nil
}

// webhookJob performs an HTTP POST to params["url"] with params["body"] as
// the JSON payload. Non-2xx responses are errors so the retry policy applies.
func webhookJob(ctx context.Context, params map[string]any) (any, error) {
	url, ok := params["url"].(string)
	if !ok || url == "" {
		return nil, errors.New("webhook: missing parameter \"url\"")
	}
	body, err := json.Marshal(params["body"])
	if err != nil {
		return nil, fmt.Errorf("webhook: encode body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("webhook: %s returned %s", url, resp.Status)
	}
	return map[string]any{"status": resp.StatusCode}, nil
}
