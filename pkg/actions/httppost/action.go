// Package httppost provides the action that forwards a step input to an HTTP endpoint.
package httppost

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/elena-cav/stepflow/pkg/models"
	"github.com/elena-cav/stepflow/pkg/template"
)

const (
	defaultTimeoutSeconds = 30

	// maxResponseBytes caps the response body kept in the step result.
	maxResponseBytes = 1 << 20

	ErrorTransport = "HTTP.TransportError"
	ErrorStatus    = "HTTP.UnexpectedStatus"
)

var ErrHTTPPostURLInvalid = errors.New("invalid HTTP post url")

// Action POSTs the step input as JSON and reports the response status.
type Action struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	client  *http.Client
}

// NewAction creates an Action from state parameters.
func NewAction(config map[string]any) (*Action, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return nil, fmt.Errorf("missing or invalid 'url' in configuration: %w", ErrHTTPPostURLInvalid)
	}

	_, err := template.Parse(url)
	if err != nil {
		return nil, fmt.Errorf("invalid url template: %w", err)
	}

	headers := map[string]string{"Content-Type": "application/json"}

	if headersConfig, ok := config["headers"].(map[string]any); ok {
		for k, v := range headersConfig {
			if strVal, ok := v.(string); ok {
				headers[k] = strVal
			}
		}
	}

	timeout := defaultTimeoutSeconds * time.Second
	if seconds, ok := toSeconds(config["timeout_seconds"]); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}

	return &Action{
		URL:     url,
		Headers: headers,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func toSeconds(value any) (int64, bool) {
	switch v := value.(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		n, err := v.Int64()

		return n, err == nil
	default:
		return 0, false
	}
}

// Execute performs a single POST. Transport errors and non-2xx responses are step failures.
func (a *Action) Execute(ctx context.Context, input any, logger *slog.Logger) (map[string]any, error) {
	logger = logger.With("module", "http_post_action")

	url, err := template.Render(a.URL, input)
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadRequest, models.ErrorRuntime, err.Error())
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadRequest, models.ErrorRuntime, fmt.Sprintf("failed to marshal input: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadRequest, models.ErrorRuntime, fmt.Sprintf("failed to create http request: %v", err))
	}

	for key, value := range a.Headers {
		req.Header.Set(key, value)
	}

	logger.InfoContext(ctx, "Posting step input", "url", url)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadGateway, ErrorTransport, err.Error())
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := readBody(resp)
	if err != nil {
		return nil, models.NewStepFailure(http.StatusBadGateway, ErrorTransport, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.WarnContext(ctx, "Endpoint rejected step input", "status_code", resp.StatusCode)

		return nil, models.NewStepFailure(resp.StatusCode, ErrorStatus, models.FailureCause(map[string]any{
			"statusCode": resp.StatusCode,
			"body":       body,
		}))
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"headers":    map[string]any{"Content-Type": resp.Header.Get("Content-Type")},
		"body":       body,
	}, nil
}

func readBody(resp *http.Response) (any, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var body any
	if err := models.DecodeJSON(data, &body); err != nil {
		return string(data), nil
	}

	return body, nil
}
