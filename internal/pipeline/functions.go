package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// Names of the hosted functions this service invokes.
const (
	FunctionCoachingScorecard = "coaching-scorecard"
	FunctionBDREvaluation     = "bdr-evaluation"
)

// ErrFunctionFailed marks an invocation the backend rejected rather
// than one lost in transit. Callers should not retry these.
var ErrFunctionFailed = errors.New("function invocation failed")

const functionRetryBudget = 30 * time.Second

// FunctionsClient invokes named hosted functions over HTTP. Transport
// errors and 5xx responses are retried with exponential backoff; 4xx
// responses fail permanently with ErrFunctionFailed.
type FunctionsClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewFunctionsClient(baseURL, token string, logger *slog.Logger) *FunctionsClient {
	return &FunctionsClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 12 * time.Second},
		logger:     logger,
	}
}

// Invoke posts payload to the named function and decodes the JSON
// response into out. A nil out discards the response body. The same
// X-Request-ID is sent on every retry of one invocation.
func (c *FunctionsClient) Invoke(ctx context.Context, name string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	endpoint := c.baseURL + "/" + name
	requestID := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = functionRetryBudget

	var lastErr error
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Request-ID", requestID)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("function %s: server error: %s", name, strings.TrimSpace(string(respBody)))
			return lastErr
		}
		if resp.StatusCode >= 400 {
			lastErr = fmt.Errorf("function %s: status %d: %w", name, resp.StatusCode, ErrFunctionFailed)
			return backoff.Permanent(lastErr)
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			lastErr = fmt.Errorf("function %s: decode response: %w", name, err)
			return backoff.Permanent(lastErr)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		c.logger.Warn("function invocation failed",
			slog.String("function", name),
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}
