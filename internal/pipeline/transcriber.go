package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Statuses the transcription backend reports from getstatus.
const (
	transcribeStatusSuccess    = "Success"
	transcribeStatusQueued     = "Queued"
	transcribeStatusProcessing = "Processing"
	transcribeStatusFailed     = "Failed"
)

const (
	defaultCallType        = "PNS"
	transcriberRetryBudget = 12 * time.Second
)

type publishResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		MediaId          string `json:"MediaId"`
		Status           string `json:"Status"`
		TranscriptionURL string `json:"TranscriptionURL"`
		WordsCount       int    `json:"WordsCount"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

type statusResponse struct {
	Code   int    `json:"Code"`
	Status string `json:"Status"`
	Data   struct {
		Status               string `json:"Status"`
		TranscriptionTextURL string `json:"TranscriptionTextURL"`
		WordsCount           int    `json:"WordsCount"`
	} `json:"Data"`
	Reason string `json:"Reason,omitempty"`
}

// TranscriberClient talks to the external transcription service:
// publish the recording, poll getstatus until it settles, download the
// transcript text.
type TranscriberClient struct {
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	pollAttempts int
	logger       *slog.Logger
}

func NewTranscriberClient(baseURL string, pollInterval time.Duration, pollAttempts int, logger *slog.Logger) *TranscriberClient {
	return &TranscriberClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		httpClient:   &http.Client{Timeout: 12 * time.Second},
		pollInterval: pollInterval,
		pollAttempts: pollAttempts,
		logger:       logger,
	}
}

// Transcribe turns a recording source into transcript text. A source
// beginning with http:// or https:// is passed to the backend as a
// link; anything else is treated as a local file and uploaded.
func (c *TranscriberClient) Transcribe(ctx context.Context, source, callType string) (string, error) {
	mediaID, existingURL, err := c.publish(ctx, source, callType)
	if err != nil {
		return "", err
	}
	if existingURL != "" {
		c.logger.Debug("transcription already available", slog.String("url", existingURL))
		return c.download(ctx, existingURL)
	}

	finalURL, err := c.poll(ctx, mediaID)
	if err != nil {
		return "", err
	}
	return c.download(ctx, finalURL)
}

func (c *TranscriberClient) publish(ctx context.Context, source, callType string) (string, string, error) {
	if callType == "" {
		callType = defaultCallType
	}
	endpoint := c.baseURL + "/transcribe"

	// The multipart body is rebuilt per attempt so retries never send
	// an exhausted reader.
	makeReq := func() (*http.Request, error) {
		var body bytes.Buffer
		writer := multipart.NewWriter(&body)

		if isRemote(source) {
			if err := writer.WriteField("callRecordingLink", source); err != nil {
				return nil, err
			}
		} else {
			part, err := writer.CreateFormFile("file", filepath.Base(source))
			if err != nil {
				return nil, err
			}
			file, err := os.Open(source)
			if err != nil {
				return nil, err
			}
			if _, err := io.Copy(part, file); err != nil {
				file.Close()
				return nil, err
			}
			file.Close()
		}
		if err := writer.WriteField("callType", callType); err != nil {
			return nil, err
		}
		if err := writer.Close(); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		return req, nil
	}

	var resp publishResponse
	if err := c.doJSON(ctx, makeReq, &resp); err != nil {
		return "", "", fmt.Errorf("publish recording: %w", err)
	}
	if resp.Code != 200 {
		return "", "", fmt.Errorf("publish recording: code=%d reason=%s", resp.Code, resp.Reason)
	}
	if resp.Data.TranscriptionURL != "" && strings.EqualFold(resp.Data.Status, transcribeStatusSuccess) {
		return "", resp.Data.TranscriptionURL, nil
	}
	if resp.Data.MediaId == "" {
		return "", "", fmt.Errorf("publish recording: backend returned no media id")
	}
	return resp.Data.MediaId, "", nil
}

func (c *TranscriberClient) poll(ctx context.Context, mediaID string) (string, error) {
	statusURL, err := url.Parse(c.baseURL + "/getstatus")
	if err != nil {
		return "", fmt.Errorf("parse status url: %w", err)
	}
	query := statusURL.Query()
	query.Set("mediaId", mediaID)
	statusURL.RawQuery = query.Encode()

	timer := time.NewTimer(c.pollInterval)
	defer timer.Stop()

	for attempt := 0; attempt < c.pollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
		timer.Reset(c.pollInterval)

		makeReq := func() (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, statusURL.String(), nil)
		}

		var status statusResponse
		if err := c.doJSON(ctx, makeReq, &status); err != nil {
			c.logger.Warn("transcription status poll failed",
				slog.String("media_id", mediaID),
				slog.String("error", err.Error()),
			)
			continue
		}

		switch status.Data.Status {
		case transcribeStatusSuccess:
			return status.Data.TranscriptionTextURL, nil
		case transcribeStatusQueued, transcribeStatusProcessing:
			continue
		case transcribeStatusFailed:
			return "", fmt.Errorf("transcription failed: %s", status.Reason)
		default:
			c.logger.Warn("unknown transcription status",
				slog.String("media_id", mediaID),
				slog.String("status", status.Data.Status),
			)
		}
	}
	return "", fmt.Errorf("transcription timed out after %d polls", c.pollAttempts)
}

func (c *TranscriberClient) download(ctx context.Context, target string) (string, error) {
	if strings.HasPrefix(target, "/") {
		target = c.baseURL + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("download transcript: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download transcript: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("download transcript: %w", err)
	}
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("download transcript: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return string(body), nil
}

func (c *TranscriberClient) doJSON(ctx context.Context, makeReq func() (*http.Request, error), target any) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = transcriberRetryBudget

	var lastErr error
	op := func() error {
		req, err := makeReq()
		if err != nil {
			return backoff.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			return err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("server error: %s", strings.TrimSpace(string(body)))
			return lastErr
		}
		if len(body) == 0 {
			lastErr = fmt.Errorf("empty response body")
			return lastErr
		}
		if err := json.Unmarshal(body, target); err != nil {
			lastErr = fmt.Errorf("decode response: %v body=%s", err, string(body))
			return lastErr
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if lastErr != nil {
			return lastErr
		}
		return err
	}
	return nil
}

func isRemote(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}
