// Package ai talks to the speech-to-text and call-analysis
// service. Responses arrive in the current encodings only; legacy
// formats exist solely in storage.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/callviewhq/callview/internal/metrics"
	"github.com/callviewhq/callview/internal/stats"
)

// Result is one call's analysis as returned by the service.
type Result struct {
	Category   string             `json:"category"`
	Criteria   map[string]float64 `json:"criteria_scores"`
	Mistakes   stats.Mistakes     `json:"category_mistakes"`
	Complaints stats.Complaints   `json:"client_complaints"`
}

// OverallScore is the ingestion-time score: the mean of the
// criteria scores, zero when none were returned.
func (r Result) OverallScore() float64 {
	if len(r.Criteria) == 0 {
		return 0
	}
	var sum float64
	for _, v := range r.Criteria {
		sum += v
	}
	return sum / float64(len(r.Criteria))
}

// Client is what the pipeline needs from the AI service.
type Client interface {
	// Transcribe uploads an audio file and returns the transcript
	// segments as a JSON array, ready to store verbatim.
	Transcribe(ctx context.Context, audioPath string) (string, error)

	// Analyze scores a transcript against the category catalog.
	Analyze(
		ctx context.Context, segmentsJSON string,
		categories []string, criteria map[string]string,
	) (Result, error)
}

// HTTPClient is the production Client backed by the analysis
// service's HTTP API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     logrus.FieldLogger
}

// NewHTTPClient builds a client for the service at baseURL. The
// API key may be empty for unauthenticated local deployments.
func NewHTTPClient(baseURL, apiKey string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 120 * time.Second},
		log: logrus.StandardLogger().
			WithField("component", "ai"),
	}
}

func (c *HTTPClient) Transcribe(
	ctx context.Context, audioPath string,
) (string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return "", fmt.Errorf("opening audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return "", fmt.Errorf("building upload form: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("reading audio file: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalizing upload form: %w", err)
	}

	var resp struct {
		Segments json.RawMessage `json:"segments"`
	}
	err = c.doRequest(
		ctx, "transcribe", c.baseURL+"/v1/transcribe",
		w.FormDataContentType(), body.Bytes(), &resp,
	)
	if err != nil {
		return "", err
	}
	if len(resp.Segments) == 0 {
		return "", fmt.Errorf("transcription returned no segments")
	}
	return string(resp.Segments), nil
}

func (c *HTTPClient) Analyze(
	ctx context.Context, segmentsJSON string,
	categories []string, criteria map[string]string,
) (Result, error) {
	payload, err := json.Marshal(map[string]any{
		"segments":   json.RawMessage(segmentsJSON),
		"categories": categories,
		"criteria":   criteria,
	})
	if err != nil {
		return Result{}, fmt.Errorf("encoding analyze request: %w", err)
	}

	var res Result
	err = c.doRequest(
		ctx, "analyze", c.baseURL+"/v1/analyze",
		"application/json", payload, &res,
	)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// doRequest POSTs the body and decodes a JSON response, retrying
// transient failures (network errors, 5xx) with exponential
// backoff. 4xx responses are permanent. The body is rebuilt per
// attempt so retries never send a drained reader.
func (c *HTTPClient) doRequest(
	ctx context.Context, kind, url, contentType string,
	body []byte, target any,
) error {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(2*time.Minute),
	), ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(
			ctx, http.MethodPost, url, bytes.NewReader(body),
		)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", contentType)
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.log.WithError(err).WithField("kind", kind).
				Warn("ai request failed, will retry")
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			err := fmt.Errorf("ai service error: %s", resp.Status)
			c.log.WithField("kind", kind).
				WithField("status", resp.StatusCode).
				Warn("ai request failed, will retry")
			return err
		}
		if resp.StatusCode >= 400 {
			return backoff.Permanent(fmt.Errorf(
				"ai request rejected: %s: %s",
				resp.Status, truncate(data, 200),
			))
		}
		if err := json.Unmarshal(data, target); err != nil {
			return backoff.Permanent(fmt.Errorf(
				"decoding ai response: %w", err,
			))
		}
		return nil
	}

	err := backoff.Retry(operation, bo)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.AIRequestsTotal.WithLabelValues(kind, outcome).Inc()
	return err
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
