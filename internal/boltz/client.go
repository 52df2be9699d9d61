// Package boltz is the client for the remote Boltz-2 prediction service.
// Every call goes through a retry wrapper that distinguishes transient
// failures (429, 5xx, connection errors) from permanent rejections (other
// 4xx), so callers never implement their own retry loops.
package boltz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"boltzflow/internal/apperrors"
	"boltzflow/pkg/backoff"
)

const (
	requestTimeout = 30 * time.Second
	maxAttempts    = 3
)

// Client talks to the Boltz prediction API.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *slog.Logger

	schedule backoff.Schedule
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewClient builds a client for the given base URL. A trailing slash on
// the base URL is tolerated.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "boltz"),
		schedule: backoff.Schedule{
			Steps:  []time.Duration{time.Second, 2 * time.Second},
			Jitter: 500 * time.Millisecond,
		},
		sleep: sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// withRetry runs fn up to maxAttempts times, sleeping the schedule delay
// plus jitter before each retry. Non-retryable errors return immediately;
// exhaustion returns the last transient error.
func (c *Client) withRetry(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.schedule.Delay(attempt-1)); err != nil {
				return err
			}
		}
		err := fn()
		if err == nil {
			return nil
		}
		if !apperrors.IsRetryable(err) {
			return err
		}
		c.logger.Warn("transient remote error",
			"op", op,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", err)
		last = err
	}
	return last
}

// send executes the request and classifies the response. The body is
// fully read so the connection can be reused.
func (c *Client) send(req *http.Request, op string) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperrors.Transient(op, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transient(op, resp.StatusCode, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return body, nil
	}

	msg := strings.TrimSpace(string(body))
	switch {
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests:
		return nil, apperrors.Permanent(op, resp.StatusCode, msg)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, apperrors.Transient(op, resp.StatusCode,
			fmt.Errorf("%s failed (%d): %s", op, resp.StatusCode, msg))
	default:
		return nil, apperrors.Remote(op, msg)
	}
}

// Submit creates a new prediction and returns its remote id. A fresh
// prediction name is generated per attempt so retries never collide with
// a submission the server may have partially accepted.
func (c *Client) Submit(ctx context.Context, apiKey string, input InferenceInput, options InferenceOptions) (*SubmitResponse, error) {
	const op = "submit prediction"
	endpoint := c.baseURL + "/api/v1/connect/predictions/boltz2"

	var out SubmitResponse
	err := c.withRetry(ctx, op, func() error {
		payload, err := json.Marshal(submitRequest{
			PredictionName:   uuid.NewString(),
			InferenceInput:   input,
			InferenceOptions: options,
		})
		if err != nil {
			return apperrors.Internal(op, err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return apperrors.Internal(op, err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		body, err := c.send(req, op)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &out); err != nil {
			return apperrors.Internal(op, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type submitRequest struct {
	PredictionName   string           `json:"prediction_name"`
	InferenceInput   InferenceInput   `json:"inference_input"`
	InferenceOptions InferenceOptions `json:"inference_options"`
}

// Status fetches the record for one prediction. The endpoint returns a
// list; the record matching the requested id is selected rather than
// trusting the first element.
func (c *Client) Status(ctx context.Context, apiKey, predictionID string) (*PredictionRecord, error) {
	const op = "prediction status"
	endpoint := c.baseURL + "/api/v1/connect/predictions?predictionId=" + url.QueryEscape(predictionID)

	var out *PredictionRecord
	err := c.withRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return apperrors.Internal(op, err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		body, err := c.send(req, op)
		if err != nil {
			return err
		}
		var list PredictionListResponse
		if err := json.Unmarshal(body, &list); err != nil {
			return apperrors.Internal(op, err)
		}
		for i := range list.Predictions {
			if list.Predictions[i].PredictionID == predictionID {
				out = &list.Predictions[i]
				return nil
			}
		}
		return apperrors.NotFound("prediction", predictionID)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Download fetches an archive from a presigned URL. No bearer header is
// sent: the URL itself carries the authorization.
func (c *Client) Download(ctx context.Context, downloadURL string) ([]byte, error) {
	const op = "download artifacts"

	var out []byte
	err := c.withRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
		if err != nil {
			return apperrors.Internal(op, err)
		}
		body, err := c.send(req, op)
		if err != nil {
			return err
		}
		out = body
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Probe checks connectivity and credential validity with a minimal
// request. Success is judged purely by HTTP status.
func (c *Client) Probe(ctx context.Context, apiKey string) error {
	const op = "connection probe"
	endpoint := c.baseURL + "/api/v1/connect/predictions?limit=1"

	return c.withRetry(ctx, op, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return apperrors.Internal(op, err)
		}
		req.Header.Set("Authorization", "Bearer "+apiKey)

		_, err = c.send(req, op)
		return err
	})
}
