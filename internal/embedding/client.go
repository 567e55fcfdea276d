// Package embedding implements the single-threaded Embedding Pipeline: a
// sequential Chunked Pipeline Engine binding that turns each eligible
// place's keywords into stored vectors via the embedding collaborator
// service.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jamie-anson/placeflow-ingestor/internal/circuitbreaker"
	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
)

// Client talks to the external embedding service: an ordered array of
// strings in, a same-length array of fixed-dimension vectors out.
type Client interface {
	Embed(ctx context.Context, keywords []string) ([][]float32, error)
	Health(ctx context.Context) error
}

// HTTPClient is the circuit-breaker-protected embedding service client.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

// NewHTTPClient builds an embedding Client bound to baseURL.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
		breaker: circuitbreaker.New(circuitbreaker.Config{
			Name:             "embedding-service",
			MaxFailures:      5,
			Timeout:          30 * time.Second,
			MaxRequests:      2,
			SuccessThreshold: 2,
			IsFailure: func(err error) bool {
				return err != nil
			},
		}),
	}
}

type embedRequest struct {
	Keywords []string `json:"keywords"`
}

type embedResponse struct {
	Vectors [][]float32 `json:"vectors"`
}

// Embed posts keywords to the service and returns the vectors in the same
// order. Circuit-breaker-wrapped: an open breaker surfaces as
// ExternalServiceError without attempting the round trip.
func (c *HTTPClient) Embed(ctx context.Context, keywords []string) ([][]float32, error) {
	var vectors [][]float32
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(embedRequest{Keywords: keywords})
		if err != nil {
			return apperrors.Wrap(err, apperrors.ValidationError, "failed to marshal embedding request")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embed", bytes.NewReader(body))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to build embedding request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TransientErrorType, "embedding service unreachable")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return apperrors.Newf(apperrors.TransientErrorType, "embedding service returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return apperrors.Newf(apperrors.ValidationError, "embedding service rejected request: %d %s", resp.StatusCode, string(payload))
		}

		var out embedResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to decode embedding response")
		}
		if len(out.Vectors) != len(keywords) {
			return apperrors.Newf(apperrors.ExternalServiceError, "embedding service returned %d vectors for %d keywords", len(out.Vectors), len(keywords))
		}
		vectors = out.Vectors
		return nil
	})
	if err != nil {
		if apperrors.IsType(err, apperrors.CircuitBreakerError) {
			return nil, apperrors.NewExternalServiceError("embedding", err)
		}
		return nil, err
	}
	return vectors, nil
}

// Health performs the preflight liveness check the Job Controller uses
// before starting the embedding engine.
func (c *HTTPClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ServiceUnavailableError, "failed to build health check request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ServiceUnavailableError, fmt.Sprintf("embedding service %s unreachable", c.baseURL))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.ServiceUnavailableError, "embedding service health check returned %d", resp.StatusCode)
	}
	return nil
}
