// Package external holds circuit-breaker-protected HTTP clients for the
// crawl/description/image-processor collaborator services named in the
// control surface's wire contracts.
package external

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/jamie-anson/placeflow-ingestor/internal/circuitbreaker"
	apperrors "github.com/jamie-anson/placeflow-ingestor/internal/errors"
)

// ProtectedClient wraps external service calls with circuit breaker protection.
type ProtectedClient struct {
	httpClient *http.Client
	cbManager  *circuitbreaker.Manager
}

// NewProtectedClient creates a new protected client with circuit breaker support.
func NewProtectedClient(httpClient *http.Client) *ProtectedClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &ProtectedClient{
		httpClient: httpClient,
		cbManager:  circuitbreaker.NewManager(),
	}
}

func (pc *ProtectedClient) postJSON(ctx context.Context, breakerName, url string, in, out interface{}) error {
	cb := pc.cbManager.GetOrCreate(breakerName, circuitbreaker.Config{
		Name:             breakerName,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		MaxRequests:      2,
		SuccessThreshold: 2,
		IsFailure:        func(err error) bool { return err != nil },
	})

	return cb.Execute(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(in)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ValidationError, "failed to marshal request body")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to build request")
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := pc.httpClient.Do(req)
		if err != nil {
			return apperrors.Wrap(err, apperrors.TransientErrorType, fmt.Sprintf("%s unreachable", url))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusNotFound {
			return apperrors.NewNotFoundError(url)
		}
		if resp.StatusCode >= 500 {
			return apperrors.Newf(apperrors.TransientErrorType, "%s returned %d", url, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
			return apperrors.Newf(apperrors.ValidationError, "%s rejected request: %d %s", url, resp.StatusCode, string(payload))
		}
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return apperrors.Wrap(err, apperrors.ExternalServiceError, "failed to decode response body")
		}
		return nil
	})
}

// CrawledPlace is the structured place data the crawler service returns.
type CrawledPlace struct {
	Name      string   `json:"name"`
	Category  string   `json:"category"`
	Address   string   `json:"address"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	ImageURLs []string `json:"image_urls,omitempty"`
	SourceURL string   `json:"source_url,omitempty"`
}

// CrawlerClient fetches structured place data from the crawl collaborator.
type CrawlerClient struct {
	*ProtectedClient
	baseURL string
}

// NewCrawlerClient builds a CrawlerClient bound to baseURL.
func NewCrawlerClient(baseURL string) *CrawlerClient {
	return &CrawlerClient{ProtectedClient: NewProtectedClient(nil), baseURL: baseURL}
}

// Crawl requests structured place data for a (searchQuery, placeName) pair.
func (c *CrawlerClient) Crawl(ctx context.Context, searchQuery, placeName string) (*CrawledPlace, error) {
	req := struct {
		SearchQuery string `json:"search_query"`
		PlaceName   string `json:"place_name"`
	}{SearchQuery: searchQuery, PlaceName: placeName}

	var out CrawledPlace
	if err := c.postJSON(ctx, "crawler-crawl", c.baseURL+"/crawl", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health checks liveness of the crawl collaborator.
func (c *CrawlerClient) Health(ctx context.Context) error {
	return httpHealth(ctx, c.httpClient, c.baseURL)
}

// DescriptionClient calls the LLM/description-generation collaborator.
type DescriptionClient struct {
	*ProtectedClient
	baseURL string
}

// NewDescriptionClient builds a DescriptionClient bound to baseURL.
func NewDescriptionClient(baseURL string) *DescriptionClient {
	return &DescriptionClient{ProtectedClient: NewProtectedClient(nil), baseURL: baseURL}
}

// Describe requests a generated description for a place, given its crawled fields.
func (c *DescriptionClient) Describe(ctx context.Context, place CrawledPlace) (string, error) {
	var out struct {
		Description string `json:"description"`
	}
	if err := c.postJSON(ctx, "description-generate", c.baseURL+"/describe", place, &out); err != nil {
		return "", err
	}
	return out.Description, nil
}

// Health checks liveness of the description collaborator.
func (c *DescriptionClient) Health(ctx context.Context) error {
	return httpHealth(ctx, c.httpClient, c.baseURL)
}

// ImageProcessorClient fetches and stores a remote image, returning the
// stored file name the media storage backend indexed it under.
type ImageProcessorClient struct {
	*ProtectedClient
	baseURL string
}

// NewImageProcessorClient builds an ImageProcessorClient bound to baseURL.
func NewImageProcessorClient(baseURL string) *ImageProcessorClient {
	return &ImageProcessorClient{ProtectedClient: NewProtectedClient(nil), baseURL: baseURL}
}

// Process submits {url, file_name} and returns the stored file name.
func (c *ImageProcessorClient) Process(ctx context.Context, url, fileName string) (string, error) {
	req := struct {
		URL      string `json:"url"`
		FileName string `json:"file_name"`
	}{URL: url, FileName: fileName}

	var out struct {
		StoredFileName string `json:"stored_file_name"`
	}
	if err := c.postJSON(ctx, "image-processor-process", c.baseURL+"/process", req, &out); err != nil {
		return "", err
	}
	return out.StoredFileName, nil
}

// Health checks liveness of the image-processor collaborator.
func (c *ImageProcessorClient) Health(ctx context.Context) error {
	return httpHealth(ctx, c.httpClient, c.baseURL)
}

func httpHealth(ctx context.Context, httpClient *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ServiceUnavailableError, "failed to build health check request")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ServiceUnavailableError, fmt.Sprintf("%s unreachable", baseURL))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apperrors.Newf(apperrors.ServiceUnavailableError, "%s health check returned %d", baseURL, resp.StatusCode)
	}
	return nil
}

// DatabaseClient provides circuit breaker protected database health checks.
type DatabaseClient struct {
	*ProtectedClient
	db *sql.DB
}

// NewDatabaseClient creates a new database client with circuit breaker protection.
func NewDatabaseClient(db *sql.DB) *DatabaseClient {
	return &DatabaseClient{ProtectedClient: NewProtectedClient(nil), db: db}
}

// Ping verifies database connectivity, circuit-breaker-wrapped so a flapping
// pool doesn't page on every single request.
func (c *DatabaseClient) Ping(ctx context.Context) error {
	cb := c.cbManager.GetOrCreate("database-ping", circuitbreaker.Config{
		Name: "database-ping", MaxFailures: 10, Timeout: 15 * time.Second,
		MaxRequests: 5, SuccessThreshold: 3,
		IsFailure: func(err error) bool { return err != nil },
	})
	return cb.Execute(ctx, func(ctx context.Context) error {
		if err := c.db.PingContext(ctx); err != nil {
			return apperrors.NewDatabaseError(err)
		}
		return nil
	})
}

// RedisClient provides circuit breaker protected Redis health checks.
type RedisClient struct {
	*ProtectedClient
	rdb *redis.Client
}

// NewRedisClient creates a new Redis client with circuit breaker protection.
func NewRedisClient(rdb *redis.Client) *RedisClient {
	return &RedisClient{ProtectedClient: NewProtectedClient(nil), rdb: rdb}
}

// Ping verifies Redis connectivity.
func (c *RedisClient) Ping(ctx context.Context) error {
	cb := c.cbManager.GetOrCreate("redis-ping", circuitbreaker.DefaultConfig("redis-ping"))
	return cb.Execute(ctx, func(ctx context.Context) error {
		if err := c.rdb.Ping(ctx).Err(); err != nil {
			return apperrors.Wrap(err, apperrors.ExternalServiceError, "redis ping failed")
		}
		return nil
	})
}

// HealthChecker aggregates the health of every external collaborator plus
// the shared database and Redis connections.
type HealthChecker struct {
	crawler        *CrawlerClient
	description    *DescriptionClient
	imageProcessor *ImageProcessorClient
	db             *DatabaseClient
	redis          *RedisClient
}

// NewHealthChecker creates a new health checker over the collaborator URLs
// plus the shared database and Redis handles.
func NewHealthChecker(crawlerURL, descriptionURL, imageProcessorURL string, db *sql.DB, rdb *redis.Client) *HealthChecker {
	return &HealthChecker{
		crawler:        NewCrawlerClient(crawlerURL),
		description:    NewDescriptionClient(descriptionURL),
		imageProcessor: NewImageProcessorClient(imageProcessorURL),
		db:             NewDatabaseClient(db),
		redis:          NewRedisClient(rdb),
	}
}

// ServiceHealth represents the health status of a service.
type ServiceHealth struct {
	Name      string               `json:"name"`
	Status    string               `json:"status"` // "healthy", "degraded", "unhealthy"
	CBStats   circuitbreaker.Stats `json:"circuit_breaker_stats"`
	LastCheck time.Time            `json:"last_check"`
	Error     string               `json:"error,omitempty"`
}

// CheckAllServices checks the health of all external services.
func (hc *HealthChecker) CheckAllServices(ctx context.Context) []ServiceHealth {
	return []ServiceHealth{
		hc.check(ctx, "crawler", "crawler-crawl", hc.crawler.Health),
		hc.check(ctx, "description", "description-generate", hc.description.Health),
		hc.check(ctx, "image-processor", "image-processor-process", hc.imageProcessor.Health),
		hc.check(ctx, "database", "database-ping", hc.db.Ping),
		hc.check(ctx, "redis", "redis-ping", hc.redis.Ping),
	}
}

func (hc *HealthChecker) check(ctx context.Context, name, breakerName string, fn func(context.Context) error) ServiceHealth {
	health := ServiceHealth{Name: name, LastCheck: time.Now()}
	if err := fn(ctx); err != nil {
		health.Error = err.Error()
	}

	var cb *circuitbreaker.CircuitBreaker
	var exists bool
	switch name {
	case "crawler":
		cb, exists = hc.crawler.cbManager.Get(breakerName)
	case "description":
		cb, exists = hc.description.cbManager.Get(breakerName)
	case "image-processor":
		cb, exists = hc.imageProcessor.cbManager.Get(breakerName)
	case "database":
		cb, exists = hc.db.cbManager.Get(breakerName)
	case "redis":
		cb, exists = hc.redis.cbManager.Get(breakerName)
	}
	if !exists {
		health.Status = "healthy"
		if health.Error != "" {
			health.Status = "unhealthy"
		}
		return health
	}
	health.CBStats = cb.Stats()
	switch cb.State() {
	case circuitbreaker.StateClosed:
		health.Status = "healthy"
	case circuitbreaker.StateHalfOpen:
		health.Status = "degraded"
	case circuitbreaker.StateOpen:
		health.Status = "unhealthy"
		if health.Error == "" {
			health.Error = "circuit breaker open"
		}
	}
	return health
}
