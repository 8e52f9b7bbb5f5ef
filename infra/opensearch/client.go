package opensearch

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/glFusion/shop-sub005/infra/config"
	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// Client wraps the OpenSearch client used for the notification audit trail.
type Client struct {
	client  *opensearch.Client
	enabled bool
}

// NewClient creates a new OpenSearch client from the app configuration.
func NewClient(cfg *config.AppConfig) (*Client, error) {
	opensearchConfig := opensearch.Config{
		Addresses: []string{cfg.OpenSearchURL},
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: !cfg.IsProduction(),
			},
		},
		MaxRetries:    3,
		RetryOnStatus: []int{502, 503, 504, 429},
		RetryBackoff: func(i int) time.Duration {
			return time.Duration(i) * 100 * time.Millisecond
		},
	}

	if cfg.OpenSearchUser != "" && cfg.OpenSearchPass != "" {
		opensearchConfig.Username = cfg.OpenSearchUser
		opensearchConfig.Password = cfg.OpenSearchPass
	}

	client, err := opensearch.NewClient(opensearchConfig)
	if err != nil {
		return nil, err
	}

	return &Client{client: client, enabled: cfg.EnableLogging}, nil
}

// GetClient returns the underlying OpenSearch client.
func (c *Client) GetClient() *opensearch.Client {
	return c.client
}

// IsEnabled reports whether indexing is enabled.
func (c *Client) IsEnabled() bool {
	return c != nil && c.enabled && c.client != nil
}

// NotificationIndexName returns the per-gateway audit index. Internal
// gateway ids start with an underscore, which OpenSearch reserves.
func NotificationIndexName(gatewayID string) string {
	gatewayID = strings.TrimPrefix(gatewayID, "_")
	if gatewayID == "" {
		gatewayID = "unknown"
	}
	return fmt.Sprintf("shop-notifications-%s", strings.ToLower(gatewayID))
}

// Ping verifies connectivity.
func (c *Client) Ping() error {
	if c == nil || c.client == nil {
		return fmt.Errorf("opensearch client not initialized")
	}

	req := opensearchapi.PingRequest{}
	res, err := req.Do(nil, c.client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch ping failed: %s", res.String())
	}
	return nil
}
