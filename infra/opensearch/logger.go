package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"
)

// NotificationLog is the audit document indexed for every inbound
// notification: raw payload, verification outcome and the dispatch stage
// reached, keyed by (gateway, received_at, external ref id).
type NotificationLog struct {
	Timestamp   time.Time `json:"timestamp"`
	Gateway     string    `json:"gateway"`
	RefID       string    `json:"ref_id,omitempty"`
	OrderID     string    `json:"order_id,omitempty"`
	RequestID   string    `json:"request_id"`
	Stage       string    `json:"stage"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	Payload     string    `json:"payload,omitempty"`
}

// Logger handles OpenSearch indexing for the audit trail.
type Logger struct {
	client *Client
}

// NewLogger creates a new OpenSearch logger.
func NewLogger(client *Client) *Logger {
	return &Logger{client: client}
}

// LogNotification indexes one audit document.
func (l *Logger) LogNotification(ctx context.Context, doc NotificationLog) error {
	if !l.client.IsEnabled() {
		return nil
	}

	if doc.Timestamp.IsZero() {
		doc.Timestamp = time.Now().UTC()
	}
	if doc.RequestID == "" {
		doc.RequestID = uuid.New().String()
	}
	doc.Payload = SanitizeForLog(doc.Payload)

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal notification log: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: NotificationIndexName(doc.Gateway),
		Body:  bytes.NewReader(docJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index notification log: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch error: %s", res.String())
	}
	return nil
}

// LogSystemEvent indexes a structured system log entry.
func (l *Logger) LogSystemEvent(ctx context.Context, entry any) error {
	if !l.client.IsEnabled() {
		return nil
	}

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal system log: %w", err)
	}

	req := opensearchapi.IndexRequest{
		Index: "shop-system-logs",
		Body:  bytes.NewReader(entryJSON),
	}

	res, err := req.Do(ctx, l.client.GetClient())
	if err != nil {
		return fmt.Errorf("failed to index system log: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("opensearch system log error: %s", res.String())
	}
	return nil
}

var sensitivePatterns = func() []*regexp.Regexp {
	fields := []string{
		"secret", "signature", "apiKey", "api_key", "secretKey", "secret_key",
		"password", "token", "authorization", "clientSecret", "client_secret",
	}
	patterns := make([]*regexp.Regexp, 0, len(fields))
	for _, field := range fields {
		patterns = append(patterns, regexp.MustCompile(fmt.Sprintf(`(?i)"%s"\s*:\s*"[^"]*"`, field)))
		patterns = append(patterns, regexp.MustCompile(fmt.Sprintf(`(?i)%s=[^&\s]+`, field)))
	}
	return patterns
}()

// SanitizeForLog removes credential material from payloads before indexing.
func SanitizeForLog(data string) string {
	for _, re := range sensitivePatterns {
		data = re.ReplaceAllString(data, `"***REDACTED***"`)
	}
	return data
}
