package gateway

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WrappedContentType marks a store-and-forward envelope: a JSON document
// carrying the original content type, headers and base64 encoded body.
const WrappedContentType = "application/vnd.shop.envelope+json"

const maxBodyBytes = 1 << 20 // 1MB, webhook payloads are small

// Envelope is the typed capture of one inbound notification, taken once at
// ingress. Verifier and normalizer derive their views from it instead of
// re-reading and re-guessing the request encoding.
type Envelope struct {
	GatewayID   string      `json:"gatewayId"`
	RequestID   string      `json:"requestId"`
	URL         string      `json:"url"`
	ContentType string      `json:"contentType"`
	Headers     http.Header `json:"headers"`
	Body        []byte      `json:"body"`
	ReceivedAt  time.Time   `json:"receivedAt"`
}

type wrappedEnvelope struct {
	ContentType string            `json:"contentType"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"` // base64
}

// Capture reads the request exactly once and builds the envelope. A wrapped
// body is unwrapped here so the rest of the pipeline never sees the
// transport encoding.
func Capture(r *http.Request, gatewayID string) (*Envelope, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}

	env := &Envelope{
		GatewayID:   gatewayID,
		RequestID:   uuid.New().String(),
		URL:         requestURL(r),
		ContentType: contentType(r.Header.Get("Content-Type")),
		Headers:     r.Header.Clone(),
		Body:        body,
		ReceivedAt:  time.Now().UTC(),
	}

	if env.ContentType == WrappedContentType {
		if err := env.unwrap(); err != nil {
			return nil, err
		}
	}

	return env, nil
}

// unwrap replaces the envelope content with the store-and-forward payload it
// carries.
func (e *Envelope) unwrap() error {
	var w wrappedEnvelope
	if err := json.Unmarshal(e.Body, &w); err != nil {
		return err
	}
	body, err := base64.StdEncoding.DecodeString(w.Body)
	if err != nil {
		return err
	}

	headers := make(http.Header, len(w.Headers))
	for k, v := range w.Headers {
		headers.Set(k, v)
	}

	e.ContentType = contentType(w.ContentType)
	e.Headers = headers
	e.Body = body
	return nil
}

// Header returns a single header value.
func (e *Envelope) Header(name string) string {
	return e.Headers.Get(name)
}

// FormValues parses the body as a form-encoded payload.
func (e *Envelope) FormValues() (url.Values, error) {
	if e.ContentType != "" && e.ContentType != "application/x-www-form-urlencoded" {
		return nil, errors.New("envelope body is not form encoded")
	}
	return url.ParseQuery(string(e.Body))
}

// FormMap parses the body as a form and flattens it to first values.
func (e *Envelope) FormMap() (map[string]string, error) {
	values, err := e.FormValues()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			m[k] = v[0]
		}
	}
	return m, nil
}

// JSONMap parses the body as a JSON object.
func (e *Envelope) JSONMap() (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal(e.Body, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// DecodeJSON unmarshals the body into a typed view.
func (e *Envelope) DecodeJSON(v any) error {
	return json.Unmarshal(e.Body, v)
}

func contentType(raw string) string {
	if i := strings.Index(raw, ";"); i >= 0 {
		raw = raw[:i]
	}
	return strings.TrimSpace(strings.ToLower(raw))
}

func requestURL(r *http.Request) string {
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	if forwarded := r.Header.Get("X-Forwarded-Proto"); forwarded != "" {
		scheme = forwarded
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
