package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strings"
	"sync"
	"time"
)

// SignatureAlg selects the HMAC function of a signature scheme.
type SignatureAlg string

const (
	SignatureSHA1   SignatureAlg = "hmac-sha1"
	SignatureSHA256 SignatureAlg = "hmac-sha256"
	SignatureSHA512 SignatureAlg = "hmac-sha512"
)

func (a SignatureAlg) hasher() (func() hash.Hash, error) {
	switch a {
	case SignatureSHA1:
		return sha1.New, nil
	case SignatureSHA256:
		return sha256.New, nil
	case SignatureSHA512:
		return sha512.New, nil
	}
	return nil, fmt.Errorf("unsupported signature algorithm %q", a)
}

// ComputeHMAC returns the raw HMAC of payload under key.
func ComputeHMAC(alg SignatureAlg, key, payload []byte) ([]byte, error) {
	newHash, err := alg.hasher()
	if err != nil {
		return nil, err
	}
	mac := hmac.New(newHash, key)
	mac.Write(payload)
	return mac.Sum(nil), nil
}

// CheckSignature recomputes the HMAC over payload and compares it in
// constant time against the supplied signature, accepting either hex or
// base64 encoding. A mismatch is a hard verification failure.
func CheckSignature(alg SignatureAlg, key, payload []byte, signature string) error {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return VerificationFailedf("missing signature")
	}

	expected, err := ComputeHMAC(alg, key, payload)
	if err != nil {
		return err
	}

	if raw, err := hex.DecodeString(strings.ToLower(signature)); err == nil {
		if hmac.Equal(raw, expected) {
			return nil
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(signature); err == nil {
		if hmac.Equal(raw, expected) {
			return nil
		}
	}
	return VerificationFailedf("signature mismatch")
}

// CallbackVerifier implements the classic IPN scheme: the exact received
// payload plus a fixed command token is posted back to the gateway's own
// verification endpoint, and trust is granted only on a literal
// confirmation echo.
type CallbackVerifier struct {
	Endpoint     string
	CommandKey   string
	CommandValue string
	Confirmation string
	Client       *HTTPClient
}

// Verify re-posts the envelope body. Network failures are indeterminate so
// the caller can solicit a resend instead of rejecting outright.
func (c *CallbackVerifier) Verify(ctx context.Context, env *Envelope) error {
	body := string(env.Body)
	if c.CommandKey != "" {
		body = c.CommandKey + "=" + url.QueryEscape(c.CommandValue) + "&" + body
	}

	resp, err := c.Client.SendForm(ctx, &HTTPRequest{
		Method:  "POST",
		URL:     c.Endpoint,
		RawBody: []byte(body),
	})
	if err != nil {
		return Indeterminatef("callback verification unreachable: %v", err)
	}
	if resp.StatusCode >= 500 {
		return Indeterminatef("callback verification returned %d", resp.StatusCode)
	}

	echo := strings.TrimSpace(string(resp.Body))
	if echo != c.Confirmation {
		return VerificationFailedf("callback echo %q", echo)
	}
	return nil
}

// TokenSource caches an OAuth2 client-credentials bearer token for the
// re-query verification strategy.
type TokenSource struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Client       *HTTPClient

	mu      sync.Mutex
	token   string
	expires time.Time
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a cached bearer token, fetching a fresh one when the cache
// is empty or about to expire.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && time.Now().Before(t.expires.Add(-30*time.Second)) {
		return t.token, nil
	}

	basic := base64.StdEncoding.EncodeToString([]byte(t.ClientID + ":" + t.ClientSecret))
	resp, err := t.Client.SendForm(ctx, &HTTPRequest{
		Method: "POST",
		URL:    t.TokenURL,
		Headers: map[string]string{
			"Authorization": "Basic " + basic,
		},
		FormData: map[string]string{"grant_type": "client_credentials"},
	})
	if err != nil {
		return "", Indeterminatef("token endpoint unreachable: %v", err)
	}
	if resp.StatusCode != 200 {
		return "", Indeterminatef("token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.Body, &tr); err != nil {
		return "", Indeterminatef("token response malformed: %v", err)
	}
	if tr.AccessToken == "" {
		return "", errors.New("token response missing access_token")
	}

	t.token = tr.AccessToken
	t.expires = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	return t.token, nil
}

// Invalidate drops the cached token so the next call re-authenticates.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
}

// TrivialVerify accepts unconditionally. It is only reachable for gateways
// flagged sandbox; factories refuse to build it otherwise.
func TrivialVerify(gw *Gateway) VerifyFunc {
	return func(_ context.Context, _ *Gateway, env *Envelope) (*VerifiedPayload, error) {
		if !gw.Sandbox {
			return nil, VerificationFailedf("test gateway %q not flagged sandbox", gw.ID)
		}
		return &VerifiedPayload{Envelope: env}, nil
	}
}
