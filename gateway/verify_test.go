package gateway

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckSignatureEncodings(t *testing.T) {
	key := []byte("secret")
	payload := []byte("the payload")
	mac, err := ComputeHMAC(SignatureSHA256, key, payload)
	require.NoError(t, err)

	assert.NoError(t, CheckSignature(SignatureSHA256, key, payload, hex.EncodeToString(mac)))
	assert.NoError(t, CheckSignature(SignatureSHA256, key, payload, base64.StdEncoding.EncodeToString(mac)))
}

func TestCheckSignatureTamperedPayload(t *testing.T) {
	key := []byte("secret")
	mac, err := ComputeHMAC(SignatureSHA256, key, []byte("original"))
	require.NoError(t, err)

	err = CheckSignature(SignatureSHA256, key, []byte("tampered"), hex.EncodeToString(mac))
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestCheckSignatureMissing(t *testing.T) {
	err := CheckSignature(SignatureSHA256, []byte("secret"), []byte("x"), "  ")
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestCheckSignatureAlgorithms(t *testing.T) {
	for _, alg := range []SignatureAlg{SignatureSHA1, SignatureSHA256, SignatureSHA512} {
		t.Run(string(alg), func(t *testing.T) {
			mac, err := ComputeHMAC(alg, []byte("k"), []byte("p"))
			require.NoError(t, err)
			assert.NoError(t, CheckSignature(alg, []byte("k"), []byte("p"), hex.EncodeToString(mac)))
		})
	}

	_, err := ComputeHMAC(SignatureAlg("hmac-md5"), []byte("k"), []byte("p"))
	assert.Error(t, err)
}

func TestCallbackVerifier(t *testing.T) {
	var received string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		received = string(body)
		_, _ = w.Write([]byte("VERIFIED"))
	}))
	defer server.Close()

	v := &CallbackVerifier{
		Endpoint:     server.URL,
		CommandKey:   "cmd",
		CommandValue: "_notify-validate",
		Confirmation: "VERIFIED",
		Client:       NewHTTPClient(time.Second),
	}

	env := &Envelope{Body: []byte("txn_id=TX1&amount=5")}
	require.NoError(t, v.Verify(context.Background(), env))
	assert.Equal(t, "cmd=_notify-validate&txn_id=TX1&amount=5", received)
}

func TestCallbackVerifierMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("INVALID"))
	}))
	defer server.Close()

	v := &CallbackVerifier{Endpoint: server.URL, Confirmation: "VERIFIED", Client: NewHTTPClient(time.Second)}
	err := v.Verify(context.Background(), &Envelope{Body: []byte("x=1")})
	assert.ErrorIs(t, err, ErrVerificationFailed)
}

func TestCallbackVerifierOutage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	v := &CallbackVerifier{Endpoint: server.URL, Confirmation: "VERIFIED", Client: NewHTTPClient(time.Second)}
	err := v.Verify(context.Background(), &Envelope{Body: []byte("x=1")})
	assert.ErrorIs(t, err, ErrVerificationIndeterminate)

	server.Close()
	err = v.Verify(context.Background(), &Envelope{Body: []byte("x=1")})
	assert.ErrorIs(t, err, ErrVerificationIndeterminate)
}

func TestTokenSourceCachesToken(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NotEmpty(t, r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	ts := &TokenSource{
		TokenURL:     server.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		Client:       NewHTTPClient(time.Second),
	}

	for i := 0; i < 3; i++ {
		token, err := ts.Token(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "tok", token)
	}
	assert.Equal(t, int32(1), calls.Load())

	ts.Invalidate()
	_, err := ts.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestTokenSourceUnreachable(t *testing.T) {
	server := httptest.NewServer(nil)
	server.Close()

	ts := &TokenSource{TokenURL: server.URL, Client: NewHTTPClient(time.Second)}
	_, err := ts.Token(context.Background())
	assert.ErrorIs(t, err, ErrVerificationIndeterminate)
}

func TestTrivialVerifyRequiresSandbox(t *testing.T) {
	env := &Envelope{Body: []byte("x")}

	_, err := TrivialVerify(&Gateway{ID: "test", Sandbox: false})(context.Background(), nil, env)
	assert.ErrorIs(t, err, ErrVerificationFailed)

	vp, err := TrivialVerify(&Gateway{ID: "test", Sandbox: true})(context.Background(), nil, env)
	require.NoError(t, err)
	assert.Equal(t, env, vp.Envelope)
}
