package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "9080", cfg.Port)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, 20*time.Second, cfg.DispatchBudget)
	assert.Equal(t, 2*time.Minute, cfg.ReserveTTL)
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_DUR", "90s")

	assert.Equal(t, "value", GetEnv("TEST_STR", "default"))
	assert.Equal(t, "default", GetEnv("TEST_MISSING", "default"))
	assert.True(t, GetBoolEnv("TEST_BOOL", false))
	assert.Equal(t, 42, GetIntEnv("TEST_INT", 0))
	assert.Equal(t, 90*time.Second, GetDurationEnv("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, GetDurationEnv("TEST_MISSING", time.Second))
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList("a, b ,c"))
	assert.Nil(t, SplitList(""))
	assert.Nil(t, SplitList(" , "))
}

func TestGatewayConfigLoadFromEnv(t *testing.T) {
	t.Setenv("GATEWAYS", "square, _internal,test")
	t.Setenv("GW_SQUARE_SIGNATURE_KEY", "sq-key")
	t.Setenv("GW_SQUARE_CAPABILITIES", "checkout,buy_now")
	t.Setenv("GW_INTERNAL_SHARED_SECRET", "shh")
	t.Setenv("GW_INTERNAL_CAPABILITIES", "terms")
	t.Setenv("GW_TEST_DISABLED", "true")

	gc := NewGatewayConfig()
	gc.LoadFromEnv("sandbox")

	assert.ElementsMatch(t, []string{"square", "_internal", "test"}, gc.IDs())

	square, err := gc.Get("square")
	require.NoError(t, err)
	assert.Equal(t, "sq-key", square.Credentials["signatureKey"])
	assert.Equal(t, []string{"checkout", "buy_now"}, square.Capabilities)
	assert.True(t, square.Sandbox)
	assert.True(t, square.Enabled)

	// The leading underscore of internal gateway ids is stripped from the
	// env prefix.
	internal, err := gc.Get("_internal")
	require.NoError(t, err)
	assert.Equal(t, "shh", internal.Credentials["sharedSecret"])
	assert.Equal(t, []string{"terms"}, internal.Capabilities)

	test, err := gc.Get("test")
	require.NoError(t, err)
	assert.False(t, test.Enabled)
}

func TestGatewayConfigProductionSandboxFlag(t *testing.T) {
	t.Setenv("GATEWAYS", "paypal,test")
	t.Setenv("GW_TEST_SANDBOX", "true")

	gc := NewGatewayConfig()
	gc.LoadFromEnv("production")

	paypal, err := gc.Get("paypal")
	require.NoError(t, err)
	assert.False(t, paypal.Sandbox)

	// Explicit override survives the production default.
	test, err := gc.Get("test")
	require.NoError(t, err)
	assert.True(t, test.Sandbox)
}

func TestGatewayConfigGetUnknown(t *testing.T) {
	gc := NewGatewayConfig()
	_, err := gc.Get("ghost")
	assert.Error(t, err)
}

func TestCredKey(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"SIGNATURE_KEY", "signatureKey"},
		{"CLIENT_ID", "clientId"},
		{"SECRET", "secret"},
		{"WEBHOOK_SECRET", "webhookSecret"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, credKey(tt.in))
	}
}

func TestLoadStatusFlagsDefaults(t *testing.T) {
	flags := LoadStatusFlags()

	assert.False(t, flags["pending"].OrderValid)
	assert.True(t, flags["pending"].CustomerViewable)
	assert.True(t, flags["processing"].OrderValid)
	assert.True(t, flags["closed"].OrderClosed)
	assert.False(t, flags["cart"].CustomerViewable)
}

func TestLoadStatusFlagsOverride(t *testing.T) {
	t.Setenv("STATUS_FLAGS", `{"pending": {"orderValid": true, "customerViewable": true}}`)

	flags := LoadStatusFlags()
	assert.True(t, flags["pending"].OrderValid)
	// Untouched statuses keep their defaults.
	assert.True(t, flags["shipped"].OrderValid)
}
