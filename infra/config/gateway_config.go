package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// GatewaySpec is the raw configuration of one gateway as read from the
// environment. The registry turns specs into descriptors at startup;
// the notification pipeline never writes them back.
type GatewaySpec struct {
	ID           string
	Capabilities []string
	Sandbox      bool
	Enabled      bool
	Credentials  map[string]string
}

// GatewayConfig collects gateway specs from the environment.
//
// GATEWAYS names the configured gateways, e.g. "paypal,square,_internal".
// Per-gateway keys use the prefix GW_<ID>_ with the leading underscore of
// internal gateways stripped, e.g. GW_SQUARE_SIGNATURE_KEY or
// GW_INTERNAL_SECRET. GW_<ID>_DISABLED, GW_<ID>_SANDBOX and
// GW_<ID>_CAPABILITIES are reserved keys.
type GatewayConfig struct {
	specs map[string]GatewaySpec
	mu    sync.RWMutex
}

// NewGatewayConfig creates an empty gateway configuration.
func NewGatewayConfig() *GatewayConfig {
	return &GatewayConfig{specs: make(map[string]GatewaySpec)}
}

// LoadFromEnv reads every gateway named by GATEWAYS.
func (c *GatewayConfig) LoadFromEnv(environment string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, id := range SplitList(os.Getenv("GATEWAYS")) {
		prefix := envPrefix(id)

		creds := make(map[string]string)
		for _, kv := range os.Environ() {
			key, value, found := strings.Cut(kv, "=")
			if !found || !strings.HasPrefix(key, prefix) {
				continue
			}
			creds[credKey(strings.TrimPrefix(key, prefix))] = value
		}

		spec := GatewaySpec{
			ID:          id,
			Sandbox:     environment != "production",
			Enabled:     true,
			Credentials: creds,
		}
		if v, ok := creds["disabled"]; ok {
			spec.Enabled = !(v == "true" || v == "1")
			delete(creds, "disabled")
		}
		if v, ok := creds["sandbox"]; ok {
			spec.Sandbox = v == "true" || v == "1"
			delete(creds, "sandbox")
		}
		if v, ok := creds["capabilities"]; ok {
			spec.Capabilities = SplitList(v)
			delete(creds, "capabilities")
		}

		c.specs[id] = spec
	}
}

// Set stores a spec directly, used by tests and embedded setups.
func (c *GatewayConfig) Set(spec GatewaySpec) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.specs[spec.ID] = spec
}

// Get returns the spec for a gateway id.
func (c *GatewayConfig) Get(id string) (GatewaySpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	spec, ok := c.specs[id]
	if !ok {
		return GatewaySpec{}, fmt.Errorf("no configuration for gateway %q", id)
	}
	return spec, nil
}

// IDs returns all configured gateway ids.
func (c *GatewayConfig) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.specs))
	for id := range c.specs {
		ids = append(ids, id)
	}
	return ids
}

func envPrefix(id string) string {
	id = strings.TrimPrefix(id, "_")
	return "GW_" + strings.ToUpper(id) + "_"
}

// credKey maps GW_SQUARE_SIGNATURE_KEY -> signatureKey.
func credKey(envKey string) string {
	parts := strings.Split(strings.ToLower(envKey), "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}
