package config

import (
	"encoding/json"
	"os"
)

// StatusFlags are the per-status order flags. They are configuration, not
// code: deployments tune which statuses count toward sales, stop
// fulfillment, or show to the customer.
type StatusFlags struct {
	OrderValid       bool `json:"orderValid"`
	OrderClosed      bool `json:"orderClosed"`
	CustomerViewable bool `json:"customerViewable"`
}

// defaultStatusFlags mirrors the stock storefront status table.
var defaultStatusFlags = map[string]StatusFlags{
	"cart":       {OrderValid: false, OrderClosed: false, CustomerViewable: false},
	"pending":    {OrderValid: false, OrderClosed: false, CustomerViewable: true},
	"invoiced":   {OrderValid: true, OrderClosed: false, CustomerViewable: true},
	"processing": {OrderValid: true, OrderClosed: false, CustomerViewable: true},
	"shipped":    {OrderValid: true, OrderClosed: false, CustomerViewable: true},
	"closed":     {OrderValid: true, OrderClosed: true, CustomerViewable: true},
	"canceled":   {OrderValid: false, OrderClosed: true, CustomerViewable: true},
	"refunded":   {OrderValid: false, OrderClosed: true, CustomerViewable: true},
}

// LoadStatusFlags returns the status flag table, with STATUS_FLAGS (a JSON
// object keyed by status name) overriding individual defaults.
func LoadStatusFlags() map[string]StatusFlags {
	flags := make(map[string]StatusFlags, len(defaultStatusFlags))
	for k, v := range defaultStatusFlags {
		flags[k] = v
	}

	if raw := os.Getenv("STATUS_FLAGS"); raw != "" {
		var overrides map[string]StatusFlags
		if err := json.Unmarshal([]byte(raw), &overrides); err == nil {
			for k, v := range overrides {
				flags[k] = v
			}
		}
	}

	return flags
}
