package stripe

import "github.com/glFusion/shop-sub005/gateway"

// Register Stripe webhooks with the gateway registry
func init() {
	gateway.Register("stripe", NewStrategy)
}
