package ppcheckout

import "github.com/glFusion/shop-sub005/gateway"

// Register PayPal Checkout webhooks with the gateway registry
func init() {
	gateway.Register("ppcheckout", NewStrategy)
}
