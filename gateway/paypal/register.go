package paypal

import "github.com/glFusion/shop-sub005/gateway"

// Register PayPal IPN with the gateway registry
func init() {
	gateway.Register("paypal", NewStrategy)
}
