package authorizenet

import "github.com/glFusion/shop-sub005/gateway"

// Register Authorize.net webhooks with the gateway registry
func init() {
	gateway.Register("authorizenet", NewStrategy)
}
