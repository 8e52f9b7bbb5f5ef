package square

import "github.com/glFusion/shop-sub005/gateway"

// Register Square webhooks with the gateway registry
func init() {
	gateway.Register("square", NewStrategy)
}
