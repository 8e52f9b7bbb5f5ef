package testpay

import "github.com/glFusion/shop-sub005/gateway"

// Register the development test gateway with the gateway registry
func init() {
	gateway.Register("test", NewStrategy)
}
