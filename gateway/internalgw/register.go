package internalgw

import "github.com/glFusion/shop-sub005/gateway"

// Register the internal synthetic gateway with the gateway registry
func init() {
	gateway.Register(ID, NewStrategy)
}
