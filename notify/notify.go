// Package notify carries the side-effect intents emitted on status
// transitions. Delivery (buyer/admin email, affiliate crediting) belongs to
// an external collaborator; from the pipeline's perspective intents are
// fire-and-forget and their failure never rolls back a payment.
package notify

import (
	"context"

	"github.com/glFusion/shop-sub005/infra/logger"
)

// IntentKind distinguishes the notification audiences.
type IntentKind string

const (
	IntentBuyerNotice     IntentKind = "buyer_notice"
	IntentAdminNotice     IntentKind = "admin_notice"
	IntentAffiliateCredit IntentKind = "affiliate_credit"
)

// Intent is one notification request handed to the collaborator.
type Intent struct {
	Kind    IntentKind `json:"kind"`
	OrderID string     `json:"orderId"`
	Event   string     `json:"event"`  // canonical event kind that triggered it
	Status  string     `json:"status"` // resulting order status
}

// Notifier accepts intents. Implementations must not block dispatch.
type Notifier interface {
	Notify(ctx context.Context, intent Intent)
}

// LogNotifier records intents through the structured logger; the default
// collaborator when no mailer is wired.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, intent Intent) {
	logger.Info("notification intent", logger.LogContext{
		OrderID: intent.OrderID,
		Fields: map[string]any{
			"kind":   string(intent.Kind),
			"event":  intent.Event,
			"status": intent.Status,
		},
	})
}

// CollectNotifier gathers intents for tests.
type CollectNotifier struct {
	Intents []Intent
}

func (c *CollectNotifier) Notify(_ context.Context, intent Intent) {
	c.Intents = append(c.Intents, intent)
}
