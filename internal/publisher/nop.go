package publisher

import (
	"context"

	"billing-service/internal/reconcile"

	"github.com/sirupsen/logrus"
)

// Nop logs outcomes instead of publishing them. Used when RabbitMQ is disabled.
type Nop struct {
	Log logrus.FieldLogger
}

func (n Nop) Reconciled(ctx context.Context, out reconcile.Outcome, source string) error {
	if n.Log != nil && !out.Duplicate {
		n.Log.WithFields(logrus.Fields{
			"gateway_reference": out.GatewayReference,
			"source":            source,
		}).Debug("notification publishing disabled")
	}
	return nil
}
