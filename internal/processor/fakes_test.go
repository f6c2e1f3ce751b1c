package processor

import (
	"context"
	"sync"

	"billing-service/internal/reconcile"
)

// lockedEngine and lockedNotifier are safe for use by several workers.
type lockedEngine struct {
	mu    sync.Mutex
	calls int
}

func (l *lockedEngine) ReconcileOnce(ctx context.Context, ev reconcile.Event) (reconcile.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return reconcile.Outcome{GatewayReference: ev.GatewayReference}, nil
}

type lockedNotifier struct {
	mu   sync.Mutex
	sent int
}

func (l *lockedNotifier) Reconciled(ctx context.Context, out reconcile.Outcome, source string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sent++
	return nil
}
