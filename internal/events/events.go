package events

import (
	"context"
	"sync"

	"creditledger/internal/models"
)

// TransactionReversed is emitted after a reversal is freshly created. An
// idempotent replay never emits.
type TransactionReversed struct {
	LedgerUUID  string             `json:"ledger_uuid"`
	Transaction models.Transaction `json:"transaction"`
	Reversal    models.Reversal    `json:"reversal"`
}

type ReversalListener func(ctx context.Context, event TransactionReversed)

// Notifier dispatches reversal events synchronously on the caller's
// goroutine to every registered listener, in registration order.
type Notifier struct {
	mu        sync.RWMutex
	listeners []ReversalListener
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

func (n *Notifier) Subscribe(listener ReversalListener) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, listener)
}

func (n *Notifier) Publish(ctx context.Context, event TransactionReversed) {
	n.mu.RLock()
	listeners := make([]ReversalListener, len(n.listeners))
	copy(listeners, n.listeners)
	n.mu.RUnlock()
	for _, listener := range listeners {
		listener(ctx, event)
	}
}
