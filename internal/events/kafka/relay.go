package kafka

import (
	"context"
	"encoding/json"
	"log"

	"github.com/segmentio/kafka-go"

	"creditledger/internal/events"
)

const reversalTopic = "ledger.transaction.reversed"

// Relay forwards reversal events to kafka for out-of-process collaborators
// (unenrollment workflows and the like).
type Relay struct {
	writer *kafka.Writer
}

func NewRelay(brokers []string) *Relay {
	return &Relay{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    reversalTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (r *Relay) Close() error {
	return r.writer.Close()
}

// Notify publishes the event keyed by ledger, so consumers see one ledger's
// reversals in order. Failures are logged, not returned: a relay outage must
// never fail the reversal that already committed.
func (r *Relay) Notify(ctx context.Context, event events.TransactionReversed) {
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("kafka relay: marshal reversal %s failed: %v", event.Reversal.UUID, err)
		return
	}
	err = r.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.LedgerUUID),
		Value: payload,
	})
	if err != nil {
		log.Printf("kafka relay: publish reversal %s failed: %v", event.Reversal.UUID, err)
	}
}
