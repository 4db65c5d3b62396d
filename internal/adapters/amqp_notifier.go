package adapters

import (
	"context"

	"paytrack/internal/amqp"
	"paytrack/internal/core"
)

// OccurrencePublisher is the part of amqp.Client the notifier needs.
type OccurrencePublisher interface {
	PublishOccurrencesGenerated(ctx context.Context, queue string, msg *amqp.OccurrencesGeneratedMessage) error
}

// AMQPNotifier adapts the AMQP client to services.Notifier so that generated
// occurrences reach the occurrence-sync worker.
type AMQPNotifier struct {
	publisher OccurrencePublisher
	queue     string
}

func NewAMQPNotifier(publisher OccurrencePublisher, queue string) *AMQPNotifier {
	return &AMQPNotifier{
		publisher: publisher,
		queue:     queue,
	}
}

// OccurrencesGenerated implements services.Notifier
func (n *AMQPNotifier) OccurrencesGenerated(ctx context.Context, userID, definitionID string, rows []core.Occurrence) error {
	if len(rows) == 0 {
		return nil
	}
	return n.publisher.PublishOccurrencesGenerated(ctx, n.queue, amqp.NewOccurrencesGeneratedMessage(userID, definitionID, rows))
}
