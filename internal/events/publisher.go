package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/peershare/booking/pkg/booking"
)

const publishTimeout = 5 * time.Second

// Publisher emits booking operations to an AMQP exchange. It implements
// booking.OperationLogger; broker failures degrade to log warnings so the
// engine never blocks on the broker.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *zap.Logger
}

// operationMessage is the published wire format.
type operationMessage struct {
	Operation   string `json:"operation"`
	AccountID   string `json:"account_id,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	RentalID    string `json:"rental_id,omitempty"`
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	EmittedUnix int64  `json:"emitted_unix_utc"`
}

// New dials the broker and declares a durable topic exchange.
func New(url string, exchange string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("amqp exchange declare: %w", err)
	}
	return &Publisher{conn: conn, channel: channel, exchange: exchange, logger: logger}, nil
}

// LogOperation publishes one operation record; the routing key is the
// operation name.
func (publisher *Publisher) LogOperation(ctx context.Context, entry booking.OperationLog) {
	message := operationMessage{
		Operation:   entry.Operation,
		AccountID:   entry.AccountID,
		ItemID:      entry.ItemID,
		RentalID:    entry.RentalID,
		AmountCents: entry.Amount.Int64(),
		Status:      entry.Status,
		EmittedUnix: time.Now().UTC().Unix(),
	}
	if entry.Error != nil {
		message.Error = entry.Error.Error()
	}
	body, err := json.Marshal(message)
	if err != nil {
		publisher.logger.Warn("operation event encode failed", zap.Error(err))
		return
	}
	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	err = publisher.channel.PublishWithContext(publishCtx, publisher.exchange, entry.Operation, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		publisher.logger.Warn("operation event publish failed",
			zap.String("operation", entry.Operation),
			zap.Error(err))
	}
}

// Close releases the channel and connection.
func (publisher *Publisher) Close() error {
	if err := publisher.channel.Close(); err != nil {
		_ = publisher.conn.Close()
		return err
	}
	return publisher.conn.Close()
}
