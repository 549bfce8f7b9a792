package notification

import (
	"context"
	"log/slog"
)

const (
	// KindPaymentReceived tells a payee that funds arrived.
	KindPaymentReceived = "payment_received"
	// KindPaymentRequestCreated tells a target someone is asking them to pay.
	KindPaymentRequestCreated = "payment_request_created"
	// KindPaymentRequestAccepted tells a requester their request was paid.
	KindPaymentRequestAccepted = "payment_request_accepted"
	// KindPaymentRequestRejected tells a requester their request was declined.
	KindPaymentRequestRejected = "payment_request_rejected"
)

// Message describes a notification payload. From and To are account ids;
// Destination is the delivery address (mobile number) when known.
type Message struct {
	Kind        string `json:"kind"`
	From        string `json:"from,omitempty"`
	To          string `json:"to"`
	Destination string `json:"destination,omitempty"`
	Amount      int64  `json:"amount,omitempty"`
	Reference   string `json:"reference,omitempty"`
	Body        string `json:"body"`
}

// Notifier delivers notifications to downstream systems. Callers on the money
// path must go through a Dispatcher so delivery never blocks or fails a
// committed operation.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger. It is the
// default when no broker is configured.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		"kind", message.Kind,
		"from", message.From,
		"to", message.To,
		"destination", message.Destination,
		"amount", message.Amount,
		"body", message.Body)
	return nil
}
