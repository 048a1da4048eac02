package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/deadlinebot/internal/chat"
)

// DeliveryMetrics records per-transport delivery outcomes.
type DeliveryMetrics interface {
	RecordDelivery(transport string, ok bool)
}

type namedSender struct {
	name   string
	sender chat.Sender
}

// Fanout delivers each message over every configured transport. Delivery
// succeeds if any transport accepted the message.
type Fanout struct {
	senders []namedSender
	metrics DeliveryMetrics
}

// NewFanout creates an empty fanout. metrics may be nil.
func NewFanout(metrics DeliveryMetrics) *Fanout {
	return &Fanout{metrics: metrics}
}

// Add registers a transport. Add is not safe to call concurrently with Send.
func (f *Fanout) Add(name string, s chat.Sender) {
	f.senders = append(f.senders, namedSender{name: name, sender: s})
}

// Send implements chat.Sender.
func (f *Fanout) Send(ctx context.Context, msg chat.Outbound) error {
	if len(f.senders) == 0 {
		return errors.New("no transports configured")
	}

	var errs []error
	ok := false
	for _, ns := range f.senders {
		err := ns.sender.Send(ctx, msg)
		if f.metrics != nil {
			f.metrics.RecordDelivery(ns.name, err == nil)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ns.name, err))
			continue
		}
		ok = true
	}
	if ok {
		return nil
	}
	return errors.Join(errs...)
}
