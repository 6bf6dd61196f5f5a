package notifications

import (
	"context"
	"fmt"
	"log/slog"
)

// Dispatcher renders events and hands them to the delivery collaborator,
// one call per event carrying all of that product's recipients.
type Dispatcher struct {
	renderer *Renderer
	sender   Sender
	logger   *slog.Logger
}

// NewDispatcher creates a dispatcher. A nil sender disables delivery;
// events are then rendered and logged, and Send reports ErrDeliveryDisabled.
func NewDispatcher(renderer *Renderer, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{renderer: renderer, sender: sender, logger: logger}
}

// Send delivers a single event with one call to the sender. Failures wrap
// ErrDelivery; an event that was only logged returns ErrDeliveryDisabled.
func (d *Dispatcher) Send(ctx context.Context, ev Event) error {
	if len(ev.Recipients) == 0 {
		return nil
	}

	payload, err := d.renderer.Render(ev.Category, ev.Product)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	if d.sender == nil {
		d.logger.Info("Notification (email disabled)",
			"url", ev.Product.URL, "category", ev.Category,
			"subject", payload.Subject, "recipients", len(ev.Recipients))
		return ErrDeliveryDisabled
	}

	if err := d.sender.Send(ctx, payload, ev.Recipients); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrDelivery, ev.Category, ev.Product.URL, err)
	}
	d.logger.Info("Notification sent",
		"url", ev.Product.URL, "category", ev.Category, "recipients", len(ev.Recipients))
	return nil
}

// SendWelcome greets a new watcher of a product.
func (d *Dispatcher) SendWelcome(ctx context.Context, s Summary, email string) error {
	return d.Send(ctx, Event{Product: s, Category: CategoryWelcome, Recipients: []string{email}})
}
