package notify

import (
	"context"

	"github.com/paperleaf/bookstore/internal/domain/order"
)

var _ order.EventPublisher = Noop{}

// Noop discards all events. Used when no broker is configured.
type Noop struct{}

func (Noop) OrderCreated(context.Context, *order.Order) {}
func (Noop) OrderUpdated(context.Context, *order.Order) {}
func (Noop) OrderDeleted(context.Context, string)       {}
