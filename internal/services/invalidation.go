package services

import (
	"context"
	"fmt"

	"ledgercache/internal/amqp"
	"ledgercache/internal/log"
)

// InvalidationHandler applies invalidation messages from other writers to c.
func InvalidationHandler(c *DayCache) amqp.Handler {
	return func(ctx context.Context, msg *amqp.InvalidationMessage) error {
		switch msg.Scope {
		case amqp.ScopeAll:
			c.InvalidateAll()
			return nil
		case amqp.ScopeDay:
			key, err := msg.DayKey()
			if err != nil {
				return err
			}
			c.logger.DebugContext(ctx, "Applying remote invalidation",
				log.NewFields().WithDay(key).WithOperation(log.OpRefresh).ToSlice()...)
			return c.RefreshDay(ctx, c.cal.Day(key))
		default:
			return fmt.Errorf("unknown invalidation scope %q", msg.Scope)
		}
	}
}
