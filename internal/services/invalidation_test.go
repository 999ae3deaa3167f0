package services

import (
	"context"
	"testing"

	"ledgercache/internal/amqp"
	"ledgercache/internal/core"
)

func TestInvalidationHandler(t *testing.T) {
	reader := newFakeLedger()
	c := startedCache(t, reader)
	handle := InvalidationHandler(c)
	ctx := context.Background()

	c.PreloadMonth(march(1))
	flushCache(t, c)

	reader.set(marchKey(5), core.Expense{Description: "remote"})
	if err := handle(ctx, amqp.NewDayInvalidation(marchKey(5))); err != nil {
		t.Fatalf("day invalidation: %v", err)
	}
	got, ok := c.Expenses(march(5))
	if !ok || len(got) != 1 || got[0].Description != "remote" {
		t.Fatalf("expected remote change applied, got %+v ok=%v", got, ok)
	}
	if n := c.Stats().Tables.BalanceDays; n != 0 {
		t.Fatalf("expected balances dropped, %d left", n)
	}

	if err := handle(ctx, amqp.NewFullInvalidation()); err != nil {
		t.Fatalf("full invalidation: %v", err)
	}
	if stats := c.Stats().Tables; stats.ExpenseDays != 0 || stats.BalanceDays != 0 {
		t.Fatalf("expected empty tables, got %+v", stats)
	}
}

func TestInvalidationHandlerRejectsBadMessages(t *testing.T) {
	c := startedCache(t, newFakeLedger())
	handle := InvalidationHandler(c)

	tests := []struct {
		name string
		msg  *amqp.InvalidationMessage
	}{
		{"unknown scope", &amqp.InvalidationMessage{Scope: "month"}},
		{"day without date", &amqp.InvalidationMessage{Scope: amqp.ScopeDay}},
		{"malformed date", &amqp.InvalidationMessage{Scope: amqp.ScopeDay, Day: "05/03/2024"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := handle(context.Background(), tt.msg); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}
