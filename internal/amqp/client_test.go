package amqp

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ledgercache/internal/core"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},  // capped at 30s
		{10, 30 * time.Second}, // capped at 30s
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			result := exponentialBackoff(tt.attempt)
			if result != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, result, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{name: "nil error", err: nil, expected: false},
		{name: "connection error", err: errors.New("connection refused"), expected: true},
		{name: "closed connection error", err: errors.New("connection closed"), expected: true},
		{name: "EOF error", err: errors.New("unexpected EOF"), expected: true},
		{name: "broken pipe error", err: errors.New("broken pipe"), expected: true},
		{name: "amqp closed", err: fmt.Errorf("start consuming: %w", amqp091.ErrClosed), expected: true},
		{name: "other error", err: errors.New("some other error"), expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := isConnectionError(tt.err); result != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, result, tt.expected)
			}
		})
	}
}

func TestInvalidationMessageFromJSON(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		scope   InvalidationScope
		wantErr bool
	}{
		{name: "day", body: `{"scope":"day","day":"2024-03-05"}`, scope: ScopeDay},
		{name: "all", body: `{"scope":"all"}`, scope: ScopeAll},
		{name: "day without date", body: `{"scope":"day"}`, wantErr: true},
		{name: "bad date", body: `{"scope":"day","day":"05/03/2024"}`, wantErr: true},
		{name: "unknown scope", body: `{"scope":"month"}`, wantErr: true},
		{name: "not json", body: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := InvalidationMessageFromJSON([]byte(tt.body))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if msg.Scope != tt.scope {
				t.Fatalf("expected scope %s, got %s", tt.scope, msg.Scope)
			}
		})
	}
}

func TestNewDayInvalidation(t *testing.T) {
	key := core.DayKey{Year: 2024, Month: time.March, Day: 5}
	body, err := NewDayInvalidation(key).ToJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	msg, err := InvalidationMessageFromJSON(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, err := msg.DayKey()
	if err != nil || got != key {
		t.Fatalf("expected %v, got %v (err=%v)", key, got, err)
	}

	if _, err := NewFullInvalidation().DayKey(); err == nil {
		t.Fatal("a full invalidation has no day")
	}
}

func TestQueueFor(t *testing.T) {
	tests := []struct {
		name        string
		configured  string
		want        queueSpec
		perInstance bool
	}{
		{
			name:        "unset name gives each instance its own queue",
			configured:  "",
			want:        queueSpec{autoDelete: true, exclusive: true},
			perInstance: true,
		},
		{
			name:       "configured name is a durable shared queue",
			configured: "cache_invalidations",
			want:       queueSpec{name: "cache_invalidations", durable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := queueFor(tt.configured)
			if got != tt.want {
				t.Fatalf("queueFor(%q) = %+v, want %+v", tt.configured, got, tt.want)
			}
			if got.perInstance() != tt.perInstance {
				t.Fatalf("perInstance() = %v, want %v", got.perInstance(), tt.perInstance)
			}
		})
	}
}

func TestPublisherRefusesToConsume(t *testing.T) {
	c := &Client{exchangeName: "ledger"}
	err := c.ConsumeInvalidations(context.Background(), func(context.Context, *InvalidationMessage) error { return nil })
	if err == nil {
		t.Fatal("expected a publish-only client to refuse consuming")
	}
}
