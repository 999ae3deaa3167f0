package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"ledgercache/internal/core"
)

// InvalidationScope tells consumers how much of their cache to drop.
type InvalidationScope string

const (
	ScopeDay InvalidationScope = "day"
	ScopeAll InvalidationScope = "all"
)

// InvalidationMessage announces a ledger change to every cache instance.
// Day is set only for ScopeDay, formatted as core.DayLayout.
type InvalidationMessage struct {
	Scope     InvalidationScope `json:"scope"`
	Day       string            `json:"day,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// NewDayInvalidation creates a message asking consumers to refresh one day
func NewDayInvalidation(day core.DayKey) *InvalidationMessage {
	return &InvalidationMessage{
		Scope:     ScopeDay,
		Day:       day.String(),
		Timestamp: time.Now(),
	}
}

// NewFullInvalidation creates a message asking consumers to drop everything
func NewFullInvalidation() *InvalidationMessage {
	return &InvalidationMessage{
		Scope:     ScopeAll,
		Timestamp: time.Now(),
	}
}

// DayKey parses the day of a ScopeDay message
func (m *InvalidationMessage) DayKey() (core.DayKey, error) {
	if m.Scope != ScopeDay {
		return core.DayKey{}, fmt.Errorf("message scope %q has no day", m.Scope)
	}
	return core.ParseDayKey(m.Day)
}

// ToJSON converts the message to JSON bytes
func (m *InvalidationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// InvalidationMessageFromJSON decodes and validates a message
func InvalidationMessageFromJSON(data []byte) (*InvalidationMessage, error) {
	var msg InvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Scope {
	case ScopeAll:
	case ScopeDay:
		if _, err := msg.DayKey(); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown invalidation scope %q", msg.Scope)
	}
	return &msg, nil
}
