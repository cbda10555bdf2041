package fanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/AshkanYarmoradi/go-stoat"
)

func TestHeaders(t *testing.T) {
	e := stoat.Event{
		ID:             "evt-1",
		AggregateID:    "user-1",
		AggregateType:  "User",
		Type:           "GiftPurchased",
		Version:        3,
		GlobalPosition: 42,
		Timestamp:      time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		Metadata:       stoat.Metadata{CorrelationID: "corr-1"},
	}

	assert.Equal(t, map[string]string{
		HeaderEventID:        "evt-1",
		HeaderEventType:      "GiftPurchased",
		HeaderAggregateID:    "user-1",
		HeaderAggregateType:  "User",
		HeaderVersion:        "3",
		HeaderGlobalPosition: "42",
		HeaderTimestamp:      "2024-01-01T12:00:00Z",
		HeaderCorrelationID:  "corr-1",
	}, Headers(e))
}

func TestStaticTopic(t *testing.T) {
	assert.Equal(t, "users", StaticTopic("users")(stoat.Event{Type: "X"}))
}
