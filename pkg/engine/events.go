package engine

import (
	"time"

	"github.com/tradeforge/boxbot/pkg/types"
)

// EventType identifies an engine event.
type EventType string

const (
	EventBoxFormed        EventType = "box_formed"
	EventBoxInvalidated   EventType = "box_invalidated"
	EventBreakoutRejected EventType = "breakout_rejected"
	EventPositionOpened   EventType = "position_opened"
	EventPositionClosed   EventType = "position_closed"
	EventOrderFailed      EventType = "order_failed"
)

// Box invalidation reasons.
const (
	InvalidateDataGap        = "data_gap"
	InvalidateRangeViolation = "range_violation"
)

// Rejection reason for a boundary break that failed confirmation filters.
const RejectConfirmation = "confirmation_failed"

// Event is one entry in the ordered per-step event sequence the engine emits
// for logging, statistics and notification consumers. Only the fields
// relevant to the event type are populated.
type Event struct {
	Type     EventType               `json:"type"`
	Time     time.Time               `json:"time"`
	Reason   string                  `json:"reason,omitempty"`
	Box      *types.ConsolidationBox `json:"box,omitempty"`
	Signal   *types.BreakoutSignal   `json:"signal,omitempty"`
	Intent   *types.TradeIntent      `json:"intent,omitempty"`
	Position *types.Position         `json:"position,omitempty"`
}
