package eventbus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/tradeforge/boxbot/pkg/engine"
	"github.com/tradeforge/boxbot/pkg/types"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	at := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	env := Envelope{
		EventType:   "position_opened",
		Source:      "boxbot",
		PublishedAt: at,
		Event: engine.Event{
			Type: engine.EventPositionOpened,
			Time: at,
			Position: &types.Position{
				ID:         "abc",
				Direction:  types.Buy,
				EntryPrice: 25415,
				StopLoss:   25360,
				TakeProfit: 25525,
				Size:       3.63,
				State:      types.Open,
				OpenedAt:   at,
			},
		},
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := UnmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope: %v", err)
	}
	if got.EventType != "position_opened" || got.Source != "boxbot" {
		t.Errorf("envelope = %+v", got)
	}
	if got.Event.Position == nil || got.Event.Position.ID != "abc" {
		t.Errorf("position not round-tripped: %+v", got.Event.Position)
	}
	if got.Event.Position.EntryPrice != 25415 {
		t.Errorf("EntryPrice = %f, want 25415", got.Event.Position.EntryPrice)
	}
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalEnvelope([]byte("not json")); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}

func TestChannelFor(t *testing.T) {
	b := &Bus{channelPrefix: "boxbot"}
	if got := b.channelFor("box_formed"); got != "boxbot:box_formed" {
		t.Errorf("channelFor = %q, want boxbot:box_formed", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("0123456789abc", 10); got != "0123456789..." {
		t.Errorf("truncate = %q", got)
	}
}
