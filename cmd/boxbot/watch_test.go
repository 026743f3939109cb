package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tradeforge/boxbot/pkg/engine"
	"github.com/tradeforge/boxbot/pkg/eventbus"
)

func TestWatchEventTypesDefaultsToAll(t *testing.T) {
	got := watchEventTypes(nil)
	want := map[string]bool{
		string(engine.EventBoxFormed):        true,
		string(engine.EventBoxInvalidated):   true,
		string(engine.EventBreakoutRejected): true,
		string(engine.EventPositionOpened):   true,
		string(engine.EventPositionClosed):   true,
		string(engine.EventOrderFailed):      true,
	}
	if len(got) != len(want) {
		t.Fatalf("watchEventTypes(nil) = %v, want all %d event types", got, len(want))
	}
	for _, et := range got {
		if !want[et] {
			t.Errorf("unexpected event type %q", et)
		}
	}
}

func TestWatchEventTypesHonoursSelection(t *testing.T) {
	got := watchEventTypes([]string{"position_closed"})
	if len(got) != 1 || got[0] != "position_closed" {
		t.Fatalf("watchEventTypes = %v, want [position_closed]", got)
	}
}

func TestEnvelopePrinterWritesJSONLine(t *testing.T) {
	var buf bytes.Buffer
	p := &envelopePrinter{out: &buf}

	env := &eventbus.Envelope{
		EventType:   "box_formed",
		Source:      "boxbot",
		PublishedAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Event:       engine.Event{Type: engine.EventBoxFormed},
	}
	if err := p.handle(context.Background(), env); err != nil {
		t.Fatalf("handle: %v", err)
	}

	var decoded eventbus.Envelope
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not a JSON line: %v", err)
	}
	if decoded.EventType != "box_formed" || decoded.Source != "boxbot" {
		t.Errorf("decoded envelope = %+v", decoded)
	}
}
