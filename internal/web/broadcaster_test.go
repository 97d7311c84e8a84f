package web

import (
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan string) Event {
	t.Helper()
	select {
	case msg := <-ch:
		var evt Event
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("bad event payload %q: %v", msg, err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("no event received")
		return Event{}
	}
}

func TestBroadcaster_DeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1, unsub1 := b.Subscribe()
	ch2, unsub2 := b.Subscribe()
	defer unsub1()
	defer unsub2()

	b.BroadcastEvent("state", map[string]string{"phase": "measuring"})

	for _, ch := range []<-chan string{ch1, ch2} {
		evt := recv(t, ch)
		if evt.Type != "state" {
			t.Errorf("type = %q", evt.Type)
		}
		var data map[string]string
		if err := json.Unmarshal(evt.Data, &data); err != nil {
			t.Fatal(err)
		}
		if data["phase"] != "measuring" {
			t.Errorf("data = %v", data)
		}
	}
}

func TestBroadcaster_LogEvent(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.BroadcastLog("warn", "tile 0-1 capture failed")
	evt := recv(t, ch)
	if evt.Type != "log" || evt.Level != "warn" || evt.Msg != "tile 0-1 capture failed" {
		t.Errorf("event = %+v", evt)
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()

	b.BroadcastLog("info", "after unsubscribe")
	// The channel is closed on unsubscribe; a zero value means no delivery.
	if msg, ok := <-ch; ok {
		t.Errorf("received %q after unsubscribe", msg)
	}
}

func TestBroadcaster_SlowClientDoesNotBlock(t *testing.T) {
	b := NewBroadcaster()
	_, unsub := b.Subscribe() // never drained
	defer unsub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			b.BroadcastLog("info", "spam")
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
}

func TestBroadcastWriter_ForwardsLines(t *testing.T) {
	b := NewBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	w := BroadcastWriter(b)
	if _, err := w.Write([]byte("  homing all nodes\n")); err != nil {
		t.Fatal(err)
	}
	evt := recv(t, ch)
	if evt.Type != "log" || evt.Msg != "homing all nodes" {
		t.Errorf("event = %+v", evt)
	}

	// Blank writes are dropped.
	if _, err := w.Write([]byte("\n")); err != nil {
		t.Fatal(err)
	}
	select {
	case msg := <-ch:
		t.Errorf("blank write produced event %q", msg)
	case <-time.After(50 * time.Millisecond):
	}
}
