package realtime

import (
	"encoding/json"
	"testing"
)

func TestConnectivityNotifiesOnChangeOnly(t *testing.T) {
	c := NewConnectivity(true)
	var got []bool
	stop := c.Watch(func(v bool) { got = append(got, v) })

	c.Set(true)
	c.Set(false)
	c.Set(false)
	c.Set(true)
	stop()
	stop()
	c.Set(false)

	if len(got) != 2 || got[0] != false || got[1] != true {
		t.Fatalf("notifications = %v", got)
	}
	if c.Connected() {
		t.Fatalf("Connected() = true after last Set(false)")
	}
}

func TestLocalBusDeliversUntilUnsubscribed(t *testing.T) {
	bus := NewLocalBus()
	var received []string
	sub, err := bus.Subscribe(ChatSubject("c1"), func(data []byte) {
		var v string
		_ = json.Unmarshal(data, &v)
		received = append(received, v)
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	_ = bus.Publish(ChatSubject("c1"), "a")
	_ = bus.Publish(ChatSubject("c2"), "other")
	_ = sub.Unsubscribe()
	_ = bus.Publish(ChatSubject("c1"), "b")

	if len(received) != 1 || received[0] != "a" {
		t.Fatalf("received = %v", received)
	}
}
