package auth

import "testing"

func TestNotifier_PublishToDevice(t *testing.T) {
	n := NewNotifier()

	var gotA, gotB []EventType
	n.Subscribe("device-a", func(ev Event) { gotA = append(gotA, ev.Type) })
	n.Subscribe("device-b", func(ev Event) { gotB = append(gotB, ev.Type) })

	n.Publish("device-a", Event{Type: SignedIn})

	if len(gotA) != 1 || gotA[0] != SignedIn {
		t.Errorf("device-a got %v, want [SIGNED_IN]", gotA)
	}
	if len(gotB) != 0 {
		t.Errorf("device-b got %v, want nothing", gotB)
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	n := NewNotifier()

	calls := 0
	unsubscribe := n.Subscribe("device-a", func(Event) { calls++ })
	unsubscribe()
	n.Publish("device-a", Event{Type: SignedOut})

	if calls != 0 {
		t.Errorf("callback ran %d times after unsubscribe", calls)
	}
	if len(n.subs) != 0 {
		t.Errorf("subscription map not cleaned up: %v", n.subs)
	}
}

// A callback may unsubscribe itself without deadlocking.
func TestNotifier_UnsubscribeFromCallback(t *testing.T) {
	n := NewNotifier()

	var unsubscribe func()
	calls := 0
	unsubscribe = n.Subscribe("device-a", func(Event) {
		calls++
		unsubscribe()
	})

	n.Publish("device-a", Event{Type: SignedIn})
	n.Publish("device-a", Event{Type: SignedIn})

	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}
