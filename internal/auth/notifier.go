package auth

import "sync"

// EventType is an auth state change.
type EventType string

const (
	SignedIn  EventType = "SIGNED_IN"
	SignedOut EventType = "SIGNED_OUT"
)

// Event is delivered to every subscriber of a device.
type Event struct {
	Type        EventType
	Credentials Credentials
}

// Notifier fans auth state changes out to the sessions of a device.
//
// The OAuth callback runs in its own request, long after the page that
// started the redirect bootstrapped. Publishing here is how that page's
// session learns it has been signed in.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func(Event)
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[int]func(Event))}
}

// Subscribe registers fn for events on device and returns a function that
// removes the subscription.
func (n *Notifier) Subscribe(device string, fn func(Event)) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	id := n.nextID
	if n.subs[device] == nil {
		n.subs[device] = make(map[int]func(Event))
	}
	n.subs[device][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[device], id)
		if len(n.subs[device]) == 0 {
			delete(n.subs, device)
		}
	}
}

// Publish calls every subscriber of device. Callbacks run synchronously,
// outside the lock, so they may subscribe or unsubscribe.
func (n *Notifier) Publish(device string, ev Event) {
	n.mu.Lock()
	fns := make([]func(Event), 0, len(n.subs[device]))
	for _, fn := range n.subs[device] {
		fns = append(fns, fn)
	}
	n.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}
