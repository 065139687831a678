// Package notifier fans out "panel changed" pings to event-stream listeners.
package notifier

import "sync"

// Notifier broadcasts update signals to all subscribed listeners.
// Listeners receive an empty struct and re-read panel state themselves,
// so a dropped ping only delays a listener until the next one.
type Notifier struct {
	mu        sync.RWMutex
	listeners map[chan struct{}]struct{}
	closed    bool
}

func New() *Notifier {
	return &Notifier{
		listeners: make(map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel that receives pings when state changes.
// The caller must call Unsubscribe when done. After Close the returned
// channel is already closed.
func (n *Notifier) Subscribe() chan struct{} {
	ch := make(chan struct{}, 1)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch
	}
	n.listeners[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a listener channel and closes it.
func (n *Notifier) Unsubscribe(ch chan struct{}) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.listeners[ch]; !ok {
		return
	}
	delete(n.listeners, ch)
	close(ch)
}

// Broadcast pings every listener without blocking.
func (n *Notifier) Broadcast() {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for ch := range n.listeners {
		select {
		case ch <- struct{}{}:
		default:
			// already has a pending ping
		}
	}
}

// Close closes every listener channel; later subscribers get a closed channel.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for ch := range n.listeners {
		delete(n.listeners, ch)
		close(ch)
	}
}

// Len reports the number of active listeners.
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.listeners)
}
