// Package status turns connectivity changes into the status line shown to
// the operator.
package status

import (
	"sync"

	"github.com/1ureka/peerlink/internal/session"
)

// Status is one user-facing status signal.
type Status struct {
	Label     string
	Connected bool
}

// table maps the connectivity states worth showing. States missing here
// (new, closed) keep whatever was shown last.
var table = map[session.ConnectionState]Status{
	session.ConnectionStateChecking:     {Label: "Connecting…", Connected: false},
	session.ConnectionStateConnected:    {Label: "Connected", Connected: true},
	session.ConnectionStateDisconnected: {Label: "Disconnected", Connected: false},
	session.ConnectionStateFailed:       {Label: "Connection failed", Connected: false},
}

// Lookup returns the status for s and whether s is mapped at all.
func Lookup(s session.ConnectionState) (Status, bool) {
	st, ok := table[s]
	return st, ok
}

// Source is anything that reports connectivity changes, typically a
// *session.Manager.
type Source interface {
	OnConnectionStateChange(fn func(session.ConnectionState)) (unsubscribe func())
}

// Observer maps connectivity states to statuses and hands them to emit.
type Observer struct {
	emit func(Status)

	mu   sync.Mutex
	last Status
	seen bool
}

// New returns an Observer that calls emit for every mapped state. emit is
// called with the observer's lock held, so statuses arrive in order.
func New(emit func(Status)) *Observer {
	return &Observer{emit: emit}
}

// Attach subscribes the observer to src. The returned func detaches it.
func (o *Observer) Attach(src Source) (detach func()) {
	return src.OnConnectionStateChange(o.Observe)
}

// Observe feeds one connectivity state through the table.
func (o *Observer) Observe(s session.ConnectionState) {
	st, ok := Lookup(s)
	if !ok {
		return
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.last = st
	o.seen = true
	if o.emit != nil {
		o.emit(st)
	}
}

// Last returns the most recent status, and false if none was emitted yet.
func (o *Observer) Last() (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last, o.seen
}
