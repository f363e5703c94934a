// Package progress delivers course generation progress events.
package progress

import "coursegen/pkg/model"

// Sink receives progress events. Emit must not block for long; it is called
// from the generation goroutine.
type Sink interface {
	Emit(ev model.ProgressEvent)
}

// Func adapts a function to a Sink.
type Func func(ev model.ProgressEvent)

func (f Func) Emit(ev model.ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Emit(ev model.ProgressEvent) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// Discard drops every event.
var Discard Sink = Func(nil)
