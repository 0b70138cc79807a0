// Package stream provides the incremental text-delivery primitive used to
// surface model output as it is generated.
//
// A Text is written by exactly one producer (the session controller) and
// observed by any number of consumers. Consumers see a monotonically
// growing value until Done, after which the value is final and immutable.
package stream

import "sync"

// Text is a single-producer incremental text value.
//
// The producer calls Update zero or more times followed by exactly one
// Done. Calling Update or Done after Done is a usage error and panics, the
// same way closing a closed channel does.
type Text struct {
	mu      sync.Mutex
	value   []byte
	done    bool
	changed chan struct{}
}

// NewText creates an empty, open text stream.
func NewText() *Text {
	return &Text{changed: make(chan struct{})}
}

// Update appends delta to the buffered value and wakes all waiting
// consumers. Panics if the stream is already done.
func (t *Text) Update(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		panic("stream: Update after Done")
	}
	t.value = append(t.value, delta...)
	close(t.changed)
	t.changed = make(chan struct{})
}

// Done marks the stream permanently closed and wakes all waiting
// consumers. Panics if called twice.
func (t *Text) Done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		panic("stream: Done called twice")
	}
	t.done = true
	// Leave the channel closed: consumers arriving after Done wake
	// immediately and observe the final value.
	close(t.changed)
}

// Value returns the current accumulated text and whether the stream is
// done. After Done the returned text never changes.
func (t *Text) Value() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.value), t.done
}

// Changed returns a channel that is closed on the next mutation. After
// Done it is already closed, so late consumers never block. Typical
// consumer loop:
//
//	for {
//		text, done := t.Value()
//		render(text)
//		if done {
//			break
//		}
//		<-t.Changed()
//	}
func (t *Text) Changed() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}
