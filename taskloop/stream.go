package taskloop

import "reflect"

// Stream is a lazy cursor over events of type T observed on one task.
// Creating a stream buffers nothing retroactively: only events emitted after
// the Events call are seen. Multiple streams over the same task and type
// share the underlying cursor chain; each advances independently.
type Stream[T any] struct {
	at   *eventTail
	pred func(T) bool
}

// Events opens a stream of T payloads on t, covering events emitted by t and
// by its descendants. On a task that already reached a terminal state the
// stream reports ErrStreamDone immediately.
func Events[T any](t *Task) *Stream[T] {
	return EventsWhere[T](t, nil)
}

// EventsWhere opens a stream that skips payloads for which pred is false.
func EventsWhere[T any](t *Task, pred func(T) bool) *Stream[T] {
	key := keyOf[T]()
	if t.cursorTails == nil {
		t.cursorTails = map[reflect.Type]*eventTail{}
	}
	tail, ok := t.cursorTails[key]
	if !ok {
		tail = &eventTail{sig: NewSignal()}
		if t.state.Terminal() {
			tail.sig.Resolve(ErrStreamDone)
		}
		t.cursorTails[key] = tail
	}
	return &Stream[T]{at: tail, pred: pred}
}

// Next returns the next event, suspending the consuming task until one is
// available. It reports ErrStreamDone once the stream's task reached a
// terminal state and the remaining buffered events were drained, and the
// consumer's own terminal error when the consumer aborts first.
func (s *Stream[T]) Next(consumer *Task) (T, *Task, error) {
	var zero T
	for {
		cur := s.at
		if !cur.sig.done {
			if err := consumer.Await(cur.sig); err != nil {
				return zero, nil, err
			}
		}
		if cur.sig.err != nil {
			return zero, nil, cur.sig.err
		}
		s.at = cur.next
		payload, ok := cur.ev.Payload.(T)
		if !ok {
			continue
		}
		if s.pred != nil && !s.pred(payload) {
			continue
		}
		return payload, cur.ev.Source, nil
	}
}

// Each consumes the stream until it ends, invoking fn per event. It returns
// nil when the stream drained normally, otherwise the first error from fn or
// the consumer's terminal error.
func (s *Stream[T]) Each(consumer *Task, fn func(src *Task, payload T) error) error {
	for {
		payload, src, err := s.Next(consumer)
		if err != nil {
			if err == ErrStreamDone {
				return nil
			}
			return err
		}
		if err := fn(src, payload); err != nil {
			return err
		}
	}
}
